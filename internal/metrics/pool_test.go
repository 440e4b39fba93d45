package metrics

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/jackc/pgx/v5/pgxpool"
)

func newIdlePool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	// Connections are lazy, so a pool that never dials still reports stats.
	pool, err := pgxpool.New(context.Background(), "")
	if err != nil {
		t.Skipf("unable to create pgxpool: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

func TestRegisterPoolMetrics(t *testing.T) {
	pool := newIdlePool(t)

	reg := prometheus.NewPedanticRegistry()
	RegisterPoolMetrics(reg, pool)

	expected := fmt.Sprintf(`
# HELP tenantdesk_db_pool_acquired Number of currently acquired database connections.
# TYPE tenantdesk_db_pool_acquired gauge
tenantdesk_db_pool_acquired 0
# HELP tenantdesk_db_pool_empty_acquires_total Acquires that had to wait because the pool was empty.
# TYPE tenantdesk_db_pool_empty_acquires_total counter
tenantdesk_db_pool_empty_acquires_total 0
# HELP tenantdesk_db_pool_idle Number of idle database connections in the pool.
# TYPE tenantdesk_db_pool_idle gauge
tenantdesk_db_pool_idle 0
# HELP tenantdesk_db_pool_max Maximum number of database connections allowed in the pool.
# TYPE tenantdesk_db_pool_max gauge
tenantdesk_db_pool_max %d
# HELP tenantdesk_db_pool_total Total number of database connections in the pool.
# TYPE tenantdesk_db_pool_total gauge
tenantdesk_db_pool_total 0
`, pool.Stat().MaxConns())

	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"tenantdesk_db_pool_acquired",
		"tenantdesk_db_pool_empty_acquires_total",
		"tenantdesk_db_pool_idle",
		"tenantdesk_db_pool_max",
		"tenantdesk_db_pool_total",
	); err != nil {
		t.Errorf("unexpected metrics output:\n%v", err)
	}
}

func TestRegisterPoolMetrics_FamilyCount(t *testing.T) {
	pool := newIdlePool(t)

	reg := prometheus.NewPedanticRegistry()
	RegisterPoolMetrics(reg, pool)

	for range 2 {
		mfs, err := reg.Gather()
		if err != nil {
			t.Fatalf("gather failed: %v", err)
		}
		if len(mfs) != 6 {
			t.Errorf("expected 6 metric families, got %d", len(mfs))
		}
	}
}
