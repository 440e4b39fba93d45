package server

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthServiceName is the gRPC health service name reported alongside the
// overall ("") status.
const HealthServiceName = "tenantdesk.v1.API"

const defaultHealthCheckInterval = 10 * time.Second

// HealthServer publishes grpc.health.v1 status derived from a periodic
// database ping.
type HealthServer struct {
	*health.Server
	pinger   Pinger
	interval time.Duration
	logger   *slog.Logger
}

// NewHealthServer returns a HealthServer that starts NOT_SERVING until the
// first successful ping.
func NewHealthServer(pinger Pinger, interval time.Duration, logger *slog.Logger) *HealthServer {
	if pinger == nil {
		panic("pinger is nil")
	}
	if interval <= 0 {
		interval = defaultHealthCheckInterval
	}
	if logger == nil {
		logger = slog.Default()
	}

	hs := &HealthServer{
		Server:   health.NewServer(),
		pinger:   pinger,
		interval: interval,
		logger:   logger,
	}
	hs.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return hs
}

// Run pings until ctx is done, then marks the server NOT_SERVING for good.
func (h *HealthServer) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.Probe(ctx)
	for {
		select {
		case <-ctx.Done():
			h.Shutdown()
			return
		case <-ticker.C:
			h.Probe(ctx)
		}
	}
}

// Probe runs one ping and updates the published status.
func (h *HealthServer) Probe(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	pingCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	status := healthpb.HealthCheckResponse_SERVING
	if err := h.pinger.Ping(pingCtx); err != nil {
		h.logger.Warn("database ping failed", slog.Any("error", err))
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	h.set(status)
	return status
}

func (h *HealthServer) set(status healthpb.HealthCheckResponse_ServingStatus) {
	h.SetServingStatus("", status)
	h.SetServingStatus(HealthServiceName, status)
}
