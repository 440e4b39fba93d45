// Package main is the entry point for the tenantdesk server.
//
// The bootstrap sequence is:
//  1. Load configuration from environment variables.
//  2. Connect to PostgreSQL via pgxpool and apply migrations.
//  3. Build the repository, service and authorizer (casbin policy plus
//     tenant membership).
//  4. Start the HTTP API (:8080) and the gRPC health service (:9090).
//  5. Wait for SIGINT/SIGTERM, then gracefully shut down both servers.
//
// SIGHUP re-reads the casbin policy file without a restart.
// "server api-key create|revoke" manages API keys against the same database
// instead of serving.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/matt-riley/tenantdesk/internal/authz"
	"github.com/matt-riley/tenantdesk/internal/config"
	"github.com/matt-riley/tenantdesk/internal/logging"
	"github.com/matt-riley/tenantdesk/internal/metrics"
	"github.com/matt-riley/tenantdesk/internal/middleware"
	"github.com/matt-riley/tenantdesk/internal/repository"
	"github.com/matt-riley/tenantdesk/internal/server"
	"github.com/matt-riley/tenantdesk/internal/service"
	"github.com/matt-riley/tenantdesk/internal/tracing"
)

const (
	shutdownTimeout       = 10 * time.Second
	httpReadHeaderTimeout = 5 * time.Second
	httpReadTimeout       = 30 * time.Second
	httpIdleTimeout       = 2 * time.Minute
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logging.New(cfg.LogLevel)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	repo := repository.NewPostgresRepository(pool)

	if len(args) > 0 && args[0] == "api-key" {
		return runAPIKeyCommand(ctx, args[1:], repo, os.Stdout)
	}

	if cfg.MigrateOnStart {
		if err := runMigrations(ctx, pool); err != nil {
			return err
		}
	}

	shutdownTracer, err := tracing.Init(ctx, tracing.WithEnvironment(cfg.AppEnv))
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(ctx); err != nil {
			log.Error("tracer shutdown error", "err", err)
		}
	}()

	svc, err := service.New(repo,
		service.WithLogger(log),
		service.WithPageSizes(cfg.DefaultPageSize, cfg.MaxPageSize),
	)
	if err != nil {
		return fmt.Errorf("init service: %w", err)
	}

	permissions, err := authz.NewCasbinResolver(cfg.AuthzPolicyFile)
	if err != nil {
		return fmt.Errorf("load authorization policy: %w", err)
	}
	authorizer := authz.NewAuthorizer(cfg.AuthzPolicy, permissions, authz.NewTenantScopeResolver(repo))
	log.Info("authorization configured", "policy", cfg.AuthzPolicy.String(), "app_env", cfg.AppEnv)

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go watchPolicyReloads(ctx, hup, permissions, log)

	m := metrics.New()
	metrics.RegisterPoolMetrics(m.Registry, pool)

	limiter := middleware.NewRateLimiter(ctx, cfg.AuthRateLimit)
	defer limiter.Stop()
	m.TrackRateLimiter(limiter.Len)

	apiHandler := server.NewHTTPHandler(svc, authorizer,
		server.WithMetrics(m),
		server.WithMaxJSONBodySize(cfg.MaxJSONBodySize),
		server.WithPinger(repo),
	)
	httpHandler := newHTTPHandler(apiHandler, &apiKeyTokenValidator{lookup: repo}, log,
		middleware.WithOnAuthFailure(m.IncAuthFailures),
		middleware.WithRateLimiter(limiter),
	)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           otelhttp.NewHandler(httpHandler, "tenantdesk-http"),
		ReadHeaderTimeout: httpReadHeaderTimeout,
		ReadTimeout:       httpReadTimeout,
		IdleTimeout:       httpIdleTimeout,
	}

	grpcServer := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			middleware.UnaryRequestLoggingInterceptor(log),
			m.UnaryServerInterceptor(),
		),
		grpc.ChainStreamInterceptor(
			middleware.StreamRequestLoggingInterceptor(log),
			m.StreamServerInterceptor(),
		),
	)
	health := server.NewHealthServer(repo, cfg.HealthCheckInterval, log)
	healthpb.RegisterHealthServer(grpcServer, health)
	go health.Run(ctx)

	httpListener, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen HTTP %s: %w", cfg.HTTPAddr, err)
	}
	defer httpListener.Close()

	grpcListener, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen gRPC %s: %w", cfg.GRPCAddr, err)
	}
	defer grpcListener.Close()

	serveErrCh := make(chan error, 2)
	go func() {
		if err := httpServer.Serve(httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrCh <- fmt.Errorf("serve HTTP: %w", err)
		}
	}()
	go func() {
		if err := grpcServer.Serve(grpcListener); err != nil {
			serveErrCh <- fmt.Errorf("serve gRPC: %w", err)
		}
	}()

	log.Info("server started", "http_addr", cfg.HTTPAddr, "grpc_addr", cfg.GRPCAddr)

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-serveErrCh:
	}
	stop()

	log.Info("server shutting down")

	httpShutdownCtx, cancelHTTP := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelHTTP()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		if serveErr != nil {
			return serveErr
		}
		return fmt.Errorf("shutdown HTTP: %w", err)
	}

	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(shutdownTimeout):
		grpcServer.Stop()
	}

	return serveErr
}

// newHTTPHandler wraps the API in request logging and principal resolution.
// Logging sits outermost so its completion line sees the resolved caller.
func newHTTPHandler(apiHandler http.Handler, tokenValidator middleware.TokenValidator, log *slog.Logger, opts ...middleware.AuthOption) http.Handler {
	withPrincipal := middleware.HTTPPrincipalMiddleware(tokenValidator, opts...)(apiHandler)
	return middleware.HTTPRequestLogging(log)(withPrincipal)
}

type apiKeyLookup interface {
	ValidateAPIKey(ctx context.Context, id string) (string, int64, error)
	GetPrincipal(ctx context.Context, userID int64) (repository.PrincipalRecord, error)
}

// apiKeyTokenValidator resolves "keyID.secret" bearer tokens to the principal
// of the user that owns the key.
type apiKeyTokenValidator struct {
	lookup apiKeyLookup
}

func (v *apiKeyTokenValidator) ValidateToken(ctx context.Context, token string) (authz.Principal, error) {
	if v == nil || v.lookup == nil {
		return authz.Principal{}, errors.New("api key validator is nil")
	}

	keyID, rawSecret, ok := middleware.SplitAPIKeyToken(token)
	if !ok {
		return authz.Principal{}, fmt.Errorf("%w: malformed api key", middleware.ErrInvalidToken)
	}

	keyHash, userID, err := v.lookup.ValidateAPIKey(ctx, keyID)
	if errors.Is(err, repository.ErrNotFound) {
		return authz.Principal{}, fmt.Errorf("%w: unknown or revoked api key", middleware.ErrInvalidToken)
	}
	if err != nil {
		return authz.Principal{}, fmt.Errorf("lookup key hash: %w", err)
	}
	if !middleware.APIKeyMatchesHash(keyHash, rawSecret) {
		return authz.Principal{}, fmt.Errorf("%w: secret mismatch", middleware.ErrInvalidToken)
	}

	rec, err := v.lookup.GetPrincipal(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return authz.Principal{}, fmt.Errorf("%w: key owner no longer active", middleware.ErrInvalidToken)
	}
	if err != nil {
		return authz.Principal{}, fmt.Errorf("lookup principal: %w", err)
	}
	return authz.Principal{UserID: rec.UserID, TenantID: rec.TenantID, RoleSlug: rec.RoleSlug}, nil
}
