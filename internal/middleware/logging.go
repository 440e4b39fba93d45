package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"github.com/matt-riley/tenantdesk/internal/authz"
)

// RequestIDHeader carries the request ID in and out of the HTTP API.
const RequestIDHeader = "X-Request-ID"

type logContextKey string

const (
	requestIDKey     logContextKey = "request_id"
	loggerKey        logContextKey = "logger"
	principalSlotKey logContextKey = "principal_slot"
)

// principalSlot lets the principal middleware report the resolved caller back
// to the request logger that wraps it.
type principalSlot struct {
	principal authz.Principal
}

// withPrincipal records p in the request's log slot and returns ctx with a
// logger that carries the caller's IDs.
func withPrincipal(ctx context.Context, p authz.Principal) context.Context {
	if slot, ok := ctx.Value(principalSlotKey).(*principalSlot); ok {
		slot.principal = p
	}
	logger := LoggerFromContext(ctx).With(slog.Int64("user_id", p.UserID), slog.Int64("tenant_id", p.TenantID))
	return context.WithValue(ctx, loggerKey, logger)
}

// RequestIDFromContext retrieves the request ID from the context.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(requestIDKey).(string)
	return id, ok
}

// LoggerFromContext retrieves the request-scoped logger from the context.
// Falls back to slog.Default() if none is set.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

func generateRequestID() string {
	return uuid.NewString()
}

// requestIDFromHeader reuses an inbound ID only when it parses as a UUID, so
// arbitrary client text never reaches the logs as an ID.
func requestIDFromHeader(header string) string {
	if id, err := uuid.Parse(header); err == nil {
		return id.String()
	}
	return generateRequestID()
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.statusCode = http.StatusOK
		rw.written = true
	}
	return rw.ResponseWriter.Write(b)
}

// Unwrap supports http.ResponseController and middleware that unwrap writers.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// HTTPRequestLogging returns middleware that logs each HTTP request with a
// request ID, method, path, status code and duration. The ID is echoed in the
// X-Request-ID response header. Place it outside HTTPPrincipalMiddleware so
// the completion line can carry the resolved user.
func HTTPRequestLogging(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := requestIDFromHeader(r.Header.Get(RequestIDHeader))
			reqLogger := logger.With(slog.String("request_id", reqID))
			w.Header().Set(RequestIDHeader, reqID)

			ctx := context.WithValue(r.Context(), requestIDKey, reqID)
			ctx = context.WithValue(ctx, loggerKey, reqLogger)

			reqLogger.InfoContext(ctx, "request started",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("remote_addr", r.RemoteAddr),
			)

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			slot := &principalSlot{}
			ctx = context.WithValue(ctx, principalSlotKey, slot)
			start := time.Now()
			next.ServeHTTP(wrapped, r.WithContext(ctx))
			duration := time.Since(start)

			attrs := []any{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status_code", wrapped.statusCode),
				slog.Float64("duration_ms", float64(duration.Nanoseconds())/1e6),
			}
			if p := slot.principal; !p.IsZero() {
				attrs = append(attrs, slog.Int64("user_id", p.UserID), slog.Int64("tenant_id", p.TenantID))
			}
			reqLogger.InfoContext(ctx, "request completed", attrs...)
		})
	}
}

// UnaryRequestLoggingInterceptor returns a gRPC unary server interceptor that
// logs each call with a request ID, method, status code and duration. The
// gRPC listener only serves health probes, so calls are logged at debug.
func UnaryRequestLoggingInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx, reqLogger := grpcRequestContext(ctx, logger)
		reqLogger.DebugContext(ctx, "request started", slog.String("method", info.FullMethod))

		start := time.Now()
		resp, err := handler(ctx, req)
		logGRPCCompletion(ctx, reqLogger, "request completed", info.FullMethod, start, err)

		return resp, err
	}
}

// StreamRequestLoggingInterceptor is the streaming counterpart of
// UnaryRequestLoggingInterceptor, used by health Watch calls.
func StreamRequestLoggingInterceptor(logger *slog.Logger) grpc.StreamServerInterceptor {
	if logger == nil {
		logger = slog.Default()
	}
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, reqLogger := grpcRequestContext(ss.Context(), logger)
		reqLogger.DebugContext(ctx, "stream started", slog.String("method", info.FullMethod))

		start := time.Now()
		err := handler(srv, &contextServerStream{ServerStream: ss, ctx: ctx})
		logGRPCCompletion(ctx, reqLogger, "stream completed", info.FullMethod, start, err)

		return err
	}
}

type contextServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *contextServerStream) Context() context.Context {
	return s.ctx
}

func grpcRequestContext(ctx context.Context, logger *slog.Logger) (context.Context, *slog.Logger) {
	reqID := generateRequestID()
	reqLogger := logger.With(slog.String("request_id", reqID))
	ctx = context.WithValue(ctx, requestIDKey, reqID)
	ctx = context.WithValue(ctx, loggerKey, reqLogger)
	return ctx, reqLogger
}

func logGRPCCompletion(ctx context.Context, logger *slog.Logger, msg, method string, start time.Time, err error) {
	logger.DebugContext(ctx, msg,
		slog.String("method", method),
		slog.Int("status_code", int(status.Code(err))),
		slog.Float64("duration_ms", float64(time.Since(start).Nanoseconds())/1e6),
	)
}
