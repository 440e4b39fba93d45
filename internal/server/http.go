package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/matt-riley/tenantdesk/internal/authz"
	"github.com/matt-riley/tenantdesk/internal/i18n"
	"github.com/matt-riley/tenantdesk/internal/metrics"
	"github.com/matt-riley/tenantdesk/internal/middleware"
	"github.com/matt-riley/tenantdesk/internal/repository"
	"github.com/matt-riley/tenantdesk/internal/service"
	"github.com/matt-riley/tenantdesk/internal/validation"
)

const (
	defaultMaxJSONBodyBytes = 1 << 20
	healthCheckTimeout      = 2 * time.Second
)

var (
	errJSONBodyTooLarge = errors.New("json request body too large")
	errJSONNotObject    = errors.New("request body must contain a single JSON object")
)

// Authorizer decides whether the caller may exercise a capability in a tenant.
type Authorizer interface {
	Authorize(ctx context.Context, principal authz.Principal, capability string, tenantID int64) authz.Decision
}

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HTTPServer serves the tenant-scoped resource API. Every resource request
// moves through decode, validate, authorize, execute and respond, stopping
// at the first failure.
type HTTPServer struct {
	service          Service
	authorizer       Authorizer
	metrics          *metrics.Metrics
	pinger           Pinger
	maxJSONBodyBytes int64
}

// HTTPOption configures an HTTPServer.
type HTTPOption func(*HTTPServer)

// WithMetrics records per-route traffic and pipeline outcomes in m and serves
// it on GET /metrics.
func WithMetrics(m *metrics.Metrics) HTTPOption {
	return func(s *HTTPServer) {
		s.metrics = m
	}
}

// WithMaxJSONBodySize caps request bodies at n bytes.
func WithMaxJSONBodySize(n int64) HTTPOption {
	return func(s *HTTPServer) {
		if n > 0 {
			s.maxJSONBodyBytes = n
		}
	}
}

// WithPinger makes GET /healthz report 503 while p fails.
func WithPinger(p Pinger) HTTPOption {
	return func(s *HTTPServer) {
		s.pinger = p
	}
}

type createdResponse struct {
	Message string `json:"message"`
	ID      int64  `json:"id"`
}

type deletedResponse struct {
	Message string `json:"message"`
	Deleted int64  `json:"deleted"`
}

type auditLogResponse struct {
	Data []repository.AuditLogEntry `json:"data"`
}

// NewHTTPHandler builds the API mux. svc and authorizer are required.
func NewHTTPHandler(svc Service, authorizer Authorizer, opts ...HTTPOption) http.Handler {
	if svc == nil {
		panic("service is nil")
	}
	if authorizer == nil {
		panic("authorizer is nil")
	}

	server := &HTTPServer{
		service:          svc,
		authorizer:       authorizer,
		maxJSONBodyBytes: defaultMaxJSONBodyBytes,
	}
	for _, opt := range opts {
		opt(server)
	}

	mux := http.NewServeMux()
	for _, res := range resources() {
		route := "/v1/" + res.name
		server.handle(mux, http.MethodPost, route, server.handleCreate(res))
		server.handle(mux, http.MethodGet, route, server.handleList(res))
		server.handle(mux, http.MethodDelete, route, server.handleDelete(res))
	}
	server.handle(mux, http.MethodGet, "/v1/"+service.ResourceAuditLog, http.HandlerFunc(server.handleListAuditLog))
	mux.HandleFunc("GET /healthz", server.handleHealthz)
	if server.metrics != nil {
		mux.Handle("GET /metrics", server.metrics.Handler())
	}

	return mux
}

func (s *HTTPServer) handle(mux *http.ServeMux, method, route string, h http.Handler) {
	if s.metrics != nil {
		h = s.metrics.InstrumentHandler(route, h)
	}
	mux.Handle(method+" "+route, h)
}

func (s *HTTPServer) handleCreate(res resource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		locale := requestLocale(r)

		payload, err := decodeJSONBody(w, r, s.maxJSONBodyBytes)
		if err != nil {
			writeJSONDecodeError(w, locale, err)
			return
		}
		if !s.validate(w, res.name, authz.ActionCreate, payload, res.createRules, locale) {
			return
		}
		tenantID := int64Of(payload, paramTenantID)
		if !s.authorize(w, r, res.name, authz.ActionCreate, tenantID, locale) {
			return
		}

		newID, err := res.create(r.Context(), s.service, payload)
		if err != nil {
			s.writeServiceError(w, r, res.name, authz.ActionCreate, locale, err)
			return
		}

		s.recordOperation(res.name, authz.ActionCreate, metrics.OutcomeSuccess)
		writeJSON(w, http.StatusCreated, createdResponse{
			Message: i18n.Text(locale, i18n.Created, i18n.Text(locale, res.entity)),
			ID:      newID,
		})
	}
}

func (s *HTTPServer) handleList(res resource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		locale := requestLocale(r)

		payload := queryPayload(r.URL.Query())
		if !s.validate(w, res.name, authz.ActionView, payload, res.listRules, locale) {
			return
		}
		params := res.listParams(payload)
		if !s.authorize(w, r, res.name, authz.ActionView, params.TenantID, locale) {
			return
		}

		page, err := res.list(r.Context(), s.service, params)
		if err != nil {
			s.writeServiceError(w, r, res.name, authz.ActionView, locale, err)
			return
		}

		s.recordOperation(res.name, authz.ActionView, metrics.OutcomeSuccess)
		writeJSON(w, http.StatusOK, page)
	}
}

func (s *HTTPServer) handleDelete(res resource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		locale := requestLocale(r)

		payload, err := decodeJSONBody(w, r, s.maxJSONBodyBytes)
		if err != nil {
			writeJSONDecodeError(w, locale, err)
			return
		}
		if !s.validate(w, res.name, authz.ActionDelete, payload, res.deleteRules, locale) {
			return
		}
		tenantID := int64Of(payload, paramTenantID)
		if !s.authorize(w, r, res.name, authz.ActionDelete, tenantID, locale) {
			return
		}

		ids, _ := payload.IDs(res.idsField)
		deleted, err := res.remove(s.service, r.Context(), tenantID, ids)
		if err != nil {
			s.writeServiceError(w, r, res.name, authz.ActionDelete, locale, err)
			return
		}

		s.recordOperation(res.name, authz.ActionDelete, metrics.OutcomeSuccess)
		writeJSON(w, http.StatusOK, deletedResponse{
			Message: i18n.Text(locale, i18n.Deleted, deleted),
			Deleted: deleted,
		})
	}
}

func (s *HTTPServer) handleListAuditLog(w http.ResponseWriter, r *http.Request) {
	const name = service.ResourceAuditLog
	locale := requestLocale(r)

	payload := queryPayload(r.URL.Query())
	if !s.validate(w, name, authz.ActionView, payload, auditLogRules, locale) {
		return
	}
	tenantID := int64Of(payload, paramTenantID)
	if !s.authorize(w, r, name, authz.ActionView, tenantID, locale) {
		return
	}

	page, pageSize := int(int64Of(payload, paramPage)), int(int64Of(payload, paramPageSize))
	entries, err := s.service.ListAuditLog(r.Context(), tenantID, page, pageSize)
	if err != nil {
		s.writeServiceError(w, r, name, authz.ActionView, locale, err)
		return
	}

	s.recordOperation(name, authz.ActionView, metrics.OutcomeSuccess)
	writeJSON(w, http.StatusOK, auditLogResponse{Data: entries})
}

func (s *HTTPServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if s.pinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()
		if err := s.pinger.Ping(ctx); err != nil {
			middleware.LoggerFromContext(r.Context()).WarnContext(r.Context(), "health check failed", slog.Any("error", err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// validate writes the 400 response and returns false when payload fails rules.
func (s *HTTPServer) validate(w http.ResponseWriter, resource, action string, payload validation.Payload, rules validation.RuleSet, locale i18n.Locale) bool {
	outcome := validation.Evaluate(payload, rules, locale)
	if outcome.Valid {
		return true
	}
	if s.metrics != nil {
		s.metrics.RecordValidationFailure(resource, action)
	}
	writeJSON(w, http.StatusBadRequest, map[string][]string{"error": outcome.Errors})
	return false
}

// authorize writes the 401 response and returns false when the caller may not
// perform action. Every denial reason gets the same response body.
func (s *HTTPServer) authorize(w http.ResponseWriter, r *http.Request, resource, action string, tenantID int64, locale i18n.Locale) bool {
	ctx := r.Context()
	principal, _ := authz.FromContext(ctx)
	capability := authz.Capability(action, resource)

	decision := s.authorizer.Authorize(ctx, principal, capability, tenantID)
	if decision.Allowed {
		return true
	}

	if s.metrics != nil {
		s.metrics.RecordAuthzDenial(resource, string(decision.Reason))
	}
	attrs := []any{
		slog.String("reason", string(decision.Reason)),
		slog.String("capability", capability),
		slog.Int64("tenant_id", tenantID),
		slog.Int64("user_id", principal.UserID),
	}
	if keyID, ok := middleware.APIKeyIDFromContext(ctx); ok {
		attrs = append(attrs, slog.String("api_key_id", keyID))
	}
	if decision.Err != nil {
		attrs = append(attrs, slog.Any("error", decision.Err))
	}
	middleware.LoggerFromContext(ctx).WarnContext(ctx, "authorization denied", attrs...)

	writeJSONError(w, http.StatusUnauthorized, i18n.Text(locale, i18n.Unauthorized))
	return false
}

func (s *HTTPServer) recordOperation(resource, action, outcome string) {
	if s.metrics != nil {
		s.metrics.RecordOperation(resource, action, outcome)
	}
}

func (s *HTTPServer) writeServiceError(w http.ResponseWriter, r *http.Request, resource, action string, locale i18n.Locale, err error) {
	var svcErr *service.Error
	switch {
	case errors.As(err, &svcErr):
		status, outcome := http.StatusBadRequest, metrics.OutcomeInvalid
		switch {
		case errors.Is(svcErr.Kind, service.ErrNotFound):
			status, outcome = http.StatusNotFound, metrics.OutcomeNotFound
		case errors.Is(svcErr.Kind, service.ErrConflict):
			status, outcome = http.StatusConflict, metrics.OutcomeConflict
		}
		s.recordOperation(resource, action, outcome)
		writeJSONError(w, status, i18n.Text(locale, svcErr.Key))
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		s.recordOperation(resource, action, metrics.OutcomeError)
		writeJSONError(w, http.StatusRequestTimeout, i18n.Text(locale, i18n.RequestTimeout))
	default:
		s.recordOperation(resource, action, metrics.OutcomeError)
		middleware.LoggerFromContext(r.Context()).ErrorContext(r.Context(), "request failed",
			slog.String("resource", resource),
			slog.String("action", action),
			slog.Any("error", err),
		)
		writeJSONError(w, http.StatusInternalServerError, i18n.Text(locale, i18n.ServerError))
	}
}

func requestLocale(r *http.Request) i18n.Locale {
	return i18n.FromAcceptLanguage(r.Header.Get("Accept-Language"))
}

// queryPayload keeps the first value of each query parameter.
func queryPayload(query url.Values) validation.Payload {
	payload := make(validation.Payload, len(query))
	for name, values := range query {
		if len(values) > 0 {
			payload[name] = values[0]
		}
	}
	return payload
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSONDecodeError(w http.ResponseWriter, locale i18n.Locale, err error) {
	if errors.Is(err, errJSONBodyTooLarge) {
		writeJSONError(w, http.StatusRequestEntityTooLarge, i18n.Text(locale, i18n.BodyTooLarge))
		return
	}

	writeJSONError(w, http.StatusBadRequest, i18n.Text(locale, i18n.InvalidJSON))
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// decodeJSONBody reads a single JSON object. Numbers stay json.Number so the
// validator sees exactly what the client sent.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, maxBytes int64) (validation.Payload, error) {
	if r.Body == nil {
		return nil, io.EOF
	}

	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBytes))
	decoder.UseNumber()

	var payload validation.Payload
	if err := decoder.Decode(&payload); err != nil {
		return nil, normalizeJSONDecodeError(err)
	}
	if payload == nil {
		return nil, errJSONNotObject
	}

	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return nil, errJSONNotObject
		}
		return nil, normalizeJSONDecodeError(err)
	}

	return payload, nil
}

func normalizeJSONDecodeError(err error) error {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		return errJSONBodyTooLarge
	}
	return err
}
