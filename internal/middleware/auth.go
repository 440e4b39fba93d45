package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/matt-riley/tenantdesk/internal/authz"
	"github.com/matt-riley/tenantdesk/internal/i18n"
)

// ErrInvalidToken marks a credential the caller got wrong: malformed, unknown,
// revoked or not matching its hash. TokenValidator implementations wrap it so
// the middleware can tell bad credentials from failed lookups.
var ErrInvalidToken = errors.New("invalid token")

var (
	errInvalidAuthorizationHeader = fmt.Errorf("%w: invalid authorization header", ErrInvalidToken)
	errUnresolvedPrincipal        = fmt.Errorf("%w: token resolved to no principal", ErrInvalidToken)
)

// TokenValidator resolves a bearer token to the principal that owns it.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (authz.Principal, error)
}

// AuthOption configures optional auth middleware parameters.
type AuthOption func(*authConfig)

type authConfig struct {
	onFailure   func()
	rateLimiter *RateLimiter
}

// WithOnAuthFailure registers a callback invoked on every authentication
// failure (e.g. to increment a Prometheus counter).
func WithOnAuthFailure(fn func()) AuthOption {
	return func(c *authConfig) { c.onFailure = fn }
}

// WithRateLimiter attaches a per-IP rate limiter that throttles repeated
// authentication failures.
func WithRateLimiter(rl *RateLimiter) AuthOption {
	return func(c *authConfig) { c.rateLimiter = rl }
}

// HTTPPrincipalMiddleware attaches the caller's principal to the request
// context. A request without an Authorization header continues anonymously.
// A token rejected with ErrInvalidToken is counted as an auth failure and
// charged to the caller's IP; over the limit the request is refused with 429,
// otherwise it also continues anonymously and the authorizer decides. Any
// other validator error is a failed lookup: it is logged and the request
// continues anonymously without charging the caller.
func HTTPPrincipalMiddleware(validator TokenValidator, opts ...AuthOption) func(http.Handler) http.Handler {
	cfg := authConfig{}
	for _, o := range opts {
		o(&cfg)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if strings.TrimSpace(header) == "" {
				next.ServeHTTP(w, r)
				return
			}

			principal, err := resolvePrincipal(r.Context(), header, validator)
			if err != nil && !errors.Is(err, ErrInvalidToken) {
				LoggerFromContext(r.Context()).Warn("bearer token lookup failed", "error", err)
				next.ServeHTTP(w, r)
				return
			}
			if err != nil {
				if cfg.onFailure != nil {
					cfg.onFailure()
				}
				if cfg.rateLimiter != nil {
					ip := ExtractIP(r.RemoteAddr)
					if !cfg.rateLimiter.RecordFailureAndAllow(ip) {
						writeTooManyRequests(w, r)
						return
					}
				}
				LoggerFromContext(r.Context()).Debug("bearer token rejected", "error", err)
				next.ServeHTTP(w, r)
				return
			}

			ctx := authz.NewContext(withPrincipal(r.Context(), principal), principal)
			if keyID := apiKeyIDFromBearer(header); keyID != "" {
				ctx = context.WithValue(ctx, apiKeyIDKey, keyID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

type contextKey string

const apiKeyIDKey contextKey = "api_key_id"

// APIKeyIDFromContext retrieves the API key ID from the context.
func APIKeyIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(apiKeyIDKey).(string)
	return id, ok
}

func resolvePrincipal(ctx context.Context, authorizationHeader string, validator TokenValidator) (authz.Principal, error) {
	if validator == nil {
		return authz.Principal{}, errors.New("token validator is nil")
	}

	token, err := parseBearerToken(authorizationHeader)
	if err != nil {
		return authz.Principal{}, err
	}
	principal, err := validator.ValidateToken(ctx, token)
	if err != nil {
		return authz.Principal{}, err
	}
	if principal.IsZero() {
		return authz.Principal{}, errUnresolvedPrincipal
	}
	return principal, nil
}

func writeTooManyRequests(w http.ResponseWriter, r *http.Request) {
	locale := i18n.FromAcceptLanguage(r.Header.Get("Accept-Language"))
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", "60")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": i18n.Text(locale, i18n.TooManyRequests)})
}

func parseBearerToken(authorizationHeader string) (string, error) {
	parts := strings.Fields(authorizationHeader)
	if len(parts) != 2 {
		return "", errInvalidAuthorizationHeader
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return "", errInvalidAuthorizationHeader
	}
	if parts[1] == "" {
		return "", errInvalidAuthorizationHeader
	}

	return parts[1], nil
}

// apiKeyIDFromBearer extracts the API key ID (the part before the dot) from
// a bearer token in format "Bearer keyID.secret".
func apiKeyIDFromBearer(authHeader string) string {
	token, err := parseBearerToken(authHeader)
	if err != nil {
		return ""
	}
	keyID, _, ok := SplitAPIKeyToken(token)
	if !ok {
		return ""
	}
	return keyID
}
