package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/matt-riley/tenantdesk/internal/authz"
	"github.com/matt-riley/tenantdesk/internal/i18n"
)

var testPrincipal = authz.Principal{UserID: 7, TenantID: 1, RoleSlug: "sales"}

// principalRecorder records what the next handler saw.
type principalRecorder struct {
	called    bool
	principal authz.Principal
	found     bool
	keyID     string
}

func (p *principalRecorder) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.called = true
		p.principal, p.found = authz.FromContext(r.Context())
		p.keyID, _ = APIKeyIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestHTTPPrincipalMiddleware(t *testing.T) {
	t.Run("missing header continues anonymously", func(t *testing.T) {
		validator := &testTokenValidator{}
		failures := 0
		recorder := &principalRecorder{}
		handler := HTTPPrincipalMiddleware(validator, WithOnAuthFailure(func() { failures++ }))(recorder.handler())

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		if !recorder.called {
			t.Fatal("expected next handler to be called")
		}
		if recorder.found {
			t.Fatalf("expected no principal, got %+v", recorder.principal)
		}
		if validator.called {
			t.Fatal("expected validator not to be called")
		}
		if failures != 0 {
			t.Fatalf("expected no auth failures, got %d", failures)
		}
	})

	t.Run("valid token attaches principal", func(t *testing.T) {
		validator := &testTokenValidator{expectedToken: "abc.secret", principal: testPrincipal}
		recorder := &principalRecorder{}
		handler := HTTPPrincipalMiddleware(validator)(recorder.handler())

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "bearer abc.secret")
		handler.ServeHTTP(httptest.NewRecorder(), req)

		if !recorder.found || recorder.principal != testPrincipal {
			t.Fatalf("expected principal %+v, got %+v (found=%v)", testPrincipal, recorder.principal, recorder.found)
		}
		if recorder.keyID != "abc" {
			t.Fatalf("expected api key id %q, got %q", "abc", recorder.keyID)
		}
		if validator.gotToken != "abc.secret" {
			t.Fatalf("expected validator to receive token, got %q", validator.gotToken)
		}
	})

	t.Run("invalid token counts a failure and continues anonymously", func(t *testing.T) {
		validator := &testTokenValidator{expectedToken: "expected"}
		failures := 0
		recorder := &principalRecorder{}
		handler := HTTPPrincipalMiddleware(validator, WithOnAuthFailure(func() { failures++ }))(recorder.handler())

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer bad")
		handler.ServeHTTP(httptest.NewRecorder(), req)

		if !recorder.called || recorder.found {
			t.Fatalf("expected anonymous pass-through, called=%v found=%v", recorder.called, recorder.found)
		}
		if failures != 1 {
			t.Fatalf("expected 1 auth failure, got %d", failures)
		}
	})

	t.Run("non-bearer scheme is a failure", func(t *testing.T) {
		validator := &testTokenValidator{}
		failures := 0
		handler := HTTPPrincipalMiddleware(validator, WithOnAuthFailure(func() { failures++ }))((&principalRecorder{}).handler())

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Basic bad")
		handler.ServeHTTP(httptest.NewRecorder(), req)

		if validator.called {
			t.Fatal("expected validator not to be called")
		}
		if failures != 1 {
			t.Fatalf("expected 1 auth failure, got %d", failures)
		}
	})

	t.Run("zero principal is a failure", func(t *testing.T) {
		validator := &testTokenValidator{}
		recorder := &principalRecorder{}
		handler := HTTPPrincipalMiddleware(validator)(recorder.handler())

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer k.s")
		handler.ServeHTTP(httptest.NewRecorder(), req)

		if recorder.found {
			t.Fatalf("expected no principal, got %+v", recorder.principal)
		}
	})

	t.Run("nil validator never resolves", func(t *testing.T) {
		recorder := &principalRecorder{}
		handler := HTTPPrincipalMiddleware(nil)(recorder.handler())

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer k.s")
		handler.ServeHTTP(httptest.NewRecorder(), req)

		if !recorder.called || recorder.found {
			t.Fatalf("expected anonymous pass-through, called=%v found=%v", recorder.called, recorder.found)
		}
	})

	t.Run("repeated failures are throttled with a localized 429", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		rl := NewRateLimiter(ctx, 2)
		defer rl.Stop()

		validator := &testTokenValidator{err: fmt.Errorf("%w: unknown key", ErrInvalidToken)}
		recorder := &principalRecorder{}
		handler := HTTPPrincipalMiddleware(validator, WithRateLimiter(rl))(recorder.handler())

		send := func() *httptest.ResponseRecorder {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = "203.0.113.9:4711"
			req.Header.Set("Authorization", "Bearer k.s")
			req.Header.Set("Accept-Language", "ar")
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			return rec
		}

		for i := range 2 {
			if rec := send(); rec.Code != http.StatusNoContent {
				t.Fatalf("attempt %d: expected pass-through, got %d", i+1, rec.Code)
			}
		}

		rec := send()
		if rec.Code != http.StatusTooManyRequests {
			t.Fatalf("expected %d, got %d", http.StatusTooManyRequests, rec.Code)
		}
		var body map[string]string
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if want := i18n.Text(i18n.Arabic, i18n.TooManyRequests); body["error"] != want {
			t.Fatalf("expected error %q, got %q", want, body["error"])
		}
		if rec.Header().Get("Retry-After") == "" {
			t.Fatal("expected Retry-After header")
		}
	})
}

func TestHTTPPrincipalMiddlewareLookupFailureIsNotCharged(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rl := NewRateLimiter(ctx, 1)
	defer rl.Stop()

	validator := &testTokenValidator{err: fmt.Errorf("lookup key hash: %w", errors.New("connection refused"))}
	failures := 0
	recorder := &principalRecorder{}
	handler := HTTPPrincipalMiddleware(validator, WithRateLimiter(rl), WithOnAuthFailure(func() { failures++ }))(recorder.handler())

	for i := range 5 {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "198.51.100.4:5000"
		req.Header.Set("Authorization", "Bearer k.s")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusNoContent {
			t.Fatalf("attempt %d: expected pass-through during lookup outage, got %d", i+1, rec.Code)
		}
		if recorder.found {
			t.Fatalf("attempt %d: expected no principal, got %+v", i+1, recorder.principal)
		}
	}
	if failures != 0 {
		t.Fatalf("expected lookup failures not to count as auth failures, got %d", failures)
	}
	if rl.Len() != 0 {
		t.Fatalf("expected no rate limiter entries, got %d", rl.Len())
	}
}

func TestAPIKeyIDContext(t *testing.T) {
	if _, ok := APIKeyIDFromContext(context.Background()); ok {
		t.Fatal("expected no api key id in empty context")
	}
}

func TestAPIKeyIDFromBearer(t *testing.T) {
	tests := map[string]string{
		"Bearer abc.def": "abc",
		"Bearer abc":     "",
		"Bearer .def":    "",
		"Basic abc.def":  "",
		"":               "",
	}
	for header, want := range tests {
		if got := apiKeyIDFromBearer(header); got != want {
			t.Fatalf("apiKeyIDFromBearer(%q) = %q, want %q", header, got, want)
		}
	}
}

func TestAPIKeyMatchesHash(t *testing.T) {
	hash, err := HashAPIKey("secret")
	if err != nil {
		t.Fatalf("HashAPIKey() error = %v, want nil", err)
	}
	if hash == "" {
		t.Fatal("expected non-empty hash")
	}
	if !APIKeyMatchesHash(hash, "secret") {
		t.Fatal("expected API key to match hash")
	}
	if APIKeyMatchesHash(hash, "wrong") {
		t.Fatal("expected API key mismatch")
	}
	if APIKeyMatchesHash("not-a-bcrypt-hash", "secret") {
		t.Fatal("expected invalid hash to fail")
	}
}

func TestSplitAPIKeyToken(t *testing.T) {
	keyID, secret, ok := SplitAPIKeyToken("k1.s3cr.et")
	if !ok || keyID != "k1" || secret != "s3cr.et" {
		t.Fatalf("SplitAPIKeyToken() = %q, %q, %v", keyID, secret, ok)
	}
	for _, token := range []string{"", "nodot", ".secret", "key.", "  .x"} {
		if _, _, ok := SplitAPIKeyToken(token); ok {
			t.Fatalf("SplitAPIKeyToken(%q) ok = true, want false", token)
		}
	}
}

type testTokenValidator struct {
	expectedToken string
	err           error
	called        bool
	gotToken      string
	principal     authz.Principal
}

func (v *testTokenValidator) ValidateToken(_ context.Context, token string) (authz.Principal, error) {
	v.called = true
	v.gotToken = token
	if v.err != nil {
		return authz.Principal{}, v.err
	}
	if v.expectedToken != "" && token != v.expectedToken {
		return authz.Principal{}, ErrInvalidToken
	}
	return v.principal, nil
}
