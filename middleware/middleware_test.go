package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	goCred "github.com/MrEthical07/goCred"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newEngine(t *testing.T) (*goCred.Engine, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cfg := goCred.DefaultConfig()
	cfg.Token.SigningKey = []byte(strings.Repeat("k", 32))
	cfg.Crypto.MasterKey = []byte(strings.Repeat("m", 32))
	cfg.Crypto.BcryptCost = bcrypt.MinCost

	engine, err := goCred.New().WithConfig(cfg).WithRedis(rdb).Build()
	require.NoError(t, err)

	t.Cleanup(func() {
		engine.Close()
		_ = rdb.Close()
		mr.Close()
	})
	return engine, mr
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
})

func TestGuard(t *testing.T) {
	engine, mr := newEngine(t)
	sess, err := engine.IssueSession(context.Background(), goCred.Subject{ID: "u1", Name: "ada", Role: "admin"}, "", "")
	require.NoError(t, err)

	var seen *goCred.Principal
	h := Guard(engine)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = goCred.PrincipalFromContext(r.Context())
		require.Equal(t, "192.0.2.1", goCred.ClientIPFromContext(r.Context()))
		w.WriteHeader(http.StatusOK)
	}))

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"empty bearer", "Bearer ", http.StatusUnauthorized},
		{"garbage", "Bearer not-a-token", http.StatusUnauthorized},
		{"valid", "Bearer " + sess.AccessToken, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/me", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			require.Equal(t, tc.want, rr.Code)
		})
	}
	require.NotNil(t, seen)
	require.Equal(t, "u1", seen.UserID)

	// Blacklist lookups fail once the backend is gone.
	mr.Close()
	req := httptest.NewRequest(http.MethodGet, "/v1/me", nil)
	req.Header.Set("Authorization", "Bearer "+sess.AccessToken)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestRequireRole(t *testing.T) {
	h := RequireRole("admin")(okHandler)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	for role, want := range map[string]int{"admin": http.StatusNoContent, "viewer": http.StatusForbidden} {
		ctx := goCred.WithPrincipal(context.Background(), &goCred.Principal{UserID: "u1", Role: role})
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req.WithContext(ctx))
		require.Equal(t, want, rr.Code, role)
	}
}

func TestAPIKeyGuard(t *testing.T) {
	engine, _ := newEngine(t)
	ctx := context.Background()

	full, key, err := engine.GenerateAPIKey(ctx, goCred.GenerateAPIKeyRequest{
		UserID:         "u1",
		Name:           "deploy",
		Scopes:         []string{goCred.ScopeReadWrite},
		AllowedIPs:     []string{"192.0.2.0/24", "203.0.113.5"},
		AllowedDomains: []string{"app.example.com"},
		RateLimitHour:  2,
	})
	require.NoError(t, err)

	var seen *goCred.APIKey
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = goCred.APIKeyFromContext(r.Context())
		_, _ = w.Write([]byte("ok"))
	})
	h := APIKeyGuard(engine, APIKeyOptions{Scope: goCred.ScopeReadWrite})(inner)

	serve := func(mutate func(*http.Request)) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/v1/keys/self", nil)
		req.Header.Set(DefaultAPIKeyHeader, full)
		if mutate != nil {
			mutate(req)
		}
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr
	}

	rr := serve(func(r *http.Request) { r.Header.Del(DefaultAPIKeyHeader) })
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	altered := full[:len(full)-1] + "0"
	if strings.HasSuffix(full, "0") {
		altered = full[:len(full)-1] + "1"
	}
	rr = serve(func(r *http.Request) { r.Header.Set(DefaultAPIKeyHeader, altered) })
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = serve(func(r *http.Request) { r.RemoteAddr = "198.51.100.1:4000" })
	require.Equal(t, http.StatusForbidden, rr.Code)

	rr = serve(func(r *http.Request) { r.Header.Set("Origin", "https://evil.test") })
	require.Equal(t, http.StatusForbidden, rr.Code)

	rr = serve(func(r *http.Request) { r.Header.Set("Origin", "https://app.example.com") })
	require.Equal(t, http.StatusOK, rr.Code)
	require.NotNil(t, seen)
	require.Equal(t, key.ID, seen.ID)

	rr = serve(nil)
	require.Equal(t, http.StatusOK, rr.Code)

	// Two served requests were recorded; the hourly limit is reached.
	rr = serve(nil)
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	// Both usages were recorded moments ago, so the oldest leaves the hour window in ~3600s.
	retry, err := strconv.Atoi(rr.Header().Get("Retry-After"))
	require.NoError(t, err)
	require.InDelta(t, 3600, retry, 5)
}

func TestRetryAfterSeconds(t *testing.T) {
	cases := map[time.Duration]string{
		0:                                "1",
		300 * time.Millisecond:           "1",
		10 * time.Minute:                 "600",
		10*time.Minute + time.Nanosecond: "601",
	}
	for d, want := range cases {
		require.Equal(t, want, retryAfterSeconds(d), d.String())
	}
}

func TestAPIKeyGuardForwardedFor(t *testing.T) {
	engine, _ := newEngine(t)

	full, _, err := engine.GenerateAPIKey(context.Background(), goCred.GenerateAPIKeyRequest{
		UserID:     "u1",
		Name:       "proxy",
		AllowedIPs: []string{"203.0.113.5"},
	})
	require.NoError(t, err)

	for trust, want := range map[bool]int{true: http.StatusNoContent, false: http.StatusForbidden} {
		h := APIKeyGuard(engine, APIKeyOptions{TrustForwardedFor: trust, SkipUsage: true})(okHandler)
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(DefaultAPIKeyHeader, full)
		req.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		require.Equal(t, want, rr.Code)
	}
}

func TestAPIKeyGuardScope(t *testing.T) {
	engine, _ := newEngine(t)

	full, _, err := engine.GenerateAPIKey(context.Background(), goCred.GenerateAPIKeyRequest{UserID: "u1", Name: "ro"})
	require.NoError(t, err)

	h := APIKeyGuard(engine, APIKeyOptions{Scope: goCred.ScopeAdmin})(okHandler)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(DefaultAPIKeyHeader, full)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusForbidden, rr.Code)
}
