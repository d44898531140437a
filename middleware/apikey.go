package middleware

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	goCred "github.com/MrEthical07/goCred"
)

// DefaultAPIKeyHeader carries the API key when APIKeyOptions.Header is empty.
const DefaultAPIKeyHeader = "X-API-Key"

// APIKeyOptions configures APIKeyGuard.
type APIKeyOptions struct {
	// Header holds the presented key. Defaults to DefaultAPIKeyHeader.
	Header string
	// Scope, when set, must be carried by the key.
	Scope string
	// TrustForwardedFor takes the caller IP from X-Forwarded-For. Enable only behind a
	// proxy that overwrites the header.
	TrustForwardedFor bool
	// SkipUsage disables usage recording, which also disables rate limiting for the key.
	SkipUsage bool
}

// APIKeyGuard authenticates requests by API key. Checks run in order: key validity, IP
// allow-list, Origin against allowed domains, rate limit, scope. Every served request is
// recorded as usage so later rate limit checks see it.
func APIKeyGuard(engine *goCred.Engine, opts APIKeyOptions) func(http.Handler) http.Handler {
	header := opts.Header
	if header == "" {
		header = DefaultAPIKeyHeader
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			presented := r.Header.Get(header)
			if presented == "" {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := requestContext(r, opts.TrustForwardedFor)
			ip := goCred.ClientIPFromContext(ctx)

			key, err := engine.ValidateAPIKey(ctx, presented)
			if err != nil {
				writeEngineError(w, err, http.StatusUnauthorized, "unauthorized")
				return
			}
			if !engine.ValidateIPAddress(ctx, key, ip) {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			if origin := r.Header.Get("Origin"); origin != "" && !engine.ValidateDomain(ctx, key, origin) {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			limit, err := engine.RateLimit(ctx, key.ID, ip)
			if err != nil {
				writeEngineError(w, err, http.StatusUnauthorized, "unauthorized")
				return
			}
			if !limit.Allowed {
				w.Header().Set("Retry-After", retryAfterSeconds(limit.RetryAfter))
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			if opts.Scope != "" && !engine.ValidateScope(ctx, key, opts.Scope) {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(rec, r.WithContext(goCred.WithAPIKey(ctx, key)))

			if opts.SkipUsage {
				return
			}
			// Failures are logged by the engine; the response is already written.
			_ = engine.RecordAPIKeyUsage(ctx, goCred.UsageRecord{
				KeyID:         key.ID,
				Endpoint:      r.URL.Path,
				Method:        r.Method,
				IP:            ip,
				UserAgent:     r.UserAgent(),
				StatusCode:    rec.status,
				Latency:       time.Since(start),
				RequestBytes:  max(r.ContentLength, 0),
				ResponseBytes: rec.bytes,
				Success:       rec.status < http.StatusBadRequest,
			})
		})
	}
}

// retryAfterSeconds rounds d up to whole seconds for the Retry-After header.
func retryAfterSeconds(d time.Duration) string {
	secs := (d + time.Second - 1) / time.Second
	return strconv.FormatInt(int64(max(secs, 1)), 10)
}

func writeEngineError(w http.ResponseWriter, err error, status int, msg string) {
	if errors.Is(err, goCred.ErrOperationFailed) {
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}
	http.Error(w, msg, status)
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	bytes       int64
	wroteHeader bool
}

func (s *statusRecorder) WriteHeader(code int) {
	if !s.wroteHeader {
		s.status = code
		s.wroteHeader = true
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	s.wroteHeader = true
	n, err := s.ResponseWriter.Write(b)
	s.bytes += int64(n)
	return n, err
}
