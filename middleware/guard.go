package middleware

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	goCred "github.com/MrEthical07/goCred"
)

// Guard verifies the bearer access token and stores the principal in the request context.
// The caller IP and user agent are attached too, so security events carry them.
func Guard(engine *goCred.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := requestContext(r, false)
			principal, err := engine.Verify(ctx, token)
			if err != nil {
				if errors.Is(err, goCred.ErrOperationFailed) {
					http.Error(w, "service unavailable", http.StatusServiceUnavailable)
					return
				}
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(goCred.WithPrincipal(ctx, principal)))
		})
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}

// requestContext attaches the caller IP and user agent to the request context.
func requestContext(r *http.Request, trustForwarded bool) context.Context {
	ctx := goCred.WithClientIP(r.Context(), clientIP(r, trustForwarded))
	if ua := r.UserAgent(); ua != "" {
		ctx = goCred.WithUserAgent(ctx, ua)
	}
	return ctx
}

// clientIP returns the first X-Forwarded-For hop when trustForwarded is set, else the
// remote address without its port.
func clientIP(r *http.Request, trustForwarded bool) string {
	if trustForwarded {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
