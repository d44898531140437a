// Package middleware adapts goCred.Engine to net/http.
//
// # Guards
//
//   - [Guard] verifies a bearer access token and stores the principal in the context.
//   - [RequireRole] restricts a route to principals with given roles.
//   - [APIKeyGuard] authenticates by API key, enforcing IP and domain allow-lists, the
//     sliding rate limit and an optional scope, then records usage.
//
// Every decision is delegated to the Engine. This package only translates outcomes into
// HTTP status codes: 401 for bad credentials, 403 for denied checks, 429 for rate limits and
// 503 when the credential store fails.
package middleware
