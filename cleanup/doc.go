// Package cleanup deletes expired refresh tokens, blacklist entries, old API key usage
// records and stale lockout states in paced batches.
//
// The scheduler runs on a robfig/cron interval and never overlaps runs. Each purge call is
// gated by a token bucket so a backlog drains at a bounded rate.
package cleanup
