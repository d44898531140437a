package internaldefs

import (
	goCred "github.com/MrEthical07/goCred"
)

// CounterDef binds a counter MetricID to its exported name.
type CounterDef struct {
	ID   goCred.MetricID
	Name string
	Help string
}

// HistogramDef binds a histogram MetricID to its exported name.
type HistogramDef struct {
	ID   goCred.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in a stable order.
var CounterDefs = []CounterDef{
	{ID: goCred.MetricSessionIssued, Name: "gocred_session_issued_total", Help: "Issued token pairs."},
	{ID: goCred.MetricVerifySuccess, Name: "gocred_verify_success_total", Help: "Successful access token verifications."},
	{ID: goCred.MetricVerifyFailure, Name: "gocred_verify_failure_total", Help: "Rejected access tokens."},
	{ID: goCred.MetricVerifyBlacklisted, Name: "gocred_verify_blacklisted_total", Help: "Access tokens rejected because they were blacklisted."},
	{ID: goCred.MetricRotateSuccess, Name: "gocred_rotate_success_total", Help: "Successful refresh token rotations."},
	{ID: goCred.MetricRotateReplay, Name: "gocred_rotate_replay_total", Help: "Detected refresh token replays."},
	{ID: goCred.MetricRotateFailure, Name: "gocred_rotate_failure_total", Help: "Failed refresh token rotations other than replays."},
	{ID: goCred.MetricFamilyRevoked, Name: "gocred_refresh_revoked_total", Help: "Refresh tokens revoked by family revocation or the family cap."},
	{ID: goCred.MetricBlacklistAdded, Name: "gocred_blacklist_added_total", Help: "Access tokens added to the blacklist."},
	{ID: goCred.MetricAPIKeyGenerated, Name: "gocred_api_key_generated_total", Help: "Generated API keys."},
	{ID: goCred.MetricAPIKeyValidated, Name: "gocred_api_key_validated_total", Help: "Successful API key validations."},
	{ID: goCred.MetricAPIKeyRejected, Name: "gocred_api_key_rejected_total", Help: "Rejected API key validations."},
	{ID: goCred.MetricAPIKeyRateLimited, Name: "gocred_api_key_rate_limited_total", Help: "API key requests over their rate limit."},
	{ID: goCred.MetricLockoutTriggered, Name: "gocred_lockout_triggered_total", Help: "Accounts locked after repeated failures."},
	{ID: goCred.MetricUnlock, Name: "gocred_unlock_total", Help: "Accounts unlocked by an operator."},
	{ID: goCred.MetricCleanupDeleted, Name: "gocred_cleanup_deleted_total", Help: "Records deleted by the cleanup scheduler."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: goCred.MetricVerifyLatency, Name: "gocred_verify_latency_seconds", Help: "Access token verification latency."},
}

// AuditDroppedName is the counter of security events dropped under backpressure.
const AuditDroppedName = "gocred_audit_dropped_total"

// AuditDroppedHelp describes AuditDroppedName.
const AuditDroppedHelp = "Dropped security events due to dispatcher backpressure."

// HistogramUpperBounds are the finite bucket bounds in seconds. The eighth bucket is +Inf.
var HistogramUpperBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// HistogramBoundSuffix names each bucket for exporters without native histograms.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets copies raw into a fixed array, zero-filling missing buckets.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
