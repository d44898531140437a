// Package internal holds helpers private to goCred, currently secure random generation.
//
// # Sub-packages
//
//   - audit: async security event dispatch (Dispatcher and Sink implementations)
//   - flows: orchestrators for rotation, verification and API key validation
//   - ipmatch: IP, CIDR, glob and domain allow-list matching
//   - metrics: lock-free counters and the verify latency histogram
package internal
