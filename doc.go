// Package recordbase provides the Go SDK for the RecordBase API: request
// dispatch with auto-cancellation and hook interception, token/auth-store
// management with optional persistence, transparent session auto-refresh,
// and realtime subscriptions over a multiplexed SSE connection.
package recordbase
