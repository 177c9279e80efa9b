// Package routes provides shared API route constants used by the SDK's
// service clients to prevent path mismatches.
package routes

const (
	// Health returns the API health status.
	Health = "/api/health"

	// Realtime is the SSE endpoint and the companion control path for
	// submitting the current subscription list.
	Realtime = "/api/realtime"

	// AdminAuthWithPassword authenticates an admin account with email/password.
	AdminAuthWithPassword = "/api/admins/auth-with-password"

	// AdminAuthRefresh exchanges a still-valid admin token for a fresh one.
	AdminAuthRefresh = "/api/admins/auth-refresh"

	// Collections is the base path for collection-scoped endpoints.
	Collections = "/api/collections"
)
