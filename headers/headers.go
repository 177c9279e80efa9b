// Package headers defines HTTP header constants used across the RecordBase API.
// This is the single source of truth for header names used in API requests/responses.
package headers

const (
	// RequestID is the header for request correlation. The SDK fills it in
	// with a fresh UUID when the caller has not supplied one.
	RequestID = "X-Request-Id"

	// AcceptLanguage carries the client-wide language preference.
	AcceptLanguage = "Accept-Language"

	// Authorization carries the auth store's current token.
	Authorization = "Authorization"
)
