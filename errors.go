package recordbase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors returned by the store and token helpers. Match with errors.Is.
var (
	// ErrMalformedToken marks a token that cannot be decoded at all.
	ErrMalformedToken = errors.New("recordbase: malformed token")

	// ErrInvalidToken marks a decodable but expired (or otherwise unusable)
	// token rejected by AuthStore.Save.
	ErrInvalidToken = errors.New("recordbase: invalid or expired token")

	// ErrInvalidPrincipal marks a nil or identifier-less auth record passed
	// to AuthStore.Save.
	ErrInvalidPrincipal = errors.New("recordbase: invalid auth principal")

	// ErrMissingIdentifier marks an empty id passed to a single-item operation.
	ErrMissingIdentifier = errors.New("recordbase: missing record identifier")

	// ErrProviderMismatch marks an OAuth2 state or code mismatch.
	ErrProviderMismatch = errors.New("recordbase: oauth2 provider state mismatch")
)

// ClientResponseError is the single normalized shape for every failure
// surfaced by the request pipeline: network failures, non-2xx statuses,
// cancellations, and hook rejections all arrive as this type. Callers are
// never exposed to raw transport errors.
type ClientResponseError struct {
	// URL is the fully assembled request URL.
	URL string
	// Status is the HTTP status code, or 0 when no response was received.
	Status int
	// Response holds the parsed server error body, or an empty map.
	Response map[string]any
	// IsAbort is true when the failure was caused by client-side cancellation
	// (explicit cancel or auto-cancellation by a newer request).
	IsAbort bool
	// OriginalError is the underlying cause, if any.
	OriginalError error
}

// Error builds a human-readable message. Precedence: explicit server message,
// abort-specific message, localhost connection hint, generic fallback.
func (e *ClientResponseError) Error() string {
	if msg, ok := e.Response["message"].(string); ok && msg != "" {
		return msg
	}
	if e.IsAbort {
		return "the request was autocancelled; use a distinct request key or disable auto-cancellation to allow overlapping calls"
	}
	if e.OriginalError != nil &&
		strings.Contains(e.OriginalError.Error(), "connection refused") &&
		(strings.Contains(e.URL, "://localhost") || strings.Contains(e.URL, "://127.0.0.1")) {
		return "failed to connect to the RecordBase server at " + e.URL + "; is it running?"
	}
	return fmt.Sprintf("something went wrong while processing the request to %s", e.URL)
}

// Unwrap exposes the underlying cause for errors.Is/errors.As.
func (e *ClientResponseError) Unwrap() error {
	return e.OriginalError
}

// newClientResponseError normalizes an arbitrary failure at the pipeline
// boundary. Cancellation is detected from the cause chain.
func newClientResponseError(url string, status int, response map[string]any, cause error) *ClientResponseError {
	if response == nil {
		response = map[string]any{}
	}
	return &ClientResponseError{
		URL:           url,
		Status:        status,
		Response:      response,
		IsAbort:       errors.Is(cause, context.Canceled),
		OriginalError: cause,
	}
}

// parseErrorBody best-effort decodes a server error payload into a map.
func parseErrorBody(data []byte) map[string]any {
	if len(data) == 0 {
		return map[string]any{}
	}
	var body map[string]any
	if err := json.Unmarshal(data, &body); err != nil || body == nil {
		return map[string]any{}
	}
	return body
}

// isAbortError reports whether err is a normalized cancellation failure.
func isAbortError(err error) bool {
	var respErr *ClientResponseError
	return errors.As(err, &respErr) && respErr.IsAbort
}
