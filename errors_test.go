package recordbase

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestClientResponseErrorMessage(t *testing.T) {
	t.Run("ServerMessageWins", func(t *testing.T) {
		err := newClientResponseError("http://example.com/api", 400, map[string]any{"message": "broken field"}, context.Canceled)
		if err.Error() != "broken field" {
			t.Errorf("unexpected message: %q", err.Error())
		}
	})

	t.Run("AbortMessage", func(t *testing.T) {
		err := newClientResponseError("http://example.com/api", 0, nil, context.Canceled)
		if !err.IsAbort {
			t.Fatal("expected IsAbort")
		}
		if !strings.Contains(err.Error(), "autocancelled") {
			t.Errorf("unexpected abort message: %q", err.Error())
		}
	})

	t.Run("LocalhostHint", func(t *testing.T) {
		cause := errors.New("dial tcp 127.0.0.1:8090: connect: connection refused")
		err := newClientResponseError("http://localhost:8090/api", 0, nil, cause)
		if !strings.Contains(err.Error(), "is it running") {
			t.Errorf("unexpected message: %q", err.Error())
		}
	})

	t.Run("GenericFallbackMentionsURL", func(t *testing.T) {
		err := newClientResponseError("http://example.com/api", 500, map[string]any{}, nil)
		if !strings.Contains(err.Error(), "http://example.com/api") {
			t.Errorf("unexpected message: %q", err.Error())
		}
	})
}

func TestClientResponseErrorUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := newClientResponseError("http://example.com", 0, nil, cause)
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to reach the original error")
	}

	var respErr *ClientResponseError
	if !errors.As(error(err), &respErr) {
		t.Error("expected errors.As to match *ClientResponseError")
	}
}

func TestIsAbortError(t *testing.T) {
	if !isAbortError(newClientResponseError("u", 0, nil, context.Canceled)) {
		t.Error("cancellation not detected as abort")
	}
	if isAbortError(newClientResponseError("u", 500, nil, nil)) {
		t.Error("plain failure misdetected as abort")
	}
	if isAbortError(errors.New("other")) {
		t.Error("foreign error misdetected as abort")
	}
}
