package recordbase

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestAsyncAuthStorePersists(t *testing.T) {
	var saved []string
	cleared := 0
	store := NewAsyncAuthStore(AsyncAuthStoreConfig{
		SaveFunc:  func(serialized string) error { saved = append(saved, serialized); return nil },
		ClearFunc: func() error { cleared++; return nil },
	})

	token := testTokenExpiringIn(t, time.Hour, tokenTypeAuthRecord)
	if err := store.Save(token, map[string]any{"id": "r1"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if len(saved) != 1 {
		t.Fatalf("SaveFunc calls = %d, want 1", len(saved))
	}
	var payload authCookiePayload
	if err := json.Unmarshal([]byte(saved[0]), &payload); err != nil {
		t.Fatalf("unmarshal persisted payload: %v", err)
	}
	if payload.Token != token {
		t.Error("persisted token mismatch")
	}
	if id, _ := payload.Record["id"].(string); id != "r1" {
		t.Errorf("persisted record id = %q", id)
	}

	store.Clear()
	if cleared != 1 {
		t.Errorf("ClearFunc calls = %d, want 1", cleared)
	}
}

func TestAsyncAuthStoreInitialData(t *testing.T) {
	token := testTokenExpiringIn(t, time.Hour, tokenTypeAuthRecord)
	raw, err := json.Marshal(authCookiePayload{Token: token, Record: map[string]any{"id": "r1"}})
	if err != nil {
		t.Fatal(err)
	}

	store := NewAsyncAuthStore(AsyncAuthStoreConfig{
		SaveFunc:    func(string) error { return nil },
		InitialData: string(raw),
	})
	if store.Token() != token {
		t.Error("initial token not restored")
	}
	if id, _ := store.Record()["id"].(string); id != "r1" {
		t.Errorf("initial record id = %q", id)
	}

	t.Run("ExpiredIgnored", func(t *testing.T) {
		expired := testTokenExpiringIn(t, -time.Hour, tokenTypeAuthRecord)
		raw, err := json.Marshal(authCookiePayload{Token: expired, Record: map[string]any{"id": "r1"}})
		if err != nil {
			t.Fatal(err)
		}
		store := NewAsyncAuthStore(AsyncAuthStoreConfig{
			SaveFunc:    func(string) error { return nil },
			InitialData: string(raw),
		})
		if store.IsValid() || store.Token() != "" {
			t.Error("expired persisted session restored")
		}
	})

	t.Run("MalformedIgnored", func(t *testing.T) {
		store := NewAsyncAuthStore(AsyncAuthStoreConfig{
			SaveFunc:    func(string) error { return nil },
			InitialData: "{not json",
		})
		if store.Token() != "" {
			t.Error("malformed persisted data restored")
		}
	})
}

func TestAsyncAuthStorePersistFailureDoesNotPropagate(t *testing.T) {
	var logged []LogEntry
	store := NewAsyncAuthStore(AsyncAuthStoreConfig{
		SaveFunc:  func(string) error { return errors.New("disk full") },
		Telemetry: TelemetryHooks{OnLogEntry: func(ctx context.Context, e LogEntry) { logged = append(logged, e) }},
	})

	token := testTokenExpiringIn(t, time.Hour, tokenTypeAuthRecord)
	if err := store.Save(token, map[string]any{"id": "r1"}); err != nil {
		t.Fatalf("Save surfaced persistence failure: %v", err)
	}
	if store.Token() != token {
		t.Error("in-memory state lost on persistence failure")
	}
	if len(logged) == 0 {
		t.Error("persistence failure not reported to telemetry")
	}
}
