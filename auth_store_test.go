package recordbase

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestBaseAuthStoreSave(t *testing.T) {
	t.Run("ValidSave", func(t *testing.T) {
		store := NewBaseAuthStore()
		token := testTokenExpiringIn(t, time.Hour, "admin")
		record := map[string]any{"id": "a1", "email": "test@example.com"}

		if err := store.Save(token, record); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		if store.Token() != token {
			t.Errorf("unexpected token %q", store.Token())
		}
		if id, _ := store.Record()["id"].(string); id != "a1" {
			t.Errorf("unexpected record %v", store.Record())
		}
	})

	t.Run("RejectedSaveLeavesStateUntouched", func(t *testing.T) {
		store := NewBaseAuthStore()
		goodToken := testTokenExpiringIn(t, time.Hour, "admin")
		if err := store.Save(goodToken, map[string]any{"id": "a1"}); err != nil {
			t.Fatalf("initial Save failed: %v", err)
		}

		notified := 0
		store.OnChange(func(string, map[string]any) { notified++ }, false)

		expired := testTokenExpiringIn(t, -time.Hour, "admin")
		if err := store.Save(expired, map[string]any{"id": "a2"}); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("expected ErrInvalidToken, got %v", err)
		}
		if err := store.Save("garbage", map[string]any{"id": "a2"}); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("expected ErrInvalidToken for unparseable token, got %v", err)
		}
		if err := store.Save(goodToken, nil); !errors.Is(err, ErrInvalidPrincipal) {
			t.Fatalf("expected ErrInvalidPrincipal, got %v", err)
		}
		if err := store.Save(goodToken, map[string]any{"name": "no id"}); !errors.Is(err, ErrInvalidPrincipal) {
			t.Fatalf("expected ErrInvalidPrincipal for missing id, got %v", err)
		}

		if store.Token() != goodToken {
			t.Error("rejected save mutated the token")
		}
		if id, _ := store.Record()["id"].(string); id != "a1" {
			t.Error("rejected save mutated the record")
		}
		if notified != 0 {
			t.Errorf("rejected saves fired %d notifications", notified)
		}
	})
}

func TestBaseAuthStoreClear(t *testing.T) {
	store := NewBaseAuthStore()
	token := testTokenExpiringIn(t, time.Hour, "admin")
	if err := store.Save(token, map[string]any{"id": "a1"}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if err := store.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if store.Token() != "" || store.Record() != nil {
		t.Error("Clear left state behind")
	}
	if store.IsValid() {
		t.Error("cleared store reported valid")
	}
}

func TestBaseAuthStoreDerivedState(t *testing.T) {
	store := NewBaseAuthStore()
	if store.IsValid() || store.IsAdmin() || store.IsAuthRecord() {
		t.Fatal("empty store reported a valid session")
	}

	adminToken := testTokenExpiringIn(t, time.Hour, "admin")
	if err := store.Save(adminToken, map[string]any{"id": "a1"}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if !store.IsValid() || !store.IsAdmin() || store.IsAuthRecord() {
		t.Error("admin token misclassified")
	}

	recordToken := testTokenExpiringIn(t, time.Hour, "authRecord")
	if err := store.Save(recordToken, map[string]any{"id": "r1"}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if !store.IsValid() || store.IsAdmin() || !store.IsAuthRecord() {
		t.Error("auth record token misclassified")
	}
}

func TestBaseAuthStoreOnChange(t *testing.T) {
	t.Run("NotifiesInRegistrationOrder", func(t *testing.T) {
		store := NewBaseAuthStore()
		var order []string
		store.OnChange(func(string, map[string]any) { order = append(order, "first") }, false)
		store.OnChange(func(string, map[string]any) { order = append(order, "second") }, false)

		token := testTokenExpiringIn(t, time.Hour, "admin")
		if err := store.Save(token, map[string]any{"id": "a1"}); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		_ = store.Clear()

		want := []string{"first", "second", "first", "second"}
		if len(order) != len(want) {
			t.Fatalf("expected %v, got %v", want, order)
		}
		for i := range want {
			if order[i] != want[i] {
				t.Fatalf("expected %v, got %v", want, order)
			}
		}
	})

	t.Run("RemovalStopsNotifications", func(t *testing.T) {
		store := NewBaseAuthStore()
		first, second := 0, 0
		remove := store.OnChange(func(string, map[string]any) { first++ }, false)
		store.OnChange(func(string, map[string]any) { second++ }, false)

		_ = store.Clear()
		remove()
		remove() // idempotent
		_ = store.Clear()

		if first != 1 {
			t.Errorf("removed listener fired %d times", first)
		}
		if second != 2 {
			t.Errorf("remaining listener fired %d times, expected 2", second)
		}
	})

	t.Run("FireImmediately", func(t *testing.T) {
		store := NewBaseAuthStore()
		token := testTokenExpiringIn(t, time.Hour, "admin")
		if err := store.Save(token, map[string]any{"id": "a1"}); err != nil {
			t.Fatalf("Save failed: %v", err)
		}

		var got string
		store.OnChange(func(tok string, _ map[string]any) { got = tok }, true)
		if got != token {
			t.Errorf("fireImmediately delivered %q", got)
		}
	})

	t.Run("PanickingListenerDoesNotBlockOthers", func(t *testing.T) {
		store := NewBaseAuthStore()
		reached := false
		store.OnChange(func(string, map[string]any) { panic("boom") }, false)
		store.OnChange(func(string, map[string]any) { reached = true }, false)

		_ = store.Clear()
		if !reached {
			t.Error("listener after a panicking one did not run")
		}
	})
}

func TestAuthStoreCookie(t *testing.T) {
	t.Run("RoundTrip", func(t *testing.T) {
		store := NewBaseAuthStore()
		token := testTokenExpiringIn(t, time.Hour, "admin")
		record := map[string]any{"id": "a1", "email": "test@example.com"}
		if err := store.Save(token, record); err != nil {
			t.Fatalf("Save failed: %v", err)
		}

		cookie := store.ExportToCookie(nil)
		if !strings.HasPrefix(cookie, DefaultAuthCookieName+"=") {
			t.Fatalf("unexpected cookie prefix: %q", cookie)
		}
		if !strings.Contains(cookie, "HttpOnly") || !strings.Contains(cookie, "Secure") {
			t.Errorf("missing default attributes: %q", cookie)
		}

		restored := NewBaseAuthStore()
		restored.LoadFromCookie(cookie, "")
		if restored.Token() != token {
			t.Errorf("token not restored, got %q", restored.Token())
		}
		if email, _ := restored.Record()["email"].(string); email != "test@example.com" {
			t.Errorf("record not restored: %v", restored.Record())
		}
	})

	t.Run("OversizedRecordIsPruned", func(t *testing.T) {
		store := NewBaseAuthStore()
		token := testTokenExpiringIn(t, time.Hour, "authRecord")
		record := map[string]any{
			"id":    "r1",
			"email": "test@example.com",
			"bio":   strings.Repeat("x", 5000),
		}
		if err := store.Save(token, record); err != nil {
			t.Fatalf("Save failed: %v", err)
		}

		cookie := store.ExportToCookie(nil)
		if len(cookie) > maxCookieSize {
			t.Fatalf("pruned cookie still %d bytes", len(cookie))
		}

		restored := NewBaseAuthStore()
		restored.LoadFromCookie(cookie, "")
		if restored.Token() != token {
			t.Error("token lost during pruning")
		}
		if _, ok := restored.Record()["bio"]; ok {
			t.Error("oversized field survived pruning")
		}
		if id, _ := restored.Record()["id"].(string); id != "r1" {
			t.Error("allow-listed id field lost during pruning")
		}
	})

	t.Run("MalformedCookieClears", func(t *testing.T) {
		store := NewBaseAuthStore()
		token := testTokenExpiringIn(t, time.Hour, "admin")
		if err := store.Save(token, map[string]any{"id": "a1"}); err != nil {
			t.Fatalf("Save failed: %v", err)
		}

		store.LoadFromCookie("pb_auth=not-json", "")
		if store.Token() != "" {
			t.Error("malformed cookie did not clear the store")
		}
	})

	t.Run("ExpiredTokenCookieClears", func(t *testing.T) {
		source := NewBaseAuthStore()
		// Export an unexpired state, then doctor a store that holds it and
		// feed it a cookie carrying an expired token.
		expired := testToken(t, map[string]any{"id": "a1", "exp": time.Now().Add(-time.Hour).Unix()})
		cookie := DefaultAuthCookieName + "=" + encodeCookiePayload(expired, map[string]any{"id": "a1"})

		source.LoadFromCookie(cookie, "")
		if source.Token() != "" {
			t.Error("expired cookie token did not clear the store")
		}
	})
}
