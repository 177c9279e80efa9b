package recordbase

import (
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"
)

// testToken builds an unsigned three-segment token carrying the given claims.
func testToken(t *testing.T, claims map[string]any) string {
	t.Helper()
	header := map[string]any{"alg": "HS256", "typ": "JWT"}
	return encodeTokenSegment(t, header) + "." + encodeTokenSegment(t, claims) + ".c2ln"
}

func encodeTokenSegment(t *testing.T, payload map[string]any) string {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal token segment: %v", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw)
}

// testTokenExpiringIn builds a token of the given type claim expiring after d.
func testTokenExpiringIn(t *testing.T, d time.Duration, typ string) string {
	t.Helper()
	claims := map[string]any{
		"id":  "test_id",
		"exp": time.Now().Add(d).Unix(),
	}
	if typ != "" {
		claims["type"] = typ
	}
	return testToken(t, claims)
}
