package recordbase

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token type discriminators embedded in the `type` claim by the backend.
const (
	tokenTypeAdmin      = "admin"
	tokenTypeAuthRecord = "authRecord"
)

var unverifiedParser = jwt.NewParser()

// DecodeTokenClaims extracts the claims of a compact JWT without verifying
// its signature. Trust is established by the server that issued the token;
// this is a client-side convenience to avoid sending stale tokens, not a
// security boundary.
//
// The token must have exactly three dot-separated segments and a valid
// base64url/JSON claims segment, otherwise the returned error wraps
// ErrMalformedToken.
func DecodeTokenClaims(token string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	if _, _, err := unverifiedParser.ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	return claims, nil
}

// IsTokenExpired reports whether the token is expired, or will expire within
// the given threshold. A token without an `exp` claim never expires. A token
// that cannot be decoded is a hard error, not a true/false result.
func IsTokenExpired(token string, threshold time.Duration) (bool, error) {
	claims, err := DecodeTokenClaims(token)
	if err != nil {
		return false, err
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	if exp == nil {
		return false, nil
	}
	return !exp.Time.Add(-threshold).After(time.Now()), nil
}

// tokenClaimString returns the named claim as a string, or "" when absent or
// of a different type.
func tokenClaimString(token, name string) string {
	claims, err := DecodeTokenClaims(token)
	if err != nil {
		return ""
	}
	v, _ := claims[name].(string)
	return v
}
