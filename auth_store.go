package recordbase

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// DefaultAuthCookieName is the cookie key used when none is supplied.
const DefaultAuthCookieName = "pb_auth"

// Cookies larger than this are re-serialized with a pruned record. Best-effort
// fit to common browser limits, not a hard guarantee.
const maxCookieSize = 4096

// Record fields kept when a serialized auth cookie exceeds maxCookieSize.
var cookieRecordAllowlist = []string{"id", "email", "collectionId", "collectionName", "verified"}

// OnStoreChangeFunc receives the store state after every save/clear.
type OnStoreChangeFunc func(token string, record map[string]any)

// AuthStore holds the current token and auth record pair and notifies
// registered listeners on every mutation.
type AuthStore interface {
	Token() string
	Record() map[string]any
	Save(token string, record map[string]any) error
	Clear() error
	IsValid() bool
	OnChange(fn OnStoreChangeFunc, fireImmediately bool) func()
}

type storeListener struct {
	fn OnStoreChangeFunc
}

// BaseAuthStore is the in-memory AuthStore implementation. The zero value is
// not usable; construct with NewBaseAuthStore.
//
// Invariants: the record is nil iff the token is empty; Save rejects an
// expired or unparseable token and a nil/identifier-less record without
// touching the current state; every successful mutation synchronously
// notifies listeners in registration order with the fully-updated state.
type BaseAuthStore struct {
	mu        sync.RWMutex
	token     string
	record    map[string]any
	listeners []*storeListener
}

// NewBaseAuthStore returns an empty in-memory store.
func NewBaseAuthStore() *BaseAuthStore {
	return &BaseAuthStore{}
}

// Token returns the currently stored token, or "".
func (s *BaseAuthStore) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Record returns the currently stored auth record, or nil.
func (s *BaseAuthStore) Record() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.record
}

// Save atomically replaces the stored token/record pair and notifies
// listeners. It fails without mutating state when the token is expired or
// unparseable (ErrInvalidToken) or when the record is nil or has no non-empty
// "id" field (ErrInvalidPrincipal).
func (s *BaseAuthStore) Save(token string, record map[string]any) error {
	expired, err := IsTokenExpired(token, 0)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if expired {
		return ErrInvalidToken
	}
	if record == nil {
		return ErrInvalidPrincipal
	}
	if id, _ := record["id"].(string); id == "" {
		return fmt.Errorf("%w: missing id field", ErrInvalidPrincipal)
	}

	s.mu.Lock()
	s.token = token
	s.record = record
	listeners := append([]*storeListener(nil), s.listeners...)
	s.mu.Unlock()

	notifyStoreListeners(listeners, token, record)
	return nil
}

// Clear empties the store and notifies listeners. It always succeeds.
func (s *BaseAuthStore) Clear() error {
	s.mu.Lock()
	s.token = ""
	s.record = nil
	listeners := append([]*storeListener(nil), s.listeners...)
	s.mu.Unlock()

	notifyStoreListeners(listeners, "", nil)
	return nil
}

// IsValid reports whether a non-empty, non-expired token is stored. Any token
// parse failure counts as invalid and is never propagated.
func (s *BaseAuthStore) IsValid() bool {
	token := s.Token()
	if token == "" {
		return false
	}
	expired, err := IsTokenExpired(token, 0)
	return err == nil && !expired
}

// IsAdmin reports whether the stored token is a valid admin token.
func (s *BaseAuthStore) IsAdmin() bool {
	return s.IsValid() && tokenClaimString(s.Token(), "type") == tokenTypeAdmin
}

// IsAuthRecord reports whether the stored token is a valid auth record token.
func (s *BaseAuthStore) IsAuthRecord() bool {
	return s.IsValid() && tokenClaimString(s.Token(), "type") == tokenTypeAuthRecord
}

// OnChange registers fn to run synchronously after every future save/clear.
// When fireImmediately is set, fn also runs once right away with the current
// state. The returned function removes the registration and is idempotent.
func (s *BaseAuthStore) OnChange(fn OnStoreChangeFunc, fireImmediately bool) func() {
	l := &storeListener{fn: fn}

	s.mu.Lock()
	s.listeners = append(s.listeners, l)
	token, record := s.token, s.record
	s.mu.Unlock()

	if fireImmediately {
		fn(token, record)
	}

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, cur := range s.listeners {
			if cur == l {
				s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
				return
			}
		}
	}
}

// notifyStoreListeners invokes each listener with the new state. A panicking
// listener must not prevent the remaining listeners from running.
func notifyStoreListeners(listeners []*storeListener, token string, record map[string]any) {
	for _, l := range listeners {
		func() {
			defer func() { _ = recover() }()
			l.fn(token, record)
		}()
	}
}

type authCookiePayload struct {
	Token  string         `json:"token"`
	Record map[string]any `json:"model"`
}

// AuthCookieOptions controls the attributes of an exported auth cookie.
// Zero-valued fields fall back to Path "/", Expires derived from the token's
// exp claim, HttpOnly, Secure, and SameSite=Strict.
type AuthCookieOptions struct {
	Name     string
	Path     string
	Domain   string
	Expires  time.Time
	HTTPOnly *bool
	Secure   *bool
	SameSite http.SameSite
}

// ExportToCookie serializes the store state as a Set-Cookie attribute string
// carrying percent-encoded {token, model} JSON. When the serialized cookie
// exceeds 4096 bytes the record is pruned to a minimal field subset and
// re-serialized.
func (s *BaseAuthStore) ExportToCookie(opts *AuthCookieOptions) string {
	if opts == nil {
		opts = &AuthCookieOptions{}
	}
	s.mu.RLock()
	token, record := s.token, s.record
	s.mu.RUnlock()

	cookie := &http.Cookie{
		Name:     opts.Name,
		Path:     opts.Path,
		Domain:   opts.Domain,
		Expires:  opts.Expires,
		HttpOnly: opts.HTTPOnly == nil || *opts.HTTPOnly,
		Secure:   opts.Secure == nil || *opts.Secure,
		SameSite: opts.SameSite,
	}
	if cookie.Name == "" {
		cookie.Name = DefaultAuthCookieName
	}
	if cookie.Path == "" {
		cookie.Path = "/"
	}
	if cookie.SameSite == 0 {
		cookie.SameSite = http.SameSiteStrictMode
	}
	if cookie.Expires.IsZero() {
		cookie.Expires = time.Unix(0, 0).UTC()
		if claims, err := DecodeTokenClaims(token); err == nil {
			if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
				cookie.Expires = exp.Time
			}
		}
	}

	cookie.Value = encodeCookiePayload(token, record)
	if len(cookie.String()) > maxCookieSize {
		pruned := make(map[string]any, len(cookieRecordAllowlist))
		for _, field := range cookieRecordAllowlist {
			if v, ok := record[field]; ok {
				pruned[field] = v
			}
		}
		cookie.Value = encodeCookiePayload(token, pruned)
	}

	return cookie.String()
}

// LoadFromCookie restores the store state from a raw Cookie header value.
// Any failure (missing cookie, malformed payload, invalid token) degrades to
// Clear; loading never fails.
func (s *BaseAuthStore) LoadFromCookie(rawCookieHeader, name string) {
	if name == "" {
		name = DefaultAuthCookieName
	}

	req := http.Request{Header: http.Header{"Cookie": []string{rawCookieHeader}}}
	cookie, err := req.Cookie(name)
	if err != nil {
		_ = s.Clear()
		return
	}
	value, err := url.QueryUnescape(cookie.Value)
	if err != nil {
		_ = s.Clear()
		return
	}
	var payload authCookiePayload
	if err := json.Unmarshal([]byte(value), &payload); err != nil {
		_ = s.Clear()
		return
	}
	if err := s.Save(payload.Token, payload.Record); err != nil {
		_ = s.Clear()
	}
}

func encodeCookiePayload(token string, record map[string]any) string {
	raw, err := json.Marshal(authCookiePayload{Token: token, Record: record})
	if err != nil {
		return ""
	}
	return url.QueryEscape(string(raw))
}
