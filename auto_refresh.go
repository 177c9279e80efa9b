package recordbase

import (
	"context"
	"time"

	"github.com/recordbase/sdk-go/headers"
)

type internalAuthKey struct{}

// withInternalAuth marks nested refresh/reauth requests so the controller
// does not recursively intercept its own calls.
func withInternalAuth(ctx context.Context) context.Context {
	return context.WithValue(ctx, internalAuthKey{}, true)
}

func isInternalAuth(ctx context.Context) bool {
	v, _ := ctx.Value(internalAuthKey{}).(bool)
	return v
}

// autoRefreshController keeps an authenticated session alive around outgoing
// requests. At most one controller is bound to a Client at a time; installing
// a new one replaces the old. While installed it intercepts every outgoing
// request ahead of caller-supplied hooks, refreshing (or fully
// reauthenticating) the session before the request leaves.
type autoRefreshController struct {
	client    *Client
	threshold time.Duration
	refresh   func(ctx context.Context) error
	reauth    func(ctx context.Context) error

	// Principal identity captured at install time. A store change to a
	// different identity uninstalls the controller.
	snapshotID   string
	snapshotKind string

	removeHook     func()
	removeListener func()
}

// registerAutoRefresh installs a controller bound to the currently stored
// principal, replacing any prior binding.
func (c *Client) registerAutoRefresh(threshold time.Duration, refresh, reauth func(ctx context.Context) error) {
	c.ResetAutoRefresh()

	ctrl := &autoRefreshController{
		client:    c,
		threshold: threshold,
		refresh:   refresh,
		reauth:    reauth,
	}
	record := c.AuthStore.Record()
	ctrl.snapshotID, _ = record["id"].(string)
	ctrl.snapshotKind = principalKind(record, c.AuthStore.Token())

	ctrl.removeHook = c.onBeforeSendFront(ctrl.beforeSend)
	ctrl.removeListener = c.AuthStore.OnChange(ctrl.onStoreChange, false)

	c.refreshMu.Lock()
	c.autoRefresh = ctrl
	c.refreshMu.Unlock()
}

// ResetAutoRefresh uninstalls the current auto-refresh binding, restoring the
// hook chain and store listeners to their pre-install state.
func (c *Client) ResetAutoRefresh() {
	c.refreshMu.Lock()
	ctrl := c.autoRefresh
	c.autoRefresh = nil
	c.refreshMu.Unlock()
	if ctrl == nil {
		return
	}
	ctrl.removeHook()
	ctrl.removeListener()
}

func (ctrl *autoRefreshController) beforeSend(ctx context.Context, req *SendRequest) error {
	if isInternalAuth(ctx) {
		return nil
	}

	store := ctrl.client.AuthStore
	oldToken := store.Token()

	valid := store.IsValid()
	if valid {
		if expiring, err := IsTokenExpired(oldToken, ctrl.threshold); err == nil && expiring {
			// Refresh failures are swallowed; the session falls through to
			// a full reauthentication below.
			if err := ctrl.refresh(withInternalAuth(ctx)); err != nil {
				valid = false
			}
		}
	}
	if !valid {
		if err := ctrl.reauth(withInternalAuth(ctx)); err != nil {
			return err
		}
	}

	// Rewrite the Authorization header only when it still carries the
	// pre-check token; an explicit caller-supplied token is left untouched.
	if newToken := store.Token(); newToken != oldToken && req.Header.Get(headers.Authorization) == oldToken {
		req.Header.Set(headers.Authorization, newToken)
	}
	return nil
}

func (ctrl *autoRefreshController) onStoreChange(token string, record map[string]any) {
	if token == "" {
		ctrl.client.ResetAutoRefresh()
		return
	}
	id, _ := record["id"].(string)
	if id != ctrl.snapshotID || principalKind(record, token) != ctrl.snapshotKind {
		ctrl.client.ResetAutoRefresh()
	}
}

// principalKind derives the collection/type discriminator of a principal:
// its collection id when present, otherwise the token's type claim.
func principalKind(record map[string]any, token string) string {
	if collectionID, _ := record["collectionId"].(string); collectionID != "" {
		return collectionID
	}
	return tokenClaimString(token, "type")
}
