package recordbase

import (
	"context"
	"net/http"
)

// SendRequest is the mutable view of one outgoing request handed to
// before-send hooks. A hook may rewrite any field; the rewritten request
// fully supersedes the original.
type SendRequest struct {
	Method string
	Path   string
	Header http.Header
	Query  map[string]any
	Body   any
}

// BeforeSendHook runs after the request is normalized but before it is
// dispatched. Returning an error fails the request with a normalized error.
type BeforeSendHook func(ctx context.Context, req *SendRequest) error

// AfterSendHook runs on every successful response. Its return value replaces
// the decoded body for subsequent hooks and the final caller; returning an
// error supersedes the successful result.
type AfterSendHook func(ctx context.Context, resp *http.Response, data []byte) ([]byte, error)

type beforeHookEntry struct {
	fn BeforeSendHook
}

type afterHookEntry struct {
	fn AfterSendHook
}

// OnBeforeSend registers a before-send hook. Hooks run in registration order.
// The returned function removes the registration and is idempotent.
func (c *Client) OnBeforeSend(fn BeforeSendHook) func() {
	entry := &beforeHookEntry{fn: fn}
	c.hookMu.Lock()
	c.beforeHooks = append(c.beforeHooks, entry)
	c.hookMu.Unlock()
	return func() { c.removeBeforeHook(entry) }
}

// onBeforeSendFront registers a hook that runs before all currently
// registered ones. Used by the auto-refresh controller, which must observe
// the request before caller-supplied hooks do.
func (c *Client) onBeforeSendFront(fn BeforeSendHook) func() {
	entry := &beforeHookEntry{fn: fn}
	c.hookMu.Lock()
	c.beforeHooks = append([]*beforeHookEntry{entry}, c.beforeHooks...)
	c.hookMu.Unlock()
	return func() { c.removeBeforeHook(entry) }
}

// OnAfterSend registers an after-send hook. Hooks run in registration order,
// each receiving the previous hook's output.
func (c *Client) OnAfterSend(fn AfterSendHook) func() {
	entry := &afterHookEntry{fn: fn}
	c.hookMu.Lock()
	c.afterHooks = append(c.afterHooks, entry)
	c.hookMu.Unlock()
	return func() { c.removeAfterHook(entry) }
}

func (c *Client) removeBeforeHook(entry *beforeHookEntry) {
	c.hookMu.Lock()
	defer c.hookMu.Unlock()
	for i, cur := range c.beforeHooks {
		if cur == entry {
			c.beforeHooks = append(c.beforeHooks[:i], c.beforeHooks[i+1:]...)
			return
		}
	}
}

func (c *Client) removeAfterHook(entry *afterHookEntry) {
	c.hookMu.Lock()
	defer c.hookMu.Unlock()
	for i, cur := range c.afterHooks {
		if cur == entry {
			c.afterHooks = append(c.afterHooks[:i], c.afterHooks[i+1:]...)
			return
		}
	}
}

func (c *Client) beforeHookSnapshot() []BeforeSendHook {
	c.hookMu.Lock()
	defer c.hookMu.Unlock()
	hooks := make([]BeforeSendHook, len(c.beforeHooks))
	for i, entry := range c.beforeHooks {
		hooks[i] = entry.fn
	}
	return hooks
}

func (c *Client) afterHookSnapshot() []AfterSendHook {
	c.hookMu.Lock()
	defer c.hookMu.Unlock()
	hooks := make([]AfterSendHook, len(c.afterHooks))
	for i, entry := range c.afterHooks {
		hooks[i] = entry.fn
	}
	return hooks
}
