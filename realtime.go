package recordbase

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/recordbase/sdk-go/headers"
	"github.com/recordbase/sdk-go/routes"
)

// connectEventName is the distinguished SSE event carrying the connect
// acknowledgement; its id field holds the session's client id.
const connectEventName = "RB_CONNECT"

const defaultConnectTimeout = 15 * time.Second

// submitRetryLimit bounds how many times the post-connect resync is retried
// when new subscribe calls race the in-flight submission.
const submitRetryLimit = 3

// reconnectIntervals is the backoff schedule, indexed by attempt count and
// clamped to the last entry.
var reconnectIntervals = []time.Duration{
	200 * time.Millisecond,
	300 * time.Millisecond,
	500 * time.Millisecond,
	1000 * time.Millisecond,
	1200 * time.Millisecond,
	1500 * time.Millisecond,
	2000 * time.Millisecond,
}

// SubscriptionOptions scope a single subscription with per-topic query
// parameters and headers. Field order is fixed so the serialized form is
// canonical and two structurally equal options always produce the same
// subscription key.
type SubscriptionOptions struct {
	Query   map[string]any    `json:"query,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// RealtimeEvent is one server-sent event delivered to topic listeners.
type RealtimeEvent struct {
	ID   string
	Name string
	Data []byte
}

// SubscriptionFunc receives events for a subscribed topic in server emission order.
type SubscriptionFunc func(e RealtimeEvent)

// UnsubscribeFunc removes exactly the listener registration that produced it.
// It is idempotent.
type UnsubscribeFunc func() error

// subscriptionKey identifies one logical subscription: a topic plus the
// canonical serialization of its options.
type subscriptionKey struct {
	topic   string
	options string
}

func newSubscriptionKey(topic string, options *SubscriptionOptions) subscriptionKey {
	key := subscriptionKey{topic: topic}
	if options == nil || (len(options.Query) == 0 && len(options.Headers) == 0) {
		return key
	}
	raw, err := json.Marshal(options)
	if err == nil {
		key.options = string(raw)
	}
	return key
}

// wire is the key form the server knows: the SSE event name and the entries
// of the submitted subscription list.
func (k subscriptionKey) wire() string {
	if k.options == "" {
		return k.topic
	}
	return k.topic + "?options=" + k.options
}

type subscriber struct {
	fn SubscriptionFunc
}

// RealtimeClient multiplexes topic subscriptions over a single SSE
// connection, reconnecting with backoff and keeping the server-side
// subscription list in sync with the local registry.
type RealtimeClient struct {
	client *Client

	// ConnectTimeout bounds the wait for the server's connect
	// acknowledgement. Set before the first Connect/Subscribe call.
	ConnectTimeout time.Duration
	// MaxReconnectAttempts caps silent reconnection; negative means unlimited.
	MaxReconnectAttempts int

	mu                sync.Mutex
	clientID          string
	subscriptions     map[subscriptionKey][]*subscriber
	lastSent          []string
	waiters           []chan error
	reconnectAttempts int
	hasEverConnected  bool
	connGen           int
	cancelStream      context.CancelFunc
	connectTimer      *time.Timer
	reconnectTimer    *time.Timer
}

func newRealtimeClient(client *Client) *RealtimeClient {
	return &RealtimeClient{
		client:               client,
		ConnectTimeout:       defaultConnectTimeout,
		MaxReconnectAttempts: -1,
		subscriptions:        make(map[subscriptionKey][]*subscriber),
	}
}

// Subscribe registers fn for the topic (optionally scoped by options) and
// returns its unsubscribe handle. Subscribing the same topic twice yields two
// independent listeners and two independent handles. The call connects the
// channel when disconnected, or resyncs the server-side list when the key is
// brand new; an already-known key merely attaches the listener.
func (r *RealtimeClient) Subscribe(ctx context.Context, topic string, fn SubscriptionFunc, options *SubscriptionOptions) (UnsubscribeFunc, error) {
	if topic == "" {
		return nil, errors.New("recordbase: subscription topic must be non-empty")
	}
	if fn == nil {
		return nil, errors.New("recordbase: subscription callback is required")
	}

	key := newSubscriptionKey(topic, options)
	sub := &subscriber{fn: fn}

	r.mu.Lock()
	existing := r.subscriptions[key]
	r.subscriptions[key] = append(existing, sub)
	isNewKey := len(existing) == 0
	needsConnect := r.clientID == ""
	r.mu.Unlock()

	var err error
	if needsConnect {
		err = r.Connect(ctx)
	} else if isNewKey {
		err = r.submitSubscriptions(ctx)
	}
	if err != nil {
		r.removeSubscriber(key, sub)
		return nil, err
	}

	return func() error { return r.unsubscribeListener(key, sub) }, nil
}

// Connect establishes the SSE transport. Concurrent calls coalesce into a
// single attempt; each caller unblocks once the server acknowledges the
// connection and the initial subscription resync completes.
func (r *RealtimeClient) Connect(ctx context.Context) error {
	r.mu.Lock()
	if r.clientID != "" && len(r.waiters) == 0 {
		r.mu.Unlock()
		return nil
	}
	ch := make(chan error, 1)
	r.waiters = append(r.waiters, ch)
	first := len(r.waiters) == 1
	r.mu.Unlock()

	if first {
		r.initConnect(true)
	}

	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Disconnect tears down the transport and timers. The logical subscription
// registry is kept, so a later Connect restores the same topics. Pending
// connect waiters resolve successfully; a disconnect requested mid-connect
// must not leave them hanging.
func (r *RealtimeClient) Disconnect() {
	r.teardown(false)
}

// IsConnected reports whether the transport is up, a session id is assigned,
// and no connect attempts are still pending.
func (r *RealtimeClient) IsConnected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelStream != nil && r.clientID != "" && len(r.waiters) == 0
}

// Unsubscribe removes listeners: with no arguments every key is cleared;
// otherwise only keys whose topic exactly matches one of the given topics
// (option-scoped variants of a topic share its fate, while "foo" never
// matches "foobar"). An emptied registry disconnects; any other removal
// triggers a resync.
func (r *RealtimeClient) Unsubscribe(topics ...string) error {
	r.mu.Lock()
	removed := false
	if len(topics) == 0 {
		removed = len(r.subscriptions) > 0
		r.subscriptions = make(map[subscriptionKey][]*subscriber)
	} else {
		for key := range r.subscriptions {
			for _, topic := range topics {
				if key.topic == topic {
					delete(r.subscriptions, key)
					removed = true
					break
				}
			}
		}
	}
	empty := len(r.subscriptions) == 0
	r.mu.Unlock()

	return r.afterRemoval(removed, empty)
}

// UnsubscribeByPrefix removes every key whose wire form starts with prefix,
// regardless of topic boundaries. Used to tear down all subscriptions of one
// collection at once.
func (r *RealtimeClient) UnsubscribeByPrefix(prefix string) error {
	r.mu.Lock()
	removed := false
	for key := range r.subscriptions {
		if strings.HasPrefix(key.wire(), prefix) {
			delete(r.subscriptions, key)
			removed = true
		}
	}
	empty := len(r.subscriptions) == 0
	r.mu.Unlock()

	return r.afterRemoval(removed, empty)
}

func (r *RealtimeClient) afterRemoval(removed, empty bool) error {
	if !removed {
		return nil
	}
	if empty {
		r.Disconnect()
		return nil
	}
	return r.submitSubscriptions(context.Background())
}

func (r *RealtimeClient) unsubscribeListener(key subscriptionKey, sub *subscriber) error {
	removedKey, empty, found := r.removeSubscriber(key, sub)
	if !found {
		return nil
	}
	if empty {
		r.Disconnect()
		return nil
	}
	if removedKey {
		return r.submitSubscriptions(context.Background())
	}
	return nil
}

func (r *RealtimeClient) removeSubscriber(key subscriptionKey, sub *subscriber) (removedKey, empty, found bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.subscriptions[key]
	for i, cur := range list {
		if cur != sub {
			continue
		}
		list = append(list[:i], list[i+1:]...)
		found = true
		break
	}
	if !found {
		return false, false, false
	}
	if len(list) == 0 {
		delete(r.subscriptions, key)
		removedKey = true
	} else {
		r.subscriptions[key] = list
	}
	return removedKey, len(r.subscriptions) == 0, true
}

// submitSubscriptions sends the current non-empty key snapshot to the server
// over the control channel. The call is keyed by the session id so that
// overlapping resyncs supersede one another; a superseded call's abort is
// swallowed. No-op without an active session id.
func (r *RealtimeClient) submitSubscriptions(ctx context.Context) error {
	r.mu.Lock()
	clientID := r.clientID
	r.mu.Unlock()
	if clientID == "" {
		return nil
	}

	keys := r.snapshotKeys()
	err := r.client.Send(ctx, routes.Realtime, SendOptions{
		Method: http.MethodPost,
		Body: map[string]any{
			"clientId":      clientID,
			"subscriptions": keys,
		},
		RequestKey: RequestKey("realtime_" + clientID),
	}, nil)
	if err != nil {
		if isAbortError(err) {
			return nil
		}
		return err
	}

	r.mu.Lock()
	r.lastSent = keys
	r.mu.Unlock()
	return nil
}

func (r *RealtimeClient) snapshotKeys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.subscriptions))
	for key := range r.subscriptions {
		keys = append(keys, key.wire())
	}
	sort.Strings(keys)
	return keys
}

// initConnect starts (or restarts) one connection attempt: tears down any
// prior transport, arms the connect timeout, and spawns the reader.
func (r *RealtimeClient) initConnect(fromReconnect bool) {
	r.teardown(fromReconnect)

	streamCtx, cancel := context.WithCancel(context.Background())

	r.mu.Lock()
	r.connGen++
	gen := r.connGen
	r.cancelStream = cancel
	timeout := r.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	r.connectTimer = time.AfterFunc(timeout, func() {
		r.handleConnectError(gen, errors.New("recordbase: realtime connect timed out waiting for the server acknowledgement"))
	})
	r.mu.Unlock()

	go r.readLoop(streamCtx, gen)
}

func (r *RealtimeClient) readLoop(ctx context.Context, gen int) {
	streamURL := r.client.buildURL(routes.Realtime)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		r.handleConnectError(gen, err)
		return
	}
	req.Header.Set("Accept", "text/event-stream")
	if token := r.client.AuthStore.Token(); token != "" {
		req.Header.Set(headers.Authorization, token)
	}

	resp, err := r.client.httpClient.Do(req)
	if err != nil {
		if ctx.Err() == nil {
			r.handleConnectError(gen, err)
		}
		return
	}
	//nolint:errcheck // best-effort cleanup on return
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(resp.Body)
		r.handleConnectError(gen, newClientResponseError(streamURL, resp.StatusCode, parseErrorBody(data), nil))
		return
	}

	reader := bufio.NewReader(resp.Body)
	for {
		ev, err := readSSEEvent(reader)
		if err != nil {
			if ctx.Err() == nil {
				r.handleConnectError(gen, err)
			}
			return
		}
		if ev.Name == "" && ev.ID == "" && len(ev.Data) == 0 {
			continue
		}
		if ev.Name == connectEventName {
			r.handleConnectAck(ctx, gen, ev)
			continue
		}
		r.dispatch(ctx, gen, ev)
	}
}

// readSSEEvent parses one event frame: comment lines are skipped, id/event
// fields are single-valued, data lines accumulate newline-joined. A blank
// line terminates the frame.
func readSSEEvent(reader *bufio.Reader) (RealtimeEvent, error) {
	var ev RealtimeEvent
	var data strings.Builder
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if !errors.Is(err, io.EOF) {
				return RealtimeEvent{}, err
			}
			if line == "" {
				return RealtimeEvent{}, io.EOF
			}
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			ev.Data = []byte(data.String())
			return ev, nil
		}
		switch {
		case strings.HasPrefix(line, ":"):
			continue
		case strings.HasPrefix(line, "id:"):
			ev.ID = strings.TrimSpace(line[len("id:"):])
		case strings.HasPrefix(line, "event:"):
			ev.Name = strings.TrimSpace(line[len("event:"):])
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimSpace(line[len("data:"):]))
		}
	}
}

// handleConnectAck records the session id, performs the initial resync
// (retrying while new subscribe calls race it), and resolves queued waiters.
func (r *RealtimeClient) handleConnectAck(ctx context.Context, gen int, ev RealtimeEvent) {
	r.mu.Lock()
	if gen != r.connGen {
		r.mu.Unlock()
		return
	}
	if r.connectTimer != nil {
		r.connectTimer.Stop()
		r.connectTimer = nil
	}
	r.clientID = ev.ID
	r.mu.Unlock()

	var err error
	for attempt := 0; attempt < submitRetryLimit; attempt++ {
		before := r.snapshotKeys()
		if err = r.submitSubscriptions(ctx); err != nil {
			break
		}
		if stringSlicesEqual(before, r.snapshotKeys()) {
			break
		}
	}
	if err != nil {
		r.handleConnectError(gen, err)
		return
	}

	r.mu.Lock()
	if gen != r.connGen {
		r.mu.Unlock()
		return
	}
	waiters := r.waiters
	r.waiters = nil
	r.reconnectAttempts = 0
	r.hasEverConnected = true
	r.mu.Unlock()

	for _, ch := range waiters {
		ch <- nil
	}
}

func (r *RealtimeClient) dispatch(ctx context.Context, gen int, ev RealtimeEvent) {
	r.mu.Lock()
	if gen != r.connGen {
		r.mu.Unlock()
		return
	}
	var subs []*subscriber
	for key, list := range r.subscriptions {
		if key.wire() == ev.Name {
			subs = append(subs, list...)
			break
		}
	}
	r.mu.Unlock()

	if r.client.telemetry.OnRealtimeEvent != nil {
		r.client.telemetry.OnRealtimeEvent(ctx, ev)
	}
	r.client.telemetry.metric(ctx, "sdk_realtime_events_total", 1, map[string]string{"event": ev.Name})

	for _, sub := range subs {
		sub.fn(ev)
	}
}

// handleConnectError runs on any transport failure or connect timeout. The
// very first connection attempt and an exhausted retry budget reject all
// pending waiters with a normalized error; anything else schedules a silent
// retry from the backoff schedule.
func (r *RealtimeClient) handleConnectError(gen int, cause error) {
	r.mu.Lock()
	if gen != r.connGen {
		r.mu.Unlock()
		return
	}
	r.connGen++
	if r.connectTimer != nil {
		r.connectTimer.Stop()
		r.connectTimer = nil
	}
	cancel := r.cancelStream
	r.cancelStream = nil
	r.clientID = ""
	r.lastSent = nil

	budget := r.MaxReconnectAttempts
	exhausted := budget >= 0 && r.reconnectAttempts >= budget
	if !r.hasEverConnected || exhausted {
		waiters := r.waiters
		r.waiters = nil
		r.reconnectAttempts = 0
		r.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		err := newClientResponseError(r.client.buildURL(routes.Realtime), 0, nil, cause)
		r.client.telemetry.log(context.Background(), LogLevelError, "realtime_connect_failed", map[string]any{
			"error": cause.Error(),
		})
		for _, ch := range waiters {
			ch <- err
		}
		return
	}

	idx := r.reconnectAttempts
	if idx >= len(reconnectIntervals) {
		idx = len(reconnectIntervals) - 1
	}
	r.reconnectAttempts++
	r.reconnectTimer = time.AfterFunc(reconnectIntervals[idx], func() {
		r.initConnect(true)
	})
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// teardown cancels the transport and timers. Outside of an internal
// reconnect it also resolves pending waiters successfully and resets the
// reconnect bookkeeping; the subscription registry is always kept.
func (r *RealtimeClient) teardown(fromReconnect bool) {
	r.mu.Lock()
	if r.connectTimer != nil {
		r.connectTimer.Stop()
		r.connectTimer = nil
	}
	if r.reconnectTimer != nil {
		r.reconnectTimer.Stop()
		r.reconnectTimer = nil
	}
	cancel := r.cancelStream
	r.cancelStream = nil
	r.clientID = ""
	r.lastSent = nil
	r.connGen++
	var waiters []chan error
	if !fromReconnect {
		waiters = r.waiters
		r.waiters = nil
		r.reconnectAttempts = 0
	}
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	for _, ch := range waiters {
		ch <- nil
	}
}

func stringSlicesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
