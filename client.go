package recordbase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/recordbase/sdk-go/headers"
)

const defaultUserAgent = "recordbase-sdk/0.1"
const defaultLang = "en-US"

// Config wires the base URL, auth store, transport, and telemetry for the API client.
type Config struct {
	BaseURL    string
	Lang       string
	HTTPClient *http.Client
	AuthStore  AuthStore
	Telemetry  TelemetryHooks
	UserAgent  string
}

// Client provides high-level helpers for interacting with a RecordBase API.
type Client struct {
	baseURL    string
	lang       string
	httpClient *http.Client
	telemetry  TelemetryHooks
	userAgent  string

	// AuthStore holds the current session token and auth record.
	AuthStore AuthStore

	// Grouped service clients.
	Admins   *AdminService
	Realtime *RealtimeClient
	Health   *HealthService

	hookMu      sync.Mutex
	beforeHooks []*beforeHookEntry
	afterHooks  []*afterHookEntry

	cancelMu   sync.Mutex
	pending    map[string]*pendingRequest
	autoCancel bool

	refreshMu   sync.Mutex
	autoRefresh *autoRefreshController
}

type pendingRequest struct {
	cancel context.CancelFunc
}

// NewClient validates the configuration and returns a ready-to-use Client.
func NewClient(cfg Config) (*Client, error) {
	normalized, err := normalizeBaseURL(cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	store := cfg.AuthStore
	if store == nil {
		store = NewBaseAuthStore()
	}
	lang := cfg.Lang
	if lang == "" {
		lang = defaultLang
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	client := &Client{
		baseURL:    normalized,
		lang:       lang,
		httpClient: httpClient,
		telemetry:  cfg.Telemetry,
		userAgent:  ua,
		AuthStore:  store,
		pending:    make(map[string]*pendingRequest),
		autoCancel: true,
	}
	client.Admins = &AdminService{client: client}
	client.Realtime = newRealtimeClient(client)
	client.Health = &HealthService{client: client}
	return client, nil
}

func normalizeBaseURL(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", errors.New("recordbase: base URL required")
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("recordbase: invalid base URL: %w", err)
	}
	if u.Scheme == "" {
		return "", errors.New("recordbase: base URL missing scheme (http/https)")
	}
	if u.Host == "" {
		return "", errors.New("recordbase: base URL missing host")
	}
	u.Path = strings.TrimSuffix(u.Path, "/")
	return strings.TrimSuffix(u.String(), "/"), nil
}

// Collection returns a service client scoped to the named collection.
func (c *Client) Collection(name string) *RecordService {
	return &RecordService{client: c, collection: name}
}

// MultipartBody carries a pre-encoded multipart form payload together with
// its boundary-bearing content type. Passing one as SendOptions.Body skips
// the default JSON content type.
type MultipartBody struct {
	ContentType string
	Reader      io.Reader
}

// SendOptions configures a single pipeline call.
type SendOptions struct {
	// Method defaults to GET.
	Method string
	// Headers are set on the outgoing request before the default header
	// injection runs.
	Headers map[string]string
	// Query is serialized onto the URL after before-send hooks run.
	Query map[string]any
	// Params is merged into Query.
	//
	// Deprecated: use Query.
	Params map[string]any
	// Body is JSON-encoded unless it is an io.Reader or a *MultipartBody.
	Body any
	// RequestKey controls auto-cancellation: nil derives the default
	// method+path key, RequestKeyNone() disables cancellation for this
	// call, any other value is used verbatim.
	RequestKey *string
	// Fetch overrides the transport for this call.
	Fetch func(req *http.Request) (*http.Response, error)
}

// RequestKey returns a pointer suitable for SendOptions.RequestKey.
func RequestKey(key string) *string {
	return &key
}

// RequestKeyNone disables auto-cancellation for a single call.
func RequestKeyNone() *string {
	key := ""
	return &key
}

// Send builds and dispatches one API request and decodes the JSON response
// into dst (ignored when dst is nil). Every failure is returned as a
// *ClientResponseError.
func (c *Client) Send(ctx context.Context, path string, opts SendOptions, dst any) error {
	req := &SendRequest{
		Method: opts.Method,
		Path:   path,
		Header: http.Header{},
		Query:  mergeQuery(opts.Query, opts.Params),
		Body:   opts.Body,
	}
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}

	requestKey := normalizeRequestKey(opts.RequestKey, req.Query)

	// Default header injection.
	if req.Header.Get("Content-Type") == "" {
		if mp, ok := req.Body.(*MultipartBody); ok {
			req.Header.Set("Content-Type", mp.ContentType)
		} else {
			req.Header.Set("Content-Type", "application/json")
		}
	}
	if c.lang != "" && req.Header.Get(headers.AcceptLanguage) == "" {
		req.Header.Set(headers.AcceptLanguage, c.lang)
	}
	if token := c.AuthStore.Token(); token != "" && req.Header.Get(headers.Authorization) == "" {
		req.Header.Set(headers.Authorization, token)
	}
	if req.Header.Get(headers.RequestID) == "" {
		req.Header.Set(headers.RequestID, uuid.NewString())
	}
	if c.userAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	// Auto-cancellation: a new request under the same key aborts the prior
	// in-flight one. The default key derives from the original method+path,
	// before any hook rewrites.
	sendCtx := ctx
	if c.autoCancellationEnabled() && !(requestKey != nil && *requestKey == "") {
		key := req.Method + " " + path
		if requestKey != nil {
			key = *requestKey
		}
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithCancel(ctx)
		entry := &pendingRequest{cancel: cancel}
		c.registerPending(key, entry)
		defer c.unregisterPending(key, entry)
	}

	for _, hook := range c.beforeHookSnapshot() {
		if err := hook(sendCtx, req); err != nil {
			return newClientResponseError(c.buildURL(req.Path), 0, nil, err)
		}
	}

	fullURL := c.buildURL(req.Path)
	if qs := encodeQuery(req.Query); qs != "" {
		fullURL += "?" + qs
	}

	var bodyReader io.Reader
	switch body := req.Body.(type) {
	case nil:
	case *MultipartBody:
		bodyReader = body.Reader
	case io.Reader:
		bodyReader = body
	default:
		encoded, err := json.Marshal(body)
		if err != nil {
			return newClientResponseError(fullURL, 0, nil, err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	httpReq, err := http.NewRequestWithContext(sendCtx, req.Method, fullURL, bodyReader)
	if err != nil {
		return newClientResponseError(fullURL, 0, nil, err)
	}
	for k, vs := range req.Header {
		httpReq.Header[k] = vs
	}
	injectTraceparent(sendCtx, httpReq)

	fetch := opts.Fetch
	if fetch == nil {
		fetch = c.httpClient.Do
	}
	if c.telemetry.OnHTTPRequest != nil {
		c.telemetry.OnHTTPRequest(sendCtx, httpReq)
	}
	c.telemetry.log(sendCtx, LogLevelInfo, "http_request", map[string]any{
		"method": httpReq.Method,
		"url":    httpReq.URL.String(),
	})
	start := time.Now()
	resp, err := fetch(httpReq)
	if c.telemetry.OnHTTPResponse != nil {
		c.telemetry.OnHTTPResponse(sendCtx, httpReq, resp, err, time.Since(start))
	}
	c.telemetry.metric(sendCtx, "sdk_http_request_latency_ms", float64(time.Since(start).Milliseconds()), map[string]string{
		"path": httpReq.URL.Path,
	})
	if err != nil {
		return newClientResponseError(fullURL, 0, nil, err)
	}
	//nolint:errcheck // best-effort cleanup on return
	defer func() { _ = resp.Body.Close() }()

	var data []byte
	if resp.StatusCode != http.StatusNoContent {
		data, err = io.ReadAll(resp.Body)
		if err != nil {
			return newClientResponseError(fullURL, resp.StatusCode, nil, err)
		}
	}
	if resp.StatusCode >= 400 {
		return newClientResponseError(fullURL, resp.StatusCode, parseErrorBody(data), nil)
	}

	for _, hook := range c.afterHookSnapshot() {
		data, err = hook(sendCtx, resp, data)
		if err != nil {
			return newClientResponseError(fullURL, resp.StatusCode, nil, err)
		}
	}

	if dst != nil && len(data) > 0 {
		if err := json.Unmarshal(data, dst); err != nil {
			return newClientResponseError(fullURL, resp.StatusCode, nil, err)
		}
	}
	return nil
}

// CancelRequest aborts the in-flight request registered under key, if any.
func (c *Client) CancelRequest(key string) {
	c.cancelMu.Lock()
	entry, ok := c.pending[key]
	if ok {
		delete(c.pending, key)
	}
	c.cancelMu.Unlock()
	if ok {
		entry.cancel()
	}
}

// CancelAllRequests aborts every registered in-flight request.
func (c *Client) CancelAllRequests() {
	c.cancelMu.Lock()
	entries := make([]*pendingRequest, 0, len(c.pending))
	for key, entry := range c.pending {
		entries = append(entries, entry)
		delete(c.pending, key)
	}
	c.cancelMu.Unlock()
	for _, entry := range entries {
		entry.cancel()
	}
}

// AutoCancellation globally enables or disables the per-key cancellation of
// duplicated requests. It affects only future calls.
func (c *Client) AutoCancellation(enabled bool) *Client {
	c.cancelMu.Lock()
	c.autoCancel = enabled
	c.cancelMu.Unlock()
	return c
}

func (c *Client) autoCancellationEnabled() bool {
	c.cancelMu.Lock()
	defer c.cancelMu.Unlock()
	return c.autoCancel
}

func (c *Client) registerPending(key string, entry *pendingRequest) {
	c.cancelMu.Lock()
	prior := c.pending[key]
	c.pending[key] = entry
	c.cancelMu.Unlock()
	if prior != nil {
		prior.cancel()
	}
}

func (c *Client) unregisterPending(key string, entry *pendingRequest) {
	c.cancelMu.Lock()
	if c.pending[key] == entry {
		delete(c.pending, key)
	}
	c.cancelMu.Unlock()
	entry.cancel()
}

func (c *Client) buildURL(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.baseURL + path
}

// mergeQuery copies query and folds the deprecated params map into it without
// mutating either input.
func mergeQuery(query, params map[string]any) map[string]any {
	merged := make(map[string]any, len(query)+len(params))
	for k, v := range params {
		merged[k] = v
	}
	for k, v := range query {
		merged[k] = v
	}
	return merged
}

// normalizeRequestKey resolves the effective request key, honoring the
// deprecated $autoCancel/$cancelKey query flags when no key was set
// explicitly. The flags are consumed either way so they never hit the wire.
func normalizeRequestKey(explicit *string, query map[string]any) *string {
	key := explicit
	if key == nil {
		if v, ok := query["$cancelKey"].(string); ok && v != "" {
			key = &v
		}
		if v, ok := query["$autoCancel"].(bool); ok && !v {
			key = RequestKeyNone()
		}
	}
	delete(query, "$cancelKey")
	delete(query, "$autoCancel")
	return key
}

// encodeQuery serializes query values onto a URL query string: slices repeat
// the key per element, times use a fixed ISO-8601 form, maps/structs encode
// as JSON text, nil values are omitted.
func encodeQuery(query map[string]any) string {
	if len(query) == 0 {
		return ""
	}
	values := url.Values{}
	for key, raw := range query {
		appendQueryValue(values, key, raw)
	}
	return values.Encode()
}

func appendQueryValue(values url.Values, key string, raw any) {
	switch v := raw.(type) {
	case nil:
		return
	case time.Time:
		values.Add(key, v.UTC().Format("2006-01-02T15:04:05.000Z"))
		return
	case string:
		values.Add(key, v)
		return
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		values.Add(key, fmt.Sprintf("%v", v))
		return
	}

	rv := reflect.ValueOf(raw)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		for i := 0; i < rv.Len(); i++ {
			appendQueryValue(values, key, rv.Index(i).Interface())
		}
		return
	}

	encoded, err := json.Marshal(raw)
	if err != nil {
		return
	}
	values.Add(key, string(encoded))
}
