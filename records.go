package recordbase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/recordbase/sdk-go/routes"
)

// RecordService exposes auth and realtime operations for a single collection.
// Obtain one via Client.Collection.
type RecordService struct {
	client     *Client
	collection string
}

func (s *RecordService) basePath() string {
	return routes.Collections + "/" + url.PathEscape(s.collection)
}

// AuthWithPassword authenticates an auth record with identity/password and
// saves the returned session into the client's auth store. With
// WithAutoRefresh, the credentials are captured and the auto-refresh binding
// is installed.
func (s *RecordService) AuthWithPassword(ctx context.Context, identity, password string, opts ...AuthOption) (*AuthResponse, error) {
	o := buildAuthOptions(opts)
	res, err := s.authWithPassword(ctx, identity, password, o)
	if err != nil {
		return nil, err
	}
	if o.autoRefreshThreshold > 0 {
		s.client.registerAutoRefresh(o.autoRefreshThreshold,
			func(ctx context.Context) error {
				_, err := s.AuthRefresh(ctx)
				return err
			},
			func(ctx context.Context) error {
				_, err := s.authWithPassword(ctx, identity, password, o)
				return err
			},
		)
	}
	return res, nil
}

func (s *RecordService) authWithPassword(ctx context.Context, identity, password string, o authOptions) (*AuthResponse, error) {
	body := map[string]any{
		"identity": identity,
		"password": password,
	}
	for k, v := range o.body {
		body[k] = v
	}

	var res AuthResponse
	err := s.client.Send(ctx, s.basePath()+"/auth-with-password", SendOptions{
		Method: http.MethodPost,
		Body:   body,
		Query:  o.query,
	}, &res)
	if err != nil {
		return nil, err
	}
	if err := s.client.AuthStore.Save(res.Token, res.principal()); err != nil {
		return nil, err
	}
	return &res, nil
}

// AuthRefresh exchanges the stored record token for a fresh one and saves it.
func (s *RecordService) AuthRefresh(ctx context.Context, opts ...AuthOption) (*AuthResponse, error) {
	o := buildAuthOptions(opts)

	var res AuthResponse
	err := s.client.Send(ctx, s.basePath()+"/auth-refresh", SendOptions{
		Method: http.MethodPost,
		Query:  o.query,
	}, &res)
	if err != nil {
		return nil, err
	}
	if err := s.client.AuthStore.Save(res.Token, res.principal()); err != nil {
		return nil, err
	}
	return &res, nil
}

// OAuth2CodePayload carries the parameters of an OAuth2 code exchange that
// the caller collected from the provider redirect.
type OAuth2CodePayload struct {
	Provider     string
	Code         string
	CodeVerifier string
	RedirectURL  string

	// ExpectedState/ReceivedState guard against replayed or crossed
	// redirects. When ExpectedState is set, a mismatch fails the exchange
	// locally with ErrProviderMismatch before anything hits the wire.
	ExpectedState string
	ReceivedState string
}

// AuthWithOAuth2Code exchanges an OAuth2 authorization code for a session and
// saves it into the client's auth store.
func (s *RecordService) AuthWithOAuth2Code(ctx context.Context, payload OAuth2CodePayload, opts ...AuthOption) (*AuthResponse, error) {
	if payload.ExpectedState != "" && payload.ExpectedState != payload.ReceivedState {
		return nil, fmt.Errorf("%w: state %q does not match %q", ErrProviderMismatch, payload.ReceivedState, payload.ExpectedState)
	}
	o := buildAuthOptions(opts)

	body := map[string]any{
		"provider":     payload.Provider,
		"code":         payload.Code,
		"codeVerifier": payload.CodeVerifier,
		"redirectUrl":  payload.RedirectURL,
	}
	for k, v := range o.body {
		body[k] = v
	}

	var res AuthResponse
	err := s.client.Send(ctx, s.basePath()+"/auth-with-oauth2", SendOptions{
		Method: http.MethodPost,
		Body:   body,
		Query:  o.query,
	}, &res)
	if err != nil {
		return nil, err
	}
	if err := s.client.AuthStore.Save(res.Token, res.principal()); err != nil {
		return nil, err
	}
	return &res, nil
}

// GetOne fetches a single record by id into dst.
func (s *RecordService) GetOne(ctx context.Context, id string, dst any, query map[string]any) error {
	if id == "" {
		return ErrMissingIdentifier
	}
	return s.client.Send(ctx, s.basePath()+"/records/"+url.PathEscape(id), SendOptions{
		Query: query,
	}, dst)
}

// Update patches a single record by id. When the updated record is the
// currently authenticated principal, the stored copy is refreshed
// opportunistically.
func (s *RecordService) Update(ctx context.Context, id string, body map[string]any, dst any) error {
	if id == "" {
		return ErrMissingIdentifier
	}
	var updated map[string]any
	err := s.client.Send(ctx, s.basePath()+"/records/"+url.PathEscape(id), SendOptions{
		Method: http.MethodPatch,
		Body:   body,
	}, &updated)
	if err != nil {
		return err
	}
	if s.isAuthenticatedRecord(id) {
		_ = s.client.AuthStore.Save(s.client.AuthStore.Token(), updated)
	}
	if dst != nil {
		raw, err := json.Marshal(updated)
		if err != nil {
			return err
		}
		return json.Unmarshal(raw, dst)
	}
	return nil
}

// Delete removes a single record by id. When the deleted record is the
// currently authenticated principal, the auth store is cleared.
func (s *RecordService) Delete(ctx context.Context, id string) error {
	if id == "" {
		return ErrMissingIdentifier
	}
	err := s.client.Send(ctx, s.basePath()+"/records/"+url.PathEscape(id), SendOptions{
		Method: http.MethodDelete,
	}, nil)
	if err != nil {
		return err
	}
	if s.isAuthenticatedRecord(id) {
		_ = s.client.AuthStore.Clear()
	}
	return nil
}

func (s *RecordService) isAuthenticatedRecord(id string) bool {
	record := s.client.AuthStore.Record()
	storedID, _ := record["id"].(string)
	if storedID == "" || storedID != id {
		return false
	}
	name, _ := record["collectionName"].(string)
	cid, _ := record["collectionId"].(string)
	return name == s.collection || cid == s.collection || (name == "" && cid == "")
}

// Subscribe registers a realtime listener for the given record id (or "*"
// for the whole collection) and returns its unsubscribe handle.
func (s *RecordService) Subscribe(ctx context.Context, topic string, fn SubscriptionFunc, options *SubscriptionOptions) (UnsubscribeFunc, error) {
	if topic == "" {
		return nil, ErrMissingIdentifier
	}
	return s.client.Realtime.Subscribe(ctx, s.collection+"/"+topic, fn, options)
}

// Unsubscribe removes the collection's realtime listeners: with topics, only
// the matching record subscriptions; without, every subscription belonging
// to this collection.
func (s *RecordService) Unsubscribe(topics ...string) error {
	if len(topics) == 0 {
		return s.client.Realtime.UnsubscribeByPrefix(s.collection + "/")
	}
	prefixed := make([]string, 0, len(topics))
	for _, t := range topics {
		prefixed = append(prefixed, s.collection+"/"+t)
	}
	return s.client.Realtime.Unsubscribe(prefixed...)
}
