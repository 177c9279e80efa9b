package recordbase

import (
	"context"
	"net/http"
	"time"

	"github.com/recordbase/sdk-go/routes"
)

// AuthResponse mirrors the backend's auth endpoints: a fresh token plus the
// authenticated principal (admin or record, depending on the endpoint).
type AuthResponse struct {
	Token  string         `json:"token"`
	Admin  map[string]any `json:"admin,omitempty"`
	Record map[string]any `json:"record,omitempty"`
}

func (r *AuthResponse) principal() map[string]any {
	if r.Admin != nil {
		return r.Admin
	}
	return r.Record
}

type authOptions struct {
	autoRefreshThreshold time.Duration
	body                 map[string]any
	query                map[string]any
}

// AuthOption customizes an authentication call.
type AuthOption func(*authOptions)

// WithAutoRefresh installs the auto-refresh binding after a successful
// authentication: before every subsequent request, a session that would
// expire within threshold is refreshed (or fully reauthenticated with the
// credentials of this call) transparently.
func WithAutoRefresh(threshold time.Duration) AuthOption {
	return func(o *authOptions) {
		o.autoRefreshThreshold = threshold
	}
}

// WithAuthBodyField attaches an extra body field to the auth request.
func WithAuthBodyField(key string, value any) AuthOption {
	return func(o *authOptions) {
		if o.body == nil {
			o.body = map[string]any{}
		}
		o.body[key] = value
	}
}

// WithAuthQuery attaches query parameters (e.g. expand/fields) to the auth request.
func WithAuthQuery(query map[string]any) AuthOption {
	return func(o *authOptions) {
		if o.query == nil {
			o.query = map[string]any{}
		}
		for k, v := range query {
			o.query[k] = v
		}
	}
}

func buildAuthOptions(opts []AuthOption) authOptions {
	var o authOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// AdminService authenticates admin accounts against the API.
type AdminService struct {
	client *Client
}

// AuthWithPassword authenticates an admin with email/password and saves the
// returned session into the client's auth store. With WithAutoRefresh, the
// credentials are captured and the auto-refresh binding is installed.
func (s *AdminService) AuthWithPassword(ctx context.Context, email, password string, opts ...AuthOption) (*AuthResponse, error) {
	o := buildAuthOptions(opts)
	res, err := s.authWithPassword(ctx, email, password, o)
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
				_, err := s.authWithPassword(ctx, email, password, o)
				return err
			},
		)
	}
	return res, nil
}

func (s *AdminService) authWithPassword(ctx context.Context, email, password string, o authOptions) (*AuthResponse, error) {
	body := map[string]any{
		"identity": email,
		"password": password,
	}
	for k, v := range o.body {
		body[k] = v
	}

	var res AuthResponse
	err := s.client.Send(ctx, routes.AdminAuthWithPassword, SendOptions{
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

// AuthRefresh exchanges the stored admin token for a fresh one and saves it.
func (s *AdminService) AuthRefresh(ctx context.Context, opts ...AuthOption) (*AuthResponse, error) {
	o := buildAuthOptions(opts)

	var res AuthResponse
	err := s.client.Send(ctx, routes.AdminAuthRefresh, SendOptions{
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
