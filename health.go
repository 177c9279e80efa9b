package recordbase

import (
	"context"

	"github.com/recordbase/sdk-go/routes"
)

// HealthCheckResponse mirrors the /api/health payload.
type HealthCheckResponse struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data"`
}

// HealthService checks the API health status.
type HealthService struct {
	client *Client
}

// Check fetches the current health status of the API.
func (s *HealthService) Check(ctx context.Context) (*HealthCheckResponse, error) {
	var res HealthCheckResponse
	if err := s.client.Send(ctx, routes.Health, SendOptions{}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}
