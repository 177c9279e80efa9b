package recordbase

import (
	"context"
	"encoding/json"
)

// AsyncAuthStoreConfig wires pluggable persistence callbacks into an
// AsyncAuthStore.
type AsyncAuthStoreConfig struct {
	// SaveFunc persists the serialized {token, model} JSON. Required.
	SaveFunc func(serialized string) error
	// ClearFunc removes the persisted state. Optional; when nil, SaveFunc
	// is invoked with an empty string instead.
	ClearFunc func() error
	// InitialData preloads the store from previously persisted JSON.
	// Malformed or stale data is ignored.
	InitialData string
	// Telemetry receives persistence failure reports.
	Telemetry TelemetryHooks
}

// AsyncAuthStore extends BaseAuthStore with external persistence. The base
// store still validates and mutates synchronously; the persistence callback
// runs after every change and its failures are reported through telemetry
// instead of propagating, trading strict durability for an always-usable
// in-memory state.
type AsyncAuthStore struct {
	*BaseAuthStore
	cfg AsyncAuthStoreConfig
}

// NewAsyncAuthStore builds a store around the given persistence callbacks.
func NewAsyncAuthStore(cfg AsyncAuthStoreConfig) *AsyncAuthStore {
	s := &AsyncAuthStore{
		BaseAuthStore: NewBaseAuthStore(),
		cfg:           cfg,
	}

	if cfg.InitialData != "" {
		var payload authCookiePayload
		if err := json.Unmarshal([]byte(cfg.InitialData), &payload); err == nil {
			// Loading never fails; an expired persisted token simply leaves
			// the store empty.
			_ = s.BaseAuthStore.Save(payload.Token, payload.Record)
		}
	}

	// Persistence piggybacks on the change notification so that every
	// mutation path (Save, Clear, LoadFromCookie) reaches storage.
	s.BaseAuthStore.OnChange(s.persist, false)

	return s
}

func (s *AsyncAuthStore) persist(token string, record map[string]any) {
	var err error
	if token == "" && record == nil && s.cfg.ClearFunc != nil {
		err = s.cfg.ClearFunc()
	} else if s.cfg.SaveFunc != nil {
		serialized := ""
		if token != "" {
			raw, marshalErr := json.Marshal(authCookiePayload{Token: token, Record: record})
			if marshalErr != nil {
				s.cfg.Telemetry.log(context.Background(), LogLevelError, "auth_store_serialize_failed", map[string]any{
					"error": marshalErr.Error(),
				})
				return
			}
			serialized = string(raw)
		}
		err = s.cfg.SaveFunc(serialized)
	}
	if err != nil {
		s.cfg.Telemetry.log(context.Background(), LogLevelError, "auth_store_persist_failed", map[string]any{
			"error": err.Error(),
		})
	}
}
