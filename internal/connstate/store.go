// Package connstate keeps the last connection status reported for each
// gateway instance in Redis.
package connstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// ErrMissingInstance is returned when a status names no instance.
var ErrMissingInstance = errors.New("instance is required")

// ErrDisabled is returned when no Redis client is configured.
var ErrDisabled = errors.New("connection store disabled")

// KeyPrefix namespaces the status keys.
const KeyPrefix = "conexao:"

// Report is the body of a connection webhook.
type Report struct {
	Instance  string          `json:"instance"`
	Status    string          `json:"status"`
	UpdatedAt json.RawMessage `json:"updatedAt,omitempty"`
}

// Status is what gets stored per instance.
type Status struct {
	Status    string          `json:"status"`
	UpdatedAt json.RawMessage `json:"updatedAt,omitempty"`
}

// Store reads and writes connection statuses. A nil client disables it.
type Store struct {
	rdb redis.UniversalClient
}

// New creates a Store over rdb, which may be nil.
func New(rdb redis.UniversalClient) *Store {
	return &Store{rdb: rdb}
}

// Enabled reports whether a Redis client is configured.
func (s *Store) Enabled() bool {
	return s.rdb != nil
}

// Save stores r's status under its instance.
func (s *Store) Save(ctx context.Context, r Report) error {
	if r.Instance == "" {
		return ErrMissingInstance
	}
	if s.rdb == nil {
		return ErrDisabled
	}
	data, err := json.Marshal(Status{Status: r.Status, UpdatedAt: r.UpdatedAt})
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, KeyPrefix+r.Instance, data, 0).Err(); err != nil {
		return fmt.Errorf("store connection status: %w", err)
	}
	return nil
}

// Get returns the stored status of instance, or nil when none was reported.
func (s *Store) Get(ctx context.Context, instance string) (*Status, error) {
	if s.rdb == nil {
		return nil, ErrDisabled
	}
	data, err := s.rdb.Get(ctx, KeyPrefix+instance).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read connection status: %w", err)
	}
	var st Status
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("decode connection status: %w", err)
	}
	return &st, nil
}
