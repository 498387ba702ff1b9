// Package redisfacts provides the Redis-backed implementation of
// [memory.FactStore].
//
// Every fact is a plain string under a flat key of the form
// "{namespace}.{suffix}" (e.g. "{namespace}.short_text_summary"). Values are
// written without expiry: summaries live as long as the conversation does,
// and the conversation manager deletes them explicitly.
//
// SetIfAbsent maps to Redis SETNX, which makes it a true atomic
// check-and-set suitable for the single-flight activity flag.
package redisfacts

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/MrWong99/gamemaster/pkg/memory"
)

// Ensure Store implements the interface at compile time.
var _ memory.FactStore = (*Store)(nil)

// Store is the Redis-backed [memory.FactStore].
// All methods are safe for concurrent use.
type Store struct {
	client *redis.Client
}

// New connects to the Redis server at addr (host:port), selects db, and
// verifies the connection with a ping.
func New(ctx context.Context, addr string, db int) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redisfacts: ping: %w", err)
	}
	return &Store{client: client}, nil
}

// NewFromClient wraps an existing Redis client. The caller keeps ownership of
// the client's lifecycle; [Store.Close] will still close it.
func NewFromClient(client *redis.Client) *Store {
	return &Store{client: client}
}

// Ping verifies the connection, for readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redisfacts: ping: %w", err)
	}
	return nil
}

// Get implements [memory.FactStore]. An absent key returns "" without error.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redisfacts: get: %w", err)
	}
	return val, nil
}

// Set implements [memory.FactStore].
func (s *Store) Set(ctx context.Context, key, value string) error {
	if err := s.client.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("redisfacts: set: %w", err)
	}
	return nil
}

// SetIfAbsent implements [memory.FactStore] via Redis SETNX.
func (s *Store) SetIfAbsent(ctx context.Context, key, value string) (bool, error) {
	set, err := s.client.SetNX(ctx, key, value, 0).Result()
	if err != nil {
		return false, fmt.Errorf("redisfacts: setnx: %w", err)
	}
	return set, nil
}

// Delete implements [memory.FactStore]. Deleting an absent key is not an
// error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redisfacts: delete: %w", err)
	}
	return nil
}

// Close releases the underlying Redis client.
func (s *Store) Close() error {
	return s.client.Close()
}
