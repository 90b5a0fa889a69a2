package storage

import (
	"context"
	"errors"
)

// Common errors returned by the stores
var (
	ErrNotFound     = errors.New("key not found")
	ErrInvalidScope = errors.New("scope and key must not be empty")
)

// Store keeps small JSON blobs grouped by scope (one scope per user checkout).
type Store interface {
	// Get returns the value stored under key or ErrNotFound.
	Get(ctx context.Context, scope, key string) ([]byte, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, scope, key string, value []byte) error

	// Delete removes the keys. Missing keys are not an error.
	Delete(ctx context.Context, scope string, keys ...string) error

	// Close releases the underlying connection.
	Close() error
}

func validate(scope, key string) error {
	if scope == "" || key == "" {
		return ErrInvalidScope
	}
	return nil
}
