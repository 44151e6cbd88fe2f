// SPDX-License-Identifier: MIT

// Package ctxstore is the durable, schema-validated store for typed context
// documents keyed by (projectId, contextType). Small documents live inline
// in a fast KV; large ones spill into the object store behind a thin pointer.
package ctxstore

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no document exists for the key.
	// Consumers must handle Expired identically to NotFound.
	ErrNotFound = errors.New("context not found")
	// ErrExpired is returned when the document outlived its TTL.
	ErrExpired = errors.New("context expired")
)

// KV is the fast key/value backend holding inline documents and blob
// pointers. Implementations serialize writes per key (last-write-wins).
type KV interface {
	// Set stores val under key. A ttl of zero means no expiry.
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	// Get returns the value or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Exists reports whether key holds a live value.
	Exists(ctx context.Context, key string) (bool, error)
	Close() error
}
