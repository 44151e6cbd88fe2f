// SPDX-License-Identifier: MIT

// Package objstore abstracts the durable object store that holds project
// folders, media blobs and large context documents.
package objstore

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("object not found")

// Object is stored bytes plus a content type.
type Object struct {
	Key         string
	Data        []byte
	ContentType string
}

// Store is a flat key/object interface. Keys are "/"-separated and relative
// to the configured bucket root; no component other than the Project Registry
// may invent new layout prefixes.
type Store interface {
	// Put writes an object atomically: a reader never observes a partial
	// object, only the prior value or the new one.
	Put(ctx context.Context, key string, data []byte, contentType string) error

	// Get returns the object bytes or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Exists reports whether the key holds an object.
	Exists(ctx context.Context, key string) (bool, error)

	// List returns all keys under the given prefix, lexicographically sorted.
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete removes the object. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}
