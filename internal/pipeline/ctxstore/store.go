// SPDX-License-Identifier: MIT

package ctxstore

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/ManuGH/autocast/internal/log"
	"github.com/ManuGH/autocast/internal/metrics"
	"github.com/ManuGH/autocast/internal/objstore"
	"github.com/ManuGH/autocast/internal/pipeline/model"
	"github.com/ManuGH/autocast/internal/pipeline/registry"
)

// Placement names where the document body lives.
const (
	PlacementInline = "inline"
	PlacementBlob   = "blob"
)

// Options tunes placement, expiry and retrieval retries.
type Options struct {
	// SmallCtxBytes is the strict placement threshold: serialized documents
	// up to and including this size stay inline; larger ones become blobs.
	SmallCtxBytes int
	InlineTTL     time.Duration
	BlobTTL       time.Duration
	MaxRetries    int
	BaseDelay     time.Duration
}

// DefaultOptions mirrors the documented defaults.
func DefaultOptions() Options {
	return Options{
		SmallCtxBytes: 100 << 10,
		InlineTTL:     7 * 24 * time.Hour,
		BlobTTL:       30 * 24 * time.Hour,
		MaxRetries:    3,
		BaseDelay:     100 * time.Millisecond,
	}
}

// Ref names where a stored document landed.
type Ref string

// envelope is the KV record: either the inline payload or a blob pointer.
type envelope struct {
	ProjectID   string            `json:"projectId"`
	ContextType model.ContextType `json:"contextType"`
	Placement   string            `json:"placement"`
	Compressed  bool              `json:"compressed"`
	Data        []byte            `json:"data,omitempty"`
	BlobKey     string            `json:"blobKey,omitempty"`
	StoredAt    time.Time         `json:"storedAt"`
	ExpiresAt   time.Time         `json:"expiresAt"`
}

// Store validates, places and retrieves context documents.
type Store struct {
	kv    KV
	blobs objstore.Store
	opts  Options
	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

// New wires a Store over a KV backend and the blob object store.
func New(kv KV, blobs objstore.Store, opts Options) *Store {
	if opts.SmallCtxBytes <= 0 {
		opts.SmallCtxBytes = DefaultOptions().SmallCtxBytes
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultOptions().MaxRetries
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = DefaultOptions().BaseDelay
	}
	if opts.InlineTTL <= 0 {
		opts.InlineTTL = DefaultOptions().InlineTTL
	}
	if opts.BlobTTL <= 0 {
		opts.BlobTTL = DefaultOptions().BlobTTL
	}
	return &Store{kv: kv, blobs: blobs, opts: opts, now: time.Now, sleep: sleepCtx}
}

func kvKey(projectID string, t model.ContextType) string {
	return "ctx:" + projectID + ":" + string(t)
}

// Put validates the document and writes it atomically under
// (projectId, contextType). Writes are last-write-wins per key.
func (s *Store) Put(ctx context.Context, projectID string, doc model.Document) (Ref, error) {
	t := doc.Type()
	if !t.Valid() {
		return "", model.Errorf(model.KindValidation, "ctxstore: unknown context type %q", t)
	}
	if doc.Project() != projectID {
		return "", model.Errorf(model.KindValidation,
			"ctxstore: document projectId %q disagrees with key %q", doc.Project(), projectID)
	}
	if err := doc.Validate(); err != nil {
		return "", err
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return "", model.NewStageError(model.KindValidation, "ctxstore: serialize document", err)
	}

	payload, compressed := maybeCompress(raw)

	env := envelope{
		ProjectID:   projectID,
		ContextType: t,
		Compressed:  compressed,
		StoredAt:    s.now().UTC(),
	}

	var ttl time.Duration
	if len(raw) > s.opts.SmallCtxBytes {
		env.Placement = PlacementBlob
		env.BlobKey = registry.LayoutFor(projectID).ContextBlob(string(t))
		ttl = s.opts.BlobTTL
		env.ExpiresAt = env.StoredAt.Add(ttl)
		if err := s.blobs.Put(ctx, env.BlobKey, payload, "application/json"); err != nil {
			return "", model.NewStageError(model.KindBackend, "ctxstore: write blob", err)
		}
	} else {
		env.Placement = PlacementInline
		env.Data = payload
		ttl = s.opts.InlineTTL
		env.ExpiresAt = env.StoredAt.Add(ttl)
	}

	buf, err := json.Marshal(env)
	if err != nil {
		return "", model.NewStageError(model.KindBackend, "ctxstore: serialize envelope", err)
	}
	if err := s.kv.Set(ctx, kvKey(projectID, t), buf, ttl); err != nil {
		return "", model.NewStageError(model.KindBackend, "ctxstore: write envelope", err)
	}

	metrics.ContextWrites.WithLabelValues(string(t), env.Placement).Inc()
	log.WithComponentFromContext(ctx, "ctxstore").Debug().
		Str(log.FieldEvent, "context.put").
		Str(log.FieldProjectID, projectID).
		Str(log.FieldContextType, string(t)).
		Str(log.FieldPlacement, env.Placement).
		Int(log.FieldBytes, len(raw)).
		Msg("context stored")

	if env.Placement == PlacementBlob {
		return Ref("blob:" + env.BlobKey), nil
	}
	return Ref("inline:" + projectID + "/" + string(t)), nil
}

// Get retrieves and decodes the document, retrying transient backend
// failures with bounded exponential backoff.
func (s *Store) Get(ctx context.Context, projectID string, t model.ContextType) (model.Document, error) {
	var buf []byte
	err := s.withRetry(ctx, func() error {
		var err error
		buf, err = s.kv.Get(ctx, kvKey(projectID, t))
		return err
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, model.NewStageError(model.KindBackend, "ctxstore: read envelope", err)
	}

	var env envelope
	if err := json.Unmarshal(buf, &env); err != nil {
		return nil, model.NewStageError(model.KindBackend, "ctxstore: decode envelope", err)
	}
	if !env.ExpiresAt.IsZero() && s.now().After(env.ExpiresAt) {
		return nil, ErrExpired
	}

	payload := env.Data
	if env.Placement == PlacementBlob {
		err := s.withRetry(ctx, func() error {
			var err error
			payload, err = s.blobs.Get(ctx, env.BlobKey)
			return err
		})
		if err != nil {
			if errors.Is(err, objstore.ErrNotFound) {
				// Blob retention may lapse before the pointer does.
				return nil, ErrNotFound
			}
			return nil, model.NewStageError(model.KindBackend, "ctxstore: read blob", err)
		}
	}

	if env.Compressed {
		payload, err = gunzip(payload)
		if err != nil {
			return nil, model.NewStageError(model.KindBackend, "ctxstore: decompress", err)
		}
	}

	doc, err := model.NewDocument(t)
	if err != nil {
		return nil, model.NewStageError(model.KindValidation, "ctxstore: unknown type", err)
	}
	if err := json.Unmarshal(payload, doc); err != nil {
		return nil, model.NewStageError(model.KindBackend, "ctxstore: decode document", err)
	}
	return doc, nil
}

// Exists reports whether a live document is stored under the key.
func (s *Store) Exists(ctx context.Context, projectID string, t model.ContextType) (bool, error) {
	_, err := s.Get(ctx, projectID, t)
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrExpired) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// withRetry runs fn up to MaxRetries times with baseDelay * 2^(attempt-1)
// pauses. Not-found and context errors abort immediately.
func (s *Store) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 1; attempt <= s.opts.MaxRetries; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrNotFound) || errors.Is(err, objstore.ErrNotFound) || ctx.Err() != nil {
			return err
		}
		if attempt == s.opts.MaxRetries {
			break
		}
		delay := s.opts.BaseDelay * (1 << (attempt - 1))
		if serr := s.sleep(ctx, delay); serr != nil {
			return serr
		}
	}
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// maybeCompress gzips raw and keeps the result only when it shrinks the
// payload by at least 20%.
func maybeCompress(raw []byte) ([]byte, bool) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return raw, false
	}
	if err := zw.Close(); err != nil {
		return raw, false
	}
	if buf.Len()*5 <= len(raw)*4 {
		return buf.Bytes(), true
	}
	return raw, false
}

func gunzip(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer func() { _ = zr.Close() }()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) Close() error { return s.kv.Close() }

// ensure interface conformance of backends
var (
	_ KV = (*BadgerKV)(nil)
	_ KV = (*RedisKV)(nil)
)
