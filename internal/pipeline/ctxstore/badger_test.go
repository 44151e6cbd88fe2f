// SPDX-License-Identifier: MIT

package ctxstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBadgerKVSetGet(t *testing.T) {
	kv, err := OpenBadgerKV(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })
	ctx := context.Background()

	require.NoError(t, kv.Set(ctx, "k", []byte("v"), 0))
	got, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	ok, err := kv.Exists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = kv.Get(ctx, "absent")
	require.ErrorIs(t, err, ErrNotFound)
}
