// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package kv

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]Store {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	sqlite, err := Open(ctx, BackendSQLite, filepath.Join(dir, "db", "store.db"))
	require.NoError(t, err)
	file, err := Open(ctx, BackendFile, filepath.Join(dir, "files"))
	require.NoError(t, err)
	mem, err := Open(ctx, BackendMemory, "")
	require.NoError(t, err)

	stores := map[string]Store{"sqlite": sqlite, "file": file, "memory": mem}
	t.Cleanup(func() {
		for _, s := range stores {
			_ = s.Close()
		}
	})
	return stores
}

func TestStore_Contract(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, ok, err := s.GetItem(ctx, "missing")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, s.SetItem(ctx, "attachment:b", `{"n":2}`))
			require.NoError(t, s.SetItem(ctx, "attachment:a", `{"n":1}`))
			require.NoError(t, s.SetItem(ctx, "settings", `{}`))
			require.NoError(t, s.SetItem(ctx, "attachment:a", `{"n":3}`))

			v, ok, err := s.GetItem(ctx, "attachment:a")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, `{"n":3}`, v)

			keys, err := s.Keys(ctx, "attachment:")
			require.NoError(t, err)
			assert.Equal(t, []string{"attachment:a", "attachment:b"}, keys)

			all, err := s.Keys(ctx, "")
			require.NoError(t, err)
			assert.Len(t, all, 3)

			require.NoError(t, s.RemoveItem(ctx, "attachment:a"))
			require.NoError(t, s.RemoveItem(ctx, "attachment:a"), "removing twice is fine")
			_, ok, err = s.GetItem(ctx, "attachment:a")
			require.NoError(t, err)
			assert.False(t, ok)

			none, err := s.Keys(ctx, "nothing:")
			require.NoError(t, err)
			assert.Empty(t, none)
		})
	}
}

func TestStore_AwkwardKeys(t *testing.T) {
	ctx := context.Background()
	keys := []string{"a/b\\c", "con:aux", "emoji 🚀", "percent_%_under"}
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			for _, k := range keys {
				require.NoError(t, s.SetItem(ctx, k, k))
			}
			for _, k := range keys {
				v, ok, err := s.GetItem(ctx, k)
				require.NoError(t, err)
				assert.True(t, ok, k)
				assert.Equal(t, k, v)
			}
			got, err := s.Keys(ctx, "percent_")
			require.NoError(t, err)
			assert.Equal(t, []string{"percent_%_under"}, got)
		})
	}
}

func TestStore_ConcurrentIndependentKeys(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					k := fmt.Sprintf("k%02d", i)
					assert.NoError(t, s.SetItem(ctx, k, k))
					v, ok, err := s.GetItem(ctx, k)
					assert.NoError(t, err)
					assert.True(t, ok)
					assert.Equal(t, k, v)
				}(i)
			}
			wg.Wait()

			keys, err := s.Keys(ctx, "k")
			require.NoError(t, err)
			assert.Len(t, keys, 20)
		})
	}
}

func TestSQLiteStore_Reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "store.db")

	s, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s.SetItem(ctx, "k", "v"))
	require.NoError(t, s.Close())

	s, err = OpenSQLite(ctx, path)
	require.NoError(t, err)
	defer s.Close()
	v, ok, err := s.GetItem(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", v)
	assert.Equal(t, path, s.Path())
}

func TestOpen_UnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), "redis", "")
	assert.Error(t, err)

	_, err = Open(context.Background(), BackendSQLite, "")
	assert.Error(t, err)
}
