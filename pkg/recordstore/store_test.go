/*
Portions Copyright (c) Microsoft Corporation.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package recordstore_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Azure/stormspotter/pkg/recordstore"
)

func TestAppendReadRoundtrip(t *testing.T) {
	dir := t.TempDir()
	store := recordstore.New(dir)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Append(ctx, "User", map[string]any{
			"id":    fmt.Sprintf("u%d", i),
			"index": i,
		}))
	}
	require.NoError(t, store.Close())

	var ids []string
	err := recordstore.Read(ctx, filepath.Join(dir, "User.sqlite"), func(record map[string]any) error {
		ids = append(ids, record["id"].(string))
		return nil
	})
	require.NoError(t, err)
	// Insertion order is preserved.
	assert.Equal(t, []string{"u0", "u1", "u2", "u3", "u4"}, ids)
}

func TestAppendNestedValues(t *testing.T) {
	dir := t.TempDir()
	store := recordstore.New(dir)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, "sub", map[string]any{
		"id": "/subscriptions/s/vaults/kv",
		"properties": map[string]any{
			"accessPolicies": []any{
				map[string]any{"objectId": "o1"},
			},
		},
	}))
	require.NoError(t, store.Close())

	var got map[string]any
	err := recordstore.Read(ctx, filepath.Join(dir, "sub.sqlite"), func(record map[string]any) error {
		got = record
		return nil
	})
	require.NoError(t, err)

	props, ok := got["properties"].(map[string]any)
	require.True(t, ok, "nested maps must decode as map[string]any, got %T", got["properties"])
	policies := props["accessPolicies"].([]any)
	require.Len(t, policies, 1)
	assert.Equal(t, "o1", policies[0].(map[string]any)["objectId"])
}

func TestIsSQLite(t *testing.T) {
	dir := t.TempDir()
	store := recordstore.New(dir)
	require.NoError(t, store.Append(context.Background(), "User", map[string]any{"id": "u1"}))
	require.NoError(t, store.Close())

	assert.True(t, recordstore.IsSQLite(filepath.Join(dir, "User.sqlite")))

	other := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(other, []byte("just text"), 0o644))
	assert.False(t, recordstore.IsSQLite(other))
	assert.False(t, recordstore.IsSQLite(filepath.Join(dir, "missing.sqlite")))
}

func TestArchiveExtractRoundtrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "results_20200101-000000")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	store := recordstore.New(dir)
	ctx := context.Background()
	require.NoError(t, store.Append(ctx, "User", map[string]any{"id": "u1"}))
	require.NoError(t, store.Append(ctx, "rbac", map[string]any{"id": "ra1"}))
	require.NoError(t, store.Close())

	archive, err := recordstore.Archive(dir)
	require.NoError(t, err)
	assert.Equal(t, dir+".tar.xz", archive)

	extracted, err := recordstore.Extract(archive)
	require.NoError(t, err)
	defer os.RemoveAll(extracted)

	for _, name := range []string{"User.sqlite", "rbac.sqlite"} {
		path := filepath.Join(extracted, name)
		assert.True(t, recordstore.IsSQLite(path), "%s missing after roundtrip", name)
	}

	var ids []string
	require.NoError(t, recordstore.Read(ctx, filepath.Join(extracted, "User.sqlite"), func(record map[string]any) error {
		ids = append(ids, record["id"].(string))
		return nil
	}))
	assert.Equal(t, []string{"u1"}, ids)
}
