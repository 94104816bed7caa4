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

package ingestor_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Azure/stormspotter/pkg/graph"
	"github.com/Azure/stormspotter/pkg/ingestor"
	"github.com/Azure/stormspotter/pkg/recordstore"
)

const subID = "5a58f3a7-57bd-49b2-bb4c-0abc12f3dead"

type fakeWriter struct {
	mu      sync.Mutex
	nodes   []*graph.Node
	rels    []graph.Relationship
	cyphers []string
	// anchors records the enqueue order; nodes anchor on their own id,
	// relationships on their target id.
	anchors []string
}

func (w *fakeWriter) WriteNode(node *graph.Node) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.nodes = append(w.nodes, node)
	w.anchors = append(w.anchors, node.ID)
}

func (w *fakeWriter) WriteRelationship(rel graph.Relationship) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.rels = append(w.rels, rel)
	w.anchors = append(w.anchors, rel.TargetID)
}

func (w *fakeWriter) Run(cypher string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cyphers = append(w.cyphers, cypher)
}

func (w *fakeWriter) nodesOf(class graph.Label) []*graph.Node {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []*graph.Node
	for _, n := range w.nodes {
		if n.Class == class {
			out = append(out, n)
		}
	}
	return out
}

func (w *fakeWriter) relsNamed(name string) []graph.Relationship {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []graph.Relationship
	for _, r := range w.rels {
		if r.Name == name {
			out = append(out, r)
		}
	}
	return out
}

// seedStore writes a small but representative collection result set.
func seedStore(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	store := recordstore.New(dir)
	ctx := context.Background()

	appendAll := func(class string, records ...map[string]any) {
		for _, record := range records {
			require.NoError(t, store.Append(ctx, class, record))
		}
	}

	appendAll("User", map[string]any{
		"id":                "aa11bb22-0000-0000-0000-000000000001",
		"userPrincipalName": "alice@contoso.com",
		"displayName":       "Alice",
	})
	appendAll("Group", map[string]any{
		"id":          "11111111-0000-0000-0000-000000000001",
		"displayName": "Admins",
		"members":     []any{"aa11bb22-0000-0000-0000-000000000001"},
		"owners":      []any{},
	})
	appendAll("tenant", map[string]any{
		"id":       "/tenants/99999999-0000-0000-0000-000000000009",
		"tenantId": "99999999-0000-0000-0000-000000000009",
	})
	appendAll("subscription", map[string]any{
		"id":             "/subscriptions/" + subID,
		"subscriptionId": subID,
		"tenantId":       "99999999-0000-0000-0000-000000000009",
		"displayName":    "Production",
	})
	appendAll(subID,
		map[string]any{
			"id":   "/subscriptions/" + subID + "/resourceGroups/ops",
			"type": "Microsoft.Resources/resourceGroups",
			"name": "ops",
		},
		map[string]any{
			"id":   "/subscriptions/" + subID + "/resourceGroups/ops/providers/Microsoft.KeyVault/vaults/prod-kv",
			"type": "Microsoft.KeyVault/vaults",
			"name": "prod-kv",
			"properties": map[string]any{
				"vaultUri": "https://prod-kv.vault.azure.net/",
			},
		})
	appendAll("rbac", map[string]any{
		"id":           "/subscriptions/" + subID + "/providers/Microsoft.Authorization/roleAssignments/ra1",
		"principal_id": "aa11bb22-0000-0000-0000-000000000001",
		"scope":        "/subscriptions/" + subID,
		"roleName":     "Virtual Machine Contributor",
	})
	appendAll("management_certs", map[string]any{
		"id":             "/subscriptions/" + subID + "/certificates/ab12cd34",
		"thumbprint":     "AB12CD34",
		"subscriptionId": subID,
	})

	require.NoError(t, store.Close())
	return dir
}

func TestIngest(t *testing.T) {
	dir := seedStore(t)
	writer := &fakeWriter{}

	require.NoError(t, ingestor.Ingest(context.Background(), dir, writer))

	require.Len(t, writer.nodesOf(graph.LabelAADUser), 1)
	require.Len(t, writer.nodesOf(graph.LabelAADGroup), 1)
	require.Len(t, writer.nodesOf(graph.LabelTenant), 1)
	require.Len(t, writer.nodesOf(graph.LabelSubscription), 1)
	require.Len(t, writer.nodesOf(graph.LabelResourceGroup), 1)
	require.Len(t, writer.nodesOf(graph.LabelKeyVault), 1)
	require.Len(t, writer.nodesOf(graph.LabelManagementCert), 1)

	vault := writer.nodesOf(graph.LabelKeyVault)[0]
	assert.Equal(t, "https://prod-kv.vault.azure.net/", vault.Props["vaultUri"])

	assert.Len(t, writer.relsNamed(graph.RelMemberOf), 1)
	assert.Len(t, writer.relsNamed("VirtualMachineContributor"), 1)
	assert.Len(t, writer.relsNamed(graph.RelAuthenticates), 1)
	// tenant>subscription, subscription>resource group, resource group>vault
	assert.Len(t, writer.relsNamed(graph.RelContains), 3)

	// The linking pass runs last, after every record.
	require.Len(t, writer.cyphers, 3)
	assert.Contains(t, writer.cyphers[0], "RepresentedBy")
}

func TestIngestKeepsRecordStatementsContiguous(t *testing.T) {
	dir := t.TempDir()
	store := recordstore.New(dir)
	ctx := context.Background()

	// Two stores ingested by concurrent goroutines; every record expands
	// to one node plus four membership edges anchored on the same id.
	members := []any{"m1", "m2", "m3", "m4"}
	for i := 0; i < 8; i++ {
		require.NoError(t, store.Append(ctx, "Group", map[string]any{
			"id":      fmt.Sprintf("g%d", i),
			"members": members,
			"owners":  []any{},
		}))
		require.NoError(t, store.Append(ctx, "DirectoryRole", map[string]any{
			"id":      fmt.Sprintf("r%d", i),
			"members": members,
		}))
	}
	require.NoError(t, store.Close())

	writer := &fakeWriter{}
	require.NoError(t, ingestor.Ingest(ctx, dir, writer))

	// All statements derived from one record must sit in one block on
	// the queue, never interleaved with another record's.
	const blockSize = 5
	counts := map[string]int{}
	for _, anchor := range writer.anchors {
		counts[anchor]++
	}
	require.Len(t, writer.anchors, 16*blockSize)
	for i := 0; i < len(writer.anchors); i += blockSize {
		block := writer.anchors[i : i+blockSize]
		require.Equal(t, blockSize, counts[block[0]], "anchor %s", block[0])
		for _, anchor := range block[1:] {
			assert.Equal(t, block[0], anchor, "statements of record %s interleaved", block[0])
		}
	}
}

func TestIngestSkipsMalformedRecords(t *testing.T) {
	dir := t.TempDir()
	store := recordstore.New(dir)
	ctx := context.Background()
	// Missing the required userPrincipalName.
	require.NoError(t, store.Append(ctx, "User", map[string]any{"id": "u1"}))
	require.NoError(t, store.Append(ctx, "User", map[string]any{
		"id":                "u2",
		"userPrincipalName": "bob@contoso.com",
	}))
	require.NoError(t, store.Close())

	writer := &fakeWriter{}
	require.NoError(t, ingestor.Ingest(ctx, dir, writer))
	require.Len(t, writer.nodesOf(graph.LabelAADUser), 1)
	assert.Equal(t, "u2", writer.nodesOf(graph.LabelAADUser)[0].ID)
}

func TestIngestIgnoresUnknownFiles(t *testing.T) {
	dir := t.TempDir()
	store := recordstore.New(dir)
	ctx := context.Background()
	require.NoError(t, store.Append(ctx, "notes", map[string]any{"id": "x"}))
	require.NoError(t, store.Close())
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("not a store"), 0o644))

	writer := &fakeWriter{}
	require.NoError(t, ingestor.Ingest(ctx, dir, writer))
	assert.Empty(t, writer.nodes)
	assert.Empty(t, writer.rels)
}

func TestConfig(t *testing.T) {
	cfg := &ingestor.Config{Archive: "results.tar.xz", Password: "secret"}
	require.NoError(t, cfg.Default())
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "bolt://localhost:7687", cfg.URI())

	missing := &ingestor.Config{Password: "secret"}
	require.NoError(t, missing.Default())
	assert.Error(t, missing.Validate())

	noPass := &ingestor.Config{Archive: "results.tar.xz"}
	require.NoError(t, noPass.Default())
	assert.Error(t, noPass.Validate())
}
