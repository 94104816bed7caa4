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

// Package ingestor replays a collector results archive into the graph
// database: records become typed nodes, their implicit references become
// relationships.
package ingestor

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Azure/stormspotter/pkg/graph"
	"github.com/Azure/stormspotter/pkg/graph/neo4j"
	"github.com/Azure/stormspotter/pkg/recordstore"
)

// GraphWriter is the slice of the database writer ingestion needs.
type GraphWriter interface {
	WriteNode(node *graph.Node)
	WriteRelationship(rel graph.Relationship)
	Run(cypher string)
}

// Run extracts the archive, streams every record store file into the
// database and finishes with the linking pass.
func Run(ctx context.Context, cfg *Config) error {
	if err := cfg.Default(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	log := logr.FromContextOrDiscard(ctx)

	dir, err := recordstore.Extract(cfg.Archive)
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	writer, err := neo4j.NewWriter(ctx, cfg.URI(), cfg.Username, cfg.Password)
	if err != nil {
		return err
	}

	start := time.Now()
	ingestErr := Ingest(ctx, dir, writer)
	if err := writer.Close(ctx); err != nil && ingestErr == nil {
		ingestErr = err
	}

	written, dropped := writer.Stats()
	log.Info("ingestion finished", "statements", written, "dropped", dropped, "elapsed", time.Since(start))
	return ingestErr
}

// Ingest walks the extracted record store files concurrently and queues the
// derived graph entities on the writer, ending with the linking pass. The
// writer serializes the actual database traffic.
func Ingest(ctx context.Context, dir string, writer GraphWriter) error {
	log := logr.FromContextOrDiscard(ctx).WithName("ingest")

	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	serialized := &serialWriter{writer: writer}
	group, ctx := errgroup.WithContext(ctx)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if !recordstore.IsSQLite(path) {
			log.V(1).Info("skipping non-store file", "file", entry.Name())
			continue
		}
		group.Go(func() error {
			return ingestFile(ctx, path, serialized, log)
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}

	linkingPass(writer)
	return nil
}

// serialWriter keeps everything derived from one record contiguous on the
// writer queue; the files themselves are ingested concurrently.
type serialWriter struct {
	mu     sync.Mutex
	writer GraphWriter
}

func (s *serialWriter) writeRecord(nodes []*graph.Node, rels []graph.Relationship) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, node := range nodes {
		s.writer.WriteNode(node)
	}
	for _, rel := range rels {
		s.writer.WriteRelationship(rel)
	}
}

func ingestFile(ctx context.Context, path string, writer *serialWriter, log logr.Logger) error {
	stem := strings.TrimSuffix(filepath.Base(path), ".sqlite")

	switch {
	case stem == "rbac":
		return ingestRoleAssignments(ctx, path, writer, log)
	case isSubscriptionStem(stem):
		return ingestResources(ctx, path, writer, log)
	default:
		schema, ok := graph.SchemaForClass(stem)
		if !ok {
			log.Info("skipping unrecognized record store", "file", filepath.Base(path))
			return nil
		}
		return ingestClass(ctx, path, schema, writer, log)
	}
}

// isSubscriptionStem reports whether a file holds ARM resources, whose
// stores are named by subscription id.
func isSubscriptionStem(stem string) bool {
	_, err := uuid.Parse(stem)
	return err == nil
}

func ingestClass(ctx context.Context, path string, schema *graph.Schema, writer *serialWriter, log logr.Logger) error {
	return recordstore.Read(ctx, path, func(record map[string]any) error {
		nodes, rels, err := schema.Parse(record)
		if err != nil {
			// One malformed record is logged and skipped, not fatal.
			log.Error(err, "skipping record", "file", filepath.Base(path))
			return nil
		}
		writer.writeRecord(nodes, rels)
		return nil
	})
}

func ingestResources(ctx context.Context, path string, writer *serialWriter, log logr.Logger) error {
	return recordstore.Read(ctx, path, func(record map[string]any) error {
		schema := graph.SchemaForType(graph.ResourceType(record))
		nodes, rels, err := schema.Parse(record)
		if err != nil {
			log.Error(err, "skipping resource record", "file", filepath.Base(path))
			return nil
		}
		writer.writeRecord(nodes, rels)
		return nil
	})
}

func ingestRoleAssignments(ctx context.Context, path string, writer *serialWriter, log logr.Logger) error {
	return recordstore.Read(ctx, path, func(record map[string]any) error {
		rel, err := graph.ParseRoleAssignment(record)
		if err != nil {
			log.Error(err, "skipping role assignment")
			return nil
		}
		writer.writeRecord(nil, []graph.Relationship{rel})
		return nil
	})
}

// linkingPass runs once all records are queued: applications link to the
// service principals carrying the same appId, and nodes that never got a
// display name fall back to something readable.
func linkingPass(writer GraphWriter) {
	writer.Run("MATCH (app:AADApplication), (spn:AADServicePrincipal) " +
		"WHERE app.appId = spn.appId " +
		"MERGE (app)-[:RepresentedBy]->(spn)")
	writer.Run("MATCH (n:AADObject) WHERE n.name IS NULL SET n.name = n.id")
	writer.Run("MATCH (n:ARMResource) WHERE n.name IS NULL SET n.name = last(split(n.id, '/'))")
}
