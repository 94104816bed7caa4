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

// Package neo4j writes derived graph entities to a Neo4j database through a
// single serialized session, so concurrent parsers never contend on the
// bolt connection.
package neo4j

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/Azure/stormspotter/pkg/graph"
	"github.com/go-logr/logr"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

const queueDepth = 1024

// queryRunner is the slice of a bolt session the writer needs.
type queryRunner interface {
	Run(ctx context.Context, cypher string) error
	Close(ctx context.Context) error
}

// Writer owns the only session writing to the graph. Statements are queued
// and executed in submission order by a single goroutine; Close drains the
// queue before shutting the session down.
type Writer struct {
	runner queryRunner
	log    logr.Logger

	queue     chan string
	done      chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	written int
	dropped int
}

// NewWriter connects to the database, ensures the per-family uniqueness
// constraints exist and starts the statement loop.
func NewWriter(ctx context.Context, uri, username, password string) (*Writer, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("creating bolt driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", uri, err)
	}
	session := driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	return newWriter(ctx, &boltRunner{driver: driver, session: session}, logr.FromContextOrDiscard(ctx))
}

func newWriter(ctx context.Context, runner queryRunner, log logr.Logger) (*Writer, error) {
	w := &Writer{
		runner: runner,
		log:    log.WithName("neo4j"),
		queue:  make(chan string, queueDepth),
		done:   make(chan struct{}),
	}
	if err := w.ensureConstraints(ctx); err != nil {
		_ = runner.Close(ctx)
		return nil, err
	}
	go w.loop(ctx)
	return w, nil
}

// WriteNode queues a MERGE for the node, blocking when the queue is full.
func (w *Writer) WriteNode(node *graph.Node) {
	w.queue <- NodeStatement(node)
}

// WriteRelationship queues a MERGE for the edge.
func (w *Writer) WriteRelationship(rel graph.Relationship) {
	w.queue <- RelationshipStatement(rel)
}

// Run queues a raw cypher statement, used for post-ingestion linking passes.
func (w *Writer) Run(cypher string) {
	w.queue <- cypher
}

// Close drains the queue, stops the loop and closes the session. Safe to
// call more than once.
func (w *Writer) Close(ctx context.Context) error {
	var err error
	w.closeOnce.Do(func() {
		close(w.queue)
		<-w.done
		err = w.runner.Close(ctx)
	})
	return err
}

// Stats returns the number of statements executed and dropped so far.
func (w *Writer) Stats() (written, dropped int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written, w.dropped
}

func (w *Writer) loop(ctx context.Context) {
	defer close(w.done)
	for stmt := range w.queue {
		err := w.runner.Run(ctx, stmt)
		w.mu.Lock()
		if err != nil {
			w.dropped++
		} else {
			w.written++
		}
		w.mu.Unlock()

		switch {
		case err == nil:
		case isSyntaxError(err):
			// A malformed statement means one bad record, not a dead
			// database; drop it and keep going.
			w.log.Error(err, "dropping malformed statement", "cypher", stmt)
		default:
			w.log.Error(err, "statement failed", "cypher", stmt)
		}
	}
}

func (w *Writer) ensureConstraints(ctx context.Context) error {
	for _, family := range []graph.Label{graph.FamilyAAD, graph.FamilyARM} {
		stmt := fmt.Sprintf("CREATE CONSTRAINT IF NOT EXISTS FOR (n:%s) REQUIRE n.id IS UNIQUE", family)
		if err := w.runner.Run(ctx, stmt); err != nil {
			if strings.Contains(err.Error(), "already exists") {
				continue
			}
			return fmt.Errorf("creating %s constraint: %w", family, err)
		}
	}
	return nil
}

func isSyntaxError(err error) bool {
	var neoErr *neo4j.Neo4jError
	if errors.As(err, &neoErr) {
		return strings.HasSuffix(neoErr.Code, "SyntaxError")
	}
	return false
}

// boltRunner adapts a real driver session to queryRunner.
type boltRunner struct {
	driver  neo4j.DriverWithContext
	session neo4j.SessionWithContext
}

func (b *boltRunner) Run(ctx context.Context, cypher string) error {
	result, err := b.session.Run(ctx, cypher, nil)
	if err != nil {
		return err
	}
	_, err = result.Consume(ctx)
	return err
}

func (b *boltRunner) Close(ctx context.Context) error {
	sessionErr := b.session.Close(ctx)
	driverErr := b.driver.Close(ctx)
	if sessionErr != nil {
		return sessionErr
	}
	return driverErr
}
