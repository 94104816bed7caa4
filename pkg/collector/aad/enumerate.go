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

package aad

import (
	"context"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"

	"github.com/Azure/stormspotter/pkg/logging"
)

// RecordSink receives enumerated objects, keyed by class stem.
type RecordSink interface {
	Append(ctx context.Context, class string, record any) error
}

// Enumerator walks the directory and writes raw objects to the sink.
type Enumerator struct {
	client *Client
	sink   RecordSink
	log    logr.Logger

	// OnRecord, when set, is invoked once per stored record for progress
	// accounting.
	OnRecord func(class string)
}

func NewEnumerator(ctx context.Context, client *Client, sink RecordSink) *Enumerator {
	return &Enumerator{
		client: client,
		sink:   sink,
		log:    logr.FromContextOrDiscard(ctx).WithName("aad"),
	}
}

// Enumerate walks all directory object classes concurrently. A failed access
// probe aborts directory enumeration without error so resource enumeration
// can continue on its own.
func (e *Enumerator) Enumerate(ctx context.Context) error {
	if err := e.client.Probe(ctx); err != nil {
		e.log.Error(err, "no Microsoft Graph access, skipping directory enumeration")
		return nil
	}

	group, ctx := errgroup.WithContext(ctx)
	for _, oc := range objectClasses {
		group.Go(func() error {
			return e.enumerateClass(ctx, oc)
		})
	}
	return group.Wait()
}

func (e *Enumerator) enumerateClass(ctx context.Context, oc objectClass) error {
	start := time.Now()
	e.log.Info("starting query", logging.ObjectClass, oc.Class)

	err := e.client.ListResource(ctx, oc.Resource, oc.Query, func(record map[string]any) error {
		if err := oc.parse(ctx, e.client, record); err != nil {
			if ctx.Err() != nil {
				return err
			}
			// One object failing to expand must not end the walk; the
			// record is stored without its navigation properties.
			e.log.Error(err, "expansion failed, storing object as-is",
				logging.ObjectClass, oc.Class, "id", objectID(record))
		}
		return e.store(ctx, oc.Class, record)
	})
	if err != nil {
		return err
	}

	e.log.Info("finished query", logging.ObjectClass, oc.Class, "elapsed", time.Since(start))
	return nil
}

// Backfill resolves the principals seen only in RBAC assignments. The class
// of each returned object is recovered from its odata type; types outside
// the modeled set are skipped.
func (e *Enumerator) Backfill(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := e.client.Probe(ctx); err != nil {
		e.log.Error(err, "no Microsoft Graph access, skipping principal backfill")
		return nil
	}

	start := time.Now()
	e.log.Info("backfilling principals referenced by role assignments", "count", len(ids))

	err := e.client.GetByIDs(ctx, ids, func(record map[string]any) error {
		class := classOfODataType(record)
		if class == "" {
			odataType, _ := record["@odata.type"].(string)
			e.log.Info("skipping unsupported directory object", "odataType", odataType, "id", objectID(record))
			return nil
		}
		return e.store(ctx, class, record)
	})
	if err != nil {
		return err
	}

	e.log.Info("finished principal backfill", "elapsed", time.Since(start))
	return nil
}

func (e *Enumerator) store(ctx context.Context, class string, record map[string]any) error {
	if err := e.sink.Append(ctx, class, record); err != nil {
		return err
	}
	if e.OnRecord != nil {
		e.OnRecord(class)
	}
	return nil
}

// classOfODataType maps #microsoft.graph.user and friends onto store stems.
func classOfODataType(record map[string]any) string {
	odataType, _ := record["@odata.type"].(string)
	switch {
	case strings.HasSuffix(strings.ToLower(odataType), "user"):
		return "User"
	case strings.HasSuffix(strings.ToLower(odataType), "group"):
		return "Group"
	case strings.HasSuffix(strings.ToLower(odataType), "serviceprincipal"):
		return "ServicePrincipal"
	}
	return ""
}
