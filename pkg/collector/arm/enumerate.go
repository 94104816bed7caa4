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

package arm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/go-logr/logr"
	"github.com/patrickmn/go-cache"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/Azure/stormspotter/pkg/auth"
	"github.com/Azure/stormspotter/pkg/logging"
)

// Store stems for records that are not keyed by subscription.
const (
	ClassTenant       = "tenant"
	ClassSubscription = "subscription"
	ClassRBAC         = "rbac"
	ClassCertificates = "management_certs"
)

// RecordSink receives enumerated records, keyed by class stem. ARM resource
// records use the owning subscription id as their stem.
type RecordSink interface {
	Append(ctx context.Context, class string, record any) error
}

// Filter restricts which subscriptions are walked. IDs are matched
// case-insensitively against bare subscription ids.
type Filter struct {
	IncludeSubscriptions []string
	ExcludeSubscriptions []string
	// Tenants restricts subscriptions to these home tenant ids.
	Tenants []string
}

func (f Filter) keeps(subscriptionID, tenantID string) bool {
	if len(f.IncludeSubscriptions) > 0 && !containsFold(f.IncludeSubscriptions, subscriptionID) {
		return false
	}
	if containsFold(f.ExcludeSubscriptions, subscriptionID) {
		return false
	}
	if len(f.Tenants) > 0 && !containsFold(f.Tenants, tenantID) {
		return false
	}
	return true
}

func containsFold(haystack []string, needle string) bool {
	return lo.ContainsBy(haystack, func(s string) bool {
		return strings.EqualFold(strings.TrimPrefix(s, "/subscriptions/"), needle)
	})
}

// Enumerator walks tenants, subscriptions and everything inside them.
type Enumerator struct {
	factory    ClientFactory
	sink       RecordSink
	resolver   *VersionResolver
	env        *auth.Environment
	cred       azcore.TokenCredential
	httpClient *http.Client
	log        logr.Logger

	Filter Filter
	// OnRecord, when set, is invoked once per stored record.
	OnRecord func(class string)

	// definitions caches resolved role definitions across subscriptions.
	definitions *cache.Cache

	mu         sync.Mutex
	principals map[string]struct{}
}

func NewEnumerator(ctx context.Context, factory ClientFactory, sink RecordSink, resolver *VersionResolver, env *auth.Environment, cred azcore.TokenCredential, httpClient *http.Client) *Enumerator {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Enumerator{
		factory:     factory,
		sink:        sink,
		resolver:    resolver,
		env:         env,
		cred:        cred,
		httpClient:  httpClient,
		log:         logr.FromContextOrDiscard(ctx).WithName("arm"),
		definitions: cache.New(cache.NoExpiration, cache.NoExpiration),
		principals:  map[string]struct{}{},
	}
}

// Principals returns the ids of every principal seen in a role assignment,
// the input for directory backfill.
func (e *Enumerator) Principals() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return lo.Keys(e.principals)
}

// Enumerate walks every visible tenant and subscription. Subscriptions are
// processed concurrently; within each one, resource groups, resources and
// RBAC are walked in parallel once the provider versions are known.
func (e *Enumerator) Enumerate(ctx context.Context) error {
	if err := e.enumerateTenants(ctx); err != nil {
		return err
	}

	subscriptions, err := e.enumerateSubscriptions(ctx)
	if err != nil {
		return err
	}

	group, ctx := errgroup.WithContext(ctx)
	for _, subscriptionID := range subscriptions {
		group.Go(func() error {
			return e.enumerateSubscription(ctx, subscriptionID)
		})
	}
	return group.Wait()
}

func (e *Enumerator) enumerateTenants(ctx context.Context) error {
	client, err := e.factory.Tenants()
	if err != nil {
		return err
	}
	pager := client.NewListPager(nil)
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("listing tenants: %w", err)
		}
		for _, tenant := range resp.Value {
			record, err := toRecord(tenant)
			if err != nil {
				return err
			}
			if err := e.store(ctx, ClassTenant, record); err != nil {
				return err
			}
			e.log.Info("found tenant", logging.TenantID, lo.FromPtr(tenant.TenantID))
		}
	}
	return nil
}

// enumerateSubscriptions stores every visible subscription record and
// returns the ids that survive the filter.
func (e *Enumerator) enumerateSubscriptions(ctx context.Context) ([]string, error) {
	client, err := e.factory.Subscriptions()
	if err != nil {
		return nil, err
	}

	var keep []string
	pager := client.NewListPager(nil)
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing subscriptions: %w", err)
		}
		for _, sub := range resp.Value {
			record, err := toRecord(sub)
			if err != nil {
				return nil, err
			}
			if err := e.store(ctx, ClassSubscription, record); err != nil {
				return nil, err
			}

			subscriptionID := lo.FromPtr(sub.SubscriptionID)
			tenantID := lo.FromPtr(sub.TenantID)
			if !e.Filter.keeps(subscriptionID, tenantID) {
				e.log.Info("skipping filtered subscription", logging.SubscriptionID, subscriptionID)
				continue
			}
			keep = append(keep, strings.ToLower(subscriptionID))
		}
	}
	return keep, nil
}

func (e *Enumerator) enumerateSubscription(ctx context.Context, subscriptionID string) error {
	start := time.Now()
	log := e.log.WithValues(logging.SubscriptionID, subscriptionID)
	log.Info("starting subscription enumeration")

	// Provider versions feed resource fetches, so they come first.
	if err := e.enumerateProviders(ctx, subscriptionID); err != nil {
		return err
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error { return e.enumerateResourceGroups(ctx, subscriptionID) })
	group.Go(func() error { return e.enumerateResources(ctx, subscriptionID) })
	group.Go(func() error { return e.enumerateRBAC(ctx, subscriptionID) })
	group.Go(func() error { return e.enumerateManagementCertificates(ctx, subscriptionID) })
	if err := group.Wait(); err != nil {
		return err
	}

	log.Info("finished subscription enumeration", "elapsed", time.Since(start))
	return nil
}

func (e *Enumerator) enumerateProviders(ctx context.Context, subscriptionID string) error {
	client, err := e.factory.Providers(subscriptionID)
	if err != nil {
		return err
	}
	pager := client.NewListPager(nil)
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("listing providers in %s: %w", subscriptionID, err)
		}
		for _, provider := range resp.Value {
			e.resolver.Register(provider)
		}
	}
	return nil
}

func (e *Enumerator) enumerateResourceGroups(ctx context.Context, subscriptionID string) error {
	client, err := e.factory.ResourceGroups(subscriptionID)
	if err != nil {
		return err
	}
	pager := client.NewListPager(nil)
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("listing resource groups in %s: %w", subscriptionID, err)
		}
		for _, rg := range resp.Value {
			record, err := toRecord(rg)
			if err != nil {
				return err
			}
			record["type"] = "Microsoft.Resources/resourceGroups"
			if err := e.store(ctx, subscriptionID, record); err != nil {
				return err
			}
		}
	}
	return nil
}

// enumerateResources lists the subscription's resources and fetches each
// one's full representation, negotiating the API version when ARM rejects
// the provider default.
func (e *Enumerator) enumerateResources(ctx context.Context, subscriptionID string) error {
	client, err := e.factory.Resources(subscriptionID)
	if err != nil {
		return err
	}
	log := e.log.WithValues(logging.SubscriptionID, subscriptionID)

	pager := client.NewListPager(nil)
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("listing resources in %s: %w", subscriptionID, err)
		}
		for _, resource := range resp.Value {
			id := lo.FromPtr(resource.ID)
			resourceType := lo.FromPtr(resource.Type)
			record, err := e.getResource(ctx, client, id, resourceType)
			if err != nil {
				// One unreadable resource should not sink the walk.
				log.Error(err, "failed to fetch resource", logging.ResourceID, id, logging.ResourceType, resourceType)
				continue
			}
			if err := e.store(ctx, subscriptionID, record); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Enumerator) getResource(ctx context.Context, client ResourcesAPI, id, resourceType string) (map[string]any, error) {
	version := e.resolver.Lookup(resourceType)
	var tried []string
	for {
		resp, err := client.GetByID(ctx, id, version, nil)
		if err == nil {
			return toRecord(resp.GenericResource)
		}
		tried = append(tried, version)
		next := negotiateVersion(err.Error(), tried)
		if next == "" {
			return nil, err
		}
		e.log.V(1).Info("retrying with advertised api version",
			logging.ResourceID, id, logging.APIVersion, next)
		version = next
	}
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

func (e *Enumerator) addPrincipal(id string) {
	if id == "" {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.principals[strings.ToLower(id)] = struct{}{}
}
