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

package arm_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/authorization/armauthorization/v2"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/resources/armresources"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/resources/armsubscriptions"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Azure/stormspotter/pkg/auth"
	"github.com/Azure/stormspotter/pkg/collector/arm"
	"github.com/Azure/stormspotter/pkg/fake"
)

const (
	subID    = "5a58f3a7-57bd-49b2-bb4c-0abc12f3dead"
	tenantID = "99999999-0000-0000-0000-000000000009"
	vaultID  = "/subscriptions/" + subID + "/resourceGroups/ops/providers/Microsoft.KeyVault/vaults/prod-kv"
)

type staticCredential struct{}

func (staticCredential) GetToken(context.Context, policy.TokenRequestOptions) (azcore.AccessToken, error) {
	return azcore.AccessToken{Token: "test-token", ExpiresOn: time.Now().Add(time.Hour)}, nil
}

type memorySink struct {
	mu      sync.Mutex
	records map[string][]map[string]any
}

func newMemorySink() *memorySink {
	return &memorySink{records: map[string][]map[string]any{}}
}

func (s *memorySink) Append(_ context.Context, class string, record any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[class] = append(s.records[class], record.(map[string]any))
	return nil
}

func (s *memorySink) byClass(class string) []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[class]
}

// newTestEnvironment points the service management endpoint at a server that
// denies certificate listings, keeping that path quiet in unrelated tests.
func newTestEnvironment(t *testing.T) (*auth.Environment, *http.Client) {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	t.Cleanup(server.Close)
	env, err := auth.EnvironmentFromName("PUBLIC")
	require.NoError(t, err)
	env.Management = server.URL
	return env, server.Client()
}

func seedFactory(factory *fake.ClientFactory) {
	factory.TenantsAPI.Tenants = []*armsubscriptions.TenantIDDescription{
		{ID: lo.ToPtr("/tenants/" + tenantID), TenantID: lo.ToPtr(tenantID)},
	}
	factory.SubscriptionsAPI.Subscriptions = []*armsubscriptions.Subscription{
		{
			ID:             lo.ToPtr("/subscriptions/" + subID),
			SubscriptionID: lo.ToPtr(subID),
			TenantID:       lo.ToPtr(tenantID),
			DisplayName:    lo.ToPtr("Production"),
		},
	}
	factory.ProvidersAPI.Providers = []*armresources.Provider{
		{
			Namespace: lo.ToPtr("Microsoft.KeyVault"),
			ResourceTypes: []*armresources.ProviderResourceType{
				{
					ResourceType:      lo.ToPtr("vaults"),
					DefaultAPIVersion: lo.ToPtr("2021-10-01"),
				},
			},
		},
	}
	factory.ResourceGroupsAPI.ResourceGroups = []*armresources.ResourceGroup{
		{
			ID:       lo.ToPtr("/subscriptions/" + subID + "/resourceGroups/ops"),
			Name:     lo.ToPtr("ops"),
			Location: lo.ToPtr("eastus"),
		},
	}
	factory.ResourcesAPI.Resources = []*armresources.GenericResourceExpanded{
		{
			ID:   lo.ToPtr(vaultID),
			Type: lo.ToPtr("Microsoft.KeyVault/vaults"),
		},
	}
	factory.ResourcesAPI.Full = map[string]armresources.GenericResource{
		vaultID: {
			ID:       lo.ToPtr(vaultID),
			Type:     lo.ToPtr("Microsoft.KeyVault/vaults"),
			Name:     lo.ToPtr("prod-kv"),
			Location: lo.ToPtr("eastus"),
		},
	}
}

func newEnumerator(t *testing.T, factory *fake.ClientFactory) (*arm.Enumerator, *memorySink) {
	t.Helper()
	env, httpClient := newTestEnvironment(t)
	sink := newMemorySink()
	enumerator := arm.NewEnumerator(context.Background(), factory, sink, arm.NewVersionResolver(), env, staticCredential{}, httpClient)
	return enumerator, sink
}

func TestEnumerateWalksSubscription(t *testing.T) {
	factory := fake.NewClientFactory()
	seedFactory(factory)
	enumerator, sink := newEnumerator(t, factory)

	require.NoError(t, enumerator.Enumerate(context.Background()))

	require.Len(t, sink.byClass(arm.ClassTenant), 1)
	subs := sink.byClass(arm.ClassSubscription)
	require.Len(t, subs, 1)
	assert.Equal(t, "Production", subs[0]["displayName"])

	records := sink.byClass(subID)
	require.Len(t, records, 2) // resource group plus vault, in either order
	types := []string{records[0]["type"].(string), records[1]["type"].(string)}
	assert.ElementsMatch(t, []string{"Microsoft.Resources/resourceGroups", "Microsoft.KeyVault/vaults"}, types)

	// The provider default version was used on the first try.
	input := factory.ResourcesAPI.GetByIDBehavior.CalledWithInput.Pop()
	require.NotNil(t, input)
	assert.Equal(t, "2021-10-01", input.APIVersion)
}

func TestEnumerateNegotiatesAPIVersion(t *testing.T) {
	factory := fake.NewClientFactory()
	seedFactory(factory)
	// The provider hands out a version the resource rejects.
	factory.ResourcesAPI.SupportedVersions = map[string][]string{
		vaultID: {"2019-09-01", "2023-02-01"},
	}
	enumerator, sink := newEnumerator(t, factory)

	require.NoError(t, enumerator.Enumerate(context.Background()))

	records := sink.byClass(subID)
	require.Len(t, records, 2)

	// Second call carried the newest advertised version.
	retry := factory.ResourcesAPI.GetByIDBehavior.CalledWithInput.Pop()
	require.NotNil(t, retry)
	assert.Equal(t, "2023-02-01", retry.APIVersion)
	first := factory.ResourcesAPI.GetByIDBehavior.CalledWithInput.Pop()
	require.NotNil(t, first)
	assert.Equal(t, "2021-10-01", first.APIVersion)
}

func TestEnumerateFiltersSubscriptions(t *testing.T) {
	cases := []struct {
		name     string
		filter   arm.Filter
		expected int
	}{
		{name: "no filter", filter: arm.Filter{}, expected: 2},
		{name: "include", filter: arm.Filter{IncludeSubscriptions: []string{subID}}, expected: 1},
		{name: "exclude", filter: arm.Filter{ExcludeSubscriptions: []string{subID}}, expected: 1},
		{name: "tenant", filter: arm.Filter{Tenants: []string{"deadbeef-0000-0000-0000-000000000000"}}, expected: 0},
	}

	otherSub := "1111aaaa-0000-0000-0000-000000000011"
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			factory := fake.NewClientFactory()
			seedFactory(factory)
			factory.SubscriptionsAPI.Subscriptions = append(factory.SubscriptionsAPI.Subscriptions,
				&armsubscriptions.Subscription{
					ID:             lo.ToPtr("/subscriptions/" + otherSub),
					SubscriptionID: lo.ToPtr(otherSub),
					TenantID:       lo.ToPtr(tenantID),
				})
			enumerator, sink := newEnumerator(t, factory)
			enumerator.Filter = c.filter

			require.NoError(t, enumerator.Enumerate(context.Background()))

			// Subscription records are always stored; the filter only
			// controls which ones get walked.
			assert.Len(t, sink.byClass(arm.ClassSubscription), 2)

			walked := 0
			for _, sub := range []string{subID, otherSub} {
				if len(sink.byClass(sub)) > 0 {
					walked++
				}
			}
			assert.Equal(t, c.expected, walked)
		})
	}
}

func TestEnumerateRBAC(t *testing.T) {
	roleDefID := "/subscriptions/" + subID + "/providers/Microsoft.Authorization/roleDefinitions/def1"
	principalID := "aa11bb22-0000-0000-0000-000000000001"

	factory := fake.NewClientFactory()
	seedFactory(factory)
	factory.RoleAssignmentsAPI.Assignments = []*armauthorization.RoleAssignment{
		{
			ID:   lo.ToPtr("/subscriptions/" + subID + "/providers/Microsoft.Authorization/roleAssignments/ra1"),
			Name: lo.ToPtr("ra1"),
			Properties: &armauthorization.RoleAssignmentProperties{
				PrincipalID:      lo.ToPtr(principalID),
				PrincipalType:    lo.ToPtr(armauthorization.PrincipalTypeUser),
				Scope:            lo.ToPtr("/subscriptions/" + subID),
				RoleDefinitionID: lo.ToPtr(roleDefID),
			},
		},
	}
	factory.RoleDefinitionsAPI.Definitions = map[string]armauthorization.RoleDefinition{
		roleDefID: {
			ID: lo.ToPtr(roleDefID),
			Properties: &armauthorization.RoleDefinitionProperties{
				RoleName: lo.ToPtr("Virtual Machine Contributor"),
				RoleType: lo.ToPtr("BuiltInRole"),
				Permissions: []*armauthorization.Permission{
					{Actions: []*string{lo.ToPtr("Microsoft.Compute/*")}},
				},
			},
		},
	}
	enumerator, sink := newEnumerator(t, factory)

	require.NoError(t, enumerator.Enumerate(context.Background()))

	rbac := sink.byClass(arm.ClassRBAC)
	require.Len(t, rbac, 1)
	assert.Equal(t, principalID, rbac[0]["principal_id"])
	assert.Equal(t, "Virtual Machine Contributor", rbac[0]["roleName"])
	assert.Equal(t, "BuiltInRole", rbac[0]["roleType"])
	permissions := rbac[0]["permissions"].([]any)
	require.Len(t, permissions, 1)
	assert.Equal(t, []any{"Microsoft.Compute/*"}, permissions[0].(map[string]any)["actions"])

	assert.Equal(t, []string{principalID}, enumerator.Principals())
}

func TestEnumerateRBACDefinitionsAreCached(t *testing.T) {
	roleDefID := "/providers/Microsoft.Authorization/roleDefinitions/def1"

	factory := fake.NewClientFactory()
	seedFactory(factory)
	assignment := func(name, principal string) *armauthorization.RoleAssignment {
		return &armauthorization.RoleAssignment{
			ID:   lo.ToPtr("/subscriptions/" + subID + "/providers/Microsoft.Authorization/roleAssignments/" + name),
			Name: lo.ToPtr(name),
			Properties: &armauthorization.RoleAssignmentProperties{
				PrincipalID:      lo.ToPtr(principal),
				Scope:            lo.ToPtr("/subscriptions/" + subID),
				RoleDefinitionID: lo.ToPtr(roleDefID),
			},
		}
	}
	factory.RoleAssignmentsAPI.Assignments = []*armauthorization.RoleAssignment{
		assignment("ra1", "aa11bb22-0000-0000-0000-000000000001"),
		assignment("ra2", "aa11bb22-0000-0000-0000-000000000002"),
	}
	factory.RoleDefinitionsAPI.Definitions = map[string]armauthorization.RoleDefinition{
		roleDefID: {
			ID:         lo.ToPtr(roleDefID),
			Properties: &armauthorization.RoleDefinitionProperties{RoleName: lo.ToPtr("Owner")},
		},
	}
	enumerator, sink := newEnumerator(t, factory)

	require.NoError(t, enumerator.Enumerate(context.Background()))
	assert.Len(t, sink.byClass(arm.ClassRBAC), 2)
	assert.Equal(t, 1, factory.RoleDefinitionsAPI.GetByIDBehavior.Calls())
}

func TestManagementCertificatesSkippedWithoutEndpoint(t *testing.T) {
	factory := fake.NewClientFactory()
	seedFactory(factory)
	env, err := auth.EnvironmentFromName("PUBLIC")
	require.NoError(t, err)
	// A custom cloud profile may carry no classic endpoint at all.
	env.Management = ""

	sink := newMemorySink()
	enumerator := arm.NewEnumerator(context.Background(), factory, sink, arm.NewVersionResolver(), env, staticCredential{}, http.DefaultClient)

	require.NoError(t, enumerator.Enumerate(context.Background()))
	assert.Empty(t, sink.byClass(arm.ClassCertificates))
	assert.Len(t, sink.byClass(arm.ClassSubscription), 1)
}

func TestManagementCertificatesToleratesTransportFailure(t *testing.T) {
	factory := fake.NewClientFactory()
	seedFactory(factory)
	env, err := auth.EnvironmentFromName("PUBLIC")
	require.NoError(t, err)
	// Nothing listens here; the walk must still finish.
	env.Management = "http://127.0.0.1:1"

	sink := newMemorySink()
	enumerator := arm.NewEnumerator(context.Background(), factory, sink, arm.NewVersionResolver(), env, staticCredential{}, http.DefaultClient)

	require.NoError(t, enumerator.Enumerate(context.Background()))
	assert.Empty(t, sink.byClass(arm.ClassCertificates))
	assert.NotEmpty(t, sink.byClass(subID))
}

func TestManagementCertificates(t *testing.T) {
	payload := `<?xml version="1.0" encoding="utf-8"?>
<SubscriptionCertificates xmlns="http://schemas.microsoft.com/windowsazure">
  <SubscriptionCertificate>
    <SubscriptionCertificatePublicKey>key</SubscriptionCertificatePublicKey>
    <SubscriptionCertificateThumbprint>AB12CD34</SubscriptionCertificateThumbprint>
    <Created>2020-05-01T10:00:00Z</Created>
  </SubscriptionCertificate>
</SubscriptionCertificates>`

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/"+subID+"/certificates", r.URL.Path)
		assert.Equal(t, "2012-03-01", r.Header.Get("x-ms-version"))
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte(payload))
	}))
	defer server.Close()

	factory := fake.NewClientFactory()
	seedFactory(factory)
	env, err := auth.EnvironmentFromName("PUBLIC")
	require.NoError(t, err)
	env.Management = server.URL

	sink := newMemorySink()
	enumerator := arm.NewEnumerator(context.Background(), factory, sink, arm.NewVersionResolver(), env, staticCredential{}, server.Client())

	require.NoError(t, enumerator.Enumerate(context.Background()))

	certs := sink.byClass(arm.ClassCertificates)
	require.Len(t, certs, 1)
	assert.Equal(t, "AB12CD34", certs[0]["thumbprint"])
	assert.Equal(t, "2020-05-01T10:00:00Z", certs[0]["created"])
	assert.Equal(t, "/subscriptions/"+subID+"/certificates/ab12cd34", certs[0]["id"])
}
