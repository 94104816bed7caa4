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

// Package arm enumerates Azure Resource Manager entities: tenants,
// subscriptions, providers, resource groups, resources and RBAC.
package arm

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/arm"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/authorization/armauthorization/v2"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/resources/armresources"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/resources/armsubscriptions"

	"github.com/Azure/stormspotter/pkg/auth"
)

// Narrow slices of the SDK clients, so tests can substitute paging fakes.
type (
	TenantsAPI interface {
		NewListPager(options *armsubscriptions.TenantsClientListOptions) *runtime.Pager[armsubscriptions.TenantsClientListResponse]
	}

	SubscriptionsAPI interface {
		NewListPager(options *armsubscriptions.ClientListOptions) *runtime.Pager[armsubscriptions.ClientListResponse]
	}

	ProvidersAPI interface {
		NewListPager(options *armresources.ProvidersClientListOptions) *runtime.Pager[armresources.ProvidersClientListResponse]
	}

	ResourceGroupsAPI interface {
		NewListPager(options *armresources.ResourceGroupsClientListOptions) *runtime.Pager[armresources.ResourceGroupsClientListResponse]
	}

	ResourcesAPI interface {
		NewListPager(options *armresources.ClientListOptions) *runtime.Pager[armresources.ClientListResponse]
		GetByID(ctx context.Context, resourceID, apiVersion string, options *armresources.ClientGetByIDOptions) (armresources.ClientGetByIDResponse, error)
	}

	RoleAssignmentsAPI interface {
		NewListForSubscriptionPager(options *armauthorization.RoleAssignmentsClientListForSubscriptionOptions) *runtime.Pager[armauthorization.RoleAssignmentsClientListForSubscriptionResponse]
	}

	RoleDefinitionsAPI interface {
		GetByID(ctx context.Context, roleID string, options *armauthorization.RoleDefinitionsClientGetByIDOptions) (armauthorization.RoleDefinitionsClientGetByIDResponse, error)
	}
)

// ClientFactory builds the SDK clients used during enumeration, all sharing
// one credential, cloud configuration and HTTP transport.
type ClientFactory interface {
	Tenants() (TenantsAPI, error)
	Subscriptions() (SubscriptionsAPI, error)
	Providers(subscriptionID string) (ProvidersAPI, error)
	ResourceGroups(subscriptionID string) (ResourceGroupsAPI, error)
	Resources(subscriptionID string) (ResourcesAPI, error)
	RoleAssignments(subscriptionID string) (RoleAssignmentsAPI, error)
	RoleDefinitions() (RoleDefinitionsAPI, error)
}

type clientFactory struct {
	cred    azcore.TokenCredential
	options *arm.ClientOptions
}

// NewClientFactory wires the credential and environment into a factory for
// real ARM clients.
func NewClientFactory(cred azcore.TokenCredential, env *auth.Environment, httpClient *http.Client) ClientFactory {
	options := &arm.ClientOptions{
		ClientOptions: policy.ClientOptions{Cloud: env.Cloud()},
	}
	if httpClient != nil {
		options.Transport = httpClient
	}
	return &clientFactory{cred: cred, options: options}
}

func (f *clientFactory) Tenants() (TenantsAPI, error) {
	return armsubscriptions.NewTenantsClient(f.cred, f.options)
}

func (f *clientFactory) Subscriptions() (SubscriptionsAPI, error) {
	return armsubscriptions.NewClient(f.cred, f.options)
}

func (f *clientFactory) Providers(subscriptionID string) (ProvidersAPI, error) {
	return armresources.NewProvidersClient(subscriptionID, f.cred, f.options)
}

func (f *clientFactory) ResourceGroups(subscriptionID string) (ResourceGroupsAPI, error) {
	return armresources.NewResourceGroupsClient(subscriptionID, f.cred, f.options)
}

func (f *clientFactory) Resources(subscriptionID string) (ResourcesAPI, error) {
	return armresources.NewClient(subscriptionID, f.cred, f.options)
}

func (f *clientFactory) RoleAssignments(subscriptionID string) (RoleAssignmentsAPI, error) {
	return armauthorization.NewRoleAssignmentsClient(subscriptionID, f.cred, f.options)
}

func (f *clientFactory) RoleDefinitions() (RoleDefinitionsAPI, error) {
	return armauthorization.NewRoleDefinitionsClient(f.cred, f.options)
}

// toRecord flattens a typed SDK model into the raw map shape the record
// store holds, going through the model's own JSON marshaling.
func toRecord(v any) (map[string]any, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	record := map[string]any{}
	if err := json.Unmarshal(payload, &record); err != nil {
		return nil, err
	}
	return record, nil
}
