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

package fake

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/authorization/armauthorization/v2"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/resources/armresources"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/resources/armsubscriptions"
	"github.com/samber/lo"

	"github.com/Azure/stormspotter/pkg/collector/arm"
)

// singlePager builds a one-page pager around a response, the shape every
// list fake shares.
func singlePager[T any](fetch func(ctx context.Context) (T, error)) *runtime.Pager[T] {
	return runtime.NewPager(runtime.PagingHandler[T]{
		More:    func(T) bool { return false },
		Fetcher: func(ctx context.Context, _ *T) (T, error) { return fetch(ctx) },
	})
}

var _ arm.TenantsAPI = &TenantsAPI{}

type TenantsAPI struct {
	Tenants             []*armsubscriptions.TenantIDDescription
	NewListPagerBehavior MockedFunction[armsubscriptions.TenantsClientListOptions, armsubscriptions.TenantsClientListResponse]
}

func (api *TenantsAPI) Reset() {
	api.Tenants = nil
	api.NewListPagerBehavior.Reset()
}

func (api *TenantsAPI) NewListPager(options *armsubscriptions.TenantsClientListOptions) *runtime.Pager[armsubscriptions.TenantsClientListResponse] {
	return singlePager(func(context.Context) (armsubscriptions.TenantsClientListResponse, error) {
		return api.NewListPagerBehavior.Invoke(options, func(*armsubscriptions.TenantsClientListOptions) (armsubscriptions.TenantsClientListResponse, error) {
			return armsubscriptions.TenantsClientListResponse{
				TenantListResult: armsubscriptions.TenantListResult{Value: api.Tenants},
			}, nil
		})
	})
}

var _ arm.SubscriptionsAPI = &SubscriptionsAPI{}

type SubscriptionsAPI struct {
	Subscriptions        []*armsubscriptions.Subscription
	NewListPagerBehavior MockedFunction[armsubscriptions.ClientListOptions, armsubscriptions.ClientListResponse]
}

func (api *SubscriptionsAPI) Reset() {
	api.Subscriptions = nil
	api.NewListPagerBehavior.Reset()
}

func (api *SubscriptionsAPI) NewListPager(options *armsubscriptions.ClientListOptions) *runtime.Pager[armsubscriptions.ClientListResponse] {
	return singlePager(func(context.Context) (armsubscriptions.ClientListResponse, error) {
		return api.NewListPagerBehavior.Invoke(options, func(*armsubscriptions.ClientListOptions) (armsubscriptions.ClientListResponse, error) {
			return armsubscriptions.ClientListResponse{
				SubscriptionListResult: armsubscriptions.SubscriptionListResult{Value: api.Subscriptions},
			}, nil
		})
	})
}

var _ arm.ProvidersAPI = &ProvidersAPI{}

type ProvidersAPI struct {
	Providers            []*armresources.Provider
	NewListPagerBehavior MockedFunction[armresources.ProvidersClientListOptions, armresources.ProvidersClientListResponse]
}

func (api *ProvidersAPI) Reset() {
	api.Providers = nil
	api.NewListPagerBehavior.Reset()
}

func (api *ProvidersAPI) NewListPager(options *armresources.ProvidersClientListOptions) *runtime.Pager[armresources.ProvidersClientListResponse] {
	return singlePager(func(context.Context) (armresources.ProvidersClientListResponse, error) {
		return api.NewListPagerBehavior.Invoke(options, func(*armresources.ProvidersClientListOptions) (armresources.ProvidersClientListResponse, error) {
			return armresources.ProvidersClientListResponse{
				ProviderListResult: armresources.ProviderListResult{Value: api.Providers},
			}, nil
		})
	})
}

var _ arm.ResourceGroupsAPI = &ResourceGroupsAPI{}

type ResourceGroupsAPI struct {
	ResourceGroups       []*armresources.ResourceGroup
	NewListPagerBehavior MockedFunction[armresources.ResourceGroupsClientListOptions, armresources.ResourceGroupsClientListResponse]
}

func (api *ResourceGroupsAPI) Reset() {
	api.ResourceGroups = nil
	api.NewListPagerBehavior.Reset()
}

func (api *ResourceGroupsAPI) NewListPager(options *armresources.ResourceGroupsClientListOptions) *runtime.Pager[armresources.ResourceGroupsClientListResponse] {
	return singlePager(func(context.Context) (armresources.ResourceGroupsClientListResponse, error) {
		return api.NewListPagerBehavior.Invoke(options, func(*armresources.ResourceGroupsClientListOptions) (armresources.ResourceGroupsClientListResponse, error) {
			return armresources.ResourceGroupsClientListResponse{
				ResourceGroupListResult: armresources.ResourceGroupListResult{Value: api.ResourceGroups},
			}, nil
		})
	})
}

type GetByIDInput struct {
	ResourceID string
	APIVersion string
}

var _ arm.ResourcesAPI = &ResourcesAPI{}

type ResourcesAPI struct {
	// Resources is what the list pager returns.
	Resources []*armresources.GenericResourceExpanded
	// Full holds the full representation handed back by GetByID, keyed by id.
	Full map[string]armresources.GenericResource
	// SupportedVersions, when set for an id, rejects any other API version
	// with the hint text ARM uses, so version negotiation can be exercised.
	SupportedVersions map[string][]string

	NewListPagerBehavior MockedFunction[armresources.ClientListOptions, armresources.ClientListResponse]
	GetByIDBehavior      MockedFunction[GetByIDInput, armresources.ClientGetByIDResponse]
}

func (api *ResourcesAPI) Reset() {
	api.Resources = nil
	api.Full = nil
	api.SupportedVersions = nil
	api.NewListPagerBehavior.Reset()
	api.GetByIDBehavior.Reset()
}

func (api *ResourcesAPI) NewListPager(options *armresources.ClientListOptions) *runtime.Pager[armresources.ClientListResponse] {
	return singlePager(func(context.Context) (armresources.ClientListResponse, error) {
		return api.NewListPagerBehavior.Invoke(options, func(*armresources.ClientListOptions) (armresources.ClientListResponse, error) {
			return armresources.ClientListResponse{
				ResourceListResult: armresources.ResourceListResult{Value: api.Resources},
			}, nil
		})
	})
}

func (api *ResourcesAPI) GetByID(_ context.Context, resourceID, apiVersion string, _ *armresources.ClientGetByIDOptions) (armresources.ClientGetByIDResponse, error) {
	input := &GetByIDInput{ResourceID: resourceID, APIVersion: apiVersion}
	return api.GetByIDBehavior.Invoke(input, func(input *GetByIDInput) (armresources.ClientGetByIDResponse, error) {
		if supported, ok := api.SupportedVersions[input.ResourceID]; ok && !lo.Contains(supported, input.APIVersion) {
			return armresources.ClientGetByIDResponse{}, fmt.Errorf(
				"GET %s: NoRegisteredProviderFound: No registered resource provider found for api version '%s'. The supported api-versions are '%s'",
				input.ResourceID, input.APIVersion, join(supported))
		}
		full, ok := api.Full[input.ResourceID]
		if !ok {
			return armresources.ClientGetByIDResponse{}, fmt.Errorf("GET %s: ResourceNotFound", input.ResourceID)
		}
		return armresources.ClientGetByIDResponse{GenericResource: full}, nil
	})
}

func join(values []string) string {
	out := ""
	for i, v := range values {
		if i > 0 {
			out += ", "
		}
		out += v
	}
	return out
}

var _ arm.RoleAssignmentsAPI = &RoleAssignmentsAPI{}

type RoleAssignmentsAPI struct {
	Assignments          []*armauthorization.RoleAssignment
	NewListPagerBehavior MockedFunction[armauthorization.RoleAssignmentsClientListForSubscriptionOptions, armauthorization.RoleAssignmentsClientListForSubscriptionResponse]
}

func (api *RoleAssignmentsAPI) Reset() {
	api.Assignments = nil
	api.NewListPagerBehavior.Reset()
}

func (api *RoleAssignmentsAPI) NewListForSubscriptionPager(options *armauthorization.RoleAssignmentsClientListForSubscriptionOptions) *runtime.Pager[armauthorization.RoleAssignmentsClientListForSubscriptionResponse] {
	return singlePager(func(context.Context) (armauthorization.RoleAssignmentsClientListForSubscriptionResponse, error) {
		return api.NewListPagerBehavior.Invoke(options, func(*armauthorization.RoleAssignmentsClientListForSubscriptionOptions) (armauthorization.RoleAssignmentsClientListForSubscriptionResponse, error) {
			return armauthorization.RoleAssignmentsClientListForSubscriptionResponse{
				RoleAssignmentListResult: armauthorization.RoleAssignmentListResult{Value: api.Assignments},
			}, nil
		})
	})
}

var _ arm.RoleDefinitionsAPI = &RoleDefinitionsAPI{}

type RoleDefinitionsAPI struct {
	// Definitions is keyed by fully qualified role definition id.
	Definitions map[string]armauthorization.RoleDefinition

	GetByIDBehavior MockedFunction[string, armauthorization.RoleDefinitionsClientGetByIDResponse]
}

func (api *RoleDefinitionsAPI) Reset() {
	api.Definitions = nil
	api.GetByIDBehavior.Reset()
}

func (api *RoleDefinitionsAPI) GetByID(_ context.Context, roleID string, _ *armauthorization.RoleDefinitionsClientGetByIDOptions) (armauthorization.RoleDefinitionsClientGetByIDResponse, error) {
	return api.GetByIDBehavior.Invoke(&roleID, func(id *string) (armauthorization.RoleDefinitionsClientGetByIDResponse, error) {
		definition, ok := api.Definitions[*id]
		if !ok {
			return armauthorization.RoleDefinitionsClientGetByIDResponse{}, fmt.Errorf("GET %s: RoleDefinitionDoesNotExist", *id)
		}
		return armauthorization.RoleDefinitionsClientGetByIDResponse{RoleDefinition: definition}, nil
	})
}

var _ arm.ClientFactory = &ClientFactory{}

// ClientFactory hands the same fakes to every caller, ignoring the
// subscription scoping of the real factory.
type ClientFactory struct {
	TenantsAPI         *TenantsAPI
	SubscriptionsAPI   *SubscriptionsAPI
	ProvidersAPI       *ProvidersAPI
	ResourceGroupsAPI  *ResourceGroupsAPI
	ResourcesAPI       *ResourcesAPI
	RoleAssignmentsAPI *RoleAssignmentsAPI
	RoleDefinitionsAPI *RoleDefinitionsAPI
}

func NewClientFactory() *ClientFactory {
	return &ClientFactory{
		TenantsAPI:         &TenantsAPI{},
		SubscriptionsAPI:   &SubscriptionsAPI{},
		ProvidersAPI:       &ProvidersAPI{},
		ResourceGroupsAPI:  &ResourceGroupsAPI{},
		ResourcesAPI:       &ResourcesAPI{},
		RoleAssignmentsAPI: &RoleAssignmentsAPI{},
		RoleDefinitionsAPI: &RoleDefinitionsAPI{},
	}
}

func (f *ClientFactory) Reset() {
	f.TenantsAPI.Reset()
	f.SubscriptionsAPI.Reset()
	f.ProvidersAPI.Reset()
	f.ResourceGroupsAPI.Reset()
	f.ResourcesAPI.Reset()
	f.RoleAssignmentsAPI.Reset()
	f.RoleDefinitionsAPI.Reset()
}

func (f *ClientFactory) Tenants() (arm.TenantsAPI, error)               { return f.TenantsAPI, nil }
func (f *ClientFactory) Subscriptions() (arm.SubscriptionsAPI, error)   { return f.SubscriptionsAPI, nil }
func (f *ClientFactory) Providers(string) (arm.ProvidersAPI, error)     { return f.ProvidersAPI, nil }
func (f *ClientFactory) ResourceGroups(string) (arm.ResourceGroupsAPI, error) {
	return f.ResourceGroupsAPI, nil
}
func (f *ClientFactory) Resources(string) (arm.ResourcesAPI, error) { return f.ResourcesAPI, nil }
func (f *ClientFactory) RoleAssignments(string) (arm.RoleAssignmentsAPI, error) {
	return f.RoleAssignmentsAPI, nil
}
func (f *ClientFactory) RoleDefinitions() (arm.RoleDefinitionsAPI, error) {
	return f.RoleDefinitionsAPI, nil
}
