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

package graph

// Label is a node label in the property graph.
type Label string

// Family labels. Every node carries exactly one family label alongside its
// class label; uniqueness of node ids is enforced per family.
const (
	FamilyAAD Label = "AADObject"
	FamilyARM Label = "ARMResource"
)

// Class labels for AAD-derived nodes.
const (
	LabelAADUser             Label = "AADUser"
	LabelAADGroup            Label = "AADGroup"
	LabelAADServicePrincipal Label = "AADServicePrincipal"
	LabelAADApplication      Label = "AADApplication"
	LabelAADRole             Label = "AADRole"
)

// Class labels for ARM-derived nodes. Tenant, Subscription and ResourceGroup
// are ARM-family but sit outside any resource group.
const (
	LabelTenant               Label = "Tenant"
	LabelSubscription         Label = "Subscription"
	LabelResourceGroup        Label = "ResourceGroup"
	LabelVirtualMachine       Label = "VirtualMachine"
	LabelKeyVault             Label = "KeyVault"
	LabelDisk                 Label = "Disk"
	LabelNetworkInterface     Label = "NetworkInterface"
	LabelNetworkSecurityGroup Label = "NetworkSecurityGroup"
	LabelSecurityRule         Label = "SecurityRule"
	LabelIPConfiguration      Label = "IpConfiguration"
	LabelPublicIP             Label = "PublicIp"
	LabelVirtualNetwork       Label = "VirtualNetwork"
	LabelLoadBalancer         Label = "LoadBalancer"
	LabelStorageAccount       Label = "StorageAccount"
	LabelSQLServer            Label = "SqlServer"
	LabelSQLDatabase          Label = "SqlDatabase"
	LabelWebsite              Label = "Website"
	LabelServerFarm           Label = "ServerFarm"
	LabelServiceFabric        Label = "ServiceFabricCluster"
	LabelServiceBus           Label = "ServiceBusNamespace"
	LabelManagementCert       Label = "ManagementCertificate"
	LabelGenericResource      Label = "GenericResource"
)

// Relation names form a closed vocabulary, except for RBAC edges whose
// relation is the role name with whitespace stripped.
const (
	RelContains          = "Contains"
	RelMemberOf          = "MemberOf"
	RelOwns              = "Owns"
	RelHasAccessPolicies = "HasAccessPolicies"
	RelAttachedTo        = "AttachedTo"
	RelAssociatedTo      = "AssociatedTo"
	RelExposes           = "Exposes"
	RelIs                = "Is"
	RelManages           = "Manages"
	RelAuthenticates     = "Authenticates"
	RelConnectedTo       = "ConnectedTo"
	RelRepresentedBy     = "RepresentedBy"
	RelHasRbac           = "HasRbac"
)
