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

import "strings"

// genericSchema is the fallback for ARM resource types without a dedicated
// schema. The node keeps its full type so nothing collected is lost.
var genericSchema = &Schema{
	Class:  LabelGenericResource,
	Family: FamilyARM,
}

// armSchemas maps lowercase ARM resource types to schemas.
var armSchemas = map[string]*Schema{
	"microsoft.resources/resourcegroups": {
		Class:  LabelResourceGroup,
		Family: FamilyARM,
		Derive: deriveResourceGroup,
	},
	"microsoft.keyvault/vaults": {
		Class:  LabelKeyVault,
		Family: FamilyARM,
		Lift:   []string{"vaultUri", "tenantId", "enableSoftDelete", "enableRbacAuthorization", "sku.name"},
		Derive: deriveKeyVault,
	},
	"microsoft.compute/virtualmachines": {
		Class:  LabelVirtualMachine,
		Family: FamilyARM,
		Lift: []string{
			"hardwareProfile.vmSize",
			"osProfile.adminUsername",
			"osProfile.computerName",
			"storageProfile.osDisk.osType",
			"storageProfile.imageReference.publisher",
			"storageProfile.imageReference.offer",
			"storageProfile.imageReference.sku",
		},
		Derive: deriveVirtualMachine,
	},
	"microsoft.compute/disks": {
		Class:  LabelDisk,
		Family: FamilyARM,
		Lift:   []string{"diskSizeGB", "diskState", "osType", "encryption.type"},
		Derive: deriveDisk,
	},
	"microsoft.network/networkinterfaces": {
		Class:  LabelNetworkInterface,
		Family: FamilyARM,
		Lift:   []string{"macAddress", "enableIPForwarding"},
		Derive: deriveNetworkInterface,
	},
	"microsoft.network/publicipaddresses": {
		Class:  LabelPublicIP,
		Family: FamilyARM,
		Lift:   []string{"ipAddress", "publicIPAllocationMethod", "dnsSettings.fqdn"},
	},
	"microsoft.network/networksecuritygroups": {
		Class:  LabelNetworkSecurityGroup,
		Family: FamilyARM,
		Derive: deriveNetworkSecurityGroup,
	},
	"microsoft.network/virtualnetworks": {
		Class:  LabelVirtualNetwork,
		Family: FamilyARM,
		Lift:   []string{"addressSpace.addressPrefixes", "enableDdosProtection"},
	},
	"microsoft.network/loadbalancers": {
		Class:  LabelLoadBalancer,
		Family: FamilyARM,
		Derive: deriveLoadBalancer,
	},
	"microsoft.storage/storageaccounts": {
		Class:  LabelStorageAccount,
		Family: FamilyARM,
		Lift: []string{
			"supportsHttpsTrafficOnly",
			"allowBlobPublicAccess",
			"primaryEndpoints.blob",
			"primaryEndpoints.file",
			"primaryEndpoints.queue",
			"primaryEndpoints.table",
		},
	},
	"microsoft.sql/servers": {
		Class:  LabelSQLServer,
		Family: FamilyARM,
		Lift:   []string{"fullyQualifiedDomainName", "administratorLogin", "publicNetworkAccess"},
	},
	"microsoft.sql/servers/databases": {
		Class:  LabelSQLDatabase,
		Family: FamilyARM,
		Derive: deriveSQLDatabase,
	},
	"microsoft.web/sites": {
		Class:  LabelWebsite,
		Family: FamilyARM,
		Lift:   []string{"defaultHostName", "httpsOnly", "state"},
		Derive: deriveWebsite,
	},
	"microsoft.web/serverfarms": {
		Class:  LabelServerFarm,
		Family: FamilyARM,
	},
	"microsoft.servicefabric/clusters": {
		Class:  LabelServiceFabric,
		Family: FamilyARM,
		Lift:   []string{"managementEndpoint", "clusterEndpoint", "vmImage"},
	},
	"microsoft.servicebus/namespaces": {
		Class:  LabelServiceBus,
		Family: FamilyARM,
		Lift:   []string{"serviceBusEndpoint", "zoneRedundant"},
	},
}

func init() {
	classSchemas["tenant"] = &Schema{
		Class:  LabelTenant,
		Family: FamilyARM,
	}
	classSchemas["subscription"] = &Schema{
		Class:    LabelSubscription,
		Family:   FamilyARM,
		Required: []string{"subscriptionId"},
		Derive:   deriveSubscription,
	}
	classSchemas["management_certs"] = &Schema{
		Class:  LabelManagementCert,
		Family: FamilyARM,
		Derive: deriveManagementCert,
	}
}

func deriveResourceGroup(record map[string]any, node *Node) ([]*Node, []Relationship) {
	sub := subscriptionOf(node.ID)
	if sub == "" {
		return nil, nil
	}
	return nil, []Relationship{newRel(sub, FamilyARM, node.ID, FamilyARM, RelContains)}
}

// deriveSubscription hangs the subscription under its home tenant and links
// in any Lighthouse-style managing tenants, which are synthesized since they
// never appear in the tenant listing of the collecting principal.
func deriveSubscription(record map[string]any, node *Node) ([]*Node, []Relationship) {
	var nodes []*Node
	var rels []Relationship
	if tenantID := str(record, "tenantId"); tenantID != "" {
		rels = append(rels, newRel(tenantPath(tenantID), FamilyARM, node.ID, FamilyARM, RelContains))
	}
	for _, raw := range list(record, "managedByTenants") {
		mt, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		tenantID := str(mt, "tenantId")
		if tenantID == "" {
			continue
		}
		tenant := newNode(LabelTenant, FamilyARM, tenantPath(tenantID))
		tenant.Props["tenantId"] = strings.ToLower(tenantID)
		nodes = append(nodes, tenant)
		rels = append(rels, newRel(tenant.ID, FamilyARM, node.ID, FamilyARM, RelManages))
	}
	return nodes, rels
}

func tenantPath(tenantID string) string {
	return "/tenants/" + strings.ToLower(tenantID)
}

// deriveManagementCert links a classic management certificate to the
// subscription it can authenticate to.
func deriveManagementCert(record map[string]any, node *Node) ([]*Node, []Relationship) {
	sub := str(record, "subscriptionId")
	if sub == "" {
		return nil, nil
	}
	return nil, []Relationship{
		newRel(node.ID, FamilyARM, "/subscriptions/"+sub, FamilyARM, RelAuthenticates),
	}
}

// deriveKeyVault turns each access policy into an edge from the holding
// principal, carrying the granted key/secret/certificate permissions.
func deriveKeyVault(record map[string]any, node *Node) ([]*Node, []Relationship) {
	props := properties(record)
	if props == nil {
		return nil, nil
	}
	var rels []Relationship
	for _, raw := range list(props, "accessPolicies") {
		policy, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		objectID := str(policy, "objectId")
		if objectID == "" {
			continue
		}
		rel := newRel(objectID, FamilyAAD, node.ID, FamilyARM, RelHasAccessPolicies)
		if perms, ok := policy["permissions"].(map[string]any); ok {
			rel.Props = map[string]any{
				"keys":         stringList(perms["keys"]),
				"secrets":      stringList(perms["secrets"]),
				"certificates": stringList(perms["certificates"]),
			}
		}
		rels = append(rels, rel)
	}
	return nil, rels
}

func deriveVirtualMachine(record map[string]any, node *Node) ([]*Node, []Relationship) {
	props := properties(record)
	if props == nil {
		return nil, nil
	}
	var rels []Relationship
	if diskID := strAt(props, "storageProfile.osDisk.managedDisk.id"); diskID != "" {
		rels = append(rels, newRel(diskID, FamilyARM, node.ID, FamilyARM, RelAttachedTo))
	}
	if dataDisks, ok := lookupPath(props, "storageProfile.dataDisks"); ok {
		if disks, ok := dataDisks.([]any); ok {
			for _, raw := range disks {
				disk, ok := raw.(map[string]any)
				if !ok {
					continue
				}
				if diskID := strAt(disk, "managedDisk.id"); diskID != "" {
					rels = append(rels, newRel(diskID, FamilyARM, node.ID, FamilyARM, RelAttachedTo))
				}
			}
		}
	}
	if raw, ok := lookupPath(props, "networkProfile.networkInterfaces"); ok {
		if nics, ok := raw.([]any); ok {
			for _, rawNic := range nics {
				nic, ok := rawNic.(map[string]any)
				if !ok {
					continue
				}
				if nicID := str(nic, "id"); nicID != "" {
					rels = append(rels, newRel(nicID, FamilyARM, node.ID, FamilyARM, RelAttachedTo))
				}
			}
		}
	}
	return nil, rels
}

func deriveDisk(record map[string]any, node *Node) ([]*Node, []Relationship) {
	managedBy := str(record, "managedBy")
	if managedBy == "" {
		if props := properties(record); props != nil {
			managedBy = str(props, "managedBy")
		}
	}
	if managedBy == "" {
		return nil, nil
	}
	return nil, []Relationship{newRel(node.ID, FamilyARM, managedBy, FamilyARM, RelAttachedTo)}
}

// deriveNetworkInterface walks the ip configurations: each configuration
// holding a public address becomes its own node exposing that address,
// subnet references connect the NIC to a synthesized virtual network node,
// and private addresses are collected as a property.
func deriveNetworkInterface(record map[string]any, node *Node) ([]*Node, []Relationship) {
	props := properties(record)
	if props == nil {
		return nil, nil
	}
	var nodes []*Node
	var rels []Relationship
	if vmID := strAt(props, "virtualMachine.id"); vmID != "" {
		rels = append(rels, newRel(node.ID, FamilyARM, vmID, FamilyARM, RelAttachedTo))
	}
	if nsgID := strAt(props, "networkSecurityGroup.id"); nsgID != "" {
		rels = append(rels, newRel(node.ID, FamilyARM, nsgID, FamilyARM, RelAssociatedTo))
	}

	var privateIPs []any
	seenVnets := map[string]bool{}
	for _, raw := range list(props, "ipConfigurations") {
		ipc, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		ipcProps, _ := ipc["properties"].(map[string]any)
		if ipcProps == nil {
			continue
		}
		if addr := str(ipcProps, "privateIPAddress"); addr != "" {
			privateIPs = append(privateIPs, addr)
		}
		if pipID := strAt(ipcProps, "publicIPAddress.id"); pipID != "" {
			ipcID := str(ipc, "id")
			if ipcID == "" {
				ipcID = node.ID + "/ipConfigurations/" + str(ipc, "name")
			}
			ipcNode := newNode(LabelIPConfiguration, FamilyARM, ipcID)
			ipcNode.Props["name"] = ipcNode.ID[strings.LastIndex(ipcNode.ID, "/")+1:]
			nodes = append(nodes, ipcNode)
			rels = append(rels,
				newRel(node.ID, FamilyARM, ipcNode.ID, FamilyARM, RelContains),
				newRel(ipcNode.ID, FamilyARM, pipID, FamilyARM, RelExposes),
				newRel(pipID, FamilyARM, node.ID, FamilyARM, RelAssociatedTo))
		}
		subnetID := strAt(ipcProps, "subnet.id")
		vnetID := vnetOfSubnet(subnetID)
		if vnetID == "" || seenVnets[vnetID] {
			continue
		}
		seenVnets[vnetID] = true
		vnet := newNode(LabelVirtualNetwork, FamilyARM, vnetID)
		vnet.Props["name"] = vnetID[strings.LastIndex(vnetID, "/")+1:]
		nodes = append(nodes, vnet)
		rel := newRel(node.ID, FamilyARM, vnet.ID, FamilyARM, RelConnectedTo)
		rel.Props = map[string]any{"subnet": strings.ToLower(subnetID)}
		rels = append(rels, rel)
	}
	if len(privateIPs) > 0 {
		node.Props["privateIpAddresses"] = privateIPs
	}
	return nodes, rels
}

// vnetOfSubnet returns the virtual network id a subnet id belongs to.
func vnetOfSubnet(subnetID string) string {
	lower := strings.ToLower(subnetID)
	if idx := strings.Index(lower, "/subnets/"); idx > 0 {
		return lower[:idx]
	}
	return ""
}

// deriveNetworkSecurityGroup synthesizes a node for every Allow rule so the
// permitted surface is queryable, and picks up NIC associations recorded on
// the group side.
func deriveNetworkSecurityGroup(record map[string]any, node *Node) ([]*Node, []Relationship) {
	props := properties(record)
	if props == nil {
		return nil, nil
	}
	var nodes []*Node
	var rels []Relationship
	for _, raw := range list(props, "securityRules") {
		rule, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		ruleID := str(rule, "id")
		ruleProps, _ := rule["properties"].(map[string]any)
		if ruleID == "" || ruleProps == nil {
			continue
		}
		if !strings.EqualFold(str(ruleProps, "access"), "Allow") {
			continue
		}
		n := newNode(LabelSecurityRule, FamilyARM, ruleID)
		n.Props["name"] = str(rule, "name")
		scalarProps(ruleProps, n.Props, "provisioningState")
		nodes = append(nodes, n)
		rels = append(rels, newRel(node.ID, FamilyARM, n.ID, FamilyARM, RelContains))
	}
	for _, raw := range list(props, "networkInterfaces") {
		nic, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if nicID := str(nic, "id"); nicID != "" {
			rels = append(rels, newRel(nicID, FamilyARM, node.ID, FamilyARM, RelAssociatedTo))
		}
	}
	return nodes, rels
}

func deriveLoadBalancer(record map[string]any, node *Node) ([]*Node, []Relationship) {
	props := properties(record)
	if props == nil {
		return nil, nil
	}
	var rels []Relationship
	for _, raw := range list(props, "frontendIPConfigurations") {
		fe, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		feProps, _ := fe["properties"].(map[string]any)
		if feProps == nil {
			continue
		}
		if pipID := strAt(feProps, "publicIPAddress.id"); pipID != "" {
			rels = append(rels, newRel(pipID, FamilyARM, node.ID, FamilyARM, RelAssociatedTo))
		}
	}
	for _, raw := range list(props, "backendAddressPools") {
		pool, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		poolProps, _ := pool["properties"].(map[string]any)
		if poolProps == nil {
			continue
		}
		for _, rawRef := range list(poolProps, "backendIPConfigurations") {
			ref, ok := rawRef.(map[string]any)
			if !ok {
				continue
			}
			nicID := nicOfIPConfiguration(str(ref, "id"))
			if nicID == "" {
				continue
			}
			rels = append(rels, newRel(node.ID, FamilyARM, nicID, FamilyARM, RelConnectedTo))
		}
	}
	return nil, rels
}

// nicOfIPConfiguration maps a NIC ip configuration id back to its NIC.
func nicOfIPConfiguration(id string) string {
	lower := strings.ToLower(id)
	if idx := strings.Index(lower, "/ipconfigurations/"); idx > 0 {
		return lower[:idx]
	}
	return ""
}

func deriveSQLDatabase(record map[string]any, node *Node) ([]*Node, []Relationship) {
	idx := strings.Index(node.ID, "/databases/")
	if idx <= 0 {
		return nil, nil
	}
	server := node.ID[:idx]
	return nil, []Relationship{newRel(server, FamilyARM, node.ID, FamilyARM, RelContains)}
}

func deriveWebsite(record map[string]any, node *Node) ([]*Node, []Relationship) {
	props := properties(record)
	if props == nil {
		return nil, nil
	}
	farmID := str(props, "serverFarmId")
	if farmID == "" {
		return nil, nil
	}
	return nil, []Relationship{newRel(node.ID, FamilyARM, farmID, FamilyARM, RelAttachedTo)}
}

// ResourceType extracts the ARM type of a raw resource record, preferring
// the explicit type attribute over parsing the id.
func ResourceType(record map[string]any) string {
	if t := str(record, "type"); t != "" {
		return strings.ToLower(t)
	}
	id := str(record, "id")
	lower := strings.ToLower(id)
	idx := strings.Index(lower, "/providers/")
	if idx < 0 {
		if strings.Contains(lower, "/resourcegroups/") && !strings.Contains(lower, "/providers/") {
			return "microsoft.resources/resourcegroups"
		}
		return ""
	}
	parts := strings.Split(lower[idx+len("/providers/"):], "/")
	if len(parts) < 2 {
		return ""
	}
	// provider namespace plus alternating type/name segments
	segs := []string{parts[0]}
	for i := 1; i < len(parts); i += 2 {
		segs = append(segs, parts[i])
	}
	return strings.Join(segs, "/")
}
