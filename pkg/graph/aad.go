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

// classSchemas maps record store file stems to schemas. AAD classes live
// here; the collector-level ARM classes (tenant, subscription) are added by
// the ARM schema file.
var classSchemas = map[string]*Schema{
	"User": {
		Class:    LabelAADUser,
		Family:   FamilyAAD,
		Required: []string{"userPrincipalName"},
	},
	"Group": {
		Class:  LabelAADGroup,
		Family: FamilyAAD,
		Derive: deriveGroup,
	},
	"DirectoryRole": {
		Class:  LabelAADRole,
		Family: FamilyAAD,
		Derive: deriveDirectoryRole,
	},
	"Application": {
		Class:    LabelAADApplication,
		Family:   FamilyAAD,
		Required: []string{"appId"},
		Derive:   deriveApplication,
	},
	"ServicePrincipal": {
		Class:    LabelAADServicePrincipal,
		Family:   FamilyAAD,
		Required: []string{"appId"},
		Derive:   deriveApplication,
	},
}

// deriveGroup links expanded members and owners. Groups may contain groups;
// MERGE on both endpoints makes cycles safe regardless of record order.
func deriveGroup(record map[string]any, node *Node) ([]*Node, []Relationship) {
	var rels []Relationship
	for _, member := range stringList(record["members"]) {
		rels = append(rels, newRel(member, FamilyAAD, node.ID, FamilyAAD, RelMemberOf))
	}
	for _, owner := range stringList(record["owners"]) {
		rels = append(rels, newRel(owner, FamilyAAD, node.ID, FamilyAAD, RelOwns))
	}
	return nil, rels
}

func deriveDirectoryRole(record map[string]any, node *Node) ([]*Node, []Relationship) {
	var rels []Relationship
	for _, member := range stringList(record["members"]) {
		rels = append(rels, newRel(member, FamilyAAD, node.ID, FamilyAAD, RelMemberOf))
	}
	return nil, rels
}

// deriveApplication covers both applications and service principals: owner
// edges plus credential counts, which matter for audit even though the
// credential material itself is never collected.
func deriveApplication(record map[string]any, node *Node) ([]*Node, []Relationship) {
	node.Props["passwordCredentialCount"] = len(list(record, "passwordCredentials"))
	node.Props["keyCredentialCount"] = len(list(record, "keyCredentials"))

	var rels []Relationship
	for _, owner := range stringList(record["owners"]) {
		rels = append(rels, newRel(owner, FamilyAAD, node.ID, FamilyAAD, RelOwns))
	}
	return nil, rels
}
