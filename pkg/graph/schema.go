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

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// DeriveFunc inspects a raw record and its canonical node and returns any
// synthesized nodes plus the relationships implicit in the record.
type DeriveFunc func(record map[string]any, node *Node) ([]*Node, []Relationship)

// Schema describes how one object class maps onto the graph: required
// attributes, dotted paths lifted out of the nested properties object, and
// the relationship-derivation rule.
type Schema struct {
	Class  Label
	Family Label

	// Required top-level attributes; records missing one fail to parse.
	Required []string
	// Lift lists dotted paths into properties whose values become
	// first-class node attributes, keyed by their last path segment.
	Lift []string
	// Derive is the class-specific relationship rule, optional.
	Derive DeriveFunc
}

// Parse builds the canonical node for record and derives its relationships.
// The returned slice of nodes always starts with the record's own node;
// synthesized nodes (managed identities, virtual networks, ...) follow.
func (s *Schema) Parse(record map[string]any) ([]*Node, []Relationship, error) {
	id := recordID(record)
	if err := validate.Var(id, "required"); err != nil {
		return nil, nil, fmt.Errorf("%s record has no id", s.Class)
	}
	for _, key := range s.Required {
		if err := validate.Var(record[key], "required"); err != nil {
			return nil, nil, fmt.Errorf("%s record %s is missing required attribute %q", s.Class, id, key)
		}
	}

	node := newNode(s.Class, s.Family, id)
	scalarProps(record, node.Props, "id", "tags", "properties")
	node.Props["tags"] = flattenTags(record["tags"])
	normalizeName(node.Props)

	if props := properties(record); props != nil {
		scalarProps(props, node.Props)
		for _, path := range s.Lift {
			if v, ok := lookupPath(props, path); ok && scalar(v) {
				parts := strings.Split(path, ".")
				node.Props[parts[len(parts)-1]] = v
			}
		}
	}

	if raw, err := json.Marshal(record); err == nil {
		node.Props["raw"] = string(raw)
	}

	nodes := []*Node{node}
	var rels []Relationship

	if s.Family == FamilyARM {
		// Every resource below a resource group hangs off it.
		if rg := resourceGroupOf(node.ID); rg != "" && !topLevelClass(s.Class) {
			rels = append(rels, newRel(rg, FamilyARM, node.ID, FamilyARM, RelContains))
		}
		extra, identityRels := deriveManagedIdentity(record, node)
		nodes = append(nodes, extra...)
		rels = append(rels, identityRels...)
	}

	if s.Derive != nil {
		extra, derived := s.Derive(record, node)
		nodes = append(nodes, extra...)
		rels = append(rels, derived...)
	}
	return nodes, rels, nil
}

// recordID prefers the AAD objectId over id; ARM records only carry id.
func recordID(record map[string]any) string {
	if v := str(record, "objectId"); v != "" {
		return v
	}
	return str(record, "id")
}

func topLevelClass(class Label) bool {
	switch class {
	case LabelTenant, LabelSubscription, LabelResourceGroup:
		return true
	}
	return false
}

// deriveManagedIdentity synthesizes the service principal bound to a
// resource with a managed identity and links the resource to it.
func deriveManagedIdentity(record map[string]any, node *Node) ([]*Node, []Relationship) {
	identity, ok := record["identity"].(map[string]any)
	if !ok {
		return nil, nil
	}
	if t := str(identity, "type"); t == "" || strings.EqualFold(t, "None") {
		return nil, nil
	}
	principalID := str(identity, "principalId")
	if principalID == "" {
		principalID = str(identity, "principal_id")
	}
	if principalID == "" {
		return nil, nil
	}

	spn := newNode(LabelAADServicePrincipal, FamilyAAD, principalID)
	spn.Props["name"] = principalID
	if tenantID := str(identity, "tenantId"); tenantID != "" {
		spn.Props["tenantId"] = tenantID
	} else if tenantID := str(identity, "tenant_id"); tenantID != "" {
		spn.Props["tenantId"] = tenantID
	}
	spn.Props["servicePrincipalType"] = "ManagedIdentity"

	return []*Node{spn}, []Relationship{
		newRel(node.ID, FamilyARM, spn.ID, FamilyAAD, RelIs),
	}
}

// SchemaForClass returns the schema for an AAD class or collector-level
// record class (Tenant, Subscription), keyed by record store file stem.
func SchemaForClass(stem string) (*Schema, bool) {
	s, ok := classSchemas[stem]
	return s, ok
}

// SchemaForType returns the schema for an ARM resource type such as
// microsoft.keyvault/vaults. Unknown types map to the generic schema.
func SchemaForType(armType string) *Schema {
	if s, ok := armSchemas[strings.ToLower(armType)]; ok {
		return s
	}
	return genericSchema
}
