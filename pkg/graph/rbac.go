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
	"fmt"
	"strings"
	"unicode"
)

// ParseRoleAssignment maps an RBAC assignment record to a single edge from
// the principal to the assignment scope. The relation name is the role's
// display name with all whitespace removed ("Virtual Machine Contributor"
// becomes VirtualMachineContributor); assignments whose definition could
// not be resolved fall back to HasRbac.
func ParseRoleAssignment(record map[string]any) (Relationship, error) {
	principal := str(record, "principal_id")
	if principal == "" {
		principal = str(record, "principalId")
	}
	scope := str(record, "scope")
	if principal == "" || scope == "" {
		return Relationship{}, fmt.Errorf("role assignment %s is missing principal or scope", str(record, "id"))
	}

	roleName := str(record, "roleName")
	relation := stripWhitespace(roleName)
	if relation == "" {
		relation = RelHasRbac
	}

	rel := newRel(principal, FamilyAAD, scope, FamilyARM, relation)
	rel.Props = map[string]any{
		"id":              strings.ToLower(str(record, "id")),
		"name":            str(record, "name"),
		"roleName":        roleName,
		"roleType":        str(record, "roleType"),
		"roleDescription": str(record, "roleDescription"),
	}
	if defID := str(record, "role_definition_id"); defID != "" {
		rel.Props["roleDefinitionId"] = strings.ToLower(defID)
	}
	if actions, notActions, ok := flattenPermissions(record["permissions"]); ok {
		rel.Props["actions"] = actions
		rel.Props["notActions"] = notActions
	}
	return rel, nil
}

func stripWhitespace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

// flattenPermissions merges the action lists of every permission block on
// the resolved role definition.
func flattenPermissions(v any) (actions []any, notActions []any, ok bool) {
	perms, isList := v.([]any)
	if !isList {
		return nil, nil, false
	}
	actions, notActions = []any{}, []any{}
	for _, raw := range perms {
		perm, isMap := raw.(map[string]any)
		if !isMap {
			continue
		}
		for _, a := range stringList(perm["actions"]) {
			actions = append(actions, a)
		}
		for _, a := range stringList(perm["not_actions"]) {
			notActions = append(notActions, a)
		}
	}
	return actions, notActions, true
}
