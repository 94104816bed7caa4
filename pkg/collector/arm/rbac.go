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

	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/authorization/armauthorization/v2"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

// definitionWorkers bounds concurrent role definition fetches; the
// definitions endpoint throttles aggressively.
const definitionWorkers = 10

// enumerateRBAC stores one record per role assignment, enriched with its
// resolved role definition, and remembers every principal for backfill.
func (e *Enumerator) enumerateRBAC(ctx context.Context, subscriptionID string) error {
	assignments, err := e.factory.RoleAssignments(subscriptionID)
	if err != nil {
		return err
	}
	definitions, err := e.factory.RoleDefinitions()
	if err != nil {
		return err
	}

	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(definitionWorkers)

	pager := assignments.NewListForSubscriptionPager(nil)
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("listing role assignments in %s: %w", subscriptionID, err)
		}
		for _, assignment := range resp.Value {
			if assignment == nil || assignment.Properties == nil {
				continue
			}
			group.Go(func() error {
				return e.storeAssignment(ctx, definitions, assignment)
			})
		}
	}
	return group.Wait()
}

func (e *Enumerator) storeAssignment(ctx context.Context, definitions RoleDefinitionsAPI, assignment *armauthorization.RoleAssignment) error {
	props := assignment.Properties
	record := map[string]any{
		"id":                 lo.FromPtr(assignment.ID),
		"name":               lo.FromPtr(assignment.Name),
		"principal_id":       lo.FromPtr(props.PrincipalID),
		"principal_type":     string(lo.FromPtr(props.PrincipalType)),
		"scope":              lo.FromPtr(props.Scope),
		"role_definition_id": lo.FromPtr(props.RoleDefinitionID),
	}

	definition, err := e.roleDefinition(ctx, definitions, lo.FromPtr(props.RoleDefinitionID))
	if err != nil {
		// Assignment without a resolvable definition is still worth keeping;
		// the ingestor falls back to a generic relation.
		e.log.Error(err, "failed to resolve role definition", "roleDefinitionId", lo.FromPtr(props.RoleDefinitionID))
	} else if definition.Properties != nil {
		record["roleName"] = lo.FromPtr(definition.Properties.RoleName)
		record["roleType"] = lo.FromPtr(definition.Properties.RoleType)
		record["roleDescription"] = lo.FromPtr(definition.Properties.Description)
		record["permissions"] = flattenDefinitionPermissions(definition.Properties.Permissions)
	}

	e.addPrincipal(lo.FromPtr(props.PrincipalID))
	return e.store(ctx, ClassRBAC, record)
}

// roleDefinition resolves a definition by id, caching across subscriptions
// since built-in roles repeat everywhere.
func (e *Enumerator) roleDefinition(ctx context.Context, definitions RoleDefinitionsAPI, roleDefinitionID string) (*armauthorization.RoleDefinition, error) {
	if cached, ok := e.definitions.Get(roleDefinitionID); ok {
		return cached.(*armauthorization.RoleDefinition), nil
	}
	resp, err := definitions.GetByID(ctx, roleDefinitionID, nil)
	if err != nil {
		return nil, err
	}
	e.definitions.SetDefault(roleDefinitionID, &resp.RoleDefinition)
	return &resp.RoleDefinition, nil
}

func flattenDefinitionPermissions(permissions []*armauthorization.Permission) []any {
	out := make([]any, 0, len(permissions))
	for _, perm := range permissions {
		if perm == nil {
			continue
		}
		out = append(out, map[string]any{
			"actions":          derefAll(perm.Actions),
			"not_actions":      derefAll(perm.NotActions),
			"data_actions":     derefAll(perm.DataActions),
			"not_data_actions": derefAll(perm.NotDataActions),
		})
	}
	return out
}

func derefAll(values []*string) []any {
	out := make([]any, 0, len(values))
	for _, v := range values {
		if v != nil {
			out = append(out, *v)
		}
	}
	return out
}
