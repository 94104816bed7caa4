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

package aad

import (
	"context"
	"strings"
)

// firstPartyTenant owns Microsoft's first-party applications; expanding
// their owners is pointless and slow, so those objects get an empty list.
const firstPartyTenant = "f8cdef31-a31e-4b4a-93e4-5f571e91255a"

// objectClass describes one directory collection to enumerate. Class is the
// record store stem the results land in.
type objectClass struct {
	Class    string
	Resource string
	// Query is the query string for the collection listing. Directory
	// roles reject $top, hence per-class control.
	Query string

	expandMembers bool
	expandOwners  bool
}

var objectClasses = []objectClass{
	{Class: "User", Resource: "users", Query: "$top=999"},
	{Class: "Group", Resource: "groups", Query: "$top=999", expandMembers: true, expandOwners: true},
	{Class: "ServicePrincipal", Resource: "servicePrincipals", Query: "$top=999", expandOwners: true},
	{Class: "Application", Resource: "applications", Query: "$top=999", expandOwners: true},
	{Class: "DirectoryRole", Resource: "directoryRoles", expandMembers: true},
}

// parse enriches a raw record with its expanded navigation properties.
func (oc objectClass) parse(ctx context.Context, client *Client, record map[string]any) error {
	if oc.expandMembers {
		members, err := client.Expand(ctx, oc.Resource, objectID(record), "members")
		if err != nil {
			return err
		}
		record["members"] = toAny(members)
	}
	if oc.expandOwners {
		if strings.EqualFold(ownerOrganization(record), firstPartyTenant) {
			record["owners"] = []any{}
			return nil
		}
		owners, err := client.Expand(ctx, oc.Resource, objectID(record), "owners")
		if err != nil {
			return err
		}
		record["owners"] = toAny(owners)
	}
	return nil
}

func ownerOrganization(record map[string]any) string {
	v, _ := record["appOwnerOrganizationId"].(string)
	return v
}

func toAny(ids []string) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}
