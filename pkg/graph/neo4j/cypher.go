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

package neo4j

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Azure/stormspotter/pkg/graph"
)

// NodeStatement renders a MERGE for one node, keyed on (class label, id).
// The family label is added via SET so re-merging an already-present node
// stays idempotent.
func NodeStatement(node *graph.Node) string {
	var b strings.Builder
	fmt.Fprintf(&b, "MERGE (n:%s {id: %s})", node.Class, renderValue(node.ID))
	fmt.Fprintf(&b, " SET n:%s", node.Family)
	for _, k := range sortedKeys(node.Props) {
		fmt.Fprintf(&b, ", n.%s = %s", propertyKey(k), renderValue(node.Props[k]))
	}
	return b.String()
}

// RelationshipStatement renders a MERGE for one edge. Both endpoints are
// merged on their family label first so edges may legally point at nodes
// whose records were never collected.
func RelationshipStatement(rel graph.Relationship) string {
	var b strings.Builder
	fmt.Fprintf(&b, "MERGE (src:%s {id: %s})", rel.SourceFamily, renderValue(rel.SourceID))
	fmt.Fprintf(&b, " MERGE (dst:%s {id: %s})", rel.TargetFamily, renderValue(rel.TargetID))
	fmt.Fprintf(&b, " MERGE (src)-[r:`%s`]->(dst)", rel.Name)
	for _, k := range sortedKeys(rel.Props) {
		fmt.Fprintf(&b, " SET r.%s = %s", propertyKey(k), renderValue(rel.Props[k]))
	}
	return b.String()
}

func sortedKeys(props map[string]any) []string {
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// propertyKey backtick-quotes keys that are not plain identifiers.
func propertyKey(k string) string {
	for _, r := range k {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && (r < '0' || r > '9') && r != '_' {
			return "`" + k + "`"
		}
	}
	return k
}

// renderValue renders a property value as a cypher literal. Strings are
// single-quoted with backslashes doubled and single quotes dropped; nil
// renders as the empty string so MERGE statements never carry null.
func renderValue(v any) string {
	switch t := v.(type) {
	case nil:
		return "''"
	case string:
		return "'" + sanitize(t) + "'"
	case bool:
		return fmt.Sprintf("%t", t)
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", t)
	case float32, float64:
		return fmt.Sprintf("%v", t)
	case []string:
		items := make([]string, 0, len(t))
		for _, item := range t {
			items = append(items, "'"+sanitize(item)+"'")
		}
		return "[" + strings.Join(items, ", ") + "]"
	case []any:
		items := make([]string, 0, len(t))
		for _, item := range t {
			items = append(items, renderValue(item))
		}
		return "[" + strings.Join(items, ", ") + "]"
	default:
		return "'" + sanitize(fmt.Sprint(t)) + "'"
	}
}

func sanitize(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, "'", "")
}
