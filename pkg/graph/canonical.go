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
	"strings"

	"github.com/samber/lo"
)

// scalar reports whether v can be stored directly as a node property:
// scalars and lists of scalars pass, nested objects are dropped (their
// interesting fields are lifted explicitly by each schema).
func scalar(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string, bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return true
	case []any:
		return lo.EveryBy(t, func(item any) bool {
			switch item.(type) {
			case string, bool, int, int8, int16, int32, int64, float32, float64, uint64:
				return true
			default:
				return false
			}
		})
	default:
		return false
	}
}

// flattenTags turns a tags map into an alternating [k1, v1, k2, v2, ...]
// list. Anything that is not a map flattens to an empty list.
func flattenTags(v any) []any {
	tags, ok := v.(map[string]any)
	if !ok {
		return []any{}
	}
	flat := make([]any, 0, 2*len(tags))
	for k, val := range tags {
		flat = append(flat, k, val)
	}
	return flat
}

// scalarProps copies every scalar top-level field of record into props,
// skipping keys handled elsewhere.
func scalarProps(record map[string]any, props map[string]any, skip ...string) {
	for k, v := range record {
		if lo.Contains(skip, k) {
			continue
		}
		if scalar(v) {
			props[k] = v
		}
	}
}

// normalizeName maps displayName / display_name onto the canonical name key.
func normalizeName(props map[string]any) {
	for _, key := range []string{"displayName", "display_name"} {
		if v, ok := props[key]; ok {
			props["name"] = v
			delete(props, key)
		}
	}
}

// properties returns the nested properties sub-object, if any.
func properties(record map[string]any) map[string]any {
	props, _ := record["properties"].(map[string]any)
	return props
}

// lookupPath walks a dotted path ("storageProfile.imageReference.sku")
// through nested maps.
func lookupPath(m map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var cur any = m
	for _, part := range parts {
		node, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = node[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// str returns the string value at key, or "".
func str(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

// strAt returns the string at a dotted path, or "".
func strAt(m map[string]any, path string) string {
	v, ok := lookupPath(m, path)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// list returns the []any at key, or nil.
func list(m map[string]any, key string) []any {
	l, _ := m[key].([]any)
	return l
}

// stringList coerces a []any of strings; non-strings are dropped.
func stringList(v any) []string {
	l, ok := v.([]any)
	if !ok {
		return nil
	}
	return lo.FilterMap(l, func(item any, _ int) (string, bool) {
		s, ok := item.(string)
		return s, ok
	})
}

// resourceGroupOf returns the resource group path prefix of a full ARM
// resource id (everything before /providers).
func resourceGroupOf(id string) string {
	lower := strings.ToLower(id)
	if idx := strings.Index(lower, "/providers"); idx > 0 {
		return lower[:idx]
	}
	return ""
}

// subscriptionOf returns the subscription path prefix of an ARM id.
func subscriptionOf(id string) string {
	parts := strings.Split(strings.ToLower(id), "/")
	if len(parts) >= 3 && parts[1] == "subscriptions" {
		return "/" + parts[1] + "/" + parts[2]
	}
	return ""
}
