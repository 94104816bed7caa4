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

// Package graph reconstructs typed domain entities from the collector's
// semi-structured records and derives the relationships implicit in them.
package graph

import "strings"

// Node is one graph node: a class label, a family label and a bag of scalar
// properties. ID is unique within the family and always lowercase.
type Node struct {
	Class  Label
	Family Label
	ID     string
	Props  map[string]any
}

// Relationship is one typed edge. Both endpoints are identified by
// (family label, id); MERGE creates missing endpoints implicitly, so edges
// may legally refer to nodes never seen as records.
type Relationship struct {
	SourceID     string
	SourceFamily Label
	TargetID     string
	TargetFamily Label
	Name         string
	Props        map[string]any
}

func newNode(class, family Label, id string) *Node {
	return &Node{
		Class:  class,
		Family: family,
		ID:     strings.ToLower(id),
		Props:  map[string]any{},
	}
}

func newRel(sourceID string, sourceFamily Label, targetID string, targetFamily Label, name string) Relationship {
	return Relationship{
		SourceID:     strings.ToLower(sourceID),
		SourceFamily: sourceFamily,
		TargetID:     strings.ToLower(targetID),
		TargetFamily: targetFamily,
		Name:         name,
	}
}
