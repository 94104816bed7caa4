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
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/resources/armresources"
	"github.com/samber/lo"
)

// fallbackAPIVersion is used for types whose provider was never seen, which
// happens when a provider is registered in one subscription but not the one
// currently being walked.
const fallbackAPIVersion = "2020-06-01"

// supportedVersionsPattern matches the hint ARM embeds in a NoRegisteredProviderFound
// or InvalidApiVersionParameter error body.
var supportedVersionsPattern = regexp.MustCompile(`The supported api-versions are '([^']+)'`)

// VersionResolver maps resource types to the API version used for GetByID.
// It is filled from provider enumeration and refined per resource when ARM
// rejects a version.
type VersionResolver struct {
	// Override forces one version for every type, set from the CLI.
	Override string

	mu       sync.RWMutex
	versions map[string]string
}

func NewVersionResolver() *VersionResolver {
	return &VersionResolver{versions: map[string]string{}}
}

// Register records the preferred API version for every resource type of a
// provider: the declared default when there is one, otherwise the newest.
func (r *VersionResolver) Register(provider *armresources.Provider) {
	if provider == nil || provider.Namespace == nil {
		return
	}
	namespace := strings.ToLower(*provider.Namespace)

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rt := range provider.ResourceTypes {
		if rt == nil || rt.ResourceType == nil {
			continue
		}
		version := ""
		if rt.DefaultAPIVersion != nil {
			version = *rt.DefaultAPIVersion
		} else if len(rt.APIVersions) > 0 && rt.APIVersions[0] != nil {
			version = *rt.APIVersions[0]
		}
		if version == "" {
			continue
		}
		r.versions[namespace+"/"+strings.ToLower(*rt.ResourceType)] = version
	}
}

// Lookup returns the version to try first for a resource type.
func (r *VersionResolver) Lookup(resourceType string) string {
	if r.Override != "" {
		return r.Override
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if v, ok := r.versions[strings.ToLower(resourceType)]; ok {
		return v
	}
	return fallbackAPIVersion
}

// negotiateVersion picks the next version to try after a rejection: the
// newest version the error advertises that has not been tried yet. Empty
// means the error carried no hint or every advertised version was tried.
func negotiateVersion(errText string, tried []string) string {
	match := supportedVersionsPattern.FindStringSubmatch(errText)
	if match == nil {
		return ""
	}
	supported := strings.Split(match[1], ",")
	supported = lo.Map(supported, func(v string, _ int) string { return strings.TrimSpace(v) })
	supported = lo.Filter(supported, func(v string, _ int) bool {
		return v != "" && !lo.Contains(tried, v)
	})
	if len(supported) == 0 {
		return ""
	}
	// API versions are dates, so the lexicographic maximum is the newest.
	sort.Strings(supported)
	return supported[len(supported)-1]
}
