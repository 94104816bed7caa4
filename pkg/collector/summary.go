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

package collector

import (
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"

	"github.com/Azure/stormspotter/pkg/collector/arm"
)

var aadClasses = []string{"User", "Group", "ServicePrincipal", "Application", "DirectoryRole"}

// WriteSummary prints the per-class record tallies of a finished run, one
// table for directory objects and one for resource manager entities.
func WriteSummary(w io.Writer, counts map[string]int) {
	aadTable := tablewriter.NewWriter(w)
	aadTable.SetHeader(aadClasses)
	aadTable.Append(lo.Map(aadClasses, func(class string, _ int) string {
		return strconv.Itoa(counts[class])
	}))
	aadTable.Render()

	armTable := tablewriter.NewWriter(w)
	armTable.SetHeader([]string{"Tenants", "Subscriptions", "Resources", "Role Assignments", "Management Certs"})
	armTable.Append([]string{
		strconv.Itoa(counts[arm.ClassTenant]),
		strconv.Itoa(counts[arm.ClassSubscription]),
		strconv.Itoa(resourceCount(counts)),
		strconv.Itoa(counts[arm.ClassRBAC]),
		strconv.Itoa(counts[arm.ClassCertificates]),
	})
	armTable.Render()
}

// resourceCount sums the classes keyed by subscription id, which hold
// resource groups and resources.
func resourceCount(counts map[string]int) int {
	known := map[string]bool{
		arm.ClassTenant:       true,
		arm.ClassSubscription: true,
		arm.ClassRBAC:         true,
		arm.ClassCertificates: true,
	}
	for _, class := range aadClasses {
		known[class] = true
	}

	total := 0
	for class, count := range counts {
		if !known[class] {
			total += count
		}
	}
	return total
}
