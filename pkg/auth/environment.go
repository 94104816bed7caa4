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

package auth

import (
	"fmt"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/cloud"
	"gopkg.in/ini.v1"
)

// Environment describes the endpoints of one Azure cloud instance. The four
// national clouds are built in; anything else comes from a config file.
type Environment struct {
	Name string

	// ActiveDirectoryAuthority is the login endpoint tokens are requested from.
	ActiveDirectoryAuthority string
	// ResourceManager is the ARM endpoint.
	ResourceManager string
	// MicrosoftGraph is the Microsoft Graph endpoint.
	MicrosoftGraph string
	// AADGraph is the legacy AAD Graph resource id. Kept for custom cloud
	// profiles; enumeration itself always goes through Microsoft Graph.
	AADGraph string
	// Management is the classic (RDFE) management endpoint. Empty when the
	// cloud instance has none; management cert enumeration is skipped then.
	Management string
}

var environments = map[string]Environment{
	"PUBLIC": {
		Name:                     "PUBLIC",
		ActiveDirectoryAuthority: "https://login.microsoftonline.com",
		ResourceManager:          "https://management.azure.com",
		MicrosoftGraph:           "https://graph.microsoft.com",
		AADGraph:                 "https://graph.windows.net",
		Management:               "https://management.core.windows.net",
	},
	"GERMAN": {
		Name:                     "GERMAN",
		ActiveDirectoryAuthority: "https://login.microsoftonline.de",
		ResourceManager:          "https://management.microsoftazure.de",
		MicrosoftGraph:           "https://graph.microsoft.de",
		AADGraph:                 "https://graph.cloudapi.de",
		Management:               "https://management.core.cloudapi.de",
	},
	"CHINA": {
		Name:                     "CHINA",
		ActiveDirectoryAuthority: "https://login.chinacloudapi.cn",
		ResourceManager:          "https://management.chinacloudapi.cn",
		MicrosoftGraph:           "https://microsoftgraph.chinacloudapi.cn",
		AADGraph:                 "https://graph.chinacloudapi.cn",
		Management:               "https://management.core.chinacloudapi.cn",
	},
	"USGOV": {
		Name:                     "USGOV",
		ActiveDirectoryAuthority: "https://login.microsoftonline.us",
		ResourceManager:          "https://management.usgovcloudapi.net",
		MicrosoftGraph:           "https://graph.microsoft.us",
		AADGraph:                 "https://graph.windows.net",
		Management:               "https://management.core.usgovcloudapi.net",
	},
}

// EnvironmentFromName returns a built-in cloud instance by name.
// Unknown names are an error rather than silently defaulting to PUBLIC.
func EnvironmentFromName(name string) (*Environment, error) {
	env, ok := environments[strings.ToUpper(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("unknown cloud name: %s", name)
	}
	return &env, nil
}

// EnvironmentFromFile reads a custom cloud profile. The expected format is an
// INI file with an [ENDPOINTS] section carrying Resource_Manager, AD,
// AD_Graph_ResourceId, MS_Graph and Management keys.
func EnvironmentFromFile(path string) (*Environment, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read cloud profile %s: %w", path, err)
	}

	endpoints, err := cfg.GetSection("ENDPOINTS")
	if err != nil {
		return nil, fmt.Errorf("cloud profile %s has no [ENDPOINTS] section: %w", path, err)
	}

	env := &Environment{
		Name:                     "CUSTOM",
		ActiveDirectoryAuthority: endpoints.Key("AD").String(),
		ResourceManager:          endpoints.Key("Resource_Manager").String(),
		MicrosoftGraph:           endpoints.Key("MS_Graph").String(),
		AADGraph:                 endpoints.Key("AD_Graph_ResourceId").String(),
		Management:               endpoints.Key("Management").String(),
	}
	if err := env.Validate(); err != nil {
		return nil, fmt.Errorf("invalid cloud profile %s: %w", path, err)
	}
	return env, nil
}

func (e *Environment) Validate() error {
	if e.ResourceManager == "" {
		return fmt.Errorf("resource manager endpoint is required")
	}
	if e.ActiveDirectoryAuthority == "" {
		return fmt.Errorf("active directory endpoint is required")
	}
	if e.MicrosoftGraph == "" {
		return fmt.Errorf("microsoft graph endpoint is required")
	}
	return nil
}

// Cloud maps the environment to the azcore track 2 representation used by
// azidentity and the arm clients.
func (e *Environment) Cloud() cloud.Configuration {
	return cloud.Configuration{
		ActiveDirectoryAuthorityHost: e.ActiveDirectoryAuthority,
		Services: map[cloud.ServiceName]cloud.ServiceConfiguration{
			cloud.ResourceManager: {
				Endpoint: e.ResourceManager,
				Audience: e.ResourceManager,
			},
		},
	}
}

// ARMScope returns the token scope for the resource manager audience.
func (e *Environment) ARMScope() string {
	return strings.TrimRight(e.ResourceManager, "/") + "/.default"
}

// GraphScope returns the token scope for the Microsoft Graph audience.
func (e *Environment) GraphScope() string {
	return strings.TrimRight(e.MicrosoftGraph, "/") + "/.default"
}

// ManagementScope returns the token scope for the classic management audience.
func (e *Environment) ManagementScope() string {
	return strings.TrimRight(e.Management, "/") + "/.default"
}
