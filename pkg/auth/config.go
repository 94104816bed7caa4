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
)

// AuthMethod selects how the collector obtains credentials.
type AuthMethod string

const (
	// AuthMethodCLI piggybacks on the Azure CLI sign-in cache.
	AuthMethodCLI AuthMethod = "azcli"
	// AuthMethodSPN authenticates as a service principal with a client secret.
	AuthMethodSPN AuthMethod = "spn"
)

// Config holds the credential configuration parsed from the CLI.
type Config struct {
	Method AuthMethod

	// Cloud is a built-in cloud instance name. Mutually exclusive with ConfigFile.
	Cloud string
	// ConfigFile points at a custom cloud profile (INI).
	ConfigFile string

	// Service principal fields, required for AuthMethodSPN.
	TenantID     string
	ClientID     string
	ClientSecret string

	// SSLCertPath optionally points at a PEM bundle used for HTTPS validation.
	SSLCertPath string
}

func (cfg *Config) Default() error {
	if cfg.Cloud == "" && cfg.ConfigFile == "" {
		cfg.Cloud = "PUBLIC"
	}
	if cfg.Method == "" {
		cfg.Method = AuthMethodCLI
	}
	return nil
}

func (cfg *Config) Validate() error {
	if cfg.Cloud != "" && cfg.ConfigFile != "" {
		return fmt.Errorf("--cloud and --config cannot both be set - please use only one cloud configuration method")
	}

	if cfg.Method == AuthMethodSPN {
		fields := []struct {
			val  string
			name string
		}{
			{cfg.TenantID, "tenant ID"},
			{cfg.ClientID, "client ID"},
			{cfg.ClientSecret, "client secret"},
		}
		for _, field := range fields {
			if field.val == "" {
				return fmt.Errorf("%s not set", field.name)
			}
		}
	}
	return nil
}

// ResolveEnvironment resolves the cloud environment using the following precedence:
// 1. Custom profile file (--config)
// 2. Known cloud names (--cloud)
func (cfg *Config) ResolveEnvironment() (*Environment, error) {
	if cfg.ConfigFile != "" {
		return EnvironmentFromFile(cfg.ConfigFile)
	}
	return EnvironmentFromName(cfg.Cloud)
}
