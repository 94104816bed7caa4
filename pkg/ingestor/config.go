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

package ingestor

import "fmt"

// Config holds one ingestion run's settings.
type Config struct {
	// Archive is the results archive produced by the collector.
	Archive string

	// Neo4j connection settings.
	Server   string
	Port     int
	Username string
	Password string
}

func (cfg *Config) Default() error {
	if cfg.Server == "" {
		cfg.Server = "bolt://localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 7687
	}
	if cfg.Username == "" {
		cfg.Username = "neo4j"
	}
	return nil
}

func (cfg *Config) Validate() error {
	if cfg.Archive == "" {
		return fmt.Errorf("no results archive given")
	}
	if cfg.Password == "" {
		return fmt.Errorf("database password not set")
	}
	return nil
}

// URI returns the bolt URI the driver connects to.
func (cfg *Config) URI() string {
	return fmt.Sprintf("%s:%d", cfg.Server, cfg.Port)
}
