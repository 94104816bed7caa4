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

// Package collector orchestrates a full cloud enumeration run: directory
// objects through Microsoft Graph, resources and RBAC through ARM, results
// archived as a portable record store.
package collector

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"

	"github.com/Azure/stormspotter/pkg/auth"
	"github.com/Azure/stormspotter/pkg/auth/tokengate"
	"github.com/Azure/stormspotter/pkg/collector/aad"
	"github.com/Azure/stormspotter/pkg/collector/arm"
	"github.com/Azure/stormspotter/pkg/recordstore"
)

// Mode selects which halves of the enumeration run.
type Mode string

const (
	ModeBoth Mode = "both"
	ModeAAD  Mode = "aad"
	ModeARM  Mode = "arm"
)

// Config holds one collection run's settings.
type Config struct {
	Auth auth.Config
	Mode Mode

	// BackfillOnly skips the full directory walk and resolves only the
	// principals referenced by role assignments.
	BackfillOnly bool

	// OutputDir is where the results archive lands; defaults to the
	// working directory.
	OutputDir string

	IncludeSubscriptions []string
	ExcludeSubscriptions []string
	// Tenants restricts enumeration to subscriptions homed in these tenants.
	Tenants []string

	// ARMAPIVersion forces one API version for every resource fetch,
	// bypassing provider negotiation.
	ARMAPIVersion string
}

func (cfg *Config) Default() error {
	if cfg.Mode == "" {
		cfg.Mode = ModeBoth
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = "."
	}
	return cfg.Auth.Default()
}

func (cfg *Config) Validate() error {
	switch cfg.Mode {
	case ModeBoth, ModeAAD, ModeARM:
	default:
		return fmt.Errorf("unknown mode: %s", cfg.Mode)
	}
	if cfg.BackfillOnly && cfg.Mode == ModeAAD {
		return fmt.Errorf("backfill requires resource enumeration - use mode %q or %q", ModeBoth, ModeARM)
	}
	return cfg.Auth.Validate()
}

func (cfg *Config) collectAAD() bool { return cfg.Mode != ModeARM }
func (cfg *Config) collectARM() bool { return cfg.Mode != ModeAAD }

// needsDirectory reports whether a Graph client must be built: either the
// directory walk itself, or the RBAC principal backfill, which also runs
// on ARM-only collections.
func (cfg *Config) needsDirectory() bool { return cfg.collectAAD() || cfg.BackfillOnly }

// Run performs the collection and returns the path of the results archive.
func Run(ctx context.Context, cfg *Config) (string, error) {
	if err := cfg.Default(); err != nil {
		return "", err
	}
	if err := cfg.Validate(); err != nil {
		return "", err
	}
	log := logr.FromContextOrDiscard(ctx)

	env, err := cfg.Auth.ResolveEnvironment()
	if err != nil {
		return "", err
	}
	if err := env.Validate(); err != nil {
		return "", err
	}
	httpClient, err := auth.NewHTTPClient(cfg.Auth.SSLCertPath)
	if err != nil {
		return "", err
	}
	baseCred, err := auth.NewCredential(&cfg.Auth, env)
	if err != nil {
		return "", err
	}
	cred := auth.NewCachedCredential(baseCred)

	outDir := filepath.Join(cfg.OutputDir, "results_"+time.Now().Format("20060102-150405"))
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("creating output directory: %w", err)
	}
	store := recordstore.New(outDir)
	counter := NewCounter()

	var armEnum *arm.Enumerator
	if cfg.collectARM() {
		resolver := arm.NewVersionResolver()
		resolver.Override = cfg.ARMAPIVersion
		armEnum = arm.NewEnumerator(ctx, arm.NewClientFactory(cred, env, httpClient), store, resolver, env, cred, httpClient)
		armEnum.Filter = arm.Filter{
			IncludeSubscriptions: cfg.IncludeSubscriptions,
			ExcludeSubscriptions: cfg.ExcludeSubscriptions,
			Tenants:              cfg.Tenants,
		}
		armEnum.OnRecord = counter.Inc
	}

	var aadEnum *aad.Enumerator
	if cfg.needsDirectory() {
		gate := tokengate.New(ctx, cred, env.GraphScope(), "directory")
		defer gate.Close()
		client := aad.NewClient(ctx, httpClient, env.MicrosoftGraph, gate)
		aadEnum = aad.NewEnumerator(ctx, client, store)
		aadEnum.OnRecord = counter.Inc
	}

	start := time.Now()
	group, groupCtx := errgroup.WithContext(ctx)
	if armEnum != nil {
		group.Go(func() error { return armEnum.Enumerate(groupCtx) })
	}
	if aadEnum != nil && !cfg.BackfillOnly {
		group.Go(func() error { return aadEnum.Enumerate(groupCtx) })
	}
	if err := group.Wait(); err != nil {
		store.Close()
		return "", err
	}

	if aadEnum != nil && cfg.BackfillOnly {
		if err := aadEnum.Backfill(ctx, armEnum.Principals()); err != nil {
			store.Close()
			return "", err
		}
	}

	if err := store.Close(); err != nil {
		return "", err
	}

	archive, err := recordstore.Archive(outDir)
	if err != nil {
		return "", fmt.Errorf("archiving results: %w", err)
	}
	if err := os.RemoveAll(outDir); err != nil {
		return "", fmt.Errorf("removing staging directory: %w", err)
	}

	WriteSummary(os.Stdout, counter.Snapshot())
	log.Info("collection finished", "archive", archive, "elapsed", time.Since(start))
	return archive, nil
}
