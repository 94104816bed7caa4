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

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/spf13/cobra"

	"github.com/Azure/stormspotter/pkg/auth"
	"github.com/Azure/stormspotter/pkg/collector"
	"github.com/Azure/stormspotter/pkg/ingestor"
	"github.com/Azure/stormspotter/pkg/logging"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var verbose bool

	root := &cobra.Command{
		Use:           "stormspotter",
		Short:         "Map an Azure tenant into an attack graph",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(newCollectCommand(&verbose))
	root.AddCommand(newIngestCommand(&verbose))
	return root
}

// commandContext returns a context carrying the logger, cancelled on SIGINT
// or SIGTERM.
func commandContext(cmd *cobra.Command, name string, verbose bool) (context.Context, context.CancelFunc) {
	zapLog := logging.NewLogger(name, verbose)
	ctx := logr.NewContext(cmd.Context(), zapr.NewLogger(zapLog))
	return signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
}

func newCollectCommand(verbose *bool) *cobra.Command {
	cfg := &collector.Config{}
	var mode string

	collect := &cobra.Command{
		Use:   "collect",
		Short: "Enumerate directory objects and resources into a results archive",
	}

	flags := collect.PersistentFlags()
	flags.StringVar(&cfg.Auth.Cloud, "cloud", "", "built-in cloud instance (PUBLIC, GERMAN, CHINA, USGOV)")
	flags.StringVar(&cfg.Auth.ConfigFile, "config", "", "custom cloud profile (INI), mutually exclusive with --cloud")
	flags.StringVar(&mode, "mode", string(collector.ModeBoth), "what to enumerate: both, aad, or arm")
	flags.BoolVar(&cfg.BackfillOnly, "backfill", false, "resolve only directory objects referenced by role assignments")
	flags.StringSliceVar(&cfg.IncludeSubscriptions, "include-subs", nil, "enumerate only these subscriptions")
	flags.StringSliceVar(&cfg.ExcludeSubscriptions, "exclude-subs", nil, "skip these subscriptions")
	flags.StringSliceVar(&cfg.Tenants, "tenants", nil, "restrict to subscriptions homed in these tenants")
	flags.StringVar(&cfg.Auth.SSLCertPath, "ssl-cert", "", "PEM bundle for HTTPS validation")
	flags.StringVar(&cfg.ARMAPIVersion, "arm-api-version", "", "force one API version for every resource fetch")
	flags.StringVarP(&cfg.OutputDir, "output", "o", "", "directory the results archive is written to")

	run := func(cmd *cobra.Command, method auth.AuthMethod) error {
		ctx, cancel := commandContext(cmd, "collect", *verbose)
		defer cancel()

		cfg.Auth.Method = method
		cfg.Mode = collector.Mode(mode)
		archive, err := collector.Run(ctx, cfg)
		if err != nil {
			logr.FromContextOrDiscard(ctx).Error(err, "collection failed")
			return err
		}
		logr.FromContextOrDiscard(ctx).Info("results archived", "path", archive)
		return nil
	}

	azcli := &cobra.Command{
		Use:   "azcli",
		Short: "Authenticate with the Azure CLI sign-in cache",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, auth.AuthMethodCLI)
		},
	}

	spn := &cobra.Command{
		Use:   "spn",
		Short: "Authenticate as a service principal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, auth.AuthMethodSPN)
		},
	}
	spn.Flags().StringVarP(&cfg.Auth.TenantID, "tenantid", "t", "", "service principal tenant ID")
	spn.Flags().StringVarP(&cfg.Auth.ClientID, "clientid", "c", "", "service principal client ID")
	spn.Flags().StringVarP(&cfg.Auth.ClientSecret, "secret", "s", "", "service principal client secret")

	collect.AddCommand(azcli, spn)
	return collect
}

func newIngestCommand(verbose *bool) *cobra.Command {
	cfg := &ingestor.Config{}

	ingest := &cobra.Command{
		Use:   "ingest",
		Short: "Replay a results archive into Neo4j",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := commandContext(cmd, "ingest", *verbose)
			defer cancel()

			if err := ingestor.Run(ctx, cfg); err != nil {
				logr.FromContextOrDiscard(ctx).Error(err, "ingestion failed")
				return err
			}
			return nil
		},
	}

	flags := ingest.Flags()
	flags.StringVarP(&cfg.Archive, "file", "f", "", "results archive produced by collect")
	flags.StringVar(&cfg.Server, "server", "", "Neo4j server URI scheme and host")
	flags.IntVar(&cfg.Port, "port", 0, "Neo4j bolt port")
	flags.StringVar(&cfg.Username, "user", "", "Neo4j username")
	flags.StringVar(&cfg.Password, "pass", "", "Neo4j password")
	return ingest
}
