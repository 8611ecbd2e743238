// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package app provides the entry point for the summer command-line application.
package app

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stacklok/toolhive-core/env"

	summer "github.com/stacklok/summerboot/pkg/app"
	"github.com/stacklok/summerboot/pkg/logger"
	"github.com/stacklok/summerboot/pkg/registry"
)

const envPrefix = "SUMMER"

// envReader reads the master password and logging settings.
var envReader env.Reader = &env.OSReader{}

// NewRootCmd creates the root command. catalog returns the registrations of
// the application being served; it is called once per command run.
func NewRootCmd(catalog func() *registry.Catalog) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:               "summer",
		DisableAutoGenTag: true,
		Short:             "summer runs summerboot applications",
		Long: `summer runs a summerboot application: it scans the registered controllers and services,
loads the properties files of the configuration directory, and serves them over HTTP and gRPC.

The configuration directory is watched while the application runs. Changed files are
reloaded and a file named "pause" puts the service on hold until it is removed.`,
		Run: func(cmd *cobra.Command, _ []string) {
			// If no subcommand is provided, print help
			if err := cmd.Help(); err != nil {
				logger.Errorf("Error displaying help: %v", err)
			}
		},
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			logger.Initialize()
		},
		SilenceUsage: true,
	}

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug mode")
	rootCmd.PersistentFlags().StringP("cfgdir", "c", "",
		"Configuration directory, or the base directory of domains (default \"configuration\", or \".\" with --domain)")
	rootCmd.PersistentFlags().String("domain", "", "Domain to run; its configuration lives in <cfgdir>/standalone_<domain>/configuration")
	for _, name := range []string{"debug", "cfgdir", "domain"} {
		if err := viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name)); err != nil {
			logger.Errorf("Error binding %s flag: %v", name, err)
		}
	}

	rootCmd.AddCommand(newServeCmd(catalog))
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(catalog))

	return rootCmd
}

// baseOptions returns the options shared by every command.
func baseOptions(catalog func() *registry.Catalog) summer.Options {
	return summer.Options{
		ConfigDir: viper.GetString("cfgdir"),
		Domain:    viper.GetString("domain"),
		Catalog:   catalog(),
		Env:       envReader,
	}
}
