// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"time"

	"github.com/spf13/cobra"

	summer "github.com/stacklok/summerboot/pkg/app"
	"github.com/stacklok/summerboot/pkg/registry"
)

type serveFlags struct {
	addr            string
	logToFile       bool
	strictPlugins   bool
	monitorInterval time.Duration
}

func newServeCmd(catalog func() *registry.Catalog) *cobra.Command {
	var flags serveFlags

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the application",
		Long: `Start the application and serve it until interrupted.

The listen address defaults to server.addr of server.properties. Addresses starting with
unix:// listen on a UNIX domain socket. Missing server.properties and auth.properties
files are generated with defaults on first start.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := baseOptions(catalog)
			opts.Addr = flags.addr
			opts.LogToFile = flags.logToFile
			opts.StrictPlugins = flags.strictPlugins
			opts.MonitorInterval = flags.monitorInterval

			a, err := summer.New(cmd.Context(), opts)
			if err != nil {
				return err
			}
			return a.Run(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&flags.addr, "addr", "", "Listen address, overrides server.addr")
	cmd.Flags().BoolVar(&flags.logToFile, "log-to-file", false, "Also write logs to <cfgdir>/../logs")
	cmd.Flags().BoolVar(&flags.strictPlugins, "strict-plugins", false, "Fail when a plugin cannot be loaded")
	cmd.Flags().DurationVar(&flags.monitorInterval, "monitor-interval", 0, "Polling interval of the configuration directory")

	return cmd
}
