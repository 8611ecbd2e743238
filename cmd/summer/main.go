// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package main is the entry point for the summer CLI.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/stacklok/summerboot/cmd/summer/app"
	"github.com/stacklok/summerboot/pkg/logger"
	"github.com/stacklok/summerboot/pkg/registry"
)

func main() {
	// Initialize the logger
	logger.Initialize()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := app.NewRootCmd(registry.NewCatalog).ExecuteContext(ctx); err != nil {
		if registry.IsFatal(err) {
			logger.Errorf("application cannot start: %v", err)
		}
		os.Exit(1)
	}
}
