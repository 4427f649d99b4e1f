// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command hypickle crawls the Hypixel friends graph and writes reports.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/AleutianAI/hypickle/pkg/ux"
	"github.com/awnumar/memguard"
	"github.com/spf13/cobra"
)

const (
	exitOK          = 0
	exitError       = 1
	exitInterrupted = 130
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:])
	stop()
	memguard.Purge()
	os.Exit(code)
}

// run executes the command line and returns the process exit code.
func run(ctx context.Context, args []string) int {
	a := &app{}
	root := newRootCmd(a)
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)
	if cerr := a.close(); cerr != nil && a.logger != nil {
		a.logger.Warn("cleanup failed", slog.String("error", cerr.Error()))
	}
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, context.Canceled):
		ux.Warning("Interrupted")
		return exitInterrupted
	default:
		ux.Error(err.Error())
		return exitError
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "hypickle",
		Short: "Crawl the Hypixel friends graph",
		Long: `hypickle builds friends reports for Hypixel players.

Reports are written as JSON to the results directory. API keys are read from
HYPICKLE_API_KEYS (comma separated) or the key file named in the config.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd.Context())
		},
	}
	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "config file (default ~/.hypickle/hypickle.yaml)")
	pf.StringVar(&a.personality, "personality", "", "output style: standard, minimal or machine")
	pf.StringVar(&a.logLevel, "log-level", "", "debug, info, warn or error")

	root.AddCommand(newReportCmd(a))
	root.AddCommand(newResolveCmd(a))
	root.AddCommand(newKeyCmd(a))
	root.AddCommand(newSnapshotsCmd(a))
	return root
}
