// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 BookWorm Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/bookworm/bookworm/internal/config"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the BookWorm CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bookworm",
		Short: "BookWorm - library account service",
		Long: `BookWorm serves the library's account API: registration with
e-mailed verification codes, sessions and password recovery.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (YAML)")
	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())

	return cmd
}
