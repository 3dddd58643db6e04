// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"github.com/spf13/cobra"
)

var (
	configPath string

	// catalog add flags
	addName      string
	addThreshold int64
	addCreatedBy string

	rootCmd = &cobra.Command{
		Use:   "tokengate",
		Short: "Token-gated Discord role bot",
		Long: `tokengate assigns Discord roles to members based on verified token
holdings. The wallet verification web app calls its ingress API; an
optional balance monitor re-applies roles from a balance snapshot.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// --- Server ---
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Connect the bot and start the ingress API",
		Args:  cobra.NoArgs,
		RunE:  runServe, // Defined in cmd_serve.go
	}

	// --- Catalog Administration ---
	catalogCmd = &cobra.Command{
		Use:   "catalog",
		Short: "Administer the role catalog offline",
	}
	catalogListCmd = &cobra.Command{
		Use:   "list",
		Short: "List catalogued roles, holder roles first then by threshold",
		Args:  cobra.NoArgs,
		RunE:  runCatalogList, // Defined in cmd_catalog.go
	}
	catalogAddCmd = &cobra.Command{
		Use:   "add <discord-role-id>",
		Short: "Catalogue a Discord role; --threshold makes it an amount role",
		Args:  cobra.ExactArgs(1),
		RunE:  runCatalogAdd, // Defined in cmd_catalog.go
	}
	catalogRemoveCmd = &cobra.Command{
		Use:   "remove <discord-role-id>",
		Short: "Remove a Discord role from the catalog",
		Args:  cobra.ExactArgs(1),
		RunE:  runCatalogRemove, // Defined in cmd_catalog.go
	}

	// --- Configuration ---
	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	configCheckCmd = &cobra.Command{
		Use:   "check",
		Short: "Validate configuration and print effective values with secrets masked",
		Args:  cobra.NoArgs,
		RunE:  runConfigCheck, // Defined in cmd_config.go
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"path to config.yaml (environment variables override file values)")

	catalogAddCmd.Flags().StringVar(&addName, "name", "", "role display name (required)")
	catalogAddCmd.Flags().Int64Var(&addThreshold, "threshold", 0, "minimum token amount; omit for a holder role")
	catalogAddCmd.Flags().StringVar(&addCreatedBy, "created-by", "cli", "recorded as the creator")
	_ = catalogAddCmd.MarkFlagRequired("name")

	catalogCmd.AddCommand(catalogListCmd, catalogAddCmd, catalogRemoveCmd)
	configCmd.AddCommand(configCheckCmd)
	rootCmd.AddCommand(serveCmd, catalogCmd, configCmd)
}
