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
	"errors"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/tokengate/services/catalog"
	"github.com/AleutianAI/tokengate/services/config"
)

// withCatalog loads configuration, opens the catalog store and runs fn.
// Only the catalog section must be valid; the bot secrets are not needed
// offline.
func withCatalog(cmd *cobra.Command, fn func(svc *catalog.Service, out io.Writer) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	store, err := openCatalogStore(cfg, slog.New(slog.DiscardHandler))
	if err != nil {
		return err
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: close catalog: %v\n", cerr)
		}
	}()
	return fn(catalog.NewService(store), cmd.OutOrStdout())
}

func runCatalogList(cmd *cobra.Command, _ []string) error {
	return withCatalog(cmd, func(svc *catalog.Service, out io.Writer) error {
		roles, err := svc.GetAllRoles(cmd.Context())
		if err != nil {
			return err
		}
		if len(roles) == 0 {
			fmt.Fprintln(out, "No roles configured.")
			return nil
		}

		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ROLE ID\tNAME\tKIND\tTHRESHOLD\tCREATED BY")
		for _, r := range catalog.SortForDisplay(roles) {
			threshold := "-"
			if r.AmountThreshold != nil {
				threshold = fmt.Sprintf("%d", *r.AmountThreshold)
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.PlatformRoleID, r.Name, r.Kind, threshold, r.CreatedBy)
		}
		return tw.Flush()
	})
}

func runCatalogAdd(cmd *cobra.Command, args []string) error {
	req := catalog.NewRoleRequest{
		Name:           addName,
		PlatformRoleID: args[0],
		CreatedBy:      addCreatedBy,
	}
	if cmd.Flags().Changed("threshold") {
		v := addThreshold
		req.AmountThreshold = &v
	}

	return withCatalog(cmd, func(svc *catalog.Service, out io.Writer) error {
		def, err := svc.AddRole(cmd.Context(), req)
		if errors.Is(err, catalog.ErrConflict) {
			return fmt.Errorf("role %s is already in the catalog", args[0])
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Added %s role %q (%s)\n", def.Kind, def.Name, def.PlatformRoleID)
		return nil
	})
}

func runCatalogRemove(cmd *cobra.Command, args []string) error {
	return withCatalog(cmd, func(svc *catalog.Service, out io.Writer) error {
		removed, err := svc.DeleteRole(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if !removed {
			return fmt.Errorf("role %s is not in the catalog", args[0])
		}
		fmt.Fprintf(out, "Removed role %s\n", args[0])
		return nil
	})
}
