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
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/tokengate/services/config"
)

// runConfigCheck prints the effective configuration, then fails if it is
// not valid for serve. Secrets are masked.
func runConfigCheck(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg.Masked())
	if err != nil {
		return fmt.Errorf("render config: %w", err)
	}
	out := cmd.OutOrStdout()
	fmt.Fprint(out, string(data))

	if err := cfg.Validate(); err != nil {
		return err
	}
	fmt.Fprintln(out, "Configuration OK")
	return nil
}
