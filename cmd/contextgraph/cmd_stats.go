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

	"github.com/AleutianAI/contextgraph/services/contextgraph"
)

type statsOutput struct {
	Health contextgraph.HealthResponse `json:"health"`
	Stats  contextgraph.StatsResponse  `json:"stats"`
}

func newStatsCmd(st *cliState) *cobra.Command {
	var pretty bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Build the index once and print store statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, snap, err := st.openStore(ctx)
			if err != nil {
				return err
			}
			defer snap.Close()

			cfg := st.serviceConfig()
			if _, err := s.LoadGraphIndex(ctx, st.cfg.LoadOptions(nil)); err != nil {
				return err
			}
			svc, err := contextgraph.NewService(s, cfg, st.logger)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), statsOutput{Health: svc.Health(), Stats: svc.Stats()}, pretty)
		},
	}
	cmd.Flags().BoolVar(&pretty, "pretty", false, "Indent JSON output")
	return cmd
}
