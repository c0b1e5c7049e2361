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

	"github.com/AleutianAI/contextgraph/services/contextgraph/artifact"
	"github.com/AleutianAI/contextgraph/services/contextgraph/storage/badger"
	"github.com/AleutianAI/contextgraph/services/contextgraph/store"
)

func newSnapshotCmd(st *cliState) *cobra.Command {
	var dbPath string
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Copy index artifacts into a BadgerDB snapshot",
		Long: `Copy every graph artifact from the index directory into a BadgerDB
snapshot. Artifacts missing from the directory are removed from the
snapshot. Point storage.path at the snapshot to serve from it.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if dbPath == "" {
				dbPath = st.cfg.Storage.Path
			}
			if dbPath == "" {
				return badger.ErrPathRequired
			}
			if st.cfg.IndexDir == "" {
				return store.ErrIndexDirRequired
			}

			dbCfg := badger.DefaultConfig()
			dbCfg.Path = dbPath
			dbCfg.GCInterval = 0
			dbCfg.Logger = st.logger
			db, err := badger.Open(dbCfg)
			if err != nil {
				return err
			}
			defer db.Close()

			res, err := st.importDir(cmd.Context(), badger.NewArtifactSource(db, st.cfg.Store.MaxArtifactBytes, st.logger), artifact.Names...)
			if err != nil {
				return err
			}
			st.logger.Info("snapshot written", "path", dbPath, "imported", res.Imported, "removed", res.Removed, "bytes", res.Bytes)
			return writeJSON(cmd.OutOrStdout(), res, false)
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "Snapshot directory (defaults to storage.path)")
	return cmd
}
