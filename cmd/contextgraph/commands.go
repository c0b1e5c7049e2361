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
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/contextgraph/services/contextgraph"
	"github.com/AleutianAI/contextgraph/services/contextgraph/artifact"
	"github.com/AleutianAI/contextgraph/services/contextgraph/config"
	"github.com/AleutianAI/contextgraph/services/contextgraph/graph"
	"github.com/AleutianAI/contextgraph/services/contextgraph/storage/badger"
	"github.com/AleutianAI/contextgraph/services/contextgraph/store"
)

// cliState is shared by all subcommands. It is populated by the root
// command's PersistentPreRunE.
type cliState struct {
	configPath string
	indexDir   string
	logLevel   string

	cfg    config.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	st := &cliState{}
	root := &cobra.Command{
		Use:   "contextgraph",
		Short: "Bounded graph-neighborhood expansion over a code index",
		Long: `contextgraph expands the call, usage, import and symbol graph around
seed chunks, files or symbols of a code index and reports the result with
truncation records and warnings.

Subcommands:
  query     - Expand a neighborhood and print it as JSON
  serve     - Run the HTTP API
  snapshot  - Copy index artifacts into a BadgerDB snapshot
  stats     - Build the index once and print store statistics`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return st.load(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&st.configPath, "config", "", "Config file (YAML or JSON)")
	pf.StringVar(&st.indexDir, "index-dir", "", "Index directory holding graph artifacts")
	pf.StringVar(&st.logLevel, "log-level", "", "Log level: debug, info, warn, error")

	root.AddCommand(
		newQueryCmd(st),
		newImpactCmd(st),
		newSuggestTestsCmd(st),
		newArchitectureCmd(st),
		newServeCmd(st),
		newSnapshotCmd(st),
		newStatsCmd(st),
	)
	return root
}

func (st *cliState) load(cmd *cobra.Command) error {
	cfg, err := config.Load(st.configPath)
	if err != nil {
		return err
	}
	if st.indexDir != "" {
		cfg.IndexDir = st.indexDir
	}
	if st.logLevel != "" {
		cfg.Log.Level = st.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	st.cfg = cfg
	st.logger = cfg.Log.NewLogger(cmd.ErrOrStderr())
	slog.SetDefault(st.logger)
	return nil
}

// snapshotHandle is an open BadgerDB snapshot backing the store.
type snapshotHandle struct {
	db     *badger.DB
	source *badger.ArtifactSource
}

func (h *snapshotHandle) Close() error {
	if h == nil {
		return nil
	}
	return h.db.Close()
}

// openSnapshot opens the configured snapshot, or returns nil when none is
// configured. In-memory snapshots are filled from the index directory.
func (st *cliState) openSnapshot(ctx context.Context) (*snapshotHandle, error) {
	sc := st.cfg.Storage
	if sc.Path == "" && !sc.InMemory {
		return nil, nil
	}

	dbCfg := badger.DefaultConfig()
	dbCfg.Path = sc.Path
	dbCfg.InMemory = sc.InMemory
	dbCfg.Logger = st.logger
	db, err := badger.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open snapshot: %w", err)
	}
	h := &snapshotHandle{
		db:     db,
		source: badger.NewArtifactSource(db, st.cfg.Store.MaxArtifactBytes, st.logger),
	}

	if sc.InMemory {
		if st.cfg.IndexDir == "" {
			h.Close()
			return nil, store.ErrIndexDirRequired
		}
		if _, err := st.importDir(ctx, h.source, artifact.Names...); err != nil {
			h.Close()
			return nil, err
		}
	}
	return h, nil
}

func (st *cliState) importDir(ctx context.Context, dst *badger.ArtifactSource, names ...string) (badger.ImportResult, error) {
	dir, err := artifact.NewDirSource(st.cfg.IndexDir, st.cfg.Store.MaxArtifactBytes)
	if err != nil {
		return badger.ImportResult{}, fmt.Errorf("open index dir: %w", err)
	}
	res, err := dst.Import(ctx, dir, names...)
	if err != nil {
		return res, fmt.Errorf("import artifacts: %w", err)
	}
	return res, nil
}

// openStore builds the graph store over the snapshot when one is
// configured, otherwise over the index directory.
func (st *cliState) openStore(ctx context.Context) (*store.Store, *snapshotHandle, error) {
	snap, err := st.openSnapshot(ctx)
	if err != nil {
		return nil, nil, err
	}
	opts := st.cfg.StoreOptions(st.logger)
	if snap != nil {
		opts.Source = snap.source
	}
	s, err := store.New(opts)
	if err != nil {
		snap.Close()
		return nil, nil, err
	}
	return s, snap, nil
}

func (st *cliState) serviceConfig() contextgraph.ServiceConfig {
	return contextgraph.ServiceConfig{
		RepoRoot:       st.cfg.RepoRoot,
		IndexSignature: st.cfg.IndexSignature,
		IncludeCsr:     st.cfg.Store.IncludeCsr,
		Direction:      graph.ParseDirection(st.cfg.Traversal.Direction),
		Depth:          st.cfg.Traversal.Depth,
		Caps:           st.cfg.Traversal.Caps,
	}
}

// openService builds a service over a store private to this run. A
// non-empty repoRoot overrides the configured one, so the index is built
// for it.
func (st *cliState) openService(ctx context.Context, repoRoot string) (*contextgraph.Service, *snapshotHandle, error) {
	s, snap, err := st.openStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	sc := st.serviceConfig()
	if repoRoot != "" {
		sc.RepoRoot = repoRoot
	}
	svc, err := contextgraph.NewService(s, sc, st.logger)
	if err != nil {
		snap.Close()
		return nil, nil, err
	}
	return svc, snap, nil
}

// writeJSON indents output for terminals and when pretty is set.
func writeJSON(w io.Writer, v any, pretty bool) error {
	if f, ok := w.(*os.File); ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
		pretty = true
	}
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}
