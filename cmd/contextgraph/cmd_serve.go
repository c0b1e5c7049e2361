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
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/contextgraph/services/contextgraph"
	"github.com/AleutianAI/contextgraph/services/contextgraph/telemetry"
)

func newServeCmd(st *cliState) *cobra.Command {
	var addr string
	var watch bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Serve the neighborhood API until interrupted.

Endpoints:
  POST /v1/graph/neighborhood
  GET  /v1/graph/stats
  GET  /v1/graph/health
  POST /v1/graph/invalidate
  GET  /metrics`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("addr") {
				st.cfg.Server.Addr = addr
			}
			if cmd.Flags().Changed("watch") {
				st.cfg.Store.Watch = watch
			}
			return runServe(cmd, st)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (host:port)")
	cmd.Flags().BoolVar(&watch, "watch", false, "Invalidate caches when artifact files change")
	return cmd
}

func runServe(cmd *cobra.Command, st *cliState) error {
	cfg := st.cfg
	logger := st.logger

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	s, snap, err := st.openStore(ctx)
	if err != nil {
		return err
	}
	defer snap.Close()

	if cfg.Store.Watch {
		w, err := s.Watch(ctx, cfg.Store.WatchDebounce, func(names []string) {
			if snap == nil {
				return
			}
			if _, err := st.importDir(ctx, snap.source, names...); err != nil {
				logger.Error("snapshot refresh failed", "artifacts", names, "error", err)
				return
			}
			s.Invalidate(names...)
		})
		if err != nil {
			return err
		}
		defer w.Stop()
	}

	svc, err := contextgraph.NewService(s, st.serviceConfig(), logger)
	if err != nil {
		return err
	}

	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := contextgraph.NewRouter(contextgraph.NewHandlers(svc), contextgraph.RouterOptions{
		ServiceName: cfg.Telemetry.ServiceName,
		RateLimit:   cfg.Server.RateLimit,
		RateBurst:   cfg.Server.RateBurst,
		Logger:      logger,
	})

	ln, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return err
	}
	return contextgraph.Serve(ctx, ln, router, cfg.Server.ShutdownTimeout, logger)
}
