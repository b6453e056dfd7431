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
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/AleutianAI/pycallgraph/services/callgraph"
	"github.com/AleutianAI/pycallgraph/services/callgraph/config"
	"github.com/AleutianAI/pycallgraph/services/callgraph/graph"
)

const shutdownTimeout = 10 * time.Second

// openSnapshots opens the project's snapshot store. The returned close
// function must be called once the manager is no longer used.
func openSnapshots(root string, cfg *config.Config) (*graph.SnapshotManager, func(), error) {
	dir := cfg.SnapshotPath(root)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("creating snapshot dir: %w", err)
	}
	db, err := badger.Open(badger.DefaultOptions(dir).WithLogger(nil))
	if err != nil {
		return nil, nil, fmt.Errorf("opening snapshot store %s: %w", dir, err)
	}
	closeDB := func() {
		if err := db.Close(); err != nil {
			slog.Warn("failed to close snapshot store", slog.String("error", err.Error()))
		}
	}
	mgr, err := graph.NewSnapshotManager(db, slog.Default())
	if err != nil {
		closeDB()
		return nil, nil, err
	}
	return mgr, closeDB, nil
}

func newServeCmd(a *app) *cobra.Command {
	var (
		port    int
		debug   bool
		noStore bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the call graph HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			root, err := a.projectRoot(nil)
			if err != nil {
				return err
			}
			cfg, err := a.loadConfig(root)
			if err != nil {
				return err
			}
			if port == 0 {
				port = cfg.Server.Port
			}

			if debug {
				gin.SetMode(gin.DebugMode)
			} else {
				gin.SetMode(gin.ReleaseMode)
			}
			otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
				propagation.TraceContext{},
				propagation.Baggage{},
			))

			var snapshots *graph.SnapshotManager
			if !noStore {
				mgr, closeStore, err := openSnapshots(root, cfg)
				if err != nil {
					slog.Warn("snapshot store unavailable, snapshot endpoints disabled",
						slog.String("error", err.Error()))
				} else {
					defer closeStore()
					snapshots = mgr
				}
			}

			svcCfg := callgraph.DefaultServiceConfig()
			svcCfg.InitRatePerMinute = cfg.Server.InitRatePerMinute
			if a.flags.configPath != "" {
				// An explicit config applies to every project the server builds.
				svcCfg.Project = cfg
			}
			svc := callgraph.NewService(svcCfg, snapshots)

			// Preload the project the server was started in.
			if _, graphID, err := svc.Init(cmd.Context(), root); err != nil {
				slog.Warn("initial build failed", slog.String("error", err.Error()))
			} else {
				slog.Info("project loaded", slog.String("graph_id", graphID))
			}

			router := callgraph.NewRouter(callgraph.NewHandlers(svc))
			if debug {
				router.Use(gin.Logger())
			}

			srv := &http.Server{
				Addr:              fmt.Sprintf(":%d", port),
				Handler:           router,
				ReadHeaderTimeout: 10 * time.Second,
			}
			return serve(cmd.Context(), srv)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, fmt.Sprintf("Port to listen on (default from config, %d)", config.DefaultPort))
	cmd.Flags().BoolVar(&debug, "debug", false, "Enable gin debug mode and request logging")
	cmd.Flags().BoolVar(&noStore, "no-snapshots", false, "Disable the snapshot store")
	return cmd
}

// serve runs srv until SIGINT, SIGTERM or ctx cancellation.
func serve(ctx context.Context, srv *http.Server) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting callgraph server", slog.String("address", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down callgraph server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
