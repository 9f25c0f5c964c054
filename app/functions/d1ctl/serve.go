// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-obvious/server"
	"github.com/spf13/cobra"

	"github.com/cloudzero/cloudflare-d1/app/build"
	config "github.com/cloudzero/cloudflare-d1/app/config/d1"
	"github.com/cloudzero/cloudflare-d1/app/domain/emulator"
	"github.com/cloudzero/cloudflare-d1/app/handlers"
	"github.com/cloudzero/cloudflare-d1/app/http/middleware"
)

// apiBase is where the D1 REST API is mounted, matching the Cloudflare
// endpoint layout.
const apiBase = "/client/v4"

func newServeCmd(g *globals) *cobra.Command {
	var databases []string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a local emulator of the D1 REST API",
		Long: `Serve a local emulator of the D1 REST API backed by SQLite.

Databases live in memory unless emulator.storage_path is set. Every database
created with --database is logged with the connection string that reaches it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := g.settings()
			if err != nil {
				return err
			}
			logger, err := g.logger(s)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			ctx = logger.WithContext(ctx)

			emu, err := emulator.New(
				emulator.WithStoragePath(s.Emulator.StoragePath),
				emulator.WithDropSingleRowHeader(s.Emulator.DropSingleRowHeader),
			)
			if err != nil {
				return err
			}
			if err := emu.Run(); err != nil {
				return err
			}
			defer func() {
				if err := emu.Shutdown(); err != nil {
					logger.Err(err).Msg("failed to shut down the emulator")
				}
			}()

			for _, name := range databases {
				d, err := emu.CreateDatabase(ctx, s.Emulator.AccountID, name)
				if err != nil {
					return err
				}
				logger.Info().
					Str("name", d.Name).
					Str("dsn", emulatorDSN(s, d.ID).Redacted()).
					Msg("database ready")
			}

			mw := []server.Middleware{
				middleware.WithLogger(*logger),
				middleware.LoggingMiddlewareWrapper,
				middleware.PromHTTPMiddleware,
				chimiddleware.Timeout(s.Server.RequestTimeout),
			}
			apis := []server.API{
				handlers.NewD1API(apiBase, emu, handlers.WithAPIToken(s.Emulator.APIToken)),
				handlers.NewPromMetricsAPI("/metrics"),
				handlers.NewReadyzAPI("/readyz"),
			}

			logger.Info().Uint("port", s.Server.Port).Str("account", s.Emulator.AccountID).Msg("Starting emulator")
			server.New(build.ServerVersion()).
				WithAddress(fmt.Sprintf(":%d", s.Server.Port)).
				WithMiddleware(mw...).
				WithAPIs(apis...).
				WithListener(server.HTTPListener()).
				Run(ctx)
			logger.Info().Msg("Emulator stopping")
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&databases, "database", nil, "create a database with this name on start, repeatable")
	return cmd
}

// emulatorDSN is the connection string for a database served on the
// local port.
func emulatorDSN(s *config.Settings, id string) *config.DSN {
	return &config.DSN{
		Scheme:     "d1",
		Transport:  config.TransportREST,
		AccountID:  s.Emulator.AccountID,
		APIToken:   s.Emulator.APIToken,
		DatabaseID: id,
		Endpoint:   (&url.URL{Scheme: "http", Host: fmt.Sprintf("localhost:%d", s.Server.Port), Path: apiBase}).String(),
		Timeout:    s.D1.Timeout,
		Params:     url.Values{},
	}
}
