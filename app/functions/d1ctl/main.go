// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package main implements d1ctl, a command line client for Cloudflare D1
// that can also serve a local emulator of the D1 REST API.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/cloudzero/cloudflare-d1/app/build"
	config "github.com/cloudzero/cloudflare-d1/app/config/d1"
	"github.com/cloudzero/cloudflare-d1/app/driver"
	"github.com/cloudzero/cloudflare-d1/app/logging"
	"github.com/cloudzero/cloudflare-d1/app/types"
)

// globals holds the flags shared by every command.
type globals struct {
	configFile string
	dsn        string
	logLevel   string
	output     string
	stdout     io.Writer
	stderr     io.Writer
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	g := &globals{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:           "d1ctl",
		Short:         "Query Cloudflare D1 databases or serve a local emulator",
		Version:       build.Version(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	flags := root.PersistentFlags()
	flags.StringVarP(&g.configFile, "config", "c", "", "path to a YAML settings file, the environment is read when omitted")
	flags.StringVar(&g.dsn, "dsn", "", "connection string, overrides the d1 settings")
	flags.StringVar(&g.logLevel, "log-level", "", "logging level, overrides the settings")
	flags.StringVarP(&g.output, "output", "o", formatJSON, "output format, json or yaml")

	root.AddCommand(
		newQueryCmd(g),
		newExecCmd(g),
		newTablesCmd(g),
		newServeCmd(g),
	)
	return root
}

// settings loads the settings file, or the environment when none was given.
func (g *globals) settings() (*config.Settings, error) {
	s, err := config.NewSettings(g.configFile)
	if err != nil {
		return nil, err
	}
	if g.logLevel != "" {
		s.Logging.Level = g.logLevel
	}
	return s, nil
}

// logger builds the command logger, writing to stderr so results on stdout
// stay parseable.
func (g *globals) logger(s *config.Settings) (*zerolog.Logger, error) {
	return logging.NewLogger(
		logging.WithLevel(s.Logging.Level),
		logging.WithSink(logging.NewFieldFilterWriter(g.stderr, logging.SensitiveFields)),
	)
}

// session is an open connection for one command.
type session struct {
	ctx       context.Context
	connector *driver.Connector
	conn      *driver.Conn
}

func (s *session) Close() {
	_ = s.conn.Close()
	_ = s.connector.Close()
}

// connect opens a connection to the database named by --dsn or the
// settings. The session context carries the logger.
func (g *globals) connect(ctx context.Context) (*session, error) {
	s, err := g.settings()
	if err != nil {
		return nil, err
	}
	logger, err := g.logger(s)
	if err != nil {
		return nil, err
	}
	ctx = logger.WithContext(ctx)

	var dsn *config.DSN
	if g.dsn != "" {
		if dsn, err = config.ParseDSN(g.dsn); err != nil {
			return nil, err
		}
	} else {
		if err := s.Validate(); err != nil {
			return nil, err
		}
		dsn = s.DSN()
	}
	logger.Debug().Str("dsn", dsn.Redacted()).Msg("connecting")

	connector, err := driver.NewConnector(dsn)
	if err != nil {
		return nil, err
	}
	dc, err := connector.Connect(ctx)
	if err != nil {
		_ = connector.Close()
		return nil, err
	}
	conn, ok := dc.(*driver.Conn)
	if !ok {
		_ = connector.Close()
		return nil, fmt.Errorf("unexpected connection type %T: %w", dc, types.ErrInterface)
	}
	return &session{ctx: ctx, connector: connector, conn: conn}, nil
}

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
