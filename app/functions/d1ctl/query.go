// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newQueryCmd(g *globals) *cobra.Command {
	var (
		jq      string
		strings bool
	)
	cmd := &cobra.Command{
		Use:   "query SQL [PARAM...]",
		Short: "Run a statement and print the rows it returns",
		Long: `Run a statement and print its rows as objects keyed by column name.

Parameters bind to ? placeholders in order. They are read as YAML scalars, so
42 is a number, true a boolean and null a NULL; pass --strings to bind every
parameter as text.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(g.output); err != nil {
				return err
			}
			params, err := parseParams(args[1:], strings)
			if err != nil {
				return err
			}

			s, err := g.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			cur := s.conn.Cursor()
			defer cur.Close()
			if err := cur.Execute(s.ctx, args[0], params...); err != nil {
				return err
			}
			rows, err := cur.FetchAll()
			if err != nil {
				return err
			}
			t := &table{rows: rows}
			for _, c := range cur.Description() {
				t.columns = append(t.columns, c.Name)
			}

			if jq != "" {
				return runJQ(g.stdout, jq, t)
			}
			return writeTable(g.stdout, g.output, t)
		},
	}
	cmd.Flags().StringVar(&jq, "jq", "", "filter the rows with a jq expression; results are printed as JSON")
	cmd.Flags().BoolVar(&strings, "strings", false, "bind every parameter as text")
	return cmd
}

// execResult is what exec prints.
type execResult struct {
	Changes   int64  `json:"changes" yaml:"changes"`
	LastRowID *int64 `json:"last_row_id" yaml:"last_row_id"`
}

func newExecCmd(g *globals) *cobra.Command {
	var strings bool
	cmd := &cobra.Command{
		Use:   "exec SQL [PARAM...]",
		Short: "Run a statement and print the number of changed rows",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(g.output); err != nil {
				return err
			}
			params, err := parseParams(args[1:], strings)
			if err != nil {
				return err
			}

			s, err := g.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			cur := s.conn.Cursor()
			defer cur.Close()
			if err := cur.Execute(s.ctx, args[0], params...); err != nil {
				return err
			}
			return writeValue(g.stdout, g.output, execResult{
				Changes:   cur.RowCount(),
				LastRowID: cur.LastRowID(),
			})
		},
	}
	cmd.Flags().BoolVar(&strings, "strings", false, "bind every parameter as text")
	return cmd
}

// parseParams reads command line parameters as YAML scalars.
func parseParams(raw []string, asStrings bool) ([]any, error) {
	params := make([]any, len(raw))
	for i, r := range raw {
		if asStrings {
			params[i] = r
			continue
		}
		var v any
		if err := yaml.Unmarshal([]byte(r), &v); err != nil {
			return nil, errors.Wrapf(err, "parameter %d", i+1)
		}
		switch v.(type) {
		case map[string]any, []any:
			// only scalars bind; anything else is kept as written
			params[i] = r
		default:
			params[i] = v
		}
	}
	return params, nil
}
