// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"database/sql"

	"github.com/spf13/cobra"

	"github.com/cloudzero/cloudflare-d1/app/domain/schema"
)

func newTablesCmd(g *globals) *cobra.Command {
	var (
		describe bool
		workers  int
	)
	cmd := &cobra.Command{
		Use:   "tables [TABLE...]",
		Short: "List tables, or describe their columns, keys and indexes",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(g.output); err != nil {
				return err
			}
			s, err := g.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			db := sql.OpenDB(s.connector)
			defer db.Close()
			in := schema.New(db, schema.WithWorkers(workers))

			if !describe && len(args) == 0 {
				names, err := in.TableNames(s.ctx)
				if err != nil {
					return err
				}
				return writeValue(g.stdout, g.output, names)
			}
			tables, err := in.Describe(s.ctx, args...)
			if err != nil {
				return err
			}
			return writeValue(g.stdout, g.output, tables)
		},
	}
	cmd.Flags().BoolVar(&describe, "describe", false, "describe every table instead of listing names")
	cmd.Flags().IntVar(&workers, "workers", 4, "tables described at once")
	return cmd
}
