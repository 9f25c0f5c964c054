// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package local provides a D1 binding backed by a local SQLite database,
// for tests and offline use of the d1+binding driver.
package local

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/cloudzero/cloudflare-d1/app/domain/binding"
	"github.com/cloudzero/cloudflare-d1/app/domain/result"
	"github.com/cloudzero/cloudflare-d1/app/storage/sqlite"
	"github.com/cloudzero/cloudflare-d1/app/types"
)

// Binding implements binding.Binding on go-sqlite3.
type Binding struct {
	db                  *sqlx.DB
	dropSingleRowHeader bool
}

// Option configures a Binding.
type Option func(*Binding)

// WithDropSingleRowHeader makes raw() leave out the header row when exactly
// one data row matches, the way D1 has been observed to do.
func WithDropSingleRowHeader(drop bool) Option {
	return func(b *Binding) {
		b.dropSingleRowHeader = drop
	}
}

// New wraps an open database.
func New(db *sqlx.DB, opts ...Option) *Binding {
	b := &Binding{db: db}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Open opens a SQLite database by DSN and wraps it.
func Open(dsn string, opts ...Option) (*Binding, error) {
	db, err := sqlite.OpenDatabase(dsn)
	if err != nil {
		return nil, err
	}
	return New(db, opts...), nil
}

// Close closes the underlying database.
func (b *Binding) Close() error {
	return b.db.Close()
}

func (b *Binding) Prepare(query string) (binding.Statement, error) {
	if query == "" {
		return nil, errors.Wrap(types.ErrInterface, "empty statement")
	}
	return &statement{binding: b, query: query}, nil
}

type statement struct {
	binding *Binding
	query   string
	args    []any
}

func (s *statement) Bind(args ...any) binding.Statement {
	return &statement{binding: s.binding, query: s.query, args: append([]any(nil), args...)}
}

func (s *statement) All(ctx context.Context) (*binding.AllResult, error) {
	out, err := sqlite.Execute(ctx, s.binding.db, s.query, s.args)
	if err != nil {
		return nil, err
	}
	objects := make([]result.Object, len(out.Rows))
	for i, row := range out.Rows {
		obj := make(result.Object, len(out.Columns))
		for j, name := range out.Columns {
			obj[j] = result.Field{Name: name, Value: row[j]}
		}
		objects[i] = obj
	}
	return &binding.AllResult{Results: objects, Meta: out.Meta()}, nil
}

func (s *statement) Raw(ctx context.Context, columnNames bool) ([][]any, error) {
	out, err := sqlite.Execute(ctx, s.binding.db, s.query, s.args)
	if err != nil {
		return nil, err
	}
	if !columnNames || (s.binding.dropSingleRowHeader && len(out.Rows) == 1) {
		return out.Rows, nil
	}
	header := make([]any, len(out.Columns))
	for i, name := range out.Columns {
		header[i] = name
	}
	return append([][]any{header}, out.Rows...), nil
}
