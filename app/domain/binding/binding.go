// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package binding executes statements through an in-process D1 database
// binding, the object a Worker receives for its D1 database.
//
// A binding prepares a statement, binds positional arguments and runs it
// either with all(), which returns named-field objects plus metadata, or
// with raw({columnNames: true}), which returns row arrays whose first row
// is the column header. Both calls are exposed through Statement so the
// result normalizer can choose between them.
package binding

//go:generate mockgen -destination=mocks/binding_mock.go -package=mocks . Binding,Statement

import (
	"context"
	"errors"

	pkgerrors "github.com/pkg/errors"

	"github.com/cloudzero/cloudflare-d1/app/domain/result"
	"github.com/cloudzero/cloudflare-d1/app/types"
)

// Binding is a D1 database handle.
type Binding interface {
	// Prepare compiles a statement. No round trip is made.
	Prepare(query string) (Statement, error)
}

// Statement is a prepared statement. Bind returns a new statement carrying
// the arguments; the receiver is left unchanged.
type Statement interface {
	Bind(args ...any) Statement
	// All executes the statement and returns its rows as objects.
	All(ctx context.Context) (*AllResult, error)
	// Raw executes the statement and returns its rows as arrays. With
	// columnNames set, the first array is expected to be the header.
	Raw(ctx context.Context, columnNames bool) ([][]any, error)
}

// AllResult is the answer of Statement.All.
type AllResult struct {
	Results []result.Object
	Meta    result.Meta
}

// NewSource returns a result.Source running query with args on b. Each
// retrieval prepares and binds the statement again.
func NewSource(b Binding, query string, args []any) result.Source {
	return &source{binding: b, query: query, args: args}
}

type source struct {
	binding Binding
	query   string
	args    []any
}

func (s *source) Retrieve(ctx context.Context, mode result.Retrieval) (*result.Response, error) {
	stmt, err := s.binding.Prepare(s.query)
	if err != nil {
		return nil, operational("prepare statement", err)
	}
	if len(s.args) > 0 {
		stmt = stmt.Bind(s.args...)
	}

	if mode == result.RetrievalRaw {
		rows, err := stmt.Raw(ctx, true)
		if err != nil {
			return nil, operational("", err)
		}
		if rows == nil {
			rows = [][]any{}
		}
		return &result.Response{Rows: rows, HeaderInRows: true}, nil
	}

	all, err := stmt.All(ctx)
	if err != nil {
		return nil, operational("", err)
	}
	if all == nil {
		all = &AllResult{}
	}
	return &result.Response{Objects: all.Results, Meta: all.Meta}, nil
}

// operational marks binding failures as operational errors, keeping the
// vendor message. Errors already classified pass through.
func operational(msg string, err error) error {
	if errors.Is(err, types.ErrOperational) {
		if msg == "" {
			return err
		}
		return pkgerrors.Wrap(err, msg)
	}
	return types.NewOperationalError(msg, err)
}
