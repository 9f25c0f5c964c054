// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package driver

import (
	"context"
	"database/sql/driver"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/cloudzero/cloudflare-d1/app/domain/result"
	"github.com/cloudzero/cloudflare-d1/app/types"
)

// Conn is a D1 connection. It holds no server-side state: every statement
// is an independent call.
type Conn struct {
	connector *Connector
	closed    atomic.Bool
}

var (
	_ driver.Conn               = (*Conn)(nil)
	_ driver.ConnBeginTx        = (*Conn)(nil)
	_ driver.ConnPrepareContext = (*Conn)(nil)
	_ driver.ExecerContext      = (*Conn)(nil)
	_ driver.QueryerContext     = (*Conn)(nil)
	_ driver.Pinger             = (*Conn)(nil)
	_ driver.NamedValueChecker  = (*Conn)(nil)
	_ driver.SessionResetter    = (*Conn)(nil)
	_ driver.Validator          = (*Conn)(nil)
)

func (c *Conn) Prepare(query string) (driver.Stmt, error) {
	return c.PrepareContext(context.Background(), query)
}

// PrepareContext makes no call to D1; the statement is sent when executed.
func (c *Conn) PrepareContext(_ context.Context, query string) (driver.Stmt, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	return &Stmt{conn: c, query: query}, nil
}

func (c *Conn) Close() error {
	c.closed.Store(true)
	return nil
}

func (c *Conn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

// BeginTx returns a transaction whose Commit and Rollback do nothing.
func (c *Conn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	return tx{}, nil
}

func (c *Conn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	set, err := c.run(ctx, query, args)
	if err != nil {
		return nil, err
	}
	return Result{meta: set.Meta}, nil
}

func (c *Conn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	set, err := c.run(ctx, query, args)
	if err != nil {
		return nil, err
	}
	return newRows(set, c.connector.parseTime), nil
}

// Ping checks the connection locally. D1 keeps no sessions, so there is
// nothing to reach.
func (c *Conn) Ping(context.Context) error {
	if c.closed.Load() {
		return driver.ErrBadConn
	}
	return nil
}

func (c *Conn) CheckNamedValue(nv *driver.NamedValue) error {
	v, err := convertArg(nv.Value)
	if err != nil {
		return err
	}
	nv.Value = v
	return nil
}

func (c *Conn) ResetSession(context.Context) error {
	if c.closed.Load() {
		return driver.ErrBadConn
	}
	return nil
}

func (c *Conn) IsValid() bool {
	return !c.closed.Load()
}

// Cursor returns a cursor on this connection.
func (c *Conn) Cursor() *Cursor {
	return &Cursor{conn: c, rowCount: -1, arraySize: 1}
}

func (c *Conn) check() error {
	if c.closed.Load() {
		return errors.Wrap(types.ErrInterface, "connection is closed")
	}
	return nil
}

func (c *Conn) run(ctx context.Context, query string, named []driver.NamedValue) (*result.Set, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	args, err := encodeArgs(named)
	if err != nil {
		return nil, err
	}
	return c.connector.execute(ctx, query, args)
}

type tx struct{}

func (tx) Commit() error   { return nil }
func (tx) Rollback() error { return nil }

// Stmt is a statement bound to a connection. It is sent to D1 on every
// execution.
type Stmt struct {
	conn  *Conn
	query string
}

var (
	_ driver.Stmt             = (*Stmt)(nil)
	_ driver.StmtExecContext  = (*Stmt)(nil)
	_ driver.StmtQueryContext = (*Stmt)(nil)
)

func (s *Stmt) Close() error { return nil }

// NumInput is unknown; D1 validates the parameter count.
func (s *Stmt) NumInput() int { return -1 }

func (s *Stmt) Exec(args []driver.Value) (driver.Result, error) {
	return s.ExecContext(context.Background(), valuesToNamed(args))
}

func (s *Stmt) Query(args []driver.Value) (driver.Rows, error) {
	return s.QueryContext(context.Background(), valuesToNamed(args))
}

func (s *Stmt) ExecContext(ctx context.Context, args []driver.NamedValue) (driver.Result, error) {
	return s.conn.ExecContext(ctx, s.query, args)
}

func (s *Stmt) QueryContext(ctx context.Context, args []driver.NamedValue) (driver.Rows, error) {
	return s.conn.QueryContext(ctx, s.query, args)
}
