// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package driver

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/cloudzero/cloudflare-d1/app/domain/result"
	"github.com/cloudzero/cloudflare-d1/app/types"
)

// Column describes one result column. D1 reports names only, so every
// other field is nil.
type Column struct {
	Name         string
	TypeCode     any
	DisplaySize  *int
	InternalSize *int
	Precision    *int
	Scale        *int
	NullOK       *bool
}

// Cursor executes statements on a connection and keeps the last result for
// fetching. It is safe for use by one goroutine at a time, plus one pending
// asynchronous execution.
type Cursor struct {
	conn *Conn

	mu        sync.Mutex
	set       *result.Set
	pos       int
	rowCount  int64
	lastRowID *int64
	arraySize int
	closed    bool
}

// Execute runs a statement and replaces the cursor's result.
func (c *Cursor) Execute(ctx context.Context, query string, args ...any) error {
	named, err := c.prepare(args)
	if err != nil {
		return err
	}
	set, err := c.conn.connector.execute(ctx, query, named)
	if err != nil {
		return err
	}
	c.apply(set)
	return nil
}

// ExecuteMany runs a statement once per argument set. RowCount afterwards
// is the sum of the changes of every execution.
func (c *Cursor) ExecuteMany(ctx context.Context, query string, argSets [][]any) error {
	var total int64
	for _, args := range argSets {
		if err := c.Execute(ctx, query, args...); err != nil {
			return err
		}
		if n := c.RowCount(); n >= 0 {
			total += n
		}
	}
	c.mu.Lock()
	c.rowCount = total
	c.mu.Unlock()
	return nil
}

// Pending is an asynchronous execution.
type Pending struct {
	done chan struct{}
	err  error
}

// Done is closed when the execution has finished and its result is
// available on the cursor.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the execution finishes.
func (p *Pending) Wait() error {
	<-p.done
	return p.err
}

// ExecuteAsync starts a statement on its own goroutine. The cursor's result
// is replaced once the execution completes. When ctx ends first, Wait
// returns at once with an operational error and the call is abandoned.
func (c *Cursor) ExecuteAsync(ctx context.Context, query string, args ...any) *Pending {
	p := &Pending{done: make(chan struct{})}
	named, err := c.prepare(args)
	if err != nil {
		p.err = err
		close(p.done)
		return p
	}

	ch := c.conn.connector.start(ctx, query, named)
	go func() {
		defer close(p.done)
		select {
		case o := <-ch:
			if o.err != nil {
				p.err = o.err
				return
			}
			c.apply(o.set)
		case <-ctx.Done():
			p.err = types.NewOperationalError("statement abandoned", ctx.Err())
		}
	}()
	return p
}

// FetchOne returns the next row, or nil when the result is exhausted.
func (c *Cursor) FetchOne() ([]any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errors.Wrap(types.ErrInterface, "cursor is closed")
	}
	if c.set == nil || c.pos >= len(c.set.Rows) {
		return nil, nil
	}
	row := c.set.Rows[c.pos]
	c.pos++
	return row, nil
}

// FetchMany returns up to n rows. n <= 0 uses the array size.
func (c *Cursor) FetchMany(n int) ([][]any, error) {
	if n <= 0 {
		n = c.ArraySize()
	}
	rows := [][]any{}
	for len(rows) < n {
		row, err := c.FetchOne()
		if err != nil {
			return nil, err
		}
		if row == nil {
			break
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// FetchAll returns every remaining row.
func (c *Cursor) FetchAll() ([][]any, error) {
	rows := [][]any{}
	for {
		row, err := c.FetchOne()
		if err != nil {
			return nil, err
		}
		if row == nil {
			return rows, nil
		}
		rows = append(rows, row)
	}
}

// Description describes the columns of the last result, or nil when the
// last statement returned no columns.
func (c *Cursor) Description() []Column {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.set == nil || len(c.set.Columns) == 0 {
		return nil
	}
	cols := make([]Column, len(c.set.Columns))
	for i, name := range c.set.Columns {
		cols[i] = Column{Name: name}
	}
	return cols
}

// RowCount is the number of rows changed by the last statement, or -1
// before any statement ran.
func (c *Cursor) RowCount() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rowCount
}

// LastRowID is the rowid of the last inserted row, or nil before any
// statement ran.
func (c *Cursor) LastRowID() *int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastRowID
}

// ArraySize is the default batch size of FetchMany.
func (c *Cursor) ArraySize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.arraySize
}

// SetArraySize changes the default batch size of FetchMany.
func (c *Cursor) SetArraySize(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n > 0 {
		c.arraySize = n
	}
}

// Close releases the result. Further use returns types.ErrInterface.
func (c *Cursor) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.set = nil
	return nil
}

func (c *Cursor) prepare(args []any) ([]any, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, errors.Wrap(types.ErrInterface, "cursor is closed")
	}
	if err := c.conn.check(); err != nil {
		return nil, err
	}
	return encodeArgs(anyToNamed(args))
}

func (c *Cursor) apply(set *result.Set) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.set = set
	c.pos = 0
	c.rowCount = set.Meta.Changes
	lastID := set.Meta.LastRowID
	c.lastRowID = &lastID
}
