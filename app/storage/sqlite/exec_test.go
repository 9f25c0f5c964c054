// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudzero/cloudflare-d1/app/storage/sqlite"
)

func TestUnit_SQLite_Execute(t *testing.T) {
	ctx := context.Background()
	db, err := sqlite.OpenDatabase(sqlite.MemoryDSN(t.Name()))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	out, err := sqlite.Execute(ctx, db, "CREATE TABLE t (id INTEGER PRIMARY KEY, name TEXT, data BLOB, at DATETIME)", nil)
	require.NoError(t, err)
	assert.Empty(t, out.Columns)

	at := time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)
	out, err = sqlite.Execute(ctx, db, "INSERT INTO t (name, data, at) VALUES (?, ?, ?)", []any{"a", []byte{0, 1}, at})
	require.NoError(t, err)
	assert.Equal(t, int64(1), out.Changes)
	assert.Equal(t, int64(1), out.LastRowID)
	assert.True(t, out.ChangedDB)

	out, err = sqlite.Execute(ctx, db, "SELECT id, name, data, at FROM t", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name", "data", "at"}, out.Columns)
	require.Len(t, out.Rows, 1)
	assert.Equal(t, int64(1), out.Rows[0][0])
	assert.Equal(t, "a", out.Rows[0][1])
	assert.Equal(t, "AAE=", out.Rows[0][2])
	assert.Equal(t, int64(1), out.RowsRead)
}

func TestUnit_SQLite_ExecuteReturning(t *testing.T) {
	ctx := context.Background()
	db, err := sqlite.OpenDatabase(sqlite.MemoryDSN(t.Name()))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = sqlite.Execute(ctx, db, "CREATE TABLE t (id INTEGER PRIMARY KEY, name TEXT)", nil)
	require.NoError(t, err)

	out, err := sqlite.Execute(ctx, db, "INSERT INTO t (name) VALUES (?), (?) RETURNING id", []any{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []string{"id"}, out.Columns)
	assert.Equal(t, [][]any{{int64(1)}, {int64(2)}}, out.Rows)
	assert.Equal(t, int64(2), out.Changes)
	assert.Equal(t, int64(2), out.LastRowID)

	out, err = sqlite.Execute(ctx, db, "DELETE FROM t WHERE id = 99 RETURNING id", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"id"}, out.Columns)
	assert.Empty(t, out.Rows)
	assert.Equal(t, int64(0), out.Changes)
}

func TestUnit_SQLite_ExecuteError(t *testing.T) {
	db, err := sqlite.OpenDatabase(sqlite.MemoryDSN(t.Name()))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = sqlite.Execute(context.Background(), db, "SELECT * FROM missing", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such table: missing")
}

func TestUnit_SQLite_MemoryDSNIsolated(t *testing.T) {
	ctx := context.Background()
	a, err := sqlite.OpenDatabase(sqlite.MemoryDSN("iso-a"))
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	b, err := sqlite.OpenDatabase(sqlite.MemoryDSN("iso-b"))
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })

	_, err = sqlite.Execute(ctx, a, "CREATE TABLE only_a (id INTEGER)", nil)
	require.NoError(t, err)

	_, err = sqlite.Execute(ctx, b, "SELECT * FROM only_a", nil)
	assert.Error(t, err)
}
