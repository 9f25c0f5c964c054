// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package driver_test

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	config "github.com/cloudzero/cloudflare-d1/app/config/d1"
	"github.com/cloudzero/cloudflare-d1/app/domain/binding"
	"github.com/cloudzero/cloudflare-d1/app/domain/binding/local"
	"github.com/cloudzero/cloudflare-d1/app/domain/result"
	d1driver "github.com/cloudzero/cloudflare-d1/app/driver"
	"github.com/cloudzero/cloudflare-d1/app/storage/sqlite"
	"github.com/cloudzero/cloudflare-d1/app/types"
)

// openBinding registers a local binding under a unique name and opens it
// through database/sql.
func openBinding(t *testing.T, query string, opts ...local.Option) *sql.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	b, err := local.Open(sqlite.MemoryDSN(name), opts...)
	require.NoError(t, err)
	require.NoError(t, binding.Register(name, b))
	t.Cleanup(func() {
		binding.Unregister(name)
		b.Close()
	})

	db, err := sql.Open(d1driver.DriverNameBinding, "d1+binding://"+name+query)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec("CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT NOT NULL, active INTEGER)")
	require.NoError(t, err)
	return db
}

func scanAll(t *testing.T, rows *sql.Rows) ([]string, [][]any) {
	t.Helper()
	defer rows.Close()
	cols, err := rows.Columns()
	require.NoError(t, err)
	out := [][]any{}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		require.NoError(t, rows.Scan(ptrs...))
		out = append(out, vals)
	}
	require.NoError(t, rows.Err())
	return cols, out
}

func TestUnit_Driver_BindingRoundTrip(t *testing.T) {
	for _, retrieval := range []string{"objects", "raw"} {
		t.Run(retrieval, func(t *testing.T) {
			db := openBinding(t, "?retrieval="+retrieval, local.WithDropSingleRowHeader(true))

			res, err := db.Exec("INSERT INTO users (name, active) VALUES (?, ?)", "ada", true)
			require.NoError(t, err)
			id, err := res.LastInsertId()
			require.NoError(t, err)
			assert.Equal(t, int64(1), id)
			n, err := res.RowsAffected()
			require.NoError(t, err)
			assert.Equal(t, int64(1), n)

			// zero rows still name the columns
			rows, err := db.Query("SELECT id, name FROM users WHERE id = ?", 99)
			require.NoError(t, err)
			cols, data := scanAll(t, rows)
			assert.Equal(t, []string{"id", "name"}, cols)
			assert.Empty(t, data)

			// a single row is the same as the first row of many
			rows, err = db.Query("SELECT id, name, active FROM users")
			require.NoError(t, err)
			cols, single := scanAll(t, rows)
			assert.Equal(t, []string{"id", "name", "active"}, cols)
			require.Len(t, single, 1)

			_, err = db.Exec("INSERT INTO users (name, active) VALUES (?, ?)", "grace", nil)
			require.NoError(t, err)
			rows, err = db.Query("SELECT id, name, active FROM users ORDER BY id")
			require.NoError(t, err)
			_, many := scanAll(t, rows)
			require.Len(t, many, 2)
			if diff := cmp.Diff(single[0], many[0]); diff != "" {
				t.Errorf("single row differs from first of many (-single +many):\n%s", diff)
			}
			assert.Equal(t, []any{int64(1), "ada", int64(1)}, many[0])
			assert.Nil(t, many[1][2])
		})
	}
}

func TestUnit_Driver_TransactionsAreNoOps(t *testing.T) {
	db := openBinding(t, "")
	tx, err := db.Begin()
	require.NoError(t, err)
	_, err = tx.Exec("INSERT INTO users (name) VALUES ('kept')")
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM users").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestUnit_Driver_ReturningWithZeroRows(t *testing.T) {
	db := openBinding(t, "?retrieval=raw", local.WithDropSingleRowHeader(true))
	rows, err := db.Query("DELETE FROM users WHERE id = 1 RETURNING id")
	require.NoError(t, err)
	_, data := scanAll(t, rows)
	assert.Empty(t, data)
}

func TestUnit_Driver_UnknownBinding(t *testing.T) {
	_, err := sql.Open(d1driver.DriverNameBinding, "d1+binding://NOPE")
	assert.ErrorIs(t, err, types.ErrNotSupported)
}

func TestUnit_Driver_Concurrent(t *testing.T) {
	db := openBinding(t, "")
	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < 16; i++ {
		g.Go(func() error {
			_, err := db.ExecContext(ctx, "INSERT INTO users (name) VALUES (?)", fmt.Sprintf("user-%d", i))
			return err
		})
	}
	require.NoError(t, g.Wait())

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM users").Scan(&count))
	assert.Equal(t, 16, count)
}

// fakeD1 answers the REST API from a handler function and counts calls.
type fakeD1 struct {
	calls  atomic.Int32
	server *httptest.Server
}

func newFakeD1(t *testing.T, handler func(op string, body string) (int, string)) *fakeD1 {
	t.Helper()
	f := &fakeD1{}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.calls.Add(1)
		body, _ := io.ReadAll(r.Body)
		op := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
		status, resp := handler(op, string(body))
		w.WriteHeader(status)
		_, _ = io.WriteString(w, resp)
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeD1) dsn(scheme string) string {
	return scheme + "://acct:tok@db?endpoint=" + f.server.URL
}

func TestUnit_Driver_RESTRawIsOneCall(t *testing.T) {
	fake := newFakeD1(t, func(op, _ string) (int, string) {
		assert.Equal(t, "raw", op)
		return http.StatusOK, `{"success":true,"result":[{"results":{"columns":["id","name"],"rows":[[1,"ada"]]},"meta":{"rows_read":1}}]}`
	})

	db, err := sql.Open(d1driver.DriverName, fake.dsn("d1"))
	require.NoError(t, err)
	defer db.Close()

	rows, err := db.Query("SELECT id, name FROM users")
	require.NoError(t, err)
	cols, data := scanAll(t, rows)
	assert.Equal(t, []string{"id", "name"}, cols)
	assert.Equal(t, [][]any{{int64(1), "ada"}}, data)
	assert.Equal(t, int32(1), fake.calls.Load())
}

func TestUnit_Driver_RESTWriteUsesQueryEndpoint(t *testing.T) {
	fake := newFakeD1(t, func(op, body string) (int, string) {
		assert.Equal(t, "query", op)
		assert.Contains(t, body, `"params":["ada",1,null]`)
		return http.StatusOK, `{"success":true,"result":[{"results":[],"meta":{"changes":1,"last_row_id":5}}]}`
	})

	db, err := sql.Open(d1driver.DriverNameAlias, fake.dsn("cloudflare_d1"))
	require.NoError(t, err)
	defer db.Close()

	res, err := db.Exec("INSERT INTO users (name, active, note) VALUES (?, ?, ?)", "ada", true, nil)
	require.NoError(t, err)
	id, _ := res.LastInsertId()
	n, _ := res.RowsAffected()
	assert.Equal(t, int64(5), id)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, int32(1), fake.calls.Load())
}

func TestUnit_Driver_RESTErrors(t *testing.T) {
	fake := newFakeD1(t, func(string, string) (int, string) {
		return http.StatusBadRequest, `{"success":false,"errors":[{"code":7500,"message":"no such table: missing: SQLITE_ERROR"}]}`
	})

	db, err := sql.Open(d1driver.DriverName, fake.dsn("d1"))
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Query("SELECT * FROM missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrOperational)
	assert.Contains(t, err.Error(), "no such table: missing")
	// not retried
	assert.Equal(t, int32(1), fake.calls.Load())
}

func TestUnit_Driver_RESTMissingMetadata(t *testing.T) {
	fake := newFakeD1(t, func(op, _ string) (int, string) {
		if op == "raw" {
			return http.StatusOK, `{"success":true,"result":[{"results":{"rows":[]},"meta":{}}]}`
		}
		return http.StatusOK, `{"success":true,"result":[{"results":[],"meta":{}}]}`
	})

	db, err := sql.Open(d1driver.DriverName, fake.dsn("d1"))
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Query("SELECT id FROM users")
	assert.ErrorIs(t, err, types.ErrMissingColumnMetadata)
	assert.NotErrorIs(t, err, types.ErrOperational)
	assert.Equal(t, int32(2), fake.calls.Load())
}

func TestUnit_Driver_AsyncAbandonsOnCancel(t *testing.T) {
	release := make(chan struct{})
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		_, _ = io.WriteString(w, `{"success":true,"result":[]}`)
	}))
	t.Cleanup(slow.Close)
	t.Cleanup(func() { close(release) })

	dsn, err := config.ParseDSN("d1+async://acct:tok@db?endpoint=" + slow.URL)
	require.NoError(t, err)
	connector, err := d1driver.OpenREST(dsn)
	require.NoError(t, err)
	assert.True(t, connector.Async())

	db := sql.OpenDB(connector)
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = db.ExecContext(ctx, "DELETE FROM users")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestUnit_Driver_ConnectorDefaults(t *testing.T) {
	dsn, err := config.ParseDSN("d1://acct:tok@db")
	require.NoError(t, err)
	rest, err := d1driver.OpenREST(dsn)
	require.NoError(t, err)
	assert.Equal(t, "rest", rest.Transport())
	assert.Equal(t, result.RetrievalRaw, rest.Primary())
	assert.False(t, rest.Async())

	b, err := local.Open(sqlite.MemoryDSN(t.Name()))
	require.NoError(t, err)
	defer b.Close()
	bc, err := d1driver.OpenBinding(b, d1driver.WithAsync(true))
	require.NoError(t, err)
	assert.Equal(t, "binding", bc.Transport())
	assert.Equal(t, result.RetrievalObjects, bc.Primary())
	assert.True(t, bc.Async())

	_, err = d1driver.OpenBinding(nil)
	assert.ErrorIs(t, err, types.ErrInterface)
}
