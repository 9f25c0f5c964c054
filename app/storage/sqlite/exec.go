// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package sqlite

import (
	"context"
	"database/sql"
	"encoding/base64"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // registers the sqlite3 driver
	"github.com/pkg/errors"

	"github.com/cloudzero/cloudflare-d1/app/domain/result"
)

// OpenDatabase opens a go-sqlite3 database for statement execution. Every
// statement runs on the single pooled connection so in-memory databases
// keep their contents and changes() reports the statement just run.
func OpenDatabase(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite database")
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "enable foreign keys")
	}
	return db, nil
}

// Outcome is the result of one statement in D1's terms: values are limited
// to what JSON carries, with blobs as base64 text and timestamps as text.
type Outcome struct {
	Columns   []string
	Rows      [][]any
	Changes   int64
	LastRowID int64
	ChangedDB bool
	RowsRead  int64
	Duration  time.Duration
}

// Meta converts the outcome into D1 execution metadata.
func (o *Outcome) Meta() result.Meta {
	return result.Meta{
		Changes:     o.Changes,
		LastRowID:   o.LastRowID,
		RowsRead:    o.RowsRead,
		RowsWritten: o.Changes,
		ChangedDB:   o.ChangedDB,
		Duration:    float64(o.Duration.Microseconds()) / 1000,
		ServedBy:    "sqlite-local",
	}
}

// Execute runs one statement and collects its rows and write counters.
func Execute(ctx context.Context, db *sqlx.DB, query string, args []any) (*Outcome, error) {
	start := time.Now()
	kind := result.Classify(query)

	conn, err := db.Connx(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	out := &Outcome{Columns: []string{}, Rows: [][]any{}}
	if !kind.RowReturning {
		res, err := conn.ExecContext(ctx, query, args...)
		if err != nil {
			return nil, err
		}
		// sqlite keeps reporting the last DML counters after other statements
		if modifiesRows(kind.Verb) {
			out.Changes, _ = res.RowsAffected()
			out.LastRowID, _ = res.LastInsertId()
		}
		out.ChangedDB = out.Changes > 0 || changesSchema(kind.Verb)
		out.Duration = time.Since(start)
		return out, nil
	}

	rows, err := conn.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if out.Columns, err = rows.Columns(); err != nil {
		rows.Close()
		return nil, err
	}
	for rows.Next() {
		values, err := rows.SliceScan()
		if err != nil {
			rows.Close()
			return nil, err
		}
		for i, v := range values {
			values[i] = exportValue(v)
		}
		out.Rows = append(out.Rows, values)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()
	out.RowsRead = int64(len(out.Rows))

	if !kind.ReadOnly {
		if err := readCounters(ctx, conn, out); err != nil {
			return nil, err
		}
	}
	out.Duration = time.Since(start)
	return out, nil
}

// readCounters reads the write counters of a RETURNING statement, which
// database/sql exposes only for Exec.
func readCounters(ctx context.Context, conn *sqlx.Conn, out *Outcome) error {
	var changes, lastID sql.NullInt64
	row := conn.QueryRowxContext(ctx, "SELECT changes(), last_insert_rowid()")
	if err := row.Scan(&changes, &lastID); err != nil {
		return errors.Wrap(err, "read write counters")
	}
	out.Changes = changes.Int64
	out.LastRowID = lastID.Int64
	out.ChangedDB = out.Changes > 0
	return nil
}

func modifiesRows(verb string) bool {
	switch verb {
	case "INSERT", "UPDATE", "DELETE", "REPLACE", "WITH":
		return true
	}
	return false
}

func changesSchema(verb string) bool {
	switch verb {
	case "CREATE", "DROP", "ALTER":
		return true
	}
	return false
}

// exportValue maps go-sqlite3 values onto the JSON types D1 returns.
func exportValue(v any) any {
	switch x := v.(type) {
	case []byte:
		return base64.StdEncoding.EncodeToString(x)
	case time.Time:
		return x.Format(result.TimeFormat)
	case int:
		return int64(x)
	case float32:
		return float64(x)
	}
	return v
}
