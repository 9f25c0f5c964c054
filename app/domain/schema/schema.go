// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package schema reads table definitions back out of a D1 database.
//
// Everything is answered from sqlite_master and the table_info,
// foreign_key_list, index_list and index_info pragmas, so it works over any
// *sql.DB opened on the d1 driver, whatever the transport.
package schema

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"sync"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/cloudzero/cloudflare-d1/app/utils/parallel"
)

const defaultWorkers = 4

// Storage affinities reported for columns.
const (
	TypeInteger = "INTEGER"
	TypeText    = "TEXT"
	TypeReal    = "REAL"
	TypeBlob    = "BLOB"
	TypeNumeric = "NUMERIC"
)

// Column describes one table column.
type Column struct {
	Name string `json:"name" yaml:"name"`
	// Type is the storage affinity derived from DeclaredType.
	Type         string  `json:"type" yaml:"type"`
	DeclaredType string  `json:"declaredType" yaml:"declaredType"`
	Nullable     bool    `json:"nullable" yaml:"nullable"`
	Default      *string `json:"default,omitempty" yaml:"default,omitempty"`
	// PrimaryKey is the column's 1-based position in the primary key, or 0.
	PrimaryKey int `json:"primaryKey,omitempty" yaml:"primaryKey,omitempty"`
}

// ForeignKey describes one foreign key constraint. SQLite does not keep
// constraint names, so none is reported.
type ForeignKey struct {
	Columns         []string `json:"columns" yaml:"columns"`
	ReferredTable   string   `json:"referredTable" yaml:"referredTable"`
	ReferredColumns []string `json:"referredColumns" yaml:"referredColumns"`
	OnUpdate        string   `json:"onUpdate" yaml:"onUpdate"`
	OnDelete        string   `json:"onDelete" yaml:"onDelete"`
}

// Index describes one explicitly created index.
type Index struct {
	Name    string   `json:"name" yaml:"name"`
	Columns []string `json:"columns" yaml:"columns"`
	Unique  bool     `json:"unique" yaml:"unique"`
}

// Table is the full description of one table.
type Table struct {
	Name        string       `json:"name" yaml:"name"`
	Columns     []Column     `json:"columns" yaml:"columns"`
	PrimaryKey  []string     `json:"primaryKey" yaml:"primaryKey"`
	ForeignKeys []ForeignKey `json:"foreignKeys" yaml:"foreignKeys"`
	Indexes     []Index      `json:"indexes" yaml:"indexes"`
}

// Inspector runs reflection queries against one database.
type Inspector struct {
	db      *sqlx.DB
	workers int
}

type Option func(*Inspector)

// WithWorkers bounds how many tables Describe inspects at once.
func WithWorkers(n int) Option {
	return func(i *Inspector) {
		i.workers = n
	}
}

// New returns an Inspector over db.
func New(db *sql.DB, opts ...Option) *Inspector {
	i := &Inspector{
		// D1 uses sqlite's ? placeholders
		db:      sqlx.NewDb(db, "sqlite3"),
		workers: defaultWorkers,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// TableNames lists user tables in name order. SQLite's own tables and
// D1's reserved _cf_ tables are left out.
func (i *Inspector) TableNames(ctx context.Context) ([]string, error) {
	names := []string{}
	err := i.db.SelectContext(ctx, &names, `SELECT name FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite\_%' ESCAPE '\' AND name NOT LIKE '\_cf\_%' ESCAPE '\'
		ORDER BY name`)
	if err != nil {
		return nil, errors.Wrap(err, "list tables")
	}
	return names, nil
}

// HasTable reports whether a user table called name exists.
func (i *Inspector) HasTable(ctx context.Context, name string) (bool, error) {
	var count int
	err := i.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM sqlite_master
		WHERE type = 'table' AND name = ? AND name NOT LIKE 'sqlite\_%' ESCAPE '\'`, name)
	if err != nil {
		return false, errors.Wrapf(err, "look up table %s", name)
	}
	return count > 0, nil
}

type tableInfoRow struct {
	CID          int            `db:"cid"`
	Name         string         `db:"name"`
	Type         string         `db:"type"`
	NotNull      int            `db:"notnull"`
	DefaultValue sql.NullString `db:"dflt_value"`
	PK           int            `db:"pk"`
}

// Columns lists the columns of table in declaration order.
func (i *Inspector) Columns(ctx context.Context, table string) ([]Column, error) {
	rows := []tableInfoRow{}
	if err := i.db.SelectContext(ctx, &rows, "PRAGMA table_info("+quote(table)+")"); err != nil {
		return nil, errors.Wrapf(err, "columns of %s", table)
	}

	cols := make([]Column, 0, len(rows))
	for _, r := range rows {
		col := Column{
			Name:         r.Name,
			Type:         Affinity(r.Type),
			DeclaredType: r.Type,
			Nullable:     r.NotNull == 0,
			PrimaryKey:   r.PK,
		}
		if r.DefaultValue.Valid {
			def := r.DefaultValue.String
			col.Default = &def
		}
		cols = append(cols, col)
	}
	return cols, nil
}

// PrimaryKey lists the primary key columns of table in key order.
func (i *Inspector) PrimaryKey(ctx context.Context, table string) ([]string, error) {
	cols, err := i.Columns(ctx, table)
	if err != nil {
		return nil, err
	}
	return primaryKey(cols), nil
}

func primaryKey(cols []Column) []string {
	var pk []Column
	for _, c := range cols {
		if c.PrimaryKey > 0 {
			pk = append(pk, c)
		}
	}
	sort.Slice(pk, func(a, b int) bool { return pk[a].PrimaryKey < pk[b].PrimaryKey })

	names := make([]string, len(pk))
	for n, c := range pk {
		names[n] = c.Name
	}
	return names
}

type foreignKeyRow struct {
	ID       int            `db:"id"`
	Seq      int            `db:"seq"`
	Table    string         `db:"table"`
	From     string         `db:"from"`
	To       sql.NullString `db:"to"`
	OnUpdate string         `db:"on_update"`
	OnDelete string         `db:"on_delete"`
	Match    string         `db:"match"`
}

// ForeignKeys lists the foreign keys of table. Multi-column keys are
// grouped into one entry.
func (i *Inspector) ForeignKeys(ctx context.Context, table string) ([]ForeignKey, error) {
	rows := []foreignKeyRow{}
	if err := i.db.SelectContext(ctx, &rows, "PRAGMA foreign_key_list("+quote(table)+")"); err != nil {
		return nil, errors.Wrapf(err, "foreign keys of %s", table)
	}
	sort.SliceStable(rows, func(a, b int) bool {
		if rows[a].ID != rows[b].ID {
			return rows[a].ID < rows[b].ID
		}
		return rows[a].Seq < rows[b].Seq
	})

	fks := []ForeignKey{}
	byID := map[int]int{}
	for _, r := range rows {
		idx, ok := byID[r.ID]
		if !ok {
			idx = len(fks)
			byID[r.ID] = idx
			fks = append(fks, ForeignKey{
				ReferredTable: r.Table,
				OnUpdate:      r.OnUpdate,
				OnDelete:      r.OnDelete,
			})
		}
		fks[idx].Columns = append(fks[idx].Columns, r.From)
		// a NULL target means the referred table's primary key
		fks[idx].ReferredColumns = append(fks[idx].ReferredColumns, r.To.String)
	}
	return fks, nil
}

type indexListRow struct {
	Seq     int    `db:"seq"`
	Name    string `db:"name"`
	Unique  int    `db:"unique"`
	Origin  string `db:"origin"`
	Partial int    `db:"partial"`
}

type indexInfoRow struct {
	SeqNo int            `db:"seqno"`
	CID   int            `db:"cid"`
	Name  sql.NullString `db:"name"`
}

// Indexes lists the indexes of table, leaving out the automatic indexes
// SQLite creates for UNIQUE and PRIMARY KEY constraints.
func (i *Inspector) Indexes(ctx context.Context, table string) ([]Index, error) {
	list := []indexListRow{}
	if err := i.db.SelectContext(ctx, &list, "PRAGMA index_list("+quote(table)+")"); err != nil {
		return nil, errors.Wrapf(err, "indexes of %s", table)
	}

	indexes := []Index{}
	for _, r := range list {
		if strings.HasPrefix(r.Name, "sqlite_autoindex_") {
			continue
		}
		info := []indexInfoRow{}
		if err := i.db.SelectContext(ctx, &info, "PRAGMA index_info("+quote(r.Name)+")"); err != nil {
			return nil, errors.Wrapf(err, "columns of index %s", r.Name)
		}
		sort.Slice(info, func(a, b int) bool { return info[a].SeqNo < info[b].SeqNo })

		idx := Index{Name: r.Name, Unique: r.Unique != 0, Columns: make([]string, 0, len(info))}
		for _, c := range info {
			// expression columns have no name
			idx.Columns = append(idx.Columns, c.Name.String)
		}
		indexes = append(indexes, idx)
	}
	sort.Slice(indexes, func(a, b int) bool { return indexes[a].Name < indexes[b].Name })
	return indexes, nil
}

// Table describes one table.
func (i *Inspector) Table(ctx context.Context, name string) (*Table, error) {
	cols, err := i.Columns(ctx, name)
	if err != nil {
		return nil, err
	}
	fks, err := i.ForeignKeys(ctx, name)
	if err != nil {
		return nil, err
	}
	indexes, err := i.Indexes(ctx, name)
	if err != nil {
		return nil, err
	}
	return &Table{
		Name:        name,
		Columns:     cols,
		PrimaryKey:  primaryKey(cols),
		ForeignKeys: fks,
		Indexes:     indexes,
	}, nil
}

// Describe describes the named tables, or every user table when no names
// are given. Tables are inspected concurrently; the result follows the
// order of names.
func (i *Inspector) Describe(ctx context.Context, names ...string) ([]Table, error) {
	if len(names) == 0 {
		var err error
		if names, err = i.TableNames(ctx); err != nil {
			return nil, err
		}
	}

	tables := make([]Table, len(names))
	var mu sync.Mutex

	pm := parallel.New(i.workers)
	defer pm.Close()
	waiter := parallel.NewWaiter()
	for n, name := range names {
		pm.Run(func() error {
			t, err := i.Table(ctx, name)
			if err != nil {
				return err
			}
			mu.Lock()
			tables[n] = *t
			mu.Unlock()
			return nil
		}, waiter)
	}
	if err := waiter.Wait(); err != nil {
		return nil, err
	}
	return tables, nil
}

// Affinity maps a declared column type onto the storage class SQLite
// would give it.
func Affinity(declared string) string {
	t := strings.ToUpper(declared)
	switch {
	case strings.Contains(t, "INT"):
		return TypeInteger
	case strings.Contains(t, "CHAR"), strings.Contains(t, "CLOB"), strings.Contains(t, "TEXT"):
		return TypeText
	case strings.Contains(t, "REAL"), strings.Contains(t, "FLOA"), strings.Contains(t, "DOUB"):
		return TypeReal
	case strings.Contains(t, "BLOB"):
		return TypeBlob
	case strings.Contains(t, "NUMERIC"):
		return TypeNumeric
	}
	return TypeText
}

func quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}
