// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package d1 is a gorm dialector for Cloudflare D1.
//
// D1 speaks SQLite, so the dialector builds on gorm's sqlite dialector and
// changes only what differs:
//
//   - connections go through the d1 database/sql driver
//   - initialization makes no call to D1
//   - ON CONFLICT and RETURNING are always enabled
//   - CREATE TABLE declares a single-column primary key inline and a
//     composite key once at table level, and writes AUTOINCREMENT only for
//     INTEGER keys
//   - savepoints are not used, since D1 commits every statement
//   - constraint failures are translated from D1's error messages
//
// Usage:
//
//	db, err := core.NewDriver(d1.Open("d1://ACCOUNT_ID:API_TOKEN@DATABASE_ID"))
package d1

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/callbacks"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/migrator"
	"gorm.io/gorm/schema"

	config "github.com/cloudzero/cloudflare-d1/app/config/d1"
	"github.com/cloudzero/cloudflare-d1/app/domain/binding"
	"github.com/cloudzero/cloudflare-d1/app/driver"
)

// DialectName is the name gorm reports for D1 connections.
const DialectName = "d1"

// Config selects how the dialector reaches D1. Exactly one of Conn,
// Connector and DSN is used, in that order.
type Config struct {
	// DSN is a d1 connection string.
	DSN string
	// Connector is an already built driver connector.
	Connector *driver.Connector
	// Conn is an existing connection pool, for example a *sql.DB opened on
	// the d1 driver.
	Conn gorm.ConnPool
	// DriverOptions are applied when the connector is built from DSN.
	DriverOptions []driver.Option

	// err is reported by Initialize when the configuration could not be
	// turned into a connector.
	err error
}

// Dialector implements gorm.Dialector for D1.
type Dialector struct {
	sqlite.Dialector
	cfg *Config
}

var (
	_ gorm.Dialector                     = (*Dialector)(nil)
	_ gorm.ErrorTranslator               = (*Dialector)(nil)
	_ gorm.SavePointerDialectorInterface = (*Dialector)(nil)
)

// Open returns a dialector for a d1 connection string.
func Open(dsn string) gorm.Dialector {
	return &Dialector{cfg: &Config{DSN: dsn}}
}

// OpenBinding returns a dialector over an in-process binding. Time parsing
// is on unless opts turn it off.
func OpenBinding(b binding.Binding, opts ...driver.Option) gorm.Dialector {
	cfg := &Config{}
	cfg.Connector, cfg.err = driver.OpenBinding(b, append([]driver.Option{driver.WithParseTime(true)}, opts...)...)
	return &Dialector{cfg: cfg}
}

// New returns a dialector for cfg.
func New(cfg Config) gorm.Dialector {
	return &Dialector{cfg: &cfg}
}

func (d *Dialector) Name() string {
	return DialectName
}

// Initialize wires the connection pool and callbacks. Unlike the sqlite
// dialector it does not query sqlite_version(): every D1 build supports
// RETURNING, and opening must not cost a round trip.
func (d *Dialector) Initialize(db *gorm.DB) error {
	if d.cfg == nil {
		d.cfg = &Config{}
	}
	if d.cfg.err != nil {
		return d.cfg.err
	}

	switch {
	case d.cfg.Conn != nil:
		db.ConnPool = d.cfg.Conn
	case d.cfg.Connector != nil:
		db.ConnPool = sql.OpenDB(d.cfg.Connector)
	default:
		connector, err := d.connectorFromDSN()
		if err != nil {
			return err
		}
		db.ConnPool = sql.OpenDB(connector)
	}

	callbacks.RegisterDefaultCallbacks(db, &callbacks.Config{
		CreateClauses:        []string{"INSERT", "VALUES", "ON CONFLICT", "RETURNING"},
		UpdateClauses:        []string{"UPDATE", "SET", "FROM", "WHERE", "RETURNING"},
		DeleteClauses:        []string{"DELETE", "FROM", "WHERE", "RETURNING"},
		LastInsertIDReversed: true,
	})

	for name, builder := range d.ClauseBuilders() {
		db.ClauseBuilders[name] = builder
	}
	return nil
}

func (d *Dialector) connectorFromDSN() (*driver.Connector, error) {
	if d.cfg.DSN == "" {
		return nil, errors.New("d1: no connection string, connector or connection pool configured")
	}
	dsn, err := config.ParseDSN(d.cfg.DSN)
	if err != nil {
		return nil, err
	}
	if dsn.ParseTime == nil {
		parse := true
		dsn.ParseTime = &parse
	}
	return driver.NewConnector(dsn, d.cfg.DriverOptions...)
}

// ClauseBuilders renders LIMIT the way SQLite requires when only an offset
// is set, and drops row locking, which SQLite lacks.
func (d *Dialector) ClauseBuilders() map[string]clause.ClauseBuilder {
	return map[string]clause.ClauseBuilder{
		"LIMIT": func(c clause.Clause, builder clause.Builder) {
			limit, ok := c.Expression.(clause.Limit)
			if !ok {
				c.Build(builder)
				return
			}
			lmt := -1
			if limit.Limit != nil && *limit.Limit >= 0 {
				lmt = *limit.Limit
			}
			if lmt >= 0 || limit.Offset > 0 {
				builder.WriteString("LIMIT ")
				builder.WriteString(strconv.Itoa(lmt))
			}
			if limit.Offset > 0 {
				builder.WriteString(" OFFSET ")
				builder.WriteString(strconv.Itoa(limit.Offset))
			}
		},
		"FOR": func(c clause.Clause, builder clause.Builder) {
			if _, ok := c.Expression.(clause.Locking); ok {
				return
			}
			c.Build(builder)
		},
	}
}

func (d *Dialector) Migrator(db *gorm.DB) gorm.Migrator {
	return Migrator{sqlite.Migrator{Migrator: migrator.Migrator{Config: migrator.Config{
		DB:                          db,
		Dialector:                   d,
		CreateIndexAfterCreateTable: true,
	}}}}
}

// DataTypeOf maps Go field types onto SQLite storage classes. It never
// includes key clauses; the migrator adds those.
func (d *Dialector) DataTypeOf(field *schema.Field) string {
	switch field.DataType {
	case schema.Bool, schema.Int, schema.Uint:
		return "INTEGER"
	case schema.Float:
		return "REAL"
	case schema.String:
		if field.Size > 0 {
			return fmt.Sprintf("VARCHAR(%d)", field.Size)
		}
		return "TEXT"
	case schema.Time:
		return "DATETIME"
	case schema.Bytes:
		return "BLOB"
	}
	return string(field.DataType)
}

// SavePoint does nothing: statements are committed as they run.
func (d *Dialector) SavePoint(*gorm.DB, string) error {
	return nil
}

// RollbackTo does nothing: statements are committed as they run.
func (d *Dialector) RollbackTo(*gorm.DB, string) error {
	return nil
}

// Translate maps D1 constraint failures, which arrive as message text, to
// gorm's errors. The original error stays in the chain.
func (d *Dialector) Translate(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return fmt.Errorf("%w: %w", gorm.ErrDuplicatedKey, err)
	case strings.Contains(msg, "FOREIGN KEY constraint failed"):
		return fmt.Errorf("%w: %w", gorm.ErrForeignKeyViolated, err)
	case strings.Contains(msg, "CHECK constraint failed"):
		return fmt.Errorf("%w: %w", gorm.ErrCheckConstraintViolated, err)
	}
	return err
}
