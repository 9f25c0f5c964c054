// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package sqlite backs the local D1 stand-ins with go-sqlite3.
//
// Two kinds of handle are provided:
//
//   - NewSQLiteDriver opens a gorm database, used for bookkeeping such as
//     the emulator's registry of databases
//   - OpenDatabase opens a raw sqlx handle on which Execute runs arbitrary
//     statements and reports them the way D1 does
//
// Usage:
//
//	registry, err := sqlite.NewSQLiteDriver(sqlite.InMemoryDSN)
//	db, err := sqlite.OpenDatabase(sqlite.MemoryDSN("db-1"))
//	out, err := sqlite.Execute(ctx, db, "SELECT 1 AS one", nil)
package sqlite

import (
	"fmt"
	"net/url"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/cloudzero/cloudflare-d1/app/storage/core"
)

const (
	// InMemoryDSN configures a private in-memory SQLite database.
	InMemoryDSN = ":memory:"

	// MemorySharedCached configures a shared in-memory SQLite database that
	// every connection of the process sees.
	MemorySharedCached = "file:memory?mode=memory&cache=shared"
)

// MemoryDSN names a private in-memory database. Distinct names never share
// data.
func MemoryDSN(name string) string {
	return fmt.Sprintf("file:%s?mode=memory&cache=private", url.PathEscape(name))
}

// FileDSN names an on-disk database.
func FileDSN(path string) string {
	return "file:" + path
}

// NewSQLiteDriver opens a gorm database on go-sqlite3 with the settings
// applied by core.NewDriver.
func NewSQLiteDriver(dsn string) (*gorm.DB, error) {
	db, err := core.NewDriver(sqlite.Open(dsn))
	if err != nil {
		return nil, err
	}
	return db, nil
}
