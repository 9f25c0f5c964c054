// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package core holds the gorm plumbing shared by every database this module
// opens: the D1 dialector, the emulator's local SQLite files and its catalog.
//
// NewDriver applies the same gorm configuration to all of them:
//
//   - singular table names
//   - UTC timestamps truncated to milliseconds
//   - statement logging through zerolog
//   - dialector error translation
package core

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// NewDriver opens a gorm database on dialector with the shared configuration.
//
// Usage:
//
//	db, err := core.NewDriver(d1.Open(dsn))
//	db, err := core.NewDriver(sqlite.Open("file:catalog.db"))
func NewDriver(dialector gorm.Dialector) (*gorm.DB, error) {
	return gorm.Open(dialector, &gorm.Config{
		NamingStrategy: schema.NamingStrategy{
			SingularTable: true,
		},
		NowFunc:        DatabaseNow, // For timestamps, use UTC, truncated to milliseconds
		Logger:         &ZeroLogAdapter{},
		TranslateError: true,
	})
}

// DatabaseNow returns the current time in UTC truncated to milliseconds. gorm
// uses it for created_at and updated_at.
func DatabaseNow() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
