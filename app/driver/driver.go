// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package driver is a database/sql driver for Cloudflare D1.
//
// Importing the package registers four driver names:
//
//	d1, cloudflare_d1   REST API, synchronous
//	d1+async            REST API, each call on its own goroutine
//	d1+binding          an in-process binding registered with binding.Register
//
// Usage:
//
//	db, err := sql.Open("d1", "d1://ACCOUNT_ID:API_TOKEN@DATABASE_ID")
//	rows, err := db.QueryContext(ctx, "SELECT id, name FROM users WHERE id = ?", 7)
//
// D1 commits every statement on its own. Transactions are accepted and do
// nothing, so code written against database/sql keeps working, but a
// rollback does not undo anything.
package driver

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"strings"

	config "github.com/cloudzero/cloudflare-d1/app/config/d1"
	"github.com/cloudzero/cloudflare-d1/app/domain/binding"
)

// Registered driver names.
const (
	DriverName        = "d1"
	DriverNameAlias   = "cloudflare_d1"
	DriverNameAsync   = "d1+async"
	DriverNameBinding = "d1+binding"
)

func init() {
	for _, name := range []string{DriverName, DriverNameAlias, DriverNameAsync, DriverNameBinding} {
		sql.Register(name, &Driver{name: name})
	}
}

// Driver opens connections from connection strings.
type Driver struct {
	name string
}

var (
	_ driver.Driver        = (*Driver)(nil)
	_ driver.DriverContext = (*Driver)(nil)
)

func (d *Driver) Open(name string) (driver.Conn, error) {
	c, err := d.OpenConnector(name)
	if err != nil {
		return nil, err
	}
	return c.Connect(context.Background())
}

// OpenConnector parses name once for all connections of a sql.DB. A name
// without a scheme takes the driver's own.
func (d *Driver) OpenConnector(name string) (driver.Connector, error) {
	if !strings.Contains(name, "://") {
		name = d.name + "://" + name
	}
	dsn, err := config.ParseDSN(name)
	if err != nil {
		return nil, err
	}
	if d.name == DriverNameAsync {
		dsn.Async = true
	}
	c, err := NewConnector(dsn)
	if err != nil {
		return nil, err
	}
	c.driver = d
	return c, nil
}

// NewConnector builds a connector for a parsed connection string. Binding
// connection strings are resolved against the process-wide binding
// registry.
func NewConnector(dsn *config.DSN, opts ...Option) (*Connector, error) {
	if dsn.Transport == config.TransportBinding {
		b, err := binding.Lookup(dsn.BindingName)
		if err != nil {
			return nil, err
		}
		return OpenBinding(b, append(dsnOptions(dsn), opts...)...)
	}
	return OpenREST(dsn, opts...)
}
