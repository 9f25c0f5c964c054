// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package driver

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"io"

	"github.com/cloudzero/cloudflare-d1/app/domain/result"
)

// Rows iterates over a fully fetched result set.
type Rows struct {
	set       *result.Set
	pos       int
	parseTime bool
}

var (
	_ driver.Rows                           = (*Rows)(nil)
	_ driver.RowsColumnTypeDatabaseTypeName = (*Rows)(nil)
)

func newRows(set *result.Set, parseTime bool) *Rows {
	return &Rows{set: set, parseTime: parseTime}
}

func (r *Rows) Columns() []string {
	return r.set.Columns
}

func (r *Rows) Close() error {
	r.pos = len(r.set.Rows)
	return nil
}

func (r *Rows) Next(dest []driver.Value) error {
	if r.pos >= len(r.set.Rows) {
		return io.EOF
	}
	row := r.set.Rows[r.pos]
	r.pos++
	for i := range dest {
		if i >= len(row) {
			dest[i] = nil
			continue
		}
		dest[i] = r.value(row[i])
	}
	return nil
}

// ColumnTypeDatabaseTypeName is empty: D1 reports no column types.
func (r *Rows) ColumnTypeDatabaseTypeName(int) string {
	return ""
}

func (r *Rows) value(v any) driver.Value {
	switch x := v.(type) {
	case nil, int64, float64, bool:
		return x
	case string:
		if r.parseTime {
			if t, ok := parseTimestamp(x); ok {
				return t
			}
		}
		return x
	case []any:
		if b, ok := byteArray(x); ok {
			return b
		}
	}
	return jsonText(v)
}

// byteArray recognizes a BLOB the way D1 serializes it, as an array of
// byte values.
func byteArray(values []any) ([]byte, bool) {
	b := make([]byte, len(values))
	for i, v := range values {
		n, ok := v.(int64)
		if !ok || n < 0 || n > 255 {
			return nil, false
		}
		b[i] = byte(n)
	}
	return b, true
}

func jsonText(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

// Result reports the write counters of a statement.
type Result struct {
	meta result.Meta
}

var _ driver.Result = Result{}

// LastInsertId is D1's last_row_id.
func (r Result) LastInsertId() (int64, error) {
	return r.meta.LastRowID, nil
}

// RowsAffected is D1's changes count.
func (r Result) RowsAffected() (int64, error) {
	return r.meta.Changes, nil
}
