// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package result reconciles the two result shapes D1 returns into a single
// ordered (columns, rows) set.
//
// D1 answers a statement either as a list of named-field objects (the
// binding's all() call and the REST /query endpoint) or as a column header
// plus row arrays (the binding's raw({columnNames: true}) call, which puts
// the header in the first row, and the REST /raw endpoint, which carries
// the header in a separate columns field). Neither shape is reliable on its
// own:
//
//   - objects carry no column names when zero rows match
//   - the header-in-rows shape has been observed to drop the header when
//     exactly one row matches, so the data row is mistaken for the header
//
// The Normalizer requests a primary shape and, when that answer is empty or
// ambiguous, asks for the other shape once. A statement that may modify the
// database is never executed a second time.
package result

import (
	"context"
	"fmt"
	"math"

	"github.com/pkg/errors"
)

// Retrieval selects which result shape a Source is asked for.
type Retrieval int

const (
	// RetrievalObjects asks for a list of named-field objects.
	RetrievalObjects Retrieval = iota
	// RetrievalRaw asks for a column header plus row arrays.
	RetrievalRaw
)

func (r Retrieval) String() string {
	switch r {
	case RetrievalObjects:
		return "objects"
	case RetrievalRaw:
		return "raw"
	}
	return fmt.Sprintf("Retrieval(%d)", int(r))
}

// Other returns the alternative shape.
func (r Retrieval) Other() Retrieval {
	if r == RetrievalObjects {
		return RetrievalRaw
	}
	return RetrievalObjects
}

// ParseRetrieval maps "objects" or "raw" to a Retrieval. The empty string
// yields def.
func ParseRetrieval(s string, def Retrieval) (Retrieval, error) {
	switch s {
	case "":
		return def, nil
	case "objects":
		return RetrievalObjects, nil
	case "raw":
		return RetrievalRaw, nil
	}
	return def, errors.Errorf("unknown retrieval %q", s)
}

// Field is one named value of an Object.
type Field struct {
	Name  string
	Value any
}

// Object is one row in the named-field shape, in the order D1 sent it.
type Object []Field

// Get returns the value of the named field.
func (o Object) Get(name string) (any, bool) {
	for _, f := range o {
		if f.Name == name {
			return f.Value, true
		}
	}
	return nil, false
}

// Meta is the execution metadata D1 attaches to every statement.
type Meta struct {
	Changes     int64
	LastRowID   int64
	RowsRead    int64
	RowsWritten int64
	ChangedDB   bool
	SizeAfter   int64
	Duration    float64
	ServedBy    string
}

// Response is one answer from a Source, in whichever shape was requested.
type Response struct {
	// Objects is set for RetrievalObjects.
	Objects []Object
	// Columns is the explicit header of a RetrievalRaw answer, when the
	// transport sends it separately from the rows.
	Columns []string
	// Rows holds the row arrays of a RetrievalRaw answer.
	Rows [][]any
	// HeaderInRows reports that Rows[0] is the column header.
	HeaderInRows bool
	Meta         Meta
}

// Source executes one prepared statement in the requested shape. Each call
// is one round trip to D1.
type Source interface {
	Retrieve(ctx context.Context, mode Retrieval) (*Response, error)
}

// Outcome is the eventual answer of an asynchronous retrieval.
type Outcome struct {
	Response *Response
	Err      error
}

// AsyncSource is implemented by transports with a native asynchronous call.
// The returned channel receives exactly one Outcome.
type AsyncSource interface {
	Source
	RetrieveAsync(ctx context.Context, mode Retrieval) <-chan Outcome
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, mode Retrieval) (*Response, error)

func (f SourceFunc) Retrieve(ctx context.Context, mode Retrieval) (*Response, error) {
	return f(ctx, mode)
}

// Set is the normalized result of a statement.
type Set struct {
	Columns []string
	Rows    [][]any
	Meta    Meta
}

// TimeFormat is the text form of timestamps sent to and read from D1. It is
// the layout SQLite's date functions and go-sqlite3 both understand.
const TimeFormat = "2006-01-02 15:04:05.999999999-07:00"

// NormalizeNumber converts a JSON number to int64 when it is integral and
// exactly representable, and leaves it as float64 otherwise.
func NormalizeNumber(f float64) any {
	if f == math.Trunc(f) && f >= -(1<<53) && f <= 1<<53 {
		return int64(f)
	}
	return f
}
