// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package result

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/cloudzero/cloudflare-d1/app/types"
)

// Reasons recorded when the normalizer falls back to the other shape.
const (
	ReasonZeroRows        = "zero_rows"
	ReasonSingleRowHeader = "single_row_header"
	ReasonMissingHeader   = "missing_header"
)

// Normalizer turns Source answers into a Set.
type Normalizer struct {
	// Primary is the shape requested first for read-only statements.
	// Statements that may write are always asked for objects, since they
	// cannot be executed a second time.
	Primary Retrieval
}

// Normalize executes the statement through src and returns its result. At
// most two Retrieve calls are made, the second only for a read-only
// statement whose first answer carried no usable column header.
func (n Normalizer) Normalize(ctx context.Context, query string, src Source) (*Set, error) {
	kind := Classify(query)
	mode := n.Primary
	if !kind.ReadOnly {
		mode = RetrievalObjects
	}

	resp, err := src.Retrieve(ctx, mode)
	if err != nil {
		return nil, err
	}

	set := &Set{Meta: resp.Meta}
	cols, rows, reason := extract(resp, mode)
	set.Columns, set.Rows = cols, rows
	if reason == "" || !kind.RowReturning {
		return set, nil
	}

	logger := zerolog.Ctx(ctx)
	if !kind.ReadOnly {
		// Empty RETURNING result of a write; running it again is not safe.
		logger.Debug().Str("verb", kind.Verb).Str("reason", reason).Msg("no column metadata for writing statement")
		return set, nil
	}

	fallbackCounter().WithLabelValues(reason).Inc()
	logger.Debug().
		Str("verb", kind.Verb).
		Str("reason", reason).
		Stringer("primary", mode).
		Stringer("fallback", mode.Other()).
		Msg("retrieving column metadata with fallback shape")

	alt, err := src.Retrieve(ctx, mode.Other())
	if err != nil {
		return nil, errors.Wrap(err, "metadata fallback")
	}

	set.Columns, set.Rows = reconcile(mode, resp, alt, cols, rows)
	if len(set.Columns) == 0 {
		return nil, errors.Wrapf(types.ErrMissingColumnMetadata, "%s returned no column names in either shape", kind.Verb)
	}
	return set, nil
}

// extract reads columns and rows out of a response. A non-empty reason means
// the answer cannot be trusted to carry the column header.
func extract(resp *Response, mode Retrieval) ([]string, [][]any, string) {
	if mode == RetrievalObjects {
		if len(resp.Objects) > 0 {
			cols := objectColumns(resp.Objects[0])
			return cols, objectRows(resp.Objects, cols), ""
		}
		if len(resp.Columns) > 0 {
			return resp.Columns, [][]any{}, ""
		}
		return nil, [][]any{}, ReasonZeroRows
	}

	if resp.HeaderInRows {
		switch len(resp.Rows) {
		case 0:
			return nil, [][]any{}, ReasonMissingHeader
		case 1:
			// Either a header with no data, or one data row whose header
			// was dropped.
			cols, _ := headerColumns(resp.Rows[0])
			return cols, [][]any{}, ReasonSingleRowHeader
		}
		cols, ok := headerColumns(resp.Rows[0])
		if !ok {
			return nil, resp.Rows, ReasonMissingHeader
		}
		return cols, resp.Rows[1:], ""
	}

	if len(resp.Columns) == 0 {
		return nil, nonNilRows(resp.Rows), ReasonMissingHeader
	}
	return resp.Columns, nonNilRows(resp.Rows), ""
}

// reconcile combines an ambiguous primary answer with the fallback answer.
func reconcile(primary Retrieval, resp, alt *Response, cols []string, rows [][]any) ([]string, [][]any) {
	if primary == RetrievalObjects {
		// The primary answer had no rows; only the header is needed.
		altCols, _, _ := extract(alt, RetrievalRaw)
		if len(altCols) > 0 {
			return altCols, rows
		}
		return cols, rows
	}

	if len(alt.Objects) > 0 {
		altCols := objectColumns(alt.Objects[0])
		return altCols, objectRows(alt.Objects, altCols)
	}

	// No rows match: a lone raw row was the header.
	if resp.HeaderInRows && len(resp.Rows) == 1 {
		if header, ok := headerColumns(resp.Rows[0]); ok {
			return header, [][]any{}
		}
	}
	if len(alt.Columns) > 0 {
		return alt.Columns, [][]any{}
	}
	return nil, [][]any{}
}

func objectColumns(o Object) []string {
	cols := make([]string, len(o))
	for i, f := range o {
		cols[i] = f.Name
	}
	return cols
}

func objectRows(objects []Object, cols []string) [][]any {
	rows := make([][]any, len(objects))
	for i, o := range objects {
		row := make([]any, len(cols))
		for j, c := range cols {
			row[j], _ = o.Get(c)
		}
		rows[i] = row
	}
	return rows
}

// headerColumns reads a row as a column header. It reports false when a cell
// is not a string, which proves the row holds data.
func headerColumns(row []any) ([]string, bool) {
	cols := make([]string, len(row))
	for i, v := range row {
		s, ok := v.(string)
		if !ok {
			return nil, false
		}
		cols[i] = s
	}
	return cols, true
}

func nonNilRows(rows [][]any) [][]any {
	if rows == nil {
		return [][]any{}
	}
	return rows
}
