// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package result_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudzero/cloudflare-d1/app/domain/result"
	"github.com/cloudzero/cloudflare-d1/app/types"
)

// scriptedSource answers each retrieval mode with a fixed response and
// records the order of calls.
type scriptedSource struct {
	answers map[result.Retrieval]*result.Response
	err     error
	calls   []result.Retrieval
}

func (s *scriptedSource) Retrieve(_ context.Context, mode result.Retrieval) (*result.Response, error) {
	s.calls = append(s.calls, mode)
	if s.err != nil {
		return nil, s.err
	}
	if resp, ok := s.answers[mode]; ok {
		return resp, nil
	}
	return &result.Response{}, nil
}

func obj(kv ...any) result.Object {
	o := result.Object{}
	for i := 0; i < len(kv); i += 2 {
		o = append(o, result.Field{Name: kv[i].(string), Value: kv[i+1]})
	}
	return o
}

var (
	objects = result.RetrievalObjects
	raw     = result.RetrievalRaw
)

func TestUnit_Result_Normalize(t *testing.T) {
	tests := []struct {
		name     string
		primary  result.Retrieval
		query    string
		answers  map[result.Retrieval]*result.Response
		wantCols []string
		wantRows [][]any
		calls    []result.Retrieval
	}{
		{
			name:    "objects with rows",
			primary: objects,
			query:   "SELECT id, name FROM users",
			answers: map[result.Retrieval]*result.Response{
				objects: {Objects: []result.Object{obj("id", int64(1), "name", "a"), obj("id", int64(2), "name", "b")}},
			},
			wantCols: []string{"id", "name"},
			wantRows: [][]any{{int64(1), "a"}, {int64(2), "b"}},
			calls:    []result.Retrieval{objects},
		},
		{
			name:    "objects zero rows falls back to raw header",
			primary: objects,
			query:   "SELECT id, name FROM users WHERE id = ?",
			answers: map[result.Retrieval]*result.Response{
				objects: {},
				raw:     {HeaderInRows: true, Rows: [][]any{{"id", "name"}}},
			},
			wantCols: []string{"id", "name"},
			wantRows: [][]any{},
			calls:    []result.Retrieval{objects, raw},
		},
		{
			name:    "objects zero rows with explicit raw columns",
			primary: objects,
			query:   "select id from users where 0",
			answers: map[result.Retrieval]*result.Response{
				raw: {Columns: []string{"id"}, Rows: [][]any{}},
			},
			wantCols: []string{"id"},
			wantRows: [][]any{},
			calls:    []result.Retrieval{objects, raw},
		},
		{
			name:    "raw header with rows",
			primary: raw,
			query:   "SELECT id, name FROM users",
			answers: map[result.Retrieval]*result.Response{
				raw: {HeaderInRows: true, Rows: [][]any{{"id", "name"}, {int64(1), "a"}, {int64(2), "b"}}},
			},
			wantCols: []string{"id", "name"},
			wantRows: [][]any{{int64(1), "a"}, {int64(2), "b"}},
			calls:    []result.Retrieval{raw},
		},
		{
			name:    "raw single row with dropped header recovers from objects",
			primary: raw,
			query:   "SELECT id, name FROM users WHERE id = 1",
			answers: map[result.Retrieval]*result.Response{
				raw:     {HeaderInRows: true, Rows: [][]any{{int64(1), "a"}}},
				objects: {Objects: []result.Object{obj("id", int64(1), "name", "a")}},
			},
			wantCols: []string{"id", "name"},
			wantRows: [][]any{{int64(1), "a"}},
			calls:    []result.Retrieval{raw, objects},
		},
		{
			name:    "raw single string row with dropped header is not mistaken for a header",
			primary: raw,
			query:   "SELECT name, email FROM users WHERE id = 1",
			answers: map[result.Retrieval]*result.Response{
				raw:     {HeaderInRows: true, Rows: [][]any{{"alice", "a@example.com"}}},
				objects: {Objects: []result.Object{obj("name", "alice", "email", "a@example.com")}},
			},
			wantCols: []string{"name", "email"},
			wantRows: [][]any{{"alice", "a@example.com"}},
			calls:    []result.Retrieval{raw, objects},
		},
		{
			name:    "raw header only means zero rows",
			primary: raw,
			query:   "SELECT name, email FROM users WHERE id = 42",
			answers: map[result.Retrieval]*result.Response{
				raw: {HeaderInRows: true, Rows: [][]any{{"name", "email"}}},
			},
			wantCols: []string{"name", "email"},
			wantRows: [][]any{},
			calls:    []result.Retrieval{raw, objects},
		},
		{
			name:    "explicit raw columns need no fallback",
			primary: raw,
			query:   "SELECT id FROM users WHERE 0",
			answers: map[result.Retrieval]*result.Response{
				raw: {Columns: []string{"id"}},
			},
			wantCols: []string{"id"},
			wantRows: [][]any{},
			calls:    []result.Retrieval{raw},
		},
		{
			name:    "explicit raw rows without header recover from objects",
			primary: raw,
			query:   "PRAGMA table_info(users)",
			answers: map[result.Retrieval]*result.Response{
				raw:     {Rows: [][]any{{int64(0), "id"}}},
				objects: {Objects: []result.Object{obj("cid", int64(0), "name", "id")}},
			},
			wantCols: []string{"cid", "name"},
			wantRows: [][]any{{int64(0), "id"}},
			calls:    []result.Retrieval{raw, objects},
		},
		{
			name:    "writes are never re-executed",
			primary: raw,
			query:   "INSERT INTO users (name) VALUES (?) ON CONFLICT DO NOTHING RETURNING id",
			answers: map[result.Retrieval]*result.Response{
				objects: {},
			},
			wantCols: nil,
			wantRows: [][]any{},
			calls:    []result.Retrieval{objects},
		},
		{
			name:    "writes with returning rows use objects",
			primary: raw,
			query:   "UPDATE users SET name = ? WHERE id = ? RETURNING id, name",
			answers: map[result.Retrieval]*result.Response{
				objects: {Objects: []result.Object{obj("id", int64(3), "name", "c")}},
			},
			wantCols: []string{"id", "name"},
			wantRows: [][]any{{int64(3), "c"}},
			calls:    []result.Retrieval{objects},
		},
		{
			name:    "plain writes use objects",
			primary: raw,
			query:   "INSERT INTO users (name) VALUES (?)",
			answers: map[result.Retrieval]*result.Response{
				objects: {Meta: result.Meta{Changes: 1}},
			},
			wantCols: nil,
			wantRows: [][]any{},
			calls:    []result.Retrieval{objects},
		},
		{
			name:    "statements without results skip the fallback",
			primary: objects,
			query:   "CREATE TABLE users (id INTEGER PRIMARY KEY)",
			answers: map[result.Retrieval]*result.Response{
				objects: {Meta: result.Meta{ChangedDB: true}},
			},
			wantCols: nil,
			wantRows: [][]any{},
			calls:    []result.Retrieval{objects},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &scriptedSource{answers: tt.answers}
			set, err := result.Normalizer{Primary: tt.primary}.Normalize(context.Background(), tt.query, src)
			require.NoError(t, err)
			assert.Equal(t, tt.wantCols, set.Columns)
			if diff := cmp.Diff(tt.wantRows, set.Rows); diff != "" {
				t.Errorf("rows mismatch (-want +got):\n%s", diff)
			}
			assert.Equal(t, tt.calls, src.calls)
		})
	}
}

func TestUnit_Result_Normalize_SingleRowMatchesMultiRow(t *testing.T) {
	// The rows for a predicate matching one row must equal the matching
	// subset of a predicate matching several rows, whatever the shape.
	many := &scriptedSource{answers: map[result.Retrieval]*result.Response{
		raw: {HeaderInRows: true, Rows: [][]any{{"id", "name"}, {int64(1), "a"}, {int64(2), "b"}}},
	}}
	one := &scriptedSource{answers: map[result.Retrieval]*result.Response{
		raw:     {HeaderInRows: true, Rows: [][]any{{int64(1), "a"}}},
		objects: {Objects: []result.Object{obj("id", int64(1), "name", "a")}},
	}}

	n := result.Normalizer{Primary: raw}
	manySet, err := n.Normalize(context.Background(), "SELECT id, name FROM t WHERE id <= 2", many)
	require.NoError(t, err)
	oneSet, err := n.Normalize(context.Background(), "SELECT id, name FROM t WHERE id = 1", one)
	require.NoError(t, err)

	assert.Equal(t, manySet.Columns, oneSet.Columns)
	assert.Equal(t, manySet.Rows[:1], oneSet.Rows)
}

func TestUnit_Result_Normalize_MissingColumnMetadata(t *testing.T) {
	src := &scriptedSource{answers: map[result.Retrieval]*result.Response{}}
	_, err := result.Normalizer{Primary: objects}.Normalize(context.Background(), "SELECT * FROM empty", src)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrMissingColumnMetadata)
	assert.NotErrorIs(t, err, types.ErrOperational)
	assert.Equal(t, []result.Retrieval{objects, raw}, src.calls)
}

func TestUnit_Result_Normalize_SourceError(t *testing.T) {
	boom := types.NewVendorError(400, 0, "no such table: nope")
	src := &scriptedSource{err: boom}
	_, err := result.Normalizer{}.Normalize(context.Background(), "SELECT * FROM nope", src)
	assert.ErrorIs(t, err, types.ErrOperational)
	assert.True(t, errors.Is(err, boom))
	assert.Len(t, src.calls, 1)
}

func TestUnit_Result_Normalize_KeepsMeta(t *testing.T) {
	src := &scriptedSource{answers: map[result.Retrieval]*result.Response{
		objects: {Meta: result.Meta{Changes: 1, LastRowID: 7}},
	}}
	set, err := result.Normalizer{}.Normalize(context.Background(), "INSERT INTO t (x) VALUES (1)", src)
	require.NoError(t, err)
	assert.Equal(t, int64(1), set.Meta.Changes)
	assert.Equal(t, int64(7), set.Meta.LastRowID)
}

func TestUnit_Result_ParseRetrieval(t *testing.T) {
	r, err := result.ParseRetrieval("", raw)
	require.NoError(t, err)
	assert.Equal(t, raw, r)

	r, err = result.ParseRetrieval("objects", raw)
	require.NoError(t, err)
	assert.Equal(t, objects, r)
	assert.Equal(t, raw, r.Other())

	_, err = result.ParseRetrieval("columns", raw)
	assert.Error(t, err)
}

func TestUnit_Result_NormalizeNumber(t *testing.T) {
	assert.Equal(t, int64(42), result.NormalizeNumber(42))
	assert.Equal(t, int64(-1), result.NormalizeNumber(-1))
	assert.Equal(t, 2.5, result.NormalizeNumber(2.5))
	assert.Equal(t, 1e300, result.NormalizeNumber(1e300))
}
