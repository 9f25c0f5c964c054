// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package binding_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/cloudzero/cloudflare-d1/app/domain/binding"
	"github.com/cloudzero/cloudflare-d1/app/domain/binding/mocks"
	"github.com/cloudzero/cloudflare-d1/app/domain/result"
	"github.com/cloudzero/cloudflare-d1/app/types"
)

func TestUnit_Binding_SourceAll(t *testing.T) {
	ctrl := gomock.NewController(t)
	db := mocks.NewMockBinding(ctrl)
	stmt := mocks.NewMockStatement(ctrl)
	bound := mocks.NewMockStatement(ctrl)

	db.EXPECT().Prepare("SELECT * FROM t WHERE id = ?").Return(stmt, nil)
	stmt.EXPECT().Bind(int64(7)).Return(bound)
	bound.EXPECT().All(gomock.Any()).Return(&binding.AllResult{
		Results: []result.Object{{{Name: "id", Value: int64(7)}}},
		Meta:    result.Meta{RowsRead: 1},
	}, nil)

	src := binding.NewSource(db, "SELECT * FROM t WHERE id = ?", []any{int64(7)})
	resp, err := src.Retrieve(context.Background(), result.RetrievalObjects)
	require.NoError(t, err)
	assert.Len(t, resp.Objects, 1)
	assert.Equal(t, int64(1), resp.Meta.RowsRead)
}

func TestUnit_Binding_SourceRaw(t *testing.T) {
	ctrl := gomock.NewController(t)
	db := mocks.NewMockBinding(ctrl)
	stmt := mocks.NewMockStatement(ctrl)

	// no arguments: Bind is not called
	db.EXPECT().Prepare("SELECT 1 AS one").Return(stmt, nil)
	stmt.EXPECT().Raw(gomock.Any(), true).Return([][]any{{"one"}, {int64(1)}}, nil)

	resp, err := binding.NewSource(db, "SELECT 1 AS one", nil).Retrieve(context.Background(), result.RetrievalRaw)
	require.NoError(t, err)
	assert.True(t, resp.HeaderInRows)
	assert.Equal(t, [][]any{{"one"}, {int64(1)}}, resp.Rows)
}

func TestUnit_Binding_SourceErrorsAreOperational(t *testing.T) {
	ctrl := gomock.NewController(t)
	db := mocks.NewMockBinding(ctrl)
	stmt := mocks.NewMockStatement(ctrl)

	vendor := errors.New("D1_ERROR: no such table: missing: SQLITE_ERROR")
	db.EXPECT().Prepare(gomock.Any()).Return(stmt, nil)
	stmt.EXPECT().All(gomock.Any()).Return(nil, vendor)

	_, err := binding.NewSource(db, "SELECT * FROM missing", nil).Retrieve(context.Background(), result.RetrievalObjects)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrOperational)
	assert.ErrorIs(t, err, vendor)
	assert.Contains(t, err.Error(), "no such table: missing")

	db.EXPECT().Prepare(gomock.Any()).Return(nil, vendor)
	_, err = binding.NewSource(db, "SELEC", nil).Retrieve(context.Background(), result.RetrievalRaw)
	assert.ErrorIs(t, err, types.ErrOperational)
}

func TestUnit_Binding_SourceThroughNormalizer(t *testing.T) {
	ctrl := gomock.NewController(t)
	db := mocks.NewMockBinding(ctrl)
	stmt := mocks.NewMockStatement(ctrl)

	// raw drops the header for a single row, so objects are fetched once
	db.EXPECT().Prepare(gomock.Any()).Return(stmt, nil).Times(2)
	stmt.EXPECT().Raw(gomock.Any(), true).Return([][]any{{int64(42), "x"}}, nil)
	stmt.EXPECT().All(gomock.Any()).Return(&binding.AllResult{
		Results: []result.Object{{{Name: "id", Value: int64(42)}, {Name: "name", Value: "x"}}},
	}, nil)

	set, err := result.Normalizer{Primary: result.RetrievalRaw}.Normalize(
		context.Background(), "SELECT id, name FROM t", binding.NewSource(db, "SELECT id, name FROM t", nil))
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name"}, set.Columns)
	assert.Equal(t, [][]any{{int64(42), "x"}}, set.Rows)
}

func TestUnit_Binding_Registry(t *testing.T) {
	ctrl := gomock.NewController(t)
	reg := binding.NewRegistry()
	db := mocks.NewMockBinding(ctrl)

	require.NoError(t, reg.Register("DB", db))
	assert.ErrorIs(t, reg.Register("DB", db), types.ErrAlreadyRegistered)
	assert.ErrorIs(t, reg.Register("", db), types.ErrInterface)

	got, err := reg.Lookup("DB")
	require.NoError(t, err)
	assert.Same(t, db, got)
	assert.Equal(t, []string{"DB"}, reg.Names())

	reg.Unregister("DB")
	_, err = reg.Lookup("DB")
	assert.ErrorIs(t, err, types.ErrNotSupported)
}

func TestUnit_Binding_FromGlobalOutsideJS(t *testing.T) {
	_, err := binding.FromGlobal("DB")
	assert.ErrorIs(t, err, types.ErrNotSupported)
}
