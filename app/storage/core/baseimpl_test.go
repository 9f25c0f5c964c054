// SPDX-FileCopyrightText: Copyright (c) 2016-2024, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package core_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/cloudzero/cloudflare-d1/app/storage/core"
	"github.com/cloudzero/cloudflare-d1/app/types"
)

type note struct {
	ID   uint `gorm:"primaryKey"`
	Body string
}

func newRepo(t *testing.T) core.BaseRepoImpl {
	t.Helper()
	db, err := core.NewDriver(sqlite.Open("file:" + t.Name() + "?mode=memory&cache=shared"))
	require.NoError(t, err, "failed to get the new driver")
	require.NoError(t, db.AutoMigrate(&note{}))
	return core.NewBaseRepoImpl(db, &note{})
}

func TestUnit_Storage_Core_Context(t *testing.T) {
	db := &gorm.DB{}
	ctx := context.Background()

	from, found := core.FromContext(context.Background())
	assert.Nil(t, from)
	assert.False(t, found)

	ctxTx := core.NewContext(ctx, db)
	from, found = core.FromContext(ctxTx)
	assert.Same(t, from, db)
	assert.True(t, found)
}

func TestUnit_Storage_Core_Base(t *testing.T) {
	repo := newRepo(t)

	err := repo.Tx(t.Context(), func(ctxTx context.Context) error {
		return repo.DB(ctxTx).Create(&note{Body: "kept"}).Error
	})
	require.NoError(t, err)

	count, err := repo.Count(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, repo.DeleteAll(t.Context()))
	count, err = repo.Count(t.Context())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestUnit_Storage_Core_TxRollback(t *testing.T) {
	repo := newRepo(t)
	boom := errors.New("boom")

	err := repo.Tx(t.Context(), func(ctxTx context.Context) error {
		require.NoError(t, repo.DB(ctxTx).Create(&note{Body: "dropped"}).Error)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	count, err := repo.Count(t.Context())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestUnit_Storage_Core_TranslateError(t *testing.T) {
	assert.NoError(t, core.TranslateError(nil))
	assert.ErrorIs(t, core.TranslateError(gorm.ErrRecordNotFound), types.ErrNotFound)
	assert.ErrorIs(t, core.TranslateError(gorm.ErrMissingWhereClause), types.ErrMissingWhereClause)

	err := core.TranslateError(errors.Join(gorm.ErrDuplicatedKey, errors.New("UNIQUE constraint failed: note.body")))
	assert.ErrorIs(t, err, types.ErrDuplicateKey)
	assert.Contains(t, err.Error(), "note.body")

	other := errors.New("other")
	assert.Same(t, other, core.TranslateError(other))
}
