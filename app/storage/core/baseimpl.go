// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"context"

	"gorm.io/gorm"
)

// RawBaseRepoImpl gives a repository a context-aware *gorm.DB. When the
// context carries a transaction started by Tx, DB returns it instead.
//
// Usage:
//
//	type CatalogRepo struct {
//	    core.RawBaseRepoImpl
//	}
//
//	func (r *CatalogRepo) Names(ctx context.Context) ([]string, error) {
//	    var names []string
//	    err := r.DB(ctx).Raw("SELECT name FROM database").Scan(&names).Error
//	    return names, core.TranslateError(err)
//	}
type RawBaseRepoImpl struct {
	db *gorm.DB
}

func NewRawBaseRepoImpl(db *gorm.DB) RawBaseRepoImpl {
	return RawBaseRepoImpl{
		db: db,
	}
}

// DB returns the transaction in ctx, or the repository's database, bound
// to ctx.
func (b *RawBaseRepoImpl) DB(ctx context.Context) *gorm.DB {
	if tx, found := FromContext(ctx); found {
		return tx.WithContext(ctx)
	}

	return b.db.WithContext(ctx)
}

// Tx runs block in a transaction. Repository calls made with the context
// passed to block join it. The transaction commits when block returns nil.
//
// On a D1 database transactions are no-ops and every statement commits as it
// runs; Tx still scopes the calls but cannot roll them back.
func (b *RawBaseRepoImpl) Tx(ctx context.Context, block func(ctxTx context.Context) error) error {
	db := b.DB(ctx)
	err := db.Transaction(func(tx *gorm.DB) error {
		ctxTx := NewContext(ctx, tx)
		return block(ctxTx)
	})
	return err
}

// BaseRepoImpl adds table-wide operations for repositories built around one
// model.
type BaseRepoImpl struct {
	RawBaseRepoImpl
	model interface{}
}

func NewBaseRepoImpl(db *gorm.DB, model interface{}) BaseRepoImpl {
	return BaseRepoImpl{
		RawBaseRepoImpl: NewRawBaseRepoImpl(db),
		model:           model,
	}
}

// Count returns the number of rows in the model's table.
func (b *BaseRepoImpl) Count(ctx context.Context) (int, error) {
	var count int64
	err := b.DB(ctx).Model(b.model).Count(&count).Error
	return int(count), TranslateError(err)
}

// DeleteAll removes every row from the model's table.
func (b *BaseRepoImpl) DeleteAll(ctx context.Context) error {
	return TranslateError(b.DB(ctx).Where("1 = 1").Delete(b.model).Error)
}

type key int

var dbKey key

// NewContext returns a copy of ctx carrying db as the current transaction.
func NewContext(ctx context.Context, db *gorm.DB) context.Context {
	return context.WithValue(ctx, dbKey, db)
}

// FromContext returns the transaction stored by NewContext, if any.
func FromContext(ctx context.Context) (*gorm.DB, bool) {
	db, ok := ctx.Value(dbKey).(*gorm.DB)
	return db, ok
}
