// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package emulator

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/cloudzero/cloudflare-d1/app/storage/core"
	"github.com/cloudzero/cloudflare-d1/app/types"
)

// Database is one emulated D1 database.
type Database struct {
	ID        string    `gorm:"primaryKey;size:36"`
	AccountID string    `gorm:"size:64;not null;uniqueIndex:idx_database_account_name"`
	Name      string    `gorm:"size:255;not null;uniqueIndex:idx_database_account_name"`
	CreatedAt time.Time `gorm:"not null"`
}

// Catalog records which databases exist.
type Catalog struct {
	core.BaseRepoImpl
}

var _ types.Storage[Database, string] = (*Catalog)(nil)

// NewCatalog migrates the catalog table on db.
func NewCatalog(db *gorm.DB) (*Catalog, error) {
	if err := db.AutoMigrate(&Database{}); err != nil {
		return nil, core.TranslateError(err)
	}
	return &Catalog{BaseRepoImpl: core.NewBaseRepoImpl(db, &Database{})}, nil
}

func (c *Catalog) Create(ctx context.Context, it *Database) error {
	return core.TranslateError(c.DB(ctx).Create(it).Error)
}

func (c *Catalog) Get(ctx context.Context, id string) (*Database, error) {
	var d Database
	if err := c.DB(ctx).Where("id = ?", id).Take(&d).Error; err != nil {
		return nil, core.TranslateError(err)
	}
	return &d, nil
}

func (c *Catalog) Update(ctx context.Context, it *Database) error {
	return core.TranslateError(c.DB(ctx).Save(it).Error)
}

// Delete returns types.ErrNotFound when no database has the id.
func (c *Catalog) Delete(ctx context.Context, id string) error {
	res := c.DB(ctx).Where("id = ?", id).Delete(&Database{})
	if res.Error != nil {
		return core.TranslateError(res.Error)
	}
	if res.RowsAffected == 0 {
		return types.ErrNotFound
	}
	return nil
}

// List returns the databases of an account, oldest first.
func (c *Catalog) List(ctx context.Context, accountID string) ([]Database, error) {
	out := []Database{}
	err := c.DB(ctx).
		Where("account_id = ?", accountID).
		Order("created_at, name").
		Find(&out).Error
	if err != nil {
		return nil, core.TranslateError(err)
	}
	return out, nil
}
