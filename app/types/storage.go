// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package types holds the interfaces and errors shared across the module.
package types

import (
	"context"
)

// StorageCommon is implemented by every repository built on
// core.BaseRepoImpl.
type StorageCommon interface {
	// Tx runs block with a context carrying a transaction. The transaction
	// commits when block returns nil and rolls back otherwise. Repositories
	// backed by D1 commit each statement as it runs, so a rollback there
	// undoes nothing.
	Tx(ctx context.Context, block func(ctxTx context.Context) error) error

	// Count returns the number of rows of the repository's model.
	Count(ctx context.Context) (int, error)

	// DeleteAll removes every row of the repository's model.
	DeleteAll(ctx context.Context) error
}

// Storage is a CRUD repository for Model keyed by ID.
type Storage[Model any, ID comparable] interface {
	Creator[Model]
	Reader[Model, ID]
	Updater[Model]
	Deleter[ID]
}

type Creator[Model any] interface {
	Create(ctx context.Context, it *Model) error
}

// Reader returns ErrNotFound when no row has the id.
type Reader[Model any, ID comparable] interface {
	Get(ctx context.Context, id ID) (*Model, error)
}

type Updater[Model any] interface {
	Update(ctx context.Context, it *Model) error
}

type Deleter[ID comparable] interface {
	Delete(ctx context.Context, id ID) error
}
