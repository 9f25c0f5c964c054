// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package emulator runs D1 databases locally on go-sqlite3.
//
// An Emulator keeps a catalog of databases per account and one SQLite handle
// per database. Statements are executed and reported in D1's terms: JSON
// values only, blobs as base64 text, and D1's execution metadata. The REST
// surface lives in app/handlers.
//
// Usage:
//
//	emu, err := emulator.New(emulator.WithStoragePath(dir))
//	db, err := emu.CreateDatabase(ctx, "account", "books")
//	out, err := emu.Execute(ctx, "account", db.ID, "SELECT 1", nil)
package emulator

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/cloudzero/cloudflare-d1/app/domain/healthz"
	"github.com/cloudzero/cloudflare-d1/app/storage/core"
	"github.com/cloudzero/cloudflare-d1/app/storage/sqlite"
	"github.com/cloudzero/cloudflare-d1/app/types"
	"github.com/cloudzero/cloudflare-d1/app/utils/lock"
)

const (
	healthCheckName = "emulator"
	catalogFile     = "catalog.db"
	lockFile        = ".emulator.lock"
)

// ErrClosed is returned after Shutdown.
var ErrClosed = errors.New("emulator is shut down")

// Emulator hosts local D1 databases.
type Emulator struct {
	storagePath         string
	dropSingleRowHeader bool

	catalogDB *gorm.DB
	catalog   *Catalog
	dirLock   *lock.FileLock

	mu      sync.Mutex
	handles map[string]*sqlx.DB
	closed  bool
	running atomic.Bool
}

var _ types.Runnable = (*Emulator)(nil)

type Option func(*Emulator)

// WithStoragePath keeps databases as files under dir. Without it everything
// lives in memory and is lost on Shutdown. The directory is locked for as
// long as the emulator is open.
func WithStoragePath(dir string) Option {
	return func(e *Emulator) {
		e.storagePath = dir
	}
}

// WithDropSingleRowHeader reproduces D1 builds that leave out the column
// names of single-row raw results.
func WithDropSingleRowHeader(drop bool) Option {
	return func(e *Emulator) {
		e.dropSingleRowHeader = drop
	}
}

// New opens the catalog and returns an emulator that is not yet running.
func New(opts ...Option) (*Emulator, error) {
	e := &Emulator{handles: map[string]*sqlx.DB{}}
	for _, opt := range opts {
		opt(e)
	}

	catalogDSN := sqlite.MemoryDSN("catalog-" + uuid.NewString())
	if e.storagePath != "" {
		if err := os.MkdirAll(e.storagePath, 0o750); err != nil {
			return nil, errors.Wrap(err, "create storage path")
		}
		e.dirLock = lock.New(filepath.Join(e.storagePath, lockFile), lock.WithMaxRetry(0))
		if err := e.dirLock.Acquire(context.Background()); err != nil {
			return nil, errors.Wrapf(err, "lock storage path %s", e.storagePath)
		}
		catalogDSN = sqlite.FileDSN(filepath.Join(e.storagePath, catalogFile))
	}

	if err := e.openCatalog(catalogDSN); err != nil {
		if e.dirLock != nil {
			_ = e.dirLock.Release()
		}
		return nil, err
	}
	return e, nil
}

func (e *Emulator) openCatalog(dsn string) error {
	db, err := sqlite.NewSQLiteDriver(dsn)
	if err != nil {
		return errors.Wrap(err, "open catalog")
	}
	sqlDB, err := db.DB()
	if err != nil {
		return errors.Wrap(err, "open catalog")
	}
	// a private in-memory database exists only on its one connection
	sqlDB.SetMaxOpenConns(1)

	if e.catalog, err = NewCatalog(db); err != nil {
		sqlDB.Close()
		return errors.Wrap(err, "migrate catalog")
	}
	e.catalogDB = db
	return nil
}

// DropSingleRowHeader reports whether raw results with one row are sent
// without their column names.
func (e *Emulator) DropSingleRowHeader() bool {
	return e.dropSingleRowHeader
}

// Run marks the emulator as serving and registers its readiness check.
func (e *Emulator) Run() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	healthz.Register(healthCheckName, e.Check)
	e.running.Store(true)
	return nil
}

func (e *Emulator) IsRunning() bool {
	return e.running.Load()
}

// Shutdown closes every database and the catalog.
func (e *Emulator) Shutdown() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.running.Store(false)
	healthz.Unregister(healthCheckName)

	// keep closing after a failure, report the first one
	var firstErr error
	for id, h := range e.handles {
		if err := h.Close(); err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "close database %s", id)
		}
		delete(e.handles, id)
		databasesGauge.Dec()
	}
	if sqlDB, err := e.catalogDB.DB(); err == nil {
		if err := sqlDB.Close(); err != nil && firstErr == nil {
			firstErr = errors.Wrap(err, "close catalog")
		}
	}
	if e.dirLock != nil {
		if err := e.dirLock.Release(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Check pings the catalog and confirms the storage path is still ours.
func (e *Emulator) Check() error {
	if e.dirLock != nil {
		if err := e.dirLock.Lost(); err != nil {
			return errors.Wrapf(err, "storage path %s", e.storagePath)
		}
	}
	sqlDB, err := e.catalogDB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// CreateDatabase adds an empty database to the account.
func (e *Emulator) CreateDatabase(ctx context.Context, accountID, name string) (*Database, error) {
	if name == "" {
		return nil, errors.Wrap(types.ErrInvalidData, "database name is required")
	}
	d := &Database{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Name:      name,
		CreatedAt: core.DatabaseNow(),
	}
	// the catalog entry is rolled back when the database cannot be opened
	err := e.catalog.Tx(ctx, func(ctxTx context.Context) error {
		if err := e.catalog.Create(ctxTx, d); err != nil {
			return errors.Wrapf(err, "create database %s", name)
		}
		_, err := e.handle(d)
		return err
	})
	if err != nil {
		return nil, err
	}
	log.Ctx(ctx).Info().Str("account", accountID).Str("database", d.ID).Str("name", name).Msg("database created")
	return d, nil
}

// Databases lists the databases of an account.
func (e *Emulator) Databases(ctx context.Context, accountID string) ([]Database, error) {
	return e.catalog.List(ctx, accountID)
}

// Database returns one database of the account, or types.ErrNotFound.
func (e *Emulator) Database(ctx context.Context, accountID, id string) (*Database, error) {
	d, err := e.catalog.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.AccountID != accountID {
		return nil, types.ErrNotFound
	}
	return d, nil
}

// DeleteDatabase drops a database and its file.
func (e *Emulator) DeleteDatabase(ctx context.Context, accountID, id string) error {
	err := e.catalog.Tx(ctx, func(ctxTx context.Context) error {
		if _, err := e.Database(ctxTx, accountID, id); err != nil {
			return err
		}
		return e.catalog.Delete(ctxTx, id)
	})
	if err != nil {
		return err
	}

	e.mu.Lock()
	h, ok := e.handles[id]
	delete(e.handles, id)
	e.mu.Unlock()
	if ok {
		databasesGauge.Dec()
		if err := h.Close(); err != nil {
			return errors.Wrapf(err, "close database %s", id)
		}
	}
	if e.storagePath != "" {
		if err := os.Remove(e.databasePath(id)); err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, "remove database %s", id)
		}
	}
	log.Ctx(ctx).Info().Str("account", accountID).Str("database", id).Msg("database deleted")
	return nil
}

// Execute runs one statement on a database. SQL failures come back as
// returned by SQLite; a missing database is types.ErrNotFound.
func (e *Emulator) Execute(ctx context.Context, accountID, id, query string, params []any) (*sqlite.Outcome, error) {
	d, err := e.Database(ctx, accountID, id)
	if err != nil {
		return nil, err
	}
	h, err := e.handle(d)
	if err != nil {
		return nil, err
	}
	out, err := sqlite.Execute(ctx, h, query, params)
	if err != nil {
		statementsTotal.WithLabelValues("error").Inc()
		log.Ctx(ctx).Debug().Err(err).Str("database", id).Str("sql", query).Msg("statement failed")
		return nil, err
	}
	statementsTotal.WithLabelValues("success").Inc()
	rowsReturned.Add(float64(len(out.Rows)))
	return out, nil
}

// Stats describes the contents of one database.
type Stats struct {
	NumTables int64 `db:"num_tables"`
	FileSize  int64 `db:"file_size"`
}

// Stats counts the user tables of a database and reports its size in bytes.
func (e *Emulator) Stats(ctx context.Context, accountID, id string) (*Stats, error) {
	d, err := e.Database(ctx, accountID, id)
	if err != nil {
		return nil, err
	}
	h, err := e.handle(d)
	if err != nil {
		return nil, err
	}
	var st Stats
	err = h.GetContext(ctx, &st, `SELECT
		(SELECT COUNT(*) FROM sqlite_master WHERE type = 'table'
			AND name NOT LIKE 'sqlite\_%' ESCAPE '\' AND name NOT LIKE '\_cf\_%' ESCAPE '\') AS num_tables,
		(SELECT page_count * page_size FROM pragma_page_count(), pragma_page_size()) AS file_size`)
	if err != nil {
		return nil, errors.Wrapf(err, "stats of database %s", id)
	}
	return &st, nil
}

func (e *Emulator) handle(d *Database) (*sqlx.DB, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}
	if h, ok := e.handles[d.ID]; ok {
		return h, nil
	}

	dsn := sqlite.MemoryDSN(d.ID)
	if e.storagePath != "" {
		dsn = sqlite.FileDSN(e.databasePath(d.ID))
	}
	h, err := sqlite.OpenDatabase(dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "open database %s", d.ID)
	}
	e.handles[d.ID] = h
	databasesGauge.Inc()
	return h, nil
}

func (e *Emulator) databasePath(id string) string {
	return filepath.Join(e.storagePath, id+".sqlite")
}
