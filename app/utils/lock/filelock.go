// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package lock provides an exclusive lock on a directory shared by several
// processes, such as an emulator storage path.
//
// The lock is a file created with O_EXCL that records its owner. While held,
// the owner rewrites the file periodically; a lock file that has not been
// rewritten within the stale timeout belongs to a dead process and is
// removed by the next caller.
//
//	l := lock.New(filepath.Join(dir, ".lock"))
//	if err := l.Acquire(ctx); err != nil {
//		return err
//	}
//	defer l.Release()
package lock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var (
	// ErrHeld is returned when another live process owns the lock.
	ErrHeld = errors.New("lock is held by another process")
	// ErrLost is reported when the lock file changed owner while held.
	ErrLost = errors.New("lock lost")
	// ErrCorrupt is returned for a lock file that cannot be decoded.
	ErrCorrupt = errors.New("corrupt lock file")
)

const (
	DefaultStaleTimeout    = 5 * time.Second
	DefaultRefreshInterval = time.Second
	DefaultRetryInterval   = 500 * time.Millisecond
	DefaultMaxRetry        = 3
)

// Owner is the content of a lock file.
type Owner struct {
	Hostname  string    `json:"hostname"`
	PID       int       `json:"pid"`
	Refreshed time.Time `json:"refreshed"`
}

func (o Owner) String() string {
	return fmt.Sprintf("pid %d on %s", o.PID, o.Hostname)
}

// FileLock is an exclusive lock backed by one file.
type FileLock struct {
	path            string
	staleTimeout    time.Duration
	refreshInterval time.Duration
	retryInterval   time.Duration
	maxRetry        int
	self            Owner

	mu   sync.Mutex
	stop context.CancelFunc
	wg   sync.WaitGroup
	held bool
	// written is the lock file as last written by this lock; only the
	// refresh goroutine touches it while the lock is held.
	written os.FileInfo
	lostMu  sync.Mutex
	lost    error
}

type Option func(*FileLock)

// WithStaleTimeout sets how old a lock file must be before it is taken over.
// It must exceed the refresh interval.
func WithStaleTimeout(d time.Duration) Option {
	return func(l *FileLock) { l.staleTimeout = d }
}

func WithRefreshInterval(d time.Duration) Option {
	return func(l *FileLock) { l.refreshInterval = d }
}

func WithRetryInterval(d time.Duration) Option {
	return func(l *FileLock) { l.retryInterval = d }
}

// WithMaxRetry sets how many more attempts follow the first one. Zero fails
// as soon as a live owner is found.
func WithMaxRetry(n int) Option {
	return func(l *FileLock) { l.maxRetry = n }
}

// New returns an unlocked FileLock for path. The directory must exist.
func New(path string, opts ...Option) *FileLock {
	hostname, _ := os.Hostname()
	l := &FileLock{
		path:            path,
		staleTimeout:    DefaultStaleTimeout,
		refreshInterval: DefaultRefreshInterval,
		retryInterval:   DefaultRetryInterval,
		maxRetry:        DefaultMaxRetry,
		self:            Owner{Hostname: hostname, PID: os.Getpid()},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Path is the lock file location.
func (l *FileLock) Path() string {
	return l.path
}

// Acquire takes the lock, retrying while a live owner holds it. The returned
// error wraps ErrHeld when every attempt found a live owner.
func (l *FileLock) Acquire(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		return nil
	}
	if _, err := os.Stat(filepath.Dir(l.path)); err != nil {
		return fmt.Errorf("lock directory: %w", err)
	}

	for attempt := 0; ; {
		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			err = l.write(f)
			f.Close()
			if err == nil {
				l.written, err = os.Stat(l.path)
			}
			if err != nil {
				os.Remove(l.path)
				return err
			}
			l.start()
			return nil
		}
		if !errors.Is(err, os.ErrExist) {
			return fmt.Errorf("create lock: %w", err)
		}

		owner, err := l.owner()
		switch {
		case errors.Is(err, os.ErrNotExist):
			// released between our create and read
			continue
		case err == nil && time.Since(owner.Refreshed) >= l.staleTimeout:
			if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("remove stale lock: %w", err)
			}
			continue
		case err != nil && !errors.Is(err, ErrCorrupt):
			return fmt.Errorf("read lock: %w", err)
		}

		if attempt >= l.maxRetry {
			if err != nil {
				return err
			}
			return fmt.Errorf("%w: %s", ErrHeld, owner)
		}
		attempt++
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.retryInterval):
		}
	}
}

// Release gives up the lock. Releasing an unheld lock does nothing.
func (l *FileLock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.held {
		return nil
	}
	l.stop()
	l.wg.Wait()
	l.held = false

	if l.Lost() != nil {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

// Lost reports ErrLost once another process has replaced the lock file.
func (l *FileLock) Lost() error {
	l.lostMu.Lock()
	defer l.lostMu.Unlock()
	return l.lost
}

func (l *FileLock) start() {
	ctx, cancel := context.WithCancel(context.Background())
	l.stop = cancel
	l.held = true
	l.lostMu.Lock()
	l.lost = nil
	l.lostMu.Unlock()

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		ticker := time.NewTicker(l.refreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := l.refresh(); err != nil {
					l.lostMu.Lock()
					l.lost = err
					l.lostMu.Unlock()
					return
				}
			}
		}
	}()
}

// refresh rewrites the lock file through a rename so readers never see a
// partial file. Any change to the file since the last write means another
// process took it over.
func (l *FileLock) refresh() error {
	cur, err := os.Stat(l.path)
	if err != nil || !sameWrite(l.written, cur) {
		return ErrLost
	}
	owner, err := l.owner()
	if err != nil || owner.Hostname != l.self.Hostname || owner.PID != l.self.PID {
		return ErrLost
	}

	tmp, err := os.CreateTemp(filepath.Dir(l.path), ".lock-*")
	if err != nil {
		return fmt.Errorf("refresh lock: %w", err)
	}
	defer os.Remove(tmp.Name())
	err = l.write(tmp)
	tmp.Close()
	if err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), l.path); err != nil {
		return fmt.Errorf("refresh lock: %w", err)
	}
	if l.written, err = os.Stat(l.path); err != nil {
		return ErrLost
	}
	return nil
}

func sameWrite(a, b os.FileInfo) bool {
	return a != nil && os.SameFile(a, b) && a.Size() == b.Size() && a.ModTime().Equal(b.ModTime())
}

func (l *FileLock) owner() (Owner, error) {
	var o Owner
	raw, err := os.ReadFile(l.path)
	if err != nil {
		return o, err
	}
	if err := json.Unmarshal(raw, &o); err != nil {
		return o, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return o, nil
}

func (l *FileLock) write(f *os.File) error {
	o := l.self
	o.Refreshed = time.Now()
	raw, err := json.Marshal(o)
	if err != nil {
		return err
	}
	if _, err := f.Write(raw); err != nil {
		return fmt.Errorf("write lock: %w", err)
	}
	return f.Sync()
}
