// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package parallel runs tasks with bounded concurrency.
//
// A Manager caps how many tasks run at once; a Waiter tracks one batch of
// tasks and keeps their errors in submission order. One Manager may serve
// several Waiters.
//
//	pm := parallel.New(4)
//	defer pm.Close()
//	w := parallel.NewWaiter()
//	for _, name := range tables {
//		pm.Run(func() error { return describe(name) }, w)
//	}
//	if err := w.Wait(); err != nil {
//		return err
//	}
package parallel

import (
	"runtime"
	"sync"
)

const minNumWorkers = 2

// Task is one unit of work.
type Task func() error

// Manager limits how many tasks run concurrently.
type Manager struct {
	wg        sync.WaitGroup
	semaphore chan struct{}
}

// New returns a Manager running up to workers tasks at once. A negative
// count is a multiple of the CPU count; anything below two becomes two.
func New(workers int) *Manager {
	if workers < 0 {
		workers = runtime.NumCPU() * -workers
	}
	if workers < minNumWorkers {
		workers = minNumWorkers
	}
	return &Manager{semaphore: make(chan struct{}, workers)}
}

// Run starts fn once a slot is free, blocking until then. Its error is
// recorded on waiter.
func (p *Manager) Run(fn Task, waiter *Waiter) {
	slot := waiter.reserve()
	p.semaphore <- struct{}{}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() { <-p.semaphore }()
		waiter.done(slot, fn())
	}()
}

// Close waits for every task started through the Manager.
func (p *Manager) Close() {
	p.wg.Wait()
}

// Waiter collects the outcome of one batch of tasks.
type Waiter struct {
	wg   sync.WaitGroup
	mu   sync.Mutex
	errs []error
}

func NewWaiter() *Waiter {
	return &Waiter{}
}

func (w *Waiter) reserve() int {
	w.wg.Add(1)
	w.mu.Lock()
	defer w.mu.Unlock()
	w.errs = append(w.errs, nil)
	return len(w.errs) - 1
}

func (w *Waiter) done(slot int, err error) {
	w.mu.Lock()
	w.errs[slot] = err
	w.mu.Unlock()
	w.wg.Done()
}

// Wait blocks until every task of the batch finished and returns the error
// of the earliest submitted task that failed.
func (w *Waiter) Wait() error {
	w.wg.Wait()
	for _, err := range w.Errors() {
		if err != nil {
			return err
		}
	}
	return nil
}

// Errors returns one entry per submitted task, nil for those that
// succeeded.
func (w *Waiter) Errors() []error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]error(nil), w.errs...)
}
