// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package healthz keeps the process wide registry of readiness checks.
//
// Components register a named check when they start and remove it when they
// stop:
//
//	healthz.Register("emulator", emu.Check)
//	defer healthz.Unregister("emulator")
//
// The endpoint handler runs every check in name order and answers 200 "ok",
// or 503 naming the first check that failed.
package healthz

import (
	"net/http"
	"sort"
	"sync"
)

// HealthCheck returns nil when the component is ready.
type HealthCheck func() error

type HealthChecker interface {
	EndpointHandler() http.HandlerFunc
}

var (
	h    *checker
	once sync.Once
)

type checker struct {
	mu     sync.Mutex
	checks map[string]HealthCheck
}

// NewHealthz returns the process wide checker.
func NewHealthz() HealthChecker {
	return registry()
}

func registry() *checker {
	once.Do(func() {
		h = &checker{checks: map[string]HealthCheck{}}
	})
	return h
}

// Register adds fn under name, replacing any check of the same name.
func Register(name string, fn HealthCheck) {
	c := registry()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = fn
}

// Unregister removes the check called name.
func Unregister(name string) {
	c := registry()
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.checks, name)
}

// Check runs every registered check and returns the name and error of the
// first failure.
func Check() (string, error) {
	c := registry()
	c.mu.Lock()
	names := make([]string, 0, len(c.checks))
	for name := range c.checks {
		names = append(names, name)
	}
	checks := make(map[string]HealthCheck, len(c.checks))
	for name, fn := range c.checks {
		checks[name] = fn
	}
	c.mu.Unlock()

	sort.Strings(names)
	for _, name := range names {
		if err := checks[name](); err != nil {
			return name, err
		}
	}
	return "", nil
}

func (x *checker) EndpointHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if name, err := Check(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(name + " failed: " + err.Error()))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}
