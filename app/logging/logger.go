// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package logging builds the zerolog loggers used by the d1ctl command and
// the emulator. The driver packages never construct loggers; they log
// through zerolog.Ctx so the caller decides where output goes.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/cloudzero/cloudflare-d1/app/build"
)

// SensitiveFields are removed from log entries written to the default sink.
var SensitiveFields = []string{"api_token", "apiToken", "authorization", "Authorization", "token"}

type options struct {
	level string
	sinks []io.Writer
	attrs []func(zerolog.Context) zerolog.Context
}

type Option func(*options)

// WithLevel sets the minimum level by name, such as "debug" or "info".
func WithLevel(level string) Option {
	return func(o *options) {
		o.level = level
	}
}

// WithSink adds a destination. When no sink is given, entries go to stdout
// with SensitiveFields removed.
func WithSink(w io.Writer) Option {
	return func(o *options) {
		o.sinks = append(o.sinks, w)
	}
}

// WithAttrs adds fields to every entry.
func WithAttrs(fn func(zerolog.Context) zerolog.Context) Option {
	return func(o *options) {
		o.attrs = append(o.attrs, fn)
	}
}

// NewLogger creates a JSON logger with timestamps and the build version.
func NewLogger(opts ...Option) (*zerolog.Logger, error) {
	o := &options{level: "info"}
	for _, opt := range opts {
		opt(o)
	}

	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(o.level)))
	if err != nil {
		return nil, errors.Wrapf(err, "invalid log level %q", o.level)
	}
	if level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var w io.Writer
	switch len(o.sinks) {
	case 0:
		w = NewFieldFilterWriter(os.Stdout, SensitiveFields)
	case 1:
		w = o.sinks[0]
	default:
		w = zerolog.MultiLevelWriter(o.sinks...)
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano
	ctx := zerolog.New(w).Level(level).With().Timestamp().Str("version", build.Version())
	for _, fn := range o.attrs {
		ctx = fn(ctx)
	}

	logger := ctx.Logger()
	return &logger, nil
}
