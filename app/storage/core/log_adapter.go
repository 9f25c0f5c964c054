// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SlowQueryThreshold is the elapsed time above which a statement is logged
// at warn level.
const SlowQueryThreshold = 500 * time.Millisecond

// ZeroLogAdapter sends gorm's log output to the zerolog logger carried by
// the statement context. Every traced statement produces exactly one entry
// with the rendered SQL in the "sql" field.
type ZeroLogAdapter struct{}

var _ logger.Interface = ZeroLogAdapter{}

// LogMode is a no-op: the level is taken from the context logger.
func (l ZeroLogAdapter) LogMode(logger.LogLevel) logger.Interface {
	return l
}

func (l ZeroLogAdapter) Info(ctx context.Context, msg string, args ...interface{}) {
	zerolog.Ctx(ctx).Info().Msgf(msg, args...)
}

func (l ZeroLogAdapter) Warn(ctx context.Context, msg string, args ...interface{}) {
	zerolog.Ctx(ctx).Warn().Msgf(msg, args...)
}

func (l ZeroLogAdapter) Error(ctx context.Context, msg string, args ...interface{}) {
	zerolog.Ctx(ctx).Error().Msgf(msg, args...)
}

func (l ZeroLogAdapter) Trace(ctx context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	zl := zerolog.Ctx(ctx)
	elapsed := time.Since(begin)

	var event *zerolog.Event
	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
		event = zl.Error().Err(err)
	case elapsed > SlowQueryThreshold:
		event = zl.Warn().Bool("slow", true)
	default:
		event = zl.Debug()
	}
	if !event.Enabled() {
		return
	}

	sql, rows := fc()
	event.
		Str("sql", sql).
		Int64("rows", rows).
		Dur("elapsed", elapsed).
		Msg("gorm statement")
}
