// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package driver

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cloudzero/cloudflare-d1/app/types"
)

const (
	outcomeSuccess     = "success"
	outcomeOperational = "operational_error"
	outcomeMetadata    = "missing_metadata"
	outcomeOther       = "error"
)

var (
	queriesTotal  *prometheus.CounterVec
	queryDuration *prometheus.HistogramVec
	metricsOnce   sync.Once
)

func registerMetrics() {
	metricsOnce.Do(func() {
		queriesTotal = register(prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: types.D1Metric("queries_total"),
				Help: "Count of statements executed against D1 by transport and outcome.",
			},
			[]string{"transport", "outcome"},
		)).(*prometheus.CounterVec)

		queryDuration = register(prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    types.D1Metric("query_duration_seconds"),
				Help:    "Time taken to execute and normalize one statement, including any metadata fallback.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"transport"},
		)).(*prometheus.HistogramVec)
	})
}

func register(c prometheus.Collector) prometheus.Collector {
	if err := prometheus.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector
		}
		panic(err)
	}
	return c
}

func observeQuery(transport string, err error, elapsed time.Duration) {
	registerMetrics()
	queriesTotal.WithLabelValues(transport, outcomeOf(err)).Inc()
	queryDuration.WithLabelValues(transport).Observe(elapsed.Seconds())
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return outcomeSuccess
	case errors.Is(err, types.ErrOperational):
		return outcomeOperational
	case errors.Is(err, types.ErrMissingColumnMetadata):
		return outcomeMetadata
	}
	return outcomeOther
}
