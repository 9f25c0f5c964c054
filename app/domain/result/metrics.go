// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package result

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cloudzero/cloudflare-d1/app/types"
)

var (
	fallbacksTotal *prometheus.CounterVec
	metricsOnce    sync.Once
)

// fallbackCounter returns the fallback counter, registering it on first use.
func fallbackCounter() *prometheus.CounterVec {
	metricsOnce.Do(func() {
		fallbacksTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: types.D1Metric("metadata_fallbacks_total"),
				Help: "Count of statements that needed the alternate result shape to recover column names.",
			},
			[]string{"reason"},
		)
		if err := prometheus.Register(fallbacksTotal); err != nil {
			if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
				fallbacksTotal = are.ExistingCollector.(*prometheus.CounterVec)
			} else {
				panic(err)
			}
		}
	})
	return fallbacksTotal
}
