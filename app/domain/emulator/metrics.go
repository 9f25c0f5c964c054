// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package emulator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/cloudzero/cloudflare-d1/app/types"
)

var (
	statementsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: types.EmulatorMetric("statements_total"),
			Help: "Count of statements executed by the emulator, by outcome.",
		},
		[]string{"outcome"},
	)

	rowsReturned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: types.EmulatorMetric("rows_returned_total"),
			Help: "Count of rows returned by emulated statements.",
		},
	)

	databasesGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: types.EmulatorMetric("open_databases"),
			Help: "Number of databases with an open SQLite handle.",
		},
	)
)
