// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-obvious/server"
	"github.com/go-obvious/server/api"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PromMetricsAPI exposes the default Prometheus registry, which carries the
// driver, normalizer and HTTP metrics.
type PromMetricsAPI struct {
	api.Service
}

func NewPromMetricsAPI(base string) *PromMetricsAPI {
	a := &PromMetricsAPI{
		Service: api.Service{
			APIName: "metrics",
			Mounts:  map[string]*chi.Mux{},
		},
	}
	a.Service.Mounts[base] = a.Routes()
	return a
}

func (a *PromMetricsAPI) Register(app server.Server) error {
	return a.Service.Register(app)
}

func (a *PromMetricsAPI) Routes() *chi.Mux {
	r := chi.NewRouter()
	r.Get("/", promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}).ServeHTTP)
	return r
}
