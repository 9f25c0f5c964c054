// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package middleware holds the HTTP middleware shared by the emulator
// server.
package middleware

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

var (
	httpRequestDuration *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec
	metricsOnce         sync.Once
)

func httpMetrics() (*prometheus.HistogramVec, *prometheus.CounterVec) {
	metricsOnce.Do(func() {
		httpRequestDuration = register(prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "http_request_duration_seconds",
				Help: "Duration of HTTP requests in seconds.",
			},
			[]string{"code", "method"},
		))
		httpRequestsTotal = register(prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Count of all HTTP requests processed, labeled by method and status code.",
			},
			[]string{"code", "method"},
		))
	})
	return httpRequestDuration, httpRequestsTotal
}

// register adds c to the default registry, reusing an identical collector
// that is already registered.
func register[C prometheus.Collector](c C) C {
	if err := prometheus.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// PromHTTPMiddleware instruments HTTP requests with Prometheus metrics.
func PromHTTPMiddleware(next http.Handler) http.Handler {
	duration, counter := httpMetrics()
	return promhttp.InstrumentHandlerDuration(
		duration,
		promhttp.InstrumentHandlerCounter(counter, next),
	)
}

// WithLogger makes logger the request context logger, so handlers can log
// through log.Ctx.
func WithLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(logger.WithContext(r.Context())))
		})
	}
}

// LoggingMiddlewareWrapper logs one line per request. Probe and scrape
// endpoints log at trace level and server errors at warn.
func LoggingMiddlewareWrapper(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(recorder, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}

		level := zerolog.DebugLevel
		switch {
		case route == "/healthz" || route == "/readyz" || route == "/metrics":
			level = zerolog.TraceLevel
		case recorder.status >= http.StatusInternalServerError:
			level = zerolog.WarnLevel
		}

		log.Ctx(r.Context()).WithLevel(level).
			Str("method", r.Method).
			Str("route", route).
			Int("statusCode", recorder.status).
			Str("status", http.StatusText(recorder.status)).
			Dur("duration", time.Since(startTime)).
			Str("client", r.RemoteAddr).
			Msg("HTTP request")
	})
}
