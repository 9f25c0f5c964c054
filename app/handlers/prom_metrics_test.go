// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package handlers_test

import (
	"errors"
	"io"
	"net/http"
	"testing"

	"github.com/go-obvious/server/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudzero/cloudflare-d1/app/domain/healthz"
	"github.com/cloudzero/cloudflare-d1/app/handlers"
)

// createRequest builds a client request; InvokeService sends it as is, so
// RequestURI must stay empty.
func createRequest(t *testing.T, method, path string, body io.Reader) *http.Request {
	t.Helper()
	req, err := http.NewRequest(method, path, body)
	require.NoError(t, err)
	return req
}

func TestUnit_Handlers_PromMetrics(t *testing.T) {
	promMetrics := handlers.NewPromMetricsAPI("/")

	tests := []struct {
		name               string
		path               string
		expectedStatusCode int
	}{
		{
			name:               "QueryIndex",
			path:               "/",
			expectedStatusCode: 200,
		},
		{
			name:               "QueryErr",
			path:               "/does/not/exist",
			expectedStatusCode: 404,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := createRequest(t, http.MethodGet, tc.path, nil)
			resp, err := test.InvokeService(promMetrics.Service, tc.path, *req)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tc.expectedStatusCode, resp.StatusCode)
		})
	}
}

func TestUnit_Handlers_Readyz(t *testing.T) {
	readyz := handlers.NewReadyzAPI("/")

	invoke := func() int {
		req := createRequest(t, http.MethodGet, "/", nil)
		resp, err := test.InvokeService(readyz.Service, "/", *req)
		require.NoError(t, err)
		defer resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusOK, invoke())

	healthz.Register("handlers-test", func() error { return errors.New("down") })
	defer healthz.Unregister("handlers-test")
	assert.Equal(t, http.StatusServiceUnavailable, invoke())
}
