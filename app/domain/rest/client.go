// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package rest talks to the Cloudflare D1 REST API. Each statement is one
// POST to the database's /query endpoint (named-field objects) or /raw
// endpoint (column header plus row arrays). Nothing is retried; failures
// surface as types.ErrOperational immediately.
package rest

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/cloudzero/cloudflare-d1/app/build"
	config "github.com/cloudzero/cloudflare-d1/app/config/d1"
	"github.com/cloudzero/cloudflare-d1/app/domain/result"
	"github.com/cloudzero/cloudflare-d1/app/types"
)

const (
	opQuery = "query"
	opRaw   = "raw"

	// maxResponseBytes bounds the size of a decoded response body.
	maxResponseBytes = 64 << 20
	// maxErrorBodyBytes bounds how much of an unparseable error body is kept.
	maxErrorBodyBytes = 4096
)

// HTTPClient is the subset of *http.Client used by Client.
type HTTPClient interface {
	// Do processes the request
	Do(req *http.Request) (*http.Response, error)
}

// Client executes statements against one D1 database.
type Client struct {
	baseURL   string
	token     string
	http      HTTPClient
	userAgent string
}

type Option func(*Client)

// WithHTTPClient replaces the default *http.Client.
func WithHTTPClient(c HTTPClient) Option {
	return func(cl *Client) {
		cl.http = c
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(cl *Client) {
		cl.userAgent = ua
	}
}

// NewClient builds a client for the database named by dsn.
func NewClient(dsn *config.DSN, opts ...Option) (*Client, error) {
	if dsn == nil {
		return nil, errors.Wrap(types.ErrInterface, "nil connection string")
	}
	if err := dsn.Validate(); err != nil {
		return nil, err
	}

	timeout := dsn.Timeout
	if timeout <= 0 {
		timeout = config.DefaultTimeout
	}

	c := &Client{
		baseURL:   dsn.BaseURL(),
		token:     dsn.APIToken,
		http:      &http.Client{Timeout: timeout},
		userAgent: "cloudflare-d1-go/" + build.Version(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Query executes the statement and returns rows as named-field objects.
func (c *Client) Query(ctx context.Context, query string, params []any) (*result.Response, error) {
	return c.do(ctx, opQuery, query, params)
}

// Raw executes the statement and returns a column header plus row arrays.
func (c *Client) Raw(ctx context.Context, query string, params []any) (*result.Response, error) {
	return c.do(ctx, opRaw, query, params)
}

// Statement binds a query and its parameters into a result.Source.
func (c *Client) Statement(query string, params []any) result.Source {
	return &statement{client: c, query: query, params: params}
}

// Close releases idle connections held by the default HTTP client.
func (c *Client) Close() {
	if hc, ok := c.http.(*http.Client); ok {
		hc.CloseIdleConnections()
	}
}

func (c *Client) do(ctx context.Context, op, query string, params []any) (*result.Response, error) {
	body, err := encodeRequest(query, params)
	if err != nil {
		return nil, types.NewOperationalError("encode request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+op, bytes.NewReader(body))
	if err != nil {
		return nil, types.NewOperationalError("create request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Encoding", "br")
	req.Header.Set("User-Agent", c.userAgent)

	logger := zerolog.Ctx(ctx)
	start := time.Now()

	resp, err := c.http.Do(req)
	if err != nil {
		logger.Debug().Err(err).Str("op", op).Msg("D1 request failed")
		return nil, types.NewOperationalError("HTTP request failed", err)
	}
	defer resp.Body.Close()

	var rd io.Reader = resp.Body
	if strings.EqualFold(resp.Header.Get("Content-Encoding"), "br") {
		rd = brotli.NewReader(resp.Body)
	}
	raw, err := io.ReadAll(io.LimitReader(rd, maxResponseBytes))
	if err != nil {
		return nil, types.NewOperationalError("read response", err)
	}

	logger.Debug().
		Str("op", op).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Int("bytes", len(raw)).
		Msg("D1 request")

	env, decodeErr := decodeEnvelope(raw)

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		code, msg := 0, ""
		if decodeErr == nil {
			code, msg = env.firstError()
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
			if len(raw) > 0 && decodeErr != nil {
				msg = string(truncate(raw, maxErrorBodyBytes))
			}
		}
		return nil, types.NewVendorError(resp.StatusCode, code, msg)
	}

	if decodeErr != nil {
		return nil, types.NewOperationalError("decode response", decodeErr)
	}
	if !env.success {
		code, msg := env.firstError()
		if msg == "" {
			msg = "D1 API request failed"
		}
		return nil, types.NewVendorError(0, code, msg)
	}
	if code, msg, failed := env.statementError(); failed {
		return nil, types.NewVendorError(0, code, msg)
	}

	return env.response(op == opRaw), nil
}

func truncate(b []byte, n int) []byte {
	if len(b) > n {
		return b[:n]
	}
	return b
}

type statement struct {
	client *Client
	query  string
	params []any
}

func (s *statement) Retrieve(ctx context.Context, mode result.Retrieval) (*result.Response, error) {
	if mode == result.RetrievalRaw {
		return s.client.Raw(ctx, s.query, s.params)
	}
	return s.client.Query(ctx, s.query, s.params)
}

// RetrieveAsync issues the request on its own goroutine.
func (s *statement) RetrieveAsync(ctx context.Context, mode result.Retrieval) <-chan result.Outcome {
	ch := make(chan result.Outcome, 1)
	go func() {
		resp, err := s.Retrieve(ctx, mode)
		ch <- result.Outcome{Response: resp, Err: err}
	}()
	return ch
}
