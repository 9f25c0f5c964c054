// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package driver

import (
	"context"
	"database/sql/driver"
	"time"

	"github.com/rs/zerolog"

	config "github.com/cloudzero/cloudflare-d1/app/config/d1"
	"github.com/cloudzero/cloudflare-d1/app/domain/binding"
	"github.com/cloudzero/cloudflare-d1/app/domain/rest"
	"github.com/cloudzero/cloudflare-d1/app/domain/result"
	"github.com/cloudzero/cloudflare-d1/app/types"
)

// transport turns a statement into a result.Source.
type transport interface {
	statement(query string, args []any) result.Source
	name() string
	close()
}

type restTransport struct {
	client *rest.Client
}

func (t *restTransport) statement(query string, args []any) result.Source {
	return t.client.Statement(query, args)
}

func (t *restTransport) name() string { return config.TransportREST.String() }
func (t *restTransport) close()       { t.client.Close() }

type bindingTransport struct {
	binding binding.Binding
}

func (t *bindingTransport) statement(query string, args []any) result.Source {
	return binding.NewSource(t.binding, query, args)
}

func (t *bindingTransport) name() string { return config.TransportBinding.String() }
func (t *bindingTransport) close()       {}

type settings struct {
	retrieval   *result.Retrieval
	async       bool
	parseTime   bool
	restOptions []rest.Option
}

// Option configures a Connector.
type Option func(*settings)

// WithRetrieval sets the primary result shape requested for read-only
// statements.
func WithRetrieval(r result.Retrieval) Option {
	return func(s *settings) {
		s.retrieval = &r
	}
}

// WithAsync runs every transport call on its own goroutine, so a call is
// abandoned as soon as its context ends.
func WithAsync(async bool) Option {
	return func(s *settings) {
		s.async = async
	}
}

// WithParseTime converts text values in result.TimeFormat, the layout
// times are sent in, into time.Time when rows are read.
func WithParseTime(parse bool) Option {
	return func(s *settings) {
		s.parseTime = parse
	}
}

// WithRESTOptions passes options to the REST client.
func WithRESTOptions(opts ...rest.Option) Option {
	return func(s *settings) {
		s.restOptions = append(s.restOptions, opts...)
	}
}

// dsnOptions carries the connection string settings shared by both
// transports.
func dsnOptions(dsn *config.DSN) []Option {
	opts := []Option{WithAsync(dsn.Async)}
	if dsn.ParseTime != nil {
		opts = append(opts, WithParseTime(*dsn.ParseTime))
	}
	if dsn.Retrieval != "" {
		if r, err := result.ParseRetrieval(dsn.Retrieval, result.RetrievalObjects); err == nil {
			opts = append(opts, WithRetrieval(r))
		}
	}
	return opts
}

// Connector holds the immutable state shared by the connections of a
// sql.DB: the transport and how results are retrieved.
type Connector struct {
	driver     *Driver
	transport  transport
	normalizer result.Normalizer
	async      bool
	// nativeAsync is set when the transport's statements implement
	// result.AsyncSource. It is decided once, here.
	nativeAsync bool
	parseTime   bool
}

var _ driver.Connector = (*Connector)(nil)

// OpenREST builds a connector that talks to the D1 REST API. Rows are
// requested from /raw first, since that endpoint always names the columns.
func OpenREST(dsn *config.DSN, opts ...Option) (*Connector, error) {
	s := collect(append(dsnOptions(dsn), opts...))
	client, err := rest.NewClient(dsn, s.restOptions...)
	if err != nil {
		return nil, err
	}
	return newConnector(&restTransport{client: client}, s, result.RetrievalRaw), nil
}

// OpenBinding builds a connector over an in-process binding. Objects are
// requested first, since raw() loses the header of single-row results.
func OpenBinding(b binding.Binding, opts ...Option) (*Connector, error) {
	if b == nil {
		return nil, types.ErrInterface
	}
	return newConnector(&bindingTransport{binding: b}, collect(opts), result.RetrievalObjects), nil
}

func collect(opts []Option) *settings {
	s := &settings{}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func newConnector(t transport, s *settings, primary result.Retrieval) *Connector {
	if s.retrieval != nil {
		primary = *s.retrieval
	}
	_, native := t.statement("", nil).(result.AsyncSource)
	return &Connector{
		driver:      &Driver{name: DriverName},
		transport:   t,
		normalizer:  result.Normalizer{Primary: primary},
		async:       s.async,
		nativeAsync: native,
		parseTime:   s.parseTime,
	}
}

func (c *Connector) Connect(context.Context) (driver.Conn, error) {
	return &Conn{connector: c}, nil
}

func (c *Connector) Driver() driver.Driver {
	return c.driver
}

// Close releases transport resources. database/sql calls it from DB.Close.
func (c *Connector) Close() error {
	c.transport.close()
	return nil
}

// Transport names the transport, "rest" or "binding".
func (c *Connector) Transport() string {
	return c.transport.name()
}

// Primary is the result shape requested first for read-only statements.
func (c *Connector) Primary() result.Retrieval {
	return c.normalizer.Primary
}

// Async reports whether calls run on their own goroutine.
func (c *Connector) Async() bool {
	return c.async
}

type outcome struct {
	set *result.Set
	err error
}

// execute runs one statement and normalizes its result.
func (c *Connector) execute(ctx context.Context, query string, args []any) (*result.Set, error) {
	if c.async {
		select {
		case o := <-c.start(ctx, query, args):
			return o.set, o.err
		case <-ctx.Done():
			return nil, types.NewOperationalError("statement abandoned", ctx.Err())
		}
	}
	return c.run(ctx, query, c.transport.statement(query, args))
}

// start runs the statement on its own goroutine. The channel receives
// exactly one outcome.
func (c *Connector) start(ctx context.Context, query string, args []any) <-chan outcome {
	src := c.transport.statement(query, args)
	if c.nativeAsync {
		src = awaitSource{src: src.(result.AsyncSource)}
	}
	ch := make(chan outcome, 1)
	go func() {
		set, err := c.run(ctx, query, src)
		ch <- outcome{set: set, err: err}
	}()
	return ch
}

func (c *Connector) run(ctx context.Context, query string, src result.Source) (*result.Set, error) {
	start := time.Now()
	set, err := c.normalizer.Normalize(ctx, query, src)
	elapsed := time.Since(start)

	observeQuery(c.transport.name(), err, elapsed)
	logger := zerolog.Ctx(ctx)
	if err != nil {
		logger.Debug().Err(err).Str("transport", c.transport.name()).Dur("duration", elapsed).Msg("D1 statement failed")
		return nil, err
	}
	logger.Debug().
		Str("transport", c.transport.name()).
		Int("rows", len(set.Rows)).
		Int64("changes", set.Meta.Changes).
		Dur("duration", elapsed).
		Msg("D1 statement")
	return set, nil
}

// awaitSource drives an AsyncSource through the Source interface, giving up
// on the call when the context ends.
type awaitSource struct {
	src result.AsyncSource
}

func (a awaitSource) Retrieve(ctx context.Context, mode result.Retrieval) (*result.Response, error) {
	select {
	case o := <-a.src.RetrieveAsync(ctx, mode):
		return o.Response, o.Err
	case <-ctx.Done():
		return nil, types.NewOperationalError("statement abandoned", ctx.Err())
	}
}
