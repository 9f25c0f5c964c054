// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"crypto/subtle"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/ccoveille/go-safecast"
	"github.com/go-chi/chi/v5"
	"github.com/go-obvious/server"
	"github.com/go-obvious/server/api"
	"github.com/launchdarkly/go-jsonstream/v3/jreader"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/rs/zerolog/log"

	"github.com/cloudzero/cloudflare-d1/app/domain/emulator"
	"github.com/cloudzero/cloudflare-d1/app/domain/result"
	"github.com/cloudzero/cloudflare-d1/app/storage/sqlite"
	"github.com/cloudzero/cloudflare-d1/app/types"
)

// MaxPayloadSize bounds a request body.
const MaxPayloadSize = 16 * 1024 * 1024

// Cloudflare API error codes returned by the emulator.
const (
	CodeAuthentication   = 10000
	CodeInvalidRequest   = 7400
	CodeDatabaseNotFound = 7404
	CodeSQLError         = 7500
	CodeDuplicateName    = 7502
	CodeInternal         = 7501
)

// D1API serves the D1 REST endpoints from an emulator. It is mounted at
// the API base, normally /client/v4.
type D1API struct {
	api.Service
	emulator *emulator.Emulator
	token    string
}

type D1APIOption func(*D1API)

// WithAPIToken requires every request to carry "Authorization: Bearer
// token". An empty token disables the check.
func WithAPIToken(token string) D1APIOption {
	return func(a *D1API) {
		a.token = token
	}
}

func NewD1API(base string, emu *emulator.Emulator, opts ...D1APIOption) *D1API {
	a := &D1API{
		emulator: emu,
		Service: api.Service{
			APIName: "d1",
			Mounts:  map[string]*chi.Mux{},
		},
	}
	for _, opt := range opts {
		opt(a)
	}
	a.Service.Mounts[base] = a.Routes()
	return a
}

func (a *D1API) Register(app server.Server) error {
	return a.Service.Register(app)
}

// Handler returns the mounted routes as a plain handler, for serving
// without the go-obvious server.
func (a *D1API) Handler() http.Handler {
	r := chi.NewRouter()
	for base, mux := range a.Service.Mounts {
		r.Mount(base, mux)
	}
	return r
}

func (a *D1API) Routes() *chi.Mux {
	r := chi.NewRouter()
	r.Use(compress, a.authenticate)
	r.Route("/accounts/{account}/d1/database", func(r chi.Router) {
		r.Get("/", a.ListDatabases)
		r.Post("/", a.CreateDatabase)
		r.Get("/{database}", a.GetDatabase)
		r.Delete("/{database}", a.DeleteDatabase)
		r.Post("/{database}/query", a.Query)
		r.Post("/{database}/raw", a.Raw)
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		replyError(w, r, http.StatusNotFound, CodeInvalidRequest, "No route for that URI")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		replyError(w, r, http.StatusMethodNotAllowed, CodeInvalidRequest, "Method not allowed for this route")
	})
	return r
}

// compress encodes responses with brotli or gzip when the client accepts
// either, as the Cloudflare API does.
func compress(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cw := brotli.HTTPCompressor(w, r)
		defer cw.Close()
		next.ServeHTTP(&compressWriter{ResponseWriter: w, body: cw}, r)
	})
}

type compressWriter struct {
	http.ResponseWriter
	body io.Writer
}

func (c *compressWriter) Write(p []byte) (int, error) {
	return c.body.Write(p)
}

func (a *D1API) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.token != "" {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(a.token)) != 1 {
				replyError(w, r, http.StatusUnauthorized, CodeAuthentication, "Authentication error")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (a *D1API) ListDatabases(w http.ResponseWriter, r *http.Request) {
	dbs, err := a.emulator.Databases(r.Context(), chi.URLParam(r, "account"))
	if err != nil {
		a.replyFailure(w, r, err)
		return
	}
	reply(w, http.StatusOK, func(obj *jwriter.ObjectState) {
		arr := obj.Name("result").Array()
		for i := range dbs {
			writeDatabase(arr.Object(), &dbs[i], nil)
		}
		arr.End()
		info := obj.Name("result_info").Object()
		info.Name("page").Int(1)
		info.Name("per_page").Int(len(dbs))
		info.Name("count").Int(len(dbs))
		info.Name("total_count").Int(len(dbs))
		info.End()
	})
}

func (a *D1API) CreateDatabase(w http.ResponseWriter, r *http.Request) {
	var name string
	err := decodeBody(w, r, func(field string, rd *jreader.Reader) {
		if field == "name" {
			name = rd.String()
			return
		}
		_ = rd.SkipValue()
	})
	if err != nil {
		replyError(w, r, http.StatusBadRequest, CodeInvalidRequest, "Invalid request body: "+err.Error())
		return
	}
	if name == "" {
		replyError(w, r, http.StatusBadRequest, CodeInvalidRequest, "A database name is required")
		return
	}

	d, err := a.emulator.CreateDatabase(r.Context(), chi.URLParam(r, "account"), name)
	if err != nil {
		a.replyFailure(w, r, err)
		return
	}
	reply(w, http.StatusOK, func(obj *jwriter.ObjectState) {
		writeDatabase(obj.Name("result").Object(), d, nil)
	})
}

func (a *D1API) GetDatabase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	account, id := chi.URLParam(r, "account"), chi.URLParam(r, "database")

	d, err := a.emulator.Database(ctx, account, id)
	if err != nil {
		a.replyFailure(w, r, err)
		return
	}
	stats, err := a.emulator.Stats(ctx, account, id)
	if err != nil {
		a.replyFailure(w, r, err)
		return
	}
	reply(w, http.StatusOK, func(obj *jwriter.ObjectState) {
		writeDatabase(obj.Name("result").Object(), d, stats)
	})
}

func (a *D1API) DeleteDatabase(w http.ResponseWriter, r *http.Request) {
	err := a.emulator.DeleteDatabase(r.Context(), chi.URLParam(r, "account"), chi.URLParam(r, "database"))
	if err != nil {
		a.replyFailure(w, r, err)
		return
	}
	reply(w, http.StatusOK, func(obj *jwriter.ObjectState) {
		obj.Name("result").Null()
	})
}

// Query answers with rows as objects keyed by column name.
func (a *D1API) Query(w http.ResponseWriter, r *http.Request) {
	a.execute(w, r, false)
}

// Raw answers with column names and rows as arrays.
func (a *D1API) Raw(w http.ResponseWriter, r *http.Request) {
	a.execute(w, r, true)
}

func (a *D1API) execute(w http.ResponseWriter, r *http.Request, raw bool) {
	var (
		query  string
		params []any
	)
	err := decodeBody(w, r, func(field string, rd *jreader.Reader) {
		switch field {
		case "sql":
			query = rd.String()
		case "params":
			params = []any{}
			for arr := rd.ArrayOrNull(); arr.Next(); {
				params = append(params, readParam(rd))
			}
		default:
			_ = rd.SkipValue()
		}
	})
	if err != nil {
		replyError(w, r, http.StatusBadRequest, CodeInvalidRequest, "Invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(query) == "" {
		replyError(w, r, http.StatusBadRequest, CodeInvalidRequest, "A SQL statement is required")
		return
	}

	out, err := a.emulator.Execute(r.Context(), chi.URLParam(r, "account"), chi.URLParam(r, "database"), query, params)
	if err != nil {
		a.replyFailure(w, r, err)
		return
	}

	dropHeader := raw && a.emulator.DropSingleRowHeader() && len(out.Rows) == 1
	reply(w, http.StatusOK, func(obj *jwriter.ObjectState) {
		results := obj.Name("result").Array()
		stmt := results.Object()
		if raw {
			writeRaw(stmt.Name("results").Object(), out, dropHeader)
		} else {
			writeObjects(stmt.Name("results").Array(), out)
		}
		stmt.Name("success").Bool(true)
		writeMeta(stmt.Name("meta").Object(), out.Meta())
		stmt.End()
		results.End()
	})
}

// replyFailure maps emulator errors onto Cloudflare's statuses and codes.
// Anything that is not a lookup or bookkeeping failure came from SQLite and
// is reported as a SQL error.
func (a *D1API) replyFailure(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, types.ErrNotFound):
		replyError(w, r, http.StatusNotFound, CodeDatabaseNotFound, "The database could not be found")
	case errors.Is(err, types.ErrDuplicateKey):
		replyError(w, r, http.StatusConflict, CodeDuplicateName, "A database with that name already exists")
	case errors.Is(err, types.ErrInvalidData):
		replyError(w, r, http.StatusBadRequest, CodeInvalidRequest, err.Error())
	case errors.Is(err, emulator.ErrClosed):
		replyError(w, r, http.StatusServiceUnavailable, CodeInternal, err.Error())
	default:
		replyError(w, r, http.StatusBadRequest, CodeSQLError, err.Error())
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, field func(name string, rd *jreader.Reader)) error {
	defer r.Body.Close()
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxPayloadSize))
	if err != nil {
		return err
	}
	rd := jreader.NewReader(data)
	for obj := rd.Object(); obj.Next(); {
		field(string(obj.Name()), &rd)
	}
	if err := rd.Error(); err != nil {
		return err
	}
	return rd.RequireEOF()
}

// readParam reads one bound parameter. Arrays and objects are not valid
// SQLite values and are rejected by the statement.
func readParam(rd *jreader.Reader) any {
	v := rd.Any()
	switch v.Kind {
	case jreader.BoolValue:
		return v.Bool
	case jreader.NumberValue:
		return result.NormalizeNumber(v.Number)
	case jreader.StringValue:
		return v.String
	case jreader.ArrayValue:
		for v.Array.Next() {
			_ = rd.SkipValue()
		}
		return []any{}
	case jreader.ObjectValue:
		for v.Object.Next() {
			_ = rd.SkipValue()
		}
		return map[string]any{}
	}
	return nil
}

// reply writes the success envelope; body adds the result fields.
func reply(w http.ResponseWriter, status int, body func(obj *jwriter.ObjectState)) {
	jw := jwriter.NewWriter()
	obj := jw.Object()
	body(&obj)
	obj.Name("success").Bool(true)
	emptyArray(obj.Name("errors"))
	emptyArray(obj.Name("messages"))
	obj.End()
	write(w, status, jw.Bytes())
}

func replyError(w http.ResponseWriter, r *http.Request, status, code int, message string) {
	log.Ctx(r.Context()).Debug().
		Int("status", status).
		Int("code", code).
		Str("message", message).
		Msg("d1 request failed")

	jw := jwriter.NewWriter()
	obj := jw.Object()
	obj.Name("result").Null()
	obj.Name("success").Bool(false)
	errs := obj.Name("errors").Array()
	e := errs.Object()
	e.Name("code").Int(code)
	e.Name("message").String(message)
	e.End()
	errs.End()
	emptyArray(obj.Name("messages"))
	obj.End()
	write(w, status, jw.Bytes())
}

func emptyArray(w *jwriter.Writer) {
	arr := w.Array()
	arr.End()
}

func write(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeDatabase(obj jwriter.ObjectState, d *emulator.Database, stats *emulator.Stats) {
	obj.Name("uuid").String(d.ID)
	obj.Name("name").String(d.Name)
	obj.Name("version").String("production")
	obj.Name("created_at").String(d.CreatedAt.UTC().Format(time.RFC3339Nano))
	if stats != nil {
		writeInt(obj.Name("num_tables"), stats.NumTables)
		writeInt(obj.Name("file_size"), stats.FileSize)
	}
	obj.End()
}

// writeObjects renders each row as an object. A repeated column name keeps
// its first position and its last value, as a JavaScript object would.
func writeObjects(arr jwriter.ArrayState, out *sqlite.Outcome) {
	names := []string{}
	source := map[string]int{}
	for i, c := range out.Columns {
		if _, seen := source[c]; !seen {
			names = append(names, c)
		}
		source[c] = i
	}

	for _, row := range out.Rows {
		obj := arr.Object()
		for _, name := range names {
			writeValue(obj.Name(name), row[source[name]])
		}
		obj.End()
	}
	arr.End()
}

func writeRaw(obj jwriter.ObjectState, out *sqlite.Outcome, dropHeader bool) {
	if !dropHeader {
		cols := obj.Name("columns").Array()
		for _, c := range out.Columns {
			cols.String(c)
		}
		cols.End()
	}
	rows := obj.Name("rows").Array()
	for _, row := range out.Rows {
		cells := rows.Array()
		for _, v := range row {
			writeValue(&cells, v)
		}
		cells.End()
	}
	rows.End()
	obj.End()
}

func writeMeta(obj jwriter.ObjectState, m result.Meta) {
	obj.Name("served_by").String(m.ServedBy)
	obj.Name("duration").Float64(m.Duration)
	writeInt(obj.Name("changes"), m.Changes)
	writeInt(obj.Name("last_row_id"), m.LastRowID)
	obj.Name("changed_db").Bool(m.ChangedDB)
	writeInt(obj.Name("size_after"), m.SizeAfter)
	writeInt(obj.Name("rows_read"), m.RowsRead)
	writeInt(obj.Name("rows_written"), m.RowsWritten)
	obj.End()
}

// valueWriter is implemented by both *jwriter.Writer and
// *jwriter.ArrayState.
type valueWriter interface {
	Null()
	Bool(bool)
	Int(int)
	Float64(float64)
	String(string)
}

func writeValue(w valueWriter, v any) {
	switch x := v.(type) {
	case nil:
		w.Null()
	case bool:
		w.Bool(x)
	case int64:
		writeInt(w, x)
	case float64:
		w.Float64(x)
	case string:
		w.String(x)
	default:
		// Execute only exports the types above
		w.Null()
	}
}

func writeInt(w valueWriter, n int64) {
	i, err := safecast.Convert[int](n)
	if err != nil {
		w.Float64(float64(n))
		return
	}
	w.Int(i)
}
