// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package rest

import (
	"encoding/base64"
	"time"

	"github.com/ccoveille/go-safecast"
	"github.com/launchdarkly/go-jsonstream/v3/jreader"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/pkg/errors"

	"github.com/cloudzero/cloudflare-d1/app/domain/result"
)

// encodeRequest renders {"sql": ..., "params": [...]}. The params key is
// left out when there are no parameters.
func encodeRequest(query string, params []any) ([]byte, error) {
	w := jwriter.NewWriter()
	obj := w.Object()
	obj.Name("sql").String(query)
	if len(params) > 0 {
		arr := obj.Name("params").Array()
		for i, p := range params {
			if err := writeParam(&arr, p); err != nil {
				return nil, errors.Wrapf(err, "parameter %d", i+1)
			}
		}
		arr.End()
	}
	obj.End()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

func writeParam(arr *jwriter.ArrayState, v any) error {
	switch x := v.(type) {
	case nil:
		arr.Null()
	case bool:
		arr.Bool(x)
	case int64:
		arr.Int(int(x))
	case int:
		arr.Int(x)
	case float64:
		arr.Float64(x)
	case string:
		arr.String(x)
	case []byte:
		arr.String(base64.StdEncoding.EncodeToString(x))
	case time.Time:
		arr.String(x.Format(result.TimeFormat))
	default:
		return errors.Errorf("unsupported type %T", v)
	}
	return nil
}

type apiError struct {
	code    int
	message string
}

type statementResult struct {
	objects []result.Object
	columns []string
	rows    [][]any
	meta    result.Meta
	failed  bool
	errors  []apiError
}

// envelope is the standard Cloudflare API response wrapper.
type envelope struct {
	success bool
	errors  []apiError
	results []statementResult
}

func (e *envelope) firstError() (int, string) {
	return firstError(e.errors)
}

// statementError reports the first statement that failed inside an
// otherwise successful envelope.
func (e *envelope) statementError() (int, string, bool) {
	for _, sr := range e.results {
		code, msg := firstError(sr.errors)
		if !sr.failed && msg == "" {
			continue
		}
		if msg == "" {
			msg = "D1 statement failed"
		}
		return code, msg, true
	}
	return 0, "", false
}

func firstError(errs []apiError) (int, string) {
	for _, ae := range errs {
		if ae.message != "" {
			return ae.code, ae.message
		}
	}
	return 0, ""
}

// response converts the first statement result. A multi-statement query
// reports only its first statement.
func (e *envelope) response(raw bool) *result.Response {
	resp := &result.Response{}
	if len(e.results) == 0 {
		return resp
	}
	sr := e.results[0]
	resp.Meta = sr.meta
	if raw {
		resp.Columns = sr.columns
		resp.Rows = sr.rows
		return resp
	}
	resp.Objects = sr.objects
	return resp
}

func decodeEnvelope(data []byte) (*envelope, error) {
	r := jreader.NewReader(data)
	env := &envelope{}
	for obj := r.Object(); obj.Next(); {
		switch string(obj.Name()) {
		case "success":
			env.success, _ = decodeValue(&r).(bool)
		case "errors":
			env.errors = readErrors(&r)
		case "result":
			env.results = readResults(&r)
		default:
			_ = r.SkipValue()
		}
	}
	if err := r.Error(); err != nil {
		return nil, err
	}
	if err := r.RequireEOF(); err != nil {
		return nil, err
	}
	return env, nil
}

func readErrors(r *jreader.Reader) []apiError {
	var out []apiError
	for arr := r.ArrayOrNull(); arr.Next(); {
		var ae apiError
		for obj := r.ObjectOrNull(); obj.Next(); {
			switch string(obj.Name()) {
			case "code":
				ae.code = int(toInt64(decodeValue(r)))
			case "message":
				ae.message, _ = decodeValue(r).(string)
			default:
				_ = r.SkipValue()
			}
		}
		out = append(out, ae)
	}
	return out
}

func readResults(r *jreader.Reader) []statementResult {
	var out []statementResult
	for arr := r.ArrayOrNull(); arr.Next(); {
		var sr statementResult
		for obj := r.ObjectOrNull(); obj.Next(); {
			switch string(obj.Name()) {
			case "results":
				readResultBody(r, &sr)
			case "meta":
				sr.meta = readMeta(r)
			case "success":
				if ok, isBool := decodeValue(r).(bool); isBool && !ok {
					sr.failed = true
				}
			case "errors":
				sr.errors = append(sr.errors, readErrors(r)...)
			case "error":
				if msg, _ := decodeValue(r).(string); msg != "" {
					sr.failed = true
					sr.errors = append(sr.errors, apiError{message: msg})
				}
			default:
				_ = r.SkipValue()
			}
		}
		out = append(out, sr)
	}
	return out
}

// readResultBody accepts both shapes: an array of objects from /query and
// a {"columns", "rows"} object from /raw.
func readResultBody(r *jreader.Reader, sr *statementResult) {
	v := r.Any()
	switch v.Kind {
	case jreader.ArrayValue:
		for v.Array.Next() {
			sr.objects = append(sr.objects, readObject(r))
		}
	case jreader.ObjectValue:
		for v.Object.Next() {
			switch string(v.Object.Name()) {
			case "columns":
				for arr := r.ArrayOrNull(); arr.Next(); {
					name, _ := decodeValue(r).(string)
					sr.columns = append(sr.columns, name)
				}
			case "rows":
				sr.rows = [][]any{}
				for arr := r.ArrayOrNull(); arr.Next(); {
					row := []any{}
					for cells := r.ArrayOrNull(); cells.Next(); {
						row = append(row, decodeValue(r))
					}
					sr.rows = append(sr.rows, row)
				}
			default:
				_ = r.SkipValue()
			}
		}
	}
}

func readObject(r *jreader.Reader) result.Object {
	o := result.Object{}
	for obj := r.ObjectOrNull(); obj.Next(); {
		name := string(obj.Name())
		o = append(o, result.Field{Name: name, Value: decodeValue(r)})
	}
	return o
}

func readMeta(r *jreader.Reader) result.Meta {
	var m result.Meta
	for obj := r.ObjectOrNull(); obj.Next(); {
		switch string(obj.Name()) {
		case "changes":
			m.Changes = toInt64(decodeValue(r))
		case "last_row_id":
			m.LastRowID = toInt64(decodeValue(r))
		case "rows_read":
			m.RowsRead = toInt64(decodeValue(r))
		case "rows_written":
			m.RowsWritten = toInt64(decodeValue(r))
		case "size_after":
			m.SizeAfter = toInt64(decodeValue(r))
		case "changed_db":
			m.ChangedDB, _ = decodeValue(r).(bool)
		case "duration":
			switch d := decodeValue(r).(type) {
			case float64:
				m.Duration = d
			case int64:
				m.Duration = float64(d)
			}
		case "served_by":
			m.ServedBy, _ = decodeValue(r).(string)
		default:
			_ = r.SkipValue()
		}
	}
	return m
}

// decodeValue reads any JSON value, consuming nested arrays and objects.
func decodeValue(r *jreader.Reader) any {
	v := r.Any()
	switch v.Kind {
	case jreader.BoolValue:
		return v.Bool
	case jreader.NumberValue:
		return result.NormalizeNumber(v.Number)
	case jreader.StringValue:
		return v.String
	case jreader.ArrayValue:
		out := []any{}
		for v.Array.Next() {
			out = append(out, decodeValue(r))
		}
		return out
	case jreader.ObjectValue:
		out := map[string]any{}
		for v.Object.Next() {
			name := string(v.Object.Name())
			out[name] = decodeValue(r)
		}
		return out
	}
	return nil
}

func toInt64(v any) int64 {
	switch x := v.(type) {
	case int64:
		return x
	case float64:
		n, err := safecast.Convert[int64](x)
		if err != nil {
			return 0
		}
		return n
	}
	return 0
}
