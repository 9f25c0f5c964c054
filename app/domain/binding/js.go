// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

//go:build js && wasm

package binding

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"syscall/js"
	"time"

	"github.com/pkg/errors"

	"github.com/cloudzero/cloudflare-d1/app/domain/result"
	"github.com/cloudzero/cloudflare-d1/app/types"
)

// FromJS wraps a D1Database object of the host runtime.
func FromJS(v js.Value) (Binding, error) {
	if v.Type() != js.TypeObject || v.Get("prepare").Type() != js.TypeFunction {
		return nil, errors.Wrap(types.ErrInterface, "value is not a D1 database binding")
	}
	return &jsBinding{db: v}, nil
}

// FromGlobal wraps the D1Database object stored in the named global.
func FromGlobal(name string) (Binding, error) {
	return FromJS(js.Global().Get(name))
}

type jsBinding struct {
	db js.Value
}

func (b *jsBinding) Prepare(query string) (stmt Statement, err error) {
	defer recoverJS(&err)
	return &jsStatement{stmt: b.db.Call("prepare", query)}, nil
}

type jsStatement struct {
	stmt js.Value
}

func (s *jsStatement) Bind(args ...any) Statement {
	values := make([]any, len(args))
	for i, a := range args {
		values[i] = toJS(a)
	}
	return &jsStatement{stmt: s.stmt.Call("bind", values...)}
}

func (s *jsStatement) All(ctx context.Context) (*AllResult, error) {
	v, err := await(ctx, func() js.Value { return s.stmt.Call("all") })
	if err != nil {
		return nil, err
	}
	out := &AllResult{Meta: fromJSMeta(v.Get("meta"))}
	results := v.Get("results")
	if results.Type() != js.TypeObject {
		return out, nil
	}
	keys := js.Global().Get("Object")
	for i := 0; i < results.Length(); i++ {
		row := results.Index(i)
		names := keys.Call("keys", row)
		obj := make(result.Object, names.Length())
		for j := range obj {
			name := names.Index(j).String()
			obj[j] = result.Field{Name: name, Value: fromJS(row.Get(name))}
		}
		out.Results = append(out.Results, obj)
	}
	return out, nil
}

func (s *jsStatement) Raw(ctx context.Context, columnNames bool) ([][]any, error) {
	v, err := await(ctx, func() js.Value {
		return s.stmt.Call("raw", js.ValueOf(map[string]any{"columnNames": columnNames}))
	})
	if err != nil {
		return nil, err
	}
	rows := [][]any{}
	for i := 0; i < v.Length(); i++ {
		row, _ := fromJS(v.Index(i)).([]any)
		rows = append(rows, row)
	}
	return rows, nil
}

// await runs call, which returns a promise, and waits for it to settle.
// The callbacks stay registered until the promise settles, even when ctx
// ends first.
func await(ctx context.Context, call func() js.Value) (v js.Value, err error) {
	defer recoverJS(&err)

	type settled struct {
		value js.Value
		err   error
	}
	ch := make(chan settled, 1)

	var (
		onResolve, onReject js.Func
		release             sync.Once
	)
	releaseFuncs := func() {
		release.Do(func() {
			onResolve.Release()
			onReject.Release()
		})
	}
	onResolve = js.FuncOf(func(_ js.Value, args []js.Value) any {
		releaseFuncs()
		var val js.Value
		if len(args) > 0 {
			val = args[0]
		}
		ch <- settled{value: val}
		return nil
	})
	onReject = js.FuncOf(func(_ js.Value, args []js.Value) any {
		releaseFuncs()
		msg := "promise rejected"
		if len(args) > 0 {
			msg = jsErrorMessage(args[0])
		}
		ch <- settled{err: types.NewOperationalError("", errors.New(msg))}
		return nil
	})

	func() {
		defer func() {
			// then was never registered, nothing will call the callbacks
			if r := recover(); r != nil {
				releaseFuncs()
				panic(r)
			}
		}()
		call().Call("then", onResolve, onReject)
	}()

	select {
	case s := <-ch:
		return s.value, s.err
	case <-ctx.Done():
		return js.Undefined(), types.NewOperationalError("binding call", ctx.Err())
	}
}

func recoverJS(err *error) {
	if r := recover(); r != nil {
		if jsErr, ok := r.(js.Error); ok {
			*err = types.NewOperationalError("", errors.New(jsErrorMessage(jsErr.Value)))
			return
		}
		*err = types.NewOperationalError("", fmt.Errorf("%v", r))
	}
}

func jsErrorMessage(v js.Value) string {
	if v.Type() == js.TypeObject {
		if msg := v.Get("message"); msg.Type() == js.TypeString {
			return msg.String()
		}
	}
	return v.String()
}

// toJS converts an argument. nil becomes null, never undefined, which the
// binding rejects.
func toJS(v any) any {
	switch x := v.(type) {
	case nil:
		return js.Null()
	case []byte:
		return base64.StdEncoding.EncodeToString(x)
	case int64:
		return float64(x)
	case time.Time:
		return x.Format(result.TimeFormat)
	case bool:
		if x {
			return 1
		}
		return 0
	}
	return v
}

func fromJS(v js.Value) any {
	switch v.Type() {
	case js.TypeNull, js.TypeUndefined:
		return nil
	case js.TypeBoolean:
		return v.Bool()
	case js.TypeNumber:
		return result.NormalizeNumber(v.Float())
	case js.TypeString:
		return v.String()
	case js.TypeObject:
		if v.InstanceOf(js.Global().Get("ArrayBuffer")) {
			v = js.Global().Get("Uint8Array").New(v)
		}
		if v.InstanceOf(js.Global().Get("Uint8Array")) {
			buf := make([]byte, v.Length())
			js.CopyBytesToGo(buf, v)
			return base64.StdEncoding.EncodeToString(buf)
		}
		if js.Global().Get("Array").Call("isArray", v).Bool() {
			out := make([]any, v.Length())
			for i := range out {
				out[i] = fromJS(v.Index(i))
			}
			return out
		}
		keys := js.Global().Get("Object").Call("keys", v)
		out := make(map[string]any, keys.Length())
		for i := 0; i < keys.Length(); i++ {
			name := keys.Index(i).String()
			out[name] = fromJS(v.Get(name))
		}
		return out
	}
	return nil
}

func fromJSMeta(v js.Value) result.Meta {
	var m result.Meta
	if v.Type() != js.TypeObject {
		return m
	}
	num := func(name string) int64 {
		if f := v.Get(name); f.Type() == js.TypeNumber {
			return int64(f.Float())
		}
		return 0
	}
	m.Changes = num("changes")
	m.LastRowID = num("last_row_id")
	m.RowsRead = num("rows_read")
	m.RowsWritten = num("rows_written")
	m.SizeAfter = num("size_after")
	if d := v.Get("duration"); d.Type() == js.TypeNumber {
		m.Duration = d.Float()
	}
	if c := v.Get("changed_db"); c.Type() == js.TypeBoolean {
		m.ChangedDB = c.Bool()
	}
	if s := v.Get("served_by"); s.Type() == js.TypeString {
		m.ServedBy = s.String()
	}
	return m
}
