// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package logging

import (
	"bytes"
	"io"

	"github.com/launchdarkly/go-jsonstream/v3/jreader"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

type fieldFilterWriter struct {
	w      io.Writer
	fields map[string]struct{}
}

// NewFieldFilterWriter returns a writer that drops the named top-level fields
// from each JSON log entry before passing it on. Field order is preserved.
// Input that is not a JSON object is written unchanged.
func NewFieldFilterWriter(w io.Writer, fields []string) io.Writer {
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return &fieldFilterWriter{w: w, fields: set}
}

func (f *fieldFilterWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	body := bytes.TrimRight(p, "\n")
	out, ok := f.filter(body)
	if !ok {
		out = p
	} else if len(body) < len(p) {
		out = append(out, p[len(body):]...)
	}

	if _, err := f.w.Write(out); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (f *fieldFilterWriter) filter(body []byte) ([]byte, bool) {
	r := jreader.NewReader(body)
	w := jwriter.NewWriter()

	obj := r.Object()
	if r.Error() != nil {
		return nil, false
	}
	out := w.Object()
	for obj.Next() {
		name := string(obj.Name())
		if _, drop := f.fields[name]; drop {
			r.SkipValue()
			continue
		}
		copyValue(&r, out.Name(name))
	}
	out.End()

	if r.Error() != nil || r.RequireEOF() != nil || w.Error() != nil {
		return nil, false
	}
	return w.Bytes(), true
}

// valueSink is satisfied by both *jwriter.Writer and *jwriter.ArrayState.
type valueSink interface {
	Null()
	Bool(bool)
	Int(int)
	Float64(float64)
	String(string)
	Array() jwriter.ArrayState
	Object() jwriter.ObjectState
}

// copyValue streams the next value from r into w.
func copyValue(r *jreader.Reader, w valueSink) {
	v := r.Any()
	switch v.Kind {
	case jreader.NullValue:
		w.Null()
	case jreader.BoolValue:
		w.Bool(v.Bool)
	case jreader.NumberValue:
		writeNumber(w, v.Number)
	case jreader.StringValue:
		w.String(v.String)
	case jreader.ArrayValue:
		arr := w.Array()
		for v.Array.Next() {
			copyValue(r, &arr)
		}
		arr.End()
	case jreader.ObjectValue:
		obj := w.Object()
		for v.Object.Next() {
			copyValue(r, obj.Name(string(v.Object.Name())))
		}
		obj.End()
	}
}

func writeNumber(w valueSink, n float64) {
	if n == float64(int64(n)) && n >= -(1<<53) && n <= 1<<53 {
		w.Int(int(n))
		return
	}
	w.Float64(n)
}
