// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"time"

	"github.com/ccoveille/go-safecast"
	"github.com/itchyny/gojq"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	formatJSON = "json"
	formatYAML = "yaml"
)

// table is a query result with its column order.
type table struct {
	columns []string
	rows    [][]any
}

func checkFormat(format string) error {
	if format != formatJSON && format != formatYAML {
		return errors.Errorf("output must be %s or %s, got %q", formatJSON, formatYAML, format)
	}
	return nil
}

// writeTable prints rows as objects keyed by column, in column order.
func writeTable(w io.Writer, format string, t *table) error {
	if format == formatYAML {
		seq := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for _, row := range t.rows {
			m := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
			for i, c := range t.columns {
				val := &yaml.Node{}
				if err := val.Encode(plain(row[i])); err != nil {
					return errors.Wrapf(err, "encode column %s", c)
				}
				m.Content = append(m.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: c}, val)
			}
			seq.Content = append(seq.Content, m)
		}
		return writeYAML(w, seq)
	}

	jw := jwriter.NewWriter()
	arr := jw.Array()
	for _, row := range t.rows {
		obj := arr.Object()
		for i, c := range t.columns {
			writeJSONValue(obj.Name(c), row[i])
		}
		obj.End()
	}
	arr.End()
	if err := jw.Error(); err != nil {
		return err
	}
	_, err := w.Write(append(jw.Bytes(), '\n'))
	return err
}

// writeValue prints any document, such as a schema description.
func writeValue(w io.Writer, format string, v any) error {
	if format == formatYAML {
		return writeYAML(w, v)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	defer enc.Close()
	enc.SetIndent(2)
	return enc.Encode(v)
}

// runJQ filters the rows, passed as an array of objects, and prints every
// result on its own line.
func runJQ(w io.Writer, expr string, t *table) error {
	query, err := gojq.Parse(expr)
	if err != nil {
		return errors.Wrap(err, "parse jq expression")
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return errors.Wrap(err, "compile jq expression")
	}

	input := make([]any, len(t.rows))
	for r, row := range t.rows {
		obj := make(map[string]any, len(t.columns))
		for i, c := range t.columns {
			obj[c] = jqValue(row[i])
		}
		input[r] = obj
	}

	iter := code.Run(input)
	for {
		v, ok := iter.Next()
		if !ok {
			return nil
		}
		if err, isErr := v.(error); isErr {
			var halt *gojq.HaltError
			if errors.As(err, &halt) && halt.Value() == nil {
				return nil
			}
			return errors.Wrap(err, "run jq expression")
		}
		out, err := gojq.Marshal(v)
		if err != nil {
			return err
		}
		if _, err := w.Write(append(out, '\n')); err != nil {
			return err
		}
	}
}

// plain converts driver values into printable ones.
func plain(v any) any {
	switch x := v.(type) {
	case []byte:
		return base64.StdEncoding.EncodeToString(x)
	case time.Time:
		return x.Format(time.RFC3339Nano)
	}
	return v
}

// jqValue converts driver values into the types gojq accepts.
func jqValue(v any) any {
	switch x := plain(v).(type) {
	case int64:
		if n, err := safecast.Convert[int](x); err == nil {
			return n
		}
		return float64(x)
	default:
		return x
	}
}

func writeJSONValue(w *jwriter.Writer, v any) {
	switch x := plain(v).(type) {
	case nil:
		w.Null()
	case bool:
		w.Bool(x)
	case int64:
		if n, err := safecast.Convert[int](x); err == nil {
			w.Int(n)
			return
		}
		w.Float64(float64(x))
	case float64:
		w.Float64(x)
	case string:
		w.String(x)
	default:
		w.Null()
	}
}
