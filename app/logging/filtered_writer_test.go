// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package logging_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudzero/cloudflare-d1/app/logging"
)

func TestUnit_Logging_FilteredWriter(t *testing.T) {
	tests := map[string]struct {
		fields []string
		in     string
		want   string
	}{
		"empty":          {fields: []string{"x"}, in: "", want: ""},
		"drops fields":   {fields: []string{"skip"}, in: `{"keep":"yes","skip":"no"}`, want: `{"keep":"yes"}`},
		"keeps newline":  {in: `{"a":1}` + "\n", want: `{"a":1}` + "\n"},
		"keeps order":    {fields: []string{"b"}, in: `{"z":1,"b":2,"a":3}`, want: `{"z":1,"a":3}`},
		"nested values":  {fields: []string{"token"}, in: `{"token":"t","req":{"rows":[1,2.5,null,true]}}`, want: `{"req":{"rows":[1,2.5,null,true]}}`},
		"nested kept":    {fields: []string{"token"}, in: `{"req":{"token":"t"}}`, want: `{"req":{"token":"t"}}`},
		"not json":       {fields: []string{"x"}, in: "not a json", want: "not a json"},
		"trailing bytes": {fields: []string{"x"}, in: `{"x":1} {}`, want: `{"x":1} {}`},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			var buf bytes.Buffer
			n, err := logging.NewFieldFilterWriter(&buf, tc.fields).Write([]byte(tc.in))
			require.NoError(t, err)
			assert.Equal(t, len(tc.in), n)
			assert.Equal(t, tc.want, buf.String())
		})
	}
}

func TestUnit_Logging_FilteredWriter_SensitiveFields(t *testing.T) {
	var buf bytes.Buffer
	w := logging.NewFieldFilterWriter(&buf, logging.SensitiveFields)
	_, err := w.Write([]byte(`{"level":"debug","api_token":"secret","Authorization":"Bearer secret","message":"connecting"}`))
	require.NoError(t, err)
	assert.Equal(t, `{"level":"debug","message":"connecting"}`, buf.String())
}

type errorWriter struct{ err error }

func (e *errorWriter) Write([]byte) (int, error) { return 0, e.err }

type shortWriter struct{}

func (shortWriter) Write([]byte) (int, error) { return 0, nil }

func TestUnit_Logging_FilteredWriter_SinkErrors(t *testing.T) {
	boom := errors.New("boom")
	n, err := logging.NewFieldFilterWriter(&errorWriter{err: boom}, []string{"foo"}).Write([]byte(`{"foo":"x"}`))
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, n)

	data := []byte(`{"foo":"x","bar":"y"}`)
	n, err = logging.NewFieldFilterWriter(shortWriter{}, []string{"foo"}).Write(data)
	require.NoError(t, err)
	assert.Equal(t, len(data), n, "short writes by the sink are not reported")
}
