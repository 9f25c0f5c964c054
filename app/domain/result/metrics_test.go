// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package result

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnit_Result_FallbackCounter(t *testing.T) {
	counter := fallbackCounter().WithLabelValues(ReasonSingleRowHeader)
	before := testutil.ToFloat64(counter)

	src := SourceFunc(func(_ context.Context, mode Retrieval) (*Response, error) {
		if mode == RetrievalRaw {
			return &Response{HeaderInRows: true, Rows: [][]any{{int64(1)}}}, nil
		}
		return &Response{Objects: []Object{{{Name: "id", Value: int64(1)}}}}, nil
	})

	set, err := Normalizer{Primary: RetrievalRaw}.Normalize(context.Background(), "SELECT id FROM t", src)
	require.NoError(t, err)
	assert.Equal(t, []string{"id"}, set.Columns)
	assert.Equal(t, before+1, testutil.ToFloat64(counter))

	// registering twice reuses the collector
	assert.Same(t, fallbackCounter(), fallbackCounter())
}
