// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package driver

import (
	"database/sql/driver"
	"encoding/base64"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/cloudzero/cloudflare-d1/app/domain/result"
	"github.com/cloudzero/cloudflare-d1/app/types"
)

// convertArg maps a Go value onto the JSON types D1 accepts. Booleans
// become 1 and 0, byte slices base64 text and times text in
// result.TimeFormat.
func convertArg(v any) (any, error) {
	switch x := v.(type) {
	case nil, string, int64, float64:
		return v, nil
	case bool:
		if x {
			return int64(1), nil
		}
		return int64(0), nil
	case []byte:
		if x == nil {
			return nil, nil
		}
		return base64.StdEncoding.EncodeToString(x), nil
	case time.Time:
		return x.Format(result.TimeFormat), nil
	}

	cv, err := driver.DefaultParameterConverter.ConvertValue(v)
	if err != nil {
		return nil, errors.Wrapf(types.ErrInterface, "unsupported parameter: %v", err)
	}
	return convertArg(cv)
}

// encodeArgs flattens bound values into positional parameters, named ones
// included, in ordinal order.
func encodeArgs(named []driver.NamedValue) ([]any, error) {
	if len(named) == 0 {
		return nil, nil
	}
	sorted := append([]driver.NamedValue(nil), named...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Ordinal < sorted[j].Ordinal })

	args := make([]any, len(sorted))
	for i, nv := range sorted {
		v, err := convertArg(nv.Value)
		if err != nil {
			return nil, errors.Wrapf(err, "parameter %d", nv.Ordinal)
		}
		args[i] = v
	}
	return args, nil
}

func valuesToNamed(values []driver.Value) []driver.NamedValue {
	named := make([]driver.NamedValue, len(values))
	for i, v := range values {
		named[i] = driver.NamedValue{Ordinal: i + 1, Value: v}
	}
	return named
}

func anyToNamed(values []any) []driver.NamedValue {
	named := make([]driver.NamedValue, len(values))
	for i, v := range values {
		named[i] = driver.NamedValue{Ordinal: i + 1, Value: v}
	}
	return named
}

// parseTimestamp reads s as a timestamp only when it has the exact layout
// this driver writes, result.TimeFormat with a zone offset. Date-only and
// zone-less text stays text.
func parseTimestamp(s string) (time.Time, bool) {
	if len(s) < len("2006-01-02 15:04:05+00:00") || s[4] != '-' || s[7] != '-' || s[10] != ' ' {
		return time.Time{}, false
	}
	t, err := time.Parse(result.TimeFormat, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
