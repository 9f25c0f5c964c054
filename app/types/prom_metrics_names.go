// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package types

import "strings"

// D1Metric takes a metric name and returns it prefixed with "d1_". Every
// metric exported by the driver and the emulator is named through it.
//
// The name must not be empty and must not already start with a "d1" or
// "cloudflare" part. Violations panic, since metric names are constants.
//
// Example usage:
//
//	metric := D1Metric("queries_total") // Returns "d1_queries_total"
func D1Metric(metricName string) string {
	prefix, _, _ := strings.Cut(metricName, "_")
	if prefix == "" || prefix == "d1" || prefix == "cloudflare" {
		panic("metricName contains a forbidden prefix or is empty")
	}
	return "d1_" + metricName
}

// EmulatorMetric names a metric of the local emulator, prefixed with
// "d1_emulator_".
func EmulatorMetric(metricName string) string {
	return D1Metric("emulator_" + metricName)
}
