// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package result

import (
	"strings"
)

// Kind describes what a statement may do.
type Kind struct {
	// Verb is the leading keyword, upper-cased.
	Verb string
	// RowReturning is set when the statement can produce a result set.
	RowReturning bool
	// ReadOnly is set when executing the statement twice is harmless.
	ReadOnly bool
}

// Classify inspects the leading keyword of a statement. It does not parse
// SQL; string literals containing keywords can produce false positives,
// which only make the normalizer more conservative.
func Classify(query string) Kind {
	body := skipPreamble(query)
	upper := strings.ToUpper(body)
	verb := leadingWord(upper)

	k := Kind{Verb: verb}
	switch verb {
	case "SELECT", "VALUES", "EXPLAIN":
		k.RowReturning = true
		k.ReadOnly = true
	case "PRAGMA":
		k.RowReturning = true
		k.ReadOnly = !strings.Contains(upper, "=")
	case "WITH":
		k.RowReturning = true
		k.ReadOnly = !containsAnyWord(upper, "INSERT", "UPDATE", "DELETE", "REPLACE")
	}
	if !k.RowReturning && containsAnyWord(upper, "RETURNING") {
		k.RowReturning = true
	}
	return k
}

// skipPreamble drops leading whitespace, comments and opening parentheses.
func skipPreamble(q string) string {
	for {
		q = strings.TrimLeft(q, " \t\r\n\f(")
		switch {
		case strings.HasPrefix(q, "--"):
			idx := strings.IndexByte(q, '\n')
			if idx < 0 {
				return ""
			}
			q = q[idx+1:]
		case strings.HasPrefix(q, "/*"):
			idx := strings.Index(q[2:], "*/")
			if idx < 0 {
				return ""
			}
			q = q[idx+4:]
		default:
			return q
		}
	}
}

func leadingWord(s string) string {
	end := 0
	for end < len(s) && isWordByte(s[end]) {
		end++
	}
	return s[:end]
}

func containsAnyWord(s string, words ...string) bool {
	for _, w := range words {
		if containsWord(s, w) {
			return true
		}
	}
	return false
}

func containsWord(s, word string) bool {
	for from := 0; from < len(s); {
		idx := strings.Index(s[from:], word)
		if idx < 0 {
			return false
		}
		start := from + idx
		end := start + len(word)
		if (start == 0 || !isWordByte(s[start-1])) && (end == len(s) || !isWordByte(s[end])) {
			return true
		}
		from = start + 1
	}
	return false
}

func isWordByte(b byte) bool {
	return b == '_' || ('0' <= b && b <= '9') || ('A' <= b && b <= 'Z') || ('a' <= b && b <= 'z')
}
