// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

//go:build tools

// Package tools pins the code generators and linters used on this module so
// `go install` builds the same versions everywhere:
//
//	go install go.uber.org/mock/mockgen honnef.co/go/tools/cmd/staticcheck mvdan.cc/gofumpt
//
// mockgen regenerates app/domain/binding/mocks through go:generate.
package tools

import (
	_ "go.uber.org/mock/mockgen"
	_ "honnef.co/go/tools/cmd/staticcheck"
	_ "mvdan.cc/gofumpt"
)
