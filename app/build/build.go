// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package build exposes version information stamped at link time with
// -ldflags "-X github.com/cloudzero/cloudflare-d1/app/build.Rev=...".
package build

import (
	"runtime/debug"

	"github.com/go-obvious/server"
)

var (
	Rev  = ""
	Tag  = ""
	Time = ""
)

// Version returns the release tag, falling back to the module version
// recorded by the Go toolchain and finally to "dev".
func Version() string {
	if Tag != "" {
		return Tag
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return "dev"
}

// ServerVersion is the version reported by the server's /version endpoint.
func ServerVersion() *server.ServerVersion {
	rev := Rev
	if rev == "" {
		rev = "latest"
	}
	return &server.ServerVersion{
		Revision: rev,
		Tag:      Version(),
		Time:     Time,
	}
}
