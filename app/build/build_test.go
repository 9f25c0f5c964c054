// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package build_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cloudzero/cloudflare-d1/app/build"
)

func TestUnit_Build_ServerVersion(t *testing.T) {
	oldRev, oldTag, oldTime := build.Rev, build.Tag, build.Time
	t.Cleanup(func() { build.Rev, build.Tag, build.Time = oldRev, oldTag, oldTime })

	build.Rev, build.Tag, build.Time = "abc123", "v1.2.3", "2025-01-01T00:00:00Z"
	v := build.ServerVersion()
	assert.Equal(t, "abc123", v.Revision)
	assert.Equal(t, "v1.2.3", v.Tag)
	assert.Equal(t, "2025-01-01T00:00:00Z", v.Time)
	assert.Equal(t, "v1.2.3", build.Version())

	build.Rev, build.Tag = "", ""
	v = build.ServerVersion()
	assert.Equal(t, "latest", v.Revision)
	assert.NotEmpty(t, v.Tag)
}
