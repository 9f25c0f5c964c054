// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

//go:build !(js && wasm)

package binding

import (
	"github.com/pkg/errors"

	"github.com/cloudzero/cloudflare-d1/app/types"
)

// FromGlobal is only available when running inside a JavaScript host.
func FromGlobal(name string) (Binding, error) {
	return nil, errors.Wrapf(types.ErrNotSupported, "binding %q: no JavaScript runtime", name)
}
