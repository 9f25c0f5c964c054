// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package d1

import (
	"database/sql/driver"
	"encoding/base64"
	"fmt"
)

// Blob is a binary column value. Bytes travel to D1 as base64 text, so a
// Blob decodes that text again when it is read back.
type Blob []byte

// GormDataType maps Blob columns to BLOB.
func (Blob) GormDataType() string {
	return "bytes"
}

// Value implements driver.Valuer.
func (b Blob) Value() (driver.Value, error) {
	if b == nil {
		return nil, nil
	}
	return []byte(b), nil
}

// Scan implements sql.Scanner.
func (b *Blob) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*b = nil
	case string:
		raw, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return fmt.Errorf("d1: blob is not base64: %w", err)
		}
		*b = raw
	case []byte:
		*b = append(Blob{}, v...)
	default:
		return fmt.Errorf("d1: cannot scan %T into Blob", src)
	}
	return nil
}
