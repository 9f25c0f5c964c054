// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package types

import (
	"errors"
	"fmt"
)

// Error categories surfaced by the D1 driver. Every error returned by the
// driver wraps exactly one of these, so callers can branch with errors.Is.
var (
	// ErrOperational covers transport failures, HTTP error statuses and
	// vendor-reported SQL errors.
	ErrOperational = errors.New("d1: operational error")
	// ErrMissingColumnMetadata is returned when neither response shape
	// carried column names for a row-returning statement, even after the
	// metadata fallback was attempted.
	ErrMissingColumnMetadata = errors.New("d1: missing column metadata")
	// ErrInterface is returned when a closed connection or cursor is used,
	// or when the connection string cannot be interpreted.
	ErrInterface = errors.New("d1: interface error")
	// ErrNotSupported is returned for operations the selected transport
	// cannot perform.
	ErrNotSupported = errors.New("d1: not supported")
)

// Storage errors returned by the gorm translation layer.
var (
	ErrNotFound                      = errors.New("record not found")
	ErrDuplicateKey                  = errors.New("duplicate key")
	ErrForeignKeyViolation           = errors.New("foreign key violation")
	ErrCheckConstraintViolated       = errors.New("check constraint violated")
	ErrInvalidTransaction            = errors.New("invalid transaction")
	ErrNotImplemented                = errors.New("not implemented")
	ErrMissingWhereClause            = errors.New("missing where clause")
	ErrUnsupportedRelation           = errors.New("unsupported relation")
	ErrPrimaryKeyRequired            = errors.New("primary key required")
	ErrModelValueRequired            = errors.New("model value required")
	ErrModelAccessibleFieldsRequired = errors.New("model accessible fields required")
	ErrSubQueryRequired              = errors.New("sub query required")
	ErrInvalidData                   = errors.New("invalid data")
	ErrUnsupportedDriver             = errors.New("unsupported driver")
	ErrAlreadyRegistered             = errors.New("already registered")
	ErrInvalidField                  = errors.New("invalid field")
	ErrEmptySlice                    = errors.New("empty slice")
	ErrDryRunModeUnsupported         = errors.New("dry run mode unsupported")
	ErrInvalidDB                     = errors.New("invalid db")
	ErrInvalidValue                  = errors.New("invalid value")
	ErrInvalidValueLength            = errors.New("invalid value length")
	ErrPreloadNotAllowed             = errors.New("preload not allowed")
)

// OperationalError carries the details of a failed D1 call. Status is the HTTP
// status when the REST transport produced the error, zero otherwise. Message
// holds the vendor error text verbatim.
type OperationalError struct {
	Status  int
	Code    int
	Message string
	Cause   error
}

func (e *OperationalError) Error() string {
	switch {
	case e.Status != 0 && e.Message != "":
		return fmt.Sprintf("d1: HTTP %d: %s", e.Status, e.Message)
	case e.Status != 0:
		return fmt.Sprintf("d1: HTTP %d", e.Status)
	case e.Message != "" && e.Cause != nil:
		return fmt.Sprintf("d1: %s: %v", e.Message, e.Cause)
	case e.Message != "":
		return "d1: " + e.Message
	case e.Cause != nil:
		return "d1: " + e.Cause.Error()
	}
	return ErrOperational.Error()
}

// Is reports the error as belonging to the ErrOperational category.
func (e *OperationalError) Is(target error) bool {
	return target == ErrOperational
}

func (e *OperationalError) Unwrap() error {
	return e.Cause
}

// NewOperationalError builds an OperationalError around a transport failure.
func NewOperationalError(msg string, cause error) error {
	return &OperationalError{Message: msg, Cause: cause}
}

// NewVendorError builds an OperationalError holding a vendor-reported error.
func NewVendorError(status, code int, msg string) error {
	return &OperationalError{Status: status, Code: code, Message: msg}
}
