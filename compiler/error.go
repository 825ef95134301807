// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package compiler

import (
	"errors"
	"fmt"
)

// ErrorCode identifies a kind of compile error.
type ErrorCode int

// These constants are used to identify a specific Error.
const (
	// ErrUnsatisfiableDissatisfaction indicates a threshold child without
	// a dissatisfaction, such as a timelock, which the weighted sum
	// encoding of thresholds needs.
	ErrUnsatisfiableDissatisfaction ErrorCode = iota

	// ErrUnsupportedEncoding indicates a policy needing an opcode the
	// configured script flags do not enable.
	ErrUnsupportedEncoding

	// ErrMalleable indicates a policy without any non-malleable encoding.
	ErrMalleable

	// ErrResourceLimit indicates every encoding of the policy exceeds the
	// script size or op count limit of the context.
	ErrResourceLimit

	// ErrMixedTimelocks indicates a policy where some spending path needs
	// both a height and a time based timelock of the same kind.
	ErrMixedTimelocks

	// numErrorCodes is the maximum error code number used in tests.
	numErrorCodes
)

// Map of ErrorCode values back to their constant names for pretty printing.
var errorCodeStrings = map[ErrorCode]string{
	ErrUnsatisfiableDissatisfaction: "ErrUnsatisfiableDissatisfaction",
	ErrUnsupportedEncoding:          "ErrUnsupportedEncoding",
	ErrMalleable:                    "ErrMalleable",
	ErrResourceLimit:                "ErrResourceLimit",
	ErrMixedTimelocks:               "ErrMixedTimelocks",
}

// String returns the ErrorCode as a human-readable name.
func (e ErrorCode) String() string {
	if s := errorCodeStrings[e]; s != "" {
		return s
	}
	return fmt.Sprintf("Unknown ErrorCode (%d)", int(e))
}

// Error identifies a policy that cannot be compiled. Errors of the policy
// model, such as an unknown key, are returned as policy.Error instead.
type Error struct {
	ErrorCode   ErrorCode // Describes the kind of error
	Description string    // Human readable description of the issue
}

// Error satisfies the error interface and prints human-readable errors.
func (e Error) Error() string {
	return e.Description
}

// compileError creates an Error given a set of arguments.
func compileError(c ErrorCode, desc string) Error {
	return Error{ErrorCode: c, Description: desc}
}

// IsErrorCode returns whether err is an Error with a matching error code.
func IsErrorCode(err error, c ErrorCode) bool {
	var e Error
	return errors.As(err, &e) && e.ErrorCode == c
}
