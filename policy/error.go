// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package policy

import (
	"errors"
	"fmt"
)

// ErrorCode identifies a kind of policy error.
type ErrorCode int

// These constants are used to identify a specific Error.
const (
	// ErrMalformed indicates the policy text does not follow the grammar.
	ErrMalformed ErrorCode = iota

	// ErrInvalidThreshold indicates a threshold k outside of [1, n].
	ErrInvalidThreshold

	// ErrEmptyBranch indicates a combinator without the children it
	// needs.
	ErrEmptyBranch

	// ErrDepthExceeded indicates the policy nests deeper than the
	// configured limit.
	ErrDepthExceeded

	// ErrUnknownKey indicates a key identifier the key provider could not
	// resolve.
	ErrUnknownKey

	// ErrInvalidWeight indicates an OR branch weight that is not a finite
	// positive number.
	ErrInvalidWeight

	// ErrInvalidLockTime indicates a timelock value outside of [1, 2^31).
	ErrInvalidLockTime

	// ErrInvalidHash indicates a digest with the wrong length or encoding.
	ErrInvalidHash

	// ErrDuplicateKey indicates the same key identifier is used more than
	// once.
	ErrDuplicateKey

	// numErrorCodes is the maximum error code number used in tests.
	numErrorCodes
)

// Map of ErrorCode values back to their constant names for pretty printing.
var errorCodeStrings = map[ErrorCode]string{
	ErrMalformed:        "ErrMalformed",
	ErrInvalidThreshold: "ErrInvalidThreshold",
	ErrEmptyBranch:      "ErrEmptyBranch",
	ErrDepthExceeded:    "ErrDepthExceeded",
	ErrUnknownKey:       "ErrUnknownKey",
	ErrInvalidWeight:    "ErrInvalidWeight",
	ErrInvalidLockTime:  "ErrInvalidLockTime",
	ErrInvalidHash:      "ErrInvalidHash",
	ErrDuplicateKey:     "ErrDuplicateKey",
}

// String returns the ErrorCode as a human-readable name.
func (e ErrorCode) String() string {
	if s := errorCodeStrings[e]; s != "" {
		return s
	}
	return fmt.Sprintf("Unknown ErrorCode (%d)", int(e))
}

// Error identifies a policy that cannot be used. It is fatal for the policy
// in question: the caller has to fix the policy text.
type Error struct {
	ErrorCode   ErrorCode // Describes the kind of error
	Description string    // Human readable description of the issue
}

// Error satisfies the error interface and prints human-readable errors.
func (e Error) Error() string {
	return e.Description
}

// policyError creates an Error given a set of arguments.
func policyError(c ErrorCode, desc string) Error {
	return Error{ErrorCode: c, Description: desc}
}

// IsErrorCode returns whether err is an Error with a matching error code.
func IsErrorCode(err error, c ErrorCode) bool {
	var e Error
	return errors.As(err, &e) && e.ErrorCode == c
}
