// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package miniscript

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode identifies a kind of miniscript error.
type ErrorCode int

// These constants are used to identify a specific Error.
const (
	// ErrTypeCheck indicates fragments that do not compose into a valid
	// script.
	ErrTypeCheck ErrorCode = iota

	// ErrResourceLimit indicates a script exceeding the size or op count
	// limit of its context.
	ErrResourceLimit

	// ErrUnsupportedEncoding indicates a script using an opcode the
	// requested script flags do not enable.
	ErrUnsupportedEncoding

	// ErrDescriptorParse indicates a descriptor which could not be parsed,
	// including one with a bad checksum.
	ErrDescriptorParse

	// ErrUnresolvedKey indicates a key without a public key where one is
	// needed to build the script.
	ErrUnresolvedKey

	// ErrUnsatisfiable indicates the signing context does not hold what
	// is needed to satisfy the script.
	ErrUnsatisfiable

	// ErrTimelockNotMet indicates the script could be satisfied but for
	// timelocks that have not expired yet. It refines ErrUnsatisfiable.
	ErrTimelockNotMet

	// ErrMixedTimelocks indicates a script with a spending path that needs
	// both a height and a time lock of the same kind, which no
	// transaction can meet.
	ErrMixedTimelocks

	// numErrorCodes is the maximum error code number used in tests.
	numErrorCodes
)

// Map of ErrorCode values back to their constant names for pretty printing.
var errorCodeStrings = map[ErrorCode]string{
	ErrTypeCheck:           "ErrTypeCheck",
	ErrResourceLimit:       "ErrResourceLimit",
	ErrUnsupportedEncoding: "ErrUnsupportedEncoding",
	ErrDescriptorParse:     "ErrDescriptorParse",
	ErrUnresolvedKey:       "ErrUnresolvedKey",
	ErrUnsatisfiable:       "ErrUnsatisfiable",
	ErrTimelockNotMet:      "ErrTimelockNotMet",
	ErrMixedTimelocks:      "ErrMixedTimelocks",
}

// String returns the ErrorCode as a human-readable name.
func (e ErrorCode) String() string {
	if s := errorCodeStrings[e]; s != "" {
		return s
	}
	return fmt.Sprintf("Unknown ErrorCode (%d)", int(e))
}

// Error identifies a script that cannot be built, serialized or parsed.
type Error struct {
	ErrorCode   ErrorCode // Describes the kind of error
	Description string    // Human readable description of the issue
}

// Error satisfies the error interface and prints human-readable errors.
func (e Error) Error() string {
	return e.Description
}

// scriptError creates an Error given a set of arguments.
func scriptError(c ErrorCode, desc string) Error {
	return Error{ErrorCode: c, Description: desc}
}

func typeError(format string, args ...interface{}) Error {
	return scriptError(ErrTypeCheck, fmt.Sprintf(format, args...))
}

// SatisfyError is returned when no witness can be produced. It lists every
// leaf of the script the signing context could not provide.
type SatisfyError struct {
	// ErrorCode is ErrTimelockNotMet if only timelocks stand in the way
	// and ErrUnsatisfiable otherwise.
	ErrorCode ErrorCode

	// MissingSignatures are the names of keys without a signature.
	MissingSignatures []string

	// MissingPreimages are the hex digests without a matching preimage.
	MissingPreimages []string

	// UnmetTimelocks are the after(n) and older(n) fragments that have not
	// expired yet.
	UnmetTimelocks []string
}

// Error satisfies the error interface and prints human-readable errors.
func (e *SatisfyError) Error() string {
	var parts []string
	if len(e.MissingSignatures) > 0 {
		parts = append(parts, "missing signatures for "+
			strings.Join(e.MissingSignatures, ", "))
	}
	if len(e.MissingPreimages) > 0 {
		parts = append(parts, "missing preimages for "+
			strings.Join(e.MissingPreimages, ", "))
	}
	if len(e.UnmetTimelocks) > 0 {
		parts = append(parts, "unmet timelocks "+
			strings.Join(e.UnmetTimelocks, ", "))
	}
	if len(parts) == 0 {
		return "no satisfaction could be found"
	}
	return "no satisfaction could be found: " + strings.Join(parts, "; ")
}

// IsErrorCode returns whether err is an Error or a SatisfyError with a
// matching error code. A SatisfyError with ErrTimelockNotMet also matches
// ErrUnsatisfiable.
func IsErrorCode(err error, c ErrorCode) bool {
	var e Error
	if errors.As(err, &e) {
		return e.ErrorCode == c
	}
	var se *SatisfyError
	if errors.As(err, &se) {
		return se.ErrorCode == c || (c == ErrUnsatisfiable &&
			se.ErrorCode == ErrTimelockNotMet)
	}
	return false
}
