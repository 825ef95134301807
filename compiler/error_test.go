// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package compiler

import (
	"fmt"
	"testing"
)

// TestErrorCodeStringer tests the stringized output for the ErrorCode type.
func TestErrorCodeStringer(t *testing.T) {
	tests := []struct {
		in   ErrorCode
		want string
	}{
		{ErrUnsatisfiableDissatisfaction, "ErrUnsatisfiableDissatisfaction"},
		{ErrUnsupportedEncoding, "ErrUnsupportedEncoding"},
		{ErrMalleable, "ErrMalleable"},
		{ErrResourceLimit, "ErrResourceLimit"},
		{ErrMixedTimelocks, "ErrMixedTimelocks"},
		{0xffff, "Unknown ErrorCode (65535)"},
	}

	// Detect additional error codes that don't have the stringer added.
	if len(tests)-1 != int(numErrorCodes) {
		t.Errorf("It appears an error code was added without adding " +
			"an associated stringer test")
	}

	for i, test := range tests {
		result := test.in.String()
		if result != test.want {
			t.Errorf("String #%d\n got: %s want: %s", i, result,
				test.want)
		}
	}
}

// TestError tests the error output for the Error type.
func TestError(t *testing.T) {
	tests := []struct {
		in   Error
		want string
	}{
		{
			Error{Description: "some error"},
			"some error",
		},
		{
			compileError(ErrMalleable, "human-readable error"),
			"human-readable error",
		},
	}

	for i, test := range tests {
		result := test.in.Error()
		if result != test.want {
			t.Errorf("Error #%d\n got: %s want: %s", i, result,
				test.want)
		}
	}

	err := fmt.Errorf("compiling: %w", compileError(ErrResourceLimit, "x"))
	if !IsErrorCode(err, ErrResourceLimit) {
		t.Fatalf("wrapped error code not matched")
	}
	if IsErrorCode(err, ErrMalleable) {
		t.Fatalf("unexpected ErrMalleable")
	}
}
