// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package policy

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
		{ErrMalformed, "ErrMalformed"},
		{ErrInvalidThreshold, "ErrInvalidThreshold"},
		{ErrEmptyBranch, "ErrEmptyBranch"},
		{ErrDepthExceeded, "ErrDepthExceeded"},
		{ErrUnknownKey, "ErrUnknownKey"},
		{ErrInvalidWeight, "ErrInvalidWeight"},
		{ErrInvalidLockTime, "ErrInvalidLockTime"},
		{ErrInvalidHash, "ErrInvalidHash"},
		{ErrDuplicateKey, "ErrDuplicateKey"},
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

// TestIsErrorCode ensures IsErrorCode sees through wrapping.
func TestIsErrorCode(t *testing.T) {
	err := fmt.Errorf("wrapped: %w",
		policyError(ErrUnknownKey, "unknown key A"))
	if !IsErrorCode(err, ErrUnknownKey) {
		t.Fatalf("expected ErrUnknownKey")
	}
	if IsErrorCode(err, ErrMalformed) {
		t.Fatalf("unexpected ErrMalformed")
	}
	if IsErrorCode(fmt.Errorf("plain"), ErrMalformed) {
		t.Fatalf("plain error matched")
	}
}
