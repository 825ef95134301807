// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package version

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestString(t *testing.T) {
	pre, build := PreRelease, BuildMetadata
	defer func() {
		PreRelease, BuildMetadata = pre, build
	}()

	PreRelease, BuildMetadata = "", ""
	require.Equal(t, "0.1.0", String())

	PreRelease, BuildMetadata = "rc1", "abc_def"
	require.Equal(t, "0.1.0-rc1+abcdef", String())
}
