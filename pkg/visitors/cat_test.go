// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package visitors

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linuxboot/tegracm/pkg/status"
)

func TestFormatValue(t *testing.T) {
	for _, tc := range []struct {
		name string
		in   []byte
		want string
	}{
		{"string", []byte("okay\x00"), `"okay"`},
		{"string list", []byte("arm,a\x00arm,b\x00"), `"arm,a", "arm,b"`},
		{"cells", []byte{0, 0, 0, 1, 0, 0, 0x10, 0}, "<0x1 0x1000>"},
		{"zero cell", []byte{0, 0, 0, 0}, "<0x0>"},
		{"bytes", []byte{1, 2, 3}, "[01 02 03]"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, FormatValue(tc.in))
		})
	}
}

func TestCat(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, (&Cat{Path: "/l3-cache", Writer: &out}).Run(testTarget(t)))
	assert.Equal(t, `l3-cache {
	compatible = "cache";
	cache-unified;
	phandle = <0x14>;
	cache-level = <0x3>;
	cache-size = <0x200000>;
	cache-sets = <0x200>;
	cache-line-size = <0x40>;
};
`, out.String())

	out.Reset()
	require.NoError(t, (&Cat{Path: "/cpus", Writer: &out}).Run(testTarget(t)))
	assert.Contains(t, out.String(), "/* 2 children */")

	out.Reset()
	require.NoError(t, (&Cat{Path: "/cpus", Recurse: true, Writer: &out}).Run(testTarget(t)))
	assert.Contains(t, out.String(), "\tcpu@100 {\n\t\tdevice_type = \"cpu\";\n")

	err := (&Cat{Path: "/missing", Writer: &out}).Run(testTarget(t))
	assert.ErrorIs(t, err, status.ErrNotFound)
}
