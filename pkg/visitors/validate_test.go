// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package visitors

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linuxboot/tegracm/pkg/fdt"
)

func TestValidate(t *testing.T) {
	for _, tc := range []struct {
		name   string
		modify func(*fdt.Tree)
		msgs   []string
	}{
		{"clean", func(*fdt.Tree) {}, nil},
		{"duplicate phandle", func(tree *fdt.Tree) {
			tree.Root.Add(fdt.NewNode("dup", fdt.PropU32("phandle", 20)))
		}, []string{"phandle 0x14 used by /l3-cache and /dup"}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			target := testTarget(t)
			tc.modify(target.Tree)
			var out bytes.Buffer
			v := &Validate{W: &out}
			err := v.Run(target)
			if len(tc.msgs) == 0 {
				require.NoError(t, err)
				assert.Empty(t, v.Errors)
				assert.NotNil(t, target.Repo)
				return
			}
			require.Error(t, err)
			require.GreaterOrEqual(t, len(v.Errors), len(tc.msgs))
			for i, msg := range tc.msgs {
				assert.Equal(t, msg, v.Errors[i].Error())
				assert.Contains(t, out.String(), msg)
			}
		})
	}
}
