// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package visitors

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFind(t *testing.T) {
	byPath := func(r string) FindPredicate {
		p, err := FindPathPredicate(r)
		require.NoError(t, err)
		return p
	}
	for _, tc := range []struct {
		name string
		pred FindPredicate
		want []string
	}{
		{"base name", byPath("cpu"), []string{"/cpus/cpu@0", "/cpus/cpu@100"}},
		{"full name", byPath("cpu@100"), []string{"/cpus/cpu@100"}},
		{"path", byPath("/l2-cache.*"), []string{"/l2-cache0", "/l2-cache1"}},
		{"path anchored", byPath("/cpu@0"), []string{}},
		{"compatible", FindCompatiblePredicate("cache"), []string{"/l2-cache0", "/l2-cache1", "/l3-cache"}},
		{"phandle", FindPhandlePredicate(20), []string{"/l3-cache"}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var out bytes.Buffer
			find := &Find{Predicate: tc.pred, W: &out}
			require.NoError(t, find.Run(testTarget(t)))

			var paths []string
			require.NoError(t, json.Unmarshal(out.Bytes(), &paths))
			assert.ElementsMatch(t, tc.want, paths)
			assert.Len(t, find.Matches, len(tc.want))
		})
	}
}
