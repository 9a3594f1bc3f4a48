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

// TestJSON checks that the repository produces valid JSON with one object
// per entry.
func TestJSON(t *testing.T) {
	target := testTarget(t)
	out := &bytes.Buffer{}
	require.NoError(t, (&JSON{W: out}).Run(target))

	var dec []map[string]interface{}
	require.NoError(t, json.Unmarshal(out.Bytes(), &dec), "invalid json: %q", out.String())
	assert.Len(t, dec, target.Repo.Len())
	for _, e := range dec {
		assert.Contains(t, e, "ID")
		assert.Contains(t, e, "Data")
	}
}
