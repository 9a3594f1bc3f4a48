// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package info

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/linuxboot/tegracm/cmds/cmtool/commands"
	"github.com/linuxboot/tegracm/pkg/floorsweep"
)

func TestExecute(t *testing.T) {
	var out bytes.Buffer
	cmd := &Command{
		PlatformOptions: commands.PlatformOptions{Chip: "th500", Platform: "vdk"},
		W:               &out,
	}
	require.NoError(t, cmd.Execute(nil))

	var info floorsweep.Info
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &info))
	assert.Equal(t, floorsweep.TH500CoresPerSocket, info.CoresPerSocket)
	require.Len(t, info.PcieDisableRegArray, floorsweep.TH500MaxSockets)
	for _, v := range info.PcieDisableRegArray {
		assert.Equal(t, uint32(floorsweep.TH500PcieVDKDisable), v)
	}
	assert.True(t, info.HasGlobalThermals)
}

func TestExecuteNoInfo(t *testing.T) {
	var out bytes.Buffer
	cmd := &Command{
		PlatformOptions: commands.PlatformOptions{Chip: "t194", Platform: "silicon"},
		W:               &out,
	}
	require.NoError(t, cmd.Execute(nil))
	assert.Equal(t, "# T194 has no floor-sweeping description\n", out.String())
}
