// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package visitors

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linuxboot/tegracm/pkg/fdt"
	"github.com/linuxboot/tegracm/pkg/floorsweep"
	"github.com/linuxboot/tegracm/pkg/platform"
	"github.com/linuxboot/tegracm/pkg/tegra"
)

func th500Target(t *testing.T) *Target {
	cpu := func(name string, mpidr uint64) *fdt.Node {
		return fdt.NewNode(name, fdt.PropString("device_type", "cpu"), fdt.PropU64("reg", mpidr))
	}
	tree := fdt.NewTree()
	tree.Root.Add(fdt.NewNode("socket@0").Add(
		fdt.NewNode("cpus").Add(cpu("cpu@0", 0), cpu("cpu@10000", 0x10000)),
		fdt.NewNode("l3-cache"),
	))
	p := platform.New(tegra.TH500, tegra.Silicon)
	// Core 1 disabled, SatMC field unprogrammed.
	p.Registers[floorsweep.TH500ScratchBase+0x78] = 0x2
	p.Registers[floorsweep.TH500ScratchBase+0x80] = 0x7F << 25
	return &Target{Tree: tree, Platform: p}
}

func TestSweep(t *testing.T) {
	target := th500Target(t)
	require.NoError(t, (&Sweep{}).Run(target))
	assert.NotNil(t, target.Tree.Lookup("/socket@0/cpus/cpu@0"))
	assert.Nil(t, target.Tree.Lookup("/socket@0/cpus/cpu@10000"))

	// Sweeping again changes nothing.
	before := target.Tree.Clone()
	require.NoError(t, (&Sweep{}).Run(target))
	assert.Equal(t, len(before.Root.Children), len(target.Tree.Root.Children))
	assert.Len(t, target.Tree.Lookup("/socket@0/cpus").Children, 1)
}

func TestSweepCancelled(t *testing.T) {
	target := th500Target(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	target.Context = ctx
	assert.ErrorIs(t, (&Sweep{}).Run(target), context.Canceled)
}

func TestSweepWithoutFloorSweepInfo(t *testing.T) {
	target := testTarget(t)
	require.NoError(t, (&Sweep{}).Run(target))
	assert.NotNil(t, target.Tree.Lookup("/cpus/cpu@100"))
}
