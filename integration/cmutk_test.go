// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linuxboot/tegracm/pkg/cmutk"
	"github.com/linuxboot/tegracm/pkg/compression"
	"github.com/linuxboot/tegracm/pkg/fdt"
	"github.com/linuxboot/tegracm/pkg/protocol"
	"github.com/linuxboot/tegracm/pkg/visitors"
)

// Core 1 of socket 0 is fused off, socket 1 is masked out.
const platformYAML = `
chip: th500
platform: silicon
socket_mask: 0x1
registers:
  0xC390078: 0x2
  0xC390080: 0xFE000000
hwinfo:
  oem_table_id: 0x2020203030354854
dsdt_uids:
  - _SB_.SQ00._UID
`

func cpu(name string, mpidr uint64, phandle, l2 uint32) *fdt.Node {
	return fdt.NewNode(name,
		fdt.PropString("device_type", "cpu"),
		fdt.PropU64("reg", mpidr),
		fdt.PropU32("phandle", phandle),
		fdt.PropU32("i-cache-size", 0x10000),
		fdt.PropU32("i-cache-sets", 256),
		fdt.PropU32("i-cache-line-size", 64),
		fdt.PropU32("d-cache-size", 0x10000),
		fdt.PropU32("d-cache-sets", 256),
		fdt.PropU32("d-cache-line-size", 64),
		fdt.PropU32("next-level-cache", l2),
	)
}

func cache(name string, phandle, level, next uint32) *fdt.Node {
	n := fdt.NewNode(name,
		fdt.PropString("compatible", "cache"),
		fdt.PropEmpty("cache-unified"),
		fdt.PropU32("phandle", phandle),
		fdt.PropU32("cache-level", level),
		fdt.PropU32("cache-size", 0x100000),
		fdt.PropU32("cache-sets", 2048),
		fdt.PropU32("cache-line-size", 64),
	)
	if next != 0 {
		n.Properties = append(n.Properties, fdt.PropU32("next-level-cache", next))
	}
	return n
}

func th500Tree() *fdt.Tree {
	t := fdt.NewTree()
	t.Root.Properties = []fdt.Property{fdt.PropU32("#address-cells", 2), fdt.PropU32("#size-cells", 2)}
	t.Root.Add(
		fdt.NewNode("socket@0").Add(
			fdt.NewNode("cpus", fdt.PropU32("#address-cells", 2), fdt.PropU32("#size-cells", 0)).Add(
				cpu("cpu@0", 0x0, 1, 10),
				cpu("cpu@10000", 0x10000, 2, 11),
			),
			cache("l2-cache0", 10, 2, 20),
			cache("l2-cache1", 11, 2, 20),
			cache("l3-cache", 20, 3, 0),
		),
		fdt.NewNode("its@22040000",
			fdt.PropString("compatible", "arm,gic-v3-its"),
			fdt.PropU64("reg", 0x22040000, 0x20000),
			fdt.PropU32("phandle", 30),
		),
		fdt.NewNode("smmu@11000000",
			fdt.PropString("compatible", "arm,smmu-v3"),
			fdt.PropU64("reg", 0x11000000, 0x200000),
			fdt.PropU32("interrupts",
				fdt.InterruptSPI, 10, fdt.IrqEdgeRising,
				fdt.InterruptSPI, 11, fdt.IrqEdgeRising),
			fdt.PropString("interrupt-names", "eventq", "gerror"),
			fdt.PropU32("msi-map", 0, 30, 0x10000, 1),
			fdt.PropEmpty("dma-coherent"),
			fdt.PropU32("phandle", 31),
		),
		fdt.NewNode("pcie@12000000",
			fdt.PropString("compatible", "nvidia,th500-pcie"),
			fdt.PropU64("reg", 0x12000000, 0x20000),
			fdt.PropU32("iommu-map", 0, 31, 0, 0x10000),
			fdt.PropU32("msi-map", 0, 30, 0, 0x10000),
			fdt.PropU32("linux,pci-domain", 0),
			fdt.PropEmpty("dma-coherent"),
		),
		fdt.NewNode("socket@1").Add(
			fdt.NewNode("fan", fdt.PropU32("phandle", 40), fdt.PropU32("#cooling-cells", 2)),
		),
		fdt.NewNode("fan", fdt.PropU32("phandle", 41), fdt.PropU32("#cooling-cells", 2)),
		fdt.NewNode("thermal-zones").Add(
			fdt.NewNode("cpu-thermal").Add(
				fdt.NewNode("cooling-maps").Add(
					fdt.NewNode("map0", fdt.PropU32("cooling-device", 40, 0, 1)),
					fdt.NewNode("map1", fdt.PropU32("cooling-device", 41, 0, 1, 40, 0, 1)),
				),
			),
		),
	)
	return t
}

// TestSweepBuildSave runs the whole pipeline the way the cmutk command
// does: floor-sweep, validate, dump the repository and save the tree.
func TestSweepBuildSave(t *testing.T) {
	dir := t.TempDir()
	b, err := th500Tree().Save(&compression.XZ{})
	require.NoError(t, err)
	in := filepath.Join(dir, "th500.dtb.xz")
	require.NoError(t, os.WriteFile(in, b, 0o644))
	cfg := filepath.Join(dir, "th500.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte(platformYAML), 0o644))
	out := filepath.Join(dir, "swept.dtb")

	var stdout bytes.Buffer
	prev := visitors.Stdout
	visitors.Stdout = &stdout
	defer func() { visitors.Stdout = prev }()

	opts := cmutk.Options{PlatformFile: cfg, Protocols: protocol.NewRegistry()}
	require.NoError(t, cmutk.Run(context.Background(), opts, in, "sweep", "validate", "save", out, "json"))

	var entries []struct {
		ID    string
		Count uint32
	}
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &entries), "invalid json: %q", stdout.String())
	counts := map[string]uint32{}
	for _, e := range entries {
		counts[e.ID] += e.Count
	}
	// cpu@0 I and D, its L2 and the shared L3.
	assert.Equal(t, uint32(4), counts["ArchCommonObjCacheInfo"])
	assert.Equal(t, uint32(1), counts["ArmObjSmmuV3"])
	assert.Equal(t, uint32(1), counts["ArmObjItsGroup"])
	assert.Equal(t, uint32(1), counts["ArmObjRootComplex"])

	saved, err := os.ReadFile(out)
	require.NoError(t, err)
	tree, c, err := fdt.Load(saved)
	require.NoError(t, err)
	assert.Nil(t, c)
	assert.NotNil(t, tree.Lookup("/socket@0/cpus/cpu@0"))
	assert.Nil(t, tree.Lookup("/socket@0/cpus/cpu@10000"))
	assert.Nil(t, tree.Lookup("/socket@0/l2-cache1"))
	l3 := tree.Lookup("/socket@0/l3-cache")
	require.NotNil(t, l3)
	sets, err := l3.U32("cache-sets")
	require.NoError(t, err)
	assert.Equal(t, uint32(2048), sets)

	assert.Nil(t, tree.Lookup("/socket@1"))
	want := fdt.NewNode("thermal-zones").Add(
		fdt.NewNode("cpu-thermal").Add(
			fdt.NewNode("cooling-maps").Add(
				fdt.NewNode("map1", fdt.PropU32("cooling-device", 41, 0, 1)),
			),
		),
	)
	treeOpts := cmp.Options{cmpopts.IgnoreUnexported(fdt.Node{}), cmpopts.EquateEmpty()}
	if diff := cmp.Diff(want, tree.Lookup("/thermal-zones"), treeOpts); diff != "" {
		t.Errorf("thermal zones (-want +got):\n%s", diff)
	}
}

// TestSweepIdempotent sweeps an already swept tree.
func TestSweepIdempotent(t *testing.T) {
	dir := t.TempDir()
	b, err := th500Tree().Bytes()
	require.NoError(t, err)
	in := filepath.Join(dir, "th500.dtb")
	require.NoError(t, os.WriteFile(in, b, 0o644))
	cfg := filepath.Join(dir, "th500.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte(platformYAML), 0o644))
	once := filepath.Join(dir, "once.dtb")
	twice := filepath.Join(dir, "twice.dtb")

	opts := cmutk.Options{PlatformFile: cfg, Protocols: protocol.NewRegistry()}
	require.NoError(t, cmutk.Run(context.Background(), opts, in, "sweep", "save", once))
	opts.Protocols = protocol.NewRegistry()
	require.NoError(t, cmutk.Run(context.Background(), opts, once, "sweep", "save", twice))

	a, err := os.ReadFile(once)
	require.NoError(t, err)
	z, err := os.ReadFile(twice)
	require.NoError(t, err)
	assert.Equal(t, a, z)
}
