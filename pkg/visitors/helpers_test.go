// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package visitors

import (
	"testing"

	"github.com/linuxboot/tegracm/pkg/fdt"
	"github.com/linuxboot/tegracm/pkg/platform"
	"github.com/linuxboot/tegracm/pkg/tegra"
)

func cpuNode(name string, mpidr uint64, phandle, l2 uint32) *fdt.Node {
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

func cacheNode(name string, phandle, level, size, next uint32) *fdt.Node {
	n := fdt.NewNode(name,
		fdt.PropString("compatible", "cache"),
		fdt.PropEmpty("cache-unified"),
		fdt.PropU32("phandle", phandle),
		fdt.PropU32("cache-level", level),
		fdt.PropU32("cache-size", size),
		fdt.PropU32("cache-sets", 512),
		fdt.PropU32("cache-line-size", 64),
	)
	if next != 0 {
		n.Properties = append(n.Properties, fdt.PropU32("next-level-cache", next))
	}
	return n
}

// testTree has two cores with private L2 caches sharing one L3, and a
// disabled UART.
func testTree() *fdt.Tree {
	t := fdt.NewTree()
	t.Root.Add(
		fdt.NewNode("cpus", fdt.PropU32("#address-cells", 2), fdt.PropU32("#size-cells", 0)).Add(
			cpuNode("cpu@0", 0x0, 1, 10),
			cpuNode("cpu@100", 0x100, 2, 11),
		),
		cacheNode("l2-cache0", 10, 2, 0x40000, 20),
		cacheNode("l2-cache1", 11, 2, 0x40000, 20),
		cacheNode("l3-cache", 20, 3, 0x200000, 0),
		fdt.NewNode("serial@3100000",
			fdt.PropString("compatible", "nvidia,tegra194-hsuart"),
			fdt.PropString("status", "disabled"),
		),
	)
	return t
}

func testTarget(t *testing.T) *Target {
	t.Helper()
	return &Target{
		Tree:     testTree(),
		Platform: platform.New(tegra.T194, tegra.Silicon),
	}
}
