// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package iort

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linuxboot/tegracm/pkg/aml"
	"github.com/linuxboot/tegracm/pkg/cm"
	"github.com/linuxboot/tegracm/pkg/fdt"
	"github.com/linuxboot/tegracm/pkg/hwinfo"
	"github.com/linuxboot/tegracm/pkg/status"
	"github.com/linuxboot/tegracm/pkg/tegra"
)

const (
	phITS  = 1
	phSMMU = 2
	phPCIe = 3
	phMMU  = 5
)

func newHandle(t *testing.T, tree *fdt.Tree, chip tegra.Chip) *hwinfo.Handle {
	t.Helper()
	b, err := cm.NewBuilder(64)
	require.NoError(t, err)
	return &hwinfo.Handle{Tree: tree, Repo: b, Chip: chip, Platform: tegra.Silicon}
}

func serverTree() *fdt.Tree {
	t := fdt.NewTree()
	t.Root.Properties = []fdt.Property{fdt.PropU32("#address-cells", 2), fdt.PropU32("#size-cells", 2)}
	t.Root.Add(
		fdt.NewNode("its@22040000",
			fdt.PropString("compatible", "arm,gic-v3-its"),
			fdt.PropU64("reg", 0x22040000, 0x20000),
			fdt.PropU32("phandle", phITS),
		),
		fdt.NewNode("smmu@11000000",
			fdt.PropString("compatible", "arm,smmu-v3"),
			fdt.PropU64("reg", 0x11000000, 0x200000),
			fdt.PropU32("interrupts",
				fdt.InterruptSPI, 10, fdt.IrqEdgeRising,
				fdt.InterruptSPI, 11, fdt.IrqEdgeRising,
				fdt.InterruptSPI, 12, fdt.IrqEdgeRising,
				fdt.InterruptSPI, 13, fdt.IrqEdgeRising),
			fdt.PropString("interrupt-names", "eventq", "gerror", "priq", "cmdq-sync"),
			fdt.PropU32("msi-map", 0, phITS, 0x10000, 1),
			fdt.PropU32("numa-node-id", 1),
			fdt.PropEmpty("dma-coherent"),
			fdt.PropU32("phandle", phSMMU),
		),
		fdt.NewNode("pcie@12000000",
			fdt.PropString("compatible", "nvidia,th500-pcie"),
			fdt.PropU64("reg", 0x12000000, 0x20000),
			fdt.PropU32("iommu-map", 0, phSMMU, 0, 0x10000),
			fdt.PropU32("msi-map", 0, phITS, 0, 0x10000),
			fdt.PropU32("linux,pci-domain", 5),
			fdt.PropU32("dma-ranges", 0x02000000, 0, 0, 0, 0, 1, 0),
			fdt.PropEmpty("dma-coherent"),
			fdt.PropEmpty("ats-supported"),
			fdt.PropU32("phandle", phPCIe),
		),
		fdt.NewNode("pmcg@13000000",
			fdt.PropString("compatible", "arm,smmu-v3-pmcg"),
			fdt.PropU64("reg", 0x13000000, 0x1000, 0x13010000, 0x1000),
			fdt.PropU32("interrupts", fdt.InterruptSPI, 20, fdt.IrqLevelHigh),
			fdt.PropU32("devices", phSMMU),
		),
		fdt.NewNode("pcie@14000000",
			fdt.PropString("compatible", "nvidia,th500-pcie"),
			fdt.PropU64("reg", 0x14000000, 0x20000),
			fdt.PropString("status", "disabled"),
		),
	)
	return t
}

func TestDeviceMapOrder(t *testing.T) {
	require.NoError(t, ValidateDeviceMap(DeviceMap))

	err := ValidateDeviceMap([]Device{
		{Kind: cm.ArmObjRootComplex, Compatible: "a"},
		{Kind: cm.ArmObjItsGroup, Compatible: "b"},
		{Kind: cm.ArchCommonObjCmRef, Compatible: "c"},
	})
	require.Error(t, err)
	var merr *multierror.Error
	require.True(t, errors.As(err, &merr))
	assert.Len(t, merr.Errors, 2)
	var order *ErrMapOrder
	require.True(t, errors.As(err, &order))
	assert.Equal(t, 1, order.Index)
	var kind *ErrMapKind
	require.True(t, errors.As(err, &kind))
	assert.Equal(t, 2, kind.Index)
}

func TestBuildServer(t *testing.T) {
	dsdt := aml.NewTable("DSDT")
	uid := dsdt.Define("_SB_.SQ00._UID", make([]byte, 4))
	h := newHandle(t, serverTree(), tegra.TH500)
	h.AML = dsdt
	h.Config.OemTableID = 0x20202020

	require.NoError(t, Parser.Parse(h))
	_, err := h.Repo.Finish()
	require.NoError(t, err, "every reference resolves")

	its, err := cm.Objects[cm.ItsGroupNode](h.Repo, cm.ArmObjItsGroup, cm.NullToken)
	require.NoError(t, err)
	require.Len(t, its, 1)
	assert.Equal(t, uint32(0), its[0].Identifier)
	ids, err := cm.Objects[cm.ItsIdentifier](h.Repo, cm.ArmObjGicItsIdentifierArray, its[0].ItsIdToken)
	require.NoError(t, err)
	assert.Equal(t, []cm.ItsIdentifier{{ItsID: 0}}, ids)

	smmu, err := cm.Objects[cm.SmmuV3Node](h.Repo, cm.ArmObjSmmuV3, cm.NullToken)
	require.NoError(t, err)
	require.Len(t, smmu, 1)
	s := smmu[0]
	assert.Equal(t, uint32(1), s.Identifier)
	assert.Equal(t, uint64(0x11000000), s.BaseAddress)
	assert.Equal(t, SmmuV3FlagProxDomain|SmmuV3FlagCohacOvr, s.Flags)
	assert.Equal(t, uint32(1), s.ProximityDomain)
	assert.Equal(t, uint32(42), s.EventInterrupt)
	assert.Equal(t, uint32(43), s.GerrInterrupt)
	assert.Equal(t, uint32(44), s.PriInterrupt)
	assert.Equal(t, uint32(45), s.SyncInterrupt)
	assert.Equal(t, uint32(0), s.DeviceIdMappingIndex)
	require.Equal(t, uint32(2), s.IdMappingCount)
	maps, err := cm.Objects[cm.IdMapping](h.Repo, cm.ArmObjIdMappingArray, s.IdMappingToken)
	require.NoError(t, err)
	assert.Equal(t, []cm.IdMapping{
		{InputBase: 0, NumIds: 0, OutputBase: 0x10000, OutputReferenceToken: its[0].Token, Flags: IDMappingSingle},
		{InputBase: 0, NumIds: 0xffff, OutputBase: 0, OutputReferenceToken: its[0].Token},
	}, maps)

	rc, err := cm.Objects[cm.RootComplexNode](h.Repo, cm.ArmObjRootComplex, cm.NullToken)
	require.NoError(t, err)
	require.Len(t, rc, 1, "disabled root complex skipped")
	r := rc[0]
	assert.Equal(t, uint8(32), r.MemoryAddressSize)
	assert.Equal(t, MemAccessPropCCA, r.CacheCoherent)
	assert.Equal(t, MemAccessFlagCPM, r.MemoryAccessFlags)
	assert.Equal(t, RootComplexATSSupp, r.AtsAttribute)
	assert.Equal(t, uint32(5), r.PciSegmentNumber)
	maps, err = cm.Objects[cm.IdMapping](h.Repo, cm.ArmObjIdMappingArray, r.IdMappingToken)
	require.NoError(t, err)
	assert.Equal(t, []cm.IdMapping{{NumIds: 0xffff, OutputReferenceToken: s.Token}}, maps)

	pmcg, err := cm.Objects[cm.PmcgNode](h.Repo, cm.ArmObjPmcg, cm.NullToken)
	require.NoError(t, err)
	require.Len(t, pmcg, 1)
	assert.Equal(t, uint64(0x13010000), pmcg[0].Page1BaseAddress)
	assert.Equal(t, uint32(52), pmcg[0].OverflowInterrupt)
	assert.Equal(t, s.Token, pmcg[0].ReferenceToken)
	assert.Equal(t, uint32(0), pmcg[0].IdMappingCount)

	tables, err := cm.Objects[cm.AcpiTableInfo](h.Repo, cm.StdObjAcpiTableList, cm.NullToken)
	require.NoError(t, err)
	require.Len(t, tables, 1)
	assert.Equal(t, cm.StdAcpiTableIDIort, tables[0].TableGeneratorID)
	assert.Equal(t, uint64(0x20202020), tables[0].OemTableID)

	data, err := dsdt.GetNodeData(uid)
	require.NoError(t, err)
	assert.Equal(t, s.Identifier, binary.LittleEndian.Uint32(data))
}

func TestBuildSmmuV3Interrupts(t *testing.T) {
	spis := func(n int) []uint32 {
		var cells []uint32
		for i := 0; i < n; i++ {
			cells = append(cells, fdt.InterruptSPI, uint32(10+i), fdt.IrqEdgeRising)
		}
		return cells
	}
	for _, tt := range []struct {
		name  string
		irqs  int
		names []string
		err   error
	}{
		{name: "combined", irqs: 1, names: []string{"combined"}},
		{name: "combined over slots", irqs: 5, names: []string{"combined", "eventq", "gerror", "priq", "cmdq-sync"}, err: status.ErrDeviceError},
		{name: "split over slots", irqs: 5, names: []string{"eventq", "gerror", "priq", "cmdq-sync", "eventq"}, err: status.ErrDeviceError},
		{name: "unknown name", irqs: 2, names: []string{"eventq", "pri"}, err: status.ErrDeviceError},
	} {
		t.Run(tt.name, func(t *testing.T) {
			tree := serverTree()
			smmu := tree.Lookup("/smmu@11000000")
			smmu.SetU32("interrupts", spis(tt.irqs)...)
			smmu.SetProp("interrupt-names", fdt.PropString("", tt.names...).Value)
			h := newHandle(t, tree, tegra.TH500)

			err := Parser.Parse(h)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			nodes, err := cm.Objects[cm.SmmuV3Node](h.Repo, cm.ArmObjSmmuV3, cm.NullToken)
			require.NoError(t, err)
			require.Len(t, nodes, 1)
			n := nodes[0]
			assert.NotZero(t, n.EventInterrupt)
			assert.Equal(t, n.EventInterrupt, n.PriInterrupt)
			assert.Equal(t, n.EventInterrupt, n.GerrInterrupt)
			assert.Equal(t, n.EventInterrupt, n.SyncInterrupt)
		})
	}
}

func TestBuildPmcgOffSilicon(t *testing.T) {
	h := newHandle(t, serverTree(), tegra.TH500)
	h.Platform = tegra.VDK
	require.NoError(t, Parser.Parse(h))
	_, err := h.Repo.FindEntry(cm.ArmObjPmcg, cm.NullToken)
	assert.True(t, status.IsNotFound(err))
	_, err = h.Repo.Finish()
	require.NoError(t, err)
}

func dualTree() *fdt.Tree {
	t := fdt.NewTree()
	t.Root.Properties = []fdt.Property{fdt.PropU32("#address-cells", 2), fdt.PropU32("#size-cells", 2)}
	t.Root.Add(
		fdt.NewNode("aliases", fdt.PropString("nvdla0", "/nvdla@15880000")),
		fdt.NewNode("iommu@8000000",
			fdt.PropString("compatible", "nvidia,tegra234-smmu"),
			fdt.PropU64("reg", 0x8000000, 0x1000000, 0x7000000, 0x1000000),
			fdt.PropU32("#global-interrupts", 1),
			fdt.PropU32("interrupts",
				fdt.InterruptSPI, 170, fdt.IrqLevelHigh,
				fdt.InterruptSPI, 232, fdt.IrqEdgeRising,
				fdt.InterruptSPI, 233, fdt.IrqLevelHigh),
			fdt.PropU32("phandle", phMMU),
		),
		fdt.NewNode("pmu",
			fdt.PropString("compatible", "arm,armv8-pmuv3"),
			fdt.PropU32("interrupts", fdt.InterruptPPI, 7, fdt.IrqLevelHigh),
		),
		fdt.NewNode("nvdla@15880000",
			fdt.PropString("compatible", "nvidia,tegra234-nvdla"),
			fdt.PropU64("reg", 0x15880000, 0x40000),
			fdt.PropU32("iommus", phMMU, 0x1c),
		),
	)
	return t
}

func TestBuildDualSmmu(t *testing.T) {
	h := newHandle(t, dualTree(), tegra.T234)
	h.Config.EnableIortTableGen = true
	require.NoError(t, Parser.Parse(h))
	_, err := h.Repo.Finish()
	require.NoError(t, err)

	smmu, err := cm.Objects[cm.SmmuV1V2Node](h.Repo, cm.ArmObjSmmuV1SmmuV2, cm.NullToken)
	require.NoError(t, err)
	require.Len(t, smmu, 2)
	assert.Equal(t, uint64(0x8000000), smmu[0].BaseAddress)
	assert.Equal(t, uint64(0x7000000), smmu[1].BaseAddress)
	assert.Equal(t, uint32(202), smmu[0].NSgIrpt)
	assert.Equal(t, SmmuInterruptLevel, smmu[0].NSgIrptFlags)
	assert.Equal(t, SmmuV1V2ModelMMU500, smmu[0].Model)
	require.Equal(t, uint32(2), smmu[0].ContextInterruptCount)
	ctx, err := cm.Objects[cm.SmmuInterrupt](h.Repo, cm.ArmObjSmmuInterruptArray, smmu[0].ContextInterruptToken)
	require.NoError(t, err)
	assert.Equal(t, []cm.SmmuInterrupt{{Interrupt: 264, Flags: SmmuInterruptEdge}, {Interrupt: 265, Flags: SmmuInterruptLevel}}, ctx)
	pmu, err := cm.Objects[cm.SmmuInterrupt](h.Repo, cm.ArmObjSmmuInterruptArray, smmu[0].PmuInterruptToken)
	require.NoError(t, err)
	assert.Equal(t, []cm.SmmuInterrupt{{Interrupt: 23, Flags: SmmuInterruptLevel}}, pmu)
	assert.Equal(t, cm.NullToken, smmu[0].IdMappingToken)

	nc, err := cm.Objects[cm.NamedComponentNode](h.Repo, cm.ArmObjNamedComponent, cm.NullToken)
	require.NoError(t, err)
	require.Len(t, nc, 1)
	assert.Equal(t, `\_SB.DLA0`, nc[0].ObjectName)
	assert.Equal(t, uint8(40), nc[0].AddressSizeLimit)
	maps, err := cm.Objects[cm.IdMapping](h.Repo, cm.ArmObjIdMappingArray, nc[0].IdMappingToken)
	require.NoError(t, err)
	assert.Equal(t, []cm.IdMapping{
		{OutputBase: 0x1c, Flags: IDMappingSingle, OutputReferenceToken: smmu[0].Token},
		{InputBase: 1, OutputBase: 0x1c, Flags: IDMappingSingle, OutputReferenceToken: smmu[1].Token},
	}, maps)

	path, err := FindPropNodeByPhandleInstance(h, DeviceMap, phMMU, 2)
	require.NoError(t, err)
	assert.Equal(t, "/iommu@8000000", path)
	_, err = FindPropNodeByPhandleInstance(h, DeviceMap, phMMU, 3)
	assert.True(t, status.IsNotFound(err))
}

func TestBuildCleansUpOnFailure(t *testing.T) {
	tree := dualTree()
	tree.Root.Remove(tree.Lookup("/pmu"))
	h := newHandle(t, tree, tegra.T234)
	h.Config.EnableIortTableGen = true

	err := Parser.Parse(h)
	require.Error(t, err)
	assert.True(t, status.IsNotFound(err))
	assert.Equal(t, 0, h.Repo.Len())
	_, err = h.Repo.Finish()
	require.NoError(t, err)
}

func TestParserGating(t *testing.T) {
	h := newHandle(t, dualTree(), tegra.T234)
	require.NoError(t, Parser.Parse(h))
	assert.Equal(t, 0, h.Repo.Len())
}

func TestAddressLimit(t *testing.T) {
	n := fdt.NewNode("pcie")
	for _, tc := range []struct {
		chip tegra.Chip
		dma  []uint32
		want uint8
	}{
		{tegra.TH500, nil, 49},
		{tegra.T234, nil, 40},
		{tegra.T234, []uint32{0, 0, 0, 0, 0x80, 0, 0x1000}, 13},
		{tegra.TH500, []uint32{0x02000000, 0, 0, 0x1, 0, 0x1, 0}, 33},
		{tegra.TH500, []uint32{0, 0, 0, 0, 0, 0, 0}, 49},
		{tegra.TH500, []uint32{0, 0, 0, 0, 0}, 49},
	} {
		n.DeleteProp("dma-ranges")
		if tc.dma != nil {
			n.SetU32("dma-ranges", tc.dma...)
		}
		got, err := AddressLimit(tc.chip, n)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "%s %#x", tc.chip, tc.dma)
	}

	_, err := AddressLimit(tegra.T194, fdt.NewNode("pcie"))
	assert.True(t, status.IsUnsupported(err))
}
