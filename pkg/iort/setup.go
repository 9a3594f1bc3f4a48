// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package iort

import (
	"encoding/binary"
	"math/bits"

	"github.com/linuxboot/tegracm/pkg/cm"
	"github.com/linuxboot/tegracm/pkg/fdt"
	"github.com/linuxboot/tegracm/pkg/log"
	"github.com/linuxboot/tegracm/pkg/status"
	"github.com/linuxboot/tegracm/pkg/tegra"
)

// IORT field values.
const (
	IDMappingSingle uint32 = 1

	SmmuV1V2ModelMMU500  uint32 = 3
	SmmuV1V2FlagCohWalk  uint32 = 1 << 1
	SmmuInterruptLevel   uint32 = 0
	SmmuInterruptEdge    uint32 = 1
	SmmuV3ModelGeneric   uint32 = 0
	SmmuV3FlagCohacOvr   uint32 = 1 << 0
	SmmuV3FlagProxDomain uint32 = 1 << 3

	MemAccessPropCCA     uint32 = 1
	MemAccessFlagCPM     uint8  = 1 << 0
	MemAccessFlagDACS    uint8  = 1 << 1
	MemAccessFlagCANWBS  uint8  = 1 << 2
	RootComplexATSUnsupp uint32 = 0
	RootComplexATSSupp   uint32 = 1
)

const (
	maxGlobalInterrupts = 2
	minSmmuV3Interrupts = 1
	maxSmmuV3Interrupts = 4
)

// Default PCIe DMA address widths.
var defaultAddressBits = map[tegra.Chip]uint8{
	tegra.T234:  40,
	tegra.TH500: 49,
}

var pmuCompatibles = []string{"arm,cortex-a78-pmu", "arm,armv8-pmuv3"}

// smmuV3UIDs are the DSDT objects patched with the SMMUv3 identifiers, in
// discovery order.
var smmuV3UIDs = []string{
	"_SB_.SQ00._UID", "_SB_.SQ01._UID", "_SB_.SQ02._UID", "_SB_.GQ00._UID", "_SB_.GQ01._UID",
	"_SB_.SQ10._UID", "_SB_.SQ11._UID", "_SB_.SQ12._UID", "_SB_.GQ10._UID", "_SB_.GQ11._UID",
	"_SB_.SQ20._UID", "_SB_.SQ21._UID", "_SB_.SQ22._UID", "_SB_.GQ20._UID", "_SB_.GQ21._UID",
	"_SB_.SQ30._UID", "_SB_.SQ31._UID", "_SB_.SQ32._UID", "_SB_.GQ30._UID", "_SB_.GQ31._UID",
}

// AddressLimit returns the DMA address width of a PCIe or named component
// node. It is taken from a 7-cell dma-ranges property when there is one,
// else from the chip default.
func AddressLimit(chip tegra.Chip, n *fdt.Node) (uint8, error) {
	if c := optCells(n, "dma-ranges", 7); c != nil {
		cpu := uint64(c[3])<<32 | uint64(c[4])
		size := uint64(c[5])<<32 | uint64(c[6])
		if end := cpu + size; end != 0 {
			return uint8(bits.Len64(end - 1)), nil
		}
	}
	if b, ok := defaultAddressBits[chip]; ok {
		return b, nil
	}
	return 0, status.Errorf(status.ErrUnsupported, "no default address limit for %s", chip)
}

func smmuIrqFlags(i fdt.Interrupt) uint32 {
	if i.Flags == fdt.IrqLevelHigh {
		return SmmuInterruptLevel
	}
	return SmmuInterruptEdge
}

func (g *graph) setupIts(p *propNode) error {
	n := &g.its[p.slot]
	n.Token = p.token
	p.itsIDs = []cm.ItsIdentifier{{ItsID: g.itsIndex}}
	n.ItsIdCount = uint32(len(p.itsIDs))
	n.Identifier = g.identifier()
	g.itsIndex++
	return nil
}

// msiMapping turns an msi-map into an ID mapping towards its ITS.
func (g *graph) msiMapping(owner, p *propNode) (cm.IdMapping, error) {
	out, err := g.ref(owner, p.msiMap[1], 1)
	if err != nil {
		return cm.IdMapping{}, err
	}
	return cm.IdMapping{
		InputBase:            p.msiMap[0],
		NumIds:               p.msiMap[3] - 1,
		OutputBase:           p.msiMap[2],
		OutputReferenceToken: out,
	}, nil
}

// upstream reports whether q is translated by the SMMU node p.
func (g *graph) upstream(p, q *propNode) bool {
	if q == p {
		return true
	}
	var target *propNode
	switch {
	case q.iommus != nil:
		target = g.find(q.iommus[0], 1)
	case q.iommuMap != nil:
		target = g.find(q.iommuMap[1], 1)
	}
	return target == p
}

// smmuMappings collects the msi-map of every node translated by p, p
// included.
func (g *graph) smmuMappings(p *propNode) error {
	p.deviceIDIndex = -1
	for _, q := range g.nodes {
		if q.msiMap == nil || !g.upstream(p, q) {
			continue
		}
		m, err := g.msiMapping(p, q)
		if err != nil {
			return err
		}
		if q == p && p.dev.Kind == cm.ArmObjSmmuV3 {
			p.deviceIDIndex = len(p.idMaps)
			m.Flags = IDMappingSingle
		}
		p.idMaps = append(p.idMaps, m)
	}
	return nil
}

func (g *graph) setupSmmuV1V2(p *propNode) error {
	n := &g.smmuV1V2[p.slot]
	n.Token = p.token
	n.Identifier = g.identifier()
	reg := p.regs[0]
	if p.instance < len(p.regs) {
		reg = p.regs[p.instance]
	}
	n.BaseAddress = reg.Base
	n.Span = reg.Size
	n.Model = SmmuV1V2ModelMMU500
	n.Flags = SmmuV1V2FlagCohWalk

	global, err := p.node.U32("#global-interrupts")
	if err != nil {
		return status.Errorf(status.ErrNotFound, "no #global-interrupts")
	}
	if global > maxGlobalInterrupts {
		return status.Errorf(status.ErrOutOfResources, "%d global interrupts", global)
	}
	irqs, err := p.node.Interrupts()
	if err != nil {
		return err
	}
	if uint32(len(irqs)) < global {
		return status.Errorf(status.ErrDeviceError, "%d interrupts for %d global ones", len(irqs), global)
	}
	if global > 0 {
		n.NSgIrpt, n.NSgIrptFlags = irqs[0].ID(), smmuIrqFlags(irqs[0])
	}
	if global > 1 {
		n.NSgCfgIrpt, n.NSgCfgIrptFlags = irqs[1].ID(), smmuIrqFlags(irqs[1])
	}
	for _, irq := range irqs[global:] {
		p.ctxIrqs = append(p.ctxIrqs, cm.SmmuInterrupt{Interrupt: irq.ID(), Flags: smmuIrqFlags(irq)})
	}
	n.ContextInterruptCount = uint32(len(p.ctxIrqs))

	var pmu *fdt.Node
	for _, c := range pmuCompatibles {
		nodes := g.h.Tree.FindAll(func(x *fdt.Node) bool { return x.Compatible(c) && x.Enabled() })
		if len(nodes) > 0 {
			pmu = nodes[0]
			break
		}
	}
	if pmu == nil {
		return status.Errorf(status.ErrNotFound, "no enabled PMU node")
	}
	pmuIrqs, err := pmu.Interrupts()
	if err != nil {
		return err
	}
	for _, irq := range pmuIrqs {
		p.pmuIrqs = append(p.pmuIrqs, cm.SmmuInterrupt{Interrupt: irq.ID(), Flags: smmuIrqFlags(irq)})
	}
	n.PmuInterruptCount = uint32(len(p.pmuIrqs))

	if err := g.smmuMappings(p); err != nil {
		return err
	}
	n.IdMappingCount = uint32(len(p.idMaps))
	return nil
}

// patchUID writes the identifier of an SMMUv3 into the next _UID object of
// the DSDT. Failures are logged only.
func (g *graph) patchUID(id uint32) {
	i := g.uidIndex
	g.uidIndex++
	if g.h.AML == nil || i >= len(smmuV3UIDs) {
		return
	}
	name := smmuV3UIDs[i]
	node, err := g.h.AML.FindNode(name)
	if err != nil {
		log.Warnf("iort: smmuv3 uid %s: %v", name, err)
		return
	}
	if node.Size != 4 {
		log.Warnf("iort: smmuv3 uid %s: size %d", name, node.Size)
		return
	}
	data := binary.LittleEndian.AppendUint32(nil, id)
	if err := g.h.AML.SetNodeData(node, data); err != nil {
		log.Warnf("iort: smmuv3 uid %s: %v", name, err)
	}
}

func (g *graph) setupSmmuV3(p *propNode) error {
	n := &g.smmuV3[p.slot]
	n.Token = p.token
	n.Identifier = g.identifier()
	n.BaseAddress = p.regs[0].Base
	n.Model = SmmuV3ModelGeneric
	n.Flags = SmmuV3FlagProxDomain
	g.patchUID(n.Identifier)

	if p.node.HasProp("dma-coherent") {
		n.Flags |= SmmuV3FlagCohacOvr
	}
	n.ProximityDomain = p.node.U32Default("numa-node-id", 0)

	irqs, err := p.node.Interrupts()
	if err != nil {
		return err
	}
	if len(irqs) > maxSmmuV3Interrupts {
		return status.Errorf(status.ErrDeviceError, "%d interrupts, only %d slots", len(irqs), maxSmmuV3Interrupts)
	}
	if len(irqs) < minSmmuV3Interrupts {
		return status.Errorf(status.ErrNotFound, "%d interrupts, want %d to %d",
			len(irqs), minSmmuV3Interrupts, maxSmmuV3Interrupts)
	}
	names, _ := p.node.Strings("interrupt-names")
	if len(names) < len(irqs) {
		return status.Errorf(status.ErrNotFound, "interrupt %d has no name", len(names))
	}
	if names[0] == "combined" {
		id := irqs[0].ID()
		n.EventInterrupt, n.PriInterrupt, n.GerrInterrupt, n.SyncInterrupt = id, id, id, id
	} else {
		for i, irq := range irqs {
			switch names[i] {
			case "eventq":
				n.EventInterrupt = irq.ID()
			case "priq":
				n.PriInterrupt = irq.ID()
			case "gerror":
				n.GerrInterrupt = irq.ID()
			case "cmdq-sync":
				n.SyncInterrupt = irq.ID()
			default:
				return status.Errorf(status.ErrDeviceError, "unknown interrupt name %q", names[i])
			}
		}
	}

	if err := g.smmuMappings(p); err != nil {
		return err
	}
	if p.deviceIDIndex >= 0 {
		n.DeviceIdMappingIndex = uint32(p.deviceIDIndex)
	}
	wired := n.EventInterrupt != 0 && n.PriInterrupt != 0 && n.GerrInterrupt != 0 && n.SyncInterrupt != 0
	if !wired && p.msiMap == nil && len(p.idMaps) != 0 {
		n.DeviceIdMappingIndex = uint32(len(p.idMaps))
	}
	n.IdMappingCount = uint32(len(p.idMaps))
	return nil
}

// deviceMappings builds the ID mappings of a root complex or named
// component. rcSingle selects the root complex handling of SINGLE
// mappings.
func (g *graph) deviceMappings(p *propNode, flags uint32, rcSingle bool) error {
	if c := p.iommus; c != nil {
		out, err := g.ref(p, c[0], 1)
		if err != nil {
			return err
		}
		p.idMaps = append(p.idMaps, cm.IdMapping{OutputBase: c[1], Flags: IDMappingSingle, OutputReferenceToken: out})
		if p.dual {
			out, err := g.ref(p, c[0], 2)
			if err != nil {
				return err
			}
			p.idMaps = append(p.idMaps, cm.IdMapping{InputBase: 1, OutputBase: c[1], Flags: IDMappingSingle, OutputReferenceToken: out})
		}
		return nil
	}

	c := p.iommuMap
	if c == nil {
		c = p.msiMap
	}
	if c == nil {
		return status.Errorf(status.ErrDeviceError, "no iommu or msi mapping")
	}
	m := cm.IdMapping{InputBase: c[0], OutputBase: c[2], NumIds: c[3] - 1, Flags: flags}
	if rcSingle && flags == IDMappingSingle {
		m.NumIds = 0
	}
	out, err := g.ref(p, c[1], 1)
	if err != nil {
		return err
	}
	m.OutputReferenceToken = out
	p.idMaps = append(p.idMaps, m)
	if p.dual {
		if rcSingle && flags == IDMappingSingle {
			m.InputBase++
		}
		if m.OutputReferenceToken, err = g.ref(p, c[1], 2); err != nil {
			return err
		}
		p.idMaps = append(p.idMaps, m)
	}
	return nil
}

// memoryAccess returns the coherency attributes shared by root complexes
// and named components.
func memoryAccess(n *fdt.Node, canwbs bool) (cca uint32, flags uint8) {
	if n.HasProp("dma-coherent") {
		cca |= MemAccessPropCCA
		flags |= MemAccessFlagCPM
	}
	if canwbs && n.HasProp("nvidia,canwbs-supported") {
		flags |= MemAccessFlagCANWBS
	}
	if n.HasProp("nvidia,dacs-supported") {
		flags |= MemAccessFlagDACS
	}
	return cca, flags
}

func (g *graph) setupRootComplex(p *propNode) error {
	n := &g.rc[p.slot]
	n.Token = p.token
	n.Identifier = g.identifier()
	width, err := AddressLimit(g.h.Chip, p.node)
	if err != nil {
		return err
	}
	n.MemoryAddressSize = width
	n.CacheCoherent, n.MemoryAccessFlags = memoryAccess(p.node, true)
	n.AtsAttribute = RootComplexATSUnsupp
	if p.node.HasProp("ats-supported") {
		n.AtsAttribute = RootComplexATSSupp
	}
	n.PciSegmentNumber = p.node.U32Default("linux,pci-domain", 0)

	var flags uint32
	if mask, err := p.node.U32("iommu-map-mask"); err == nil && mask == 0 {
		flags = IDMappingSingle
	}
	if err := g.deviceMappings(p, flags, true); err != nil {
		return err
	}
	n.IdMappingCount = uint32(len(p.idMaps))
	return nil
}

func (g *graph) setupNamedComponent(p *propNode) error {
	n := &g.nc[p.slot]
	n.Token = p.token
	n.Identifier = g.identifier()
	n.ObjectName = p.dev.ObjectName
	width, err := AddressLimit(g.h.Chip, p.node)
	if err != nil {
		return err
	}
	n.AddressSizeLimit = width
	cca, flags := memoryAccess(p.node, false)
	n.CacheCoherent, n.MemoryAccessFlags = cca, flags
	if err := g.deviceMappings(p, 0, false); err != nil {
		return err
	}
	n.IdMappingCount = uint32(len(p.idMaps))
	return nil
}

func (g *graph) setupPmcg(p *propNode) error {
	if !g.pmcgEnabled() {
		return nil
	}
	n := &g.pmcg[p.slot]
	n.Token = p.token
	n.BaseAddress = p.regs[0].Base
	if len(p.regs) > 1 {
		n.Page1BaseAddress = p.regs[1].Base
	}
	irqs, err := p.node.Interrupts()
	if err != nil || len(irqs) == 0 {
		log.Debugf("iort: %s: no overflow interrupt, using msi-parent", p)
		irqs = nil
	}
	dv, err := p.node.Cells("devices")
	if err != nil || len(dv) == 0 {
		return status.Errorf(status.ErrNotFound, "no devices property")
	}
	if n.ReferenceToken, err = g.ref(p, dv[0], 1); err != nil {
		return err
	}
	n.Identifier = g.identifier()

	if len(irqs) > 0 {
		n.OverflowInterrupt = irqs[0].ID()
		return nil
	}
	parent, err := p.node.Cells("msi-parent")
	if err != nil || len(parent) < 2 {
		return status.Errorf(status.ErrDeviceError, "no overflow interrupt and no msi-parent")
	}
	out, err := g.ref(p, parent[0], 1)
	if err != nil {
		return err
	}
	p.idMaps = []cm.IdMapping{{OutputBase: parent[1], Flags: IDMappingSingle, OutputReferenceToken: out}}
	n.IdMappingCount = 1
	return nil
}
