// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package iort builds the IORT node graph (ITS groups, SMMUs, root
// complexes, named components and PMCGs) from the device tree. Nodes refer
// to each other by repository tokens.
package iort

import (
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/linuxboot/tegracm/pkg/cm"
	"github.com/linuxboot/tegracm/pkg/fdt"
	"github.com/linuxboot/tegracm/pkg/hwinfo"
	"github.com/linuxboot/tegracm/pkg/log"
	"github.com/linuxboot/tegracm/pkg/status"
	"github.com/linuxboot/tegracm/pkg/tegra"
)

// TableRevision is the IORT revision the generator emits.
const TableRevision = 6

// Device is one device map entry: which nodes to look for and which IORT
// node kind they become.
type Device struct {
	Kind       cm.ObjectID
	Compatible string
	// Alias, when set, selects the single node behind /aliases instead of
	// every compatible node.
	Alias string
	// ObjectName is the ACPI path of a named component.
	ObjectName string
	// Dual marks devices sitting behind two SMMU instances.
	Dual bool
}

// DeviceMap lists the devices described in the IORT.
var DeviceMap = []Device{
	{Kind: cm.ArmObjItsGroup, Compatible: "arm,gic-v3-its"},
	{Kind: cm.ArmObjSmmuV1SmmuV2, Compatible: "arm,mmu-500"},
	{Kind: cm.ArmObjSmmuV1SmmuV2, Compatible: "nvidia,tegra234-smmu"},
	{Kind: cm.ArmObjSmmuV3, Compatible: "arm,smmu-v3"},
	{Kind: cm.ArmObjRootComplex, Compatible: "nvidia,tegra234-pcie", Dual: true},
	{Kind: cm.ArmObjRootComplex, Compatible: "nvidia,th500-pcie"},
	{Kind: cm.ArmObjRootComplex, Compatible: "pci-host-ecam-generic"},
	{Kind: cm.ArmObjNamedComponent, Compatible: "nvidia,tegra234-nvdla", Alias: "nvdla0", ObjectName: `\_SB.DLA0`, Dual: true},
	{Kind: cm.ArmObjNamedComponent, Compatible: "nvidia,tegra186-qspi", Alias: "socket0_qspi1", ObjectName: `\_SB_.QSP1`},
	{Kind: cm.ArmObjNamedComponent, Compatible: "nvidia,th500-soc-hwpm", ObjectName: `\_SB_.HWP0`},
	{Kind: cm.ArmObjNamedComponent, Compatible: "nvidia,th500-psc", ObjectName: `\_SB_.PSC0`},
	{Kind: cm.ArmObjPmcg, Compatible: "arm,smmu-v3-pmcg"},
}

// rank orders node kinds: ID mapping targets must be set up before the
// nodes that map into them.
func rank(kind cm.ObjectID) (int, bool) {
	switch kind {
	case cm.ArmObjItsGroup:
		return 0, true
	case cm.ArmObjSmmuV1SmmuV2, cm.ArmObjSmmuV3:
		return 1, true
	case cm.ArmObjRootComplex, cm.ArmObjNamedComponent, cm.ArmObjPmcg:
		return 2, true
	}
	return 0, false
}

// ErrMapOrder reports a device map entry listed before a kind it may map
// into.
type ErrMapOrder struct {
	Index int
	Kind  cm.ObjectID
	After cm.ObjectID
}

func (e *ErrMapOrder) Error() string {
	return fmt.Sprintf("device map entry %d: %s listed after %s", e.Index, e.After, e.Kind)
}

// ErrMapKind reports a device map entry of a kind that is not an IORT node.
type ErrMapKind struct {
	Index int
	Kind  cm.ObjectID
}

func (e *ErrMapKind) Error() string {
	return fmt.Sprintf("device map entry %d: %s is not an IORT node kind", e.Index, e.Kind)
}

// ValidateDeviceMap checks that m lists ITS groups before SMMUs and SMMUs
// before the root complexes, named components and PMCGs. Every violation
// is reported.
func ValidateDeviceMap(m []Device) error {
	var result *multierror.Error
	highest, highestKind := -1, cm.ObjectID(0)
	for i, d := range m {
		r, ok := rank(d.Kind)
		if !ok {
			result = multierror.Append(result, &ErrMapKind{Index: i, Kind: d.Kind})
			continue
		}
		if d.Compatible == "" {
			result = multierror.Append(result, status.Errorf(status.ErrInvalidParameter, "device map entry %d: no compatible", i))
		}
		if r < highest {
			result = multierror.Append(result, &ErrMapOrder{Index: i, Kind: highestKind, After: d.Kind})
			continue
		}
		highest, highestKind = r, d.Kind
	}
	return result.ErrorOrNil()
}

// propNode is a device tree node selected for the IORT, together with the
// properties the setup needs.
type propNode struct {
	node    *fdt.Node
	dev     *Device
	phandle uint32
	regs    fdt.Regions
	// instance selects regs[instance] on dual SMMUs.
	instance int
	msiMap   []uint32
	iommus   []uint32
	iommuMap []uint32
	dual     bool

	slot  int
	token cm.Token

	// Staged sub-arrays, added when every node is set up.
	idMaps  []cm.IdMapping
	ctxIrqs []cm.SmmuInterrupt
	pmuIrqs []cm.SmmuInterrupt
	itsIDs  []cm.ItsIdentifier
	// deviceIDIndex is the index of the node's own msi-map entry in idMaps.
	deviceIDIndex int
}

func (p *propNode) String() string {
	if p.instance > 0 {
		return fmt.Sprintf("%s#%d", p.node.Path(), p.instance)
	}
	return p.node.Path()
}

// graph is the state of one IORT build.
type graph struct {
	h     *hwinfo.Handle
	nodes []*propNode

	itsPresent bool
	itsIndex   uint32
	nextID     uint32
	uidIndex   int

	its      []cm.ItsGroupNode
	smmuV1V2 []cm.SmmuV1V2Node
	smmuV3   []cm.SmmuV3Node
	rc       []cm.RootComplexNode
	nc       []cm.NamedComponentNode
	pmcg     []cm.PmcgNode
	tokens   map[cm.ObjectID][]cm.Token
}

// Parser is the IORT hardware-info parser.
var Parser = hwinfo.Parser{Name: "iort", SkipProperty: "skip-iort-table", Parse: parse}

func parse(h *hwinfo.Handle) error {
	if h.Chip != tegra.TH500 && !h.Config.EnableIortTableGen {
		log.Debugf("iort: table generation not enabled on %s", h.Chip)
		return nil
	}
	return Build(h, DeviceMap)
}

// Build discovers the devices of m in h.Tree and adds the IORT nodes to
// h.Repo. When a node fails to set up nothing but the tokens minted so far
// is left in the repository.
func Build(h *hwinfo.Handle, m []Device) error {
	if err := ValidateDeviceMap(m); err != nil {
		return err
	}
	g := &graph{h: h}
	if err := g.discover(m); err != nil {
		return err
	}
	if len(g.nodes) == 0 {
		return status.Errorf(status.ErrNotFound, "no IORT devices")
	}
	if err := g.allocate(); err != nil {
		return err
	}
	if err := g.setup(); err != nil {
		g.clean()
		return err
	}
	return g.commit()
}

// lookup returns the nodes dev selects.
func lookup(t *fdt.Tree, dev *Device) []*fdt.Node {
	if dev.Alias != "" {
		if n := t.Alias(dev.Alias); n != nil {
			return []*fdt.Node{n}
		}
		return nil
	}
	return t.FindCompatible(dev.Compatible)
}

func isSmmu(kind cm.ObjectID) bool {
	return kind == cm.ArmObjSmmuV1SmmuV2 || kind == cm.ArmObjSmmuV3
}

// optCells returns the cells of name, or nil when the property is absent
// or does not hold exactly want cells.
func optCells(n *fdt.Node, name string, want int) []uint32 {
	c, err := n.Cells(name)
	if err != nil || len(c) != want {
		return nil
	}
	return c
}

func (g *graph) discover(m []Device) error {
	for i := range m {
		dev := &m[i]
		if dev.Kind == cm.ArmObjNamedComponent && dev.ObjectName == "" {
			log.Warnf("iort: named component %s has no object name", dev.Compatible)
			continue
		}
		for _, n := range lookup(g.h.Tree, dev) {
			if err := g.discoverNode(dev, n); err != nil {
				return err
			}
		}
	}
	return nil
}

func (g *graph) discoverNode(dev *Device, n *fdt.Node) error {
	if !n.Enabled() {
		log.Debugf("iort: %s disabled", n.Path())
		return nil
	}
	regs, err := n.Reg()
	if err != nil {
		return status.Errorf(status.ErrDeviceError, "iort: %s: %v", n.Path(), err)
	}
	if len(regs) == 0 {
		return status.Errorf(status.ErrDeviceError, "iort: %s: empty reg", n.Path())
	}
	ph, _ := n.Phandle()
	base := propNode{
		node:    n,
		dev:     dev,
		phandle: ph,
		regs:    regs,
		dual:    dev.Dual,
	}

	if dev.Kind == cm.ArmObjItsGroup {
		g.itsPresent = true
		g.nodes = append(g.nodes, &base)
		return nil
	}

	if g.itsPresent {
		if msi := optCells(n, "msi-map", 4); msi != nil {
			if g.find(msi[1], 1) == nil {
				log.Debugf("iort: %s: msi-map target %#x unknown", n.Path(), msi[1])
				return nil
			}
			base.msiMap = msi
		}
	}

	switch {
	case dev.Kind == cm.ArmObjPmcg:
		if dv, err := n.Cells("devices"); err == nil {
			if len(dv) != 1 || g.find(dv[0], 1) == nil {
				log.Debugf("iort: %s: devices target unknown", n.Path())
				return nil
			}
		}
	case isSmmu(dev.Kind):
	default:
		if iommus := optCells(n, "iommus", 2); iommus != nil {
			if g.find(iommus[0], 1) == nil {
				log.Debugf("iort: %s: iommus target %#x unknown", n.Path(), iommus[0])
				return nil
			}
			base.iommus = iommus
		} else if imap := optCells(n, "iommu-map", 4); imap != nil {
			if g.find(imap[1], 1) == nil {
				log.Debugf("iort: %s: iommu-map target %#x unknown", n.Path(), imap[1])
				return nil
			}
			base.iommuMap = imap
		} else if base.msiMap == nil {
			log.Debugf("iort: %s: no iommu or msi mapping", n.Path())
			return nil
		}
	}

	instances := 1
	if dev.Kind == cm.ArmObjSmmuV1SmmuV2 && len(regs) > 1 {
		instances = 2
		base.dual = true
	}
	for i := 0; i < instances; i++ {
		p := base
		p.instance = i
		g.nodes = append(g.nodes, &p)
	}
	return nil
}

// find returns the instance-th (1-based) discovered node with phandle ph.
func (g *graph) find(ph uint32, instance int) *propNode {
	if ph == 0 {
		return nil
	}
	seen := 0
	for _, p := range g.nodes {
		if p.phandle != ph {
			continue
		}
		seen++
		if seen == instance {
			return p
		}
	}
	return nil
}

// ref returns the token of the instance-th node with phandle ph.
func (g *graph) ref(p *propNode, ph uint32, instance int) (cm.Token, error) {
	t := g.find(ph, instance)
	if t == nil {
		return cm.NullToken, status.Errorf(status.ErrDeviceError, "iort: %s: phandle %#x instance %d not found", p, ph, instance)
	}
	return t.token, nil
}

// FindPropNodeByPhandleInstance returns the path of the instance-th
// (1-based) IORT device with phandle ph in tree, or "" when there is none.
func FindPropNodeByPhandleInstance(h *hwinfo.Handle, m []Device, ph uint32, instance int) (string, error) {
	if instance < 1 {
		return "", status.Errorf(status.ErrInvalidParameter, "instance %d", instance)
	}
	g := &graph{h: h}
	if err := g.discover(m); err != nil {
		return "", err
	}
	p := g.find(ph, instance)
	if p == nil {
		return "", status.Errorf(status.ErrNotFound, "phandle %#x instance %d", ph, instance)
	}
	return p.node.Path(), nil
}

// allocate sizes one array and one token map per kind and binds every
// node to a slot.
func (g *graph) allocate() error {
	count := map[cm.ObjectID]int{}
	for _, p := range g.nodes {
		p.slot = count[p.dev.Kind]
		count[p.dev.Kind]++
	}
	g.its = make([]cm.ItsGroupNode, count[cm.ArmObjItsGroup])
	g.smmuV1V2 = make([]cm.SmmuV1V2Node, count[cm.ArmObjSmmuV1SmmuV2])
	g.smmuV3 = make([]cm.SmmuV3Node, count[cm.ArmObjSmmuV3])
	g.rc = make([]cm.RootComplexNode, count[cm.ArmObjRootComplex])
	g.nc = make([]cm.NamedComponentNode, count[cm.ArmObjNamedComponent])
	g.pmcg = make([]cm.PmcgNode, count[cm.ArmObjPmcg])

	g.tokens = map[cm.ObjectID][]cm.Token{}
	for kind, n := range count {
		tokens, err := g.h.Repo.AllocateTokens(uint32(n))
		if err != nil {
			return err
		}
		g.tokens[kind] = tokens
	}
	for _, p := range g.nodes {
		p.token = g.tokens[p.dev.Kind][p.slot]
	}
	log.Debugf("iort: %d nodes: %v", len(g.nodes), count)
	return nil
}

// setup fills in every node, kind by kind in map order.
func (g *graph) setup() error {
	for _, kind := range kindOrder(g.nodes) {
		for _, p := range g.nodes {
			if p.dev.Kind != kind {
				continue
			}
			var err error
			switch kind {
			case cm.ArmObjItsGroup:
				err = g.setupIts(p)
			case cm.ArmObjSmmuV1SmmuV2:
				err = g.setupSmmuV1V2(p)
			case cm.ArmObjSmmuV3:
				err = g.setupSmmuV3(p)
			case cm.ArmObjRootComplex:
				err = g.setupRootComplex(p)
			case cm.ArmObjNamedComponent:
				err = g.setupNamedComponent(p)
			case cm.ArmObjPmcg:
				err = g.setupPmcg(p)
			}
			if err != nil {
				return fmt.Errorf("iort: %s: %w", p, err)
			}
		}
	}
	return nil
}

// kindOrder returns the node kinds in the order they were discovered,
// which follows the device map.
func kindOrder(nodes []*propNode) []cm.ObjectID {
	var kinds []cm.ObjectID
	seen := map[cm.ObjectID]bool{}
	for _, p := range nodes {
		if !seen[p.dev.Kind] {
			seen[p.dev.Kind] = true
			kinds = append(kinds, p.dev.Kind)
		}
	}
	return kinds
}

func (g *graph) identifier() uint32 {
	id := g.nextID
	g.nextID++
	return id
}

// clean drops everything staged by a failed build.
func (g *graph) clean() {
	g.its, g.smmuV1V2, g.smmuV3, g.rc, g.nc, g.pmcg = nil, nil, nil, nil, nil, nil
	g.nodes = nil
	g.tokens = nil
}

// pmcgEnabled reports whether PMCG nodes are described on this platform.
func (g *graph) pmcgEnabled() bool {
	return g.h.Platform == tegra.Silicon
}

// addArray adds items with GetTokens and returns the whole-array token,
// or NullToken when items is empty.
func addArray[T any](b *cm.Builder, id cm.ObjectID, items []T) (cm.Token, error) {
	if len(items) == 0 {
		return cm.NullToken, nil
	}
	desc, err := cm.DescriptorOf(id, items)
	if err != nil {
		return cm.NullToken, err
	}
	_, whole, err := b.AddMultipleObjectsGetTokens(desc)
	return whole, err
}

// addNodes adds one node array under its pre-allocated tokens.
func addNodes[T any](b *cm.Builder, id cm.ObjectID, items []T, tokens []cm.Token) error {
	if len(items) == 0 {
		return nil
	}
	desc, err := cm.DescriptorOf(id, items)
	if err != nil {
		return err
	}
	_, err = b.AddMultipleObjectsWithTokens(desc, tokens, cm.NullToken)
	return err
}

// commit adds the staged sub-arrays, the table generator and the node
// arrays to the repository.
func (g *graph) commit() error {
	repo := g.h.Repo
	for _, p := range g.nodes {
		if p.dev.Kind == cm.ArmObjPmcg && !g.pmcgEnabled() {
			continue
		}
		idMaps, err := addArray(repo, cm.ArmObjIdMappingArray, p.idMaps)
		if err != nil {
			return err
		}
		switch p.dev.Kind {
		case cm.ArmObjItsGroup:
			n := &g.its[p.slot]
			if n.ItsIdToken, err = addArray(repo, cm.ArmObjGicItsIdentifierArray, p.itsIDs); err != nil {
				return err
			}
		case cm.ArmObjSmmuV1SmmuV2:
			n := &g.smmuV1V2[p.slot]
			n.IdMappingToken = idMaps
			if n.ContextInterruptToken, err = addArray(repo, cm.ArmObjSmmuInterruptArray, p.ctxIrqs); err != nil {
				return err
			}
			if n.PmuInterruptToken, err = addArray(repo, cm.ArmObjSmmuInterruptArray, p.pmuIrqs); err != nil {
				return err
			}
		case cm.ArmObjSmmuV3:
			g.smmuV3[p.slot].IdMappingToken = idMaps
		case cm.ArmObjRootComplex:
			g.rc[p.slot].IdMappingToken = idMaps
		case cm.ArmObjNamedComponent:
			g.nc[p.slot].IdMappingToken = idMaps
		case cm.ArmObjPmcg:
			g.pmcg[p.slot].IdMappingToken = idMaps
		}
	}

	table := cm.AcpiTableInfo{
		AcpiTableSignature: cm.Signature("IORT"),
		AcpiTableRevision:  TableRevision,
		TableGeneratorID:   cm.StdAcpiTableIDIort,
		OemTableID:         g.h.Config.OemTableID,
		OemRevision:        g.h.Config.OemRevision,
	}
	if err := repo.AddOrMergeAcpiTableGenerator(table); err != nil {
		return err
	}

	if err := addNodes(repo, cm.ArmObjSmmuV1SmmuV2, g.smmuV1V2, g.tokens[cm.ArmObjSmmuV1SmmuV2]); err != nil {
		return err
	}
	if err := addNodes(repo, cm.ArmObjSmmuV3, g.smmuV3, g.tokens[cm.ArmObjSmmuV3]); err != nil {
		return err
	}
	if err := addNodes(repo, cm.ArmObjItsGroup, g.its, g.tokens[cm.ArmObjItsGroup]); err != nil {
		return err
	}
	if err := addNodes(repo, cm.ArmObjNamedComponent, g.nc, g.tokens[cm.ArmObjNamedComponent]); err != nil {
		return err
	}
	if err := addNodes(repo, cm.ArmObjRootComplex, g.rc, g.tokens[cm.ArmObjRootComplex]); err != nil {
		return err
	}
	if g.pmcgEnabled() {
		if err := addNodes(repo, cm.ArmObjPmcg, g.pmcg, g.tokens[cm.ArmObjPmcg]); err != nil {
			return err
		}
	}
	log.Infof("iort: %d its, %d smmuv1/v2, %d smmuv3, %d rc, %d nc, %d pmcg",
		len(g.its), len(g.smmuV1V2), len(g.smmuV3), len(g.rc), len(g.nc), len(g.pmcg))
	return nil
}
