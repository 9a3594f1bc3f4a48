// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package hwinfo

import (
	"math"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/linuxboot/tegracm/pkg/cm"
	"github.com/linuxboot/tegracm/pkg/fdt"
	"github.com/linuxboot/tegracm/pkg/log"
	"github.com/linuxboot/tegracm/pkg/status"
	"github.com/linuxboot/tegracm/pkg/tegra"
)

// Topology placeholders. Undefined means not yet known, Unused means the
// cache is shared across that level.
const (
	Undefined uint32 = math.MaxUint32
	Unused    uint32 = math.MaxUint32 - 1
)

// Cache ID layout.
const (
	clusterShift = 4
	coreShift    = 12
	typeShift    = 20
	levelShift   = 24
	maxLevel     = 3
)

// Cache attribute encoding used in PPTT type 1 structures.
const (
	allocRead      = 0
	allocReadWrite = 1
	writeBack      = 0
)

// defaultBlockSize stands in for the line size reported by CTR_EL0.
const defaultBlockSize = 64

var cacheCompatibles = []string{"cache", "l3-cache", "l2-cache"}

// CacheParser builds the cache info array for PPTT, the cache metadata
// used by the FindCache lookups and the per-position cache reference
// arrays.
var CacheParser = Parser{Name: "cache", Parse: parseCache}

type cacheNode struct {
	meta   cm.CacheNode
	size   uint32
	sets   uint32
	line   uint32
	source *fdt.Node
}

// Position names a socket, cluster and core. Cluster and Core may be
// Unused for shared caches.
type Position struct {
	Socket, Cluster, Core uint32
}

// CacheHierarchy maps each topology position to the CmRef array listing
// the caches private to it.
type CacheHierarchy map[Position]CacheRefs

// CacheRefs is a reference array token and its element count.
type CacheRefs struct {
	Token cm.Token
	Count int
}

// Lookup returns the cache references of a position. A position without
// caches yields a NullToken.
func (c CacheHierarchy) Lookup(socket, cluster, core uint32) CacheRefs {
	return c[Position{socket, cluster, core}]
}

// cacheID packs a cache's level, type and location. Undefined and unused
// locations count as zero.
func cacheID(level uint32, t cm.CacheType, core, cluster, socket uint32) uint32 {
	clean := func(v uint32) uint32 {
		if v == Undefined || v == Unused {
			return 0
		}
		return v
	}
	return (maxLevel-level)<<levelShift | uint32(t)<<typeShift |
		clean(core)<<coreShift | clean(cluster)<<clusterShift | (clean(socket) + 1)
}

func cacheAttributes(t cm.CacheType) uint8 {
	// PPTT orders the type field as data, instruction, unified.
	alloc, ppttType := allocReadWrite, 2
	switch t {
	case cm.CacheTypeInstruction:
		alloc, ppttType = allocRead, 1
	case cm.CacheTypeData:
		ppttType = 0
	}
	return uint8(alloc | ppttType<<2 | writeBack<<4)
}

func cachePrefix(t cm.CacheType) string {
	switch t {
	case cm.CacheTypeInstruction:
		return "i-cache-"
	case cm.CacheTypeData:
		return "d-cache-"
	}
	return "cache-"
}

func cacheLevel(n *fdt.Node) (uint32, error) {
	v, err := n.U32("cache-level")
	if err == nil {
		return v, nil
	}
	if !status.IsNotFound(err) {
		return 0, err
	}
	switch n.DeviceType() {
	case "cpu":
		return 1, nil
	case "cache":
		switch {
		case n.Compatible("l2-cache"):
			return 2, nil
		case n.Compatible("l3-cache"):
			return 3, nil
		}
		return 0, status.Errorf(status.ErrDeviceError, "%s: cache node with unknown compatible", n.Path())
	}
	path := n.Path()
	switch {
	case strings.Contains(path, "l2c"):
		return 2, nil
	case strings.Contains(path, "l3c"):
		return 3, nil
	}
	return 0, status.Errorf(status.ErrDeviceError, "%s: cannot infer cache level", path)
}

// readCache extracts the cache of type t described by n.
func readCache(n *fdt.Node, t cm.CacheType) (cacheNode, error) {
	unified := n.HasProp("cache-unified")
	if unified && t != cm.CacheTypeUnified {
		return cacheNode{}, status.Errorf(status.ErrNotFound, "%s: unified cache has no %s", n.Path(), t)
	}
	if !unified && t == cm.CacheTypeUnified {
		log.Debugf("%s: cache node is not marked cache-unified", n.Path())
	}
	c := cacheNode{source: n}
	c.meta.Type = t
	c.meta.Phandle, _ = n.Phandle()
	level, err := cacheLevel(n)
	if err != nil {
		return cacheNode{}, err
	}
	if level == 0 || level > maxLevel {
		return cacheNode{}, status.Errorf(status.ErrDeviceError, "%s: cache level %d", n.Path(), level)
	}
	c.meta.Level = uint8(level)

	prefix := cachePrefix(t)
	if c.size, err = n.U32(prefix + "size"); err != nil {
		return cacheNode{}, err
	}
	if c.sets, err = n.U32(prefix + "sets"); err != nil {
		return cacheNode{}, err
	}
	block := n.U32Default(prefix+"block-size", defaultBlockSize)
	c.line, err = n.U32(prefix + "line-size")
	switch {
	case status.IsNotFound(err):
		c.line = block
	case err != nil:
		return cacheNode{}, err
	}
	next, err := n.U32("next-level-cache")
	if status.IsNotFound(err) {
		next, err = n.U32("l2-cache")
	}
	if err == nil {
		c.meta.NextLevelPhandle = next
	}
	return c, nil
}

// mpidrLocation splits an MPIDR into socket, cluster and core. T194 keeps
// the core in affinity level 0.
func mpidrLocation(chip tegra.Chip, mpidr uint64) (socket, cluster, core uint32) {
	aff := func(level uint) uint32 {
		shift := 8 * level
		if level == 3 {
			shift = 32
		}
		return uint32(mpidr>>shift) & 0xff
	}
	if chip == tegra.T194 {
		return aff(2), aff(1), aff(0)
	}
	return aff(3), aff(2), aff(1)
}

type cacheTracker struct {
	nodes []*cacheNode
}

func (t *cacheTracker) byPhandle(ph uint32) *cacheNode {
	if ph == 0 {
		return nil
	}
	for _, n := range t.nodes {
		if n.meta.Phandle == ph {
			return n
		}
	}
	return nil
}

// collectCaches reads standalone cache nodes. Their location is unknown
// until fixup.
func collectCaches(h *Handle, t *cacheTracker) error {
	nodes := h.Tree.FindCompatible(cacheCompatibles...)
	if len(nodes) == 0 {
		return nil
	}
	tokens, err := h.Repo.AllocateTokens(uint32(len(nodes)))
	if err != nil {
		return err
	}
	for i, n := range nodes {
		c, err := readCache(n, cm.CacheTypeUnified)
		if err != nil {
			return err
		}
		c.meta.Token = tokens[i]
		c.meta.Socket, c.meta.Cluster, c.meta.Core = Undefined, Undefined, Undefined
		t.nodes = append(t.nodes, &c)
	}
	return nil
}

func cpuNodes(tree *fdt.Tree) []*fdt.Node {
	return tree.FindAll(func(n *fdt.Node) bool { return n.DeviceType() == "cpu" && n.Enabled() })
}

// collectCPUCaches reads the split L1 caches of every enabled cpu. A cpu
// without cache data only loses that cache.
func collectCPUCaches(h *Handle, t *cacheTracker) error {
	cpus := cpuNodes(h.Tree)
	if len(cpus) == 0 {
		return nil
	}
	tokens, err := h.Repo.AllocateTokens(uint32(2 * len(cpus)))
	if err != nil {
		return err
	}
	for i, n := range cpus {
		reg, err := n.Cells("reg")
		if err != nil {
			return err
		}
		var mpidr uint64
		for _, c := range reg {
			mpidr = mpidr<<32 | uint64(c)
		}
		socket, cluster, core := mpidrLocation(h.Chip, mpidr)
		for j, typ := range []cm.CacheType{cm.CacheTypeInstruction, cm.CacheTypeData} {
			c, err := readCache(n, typ)
			if err != nil {
				log.Debugf("%s: no %s: %v", n.Path(), typ, err)
				continue
			}
			c.meta.Token = tokens[2*i+j]
			c.meta.IsCPU = true
			c.meta.Socket, c.meta.Cluster, c.meta.Core = socket, cluster, core
			t.nodes = append(t.nodes, &c)
		}
	}
	return nil
}

// fixup propagates cpu locations up the next-level chains. A cache shared
// by several cores or clusters is marked unused at that level, and the
// last cache of every chain is shared by the whole socket.
func (t *cacheTracker) fixup() error {
	for _, start := range t.nodes {
		if start.meta.Type == cm.CacheTypeUnified {
			continue
		}
		node := &start.meta
		next := t.byPhandle(node.NextLevelPhandle)
		for next != nil {
			nm := &next.meta
			switch {
			case nm.Socket == Undefined && nm.Cluster == Undefined && nm.Core == Undefined:
				nm.Socket, nm.Cluster, nm.Core = node.Socket, node.Cluster, node.Core
			case nm.Socket != node.Socket:
				return status.Errorf(status.ErrUnsupported, "cache %#x is shared between sockets %d and %d",
					nm.Phandle, nm.Socket, node.Socket)
			case nm.Cluster != Unused:
				if nm.Cluster == node.Cluster {
					if nm.Core != Unused && nm.Core != node.Core {
						nm.Core = Unused
					}
				} else {
					nm.Cluster, nm.Core = Unused, Unused
				}
			case nm.Cluster != node.Cluster:
				nm.Cluster, nm.Core = Unused, Unused
			}
			node = nm
			next = t.byPhandle(nm.NextLevelPhandle)
		}
		node.Cluster, node.Core = Unused, Unused
	}
	return nil
}

func (t *cacheTracker) info() ([]cm.CacheInfo, []cm.Token, error) {
	infos := make([]cm.CacheInfo, len(t.nodes))
	tokens := make([]cm.Token, len(t.nodes))
	for i, c := range t.nodes {
		if c.line == 0 || c.sets == 0 {
			return nil, nil, status.Errorf(status.ErrDeviceError, "%s: cache with %d sets of %d byte lines",
				c.source.Path(), c.sets, c.line)
		}
		m := &c.meta
		m.CacheID = cacheID(uint32(m.Level), m.Type, m.Core, m.Cluster, m.Socket)
		info := cm.CacheInfo{
			Token:         m.Token,
			Size:          c.size,
			NumberOfSets:  c.sets,
			LineSize:      uint16(c.line),
			Associativity: c.size / (c.line * c.sets),
			Attributes:    cacheAttributes(m.Type),
			CacheID:       m.CacheID,
		}
		if next := t.byPhandle(m.NextLevelPhandle); next != nil {
			info.NextLevelOfCacheToken = next.meta.Token
		}
		log.Debugf("cache %#x: level %d %s %s, id %#x", m.Phandle, m.Level, m.Type, humanize.IBytes(uint64(c.size)), m.CacheID)
		infos[i] = info
		tokens[i] = m.Token
	}
	return infos, tokens, nil
}

// hierarchy adds one reference array per position that has private
// caches: per socket, per cluster and per core.
func (t *cacheTracker) hierarchy(b *cm.Builder) (CacheHierarchy, error) {
	var maxSocket, maxCluster, maxCore uint32
	for _, c := range t.nodes {
		m := c.meta
		if m.Socket < Unused && m.Socket > maxSocket {
			maxSocket = m.Socket
		}
		if m.Cluster < Unused && m.Cluster > maxCluster {
			maxCluster = m.Cluster
		}
		if m.Core < Unused && m.Core > maxCore {
			maxCore = m.Core
		}
	}
	out := CacheHierarchy{}
	add := func(p Position) error {
		var refs []cm.Token
		for _, c := range t.nodes {
			if c.meta.Socket == p.Socket && c.meta.Cluster == p.Cluster && c.meta.Core == p.Core {
				refs = append(refs, c.meta.Token)
			}
		}
		if len(refs) == 0 {
			return nil
		}
		tok, err := b.AddSingleObject(cm.ArchCommonObjCmRef, refs)
		if err != nil {
			return err
		}
		out[p] = CacheRefs{Token: tok, Count: len(refs)}
		return nil
	}
	for s := uint32(0); s <= maxSocket; s++ {
		if err := add(Position{s, Unused, Unused}); err != nil {
			return nil, err
		}
		for cl := uint32(0); cl <= maxCluster; cl++ {
			if err := add(Position{s, cl, Unused}); err != nil {
				return nil, err
			}
			for co := uint32(0); co <= maxCore; co++ {
				if err := add(Position{s, cl, co}); err != nil {
					return nil, err
				}
			}
		}
	}
	return out, nil
}

func parseCache(h *Handle) error {
	t := &cacheTracker{}
	if err := collectCaches(h, t); err != nil {
		return err
	}
	if err := collectCPUCaches(h, t); err != nil {
		return err
	}
	if len(t.nodes) == 0 {
		return status.Errorf(status.ErrNotFound, "no caches described")
	}
	if err := t.fixup(); err != nil {
		return err
	}
	infos, tokens, err := t.info()
	if err != nil {
		return err
	}
	desc, err := cm.DescriptorOf(cm.ArchCommonObjCacheInfo, infos)
	if err != nil {
		return err
	}
	if _, err := h.Repo.AddMultipleObjectsWithTokens(desc, tokens, cm.NullToken); err != nil {
		return err
	}
	if h.Caches, err = t.hierarchy(h.Repo); err != nil {
		return err
	}
	meta := make([]cm.CacheNode, len(t.nodes))
	for i, c := range t.nodes {
		meta[i] = c.meta
	}
	desc, err = cm.DescriptorOf(cm.OemObjCacheNode, meta)
	if err != nil {
		return err
	}
	_, _, err = h.Repo.AddMultipleObjectsGetTokens(desc)
	return err
}
