// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package floorsweep

import (
	"fmt"
	"math/bits"

	"github.com/linuxboot/tegracm/pkg/fdt"
	"github.com/linuxboot/tegracm/pkg/log"
	"github.com/linuxboot/tegracm/pkg/status"
)

// CoreSet is a bitmap indexed by linear core id.
type CoreSet []uint64

// NewCoreSet returns an empty set able to hold n cores.
func NewCoreSet(n int) CoreSet {
	return make(CoreSet, (n+63)/64)
}

// Set adds id to the set. Ids outside the capacity are ignored.
func (s CoreSet) Set(id int) {
	if id >= 0 && id/64 < len(s) {
		s[id/64] |= 1 << uint(id%64)
	}
}

// Has reports whether id is in the set.
func (s CoreSet) Has(id int) bool {
	return id >= 0 && id/64 < len(s) && s[id/64]&(1<<uint(id%64)) != 0
}

// Count returns the number of cores in the set.
func (s CoreSet) Count() int {
	var n int
	for _, w := range s {
		n += bits.OnesCount64(w)
	}
	return n
}

// IDs lists the members in increasing order.
func (s CoreSet) IDs() []int {
	var ids []int
	for i, w := range s {
		for w != 0 {
			b := bits.TrailingZeros64(w)
			ids = append(ids, i*64+b)
			w &^= 1 << uint(b)
		}
	}
	return ids
}

// LinearCoreID maps an MPIDR to socket*CoresPerSocket +
// cluster*CoresPerCluster + core, with socket, cluster and core taken from
// affinity levels 3, 2 and 1.
func (info *Info) LinearCoreID(mpidr uint64) int {
	socket := int(mpidr>>32) & 0xff
	cluster := int(mpidr>>16) & 0xff
	core := int(mpidr>>8) & 0xff
	return socket*info.CoresPerSocket + cluster*info.CoresPerCluster + core
}

// MaxCores is the capacity of the linear core space.
func (info *Info) MaxCores() int {
	return info.MaxSockets * info.CoresPerSocket
}

// satMCCore returns the core reserved for the management controller, or
// -1 when there is none.
func (info *Info) satMCCore(regs RegisterReader) (int, error) {
	if info.SatMC == nil || info.SatMC.Word >= len(info.CoreWords) {
		return -1, nil
	}
	v, err := regs.Read32(info.ScratchBase + uint64(info.CoreWords[info.SatMC.Word].Offset))
	if err != nil {
		return -1, err
	}
	core := (v >> info.SatMC.Shift) & info.SatMC.Mask
	if core == info.SatMC.Invalid || int(core) >= info.CoresPerSocket {
		return -1, nil
	}
	return int(core), nil
}

// EnabledCores reads the core disable words of every socket in the mask
// and returns the cores left enabled.
func EnabledCores(info *Info, regs RegisterReader) (CoreSet, error) {
	if len(info.CoreWords)*32 < info.CoresPerSocket {
		return nil, status.Errorf(status.ErrInvalidParameter,
			"%d disable words cannot cover %d cores", len(info.CoreWords), info.CoresPerSocket)
	}
	set := NewCoreSet(info.MaxCores())
	satmc, err := info.satMCCore(regs)
	if err != nil {
		return nil, err
	}
	for s := 0; s < info.MaxSockets; s++ {
		base := info.socketBase(info.ScratchBase, s)
		if !info.SocketEnabled(s) || base == 0 {
			continue
		}
		raw := make([]uint32, len(info.CoreWords))
		for i, w := range info.CoreWords {
			if raw[i], err = regs.Read32(base + uint64(w.Offset)); err != nil {
				return nil, err
			}
		}
		if s == 0 && satmc >= 0 {
			log.Infof("floorsweep: core %d of socket 0 reserved for SatMC", satmc)
			raw[satmc/32] |= 1 << uint(satmc%32)
		}
		for core := 0; core < info.CoresPerSocket; core++ {
			w := info.CoreWords[core/32]
			disabled := raw[core/32] &^ w.Mask
			if disabled&(1<<uint(core%32)) == 0 {
				set.Set(s*info.CoresPerSocket + core)
			}
		}
		log.Debugf("floorsweep: socket %d disable words %#x", s, raw)
	}
	return set, nil
}

// SweepCPUs removes or fails the cpu nodes of disabled cores, then drops
// the caches and cpu-map entries that pointed only at them.
func SweepCPUs(t *fdt.Tree, info *Info, regs RegisterReader) error {
	if info.ScratchBase == 0 || len(info.CoreWords) == 0 {
		log.Debugf("floorsweep: no core disable registers, cpus untouched")
		return nil
	}
	enabled, err := EnabledCores(info, regs)
	if err != nil {
		return err
	}
	for s := 0; s < info.MaxSockets; s++ {
		if !info.SocketEnabled(s) {
			continue
		}
		path := fmt.Sprintf("/socket@%d/cpus", s)
		cpus := t.Lookup(path)
		if cpus == nil && s == 0 {
			path = "/cpus"
			cpus = t.Lookup(path)
		}
		if cpus == nil {
			return status.Errorf(status.ErrDeviceError, "no %s node", path)
		}
		if err := sweepCPUNode(t, cpus, info, enabled); err != nil {
			return err
		}
	}
	t.Compact()
	return nil
}

func mpidrOf(n *fdt.Node) (uint64, error) {
	reg, err := n.Cells("reg")
	if err != nil {
		return 0, err
	}
	if len(reg) == 0 || len(reg) > 2 {
		return 0, status.Errorf(status.ErrDeviceError, "%s: reg has %d cells", n.Path(), len(reg))
	}
	var mpidr uint64
	for _, c := range reg {
		mpidr = mpidr<<32 | uint64(c)
	}
	return mpidr, nil
}

func sweepCPUNode(t *fdt.Tree, cpus *fdt.Node, info *Info, enabled CoreSet) error {
	var pending []uint32
	removed := 0
	for _, c := range append([]*fdt.Node(nil), cpus.Children...) {
		if c.DeviceType() != "cpu" {
			continue
		}
		mpidr, err := mpidrOf(c)
		if err != nil {
			return err
		}
		id := info.LinearCoreID(mpidr)
		if enabled.Has(id) {
			continue
		}
		if info.Policy == MarkFail {
			if s, _ := c.StringProp("status"); s != "fail" {
				c.SetString("status", "fail")
				log.Infof("floorsweep: core %d (mpidr %#x) marked fail", id, mpidr)
			}
			continue
		}
		for _, n := range c.FindAll(func(n *fdt.Node) bool { return n.HasProp("next-level-cache") }) {
			if ph, err := n.U32("next-level-cache"); err == nil {
				pending = append(pending, ph)
			}
		}
		cpus.Remove(c)
		removed++
		log.Debugf("floorsweep: core %d (mpidr %#x) deleted", id, mpidr)
	}
	if removed == 0 {
		return nil
	}
	log.Infof("floorsweep: %s: deleted %d cpus", cpus.Path(), removed)
	removeUnusedCaches(t, pending)
	if m := cpus.Child("cpu-map"); m != nil {
		pruneCPUMap(m, phandleIndex(t))
	}
	return nil
}

func phandleIndex(t *fdt.Tree) map[uint32]*fdt.Node {
	idx := map[uint32]*fdt.Node{}
	_ = t.Walk(func(n *fdt.Node) error {
		if ph, ok := n.Phandle(); ok {
			idx[ph] = n
		}
		return nil
	})
	return idx
}

// removeUnusedCaches deletes each pending cache once no node refers to it
// and follows its own next-level-cache upwards.
func removeUnusedCaches(t *fdt.Tree, pending []uint32) {
	for len(pending) > 0 {
		ph := pending[0]
		pending = pending[1:]
		cache := t.NodeByPhandle(ph)
		if cache == nil || cacheReferenced(t, ph) {
			continue
		}
		if next, err := cache.U32("next-level-cache"); err == nil {
			pending = append(pending, next)
		}
		if err := t.Delete(cache); err == nil {
			log.Debugf("floorsweep: deleted unused cache %s", cache.Name)
		}
	}
}

func cacheReferenced(t *fdt.Tree, ph uint32) bool {
	refs := t.FindAll(func(n *fdt.Node) bool {
		v, err := n.U32("next-level-cache")
		return err == nil && v == ph
	})
	return len(refs) > 0
}

// pruneCPUMap removes leaves whose cpu no longer exists and the topology
// nodes left empty by that.
func pruneCPUMap(n *fdt.Node, phandles map[uint32]*fdt.Node) {
	for _, c := range append([]*fdt.Node(nil), n.Children...) {
		pruneCPUMap(c, phandles)
		if ph, err := c.U32("cpu"); err == nil {
			if _, ok := phandles[ph]; !ok {
				n.Remove(c)
			}
			continue
		}
		if len(c.Children) == 0 {
			n.Remove(c)
		}
	}
}
