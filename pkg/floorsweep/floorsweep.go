// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package floorsweep edits a device tree so that it only describes the
// hardware a given part actually has.
//
// Fuse and scratch registers are read through a RegisterReader. Every pass
// works on the owned fdt.Tree in place and running the passes a second time
// with the same registers leaves the tree untouched.
package floorsweep

import (
	"context"
	"fmt"
	"strings"

	"github.com/linuxboot/tegracm/pkg/fdt"
	"github.com/linuxboot/tegracm/pkg/log"
	"github.com/linuxboot/tegracm/pkg/status"
	"github.com/linuxboot/tegracm/pkg/tegra"
)

// Policy decides what happens to a cpu node whose core is fused off.
type Policy uint8

// Supported policies.
const (
	// Delete removes the cpu node and the caches nothing else uses.
	Delete Policy = iota
	// MarkFail keeps the node and sets status = "fail".
	MarkFail
)

var policyNames = []string{"delete", "mark-fail"}

func (p Policy) String() string {
	if int(p) < len(policyNames) {
		return policyNames[p]
	}
	return fmt.Sprintf("Policy(%d)", uint8(p))
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Policy) UnmarshalText(b []byte) error {
	for i, name := range policyNames {
		if strings.EqualFold(string(b), name) {
			*p = Policy(i)
			return nil
		}
	}
	return status.Errorf(status.ErrInvalidParameter, "unknown policy %q", b)
}

// MarshalText implements encoding.TextMarshaler.
func (p Policy) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// DisableWord is one 32-bit disable bitmap. Bits set in Mask carry no
// meaning and are cleared before use.
type DisableWord struct {
	Offset uint32 `yaml:"offset"`
	Mask   uint32 `yaml:"mask"`
}

// ScfCacheInfo describes the per-socket L3 slices. No words means SCF
// sweeping is not supported.
type ScfCacheInfo struct {
	Words     []DisableWord `yaml:"words"`
	SliceSize uint32        `yaml:"slice_size"`
	SliceSets uint32        `yaml:"slice_sets"`
}

// SatMC locates the core reserved for the management controller on
// socket 0. Its bit is ORed into the core disable words.
type SatMC struct {
	Word    int    `yaml:"word"`
	Shift   uint   `yaml:"shift"`
	Mask    uint32 `yaml:"mask"`
	Invalid uint32 `yaml:"invalid"`
}

// IP is one entry of the generic IP table.
type IP struct {
	Name        string   `yaml:"name"`
	Compatibles []string `yaml:"compatibles"`
	// IDProperty names the instance id cell. Empty means a non-zero
	// disable value removes every matching node of the socket.
	IDProperty string `yaml:"id_property"`
	// Register is the socket 0 address of the disable value. Other
	// sockets are at Register | socket<<AddressToSocketShift.
	Register uint64 `yaml:"register"`
	Mask     uint32 `yaml:"mask"`
	Shift    uint   `yaml:"shift"`
}

// Info is the floor-sweeping description of one platform.
type Info struct {
	Chip       tegra.Chip     `yaml:"-"`
	Platform   tegra.Platform `yaml:"-"`
	SocketMask uint32         `yaml:"socket_mask"`
	MaxSockets int            `yaml:"max_sockets"`
	Policy     Policy         `yaml:"policy"`

	CoresPerSocket  int           `yaml:"cores_per_socket"`
	CoresPerCluster int           `yaml:"cores_per_cluster"`
	CoreWords       []DisableWord `yaml:"core_words"`
	SatMC           *SatMC        `yaml:"satmc"`

	// Socket 0 bases. A zero base skips the socket.
	ScratchBase   uint64 `yaml:"scratch_base"`
	CbbFabricBase uint64 `yaml:"cbb_fabric_base"`
	MssBase       uint64 `yaml:"mss_base"`

	// PcieDisableRegArray overrides the per-socket PCIe disable value.
	// Entries past its end are read from PcieDisableOffset.
	PcieDisableRegArray  []uint32 `yaml:"pcie_disable_reg_array"`
	PcieDisableOffset    uint32   `yaml:"pcie_disable_offset"`
	PcieDisableMask      uint32   `yaml:"pcie_disable_mask"`
	PcieEpCompatibility  string   `yaml:"pcie_ep_compatibility"`
	PcieParentNameFormat string   `yaml:"pcie_parent_name_format"`
	PcieNumParentNodes   int      `yaml:"pcie_num_parent_nodes"`

	ScfCacheInfo ScfCacheInfo `yaml:"scf_cache"`
	IpTable      []IP         `yaml:"ip_table"`

	SocketAddressMask    uint64 `yaml:"socket_address_mask"`
	AddressToSocketShift uint   `yaml:"address_to_socket_shift"`
	HasGlobalThermals    bool   `yaml:"has_global_thermals"`
}

// SocketEnabled reports whether socket is in the socket mask.
func (info *Info) SocketEnabled(socket int) bool {
	return socket >= 0 && socket < 32 && info.SocketMask&(1<<uint(socket)) != 0
}

// socketBase relocates a socket 0 address to socket.
func (info *Info) socketBase(base uint64, socket int) uint64 {
	if base == 0 {
		return 0
	}
	return base | uint64(socket)<<info.AddressToSocketShift
}

// SocketOf returns the socket that owns address.
func (info *Info) SocketOf(address uint64) int {
	return int((address & info.SocketAddressMask) >> info.AddressToSocketShift)
}

// Pass is one floor-sweeping step.
type Pass struct {
	Name string
	Run  func(t *fdt.Tree, info *Info, regs RegisterReader) error
}

// Passes lists the floor-sweeping steps in the order Run applies them.
var Passes = []Pass{
	{Name: "sockets", Run: SweepSockets},
	{Name: "cpus", Run: SweepCPUs},
	{Name: "pcie", Run: SweepPcie},
	{Name: "scf", Run: SweepScfCache},
	{Name: "ip", Run: SweepIPs},
	{Name: "thermal", Run: SweepThermals},
}

// Run applies every pass to t and stops at the first failure. A nil info
// or an unknown chip leaves the tree as it is and returns nil.
func Run(ctx context.Context, t *fdt.Tree, info *Info, regs RegisterReader) error {
	if t == nil || regs == nil {
		return status.Errorf(status.ErrInvalidParameter, "floorsweep: nil tree or registers")
	}
	if info == nil || !info.Chip.Known() {
		log.Infof("floorsweep: no floor-sweeping info, nothing to do")
		return nil
	}
	for _, p := range Passes {
		if err := ctx.Err(); err != nil {
			return err
		}
		log.Debugf("floorsweep: running %s", p.Name)
		if err := p.Run(t, info, regs); err != nil {
			return fmt.Errorf("floorsweep %s: %w", p.Name, err)
		}
	}
	return nil
}

// SweepSockets deletes /socket@N for every socket missing from the mask.
func SweepSockets(t *fdt.Tree, info *Info, _ RegisterReader) error {
	for s := 0; s < info.MaxSockets; s++ {
		if info.SocketEnabled(s) {
			continue
		}
		n := t.Lookup(fmt.Sprintf("/socket@%d", s))
		if n == nil {
			continue
		}
		if err := t.Delete(n); err != nil {
			return err
		}
		log.Infof("floorsweep: socket %d disabled, deleted %s", s, n.Name)
	}
	return nil
}
