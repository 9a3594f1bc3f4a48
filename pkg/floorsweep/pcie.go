// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package floorsweep

import (
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/linuxboot/tegracm/pkg/fdt"
	"github.com/linuxboot/tegracm/pkg/log"
	"github.com/linuxboot/tegracm/pkg/status"
	"github.com/linuxboot/tegracm/pkg/tegra"
)

// Layout of the 64-bit aperture of a PCIe controller: VDM, ECAM, a
// reserved window with I/O at its start, non-prefetchable memory and then
// prefetchable memory up to the end.
const (
	VdmSize         = 0x10000000
	EcamSize        = 0x10000000
	ReservedSize    = 0x20000000
	IoSize          = 0x10000
	NonPrefSize     = 0x80000000
	NonPrefPCIAddr  = 0x40000000
	pcieRegCells    = 20
	pcieRangesShort = 14
	pcieRangesIO    = 21
)

// CBB fabric registers of one controller, relative to
// CbbFabricBase + CbbCtlStride*interface.
const (
	CbbCtlStride   = 0x20
	CbbAperture64L = 0x10
	CbbAperture64H = 0x14
	CbbApertureSz  = 0x18
)

// C2C mode register of the memory subsystem and its two-GPU value.
const (
	MssC2CMode       = 0xC910
	MssC2CModeTwoGPU = 1
	c2cController    = 8
)

// PcieID splits a linux,pci-domain value into socket and interface.
func PcieID(id uint32) (socket, iface int) {
	return int(id >> 4), int(id & 0xf)
}

// Aperture is the patched address map of one controller.
type Aperture struct {
	Base, Size     uint64
	Ecam           uint64
	NonPref        uint64
	Pref, PrefSize uint64
	IO             uint64
}

func (a Aperture) String() string {
	return fmt.Sprintf("ecam %#x, non-pref %#x, pref %#x (%s)", a.Ecam, a.NonPref, a.Pref, humanize.IBytes(a.PrefSize))
}

// NewAperture carves the 64-bit aperture of a controller.
func NewAperture(base, size uint64) (Aperture, error) {
	if size < VdmSize+EcamSize+ReservedSize+NonPrefSize {
		return Aperture{}, status.Errorf(status.ErrDeviceError, "aperture %#x is only %s", base, humanize.IBytes(size))
	}
	a := Aperture{Base: base, Size: size}
	a.Ecam = base + VdmSize
	a.IO = a.Ecam + EcamSize
	a.NonPref = a.IO + ReservedSize
	a.Pref = a.NonPref + NonPrefSize
	a.PrefSize = size - VdmSize - EcamSize - ReservedSize - NonPrefSize
	return a, nil
}

func (info *Info) pcieDisable(regs RegisterReader, socket int) (uint32, error) {
	var v uint32
	if socket < len(info.PcieDisableRegArray) {
		v = info.PcieDisableRegArray[socket]
	} else {
		base := info.socketBase(info.ScratchBase, socket)
		if base == 0 {
			return 0, nil
		}
		var err error
		if v, err = regs.Read32(base + uint64(info.PcieDisableOffset)); err != nil {
			return 0, err
		}
	}
	return v &^ info.PcieDisableMask, nil
}

func (info *Info) pcieParent(t *fdt.Tree, socket int) (*fdt.Node, error) {
	format := info.PcieParentNameFormat
	if format == "" {
		format = "/socket@%d"
	}
	path := fmt.Sprintf(format, socket)
	if n := t.Lookup(path); n != nil {
		return n, nil
	}
	if socket == 0 {
		return t.Root, nil
	}
	return nil, status.Errorf(status.ErrDeviceError, "no %s node", path)
}

// SweepPcie deletes disabled PCIe controllers and patches the address
// windows of the others from the CBB fabric registers.
func SweepPcie(t *fdt.Tree, info *Info, regs RegisterReader) error {
	if info.PcieDisableOffset == 0 && len(info.PcieDisableRegArray) == 0 {
		return nil
	}
	parents := info.PcieNumParentNodes
	if parents == 0 {
		parents = info.MaxSockets
	}
	for s := 0; s < parents; s++ {
		if !info.SocketEnabled(s) {
			continue
		}
		disable, err := info.pcieDisable(regs, s)
		if err != nil {
			return err
		}
		log.Debugf("floorsweep: socket %d pcie disable %#x", s, disable)
		parent, err := info.pcieParent(t, s)
		if err != nil {
			return err
		}
		for _, n := range append([]*fdt.Node(nil), parent.Children...) {
			ep := info.PcieEpCompatibility != "" && n.Compatible(info.PcieEpCompatibility)
			if n.DeviceType() != "pci" && !ep {
				continue
			}
			if err := info.sweepController(t, n, s, disable, ep, regs); err != nil {
				return err
			}
		}
	}
	return nil
}

func (info *Info) sweepController(t *fdt.Tree, n *fdt.Node, socket int, disable uint32, ep bool, regs RegisterReader) error {
	b, ok := n.Prop("linux,pci-domain")
	if !ok && ep {
		return nil
	}
	if !ok || len(b) != 4 {
		return status.Errorf(status.ErrUnsupported, "%s: unexpected linux,pci-domain", n.Path())
	}
	id, _ := n.U32("linux,pci-domain")
	sock, iface := PcieID(id)
	if sock != socket {
		log.Warnf("floorsweep: %s: pcie %#x found under socket %d", n.Path(), id, socket)
	}
	if disable&(1<<uint(iface)) != 0 {
		if err := t.Delete(n); err != nil {
			return err
		}
		log.Infof("floorsweep: deleted pcie %#x (%s)", id, n.Name)
		return nil
	}
	if ep {
		return nil
	}
	if info.Chip != tegra.TH500 {
		log.Debugf("floorsweep: pcie %#x: no aperture patching on %s", id, info.Chip)
		return nil
	}
	n.SetU32("nvidia,socket-id", uint32(sock))
	n.SetU32("nvidia,controller-id", uint32(iface))
	cbb := info.socketBase(info.CbbFabricBase, socket)
	if cbb == 0 {
		log.Debugf("floorsweep: pcie %#x: no cbb fabric on socket %d", id, socket)
		return nil
	}
	a, err := readAperture(regs, cbb+CbbCtlStride*uint64(iface))
	if err != nil {
		return err
	}
	if a.Size == 0 {
		log.Warnf("floorsweep: pcie %#x: aperture not programmed, %s left as is", id, n.Name)
		return nil
	}
	if err := patchPcie(n, a); err != nil {
		return err
	}
	log.Debugf("floorsweep: pcie %#x: %v", id, a)
	if iface == c2cController && info.MssBase != 0 {
		mode, err := regs.Read32(info.socketBase(info.MssBase, socket) + MssC2CMode)
		if err != nil {
			return err
		}
		if mode&3 == MssC2CModeTwoGPU {
			if len(n.Children) == 0 {
				log.Warnf("floorsweep: %s: no root port, external-facing kept", n.Path())
			} else if n.Children[0].DeleteProp("external-facing") {
				log.Infof("floorsweep: pcie %#x: C2C two GPU mode, root port not external-facing", id)
			}
		}
	}
	return nil
}

func readAperture(regs RegisterReader, ctl uint64) (Aperture, error) {
	lo, err := regs.Read32(ctl + CbbAperture64L)
	if err != nil {
		return Aperture{}, err
	}
	hi, err := regs.Read32(ctl + CbbAperture64H)
	if err != nil {
		return Aperture{}, err
	}
	sz, err := regs.Read32(ctl + CbbApertureSz)
	if err != nil || sz == 0 {
		return Aperture{}, err
	}
	return NewAperture(uint64(hi)<<32|uint64(lo), uint64(sz)<<16)
}

func put64(cells []uint32, at int, v uint64) {
	cells[at] = uint32(v >> 32)
	cells[at+1] = uint32(v)
}

func patchPcie(n *fdt.Node, a Aperture) error {
	reg, err := n.Cells("reg")
	if err != nil || len(reg) != pcieRegCells {
		return status.Errorf(status.ErrUnsupported, "%s: unexpected reg property", n.Path())
	}
	ranges, err := n.Cells("ranges")
	if err != nil || (len(ranges) != pcieRangesShort && len(ranges) != pcieRangesIO) {
		return status.Errorf(status.ErrUnsupported, "%s: unexpected ranges property", n.Path())
	}
	put64(reg, 16, a.Ecam)
	put64(reg, 18, EcamSize)
	n.SetU32("reg", reg...)

	put64(ranges, 1, NonPrefPCIAddr)
	put64(ranges, 3, a.NonPref)
	put64(ranges, 5, NonPrefSize)
	put64(ranges, 8, a.Pref)
	put64(ranges, 10, a.Pref)
	put64(ranges, 12, a.PrefSize)
	if len(ranges) == pcieRangesIO {
		put64(ranges, 15, 0)
		put64(ranges, 17, a.IO)
		put64(ranges, 19, IoSize)
	}
	n.SetU32("ranges", ranges...)
	return nil
}
