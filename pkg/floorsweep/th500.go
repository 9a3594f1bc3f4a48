// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package floorsweep

import (
	"github.com/linuxboot/tegracm/pkg/status"
	"github.com/linuxboot/tegracm/pkg/tegra"
)

// TH500 register layout.
const (
	TH500MaxSockets      = 4
	TH500CoresPerSocket  = 84
	TH500CoresPerCluster = 1

	TH500ScratchBase   = 0x00000C390000
	TH500CbbFabricBase = 0x000013a00000
	TH500MssBase       = 0x000004040000

	TH500SocketMask  = 0x300000000000
	TH500SocketShift = 44

	TH500PcieDisableOffset = 0x74
	TH500PcieDisableMask   = 0xFFFFFC00
	TH500PcieVDKDisable    = 0x1F3
	TH500PcieFPGADisable   = 0xFF

	TH500ScfSliceSize = 0x180000
	TH500ScfSliceSets = 2048
)

// TH500CoreWords are the CPU disable scratch words.
var TH500CoreWords = []DisableWord{
	{Offset: 0x78},
	{Offset: 0x7C},
	{Offset: 0x80, Mask: 0xFFF00000},
}

// TH500ScfWords are the SCF slice disable scratch words.
var TH500ScfWords = []DisableWord{
	{Offset: 0x8C},
	{Offset: 0x90},
	{Offset: 0x94, Mask: 0xFFF00000},
}

// Defaults returns the floor-sweeping description of chip. Chips without
// one return ErrUnsupported.
func Defaults(chip tegra.Chip, platform tegra.Platform, socketMask uint32) (*Info, error) {
	if chip != tegra.TH500 {
		return nil, status.Errorf(status.ErrUnsupported, "no floor-sweeping info for %s", chip)
	}
	info := &Info{
		Chip:            chip,
		Platform:        platform,
		SocketMask:      socketMask,
		MaxSockets:      TH500MaxSockets,
		CoresPerSocket:  TH500CoresPerSocket,
		CoresPerCluster: TH500CoresPerCluster,
		CoreWords:       append([]DisableWord(nil), TH500CoreWords...),
		SatMC:           &SatMC{Word: 2, Shift: 25, Mask: 0x7F, Invalid: 0x7F},

		ScratchBase:   TH500ScratchBase,
		CbbFabricBase: TH500CbbFabricBase,
		MssBase:       TH500MssBase,

		PcieDisableOffset:    TH500PcieDisableOffset,
		PcieDisableMask:      TH500PcieDisableMask,
		PcieParentNameFormat: "/socket@%d",
		PcieNumParentNodes:   TH500MaxSockets,

		ScfCacheInfo: ScfCacheInfo{
			Words:     append([]DisableWord(nil), TH500ScfWords...),
			SliceSize: TH500ScfSliceSize,
			SliceSets: TH500ScfSliceSets,
		},

		SocketAddressMask:    TH500SocketMask,
		AddressToSocketShift: TH500SocketShift,
		HasGlobalThermals:    true,
	}
	// Pre-silicon platforms use the same fixed disable value on every socket.
	switch platform {
	case tegra.VDK:
		info.PcieDisableRegArray = perSocket(TH500PcieVDKDisable, TH500MaxSockets)
	case tegra.FPGA:
		info.PcieDisableRegArray = perSocket(TH500PcieFPGADisable, TH500MaxSockets)
	}
	return info, nil
}

func perSocket(v uint32, sockets int) []uint32 {
	out := make([]uint32, sockets)
	for i := range out {
		out[i] = v
	}
	return out
}
