// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package floorsweep

import (
	"fmt"
	"math/bits"

	"github.com/dustin/go-humanize"

	"github.com/linuxboot/tegracm/pkg/fdt"
	"github.com/linuxboot/tegracm/pkg/log"
	"github.com/linuxboot/tegracm/pkg/status"
)

// ScfSlices returns the number of enabled L3 slices of socket. There is
// one slice per core position.
func ScfSlices(info *Info, regs RegisterReader, socket int) (int, error) {
	words, err := readWords(regs, info.socketBase(info.ScratchBase, socket), info.ScfCacheInfo.Words)
	if err != nil {
		return 0, err
	}
	n := info.CoresPerSocket
	for _, w := range words {
		n -= bits.OnesCount32(w)
	}
	if n < 0 {
		return 0, status.Errorf(status.ErrDeviceError, "socket %d: more slices disabled than exist", socket)
	}
	return n, nil
}

func l3Node(t *fdt.Tree, socket int) *fdt.Node {
	for _, name := range []string{"l3-cache", "l3cache"} {
		if n := t.Lookup(fmt.Sprintf("/socket@%d/%s", socket, name)); n != nil {
			return n
		}
	}
	return nil
}

// SweepScfCache sizes the L3 of every socket to its enabled slices.
func SweepScfCache(t *fdt.Tree, info *Info, regs RegisterReader) error {
	scf := info.ScfCacheInfo
	if len(scf.Words) == 0 || info.ScratchBase == 0 {
		return nil
	}
	for s := 0; s < info.MaxSockets; s++ {
		if !info.SocketEnabled(s) {
			continue
		}
		n, err := ScfSlices(info, regs, s)
		if err != nil {
			return err
		}
		size := uint32(n) * scf.SliceSize
		sets := uint32(n) * scf.SliceSets
		l3 := l3Node(t, s)
		if l3 == nil {
			return status.Errorf(status.ErrDeviceError, "no /socket@%d/l3-cache node", s)
		}
		l3.SetU32("cache-size", size)
		l3.SetU32("cache-sets", sets)
		log.Infof("floorsweep: socket %d: %d SCF slices, l3 %s, %d sets", s, n, humanize.IBytes(uint64(size)), sets)
	}
	return nil
}
