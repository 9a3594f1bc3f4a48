// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package floorsweep

import (
	"fmt"
	"sort"
	"strings"
)

// RegisterReader reads 32-bit fuse, scratch and fabric registers.
type RegisterReader interface {
	Read32(addr uint64) (uint32, error)
}

// RegisterMap serves register reads from a fixed table. Addresses not in
// the map read as zero, which is what an unfused part returns.
type RegisterMap map[uint64]uint32

// Read32 implements RegisterReader.
func (m RegisterMap) Read32(addr uint64) (uint32, error) {
	return m[addr], nil
}

// Set64 stores a 64-bit value as a low/high register pair.
func (m RegisterMap) Set64(lo, hi uint64, v uint64) {
	m[lo] = uint32(v)
	m[hi] = uint32(v >> 32)
}

func (m RegisterMap) String() string {
	addrs := make([]uint64, 0, len(m))
	for a := range m {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
	var sb strings.Builder
	for _, a := range addrs {
		fmt.Fprintf(&sb, "%#014x: %#010x\n", a, m[a])
	}
	return sb.String()
}

// readWords reads the disable words at base and clears their masked bits.
func readWords(regs RegisterReader, base uint64, words []DisableWord) ([]uint32, error) {
	out := make([]uint32, len(words))
	for i, w := range words {
		v, err := regs.Read32(base + uint64(w.Offset))
		if err != nil {
			return nil, err
		}
		out[i] = v &^ w.Mask
	}
	return out, nil
}
