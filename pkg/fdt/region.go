// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fdt

import (
	"fmt"
	"sort"

	"github.com/linuxboot/tegracm/pkg/status"
)

// Region is one base/size pair of a reg-like property.
type Region struct {
	Base uint64
	Size uint64
}

func (r Region) String() string {
	return fmt.Sprintf("[%#x-%#x)", r.Base, r.End())
}

// End returns the first address after the region.
func (r Region) End() uint64 {
	return r.Base + r.Size
}

// Intersect returns true if r and cmp share at least one address.
func (r Region) Intersect(cmp Region) bool {
	if r.Size == 0 || cmp.Size == 0 {
		return false
	}
	return r.Base < cmp.End() && cmp.Base < r.End()
}

// Regions is a helper to manipulate multiple regions at once.
type Regions []Region

// Sort sorts the regions by base address.
func (s Regions) Sort() {
	sort.Slice(s, func(i, j int) bool { return s[i].Base < s[j].Base })
}

// Overlapping returns the first pair of overlapping regions, if any.
func (s Regions) Overlapping() (Region, Region, bool) {
	for i := range s {
		for j := i + 1; j < len(s); j++ {
			if s[i].Intersect(s[j]) {
				return s[i], s[j], true
			}
		}
	}
	return Region{}, Region{}, false
}

// AddressCells returns #address-cells of n, defaulting to 2.
func (n *Node) AddressCells() int {
	return int(n.U32Default("#address-cells", 2))
}

// SizeCells returns #size-cells of n, defaulting to 1.
func (n *Node) SizeCells() int {
	return int(n.U32Default("#size-cells", 1))
}

func joinCells(cells []uint32) uint64 {
	var v uint64
	for _, c := range cells {
		v = v<<32 | uint64(c)
	}
	return v
}

// Reg decodes the reg property using the cell sizes of the parent.
func (n *Node) Reg() (Regions, error) {
	ac, sc := 2, 1
	if p := n.Parent(); p != nil {
		ac, sc = p.AddressCells(), p.SizeCells()
	}
	cells, err := n.Cells("reg")
	if err != nil {
		return nil, err
	}
	stride := ac + sc
	if stride == 0 || len(cells)%stride != 0 {
		return nil, status.Errorf(status.ErrDeviceError, "%s: reg has %d cells, not a multiple of %d", n.Path(), len(cells), stride)
	}
	var out Regions
	for i := 0; i < len(cells); i += stride {
		out = append(out, Region{
			Base: joinCells(cells[i : i+ac]),
			Size: joinCells(cells[i+ac : i+stride]),
		})
	}
	return out, nil
}
