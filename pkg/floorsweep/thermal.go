// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package floorsweep

import (
	"github.com/linuxboot/tegracm/pkg/fdt"
	"github.com/linuxboot/tegracm/pkg/log"
)

// defaultCoolingCells is #cooling-cells for targets that are gone or do
// not say.
const defaultCoolingCells = 2

// SweepThermals drops cooling-device entries whose target was deleted by
// an earlier pass and removes cooling maps left with none.
func SweepThermals(t *fdt.Tree, info *Info, _ RegisterReader) error {
	if !info.HasGlobalThermals {
		return nil
	}
	zones := t.Lookup("/thermal-zones")
	if zones == nil {
		return nil
	}
	index := phandleIndex(t)
	for _, zone := range zones.Children {
		maps := zone.Child("cooling-maps")
		if maps == nil {
			continue
		}
		for _, m := range append([]*fdt.Node(nil), maps.Children...) {
			if err := sweepCoolingMap(maps, m, index); err != nil {
				return err
			}
		}
	}
	return nil
}

func sweepCoolingMap(maps, m *fdt.Node, index map[uint32]*fdt.Node) error {
	cells, err := m.Cells("cooling-device")
	if err != nil {
		if m.HasProp("cooling-device") {
			return err
		}
		return nil
	}
	var kept []uint32
	for i := 0; i < len(cells); {
		target, ok := index[cells[i]]
		n := defaultCoolingCells
		if ok {
			n = int(target.U32Default("#cooling-cells", defaultCoolingCells))
		}
		end := i + 1 + n
		if end > len(cells) {
			end = len(cells)
		}
		if ok {
			kept = append(kept, cells[i:end]...)
		}
		i = end
	}
	if len(kept) == len(cells) {
		return nil
	}
	if len(kept) == 0 {
		path := m.Path()
		maps.Remove(m)
		log.Infof("floorsweep: %s: no cooling device left, map deleted", path)
		return nil
	}
	m.SetU32("cooling-device", kept...)
	log.Debugf("floorsweep: %s: %d of %d cooling cells kept", m.Path(), len(kept), len(cells))
	return nil
}
