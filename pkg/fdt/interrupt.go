// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fdt

import "github.com/linuxboot/tegracm/pkg/status"

// GIC interrupt specifier types.
const (
	InterruptSPI uint32 = 0
	InterruptPPI uint32 = 1
)

// GIC interrupt numbering offsets.
const (
	spiBase = 32
	ppiBase = 16
)

// Trigger flag bits of the third specifier cell.
const (
	IrqEdgeRising  uint32 = 1
	IrqEdgeFalling uint32 = 2
	IrqLevelHigh   uint32 = 4
	IrqLevelLow    uint32 = 8
)

// Interrupt is one three-cell GIC interrupt specifier.
type Interrupt struct {
	Type   uint32
	Number uint32
	Flags  uint32
}

// ID returns the interrupt number as seen by ACPI tables.
func (i Interrupt) ID() uint32 {
	if i.Type == InterruptPPI {
		return i.Number + ppiBase
	}
	return i.Number + spiBase
}

// Edge reports whether the interrupt is edge triggered.
func (i Interrupt) Edge() bool {
	return i.Flags&(IrqEdgeRising|IrqEdgeFalling) != 0
}

// Interrupts decodes the interrupts property.
func (n *Node) Interrupts() ([]Interrupt, error) {
	cells, err := n.Cells("interrupts")
	if err != nil {
		return nil, err
	}
	if len(cells) == 0 || len(cells)%3 != 0 {
		return nil, status.Errorf(status.ErrDeviceError, "%s: interrupts has %d cells", n.Path(), len(cells))
	}
	out := make([]Interrupt, 0, len(cells)/3)
	for i := 0; i < len(cells); i += 3 {
		out = append(out, Interrupt{Type: cells[i], Number: cells[i+1], Flags: cells[i+2]})
	}
	return out, nil
}

// InterruptByName returns the interrupt listed under name in
// interrupt-names.
func (n *Node) InterruptByName(name string) (Interrupt, error) {
	names, ok := n.Strings("interrupt-names")
	if !ok {
		return Interrupt{}, status.Errorf(status.ErrNotFound, "%s: no interrupt-names", n.Path())
	}
	irqs, err := n.Interrupts()
	if err != nil {
		return Interrupt{}, err
	}
	for i, s := range names {
		if s != name {
			continue
		}
		if i >= len(irqs) {
			return Interrupt{}, status.Errorf(status.ErrDeviceError, "%s: interrupt %q has no specifier", n.Path(), name)
		}
		return irqs[i], nil
	}
	return Interrupt{}, status.Errorf(status.ErrNotFound, "%s: no interrupt %q", n.Path(), name)
}
