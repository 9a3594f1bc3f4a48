// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package hwinfo

import (
	"fmt"

	"github.com/linuxboot/tegracm/pkg/cm"
	"github.com/linuxboot/tegracm/pkg/fdt"
	"github.com/linuxboot/tegracm/pkg/status"
	"github.com/linuxboot/tegracm/pkg/tegra"
)

// SerialConfig selects which table describes the serial port and which
// UART flavour it is.
type SerialConfig uint8

// Serial port configurations.
const (
	SerialDisabled SerialConfig = iota
	SerialSpcrSbsa
	SerialSpcrNvidia16550
	SerialDbg2Sbsa
	SerialDbg2Nvidia16550
	SerialSpcrFull16550
)

var serialConfigNames = []string{
	"disabled", "spcr-sbsa", "spcr-nvidia-16550", "dbg2-sbsa", "dbg2-nvidia-16550", "spcr-full-16550",
}

func (c SerialConfig) String() string {
	if int(c) < len(serialConfigNames) {
		return serialConfigNames[c]
	}
	return fmt.Sprintf("SerialConfig(%d)", uint8(c))
}

// MarshalText implements encoding.TextMarshaler.
func (c SerialConfig) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *SerialConfig) UnmarshalText(b []byte) error {
	for i, name := range serialConfigNames {
		if name == string(b) {
			*c = SerialConfig(i)
			return nil
		}
	}
	return status.Errorf(status.ErrInvalidParameter, "unknown serial port config %q", b)
}

// debug reports whether the port goes into DBG2 rather than SPCR.
func (c SerialConfig) debug() bool {
	return c == SerialDbg2Sbsa || c == SerialDbg2Nvidia16550
}

// SerialType is the UART hardware type.
type SerialType uint8

// UART types.
const (
	SerialType16550 SerialType = iota
	SerialTypeSbsa
)

// MarshalText implements encoding.TextMarshaler.
func (t SerialType) MarshalText() ([]byte, error) {
	if t == SerialTypeSbsa {
		return []byte("sbsa"), nil
	}
	return []byte("16550"), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *SerialType) UnmarshalText(b []byte) error {
	switch string(b) {
	case "16550":
		*t = SerialType16550
	case "sbsa":
		*t = SerialTypeSbsa
	default:
		return status.Errorf(status.ErrInvalidParameter, "unknown serial type %q", b)
	}
	return nil
}

// Serial port defaults.
const (
	DefaultBaudRate  = 115200
	DefaultUartClock = 24000000
)

var (
	tegraUartCompatibles = []string{"nvidia,tegra20-uart", "nvidia,tegra186-hsuart", "nvidia,tegra194-hsuart"}
	sbsaUartCompatibles  = []string{"arm,sbsa-uart"}
)

// ACPI signatures and revisions of the serial tables.
const (
	dbg2Revision = 0
	spcrRevision = 2
)

// SerialParser describes the serial console, or debug port, for SPCR or
// DBG2 generation.
var SerialParser = Parser{Name: "serial", Parse: parseSerial}

// matchEnabled returns the enabled nodes of the first compatible string
// that matches any.
func matchEnabled(t *fdt.Tree, compats []string) []*fdt.Node {
	for _, c := range compats {
		nodes := t.FindAll(func(n *fdt.Node) bool { return n.Compatible(c) && n.Enabled() })
		if len(nodes) > 0 {
			return nodes
		}
	}
	return nil
}

func serialPort(n *fdt.Node, cfg Config) (cm.SerialPortInfo, error) {
	regs, err := n.Reg()
	if err != nil {
		return cm.SerialPortInfo{}, err
	}
	irqs, err := n.Interrupts()
	if err != nil {
		return cm.SerialPortInfo{}, err
	}
	port := cm.SerialPortInfo{
		BaseAddress:       regs[0].Base,
		BaseAddressLength: regs[0].Size,
		Interrupt:         irqs[0].ID(),
		BaudRate:          cfg.BaudRate,
		Clock:             cfg.UartClock,
	}
	if port.BaudRate == 0 {
		port.BaudRate = DefaultBaudRate
	}
	if port.Clock == 0 {
		port.Clock = DefaultUartClock
	}
	switch {
	case cfg.SerialType == SerialTypeSbsa:
		port.PortSubtype = cm.SerialPortSubtypeSbsa
	case cfg.SerialPort == SerialSpcrFull16550:
		port.PortSubtype = cm.SerialPortSubtypeFull16550
	default:
		port.PortSubtype = cm.SerialPortSubtypeNvidia16550
	}
	return port, nil
}

func parseSerial(h *Handle) error {
	cfg := h.Config
	if cfg.SerialPort == SerialDisabled {
		return nil
	}
	compats := tegraUartCompatibles
	if cfg.SerialType == SerialTypeSbsa {
		if h.Chip == tegra.T194 {
			return nil
		}
		compats = sbsaUartCompatibles
	}
	nodes := matchEnabled(h.Tree, compats)
	if len(nodes) == 0 {
		return status.Errorf(status.ErrNotFound, "no enabled serial port matches %q", compats)
	}
	ports := make([]cm.SerialPortInfo, 0, len(nodes))
	for _, n := range nodes {
		port, err := serialPort(n, cfg)
		if err != nil {
			return err
		}
		ports = append(ports, port)
	}

	table := cm.AcpiTableInfo{
		AcpiTableSignature: cm.Signature("SPCR"),
		AcpiTableRevision:  spcrRevision,
		TableGeneratorID:   cm.StdAcpiTableIDSpcr,
		OemTableID:         cfg.OemTableID,
		OemRevision:        cfg.OemRevision,
	}
	id := cm.ArchCommonObjSerialConsolePortInfo
	if cfg.SerialPort.debug() {
		table.AcpiTableSignature = cm.Signature("DBG2")
		table.AcpiTableRevision = dbg2Revision
		table.TableGeneratorID = cm.StdAcpiTableIDDbg2
		id = cm.ArchCommonObjSerialDebugPortInfo
	}
	if err := h.Repo.AddOrMergeAcpiTableGenerator(table); err != nil {
		return err
	}
	desc, err := cm.DescriptorOf(id, ports)
	if err != nil {
		return err
	}
	_, _, err = h.Repo.AddMultipleObjectsGetTokens(desc)
	return err
}
