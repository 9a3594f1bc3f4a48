// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fdt

import (
	"bytes"
	"encoding/binary"
	"strings"

	"github.com/linuxboot/tegracm/pkg/status"
)

// PropU32 builds a property of big-endian cells.
func PropU32(name string, cells ...uint32) Property {
	return Property{Name: name, Value: EncodeCells(cells...)}
}

// PropU64 builds a property of 64-bit values, two cells each.
func PropU64(name string, values ...uint64) Property {
	cells := make([]uint32, 0, 2*len(values))
	for _, v := range values {
		cells = append(cells, uint32(v>>32), uint32(v))
	}
	return PropU32(name, cells...)
}

// PropString builds a string list property.
func PropString(name string, values ...string) Property {
	var b []byte
	for _, v := range values {
		b = append(b, v...)
		b = append(b, 0)
	}
	return Property{Name: name, Value: b}
}

// PropEmpty builds a boolean property.
func PropEmpty(name string) Property {
	return Property{Name: name, Value: []byte{}}
}

// EncodeCells packs cells big-endian.
func EncodeCells(cells ...uint32) []byte {
	b := make([]byte, 4*len(cells))
	for i, c := range cells {
		binary.BigEndian.PutUint32(b[4*i:], c)
	}
	return b
}

// DecodeCells unpacks a big-endian cell array. It fails when the length is
// not a multiple of four.
func DecodeCells(b []byte) ([]uint32, error) {
	if len(b)%4 != 0 {
		return nil, status.Errorf(status.ErrDeviceError, "property length %d is not a multiple of 4", len(b))
	}
	cells := make([]uint32, len(b)/4)
	for i := range cells {
		cells[i] = binary.BigEndian.Uint32(b[4*i:])
	}
	return cells, nil
}

// Prop returns the raw value of a property.
func (n *Node) Prop(name string) ([]byte, bool) {
	for i := range n.Properties {
		if n.Properties[i].Name == name {
			return n.Properties[i].Value, true
		}
	}
	return nil, false
}

// HasProp reports whether the property exists.
func (n *Node) HasProp(name string) bool {
	_, ok := n.Prop(name)
	return ok
}

// SetProp sets or replaces a property, keeping its position if it exists.
func (n *Node) SetProp(name string, value []byte) {
	for i := range n.Properties {
		if n.Properties[i].Name == name {
			n.Properties[i].Value = value
			return
		}
	}
	n.Properties = append(n.Properties, Property{Name: name, Value: value})
}

// SetU32 sets a cell array property.
func (n *Node) SetU32(name string, cells ...uint32) {
	n.SetProp(name, EncodeCells(cells...))
}

// SetString sets a string property.
func (n *Node) SetString(name, value string) {
	n.SetProp(name, PropString(name, value).Value)
}

// DeleteProp removes a property and reports whether it existed.
func (n *Node) DeleteProp(name string) bool {
	for i := range n.Properties {
		if n.Properties[i].Name == name {
			n.Properties = append(n.Properties[:i:i], n.Properties[i+1:]...)
			return true
		}
	}
	return false
}

// Cells returns a property as a cell array. Missing properties return
// ErrNotFound, malformed ones ErrDeviceError.
func (n *Node) Cells(name string) ([]uint32, error) {
	b, ok := n.Prop(name)
	if !ok {
		return nil, status.Errorf(status.ErrNotFound, "%s: no property %q", n.Path(), name)
	}
	cells, err := DecodeCells(b)
	if err != nil {
		return nil, status.Errorf(status.ErrDeviceError, "%s: property %q: %v", n.Path(), name, err)
	}
	return cells, nil
}

// U32 returns a single-cell property.
func (n *Node) U32(name string) (uint32, error) {
	b, ok := n.Prop(name)
	if !ok {
		return 0, status.Errorf(status.ErrNotFound, "%s: no property %q", n.Path(), name)
	}
	if len(b) != 4 {
		return 0, status.Errorf(status.ErrDeviceError, "%s: property %q has length %d, want 4", n.Path(), name, len(b))
	}
	return binary.BigEndian.Uint32(b), nil
}

// U32Default returns a single-cell property or def when it is absent or
// malformed.
func (n *Node) U32Default(name string, def uint32) uint32 {
	v, err := n.U32(name)
	if err != nil {
		return def
	}
	return v
}

// Strings returns a string list property.
func (n *Node) Strings(name string) ([]string, bool) {
	b, ok := n.Prop(name)
	if !ok {
		return nil, false
	}
	b = bytes.TrimRight(b, "\x00")
	if len(b) == 0 {
		return []string{}, true
	}
	return strings.Split(string(b), "\x00"), true
}

// StringProp returns the first string of a string property.
func (n *Node) StringProp(name string) (string, bool) {
	s, ok := n.Strings(name)
	if !ok || len(s) == 0 {
		return "", ok
	}
	return s[0], true
}

// Compatible reports whether any entry of the node's compatible list is
// one of compats.
func (n *Node) Compatible(compats ...string) bool {
	list, ok := n.Strings("compatible")
	if !ok {
		return false
	}
	for _, have := range list {
		for _, want := range compats {
			if have == want {
				return true
			}
		}
	}
	return false
}

// Phandle returns the node's phandle, from "phandle" or "linux,phandle".
func (n *Node) Phandle() (uint32, bool) {
	for _, name := range []string{"phandle", "linux,phandle"} {
		if v, err := n.U32(name); err == nil {
			return v, true
		}
	}
	return 0, false
}

// Enabled reports whether the status property is absent, "okay" or "ok".
func (n *Node) Enabled() bool {
	s, ok := n.StringProp("status")
	if !ok {
		return true
	}
	return s == "okay" || s == "ok"
}

// DeviceType returns the device_type property.
func (n *Node) DeviceType() string {
	s, _ := n.StringProp("device_type")
	return s
}
