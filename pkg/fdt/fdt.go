// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fdt holds an owned, mutable model of a flattened device tree.
//
// The blob is decoded once into a tree of nodes, edited in place by the
// hardware-info parsers and the floor-sweeping passes, and serialised once
// at the end. Deleting a node simply unlinks it. Sequential naming under
// cpu-map is restored by Compact, which Encode always runs.
package fdt

import (
	"bytes"
	"io"

	"github.com/u-root/u-root/pkg/dt"

	"github.com/linuxboot/tegracm/pkg/compression"
	"github.com/linuxboot/tegracm/pkg/status"
)

// Header constants of the flattened format we emit.
const (
	Magic           = 0xd00dfeed
	Version         = 17
	LastCompVersion = 16
)

// Property is a named, raw property value.
type Property struct {
	Name  string
	Value []byte
}

// Node is one device tree node.
type Node struct {
	// Name includes the unit address, e.g. "cpu@10000".
	Name       string
	Properties []Property
	Children   []*Node

	parent *Node
}

// ReserveEntry is one memory reservation block entry.
type ReserveEntry struct {
	Address uint64
	Size    uint64
}

// Tree is a device tree with its header metadata.
type Tree struct {
	Root      *Node
	BootCPUID uint32
	Reserved  []ReserveEntry
}

// NewTree returns a tree with an empty root node.
func NewTree() *Tree {
	return &Tree{Root: &Node{}}
}

// Decode parses a flattened device tree.
func Decode(r io.ReadSeeker) (*Tree, error) {
	f, err := dt.ReadFDT(r)
	if err != nil {
		return nil, status.Errorf(status.ErrDeviceError, "reading fdt: %v", err)
	}
	if f.RootNode == nil {
		return nil, status.Errorf(status.ErrDeviceError, "fdt has no root node")
	}
	t := &Tree{
		Root:      fromDT(f.RootNode, nil),
		BootCPUID: f.Header.BootCpuidPhys,
	}
	for _, e := range f.ReserveEntries {
		t.Reserved = append(t.Reserved, ReserveEntry{Address: e.Address, Size: e.Size})
	}
	return t, nil
}

// Load decodes an image that may be compressed. The compressor that was
// detected, if any, is returned so Save can write the same format back.
func Load(data []byte) (*Tree, compression.Compressor, error) {
	raw, c, err := compression.Decode(data)
	if err != nil {
		return nil, nil, err
	}
	t, err := Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, nil, err
	}
	return t, c, nil
}

func fromDT(n *dt.Node, parent *Node) *Node {
	out := &Node{Name: n.Name, parent: parent}
	for _, p := range n.Properties {
		out.Properties = append(out.Properties, Property{
			Name:  p.Name,
			Value: append([]byte(nil), p.Value...),
		})
	}
	for _, c := range n.Children {
		out.Children = append(out.Children, fromDT(c, out))
	}
	return out
}

func toDT(n *Node) *dt.Node {
	out := &dt.Node{Name: n.Name}
	for _, p := range n.Properties {
		out.Properties = append(out.Properties, dt.Property{Name: p.Name, Value: p.Value})
	}
	for _, c := range n.Children {
		out.Children = append(out.Children, toDT(c))
	}
	return out
}

// Encode compacts the tree and writes it in flattened form.
func (t *Tree) Encode(w io.Writer) error {
	t.Compact()
	f := &dt.FDT{
		Header: dt.Header{
			Magic:           Magic,
			Version:         Version,
			LastCompVersion: LastCompVersion,
			BootCpuidPhys:   t.BootCPUID,
		},
		RootNode: toDT(t.Root),
	}
	for _, e := range t.Reserved {
		f.ReserveEntries = append(f.ReserveEntries, dt.ReserveEntry{Address: e.Address, Size: e.Size})
	}
	if _, err := f.Write(w); err != nil {
		return status.Errorf(status.ErrDeviceError, "writing fdt: %v", err)
	}
	return nil
}

// Bytes returns the flattened form of the tree.
func (t *Tree) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := t.Encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Save encodes the tree and compresses it with c, which may be nil.
func (t *Tree) Save(c compression.Compressor) ([]byte, error) {
	b, err := t.Bytes()
	if err != nil || c == nil {
		return b, err
	}
	return c.Encode(b)
}

// Clone returns a deep copy of the tree.
func (t *Tree) Clone() *Tree {
	out := &Tree{
		Root:      t.Root.clone(nil),
		BootCPUID: t.BootCPUID,
		Reserved:  append([]ReserveEntry(nil), t.Reserved...),
	}
	return out
}

func (n *Node) clone(parent *Node) *Node {
	out := &Node{Name: n.Name, parent: parent}
	for _, p := range n.Properties {
		out.Properties = append(out.Properties, Property{Name: p.Name, Value: append([]byte(nil), p.Value...)})
	}
	for _, c := range n.Children {
		out.Children = append(out.Children, c.clone(out))
	}
	return out
}
