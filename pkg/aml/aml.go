// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package aml describes the AML patch service used to fix up fixed-size
// named objects in pre-built DSDT/SSDT tables, plus an in-memory table that
// implements it.
package aml

import (
	"sort"
	"strings"
	"sync"

	"github.com/linuxboot/tegracm/pkg/status"
)

// Node locates a named object's data inside an AML table.
type Node struct {
	Path   string
	Offset uint32
	Size   uint32
}

// Patcher is the AML patch service.
type Patcher interface {
	// FindNode looks a named object up by its absolute path, such as
	// "_SB_.SQ00._UID".
	FindNode(path string) (Node, error)
	GetNodeData(n Node) ([]byte, error)
	// SetNodeData replaces the object data. The size cannot change.
	SetNodeData(n Node, data []byte) error
	// UpdateNodeName renames the last path segment. AML names are four
	// characters.
	UpdateNodeName(n Node, name string) error
}

// Table is an in-memory AML table holding fixed-size named objects laid out
// back to back.
type Table struct {
	mu    sync.Mutex
	Name  string
	blob  []byte
	nodes map[string]Node
}

var _ Patcher = (*Table)(nil)

// NewTable returns an empty table.
func NewTable(name string) *Table {
	return &Table{Name: name, nodes: map[string]Node{}}
}

func normalize(path string) string {
	return strings.TrimPrefix(strings.TrimPrefix(path, "\\"), ".")
}

// Define appends a named object with its initial data.
func (t *Table) Define(path string, data []byte) Node {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := Node{Path: normalize(path), Offset: uint32(len(t.blob)), Size: uint32(len(data))}
	t.blob = append(t.blob, data...)
	t.nodes[n.Path] = n
	return n
}

// Paths returns the defined object paths, sorted.
func (t *Table) Paths() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.nodes))
	for p := range t.nodes {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Bytes returns a copy of the table body.
func (t *Table) Bytes() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]byte(nil), t.blob...)
}

// FindNode implements Patcher.
func (t *Table) FindNode(path string) (Node, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.nodes[normalize(path)]
	if !ok {
		return Node{}, status.Errorf(status.ErrNotFound, "aml node %s", path)
	}
	return n, nil
}

func (t *Table) check(n Node) error {
	have, ok := t.nodes[n.Path]
	if !ok || have != n {
		return status.Errorf(status.ErrInvalidParameter, "stale aml node %s", n.Path)
	}
	return nil
}

// GetNodeData implements Patcher.
func (t *Table) GetNodeData(n Node) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.check(n); err != nil {
		return nil, err
	}
	return append([]byte(nil), t.blob[n.Offset:n.Offset+n.Size]...), nil
}

// SetNodeData implements Patcher.
func (t *Table) SetNodeData(n Node, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.check(n); err != nil {
		return err
	}
	if uint32(len(data)) != n.Size {
		return status.Errorf(status.ErrInvalidParameter, "aml node %s holds %d bytes, got %d", n.Path, n.Size, len(data))
	}
	copy(t.blob[n.Offset:], data)
	return nil
}

// UpdateNodeName implements Patcher.
func (t *Table) UpdateNodeName(n Node, name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.check(n); err != nil {
		return err
	}
	if len(name) != 4 {
		return status.Errorf(status.ErrInvalidParameter, "aml name %q is not four characters", name)
	}
	delete(t.nodes, n.Path)
	if i := strings.LastIndexByte(n.Path, '.'); i >= 0 {
		n.Path = n.Path[:i+1] + name
	} else {
		n.Path = name
	}
	t.nodes[n.Path] = n
	return nil
}
