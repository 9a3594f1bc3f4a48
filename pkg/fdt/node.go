// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fdt

import (
	"strconv"
	"strings"

	"github.com/linuxboot/tegracm/pkg/status"
)

// NewNode returns a detached node with the given properties.
func NewNode(name string, props ...Property) *Node {
	return &Node{Name: name, Properties: props}
}

// Add appends children to n and returns n, so trees can be written as
// nested literals.
func (n *Node) Add(children ...*Node) *Node {
	for _, c := range children {
		c.parent = n
		n.Children = append(n.Children, c)
	}
	return n
}

// Parent returns the parent node, or nil for the root and detached nodes.
func (n *Node) Parent() *Node {
	return n.parent
}

// BaseName returns the node name without its unit address.
func (n *Node) BaseName() string {
	if i := strings.IndexByte(n.Name, '@'); i >= 0 {
		return n.Name[:i]
	}
	return n.Name
}

// UnitAddress parses the hexadecimal unit address of the node name. Only
// the first comma separated component is used.
func (n *Node) UnitAddress() (uint64, bool) {
	i := strings.IndexByte(n.Name, '@')
	if i < 0 {
		return 0, false
	}
	s := n.Name[i+1:]
	if j := strings.IndexByte(s, ','); j >= 0 {
		s = s[:j]
	}
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Path returns the absolute path of the node.
func (n *Node) Path() string {
	if n.parent == nil {
		return "/"
	}
	var parts []string
	for c := n; c.parent != nil; c = c.parent {
		parts = append(parts, c.Name)
	}
	var sb strings.Builder
	for i := len(parts) - 1; i >= 0; i-- {
		sb.WriteByte('/')
		sb.WriteString(parts[i])
	}
	return sb.String()
}

// Child finds a direct child by name. A name without a unit address also
// matches children that have one, the same rule libfdt applies to paths.
func (n *Node) Child(name string) *Node {
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	if strings.IndexByte(name, '@') >= 0 {
		return nil
	}
	for _, c := range n.Children {
		if c.BaseName() == name {
			return c
		}
	}
	return nil
}

// Walk calls fn on n and its descendants in depth-first pre-order. The
// children slice is snapshotted per node so fn may delete the node it is
// given.
func (n *Node) Walk(fn func(*Node) error) error {
	if err := fn(n); err != nil {
		return err
	}
	children := append([]*Node(nil), n.Children...)
	for _, c := range children {
		if c.parent != n {
			continue
		}
		if err := c.Walk(fn); err != nil {
			return err
		}
	}
	return nil
}

// FindAll returns all descendants of n (n included) matching pred.
func (n *Node) FindAll(pred func(*Node) bool) []*Node {
	var out []*Node
	_ = n.Walk(func(c *Node) error {
		if pred(c) {
			out = append(out, c)
		}
		return nil
	})
	return out
}

// Remove detaches child from n. It reports whether child was found.
func (n *Node) Remove(child *Node) bool {
	for i, c := range n.Children {
		if c == child {
			n.Children = append(n.Children[:i:i], n.Children[i+1:]...)
			child.parent = nil
			return true
		}
	}
	return false
}

// Attached reports whether n is still linked under root.
func (n *Node) Attached(root *Node) bool {
	c := n
	for c.parent != nil {
		c = c.parent
	}
	return c == root
}

// Lookup resolves an absolute path.
func (t *Tree) Lookup(path string) *Node {
	if !strings.HasPrefix(path, "/") {
		return nil
	}
	n := t.Root
	for _, part := range strings.Split(strings.Trim(path, "/"), "/") {
		if part == "" {
			continue
		}
		if n = n.Child(part); n == nil {
			return nil
		}
	}
	return n
}

// Alias resolves a name through /aliases and returns the node it points at.
func (t *Tree) Alias(name string) *Node {
	aliases := t.Lookup("/aliases")
	if aliases == nil {
		return nil
	}
	path, ok := aliases.StringProp(name)
	if !ok {
		return nil
	}
	return t.Lookup(path)
}

// Delete unlinks n from the tree. Deleting the root is rejected.
func (t *Tree) Delete(n *Node) error {
	if n == nil || n == t.Root || n.parent == nil {
		return status.Errorf(status.ErrInvalidParameter, "cannot delete node")
	}
	n.parent.Remove(n)
	return nil
}

// Walk walks the whole tree.
func (t *Tree) Walk(fn func(*Node) error) error {
	return t.Root.Walk(fn)
}

// FindAll returns every node in the tree matching pred.
func (t *Tree) FindAll(pred func(*Node) bool) []*Node {
	return t.Root.FindAll(pred)
}

// FindCompatible returns every node whose compatible list contains any of
// compats, in tree order.
func (t *Tree) FindCompatible(compats ...string) []*Node {
	return t.FindAll(func(n *Node) bool { return n.Compatible(compats...) })
}

// NodeByPhandle resolves a phandle.
func (t *Tree) NodeByPhandle(ph uint32) *Node {
	if ph == 0 || ph == 0xffffffff {
		return nil
	}
	var found *Node
	_ = t.Walk(func(n *Node) error {
		if p, ok := n.Phandle(); ok && p == ph {
			found = n
			return errStop
		}
		return nil
	})
	return found
}

// MaxPhandle returns the largest phandle in use.
func (t *Tree) MaxPhandle() uint32 {
	var max uint32
	_ = t.Walk(func(n *Node) error {
		if p, ok := n.Phandle(); ok && p > max {
			max = p
		}
		return nil
	})
	return max
}

var errStop = status.Errorf(status.ErrNotFound, "stop")
