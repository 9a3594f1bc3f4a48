// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package visitors

import (
	"fmt"
	"io"
	"strings"

	"github.com/linuxboot/tegracm/pkg/fdt"
	"github.com/linuxboot/tegracm/pkg/status"
)

// Cat prints one node and its properties in source form.
type Cat struct {
	Path string
	// Recurse prints the children too.
	Recurse bool

	io.Writer
}

// Run looks up the node and prints it.
func (v *Cat) Run(t *Target) error {
	n := t.Tree.Lookup(v.Path)
	if n == nil {
		n = t.Tree.Alias(v.Path)
	}
	if n == nil {
		return status.Errorf(status.ErrNotFound, "no node %q", v.Path)
	}
	return v.print(n, 0)
}

func (v *Cat) print(n *fdt.Node, depth int) error {
	pad := strings.Repeat("\t", depth)
	name := n.Name
	if name == "" {
		name = "/"
	}
	if _, err := fmt.Fprintf(v, "%s%s {\n", pad, name); err != nil {
		return err
	}
	for _, p := range n.Properties {
		if len(p.Value) == 0 {
			fmt.Fprintf(v, "%s\t%s;\n", pad, p.Name)
			continue
		}
		fmt.Fprintf(v, "%s\t%s = %s;\n", pad, p.Name, FormatValue(p.Value))
	}
	if v.Recurse {
		for _, c := range n.Children {
			if err := v.print(c, depth+1); err != nil {
				return err
			}
		}
	} else if len(n.Children) > 0 {
		fmt.Fprintf(v, "%s\t/* %d children */\n", pad, len(n.Children))
	}
	_, err := fmt.Fprintf(v, "%s};\n", pad)
	return err
}

// FormatValue renders a property value the way device tree source would:
// a string list, a cell list or a byte string.
func FormatValue(b []byte) string {
	if s, ok := stringList(b); ok {
		quoted := make([]string, len(s))
		for i := range s {
			quoted[i] = fmt.Sprintf("%q", s[i])
		}
		return strings.Join(quoted, ", ")
	}
	if len(b)%4 == 0 {
		cells, _ := fdt.DecodeCells(b)
		words := make([]string, len(cells))
		for i, c := range cells {
			words[i] = fmt.Sprintf("%#x", c)
		}
		return "<" + strings.Join(words, " ") + ">"
	}
	words := make([]string, len(b))
	for i, c := range b {
		words[i] = fmt.Sprintf("%02x", c)
	}
	return "[" + strings.Join(words, " ") + "]"
}

func stringList(b []byte) ([]string, bool) {
	if len(b) == 0 || b[len(b)-1] != 0 {
		return nil, false
	}
	parts := strings.Split(string(b[:len(b)-1]), "\x00")
	for _, p := range parts {
		if p == "" {
			return nil, false
		}
		for _, r := range p {
			if r < 0x20 || r > 0x7e {
				return nil, false
			}
		}
	}
	return parts, true
}

func init() {
	RegisterCLI("cat", "print a node and its properties", 1, func(args []string) (Visitor, error) {
		return &Cat{Path: args[0], Writer: Stdout}, nil
	})
	RegisterCLI("cat-tree", "print a node and everything below it", 1, func(args []string) (Visitor, error) {
		return &Cat{Path: args[0], Recurse: true, Writer: Stdout}, nil
	})
}
