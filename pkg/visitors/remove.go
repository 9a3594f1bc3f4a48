// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package visitors

import (
	"fmt"
	"io"

	"github.com/linuxboot/tegracm/pkg/fdt"
)

// Remove deletes the device tree nodes matching a predicate. A built
// repository is dropped since it no longer describes the tree.
type Remove struct {
	// Input
	Predicate FindPredicate
	// Disable marks the matches with status "disabled" instead of
	// deleting them.
	Disable bool

	// Output
	Matches []*fdt.Node
	// logs are written to this writer.
	W io.Writer
}

func (v *Remove) printf(format string, a ...interface{}) {
	if v.W != nil {
		fmt.Fprintf(v.W, format, a...)
	}
}

// Run finds the matches first, then removes them.
func (v *Remove) Run(t *Target) error {
	find := Find{
		Predicate: v.Predicate,
	}
	if err := find.Run(t); err != nil {
		return err
	}
	v.Matches = find.Matches
	for _, m := range v.Matches {
		if m == t.Tree.Root {
			return fmt.Errorf("remove: refusing to remove the root node")
		}
		// Already gone with an ancestor.
		if !m.Attached(t.Tree.Root) {
			continue
		}
		path := m.Path()
		if v.Disable {
			m.SetString("status", "disabled")
			v.printf("Disable: %s\n", path)
			continue
		}
		if err := t.Tree.Delete(m); err != nil {
			return err
		}
		v.printf("Remove: %s\n", path)
	}
	if len(v.Matches) > 0 {
		return t.Invalidate()
	}
	return nil
}

func init() {
	RegisterCLI("remove", "remove the nodes whose path or name matches a regexp", 1, func(args []string) (Visitor, error) {
		pred, err := FindPathPredicate(args[0])
		if err != nil {
			return nil, err
		}
		return &Remove{
			Predicate: pred,
			W:         Stdout,
		}, nil
	})
	RegisterCLI("disable", "set status \"disabled\" on the nodes whose path or name matches a regexp", 1, func(args []string) (Visitor, error) {
		pred, err := FindPathPredicate(args[0])
		if err != nil {
			return nil, err
		}
		return &Remove{
			Predicate: pred,
			Disable:   true,
			W:         Stdout,
		}, nil
	})
}
