// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package visitors

import (
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/linuxboot/tegracm/pkg/fdt"
)

// FindPredicate is used to filter matches in the Find visitor.
type FindPredicate = func(n *fdt.Node) bool

// Find collects the device tree nodes matching a predicate.
type Find struct {
	// Input
	// Only when this functions returns true will the node appear in the
	// `Matches` slice.
	Predicate FindPredicate

	// Output
	Matches []*fdt.Node

	// The paths of the matches are written to this writer as JSON.
	W io.Writer
}

// Run walks the tree of the target.
func (v *Find) Run(t *Target) error {
	v.Matches = t.Tree.FindAll(v.Predicate)
	if v.W == nil {
		return nil
	}
	paths := make([]string, 0, len(v.Matches))
	for _, m := range v.Matches {
		paths = append(paths, m.Path())
	}
	b, err := json.MarshalIndent(paths, "", "\t")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(v.W, string(b))
	return err
}

// FindPathPredicate matches node paths against a regular expression. A
// pattern without a leading slash matches base names instead.
func FindPathPredicate(r string) (FindPredicate, error) {
	re, err := regexp.Compile("^(" + r + ")$")
	if err != nil {
		return nil, err
	}
	if strings.HasPrefix(r, "/") {
		return func(n *fdt.Node) bool {
			return re.MatchString(n.Path())
		}, nil
	}
	return func(n *fdt.Node) bool {
		return re.MatchString(n.Name) || re.MatchString(n.BaseName())
	}, nil
}

// FindCompatiblePredicate matches nodes compatible with any of compats.
func FindCompatiblePredicate(compats ...string) FindPredicate {
	return func(n *fdt.Node) bool {
		return n.Compatible(compats...)
	}
}

// FindPhandlePredicate matches the node carrying phandle ph.
func FindPhandlePredicate(ph uint32) FindPredicate {
	return func(n *fdt.Node) bool {
		p, ok := n.Phandle()
		return ok && p == ph
	}
}

func init() {
	RegisterCLI("find", "find nodes whose path or name matches a regexp", 1, func(args []string) (Visitor, error) {
		pred, err := FindPathPredicate(args[0])
		if err != nil {
			return nil, err
		}
		return &Find{Predicate: pred, W: Stdout}, nil
	})
	RegisterCLI("find-compatible", "find nodes with a compatible string", 1, func(args []string) (Visitor, error) {
		return &Find{Predicate: FindCompatiblePredicate(args[0]), W: Stdout}, nil
	})
}
