// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package visitors

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/linuxboot/tegracm/pkg/fdt"
	"github.com/linuxboot/tegracm/pkg/status"
)

// Count counts the repository objects and the device tree nodes.
type Count struct {
	// Optionally write result as JSON.
	W io.Writer `json:"-"`

	// Output
	ObjectCount     map[string]int
	NamespaceCount  map[string]int
	CompatibleCount map[string]int
	DisabledNodes   int
}

// Run counts the target. Chips without a repository only get node counts.
func (v *Count) Run(t *Target) error {
	v.ObjectCount = map[string]int{}
	v.NamespaceCount = map[string]int{}
	v.CompatibleCount = map[string]int{}
	v.DisabledNodes = 0

	if err := t.Tree.Walk(v.visitNode); err != nil {
		return err
	}
	if t.Platform != nil {
		repo, err := t.Repository()
		if err != nil && !status.IsUnsupported(err) {
			return err
		}
		if repo != nil {
			for _, e := range repo.Entries() {
				v.ObjectCount[e.ID.String()] += int(e.Count)
				v.NamespaceCount[e.ID.Namespace().String()] += int(e.Count)
			}
		}
	}

	if v.W != nil {
		b, err := json.MarshalIndent(v, "", "\t")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(v.W, string(b))
		return err
	}
	return nil
}

func (v *Count) visitNode(n *fdt.Node) error {
	if !n.Enabled() {
		v.DisabledNodes++
	}
	if compats, ok := n.Strings("compatible"); ok && len(compats) > 0 {
		v.CompatibleCount[compats[0]]++
	}
	return nil
}

func init() {
	RegisterCLI("count", "count the repository objects and compatible nodes", 0, func(args []string) (Visitor, error) {
		return &Count{
			W: Stdout,
		}, nil
	})
}
