// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package visitors

import (
	"fmt"
	"io"

	"github.com/hashicorp/go-multierror"

	"github.com/linuxboot/tegracm/pkg/fdt"
	"github.com/linuxboot/tegracm/pkg/iort"
	"github.com/linuxboot/tegracm/pkg/status"
)

// Validate performs consistency checks on the tree and the repository
// built from it.
type Validate struct {
	// An optional Writer for writing errors when validation is complete.
	W io.Writer

	// List of validation errors.
	Errors []error
}

// Run collects every problem found and returns them together.
func (v *Validate) Run(t *Target) error {
	v.Errors = nil
	if err := iort.ValidateDeviceMap(iort.DeviceMap); err != nil {
		v.Errors = append(v.Errors, err)
	}
	v.checkPhandles(t.Tree)

	if err := t.Invalidate(); err != nil {
		return err
	}
	if _, err := t.Repository(); err != nil && !status.IsUnsupported(err) {
		v.Errors = append(v.Errors, err)
	}

	if len(v.Errors) == 0 {
		return nil
	}
	var merr *multierror.Error
	for _, e := range v.Errors {
		if v.W != nil {
			fmt.Fprintln(v.W, e)
		}
		merr = multierror.Append(merr, e)
	}
	return merr
}

func (v *Validate) checkPhandles(tree *fdt.Tree) {
	seen := map[uint32]string{}
	_ = tree.Walk(func(n *fdt.Node) error {
		ph, ok := n.Phandle()
		if !ok {
			return nil
		}
		if prev, dup := seen[ph]; dup {
			v.Errors = append(v.Errors, fmt.Errorf("phandle %#x used by %s and %s", ph, prev, n.Path()))
			return nil
		}
		seen[ph] = n.Path()
		return nil
	})
}

func init() {
	RegisterCLI("validate", "perform extra validation checks", 0, func(args []string) (Visitor, error) {
		return &Validate{W: Stdout}, nil
	})
}
