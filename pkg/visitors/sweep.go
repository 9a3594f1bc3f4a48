// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package visitors

// Sweep floor-sweeps the tree with the registers of the platform.
type Sweep struct{}

// Run sweeps the tree and drops a repository built before the sweep.
func (v *Sweep) Run(t *Target) error {
	if err := t.Platform.Sweep(t.ctx(), t.Tree); err != nil {
		return err
	}
	return t.Invalidate()
}

// Build builds the configuration manager repository of the tree.
type Build struct{}

// Run rebuilds the repository, replacing a previous one.
func (v *Build) Run(t *Target) error {
	if err := t.Invalidate(); err != nil {
		return err
	}
	_, err := t.Repository()
	return err
}

func init() {
	RegisterCLI("sweep", "floor-sweep the device tree with the platform registers", 0, func(args []string) (Visitor, error) {
		return &Sweep{}, nil
	})
	RegisterCLI("build", "build the configuration manager repository", 0, func(args []string) (Visitor, error) {
		return &Build{}, nil
	})
}
