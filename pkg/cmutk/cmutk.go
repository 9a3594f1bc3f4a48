// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package cmutk is where the implementation of the cmutk command lives.
package cmutk

import (
	"context"
	"errors"
	"os"

	"github.com/linuxboot/tegracm/pkg/fdt"
	"github.com/linuxboot/tegracm/pkg/log"
	"github.com/linuxboot/tegracm/pkg/platform"
	"github.com/linuxboot/tegracm/pkg/protocol"
	"github.com/linuxboot/tegracm/pkg/tegra"
	"github.com/linuxboot/tegracm/pkg/visitors"
)

// Options select the platform the device tree belongs to.
type Options struct {
	// PlatformFile is a YAML platform description. It wins over Chip and
	// Type when set.
	PlatformFile string
	Chip         tegra.Chip
	Type         tegra.Platform
	// Protocols receives the repository. Nil means protocol.Default.
	Protocols *protocol.Registry
}

func (o Options) platform() (*platform.Platform, error) {
	if o.PlatformFile != "" {
		return platform.LoadFile(o.PlatformFile)
	}
	return platform.New(o.Chip, o.Type), nil
}

// Run loads the device tree named by args[0] and applies the operations
// in the rest of args.
func Run(ctx context.Context, opts Options, args ...string) error {
	if len(args) == 0 {
		return errors.New("at least one argument is required")
	}

	v, err := visitors.ParseCLI(args[1:])
	if err != nil {
		return err
	}

	p, err := opts.platform()
	if err != nil {
		return err
	}

	// Load and parse the blob.
	path := args[0]
	image, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	tree, c, err := fdt.Load(image)
	if err != nil {
		return err
	}
	if c != nil {
		log.Debugf("%s: %s compressed", path, c.Name())
	}

	protocols := opts.Protocols
	if protocols == nil {
		protocols = protocol.Default
	}
	t := &visitors.Target{
		Tree:       tree,
		Platform:   p,
		Compressor: c,
		Protocols:  protocols,
		Context:    ctx,
	}

	// Execute the instructions from the command line.
	return visitors.ExecuteCLI(t, v)
}
