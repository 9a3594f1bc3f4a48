// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/linuxboot/tegracm/pkg/fdt"
	"github.com/linuxboot/tegracm/pkg/platform"
	"github.com/linuxboot/tegracm/pkg/protocol"
	"github.com/linuxboot/tegracm/pkg/tegra"
	"github.com/linuxboot/tegracm/pkg/visitors"
)

// PlatformOptions select the platform description. They are embedded in
// the verbs that need one.
type PlatformOptions struct {
	Config   string `short:"c" long:"config" description:"platform description (YAML)"`
	Chip     string `long:"chip" description:"chip when no description is given [t194, t234, th500]" default:"th500"`
	Platform string `long:"platform" description:"platform type when no description is given [silicon, vdk, fpga]" default:"silicon"`
}

// Load returns the described platform.
func (o PlatformOptions) Load() (*platform.Platform, error) {
	if o.Config != "" {
		return platform.LoadFile(o.Config)
	}
	chip, err := tegra.ParseChip(o.Chip)
	if err != nil {
		return nil, ErrArgs{Err: err}
	}
	var typ tegra.Platform
	if err := typ.UnmarshalText([]byte(o.Platform)); err != nil {
		return nil, ErrArgs{Err: err}
	}
	return platform.New(chip, typ), nil
}

// LoadTarget reads the device tree blob at path and pairs it with the
// platform of opts.
func LoadTarget(ctx context.Context, path string, opts PlatformOptions) (*visitors.Target, error) {
	p, err := opts.Load()
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read the device tree '%s': %w", path, err)
	}
	tree, c, err := fdt.Load(b)
	if err != nil {
		return nil, fmt.Errorf("unable to parse the device tree '%s': %w", path, err)
	}
	return &visitors.Target{
		Tree:       tree,
		Platform:   p,
		Compressor: c,
		Protocols:  protocol.NewRegistry(),
		Context:    ctx,
	}, nil
}
