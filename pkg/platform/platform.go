// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package platform loads the YAML description of a target: which chip it
// is, the register values floor-sweeping reads and the settings the
// hardware-info parsers consult.
//
// A minimal file only names the chip:
//
//	chip: th500
//	platform: silicon
//	socket_mask: 0x3
//	registers:
//	  0xC390078: 0x4
//	floorsweep:
//	  policy: mark-fail
//	hwinfo:
//	  serial_port: spcr-sbsa
package platform

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/linuxboot/tegracm/pkg/aml"
	"github.com/linuxboot/tegracm/pkg/cm"
	"github.com/linuxboot/tegracm/pkg/fdt"
	"github.com/linuxboot/tegracm/pkg/floorsweep"
	"github.com/linuxboot/tegracm/pkg/hwinfo"
	"github.com/linuxboot/tegracm/pkg/iort"
	"github.com/linuxboot/tegracm/pkg/log"
	"github.com/linuxboot/tegracm/pkg/protocol"
	"github.com/linuxboot/tegracm/pkg/status"
	"github.com/linuxboot/tegracm/pkg/tegra"
)

// Platform is one target description.
type Platform struct {
	Chip       tegra.Chip     `yaml:"chip"`
	Type       tegra.Platform `yaml:"platform"`
	SocketMask uint32         `yaml:"socket_mask"`
	// Registers answers the reads of the floor-sweeping passes.
	Registers floorsweep.RegisterMap `yaml:"registers"`
	// FloorSweep overrides fields of the chip's floor-sweeping defaults.
	FloorSweep yaml.Node     `yaml:"floorsweep"`
	HWInfo     hwinfo.Config `yaml:"hwinfo"`
	// DSDTUIDs are the 4-byte _UID objects of the in-memory DSDT the IORT
	// builder patches.
	DSDTUIDs []string `yaml:"dsdt_uids"`
}

// New returns the description of chip with every default applied.
func New(chip tegra.Chip, typ tegra.Platform) *Platform {
	p := &Platform{Chip: chip, Type: typ}
	p.setDefaults()
	return p
}

func (p *Platform) setDefaults() {
	if p.SocketMask == 0 {
		p.SocketMask = 1
	}
	if p.Registers == nil {
		p.Registers = floorsweep.RegisterMap{}
	}
	if p.HWInfo.MaxEntries == 0 {
		p.HWInfo.MaxEntries = hwinfo.DefaultMaxEntries
	}
}

// Load decodes a platform description. Unknown keys are rejected.
func Load(r io.Reader) (*Platform, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var p Platform
	if err := dec.Decode(&p); err != nil && !errors.Is(err, io.EOF) {
		return nil, status.Errorf(status.ErrInvalidParameter, "platform: %v", err)
	}
	p.setDefaults()
	if _, err := p.FloorSweepInfo(); err != nil {
		return nil, err
	}
	return &p, nil
}

// LoadFile is Load on a file.
func LoadFile(path string) (*Platform, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	p, err := Load(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// FloorSweepInfo returns the chip's floor-sweeping description with the
// file overrides applied. Chips without one return nil unless the file
// describes it in full.
func (p *Platform) FloorSweepInfo() (*floorsweep.Info, error) {
	info, err := floorsweep.Defaults(p.Chip, p.Type, p.SocketMask)
	switch {
	case status.IsUnsupported(err) && p.FloorSweep.IsZero():
		return nil, nil
	case status.IsUnsupported(err):
		info = &floorsweep.Info{Chip: p.Chip, Platform: p.Type, SocketMask: p.SocketMask}
	case err != nil:
		return nil, err
	}
	if !p.FloorSweep.IsZero() {
		if err := p.FloorSweep.Decode(info); err != nil {
			return nil, status.Errorf(status.ErrInvalidParameter, "platform: floorsweep: %v", err)
		}
	}
	return info, nil
}

// DSDT returns an in-memory DSDT holding the _UID objects, or nil when
// there are none.
func (p *Platform) DSDT() aml.Patcher {
	if len(p.DSDTUIDs) == 0 {
		return nil
	}
	t := aml.NewTable("DSDT")
	for _, name := range p.DSDTUIDs {
		t.Define(name, make([]byte, 4))
	}
	return t
}

// Parsers is the hardware-info parser set of each chip.
func Parsers() hwinfo.Registry {
	reg := hwinfo.Registry{}
	reg.Register(tegra.T194, hwinfo.SerialParser, hwinfo.CacheParser)
	reg.Register(tegra.T234, hwinfo.CacheParser, hwinfo.SerialParser, iort.Parser)
	reg.Register(tegra.TH500, hwinfo.CacheParser, hwinfo.SerialParser, iort.Parser)
	return reg
}

// Handle returns a parser handle over tree.
func (p *Platform) Handle(tree *fdt.Tree) *hwinfo.Handle {
	return &hwinfo.Handle{
		Tree:     tree,
		Config:   p.HWInfo,
		Chip:     p.Chip,
		Platform: p.Type,
		AML:      p.DSDT(),
	}
}

// Sweep floor-sweeps tree with the registers of the description.
func (p *Platform) Sweep(ctx context.Context, tree *fdt.Tree) error {
	info, err := p.FloorSweepInfo()
	if err != nil {
		return err
	}
	return floorsweep.Run(ctx, tree, info, p.Registers)
}

// Build runs the parsers of the chip over tree and publishes the
// repository in protocols when it is not nil. Unsupported chips return a
// nil repository.
func (p *Platform) Build(ctx context.Context, tree *fdt.Tree, protocols *protocol.Registry) (*cm.Repository, error) {
	h := p.Handle(tree)
	repo, err := hwinfo.Initialize(ctx, h, Parsers(), protocols)
	if err != nil {
		return nil, err
	}
	if repo == nil {
		log.Infof("platform: %s has no configuration manager data", p.Chip)
	}
	return repo, nil
}
