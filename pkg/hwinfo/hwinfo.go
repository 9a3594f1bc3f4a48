// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package hwinfo runs the hardware-info parsers that turn a device tree
// into Configuration Manager objects.
package hwinfo

import (
	"context"
	"fmt"

	"github.com/linuxboot/tegracm/pkg/aml"
	"github.com/linuxboot/tegracm/pkg/cm"
	"github.com/linuxboot/tegracm/pkg/fdt"
	"github.com/linuxboot/tegracm/pkg/log"
	"github.com/linuxboot/tegracm/pkg/protocol"
	"github.com/linuxboot/tegracm/pkg/status"
	"github.com/linuxboot/tegracm/pkg/tegra"
)

// DefaultMaxEntries is the repository capacity used when the config does
// not set one.
const DefaultMaxEntries = 256

// SkipNodePath holds the boolean properties that disable parsers.
const SkipNodePath = "/firmware/uefi"

// Config carries the firmware settings parsers consult.
type Config struct {
	SerialPort SerialConfig `yaml:"serial_port"`
	SerialType SerialType   `yaml:"serial_type"`
	BaudRate   uint64       `yaml:"baud_rate"`
	UartClock  uint32       `yaml:"uart_clock"`
	// EnableIortTableGen forces the IORT parser on chips other than TH500.
	EnableIortTableGen bool `yaml:"enable_iort_table_gen"`
	// OemTableID and OemRevision are stamped into generated ACPI tables.
	OemTableID  uint64 `yaml:"oem_table_id"`
	OemRevision uint32 `yaml:"oem_revision"`
	// MaxEntries caps the repository.
	MaxEntries int `yaml:"max_entries"`
}

// Handle is what every parser gets: the device tree, the repository under
// construction and the platform description.
type Handle struct {
	Tree     *fdt.Tree
	Repo     *cm.Builder
	Config   Config
	Chip     tegra.Chip
	Platform tegra.Platform
	// AML may be nil when no DSDT is available to patch.
	AML aml.Patcher
	// Caches is filled in by CacheParser.
	Caches CacheHierarchy
}

// Parser is one hardware-info parser.
type Parser struct {
	Name string
	// SkipProperty, when present under SkipNodePath, disables the parser.
	SkipProperty string
	Parse        func(h *Handle) error
}

func (p Parser) String() string {
	return p.Name
}

// Registry lists the parsers of each chip in the order they run.
type Registry map[tegra.Chip][]Parser

// Register appends parsers to the list of chip.
func (r Registry) Register(chip tegra.Chip, parsers ...Parser) {
	r[chip] = append(r[chip], parsers...)
}

// Parsers returns the parsers of chip, or ErrUnsupported.
func (r Registry) Parsers(chip tegra.Chip) ([]Parser, error) {
	if !chip.Known() {
		return nil, status.Errorf(status.ErrUnsupported, "chip %s", chip)
	}
	p, ok := r[chip]
	if !ok {
		return nil, status.Errorf(status.ErrUnsupported, "no parsers for chip %s", chip)
	}
	return p, nil
}

// skipped reports whether the device tree disables p.
func (h *Handle) skipped(p Parser) bool {
	if p.SkipProperty == "" || h.Tree == nil {
		return false
	}
	n := h.Tree.Lookup(SkipNodePath)
	return n != nil && n.HasProp(p.SkipProperty)
}

// Run invokes parsers in order. A parser reporting ErrNotFound is skipped
// with a warning; any other failure stops the run.
func Run(ctx context.Context, h *Handle, parsers []Parser) error {
	for _, p := range parsers {
		if err := ctx.Err(); err != nil {
			return err
		}
		if h.skipped(p) {
			log.Infof("parser %s disabled by %s/%s", p.Name, SkipNodePath, p.SkipProperty)
			continue
		}
		log.Debugf("running parser %s", p.Name)
		err := p.Parse(h)
		switch {
		case err == nil:
		case status.IsNotFound(err):
			log.Warnf("parser %s: %v", p.Name, err)
		default:
			return fmt.Errorf("parser %s: %w", p.Name, err)
		}
	}
	return nil
}

// Initialize builds and publishes the platform repository for h.Chip. The
// builder in h is replaced. An unsupported chip yields no repository and
// no error.
func Initialize(ctx context.Context, h *Handle, reg Registry, protocols *protocol.Registry) (*cm.Repository, error) {
	parsers, err := reg.Parsers(h.Chip)
	if status.IsUnsupported(err) {
		log.Infof("%v, no configuration manager data", err)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	max := h.Config.MaxEntries
	if max == 0 {
		max = DefaultMaxEntries
	}
	if h.Repo, err = cm.NewBuilder(max); err != nil {
		return nil, err
	}
	if err := Run(ctx, h, parsers); err != nil {
		return nil, err
	}
	repo, err := h.Repo.Finish()
	if err != nil {
		return nil, err
	}
	if protocols != nil {
		if err := protocols.Install(cm.PlatformRepositoryGUID, repo); err != nil {
			return nil, err
		}
	}
	log.Infof("platform repository for %s: %d entries", h.Chip, repo.Len())
	return repo, nil
}
