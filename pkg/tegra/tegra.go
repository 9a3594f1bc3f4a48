// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package tegra names the chips and platform flavours the rest of the tree
// switches on.
package tegra

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/linuxboot/tegracm/pkg/status"
)

// Chip is the SoC chip ID.
type Chip uint32

// Known chips.
const (
	T194  Chip = 0x19
	T234  Chip = 0x23
	TH500 Chip = 0x24
)

var chipNames = map[Chip]string{
	T194:  "T194",
	T234:  "T234",
	TH500: "TH500",
}

func (c Chip) String() string {
	if s, ok := chipNames[c]; ok {
		return s
	}
	return fmt.Sprintf("Chip(%#x)", uint32(c))
}

// Known reports whether c is one of the supported chips.
func (c Chip) Known() bool {
	_, ok := chipNames[c]
	return ok
}

// ParseChip accepts a chip name such as "th500" or a numeric ID.
func ParseChip(s string) (Chip, error) {
	for c, name := range chipNames {
		if strings.EqualFold(s, name) {
			return c, nil
		}
	}
	if v, err := strconv.ParseUint(s, 0, 32); err == nil {
		return Chip(v), nil
	}
	return 0, status.Errorf(status.ErrInvalidParameter, "unknown chip %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (c Chip) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Chip) UnmarshalText(b []byte) error {
	v, err := ParseChip(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// Platform is the kind of target the firmware runs on.
type Platform uint8

// Platform types.
const (
	Silicon Platform = iota
	VDK
	FPGA
)

var platformNames = []string{"silicon", "vdk", "fpga"}

func (p Platform) String() string {
	if int(p) < len(platformNames) {
		return platformNames[p]
	}
	return fmt.Sprintf("Platform(%d)", uint8(p))
}

// MarshalText implements encoding.TextMarshaler.
func (p Platform) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Platform) UnmarshalText(b []byte) error {
	for i, name := range platformNames {
		if strings.EqualFold(string(b), name) {
			*p = Platform(i)
			return nil
		}
	}
	return status.Errorf(status.ErrInvalidParameter, "unknown platform %q", b)
}
