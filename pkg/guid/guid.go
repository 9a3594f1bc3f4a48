// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package guid implements the mixed-endian GUID used to key firmware
// protocol interfaces.
package guid

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/linuxboot/tegracm/pkg/status"
)

const (
	// Size represents number of bytes in a GUID
	Size = 16
	// UExample is a example of a string GUID
	UExample  = "01234567-89AB-CDEF-0123-456789ABCDEF"
	strFormat = "%08X-%04X-%04X-%02X%02X-%02X%02X%02X%02X%02X%02X"
)

// GUID represents a unique identifier. The first three fields are stored
// little-endian.
type GUID [Size]byte

// Parse parses a guid string with or without hyphens.
func Parse(s string) (GUID, error) {
	var u GUID
	decoded, err := hex.DecodeString(strings.ReplaceAll(s, "-", ""))
	if err != nil || len(decoded) != Size {
		return u, status.Errorf(status.ErrInvalidParameter,
			"guid %q is not of the format %s", s, UExample)
	}
	// data1, data2 and data3 are little-endian on the wire.
	u[0], u[1], u[2], u[3] = decoded[3], decoded[2], decoded[1], decoded[0]
	u[4], u[5] = decoded[5], decoded[4]
	u[6], u[7] = decoded[7], decoded[6]
	copy(u[8:], decoded[8:])
	return u, nil
}

// MustParse parses a guid string or panics.
func MustParse(s string) GUID {
	u, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return u
}

// IsZero reports whether every byte of u is zero.
func (u GUID) IsZero() bool {
	return u == GUID{}
}

func (u GUID) String() string {
	d1 := uint32(u[0]) | uint32(u[1])<<8 | uint32(u[2])<<16 | uint32(u[3])<<24
	d2 := uint16(u[4]) | uint16(u[5])<<8
	d3 := uint16(u[6]) | uint16(u[7])<<8
	return fmt.Sprintf(strFormat, d1, d2, d3,
		u[8], u[9], u[10], u[11], u[12], u[13], u[14], u[15])
}

// MarshalText implements encoding.TextMarshaler, which makes GUIDs usable
// as JSON and YAML scalars.
func (u GUID) MarshalText() ([]byte, error) {
	return []byte(u.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (u *GUID) UnmarshalText(b []byte) error {
	g, err := Parse(string(b))
	if err != nil {
		return err
	}
	*u = g
	return nil
}
