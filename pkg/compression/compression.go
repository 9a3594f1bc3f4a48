// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package compression implements reading and writing of compressed device
// tree images.
//
// Boot media commonly carry the DTB wrapped in one of a handful of stream
// formats. Detect picks the right Compressor from the leading magic bytes.
package compression

import (
	"bytes"
	"strings"

	"github.com/linuxboot/tegracm/pkg/status"
)

// Compressor defines a single compression scheme (such as LZMA).
type Compressor interface {
	// Name is typically the name of a class.
	Name() string

	// Decode and Encode obey "x == Decode(Encode(x))".
	Decode(encodedData []byte) ([]byte, error)
	Encode(decodedData []byte) ([]byte, error)
}

var (
	xzMagic   = []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
	lz4Magic  = []byte{0x04, 0x22, 0x4d, 0x18}
	gzipMagic = []byte{0x1f, 0x8b}
)

// lzmaAloneProps is the properties byte written by every common LZMA
// encoder at its default settings (lc=3, lp=0, pb=2).
const lzmaAloneProps = 0x5d

// Detect returns the Compressor matching the magic bytes at the start of
// data, or nil if data does not look compressed.
func Detect(data []byte) Compressor {
	switch {
	case bytes.HasPrefix(data, xzMagic):
		return &XZ{}
	case bytes.HasPrefix(data, zstdMagic):
		return &Zstd{}
	case bytes.HasPrefix(data, lz4Magic):
		return &LZ4{}
	case bytes.HasPrefix(data, gzipMagic):
		return &Gzip{}
	case len(data) >= lzmaHeaderLen && data[0] == lzmaAloneProps:
		return &LZMA{}
	}
	return nil
}

// FromName returns the Compressor with the given name. The lookup is case
// insensitive. "none" and "" return nil without error.
func FromName(name string) (Compressor, error) {
	switch strings.ToLower(name) {
	case "", "none":
		return nil, nil
	case "xz":
		return &XZ{}, nil
	case "lzma":
		return &LZMA{}, nil
	case "lz4":
		return &LZ4{}, nil
	case "zstd", "zst":
		return &Zstd{}, nil
	case "gzip", "gz":
		return &Gzip{}, nil
	}
	return nil, status.Errorf(status.ErrUnsupported, "unknown compression %q", name)
}

// Decode decompresses data if Detect recognises it and returns it
// unchanged otherwise. The detected Compressor is returned so the caller
// can write the image back in the same format.
func Decode(data []byte) ([]byte, Compressor, error) {
	c := Detect(data)
	if c == nil {
		return data, nil, nil
	}
	decoded, err := c.Decode(data)
	if err != nil {
		return nil, nil, status.Errorf(status.ErrDeviceError, "%s decode: %v", c.Name(), err)
	}
	return decoded, c, nil
}
