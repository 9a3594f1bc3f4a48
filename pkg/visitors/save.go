// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package visitors

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/linuxboot/tegracm/pkg/compression"
)

// Save writes the device tree blob to a file. The extension picks the
// compression: ".xz", ".lz4", ".zst", ".gz" or none. Other extensions keep
// the compression the tree was loaded with.
type Save struct {
	Path string
}

// Run encodes the tree and writes it.
func (v *Save) Run(t *Target) error {
	c := t.Compressor
	switch ext := strings.TrimPrefix(filepath.Ext(v.Path), "."); ext {
	case "xz", "lzma", "lz4", "zst", "zstd", "gz", "gzip":
		var err error
		if c, err = compression.FromName(ext); err != nil {
			return err
		}
	case "dtb":
		c = nil
	}
	b, err := t.Tree.Save(c)
	if err != nil {
		return err
	}
	return os.WriteFile(v.Path, b, 0666)
}

func init() {
	RegisterCLI("save", "assemble the device tree and save it to a file", 1, func(args []string) (Visitor, error) {
		return &Save{
			Path: args[0],
		}, nil
	})
}
