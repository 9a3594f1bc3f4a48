// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sweep

import (
	"context"
	"fmt"
	"os"

	"github.com/linuxboot/tegracm/cmds/cmtool/commands"
	"github.com/linuxboot/tegracm/pkg/compression"
	"github.com/linuxboot/tegracm/pkg/log"
)

var _ commands.Command = (*Command)(nil)

// Command floor-sweeps a device tree blob.
type Command struct {
	commands.PlatformOptions

	Input       string  `short:"i" long:"input" description:"device tree blob to sweep" required:"true"`
	Output      string  `short:"o" long:"output" description:"where to write the swept blob, defaults to the input"`
	Compression *string `long:"compression" description:"output compression [none, xz, lzma, lz4, zstd, gzip], defaults to the input's"`
}

// ShortDescription explains what this command does in one line
func (cmd *Command) ShortDescription() string {
	return "floor-sweeps a device tree"
}

// LongDescription explains what this verb does (without limitation in amount of lines)
func (cmd *Command) LongDescription() string {
	return "Removes or fails the CPUs, caches, PCIe controllers and IP blocks the platform registers mark as disabled."
}

// Execute is the main function here. It is responsible to
// start the execution of the command.
//
// `args` are the arguments left unused by verb itself and options.
func (cmd *Command) Execute(args []string) error {
	if err := commands.NoArgs(args); err != nil {
		return err
	}
	ctx := context.Background()

	t, err := commands.LoadTarget(ctx, cmd.Input, cmd.PlatformOptions)
	if err != nil {
		return err
	}
	c := t.Compressor
	if cmd.Compression != nil {
		if c, err = compression.FromName(*cmd.Compression); err != nil {
			return commands.ErrArgs{Err: err}
		}
	}

	if err := t.Platform.Sweep(ctx, t.Tree); err != nil {
		return fmt.Errorf("unable to floor-sweep '%s': %w", cmd.Input, err)
	}
	b, err := t.Tree.Save(c)
	if err != nil {
		return err
	}

	out := cmd.Output
	if out == "" {
		out = cmd.Input
	}
	if err := os.WriteFile(out, b, 0o644); err != nil {
		return fmt.Errorf("unable to write '%s': %w", out, err)
	}
	log.Infof("wrote %s (%d bytes)", out, len(b))
	return nil
}
