// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package info

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/linuxboot/tegracm/cmds/cmtool/commands"
)

var _ commands.Command = (*Command)(nil)

// Command prints the floor-sweeping description of a platform.
type Command struct {
	commands.PlatformOptions

	// W defaults to stdout.
	W io.Writer `no-flag:"true"`
}

// ShortDescription explains what this command does in one line
func (cmd *Command) ShortDescription() string {
	return "prints the floor-sweeping description"
}

// LongDescription explains what this verb does (without limitation in amount of lines)
func (cmd *Command) LongDescription() string {
	return "Prints the chip's floor-sweeping defaults with the overrides of the platform description applied, in the YAML form the description accepts."
}

// Execute is the main function here. It is responsible to
// start the execution of the command.
//
// `args` are the arguments left unused by verb itself and options.
func (cmd *Command) Execute(args []string) error {
	if err := commands.NoArgs(args); err != nil {
		return err
	}
	w := cmd.W
	if w == nil {
		w = os.Stdout
	}
	p, err := cmd.Load()
	if err != nil {
		return err
	}
	info, err := p.FloorSweepInfo()
	if err != nil {
		return err
	}
	if info == nil {
		_, err := fmt.Fprintf(w, "# %s has no floor-sweeping description\n", p.Chip)
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(info); err != nil {
		return err
	}
	return enc.Close()
}
