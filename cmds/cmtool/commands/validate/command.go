// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package validate

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/linuxboot/tegracm/cmds/cmtool/commands"
	"github.com/linuxboot/tegracm/pkg/visitors"
)

var _ commands.Command = (*Command)(nil)

// Command checks a device tree and the repository built from it.
type Command struct {
	commands.PlatformOptions

	DTBPath string `short:"f" long:"dtb" description:"path to the device tree blob" required:"true"`
	Sweep   bool   `long:"sweep" description:"floor-sweep the tree before validating"`

	// W defaults to stdout.
	W io.Writer `no-flag:"true"`
}

// ShortDescription explains what this command does in one line
func (cmd *Command) ShortDescription() string {
	return "validates a device tree"
}

// LongDescription explains what this verb does (without limitation in amount of lines)
func (cmd *Command) LongDescription() string {
	return "Checks phandles and the IORT device map, then builds the repository and reports every error found."
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

	t, err := commands.LoadTarget(context.Background(), cmd.DTBPath, cmd.PlatformOptions)
	if err != nil {
		return err
	}
	var v []visitors.Visitor
	if cmd.Sweep {
		v = append(v, &visitors.Sweep{})
	}
	v = append(v, &visitors.Validate{W: w})
	if err := visitors.ExecuteCLI(t, v); err != nil {
		return err
	}
	fmt.Fprintf(w, "%s: ok\n", cmd.DTBPath)
	return nil
}
