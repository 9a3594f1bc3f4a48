// Copyright 2017-2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package show

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/linuxboot/tegracm/cmds/cmtool/commands"
	"github.com/linuxboot/tegracm/pkg/visitors"
)

var _ commands.Command = (*Command)(nil)

// Command prints the configuration manager repository of a device tree.
type Command struct {
	commands.PlatformOptions

	DTBPath string  `short:"f" long:"dtb" description:"path to the device tree blob" required:"true"`
	Format  *string `long:"format" description:"output format [text, json]"`
	Sweep   bool    `long:"sweep" description:"floor-sweep the tree before building"`

	// W defaults to stdout.
	W io.Writer `no-flag:"true"`
}

type Format int

const (
	FormatUndefined = Format(iota)
	FormatText
	FormatJSON
)

func ParseFormat(s string) Format {
	switch strings.Trim(strings.ToLower(s), " ") {
	case "text":
		return FormatText
	case "json":
		return FormatJSON
	}
	return FormatUndefined
}

// ShortDescription explains what this command does in one line
func (cmd *Command) ShortDescription() string {
	return "prints the configuration manager repository"
}

// LongDescription explains what this verb does (without limitation in amount of lines)
func (cmd *Command) LongDescription() string {
	return "Runs the hardware-info parsers of the chip over the device tree and prints the resulting repository."
}

// Execute is the main function here. It is responsible to
// start the execution of the command.
//
// `args` are the arguments left unused by verb itself and options.
func (cmd *Command) Execute(args []string) error {
	if err := commands.NoArgs(args); err != nil {
		return err
	}

	format := FormatText
	if cmd.Format != nil {
		format = ParseFormat(*cmd.Format)
		if format == FormatUndefined {
			return commands.ErrArgs{Err: fmt.Errorf("unknown format '%s'", *cmd.Format)}
		}
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
	switch format {
	case FormatText:
		v = append(v, &visitors.Table{W: w})
	case FormatJSON:
		v = append(v, &visitors.JSON{W: w})
	}
	return visitors.ExecuteCLI(t, v)
}
