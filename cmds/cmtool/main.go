// Copyright 2017-2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// cmtool floor-sweeps Tegra device trees and builds the configuration
// manager repository the ACPI table generators consume.
//
// Synopsis:
//
//	cmtool info [--chip CHIP | -c PLATFORM_YAML]
//	cmtool sweep -i DTB [-o OUT] [--compression NAME] [-c PLATFORM_YAML]
//	cmtool show -f DTB [--format text|json] [--sweep] [-c PLATFORM_YAML]
//	cmtool validate -f DTB [--sweep] [-c PLATFORM_YAML]
//
// An example:
//
//	cmtool info -c th500.yaml > th500-defaults.yaml
//	cmtool sweep -c th500.yaml -i kernel.dtb -o swept.dtb
//	cmtool show -c th500.yaml -f swept.dtb --format=json | jq '.[] | select(.ID == "ArmObjSmmuV3")'
//
// Description:
//
//	info:     Print the floor-sweeping description of the platform
//	sweep:    Floor-sweep the device tree with the platform registers
//	show:     Print the configuration manager repository
//	validate: Check the device tree and the repository
package main

import (
	"github.com/jessevdk/go-flags"

	"github.com/linuxboot/tegracm/cmds/cmtool/commands"
	"github.com/linuxboot/tegracm/cmds/cmtool/commands/info"
	"github.com/linuxboot/tegracm/cmds/cmtool/commands/show"
	"github.com/linuxboot/tegracm/cmds/cmtool/commands/sweep"
	"github.com/linuxboot/tegracm/cmds/cmtool/commands/validate"
	"github.com/linuxboot/tegracm/pkg/log"
)

var (
	knownCommands = map[string]commands.Command{
		"info":     &info.Command{},
		"sweep":    &sweep.Command{},
		"show":     &show.Command{},
		"validate": &validate.Command{},
	}
)

type options struct {
	Verbose bool `short:"v" long:"verbose" description:"enable debug prints"`
}

func main() {
	var opts options
	flagsParser := flags.NewParser(&opts, flags.Default)
	flagsParser.CommandHandler = func(cmd flags.Commander, args []string) error {
		log.SetVerbose(opts.Verbose)
		return cmd.Execute(args)
	}
	if err := commands.AddCommands(flagsParser, knownCommands); err != nil {
		panic(err)
	}

	// parse arguments and execute the appropriate command
	if _, err := flagsParser.Parse(); err != nil {
		if flags.WroteHelp(err) {
			return
		}
		log.Fatalf("%v", err)
	}
}
