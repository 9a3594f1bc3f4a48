// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// The cmutk command floor-sweeps a Tegra device tree blob and inspects the
// configuration manager repository built from it.
//
// Synopsis:
//
//	cmutk [flags] DTB OPERATIONS...
//
// Examples:
//
//	# Dump the repository of a TH500 tree as a table:
//	cmutk --chip th500 kernel.dtb table
//
//	# Floor-sweep with the registers of a platform file and save the result:
//	cmutk -c platform.yaml kernel.dtb sweep save swept.dtb.xz
//
//	# Find every PCIe controller that survived the sweep:
//	cmutk -c platform.yaml kernel.dtb sweep find 'pcie@.*'
//
// Operations are applied left to right, so `save` only includes the
// operations to its left.
package main

import (
	"context"
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/linuxboot/tegracm/pkg/cmutk"
	"github.com/linuxboot/tegracm/pkg/log"
	"github.com/linuxboot/tegracm/pkg/tegra"
	"github.com/linuxboot/tegracm/pkg/visitors"
)

var (
	configFile = flag.StringP("config", "c", "", "platform description (YAML)")
	chip       = flag.String("chip", "th500", "chip when no platform description is given: t194, t234 or th500")
	target     = flag.String("platform", "silicon", "platform type when no platform description is given: silicon, vdk or fpga")
	verbose    = flag.BoolP("verbose", "v", false, "enable debug prints")
)

func parseArguments() (cmutk.Options, []string, error) {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: cmutk [flags] <dtb> [0 or more operations]\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nOperations:\n%s", visitors.ListCLI())
	}
	flag.Parse()

	opts := cmutk.Options{PlatformFile: *configFile}
	c, err := tegra.ParseChip(*chip)
	if err != nil {
		return opts, nil, fmt.Errorf("unable to parse chip '%s': %w", *chip, err)
	}
	opts.Chip = c
	if err := opts.Type.UnmarshalText([]byte(*target)); err != nil {
		return opts, nil, fmt.Errorf("unable to parse platform '%s': %w", *target, err)
	}
	return opts, flag.Args(), nil
}

func main() {
	opts, args, err := parseArguments()
	if err != nil {
		log.Fatalf("%v", err)
	}
	log.SetVerbose(*verbose)

	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}
	if err := cmutk.Run(context.Background(), opts, args...); err != nil {
		log.Fatalf("%v", err)
	}
}
