// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package visitors applies operations to a loaded device tree and the
// configuration manager repository built from it. The operations are also
// exposed through the command line.
package visitors

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/linuxboot/tegracm/pkg/cm"
	"github.com/linuxboot/tegracm/pkg/compression"
	"github.com/linuxboot/tegracm/pkg/fdt"
	"github.com/linuxboot/tegracm/pkg/platform"
	"github.com/linuxboot/tegracm/pkg/protocol"
	"github.com/linuxboot/tegracm/pkg/status"
)

// Target is what visitors operate on.
type Target struct {
	Tree     *fdt.Tree
	Platform *platform.Platform
	// Repo is built on first use by visitors that need it.
	Repo *cm.Repository
	// Compressor is the format the tree was loaded from.
	Compressor compression.Compressor
	// Protocols receives the repository when it is built. May be nil.
	Protocols *protocol.Registry
	// Context bounds the sweep and build visitors. Nil means background.
	Context context.Context
}

func (t *Target) ctx() context.Context {
	if t.Context == nil {
		return context.Background()
	}
	return t.Context
}

// Stdout is where visitors created by ParseCLI print.
var Stdout io.Writer = os.Stdout

// Repository returns the repository of the target, building it when
// needed. Chips without configuration manager data return ErrUnsupported.
func (t *Target) Repository() (*cm.Repository, error) {
	if t.Repo != nil {
		return t.Repo, nil
	}
	repo, err := t.Platform.Build(t.ctx(), t.Tree, t.Protocols)
	if err != nil {
		return nil, err
	}
	if repo == nil {
		return nil, status.Errorf(status.ErrUnsupported, "%s has no configuration manager data", t.Platform.Chip)
	}
	t.Repo = repo
	return repo, nil
}

// Invalidate drops the repository after the tree changed, withdrawing it
// from Protocols.
func (t *Target) Invalidate() error {
	if t.Repo == nil {
		return nil
	}
	t.Repo = nil
	if t.Protocols == nil {
		return nil
	}
	if err := t.Protocols.Uninstall(cm.PlatformRepositoryGUID); err != nil && !status.IsNotFound(err) {
		return err
	}
	return nil
}

// Visitor is one operation on a Target.
type Visitor interface {
	Run(t *Target) error
}

var visitorRegistry = map[string]visitorEntry{}

type visitorEntry struct {
	numArgs       int
	help          string
	createVisitor func([]string) (Visitor, error)
}

const (
	helpMessage = "Usage: cmutk FILE [COMMAND [ARGS]]..."
)

// RegisterCLI registers a function `createVisitor` to be called when parsing
// the arguments with `ParseCLI`. For a Visitor to be accessible from the
// command line, it should have an init function which registers a
// `createVisitor` function here.
func RegisterCLI(name string, help string, numArgs int, createVisitor func([]string) (Visitor, error)) {
	if _, ok := visitorRegistry[name]; ok {
		panic(fmt.Sprintf("two visitors registered the same name: '%s'", name))
	}
	visitorRegistry[name] = visitorEntry{
		numArgs:       numArgs,
		createVisitor: createVisitor,
		help:          help,
	}
}

// ParseCLI constructs a list of visitors from the given CLI argument list.
func ParseCLI(args []string) ([]Visitor, error) {
	visitors := []Visitor{}
	for len(args) > 0 {
		cmd := args[0]
		args = args[1:]
		o, ok := visitorRegistry[cmd]
		if !ok {
			return []Visitor{}, fmt.Errorf("could not find command '%s'\n%s", cmd, helpMessage)
		}
		if o.numArgs > len(args) {
			return []Visitor{}, fmt.Errorf("too few arguments for command '%s', got %d, expected %d.\nSynopsis: %s",
				cmd, len(args), o.numArgs, o.help)
		}
		visitor, err := o.createVisitor(args[:o.numArgs])
		if err != nil {
			return []Visitor{}, err
		}
		visitors = append(visitors, visitor)
		args = args[o.numArgs:]
	}
	return visitors, nil
}

// ExecuteCLI applies each Visitor to the target in sequence.
func ExecuteCLI(t *Target, v []Visitor) error {
	for i := range v {
		if err := v[i].Run(t); err != nil {
			return err
		}
	}
	return nil
}

// ListCLI prints out the help entries in the visitor struct
// as a newline-separated string in the form:
//
//	name: help
func ListCLI() string {
	var s string
	names := []string{}
	for n := range visitorRegistry {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		s += fmt.Sprintf("  %-22s: %s\n", n, visitorRegistry[n].help)
	}
	return s
}
