// Copyright 2017-2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package commands

import (
	"fmt"
	"sort"

	"github.com/jessevdk/go-flags"
)

// Command is one cmtool verb. Verbs take the device tree and the platform
// description through flags, never positionally.
type Command interface {
	flags.Commander

	// ShortDescription explains what this command does in one line
	ShortDescription() string

	// LongDescription explains what this verb does (without limitation in amount of lines)
	LongDescription() string
}

// AddCommands registers verbs on p in name order, so help output is
// stable.
func AddCommands(p *flags.Parser, verbs map[string]Command) error {
	names := make([]string, 0, len(verbs))
	for name := range verbs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		cmd := verbs[name]
		if _, err := p.AddCommand(name, cmd.ShortDescription(), cmd.LongDescription(), cmd); err != nil {
			return fmt.Errorf("verb %s: %w", name, err)
		}
	}
	return nil
}
