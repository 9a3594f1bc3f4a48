// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package visitors

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/linuxboot/tegracm/pkg/cm"
)

// Table prints the repository entries as a table.
type Table struct {
	W io.Writer
	// Style defaults to table.StyleLight.
	Style *table.Style
}

// Run builds the repository if needed and renders it.
func (v *Table) Run(t *Target) error {
	repo, err := t.Repository()
	if err != nil {
		return err
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(v.W)
	if v.Style != nil {
		tw.SetStyle(*v.Style)
	} else {
		tw.SetStyle(table.StyleLight)
	}
	tw.SetTitle("%s configuration manager repository", t.Platform.Chip)
	tw.AppendHeader(table.Row{"Token", "Object", "Namespace", "Count", "Size", "Element Tokens"})
	var total uint64
	for _, e := range repo.Entries() {
		tw.AppendRow(table.Row{e.Token, e.ID.Title(), e.ID.Namespace(), e.Count, humanize.IBytes(uint64(e.Size)), tokenRange(e.ElementTokens)})
		total += uint64(e.Size)
	}
	tw.AppendFooter(table.Row{"", fmt.Sprintf("%d entries", repo.Len()), "", "", humanize.IBytes(total), ""})
	tw.Render()
	return nil
}

func tokenRange(tokens []cm.Token) string {
	switch len(tokens) {
	case 0:
		return ""
	case 1:
		return tokens[0].String()
	}
	return fmt.Sprintf("%s..%s", tokens[0], tokens[len(tokens)-1])
}

func init() {
	RegisterCLI("table", "print the repository entries in a pretty table", 0, func(args []string) (Visitor, error) {
		return &Table{W: Stdout}, nil
	})
}
