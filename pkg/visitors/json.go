// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package visitors

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/linuxboot/tegracm/pkg/cm"
)

// JSON dumps the repository entries and their objects.
type JSON struct {
	W io.Writer
}

type jsonEntry struct {
	ID            string
	Token         cm.Token
	Count         uint32
	Size          uint32
	ElementTokens []cm.Token `json:",omitempty"`
	Data          interface{}
}

// Run builds the repository if needed and writes it as JSON.
func (v *JSON) Run(t *Target) error {
	repo, err := t.Repository()
	if err != nil {
		return err
	}
	out := []jsonEntry{}
	for _, e := range repo.Entries() {
		out = append(out, jsonEntry{
			ID:            e.ID.String(),
			Token:         e.Token,
			Count:         e.Count,
			Size:          e.Size,
			ElementTokens: e.ElementTokens,
			Data:          e.Data,
		})
	}
	b, err := json.MarshalIndent(out, "", "\t")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(v.W, string(b))
	return err
}

func init() {
	RegisterCLI("json", "produce JSON for the repository entries", 0, func(args []string) (Visitor, error) {
		return &JSON{W: Stdout}, nil
	})
}
