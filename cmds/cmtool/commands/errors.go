// Copyright 2017-2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package commands

import (
	"fmt"
	"strings"

	"github.com/linuxboot/tegracm/pkg/status"
)

// ErrArgs reports a bad cmtool command line. It matches
// status.ErrInvalidParameter.
type ErrArgs struct {
	Err error
}

func (err ErrArgs) Error() string {
	return fmt.Sprintf("invalid arguments: %v", err.Err)
}

func (err ErrArgs) Unwrap() error {
	return err.Err
}

// Is reports whether target is status.ErrInvalidParameter.
func (err ErrArgs) Is(target error) bool {
	return target == status.ErrInvalidParameter
}

// NoArgs rejects positional arguments.
func NoArgs(args []string) error {
	if len(args) == 0 {
		return nil
	}
	return ErrArgs{Err: fmt.Errorf("unexpected arguments: %s", strings.Join(args, " "))}
}
