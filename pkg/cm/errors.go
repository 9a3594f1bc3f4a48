// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cm

import (
	"fmt"

	"github.com/linuxboot/tegracm/pkg/status"
)

// ErrDanglingReference means an object holds a token that names nothing.
type ErrDanglingReference struct {
	Owner ObjectID
	Index int
	Field string
	Token Token
}

func (err *ErrDanglingReference) Error() string {
	return fmt.Sprintf("%s[%d].%s: token %s is not bound to any object", err.Owner, err.Index, err.Field, err.Token)
}

// Unwrap returns the error kind.
func (err *ErrDanglingReference) Unwrap() error {
	return status.ErrInvalidParameter
}

// ErrNullReference means a mandatory reference was left empty.
type ErrNullReference struct {
	Owner ObjectID
	Index int
	Field string
}

func (err *ErrNullReference) Error() string {
	return fmt.Sprintf("%s[%d].%s: mandatory reference is null", err.Owner, err.Index, err.Field)
}

// Unwrap returns the error kind.
func (err *ErrNullReference) Unwrap() error {
	return status.ErrInvalidParameter
}

// ErrReferenceKind means a reference names an object of an unexpected kind.
type ErrReferenceKind struct {
	Owner  ObjectID
	Index  int
	Field  string
	Token  Token
	Target ObjectID
}

func (err *ErrReferenceKind) Error() string {
	return fmt.Sprintf("%s[%d].%s: token %s names a %s", err.Owner, err.Index, err.Field, err.Token, err.Target)
}

// Unwrap returns the error kind.
func (err *ErrReferenceKind) Unwrap() error {
	return status.ErrInvalidParameter
}
