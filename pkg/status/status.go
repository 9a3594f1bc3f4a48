// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package status defines the error kinds shared by the configuration
// manager, the hardware-info parsers and the floor-sweeping passes.
//
// Every error produced by those packages wraps exactly one of the kinds
// below, so callers classify failures with errors.Is.
package status

import (
	"errors"
	"fmt"
)

// Error kinds.
var (
	// ErrInvalidParameter is returned for nil, zero-sized or malformed input.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrOutOfResources is returned when a fixed capacity is exhausted.
	ErrOutOfResources = errors.New("out of resources")

	// ErrNotFound marks optional content that is absent. Parsers returning
	// it are skipped rather than failing the pass.
	ErrNotFound = errors.New("not found")

	// ErrDeviceError marks a structural violation in the device tree or a
	// register value that makes no sense.
	ErrDeviceError = errors.New("device error")

	// ErrUnsupported marks a platform or feature combination that is not
	// implemented. Top level entry points map it to success.
	ErrUnsupported = errors.New("unsupported")
)

// Errorf formats an error message and wraps it around kind.
func Errorf(kind error, format string, args ...interface{}) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Error is an error of a known kind with a context message.
type Error struct {
	Kind error
	Msg  string
}

func (err *Error) Error() string {
	if err.Msg == "" {
		return err.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", err.Msg, err.Kind)
}

// Unwrap returns the kind.
func (err *Error) Unwrap() error {
	return err.Kind
}

// IsNotFound is a shorthand for errors.Is(err, ErrNotFound).
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsUnsupported is a shorthand for errors.Is(err, ErrUnsupported).
func IsUnsupported(err error) bool {
	return errors.Is(err, ErrUnsupported)
}

// IgnoreUnsupported maps ErrUnsupported to nil and returns any other error
// unchanged.
func IgnoreUnsupported(err error) error {
	if IsUnsupported(err) {
		return nil
	}
	return err
}
