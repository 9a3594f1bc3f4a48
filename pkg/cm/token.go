// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cm

import "fmt"

// Token names an object or one element of a multi-object entry.
type Token uint32

// NullToken means "no token".
const NullToken Token = 0

func (t Token) String() string {
	if t == NullToken {
		return "null"
	}
	return fmt.Sprintf("%#x", uint32(t))
}

// binding records what a token names. element is -1 for the whole entry.
type binding struct {
	entry   *Entry
	element int
}
