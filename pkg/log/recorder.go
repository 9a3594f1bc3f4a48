// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package log

import (
	"fmt"
	"sync"
)

// Recorder is a Logger that keeps every message in memory. Tests install it
// with Capture to assert on warnings emitted by soft failures.
type Recorder struct {
	mu       sync.Mutex
	Messages []string
}

var _ Logger = (*Recorder)(nil)

func (r *Recorder) add(level, format string, args ...interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Messages = append(r.Messages, level+" "+fmt.Sprintf(format, args...))
}

// Debugf implements Logger.
func (r *Recorder) Debugf(format string, args ...interface{}) { r.add("DEBUG", format, args...) }

// Infof implements Logger.
func (r *Recorder) Infof(format string, args ...interface{}) { r.add("INFO", format, args...) }

// Warnf implements Logger.
func (r *Recorder) Warnf(format string, args ...interface{}) { r.add("WARN", format, args...) }

// Errorf implements Logger.
func (r *Recorder) Errorf(format string, args ...interface{}) { r.add("ERROR", format, args...) }

// Fatalf implements Logger. It panics instead of exiting.
func (r *Recorder) Fatalf(format string, args ...interface{}) {
	r.add("FATAL", format, args...)
	panic(fmt.Sprintf(format, args...))
}

// Count returns the number of recorded messages with the given level.
func (r *Recorder) Count(level string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.Messages {
		if len(m) > len(level) && m[:len(level)] == level && m[len(level)] == ' ' {
			n++
		}
	}
	return n
}

// Capture replaces DefaultLogger with a fresh Recorder and returns it along
// with a function restoring the previous logger.
func Capture() (*Recorder, func()) {
	prev := DefaultLogger
	r := &Recorder{}
	DefaultLogger = r
	return r, func() { DefaultLogger = prev }
}
