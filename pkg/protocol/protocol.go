// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package protocol is a GUID keyed registry of published interfaces.
package protocol

import (
	"sync"

	"github.com/linuxboot/tegracm/pkg/guid"
	"github.com/linuxboot/tegracm/pkg/log"
	"github.com/linuxboot/tegracm/pkg/status"
)

// Registry holds at most one interface per GUID.
type Registry struct {
	mu         sync.RWMutex
	interfaces map[guid.GUID]interface{}
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{interfaces: map[guid.GUID]interface{}{}}
}

// Default is the process wide registry.
var Default = NewRegistry()

// Install publishes iface under g.
func (r *Registry) Install(g guid.GUID, iface interface{}) error {
	if iface == nil {
		return status.Errorf(status.ErrInvalidParameter, "nil interface for %s", g)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.interfaces[g]; ok {
		return status.Errorf(status.ErrInvalidParameter, "protocol %s already installed", g)
	}
	r.interfaces[g] = iface
	log.Debugf("protocol %s installed (%T)", g, iface)
	return nil
}

// Uninstall removes the interface published under g.
func (r *Registry) Uninstall(g guid.GUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.interfaces[g]; !ok {
		return status.Errorf(status.ErrNotFound, "protocol %s", g)
	}
	delete(r.interfaces, g)
	return nil
}

// Locate returns the interface published under g.
func (r *Registry) Locate(g guid.GUID) (interface{}, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	iface, ok := r.interfaces[g]
	if !ok {
		return nil, status.Errorf(status.ErrNotFound, "protocol %s", g)
	}
	return iface, nil
}

// LocateAs returns the interface published under g as a T.
func LocateAs[T any](r *Registry, g guid.GUID) (T, error) {
	var zero T
	iface, err := r.Locate(g)
	if err != nil {
		return zero, err
	}
	v, ok := iface.(T)
	if !ok {
		return zero, status.Errorf(status.ErrInvalidParameter, "protocol %s is %T", g, iface)
	}
	return v, nil
}
