// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package cm implements the Configuration Manager object repository: typed
// object descriptors, token issuance, a fixed capacity builder that the
// hardware-info parsers populate, and the frozen Repository handed to
// table generators.
package cm

import (
	"reflect"

	"github.com/linuxboot/tegracm/pkg/status"
)

// Descriptor wraps a typed slice of objects of one kind. Data is borrowed:
// the descriptor never copies it.
type Descriptor struct {
	ID    ObjectID
	Count uint32
	Size  uint32
	Data  interface{}
}

// NewDescriptor creates an object descriptor. data must be a slice of the
// kind's element type, or nil together with a zero size.
func NewDescriptor(id ObjectID, count uint32, data interface{}, size uint32) (*Descriptor, error) {
	d := &Descriptor{ID: id, Count: count, Data: data, Size: size}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// DescriptorOf builds a descriptor over items, deriving count and size.
func DescriptorOf[T any](id ObjectID, items []T) (*Descriptor, error) {
	var zero T
	size := uint32(len(items)) * uint32(reflect.TypeOf(zero).Size())
	var data interface{}
	if len(items) > 0 {
		data = items
	}
	return NewDescriptor(id, uint32(len(items)), data, size)
}

// Free releases the descriptor itself. The data it points at is untouched.
func (d *Descriptor) Free() error {
	if d == nil {
		return status.Errorf(status.ErrInvalidParameter, "free of nil descriptor")
	}
	*d = Descriptor{}
	return nil
}

// ElementSize returns the byte size of one element of kind id, or 0 if the
// kind has no registered type.
func ElementSize(id ObjectID) uint32 {
	t, ok := elementType(id)
	if !ok {
		return 0
	}
	return uint32(t.Size())
}

// Validate checks the descriptor invariants.
func (d *Descriptor) Validate() error {
	if d == nil {
		return status.Errorf(status.ErrInvalidParameter, "nil descriptor")
	}
	if d.Count == 0 {
		return status.Errorf(status.ErrInvalidParameter, "%s: descriptor count is zero", d.ID)
	}
	if (d.Data == nil) != (d.Size == 0) {
		return status.Errorf(status.ErrInvalidParameter, "%s: data/size mismatch (size %d)", d.ID, d.Size)
	}
	if d.Data == nil {
		return nil
	}
	v := reflect.ValueOf(d.Data)
	if v.Kind() != reflect.Slice {
		return status.Errorf(status.ErrInvalidParameter, "%s: data is %T, not a slice", d.ID, d.Data)
	}
	elem := v.Type().Elem()
	if want, ok := elementType(d.ID); ok && want != elem {
		return status.Errorf(status.ErrInvalidParameter, "%s: element type %s, want %s", d.ID, elem, want)
	}
	if uint64(v.Len())*uint64(elem.Size()) != uint64(d.Size) {
		return status.Errorf(status.ErrInvalidParameter, "%s: size %d does not match %d elements of %d bytes",
			d.ID, d.Size, v.Len(), elem.Size())
	}
	if uint32(v.Len()) != d.Count {
		return status.Errorf(status.ErrInvalidParameter, "%s: count %d, data holds %d elements", d.ID, d.Count, v.Len())
	}
	return nil
}

func (d *Descriptor) value() reflect.Value {
	return reflect.ValueOf(d.Data)
}

func copySlice(v reflect.Value) reflect.Value {
	out := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
	reflect.Copy(out, v)
	return out
}
