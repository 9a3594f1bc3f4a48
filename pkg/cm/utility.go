// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cm

import (
	"reflect"

	"github.com/linuxboot/tegracm/pkg/status"
)

// singleDescriptor wraps one object, or a token slice for CmRef, into a
// descriptor.
func singleDescriptor(id ObjectID, obj interface{}) (*Descriptor, error) {
	if obj == nil {
		return nil, status.Errorf(status.ErrInvalidParameter, "%s: nil object", id)
	}
	v := reflect.ValueOf(obj)
	if id == ArchCommonObjCmRef {
		refs, ok := obj.([]Token)
		if !ok {
			return nil, status.Errorf(status.ErrInvalidParameter, "reference object is %T, want []Token", obj)
		}
		size := uint32(len(refs)) * uint32(tokenType.Size())
		return NewDescriptor(id, size/uint32(tokenType.Size()), refsOrNil(refs), size)
	}
	s := reflect.MakeSlice(reflect.SliceOf(v.Type()), 1, 1)
	s.Index(0).Set(v)
	return NewDescriptor(id, 1, s.Interface(), uint32(v.Type().Size()))
}

func refsOrNil(refs []Token) interface{} {
	if len(refs) == 0 {
		return nil
	}
	return refs
}

// AddSingleObject adds one object and returns its token. For CmRef the
// object is a []Token and the count is derived from its length.
func (b *Builder) AddSingleObject(id ObjectID, obj interface{}) (Token, error) {
	desc, err := singleDescriptor(id, obj)
	if err != nil {
		return NullToken, err
	}
	e, err := b.NewEntry(desc)
	if err != nil {
		return NullToken, err
	}
	return e.Token, nil
}

// AddMultipleObjectsGetTokens adds an array and returns one token per
// element plus the token of the whole array.
func (b *Builder) AddMultipleObjectsGetTokens(desc *Descriptor) ([]Token, Token, error) {
	if err := desc.Validate(); err != nil {
		return nil, NullToken, err
	}
	e, err := b.NewEntry(desc)
	if err != nil {
		return nil, NullToken, err
	}
	return append([]Token(nil), e.ElementTokens...), e.Token, nil
}

// AddMultipleObjectsWithTokens adds an array under tokens obtained from
// AllocateTokens. A NullToken whole token is minted and returned.
func (b *Builder) AddMultipleObjectsWithTokens(desc *Descriptor, elementTokens []Token, whole Token) (Token, error) {
	if elementTokens == nil {
		return NullToken, status.Errorf(status.ErrInvalidParameter, "missing element token map")
	}
	e, err := b.NewEntryWithMap(desc, whole, elementTokens)
	if err != nil {
		return NullToken, err
	}
	return e.Token, nil
}

// AddMultipleObjectsWithReferenceArray adds an array, then a CmRef array
// holding one element token per object, and returns the token of the
// reference array. elementTokens may be nil to mint them.
func (b *Builder) AddMultipleObjectsWithReferenceArray(desc *Descriptor, elementTokens []Token) (Token, error) {
	e, err := b.NewEntryWithMap(desc, NullToken, elementTokens)
	if err != nil {
		return NullToken, err
	}
	return b.AddSingleObject(ArchCommonObjCmRef, append([]Token(nil), e.ElementTokens...))
}

// AllocateTokens mints count tokens to be bound later with
// AddMultipleObjectsWithTokens.
func (b *Builder) AllocateTokens(count uint32) ([]Token, error) {
	return b.NewTokenMap(count)
}

// ExtendObject appends desc to an entry, see ExtendEntry.
func (b *Builder) ExtendObject(desc *Descriptor, token Token) ([]Token, error) {
	return b.ExtendEntry(desc, token)
}
