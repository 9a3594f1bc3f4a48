// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cm

import (
	"math"
	"reflect"

	"github.com/hashicorp/go-multierror"

	"github.com/linuxboot/tegracm/pkg/log"
	"github.com/linuxboot/tegracm/pkg/status"
)

// Entry is one repository entry. Data is a typed slice owned by the
// repository. ElementTokens holds one token per element, except for CmRef
// entries whose elements are tokens themselves.
type Entry struct {
	ID            ObjectID
	Token         Token
	Size          uint32
	Count         uint32
	Data          interface{}
	ElementTokens []Token
}

// Finder is implemented by Builder and Repository.
type Finder interface {
	FindEntry(id ObjectID, token Token) (*Entry, error)
}

// Builder is the mutable repository used while parsers run. It is not safe
// for concurrent use.
type Builder struct {
	maxEntries int
	entries    []*Entry
	next       Token
	minted     map[Token]struct{}
	bound      map[Token]binding
	published  bool
}

var _ Finder = (*Builder)(nil)

// NewBuilder creates an empty builder that accepts at most maxEntries
// entries.
func NewBuilder(maxEntries int) (*Builder, error) {
	if maxEntries <= 0 {
		return nil, status.Errorf(status.ErrInvalidParameter, "repository capacity %d", maxEntries)
	}
	return &Builder{
		maxEntries: maxEntries,
		entries:    make([]*Entry, 0, maxEntries),
		next:       1,
		minted:     map[Token]struct{}{},
		bound:      map[Token]binding{},
	}, nil
}

// Len returns the number of entries.
func (b *Builder) Len() int {
	return len(b.entries)
}

// Cap returns the entry capacity.
func (b *Builder) Cap() int {
	return b.maxEntries
}

func (b *Builder) checkMutable() error {
	if b.published {
		return status.Errorf(status.ErrUnsupported, "repository already published")
	}
	return nil
}

func (b *Builder) mint() (Token, error) {
	if b.next == NullToken || b.next == math.MaxUint32 {
		return NullToken, status.Errorf(status.ErrOutOfResources, "token pool exhausted")
	}
	t := b.next
	b.next++
	b.minted[t] = struct{}{}
	return t, nil
}

// NewTokenMap mints count unbound tokens.
func (b *Builder) NewTokenMap(count uint32) ([]Token, error) {
	if err := b.checkMutable(); err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, status.Errorf(status.ErrInvalidParameter, "token map of zero tokens")
	}
	if uint64(b.next)+uint64(count) >= math.MaxUint32 {
		return nil, status.Errorf(status.ErrOutOfResources, "token pool exhausted")
	}
	tokens := make([]Token, count)
	for i := range tokens {
		t, err := b.mint()
		if err != nil {
			return nil, err
		}
		tokens[i] = t
	}
	return tokens, nil
}

// IsMinted reports whether t was issued by this builder.
func (b *Builder) IsMinted(t Token) bool {
	_, ok := b.minted[t]
	return ok
}

// IsBound reports whether t names an entry or element.
func (b *Builder) IsBound(t Token) bool {
	_, ok := b.bound[t]
	return ok
}

// checkFresh validates a caller supplied token that is about to be bound.
func (b *Builder) checkFresh(t Token, pending map[Token]struct{}) error {
	if !b.IsMinted(t) {
		return status.Errorf(status.ErrInvalidParameter, "token %s was not issued by this repository", t)
	}
	if b.IsBound(t) {
		return status.Errorf(status.ErrInvalidParameter, "token %s is already bound", t)
	}
	if _, dup := pending[t]; dup {
		return status.Errorf(status.ErrInvalidParameter, "token %s used twice", t)
	}
	pending[t] = struct{}{}
	return nil
}

// checkReferences verifies that every non-null token held by the elements
// of v was minted here.
func (b *Builder) checkReferences(id ObjectID, v reflect.Value) error {
	return forEachReference(id, v, func(i int, ref Reference) error {
		if ref.Token != NullToken && !b.IsMinted(ref.Token) {
			return status.Errorf(status.ErrInvalidParameter, "%s[%d].%s: token %s was not issued by this repository",
				id, i, ref.Field, ref.Token)
		}
		return nil
	})
}

func forEachReference(id ObjectID, v reflect.Value, fn func(int, Reference) error) error {
	if id == ArchCommonObjCmRef {
		for i := 0; i < v.Len(); i++ {
			t := v.Index(i).Interface().(Token)
			if err := fn(i, Reference{Field: "Ref", Token: t, Required: true}); err != nil {
				return err
			}
		}
		return nil
	}
	for i := 0; i < v.Len(); i++ {
		r, ok := v.Index(i).Interface().(Referrer)
		if !ok {
			return nil
		}
		for _, ref := range r.References() {
			if err := fn(i, ref); err != nil {
				return err
			}
		}
	}
	return nil
}

// NewEntry adds desc as a new entry, minting a whole-entry token and one
// token per element.
func (b *Builder) NewEntry(desc *Descriptor) (*Entry, error) {
	return b.NewEntryWithMap(desc, NullToken, nil)
}

// NewEntryWithMap adds desc using caller supplied tokens. A NullToken
// whole token or a nil element map means "mint". Supplied tokens must come
// from NewTokenMap and must not be bound yet.
func (b *Builder) NewEntryWithMap(desc *Descriptor, whole Token, elementTokens []Token) (*Entry, error) {
	if err := b.checkMutable(); err != nil {
		return nil, err
	}
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	if desc.Data == nil {
		return nil, status.Errorf(status.ErrInvalidParameter, "%s: entry without data", desc.ID)
	}
	if len(b.entries) >= b.maxEntries {
		return nil, status.Errorf(status.ErrOutOfResources, "repository full (%d entries) adding %s", b.maxEntries, desc.ID)
	}
	isRef := desc.ID == ArchCommonObjCmRef
	if isRef && elementTokens != nil {
		return nil, status.Errorf(status.ErrInvalidParameter, "reference arrays carry no element tokens")
	}
	if elementTokens != nil && uint32(len(elementTokens)) != desc.Count {
		return nil, status.Errorf(status.ErrInvalidParameter, "%s: %d element tokens for %d objects",
			desc.ID, len(elementTokens), desc.Count)
	}

	pending := map[Token]struct{}{}
	if whole != NullToken {
		if err := b.checkFresh(whole, pending); err != nil {
			return nil, err
		}
	}
	for _, t := range elementTokens {
		if err := b.checkFresh(t, pending); err != nil {
			return nil, err
		}
	}
	data := desc.value()
	if err := b.checkReferences(desc.ID, data); err != nil {
		return nil, err
	}

	need := uint64(0)
	if whole == NullToken {
		need++
	}
	if elementTokens == nil && !isRef {
		need += uint64(desc.Count)
	}
	if uint64(b.next)+need >= math.MaxUint32 {
		return nil, status.Errorf(status.ErrOutOfResources, "token pool exhausted")
	}
	if whole == NullToken {
		whole, _ = b.mint()
	}
	if elementTokens == nil && !isRef {
		elementTokens, _ = b.NewTokenMap(desc.Count)
	}

	e := &Entry{
		ID:            desc.ID,
		Token:         whole,
		Size:          desc.Size,
		Count:         desc.Count,
		Data:          copySlice(data).Interface(),
		ElementTokens: append([]Token(nil), elementTokens...),
	}
	b.entries = append(b.entries, e)
	b.bound[whole] = binding{entry: e, element: -1}
	for i, t := range e.ElementTokens {
		b.bound[t] = binding{entry: e, element: i}
	}
	log.Debugf("cm: new entry %s token %s count %d", e.ID, e.Token, e.Count)
	return e, nil
}

// ExtendEntry appends the elements of desc to the entry named by
// (desc.ID, token) and returns the tokens minted for them. With a NullToken
// the first entry of that kind is extended, or created if there is none.
func (b *Builder) ExtendEntry(desc *Descriptor, token Token) ([]Token, error) {
	if err := b.checkMutable(); err != nil {
		return nil, err
	}
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	if desc.ID == ArchCommonObjCmRef {
		return nil, status.Errorf(status.ErrInvalidParameter, "reference arrays cannot be extended")
	}
	e := b.findByEntryToken(desc.ID, token)
	if e == nil {
		if token != NullToken {
			return nil, status.Errorf(status.ErrNotFound, "%s with token %s", desc.ID, token)
		}
		e, err := b.NewEntry(desc)
		if err != nil {
			return nil, err
		}
		return append([]Token(nil), e.ElementTokens...), nil
	}

	old := reflect.ValueOf(e.Data)
	add := desc.value()
	if old.Type() != add.Type() {
		return nil, status.Errorf(status.ErrInvalidParameter, "%s: cannot extend %s with %s", e.ID, old.Type(), add.Type())
	}
	if err := b.checkReferences(desc.ID, add); err != nil {
		return nil, err
	}
	tokens, err := b.NewTokenMap(desc.Count)
	if err != nil {
		return nil, err
	}
	merged := reflect.AppendSlice(copySlice(old), add)
	base := len(e.ElementTokens)
	e.Data = merged.Interface()
	e.Count += desc.Count
	e.Size += desc.Size
	e.ElementTokens = append(e.ElementTokens, tokens...)
	for i, t := range tokens {
		b.bound[t] = binding{entry: e, element: base + i}
	}
	log.Debugf("cm: extended %s token %s by %d to %d", e.ID, e.Token, desc.Count, e.Count)
	return tokens, nil
}

func (b *Builder) findByEntryToken(id ObjectID, token Token) *Entry {
	for _, e := range b.entries {
		if e.ID != id {
			continue
		}
		if token == NullToken || e.Token == token {
			return e
		}
	}
	return nil
}

// FindEntry returns the entry of kind id named by token. A NullToken
// selects the first entry of that kind; otherwise token may be the entry's
// own token or the token of one of its elements.
func (b *Builder) FindEntry(id ObjectID, token Token) (*Entry, error) {
	return findEntry(b.entries, b.bound, id, token)
}

func findEntry(entries []*Entry, bound map[Token]binding, id ObjectID, token Token) (*Entry, error) {
	if token == NullToken {
		for _, e := range entries {
			if e.ID == id {
				return e, nil
			}
		}
		return nil, status.Errorf(status.ErrNotFound, "no %s entry", id)
	}
	if bd, ok := bound[token]; ok && bd.entry.ID == id {
		return bd.entry, nil
	}
	return nil, status.Errorf(status.ErrNotFound, "no %s entry with token %s", id, token)
}

// Validate checks that every reference held by any object is bound to an
// object of an accepted kind. All violations are reported together.
func (b *Builder) Validate() error {
	return validate(b.entries, b.bound)
}

func validate(entries []*Entry, bound map[Token]binding) error {
	var result *multierror.Error
	for _, e := range entries {
		_ = forEachReference(e.ID, reflect.ValueOf(e.Data), func(i int, ref Reference) error {
			if ref.Token == NullToken {
				if ref.Required {
					result = multierror.Append(result, &ErrNullReference{Owner: e.ID, Index: i, Field: ref.Field})
				}
				return nil
			}
			bd, ok := bound[ref.Token]
			if !ok {
				result = multierror.Append(result, &ErrDanglingReference{Owner: e.ID, Index: i, Field: ref.Field, Token: ref.Token})
				return nil
			}
			if len(ref.Kinds) > 0 && !containsID(ref.Kinds, bd.entry.ID) {
				result = multierror.Append(result, &ErrReferenceKind{
					Owner: e.ID, Index: i, Field: ref.Field, Token: ref.Token, Target: bd.entry.ID,
				})
			}
			return nil
		})
	}
	return result.ErrorOrNil()
}

func containsID(ids []ObjectID, id ObjectID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

// Finish validates the builder and freezes it into a Repository. The
// builder rejects every later mutation.
func (b *Builder) Finish() (*Repository, error) {
	if err := b.checkMutable(); err != nil {
		return nil, err
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	b.published = true
	r := &Repository{
		entries: append([]*Entry(nil), b.entries...),
		bound:   make(map[Token]binding, len(b.bound)),
	}
	for t, bd := range b.bound {
		r.bound[t] = bd
	}
	return r, nil
}
