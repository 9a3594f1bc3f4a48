// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cm

import (
	"github.com/linuxboot/tegracm/pkg/guid"
	"github.com/linuxboot/tegracm/pkg/status"
)

// PlatformRepositoryGUID keys the published repository.
var PlatformRepositoryGUID = guid.MustParse("13E0D5F6-7A1F-4A3B-9A2C-4B1D6C3E8F21")

// Repository is the frozen result of a Builder. It never changes and may
// be shared between goroutines. Callers must not modify returned entries.
type Repository struct {
	entries []*Entry
	bound   map[Token]binding
}

var _ Finder = (*Repository)(nil)

// Len returns the number of entries.
func (r *Repository) Len() int {
	return len(r.entries)
}

// Entries returns the entries in insertion order.
func (r *Repository) Entries() []*Entry {
	return append([]*Entry(nil), r.entries...)
}

// FindEntry behaves like Builder.FindEntry.
func (r *Repository) FindEntry(id ObjectID, token Token) (*Entry, error) {
	return findEntry(r.entries, r.bound, id, token)
}

// Resolve returns the entry a token names and the element index, or -1
// when the token names the whole entry.
func (r *Repository) Resolve(token Token) (*Entry, int, error) {
	bd, ok := r.bound[token]
	if !ok {
		return nil, 0, status.Errorf(status.ErrNotFound, "token %s", token)
	}
	return bd.entry, bd.element, nil
}

// Elements returns the typed elements of e.
func Elements[T any](e *Entry) ([]T, error) {
	items, ok := e.Data.([]T)
	if !ok {
		return nil, status.Errorf(status.ErrInvalidParameter, "%s holds %T", e.ID, e.Data)
	}
	return items, nil
}

// Objects finds an entry and returns its typed elements. When token names
// one element only that element is returned.
func Objects[T any](f Finder, id ObjectID, token Token) ([]T, error) {
	e, err := f.FindEntry(id, token)
	if err != nil {
		return nil, err
	}
	items, err := Elements[T](e)
	if err != nil {
		return nil, err
	}
	if token != NullToken && token != e.Token {
		for i, t := range e.ElementTokens {
			if t == token {
				return items[i : i+1], nil
			}
		}
	}
	return items, nil
}
