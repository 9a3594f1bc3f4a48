// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cm

import (
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linuxboot/tegracm/pkg/log"
	"github.com/linuxboot/tegracm/pkg/status"
)

func newBuilder(t *testing.T) *Builder {
	b, err := NewBuilder(64)
	require.NoError(t, err)
	return b
}

func TestDescriptorValidation(t *testing.T) {
	tests := []struct {
		name  string
		id    ObjectID
		count uint32
		data  interface{}
		size  uint32
		err   error
	}{
		{"ok", ArmObjIdMappingArray, 2, make([]IdMapping, 2), 2 * ElementSize(ArmObjIdMappingArray), nil},
		{"zero count", ArmObjIdMappingArray, 0, make([]IdMapping, 1), ElementSize(ArmObjIdMappingArray), status.ErrInvalidParameter},
		{"data without size", ArmObjIdMappingArray, 1, make([]IdMapping, 1), 0, status.ErrInvalidParameter},
		{"size without data", ArmObjIdMappingArray, 1, nil, 4, status.ErrInvalidParameter},
		{"nil data and size", ArmObjIdMappingArray, 1, nil, 0, nil},
		{"not a slice", ArmObjIdMappingArray, 1, IdMapping{}, ElementSize(ArmObjIdMappingArray), status.ErrInvalidParameter},
		{"wrong type", ArmObjIdMappingArray, 1, make([]SmmuInterrupt, 1), ElementSize(ArmObjSmmuInterruptArray), status.ErrInvalidParameter},
		{"wrong size", ArmObjIdMappingArray, 1, make([]IdMapping, 1), 3, status.ErrInvalidParameter},
		{"count mismatch", ArmObjIdMappingArray, 3, make([]IdMapping, 1), ElementSize(ArmObjIdMappingArray), status.ErrInvalidParameter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := NewDescriptor(tt.id, tt.count, tt.data, tt.size)
			if tt.err != nil {
				require.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			require.NoError(t, d.Free())
			assert.Equal(t, Descriptor{}, *d)
		})
	}

	var nilDesc *Descriptor
	require.ErrorIs(t, nilDesc.Free(), status.ErrInvalidParameter)
}

func TestRegisterElementType(t *testing.T) {
	id := NewObjectID(NamespaceOem, 0x99)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			RegisterElementType(id, uint32(0))
		}()
		go func() {
			defer wg.Done()
			_, _ = NewDescriptor(ArmObjIdMappingArray, 1, make([]IdMapping, 1), ElementSize(ArmObjIdMappingArray))
		}()
	}
	wg.Wait()

	assert.Equal(t, uint32(4), ElementSize(id))
	_, err := NewDescriptor(id, 1, make([]uint64, 1), 8)
	assert.ErrorIs(t, err, status.ErrInvalidParameter)
	_, err = NewDescriptor(id, 2, make([]uint32, 2), 8)
	assert.NoError(t, err)
}

func TestDescriptorDoesNotCopyButEntryDoes(t *testing.T) {
	b := newBuilder(t)
	backing := []SmmuInterrupt{{Interrupt: 1}, {Interrupt: 2}, {Interrupt: 3}}
	d, err := DescriptorOf(ArmObjSmmuInterruptArray, backing[1:])
	require.NoError(t, err)
	backing[1].Interrupt = 20
	assert.Equal(t, uint32(20), d.Data.([]SmmuInterrupt)[0].Interrupt)

	e, err := b.NewEntry(d)
	require.NoError(t, err)
	backing[1].Interrupt = 200
	items, err := Elements[SmmuInterrupt](e)
	require.NoError(t, err)
	assert.Equal(t, []SmmuInterrupt{{Interrupt: 20}, {Interrupt: 3}}, items)
}

func TestNewBuilderCapacity(t *testing.T) {
	_, err := NewBuilder(0)
	require.ErrorIs(t, err, status.ErrInvalidParameter)

	b, err := NewBuilder(2)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err = b.AddSingleObject(ArmObjGicItsIdentifierArray, ItsIdentifier{ItsID: uint32(i)})
		require.NoError(t, err)
	}
	_, err = b.AddSingleObject(ArmObjGicItsIdentifierArray, ItsIdentifier{})
	require.ErrorIs(t, err, status.ErrOutOfResources)
	assert.Equal(t, 2, b.Len())
	assert.Equal(t, 2, b.Cap())
}

func TestTokenUniqueness(t *testing.T) {
	b := newBuilder(t)
	seen := map[Token]bool{}
	record := func(tokens ...Token) {
		for _, tok := range tokens {
			require.NotEqual(t, NullToken, tok)
			require.False(t, seen[tok], "token %s issued twice", tok)
			seen[tok] = true
		}
	}

	allocated, err := b.AllocateTokens(4)
	require.NoError(t, err)
	record(allocated...)

	for i := 0; i < 5; i++ {
		d, err := DescriptorOf(ArmObjSmmuInterruptArray, make([]SmmuInterrupt, 3))
		require.NoError(t, err)
		elems, whole, err := b.AddMultipleObjectsGetTokens(d)
		require.NoError(t, err)
		record(elems...)
		record(whole)
	}

	d, err := DescriptorOf(ArmObjGicItsIdentifierArray, make([]ItsIdentifier, 4))
	require.NoError(t, err)
	whole, err := b.AddMultipleObjectsWithTokens(d, allocated, NullToken)
	require.NoError(t, err)
	record(whole)

	ext, err := b.ExtendObject(d, whole)
	require.NoError(t, err)
	record(ext...)
}

func TestTokenPoolExhausted(t *testing.T) {
	b := newBuilder(t)
	b.next = math.MaxUint32 - 2
	_, err := b.AllocateTokens(5)
	require.ErrorIs(t, err, status.ErrOutOfResources)
}

func TestSuppliedTokensMustBeFresh(t *testing.T) {
	b := newBuilder(t)
	d, err := DescriptorOf(ArmObjGicItsIdentifierArray, make([]ItsIdentifier, 2))
	require.NoError(t, err)

	_, err = b.AddMultipleObjectsWithTokens(d, []Token{100, 101}, NullToken)
	require.ErrorIs(t, err, status.ErrInvalidParameter)

	tokens, err := b.AllocateTokens(2)
	require.NoError(t, err)
	_, err = b.AddMultipleObjectsWithTokens(d, []Token{tokens[0], tokens[0]}, NullToken)
	require.ErrorIs(t, err, status.ErrInvalidParameter)
	_, err = b.AddMultipleObjectsWithTokens(d, tokens[:1], NullToken)
	require.ErrorIs(t, err, status.ErrInvalidParameter)

	_, err = b.AddMultipleObjectsWithTokens(d, tokens, NullToken)
	require.NoError(t, err)
	// (id, token) pairs are never inserted twice.
	_, err = b.AddMultipleObjectsWithTokens(d, tokens, NullToken)
	require.ErrorIs(t, err, status.ErrInvalidParameter)
	assert.Equal(t, 1, b.Len())
}

func TestFindEntry(t *testing.T) {
	b := newBuilder(t)
	d1, _ := DescriptorOf(ArmObjSmmuInterruptArray, []SmmuInterrupt{{Interrupt: 1}, {Interrupt: 2}})
	d2, _ := DescriptorOf(ArmObjSmmuInterruptArray, []SmmuInterrupt{{Interrupt: 3}})
	elems1, whole1, err := b.AddMultipleObjectsGetTokens(d1)
	require.NoError(t, err)
	_, whole2, err := b.AddMultipleObjectsGetTokens(d2)
	require.NoError(t, err)

	e, err := b.FindEntry(ArmObjSmmuInterruptArray, NullToken)
	require.NoError(t, err)
	assert.Equal(t, whole1, e.Token)

	e, err = b.FindEntry(ArmObjSmmuInterruptArray, whole2)
	require.NoError(t, err)
	assert.Equal(t, whole2, e.Token)

	e, err = b.FindEntry(ArmObjSmmuInterruptArray, elems1[1])
	require.NoError(t, err)
	assert.Equal(t, whole1, e.Token)

	one, err := Objects[SmmuInterrupt](b, ArmObjSmmuInterruptArray, elems1[1])
	require.NoError(t, err)
	assert.Equal(t, []SmmuInterrupt{{Interrupt: 2}}, one)

	_, err = b.FindEntry(ArmObjPmcg, NullToken)
	require.ErrorIs(t, err, status.ErrNotFound)
	_, err = b.FindEntry(ArmObjPmcg, whole1)
	require.ErrorIs(t, err, status.ErrNotFound)
}

func TestExtendEntry(t *testing.T) {
	b := newBuilder(t)
	d, _ := DescriptorOf(ArmObjSmmuInterruptArray, []SmmuInterrupt{{Interrupt: 1}})

	created, err := b.ExtendEntry(d, NullToken)
	require.NoError(t, err)
	require.Len(t, created, 1)

	d2, _ := DescriptorOf(ArmObjSmmuInterruptArray, []SmmuInterrupt{{Interrupt: 2}, {Interrupt: 3}})
	added, err := b.ExtendEntry(d2, NullToken)
	require.NoError(t, err)
	require.Len(t, added, 2)

	e, err := b.FindEntry(ArmObjSmmuInterruptArray, added[1])
	require.NoError(t, err)
	assert.Equal(t, uint32(3), e.Count)
	assert.Equal(t, 3*ElementSize(ArmObjSmmuInterruptArray), e.Size)
	assert.Equal(t, append(created, added...), e.ElementTokens)
	assert.Equal(t, 1, b.Len())

	_, err = b.ExtendEntry(d2, Token(9999))
	require.ErrorIs(t, err, status.ErrNotFound)

	ref, err := b.AddSingleObject(ArchCommonObjCmRef, []Token{created[0]})
	require.NoError(t, err)
	rd, _ := DescriptorOf(ArchCommonObjCmRef, []Token{added[0]})
	_, err = b.ExtendEntry(rd, ref)
	require.ErrorIs(t, err, status.ErrInvalidParameter)
}

func TestReferenceArray(t *testing.T) {
	b := newBuilder(t)
	d, _ := DescriptorOf(ArmObjGicItsIdentifierArray, []ItsIdentifier{{ItsID: 0}, {ItsID: 1}, {ItsID: 2}})
	refToken, err := b.AddMultipleObjectsWithReferenceArray(d, nil)
	require.NoError(t, err)

	ref, err := b.FindEntry(ArchCommonObjCmRef, refToken)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), ref.Count)
	assert.Empty(t, ref.ElementTokens)
	refs, err := Elements[Token](ref)
	require.NoError(t, err)

	for i, tok := range refs {
		items, err := Objects[ItsIdentifier](b, ArmObjGicItsIdentifierArray, tok)
		require.NoError(t, err)
		assert.Equal(t, uint32(i), items[0].ItsID)
	}
	_, err = b.Finish()
	require.NoError(t, err)
}

func TestReferenceIntegrity(t *testing.T) {
	b := newBuilder(t)
	smmu, err := b.AllocateTokens(1)
	require.NoError(t, err)

	// Unknown tokens are refused at add time.
	bad, _ := DescriptorOf(ArmObjIdMappingArray, []IdMapping{{OutputReferenceToken: 4242}})
	_, _, err = b.AddMultipleObjectsGetTokens(bad)
	require.ErrorIs(t, err, status.ErrInvalidParameter)

	// Allocated but unbound tokens are accepted until Finish.
	d, _ := DescriptorOf(ArmObjIdMappingArray, []IdMapping{{OutputReferenceToken: smmu[0]}, {}})
	_, _, err = b.AddMultipleObjectsGetTokens(d)
	require.NoError(t, err)
	ic, _ := DescriptorOf(ArmObjSmmuInterruptArray, []SmmuInterrupt{{Interrupt: 5}})
	_, icToken, err := b.AddMultipleObjectsGetTokens(ic)
	require.NoError(t, err)
	wrongKind, _ := DescriptorOf(ArmObjIdMappingArray, []IdMapping{{OutputReferenceToken: icToken}})
	_, _, err = b.AddMultipleObjectsGetTokens(wrongKind)
	require.NoError(t, err)

	_, err = b.Finish()
	require.Error(t, err)
	var merr *multierror.Error
	require.True(t, errors.As(err, &merr))
	require.Len(t, merr.Errors, 3)
	var dangling *ErrDanglingReference
	require.True(t, errors.As(merr.Errors[0], &dangling))
	assert.Equal(t, smmu[0], dangling.Token)
	var null *ErrNullReference
	require.True(t, errors.As(merr.Errors[1], &null))
	var kind *ErrReferenceKind
	require.True(t, errors.As(merr.Errors[2], &kind))
	assert.Equal(t, ArmObjSmmuInterruptArray, kind.Target)
	require.ErrorIs(t, err, status.ErrInvalidParameter)
}

func TestFinishFreezes(t *testing.T) {
	b := newBuilder(t)
	tok, err := b.AddSingleObject(ArmObjGicItsIdentifierArray, ItsIdentifier{ItsID: 7})
	require.NoError(t, err)
	repo, err := b.Finish()
	require.NoError(t, err)

	_, err = b.AddSingleObject(ArmObjGicItsIdentifierArray, ItsIdentifier{})
	require.ErrorIs(t, err, status.ErrUnsupported)
	_, err = b.AllocateTokens(1)
	require.ErrorIs(t, err, status.ErrUnsupported)
	_, err = b.Finish()
	require.ErrorIs(t, err, status.ErrUnsupported)

	assert.Equal(t, 1, repo.Len())
	e, idx, err := repo.Resolve(tok)
	require.NoError(t, err)
	assert.Equal(t, -1, idx)
	assert.Equal(t, ArmObjGicItsIdentifierArray, e.ID)
	_, _, err = repo.Resolve(12345)
	require.ErrorIs(t, err, status.ErrNotFound)
}

func TestAcpiTableMerge(t *testing.T) {
	b := newBuilder(t)
	dsdt := &AcpiTableData{Signature: Signature("DSDT")}
	table := AcpiTableInfo{
		AcpiTableSignature: Signature("DSDT"),
		AcpiTableRevision:  2,
		TableGeneratorID:   StdAcpiTableIDDsdt,
		AcpiTableData:      dsdt,
	}
	require.NoError(t, b.AddOrMergeAcpiTableGenerator(table))
	e, err := b.FindEntry(StdObjAcpiTableList, NullToken)
	require.NoError(t, err)
	before := e.Count

	rec, restore := log.Capture()
	defer restore()
	require.NoError(t, b.AddOrMergeAcpiTableGenerator(table))
	changed := table
	changed.AcpiTableRevision = 3
	changed.OemRevision = 9
	require.NoError(t, b.AddOrMergeAcpiTableGenerator(changed))

	e, err = b.FindEntry(StdObjAcpiTableList, NullToken)
	require.NoError(t, err)
	assert.Equal(t, before, e.Count)
	assert.Equal(t, 2, rec.Count("WARN"))
	tables, _ := Elements[AcpiTableInfo](e)
	assert.Equal(t, uint8(2), tables[0].AcpiTableRevision)

	// Same generator, different table data: a second table.
	other := table
	other.AcpiTableData = &AcpiTableData{Signature: Signature("DSDT")}
	require.NoError(t, b.AddOrMergeAcpiTableGenerator(other))
	e, _ = b.FindEntry(StdObjAcpiTableList, NullToken)
	assert.Equal(t, before+1, e.Count)
	assert.Equal(t, 1, b.Len())
}

func TestCacheLookup(t *testing.T) {
	b := newBuilder(t)
	tokens, err := b.AllocateTokens(3)
	require.NoError(t, err)
	info := []CacheInfo{
		{Token: tokens[0], CacheID: 0x100, NextLevelOfCacheToken: tokens[2]},
		{Token: tokens[1], CacheID: 0x200, NextLevelOfCacheToken: tokens[2]},
		{Token: tokens[2], CacheID: 0x300},
	}
	d, _ := DescriptorOf(ArchCommonObjCacheInfo, info)
	_, err = b.AddMultipleObjectsWithTokens(d, tokens, NullToken)
	require.NoError(t, err)

	meta := []CacheNode{
		{Phandle: 5, IsCPU: true, Type: CacheTypeData, Token: tokens[0]},
		{Phandle: 5, IsCPU: true, Type: CacheTypeInstruction, Token: tokens[1]},
		{Phandle: 9, Type: CacheTypeUnified, Token: tokens[2]},
	}
	md, _ := DescriptorOf(OemObjCacheNode, meta)
	_, _, err = b.AddMultipleObjectsGetTokens(md)
	require.NoError(t, err)
	repo, err := b.Finish()
	require.NoError(t, err)

	for _, tt := range []struct {
		phandle uint32
		icache  bool
		want    uint32
	}{
		{5, false, 0x100},
		{5, true, 0x200},
		{9, false, 0x300},
		{9, true, 0x300},
	} {
		id, err := FindCacheIdByPhandle(repo, tt.phandle, tt.icache)
		require.NoError(t, err)
		assert.Equal(t, tt.want, id)
	}
	_, err = FindCacheIdByPhandle(repo, 77, false)
	require.ErrorIs(t, err, status.ErrNotFound)
}

func TestObjectIDNames(t *testing.T) {
	assert.Equal(t, NamespaceArm, ArmObjSmmuV3.Namespace())
	assert.Equal(t, uint32(10), ArmObjSmmuV3.Local())
	assert.Equal(t, "ArmObjSmmuV3", ArmObjSmmuV3.String())
	assert.Equal(t, "Id Mapping Array", ArmObjIdMappingArray.Title())
	assert.Equal(t, "Oem(0x42)", NewObjectID(NamespaceOem, 0x42).String())
	assert.Equal(t, "IORT", SignatureString(Signature("IORT")))
}
