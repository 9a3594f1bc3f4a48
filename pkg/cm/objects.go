// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cm

import (
	"reflect"
	"sync"
)

// Reference is a token stored inside an object. Kinds restricts the object
// kinds the token may name; an empty list accepts any kind. A NullToken is
// accepted unless Required is set.
type Reference struct {
	Field    string
	Token    Token
	Kinds    []ObjectID
	Required bool
}

// Referrer is implemented by objects holding tokens of other objects.
type Referrer interface {
	References() []Reference
}

// AcpiTableData stands in for a raw ACPI table blob supplied by a parser.
// Table descriptors compare it by pointer.
type AcpiTableData struct {
	Signature uint32
	Revision  uint8
	Body      []byte
}

// AcpiTableInfo describes one ACPI table to be generated.
type AcpiTableInfo struct {
	AcpiTableSignature uint32
	AcpiTableRevision  uint8
	TableGeneratorID   uint32
	AcpiTableData      *AcpiTableData
	OemTableID         uint64
	OemRevision        uint32
	MinorRevision      uint8
}

// Signature packs a four character ACPI signature the way it appears in
// memory.
func Signature(s string) uint32 {
	var v uint32
	for i := 0; i < 4 && i < len(s); i++ {
		v |= uint32(s[i]) << (8 * i)
	}
	return v
}

// SignatureString is the inverse of Signature.
func SignatureString(v uint32) string {
	return string([]byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)})
}

// Standard ACPI table generator IDs.
const (
	StdAcpiTableIDDsdt uint32 = 0x10000000 + iota + 1
	StdAcpiTableIDFadt
	StdAcpiTableIDMadt
	StdAcpiTableIDGtdt
	StdAcpiTableIDDbg2
	StdAcpiTableIDSpcr
	StdAcpiTableIDMcfg
	StdAcpiTableIDIort
	StdAcpiTableIDPptt
	StdAcpiTableIDSrat
	StdAcpiTableIDSsdtSerialPort
)

// CacheType is the cache type encoded into cache IDs.
type CacheType uint8

// Cache types.
const (
	CacheTypeUnified CacheType = iota
	CacheTypeInstruction
	CacheTypeData
)

var cacheTypeNames = []string{"unified", "icache", "dcache"}

func (t CacheType) String() string {
	if int(t) < len(cacheTypeNames) {
		return cacheTypeNames[t]
	}
	return "unknown"
}

// CacheInfo describes one cache for PPTT generation.
type CacheInfo struct {
	Token                 Token
	NextLevelOfCacheToken Token
	Size                  uint32
	NumberOfSets          uint32
	Associativity         uint32
	Attributes            uint8
	LineSize              uint16
	CacheID               uint32
}

// References implements Referrer.
func (c CacheInfo) References() []Reference {
	return []Reference{{Field: "NextLevelOfCacheToken", Token: c.NextLevelOfCacheToken, Kinds: []ObjectID{ArchCommonObjCacheInfo}}}
}

// CacheNode is the platform metadata kept for each cache found in the
// device tree. Token names the matching CacheInfo element.
type CacheNode struct {
	Phandle          uint32
	NextLevelPhandle uint32
	Token            Token
	CacheID          uint32
	Type             CacheType
	Level            uint8
	IsCPU            bool
	Socket           uint32
	Cluster          uint32
	Core             uint32
}

// References implements Referrer.
func (c CacheNode) References() []Reference {
	return []Reference{{Field: "Token", Token: c.Token, Kinds: []ObjectID{ArchCommonObjCacheInfo}, Required: true}}
}

// SerialPortInfo describes a serial console or debug port.
type SerialPortInfo struct {
	BaseAddress       uint64
	BaseAddressLength uint64
	Interrupt         uint32
	BaudRate          uint64
	Clock             uint32
	PortSubtype       uint16
	AccessSize        uint8
}

// Serial port subtypes as defined for DBG2 and SPCR.
const (
	SerialPortSubtypeFull16550   uint16 = 0x0000
	SerialPortSubtypeSbsa        uint16 = 0x000e
	SerialPortSubtypeNvidia16550 uint16 = 0x0013
)

// ItsIdentifier names one ITS in an ITS group.
type ItsIdentifier struct {
	ItsID uint32
}

// IdMapping is one IORT ID mapping.
type IdMapping struct {
	InputBase            uint32
	NumIds               uint32
	OutputBase           uint32
	OutputReferenceToken Token
	Flags                uint32
}

// IORT node kinds an ID mapping may point at.
var idMappingTargets = []ObjectID{ArmObjItsGroup, ArmObjSmmuV1SmmuV2, ArmObjSmmuV3}

// References implements Referrer.
func (m IdMapping) References() []Reference {
	return []Reference{{Field: "OutputReferenceToken", Token: m.OutputReferenceToken, Kinds: idMappingTargets, Required: true}}
}

// SmmuInterrupt is one SMMU context or PMU interrupt.
type SmmuInterrupt struct {
	Interrupt uint32
	Flags     uint32
}

// NodeHeader carries the fields every IORT node has.
type NodeHeader struct {
	Token          Token
	IdMappingCount uint32
	IdMappingToken Token
	Identifier     uint32
}

func (h NodeHeader) refs() []Reference {
	return []Reference{{Field: "IdMappingToken", Token: h.IdMappingToken, Kinds: []ObjectID{ArmObjIdMappingArray}}}
}

// ItsGroupNode is an IORT ITS group.
type ItsGroupNode struct {
	Token      Token
	ItsIdCount uint32
	ItsIdToken Token
	Identifier uint32
}

// References implements Referrer.
func (n ItsGroupNode) References() []Reference {
	return []Reference{{Field: "ItsIdToken", Token: n.ItsIdToken, Kinds: []ObjectID{ArmObjGicItsIdentifierArray}}}
}

// NamedComponentNode is an IORT named component.
type NamedComponentNode struct {
	NodeHeader
	Flags             uint32
	CacheCoherent     uint32
	AllocationHints   uint8
	MemoryAccessFlags uint8
	AddressSizeLimit  uint8
	ObjectName        string
}

// References implements Referrer.
func (n NamedComponentNode) References() []Reference { return n.refs() }

// RootComplexNode is an IORT PCI root complex.
type RootComplexNode struct {
	NodeHeader
	CacheCoherent     uint32
	AllocationHints   uint8
	MemoryAccessFlags uint8
	AtsAttribute      uint32
	PciSegmentNumber  uint32
	MemoryAddressSize uint8
	PasidCapabilities uint16
	Flags             uint32
}

// References implements Referrer.
func (n RootComplexNode) References() []Reference { return n.refs() }

// SmmuV1V2Node is an IORT SMMUv1/v2 node.
type SmmuV1V2Node struct {
	NodeHeader
	BaseAddress           uint64
	Span                  uint64
	Model                 uint32
	Flags                 uint32
	ContextInterruptCount uint32
	ContextInterruptToken Token
	PmuInterruptCount     uint32
	PmuInterruptToken     Token
	NSgIrpt               uint32
	NSgIrptFlags          uint32
	NSgCfgIrpt            uint32
	NSgCfgIrptFlags       uint32
}

// References implements Referrer.
func (n SmmuV1V2Node) References() []Reference {
	return append(n.refs(),
		Reference{Field: "ContextInterruptToken", Token: n.ContextInterruptToken, Kinds: []ObjectID{ArmObjSmmuInterruptArray}},
		Reference{Field: "PmuInterruptToken", Token: n.PmuInterruptToken, Kinds: []ObjectID{ArmObjSmmuInterruptArray}},
	)
}

// SmmuV3Node is an IORT SMMUv3 node.
type SmmuV3Node struct {
	NodeHeader
	BaseAddress          uint64
	Flags                uint32
	VatosAddress         uint64
	Model                uint32
	EventInterrupt       uint32
	PriInterrupt         uint32
	GerrInterrupt        uint32
	SyncInterrupt        uint32
	ProximityDomain      uint32
	DeviceIdMappingIndex uint32
}

// References implements Referrer.
func (n SmmuV3Node) References() []Reference { return n.refs() }

// PmcgNode is an IORT performance monitor counter group.
type PmcgNode struct {
	NodeHeader
	BaseAddress       uint64
	OverflowInterrupt uint32
	Page1BaseAddress  uint64
	ReferenceToken    Token
}

// References implements Referrer.
func (n PmcgNode) References() []Reference {
	return append(n.refs(), Reference{Field: "ReferenceToken", Token: n.ReferenceToken, Required: true})
}

var tokenType = reflect.TypeOf(Token(0))

// elementTypes maps each object kind to its Go element type.
var elementTypes = map[ObjectID]reflect.Type{
	StdObjAcpiTableList:                reflect.TypeOf(AcpiTableInfo{}),
	ArmObjSmmuV1SmmuV2:                 reflect.TypeOf(SmmuV1V2Node{}),
	ArmObjSmmuV3:                       reflect.TypeOf(SmmuV3Node{}),
	ArmObjItsGroup:                     reflect.TypeOf(ItsGroupNode{}),
	ArmObjNamedComponent:               reflect.TypeOf(NamedComponentNode{}),
	ArmObjRootComplex:                  reflect.TypeOf(RootComplexNode{}),
	ArmObjIdMappingArray:               reflect.TypeOf(IdMapping{}),
	ArmObjSmmuInterruptArray:           reflect.TypeOf(SmmuInterrupt{}),
	ArmObjPmcg:                         reflect.TypeOf(PmcgNode{}),
	ArmObjGicItsIdentifierArray:        reflect.TypeOf(ItsIdentifier{}),
	ArchCommonObjCmRef:                 tokenType,
	ArchCommonObjCacheInfo:             reflect.TypeOf(CacheInfo{}),
	ArchCommonObjSerialConsolePortInfo: reflect.TypeOf(SerialPortInfo{}),
	ArchCommonObjSerialDebugPortInfo:   reflect.TypeOf(SerialPortInfo{}),
	OemObjCacheNode:                    reflect.TypeOf(CacheNode{}),
}

var elementTypesMu sync.RWMutex

// RegisterElementType binds an object kind to a Go element type. Kinds
// without a registration accept any slice type. It is safe to call while
// descriptors are being validated.
func RegisterElementType(id ObjectID, sample interface{}) {
	elementTypesMu.Lock()
	defer elementTypesMu.Unlock()
	elementTypes[id] = reflect.TypeOf(sample)
}

func elementType(id ObjectID) (reflect.Type, bool) {
	elementTypesMu.RLock()
	defer elementTypesMu.RUnlock()
	t, ok := elementTypes[id]
	return t, ok
}
