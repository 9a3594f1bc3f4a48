// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cm

import (
	"fmt"
	"strings"

	"github.com/fatih/camelcase"
)

// Namespace is the owner of an object kind.
type Namespace uint32

// Namespaces.
const (
	NamespaceStandard Namespace = iota
	NamespaceArm
	NamespaceOem
	NamespaceArchCommon
)

var namespaceNames = map[Namespace]string{
	NamespaceStandard:   "Std",
	NamespaceArm:        "Arm",
	NamespaceOem:        "Oem",
	NamespaceArchCommon: "ArchCommon",
}

func (ns Namespace) String() string {
	if s, ok := namespaceNames[ns]; ok {
		return s
	}
	return fmt.Sprintf("Namespace(%d)", uint32(ns))
}

const (
	namespaceShift = 28
	localMask      = 1<<namespaceShift - 1
)

// ObjectID is a namespace tagged object kind.
type ObjectID uint32

// NewObjectID combines a namespace and a local kind.
func NewObjectID(ns Namespace, local uint32) ObjectID {
	return ObjectID(uint32(ns)<<namespaceShift | local&localMask)
}

// Namespace returns the namespace part of id.
func (id ObjectID) Namespace() Namespace {
	return Namespace(uint32(id) >> namespaceShift)
}

// Local returns the namespace local part of id.
func (id ObjectID) Local() uint32 {
	return uint32(id) & localMask
}

// Object kinds used by the parsers in this module.
var (
	StdObjCfgMgrInfo    = NewObjectID(NamespaceStandard, 0)
	StdObjAcpiTableList = NewObjectID(NamespaceStandard, 1)

	ArmObjSmmuV1SmmuV2          = NewObjectID(NamespaceArm, 9)
	ArmObjSmmuV3                = NewObjectID(NamespaceArm, 10)
	ArmObjItsGroup              = NewObjectID(NamespaceArm, 11)
	ArmObjNamedComponent        = NewObjectID(NamespaceArm, 12)
	ArmObjRootComplex           = NewObjectID(NamespaceArm, 13)
	ArmObjIdMappingArray        = NewObjectID(NamespaceArm, 14)
	ArmObjSmmuInterruptArray    = NewObjectID(NamespaceArm, 15)
	ArmObjPmcg                  = NewObjectID(NamespaceArm, 16)
	ArmObjGicItsIdentifierArray = NewObjectID(NamespaceArm, 17)

	ArchCommonObjCmRef                 = NewObjectID(NamespaceArchCommon, 1)
	ArchCommonObjCacheInfo             = NewObjectID(NamespaceArchCommon, 2)
	ArchCommonObjSerialConsolePortInfo = NewObjectID(NamespaceArchCommon, 3)
	ArchCommonObjSerialDebugPortInfo   = NewObjectID(NamespaceArchCommon, 4)

	OemObjCacheNode = NewObjectID(NamespaceOem, 1)
)

var objectNames = map[ObjectID]string{
	StdObjCfgMgrInfo:                   "StdObjCfgMgrInfo",
	StdObjAcpiTableList:                "StdObjAcpiTableList",
	ArmObjSmmuV1SmmuV2:                 "ArmObjSmmuV1SmmuV2",
	ArmObjSmmuV3:                       "ArmObjSmmuV3",
	ArmObjItsGroup:                     "ArmObjItsGroup",
	ArmObjNamedComponent:               "ArmObjNamedComponent",
	ArmObjRootComplex:                  "ArmObjRootComplex",
	ArmObjIdMappingArray:               "ArmObjIdMappingArray",
	ArmObjSmmuInterruptArray:           "ArmObjSmmuInterruptArray",
	ArmObjPmcg:                         "ArmObjPmcg",
	ArmObjGicItsIdentifierArray:        "ArmObjGicItsIdentifierArray",
	ArchCommonObjCmRef:                 "ArchCommonObjCmRef",
	ArchCommonObjCacheInfo:             "ArchCommonObjCacheInfo",
	ArchCommonObjSerialConsolePortInfo: "ArchCommonObjSerialConsolePortInfo",
	ArchCommonObjSerialDebugPortInfo:   "ArchCommonObjSerialDebugPortInfo",
	OemObjCacheNode:                    "OemObjCacheNode",
}

func (id ObjectID) String() string {
	if s, ok := objectNames[id]; ok {
		return s
	}
	return fmt.Sprintf("%s(%#x)", id.Namespace(), id.Local())
}

// Title returns a human readable name such as "Smmu V1 Smmu V2".
func (id ObjectID) Title() string {
	s, ok := objectNames[id]
	if !ok {
		return id.String()
	}
	words := camelcase.Split(s)
	// Drop the namespace and "Obj" prefix words.
	for len(words) > 0 && (words[0] == "Obj" || words[0] == "Std" || words[0] == "Arm" ||
		words[0] == "Oem" || words[0] == "Arch" || words[0] == "Common") {
		words = words[1:]
	}
	return strings.Join(words, " ")
}
