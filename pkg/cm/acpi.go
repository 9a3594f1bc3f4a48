// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cm

import (
	"github.com/linuxboot/tegracm/pkg/log"
	"github.com/linuxboot/tegracm/pkg/status"
)

// AddOrMergeAcpiTableGenerator registers table in the ACPI table list. A
// table with the same generator and the same table data is already
// present: metadata differences are reported as warnings and the list is
// left as is. Otherwise the list is extended, or created.
func (b *Builder) AddOrMergeAcpiTableGenerator(table AcpiTableInfo) error {
	e, err := b.FindEntry(StdObjAcpiTableList, NullToken)
	switch {
	case err == nil:
		tables, err := Elements[AcpiTableInfo](e)
		if err != nil {
			return err
		}
		for i := range tables {
			have := &tables[i]
			if have.TableGeneratorID != table.TableGeneratorID || have.AcpiTableData != table.AcpiTableData {
				continue
			}
			warnMismatch(have, &table)
			return nil
		}
	case !status.IsNotFound(err):
		return err
	}

	desc, err := DescriptorOf(StdObjAcpiTableList, []AcpiTableInfo{table})
	if err != nil {
		return err
	}
	_, err = b.ExtendEntry(desc, NullToken)
	return err
}

func warnMismatch(have, want *AcpiTableInfo) {
	name := SignatureString(have.AcpiTableSignature)
	if have.AcpiTableSignature != want.AcpiTableSignature {
		log.Warnf("acpi table %s: signature mismatch, keeping %s over %s",
			name, name, SignatureString(want.AcpiTableSignature))
	}
	if have.AcpiTableRevision != want.AcpiTableRevision {
		log.Warnf("acpi table %s: revision mismatch, keeping %d over %d", name, have.AcpiTableRevision, want.AcpiTableRevision)
	}
	if have.OemTableID != want.OemTableID {
		log.Warnf("acpi table %s: oem table id mismatch, keeping %#x over %#x", name, have.OemTableID, want.OemTableID)
	}
	if have.OemRevision != want.OemRevision {
		log.Warnf("acpi table %s: oem revision mismatch, keeping %d over %d", name, have.OemRevision, want.OemRevision)
	}
	if have.MinorRevision != want.MinorRevision {
		log.Warnf("acpi table %s: minor revision mismatch, keeping %d over %d", name, have.MinorRevision, want.MinorRevision)
	}
}
