// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cm

import "github.com/linuxboot/tegracm/pkg/status"

// FindCacheMetadataByPhandle returns the cache metadata recorded for a
// device tree phandle. CPU nodes carry both an instruction and a data
// cache; icache selects which one.
func FindCacheMetadataByPhandle(f Finder, phandle uint32, icache bool) (CacheNode, error) {
	nodes, err := Objects[CacheNode](f, OemObjCacheNode, NullToken)
	if err != nil {
		return CacheNode{}, err
	}
	for _, n := range nodes {
		if n.Phandle != phandle {
			continue
		}
		if n.IsCPU && (n.Type == CacheTypeInstruction) != icache {
			continue
		}
		return n, nil
	}
	return CacheNode{}, status.Errorf(status.ErrNotFound, "no cache for phandle %#x", phandle)
}

// FindCacheIdByPhandle resolves a phandle to the CacheID stored in the
// cache info array.
func FindCacheIdByPhandle(f Finder, phandle uint32, icache bool) (uint32, error) {
	meta, err := FindCacheMetadataByPhandle(f, phandle, icache)
	if err != nil {
		return 0, err
	}
	info, err := Objects[CacheInfo](f, ArchCommonObjCacheInfo, meta.Token)
	if err != nil {
		return 0, err
	}
	for _, c := range info {
		if c.Token == meta.Token {
			return c.CacheID, nil
		}
	}
	return 0, status.Errorf(status.ErrNotFound, "cache info for token %s", meta.Token)
}
