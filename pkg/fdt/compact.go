// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fdt

import (
	"sort"
	"strconv"
	"strings"
)

// Topology node prefixes under cpu-map that must be numbered 0..N-1.
var topologyPrefixes = []string{"socket", "cluster", "core", "thread"}

func splitTopologyName(name string) (string, int, bool) {
	for _, p := range topologyPrefixes {
		if !strings.HasPrefix(name, p) {
			continue
		}
		idx, err := strconv.Atoi(name[len(p):])
		if err != nil {
			return "", 0, false
		}
		return p, idx, true
	}
	return "", 0, false
}

// Compact restores contiguous socketN/clusterN/coreN/threadN numbering
// under every cpu-map node. The relative order of siblings is kept.
func (t *Tree) Compact() {
	for _, m := range t.FindAll(func(n *Node) bool { return n.Name == "cpu-map" }) {
		renumber(m)
	}
}

func renumber(n *Node) {
	groups := map[string][]*Node{}
	index := map[*Node]int{}
	for _, c := range n.Children {
		prefix, idx, ok := splitTopologyName(c.Name)
		if !ok {
			continue
		}
		groups[prefix] = append(groups[prefix], c)
		index[c] = idx
	}
	for prefix, nodes := range groups {
		sort.SliceStable(nodes, func(i, j int) bool { return index[nodes[i]] < index[nodes[j]] })
		for i, c := range nodes {
			c.Name = prefix + strconv.Itoa(i)
		}
	}
	for _, c := range n.Children {
		renumber(c)
	}
}
