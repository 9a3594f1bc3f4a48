// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package floorsweep

import (
	"github.com/linuxboot/tegracm/pkg/fdt"
	"github.com/linuxboot/tegracm/pkg/log"
)

// DisableValue reads the disable bitmap of ip on socket.
func (ip IP) DisableValue(info *Info, regs RegisterReader, socket int) (uint32, error) {
	if ip.Register == 0 {
		return 0, nil
	}
	v, err := regs.Read32(info.socketBase(ip.Register, socket))
	if err != nil {
		return 0, err
	}
	return (v & ip.Mask) >> ip.Shift, nil
}

// nodeSocket finds the socket of n from its unit address, or from the
// closest ancestor that has one. A socket@N ancestor names the socket
// directly.
func nodeSocket(info *Info, n *fdt.Node) int {
	for c := n; c != nil; c = c.Parent() {
		addr, ok := c.UnitAddress()
		if !ok {
			continue
		}
		if c.BaseName() == "socket" {
			return int(addr)
		}
		return info.SocketOf(addr)
	}
	return 0
}

// SweepIPs deletes IP instances that live on a disabled socket or whose
// instance bit is set in the disable value of their socket.
func SweepIPs(t *fdt.Tree, info *Info, regs RegisterReader) error {
	for _, ip := range info.IpTable {
		disable := make([]uint32, info.MaxSockets)
		for s := range disable {
			if !info.SocketEnabled(s) {
				continue
			}
			v, err := ip.DisableValue(info, regs, s)
			if err != nil {
				return err
			}
			disable[s] = v
		}
		for _, n := range t.FindCompatible(ip.Compatibles...) {
			if !n.Attached(t.Root) {
				continue
			}
			s := nodeSocket(info, n)
			if !ipDisabled(info, ip, n, s, disable) {
				continue
			}
			if err := t.Delete(n); err != nil {
				return err
			}
			log.Infof("floorsweep: %s: deleted %s on socket %d", ip.Name, n.Name, s)
		}
	}
	return nil
}

func ipDisabled(info *Info, ip IP, n *fdt.Node, socket int, disable []uint32) bool {
	if !info.SocketEnabled(socket) {
		return true
	}
	if socket >= len(disable) || disable[socket] == 0 {
		return false
	}
	if ip.IDProperty == "" {
		return true
	}
	id, err := n.U32(ip.IDProperty)
	if err != nil {
		log.Warnf("floorsweep: %s: %s has no %s, kept", ip.Name, n.Path(), ip.IDProperty)
		return false
	}
	return id < 32 && disable[socket]&(1<<id) != 0
}
