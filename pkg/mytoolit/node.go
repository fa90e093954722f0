// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 MyTooliT

// Package mytoolit describes the MyTooliT CAN protocol used by ICOtronic
// nodes: node addresses, command blocks, logical messages and the codec that
// maps messages to CAN frames.
package mytoolit

import (
	"fmt"
	"strconv"
	"strings"
)

// NodeAddress identifies a logical protocol endpoint
type NodeAddress uint8

// Address ranges
const (
	Broadcast NodeAddress = 0

	sthFirst NodeAddress = 1
	sthLast  NodeAddress = 14
	spuFirst NodeAddress = 15
	stuFirst NodeAddress = 16
	stuLast  NodeAddress = 29

	// SelfAddressing asks the answering device to describe itself
	SelfAddressing NodeAddress = 0xFF
)

// STH returns the address of sensor device number n (1-14)
func STH(n int) NodeAddress {
	return sthFirst + NodeAddress(n-1)
}

// STU returns the address of transceiver unit number n (1-14)
func STU(n int) NodeAddress {
	return stuFirst + NodeAddress(n-1)
}

// SPU returns the address of the controlling processing unit. Only SPU 1
// exists on the network.
func SPU() NodeAddress {
	return spuFirst
}

// Valid reports whether the address names a known endpoint
func (a NodeAddress) Valid() bool {
	return a <= stuLast || a == SelfAddressing
}

// IsSensor reports whether the address names a sensor device (STH/SMH)
func (a NodeAddress) IsSensor() bool {
	return a >= sthFirst && a <= sthLast
}

// String returns the node name, e.g. "STH 1"
func (a NodeAddress) String() string {
	switch {
	case a == Broadcast:
		return "Broadcast"
	case a == SelfAddressing:
		return "Self Addressing"
	case a >= sthFirst && a <= sthLast:
		return fmt.Sprintf("STH %d", a-sthFirst+1)
	case a == spuFirst:
		return "SPU 1"
	case a >= stuFirst && a <= stuLast:
		return fmt.Sprintf("STU %d", a-stuFirst+1)
	default:
		return fmt.Sprintf("Node 0x%02X", uint8(a))
	}
}

// ParseNodeAddress parses names such as "STU 1", "sth 2" or "SPU 1"
func ParseNodeAddress(s string) (NodeAddress, error) {
	fields := strings.Fields(strings.ToUpper(strings.TrimSpace(s)))
	if len(fields) == 1 && fields[0] == "BROADCAST" {
		return Broadcast, nil
	}
	if len(fields) != 2 {
		return 0, fmt.Errorf("invalid node name: %q", s)
	}

	n, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, fmt.Errorf("invalid node number in %q: %w", s, err)
	}

	switch fields[0] {
	case "STH", "SMH":
		if n < 1 || n > int(sthLast) {
			return 0, fmt.Errorf("sensor node number out of range: %d", n)
		}
		return STH(n), nil
	case "STU":
		if n < 1 || n > int(stuLast-stuFirst+1) {
			return 0, fmt.Errorf("STU number out of range: %d", n)
		}
		return STU(n), nil
	case "SPU":
		if n != 1 {
			return 0, fmt.Errorf("SPU number out of range: %d", n)
		}
		return SPU(), nil
	}
	return 0, fmt.Errorf("unknown node type in %q", s)
}
