// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 MyTooliT

package mytoolit

import (
	"fmt"

	"github.com/mytoolit/icostat/pkg/canbus"
)

// Codec maps logical messages to CAN frames and back
type Codec interface {
	Encode(m Message) (canbus.Frame, error)
	Decode(f canbus.Frame) (Message, error)
}

// Identifier layout of StandardCodec (29 bit extended frame):
//
//	bits 27-12  command: block(6) | block command(8) | request(1) | error(1)
//	bit  11     reserved (0)
//	bits 10-6   sender
//	bit  5      reserved (0)
//	bits 4-0    receiver
const (
	commandShift = 12
	senderShift  = 6
	addressMask  = 0x1F

	wireSelfAddressing = 0x1F
)

// StandardCodec implements the default MyTooliT identifier layout
type StandardCodec struct{}

// Encode packs a message into an extended CAN frame
func (StandardCodec) Encode(m Message) (canbus.Frame, error) {
	if err := m.Validate(); err != nil {
		return canbus.Frame{}, err
	}
	sender, err := wireAddress(m.Sender)
	if err != nil {
		return canbus.Frame{}, err
	}
	receiver, err := wireAddress(m.Receiver)
	if err != nil {
		return canbus.Frame{}, err
	}

	command := uint32(m.Block)<<10 | uint32(m.Command)<<2
	if m.Request {
		command |= 1 << 1
	}
	if m.Error {
		command |= 1
	}

	return canbus.Frame{
		ID:       command<<commandShift | sender<<senderShift | receiver,
		Extended: true,
		Data:     copyData(m.Data),
	}, nil
}

// Decode unpacks an extended CAN frame
func (StandardCodec) Decode(f canbus.Frame) (Message, error) {
	if !f.Extended {
		return Message{}, fmt.Errorf("unexpected standard frame 0x%03X", f.ID)
	}
	if len(f.Data) > MaxDataLength {
		return Message{}, fmt.Errorf("frame data too long: %d bytes", len(f.Data))
	}

	command := f.ID >> commandShift & 0xFFFF
	return Message{
		Sender:    logicalAddress(f.ID >> senderShift & addressMask),
		Receiver:  logicalAddress(f.ID & addressMask),
		Block:     Block(command >> 10 & 0x3F),
		Command:   BlockCommand(command >> 2 & 0xFF),
		Request:   command>>1&1 == 1,
		Error:     command&1 == 1,
		Data:      copyData(f.Data),
		Timestamp: f.Timestamp,
	}, nil
}

func wireAddress(a NodeAddress) (uint32, error) {
	if a == SelfAddressing {
		return wireSelfAddressing, nil
	}
	if a > stuLast {
		return 0, fmt.Errorf("address not encodable: %s", a)
	}
	return uint32(a), nil
}

func logicalAddress(v uint32) NodeAddress {
	if v == wireSelfAddressing {
		return SelfAddressing
	}
	return NodeAddress(v)
}
