// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 MyTooliT

package mytoolit

import (
	"fmt"
	"time"
)

// MaxDataLength is the payload capacity of a single message
const MaxDataLength = 8

// Message is the logical content of one protocol frame. Messages are
// values; constructors copy the payload so a message never shares memory
// with the caller.
type Message struct {
	Sender    NodeAddress
	Receiver  NodeAddress
	Block     Block
	Command   BlockCommand
	Request   bool
	Error     bool
	Data      []byte
	Timestamp time.Time
}

// NewRequest creates a request message
func NewRequest(sender, receiver NodeAddress, block Block, command BlockCommand, data []byte) Message {
	return Message{
		Sender:   sender,
		Receiver: receiver,
		Block:    block,
		Command:  command,
		Request:  true,
		Data:     copyData(data),
	}
}

// Acknowledgment returns the response message answering m with data
func (m Message) Acknowledgment(data []byte) Message {
	return Message{
		Sender:    m.Receiver,
		Receiver:  m.Sender,
		Block:     m.Block,
		Command:   m.Command,
		Request:   false,
		Data:      copyData(data),
		Timestamp: time.Now(),
	}
}

// ErrorResponse returns an acknowledgment of m with the error flag set
func (m Message) ErrorResponse(data []byte) Message {
	response := m.Acknowledgment(data)
	response.Error = true
	return response
}

// Payload returns a copy of the message data
func (m Message) Payload() []byte {
	return copyData(m.Data)
}

// Validate checks payload length and field ranges
func (m Message) Validate() error {
	if len(m.Data) > MaxDataLength {
		return fmt.Errorf("payload too long: %d bytes (max %d)", len(m.Data), MaxDataLength)
	}
	if m.Block > 0x3F {
		return fmt.Errorf("block out of range: 0x%02X (max 0x3F)", uint8(m.Block))
	}
	if !m.Sender.Valid() {
		return fmt.Errorf("invalid sender: %s", m.Sender)
	}
	if !m.Receiver.Valid() {
		return fmt.Errorf("invalid receiver: %s", m.Receiver)
	}
	return nil
}

func copyData(data []byte) []byte {
	if data == nil {
		return nil
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out
}
