// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 MyTooliT

// Package canbus provides CAN frame transports for the icostat client.
//
// A Bus moves raw CAN frames. Three implementations are provided:
//   - SerialBus: a Lawicel/SLCAN adapter attached over a USB serial port
//   - WebSocketBus: a remote CAN bridge speaking CBOR frame envelopes
//   - Pipe: an in-memory, connected pair of buses
package canbus

import (
	"errors"
	"fmt"
	"time"
)

// Frame limits
const (
	MaxDataLength = 8
	MaxStandardID = 0x7FF
	MaxExtendedID = 0x1FFFFFFF
)

// ErrClosed indicates the bus has been closed. Receive returns an error
// wrapping ErrClosed once no further frames can arrive.
var ErrClosed = errors.New("canbus: closed")

// Frame is a single classic CAN data frame
type Frame struct {
	ID        uint32
	Extended  bool
	Data      []byte
	Timestamp time.Time
}

// Validate checks the identifier range and data length
func (f Frame) Validate() error {
	if len(f.Data) > MaxDataLength {
		return fmt.Errorf("frame data too long: %d bytes (max %d)", len(f.Data), MaxDataLength)
	}
	if f.Extended && f.ID > MaxExtendedID {
		return fmt.Errorf("extended identifier out of range: 0x%X", f.ID)
	}
	if !f.Extended && f.ID > MaxStandardID {
		return fmt.Errorf("standard identifier out of range: 0x%X", f.ID)
	}
	return nil
}

// String returns the frame in candump-like notation
func (f Frame) String() string {
	id := fmt.Sprintf("%03X", f.ID)
	if f.Extended {
		id = fmt.Sprintf("%08X", f.ID)
	}
	return fmt.Sprintf("%s#% X", id, f.Data)
}

// clone returns a copy of the frame that does not share its data slice
func (f Frame) clone() Frame {
	data := make([]byte, len(f.Data))
	copy(data, f.Data)
	f.Data = data
	return f
}

// Bus is a CAN bus connection that can send and receive frames.
// Send may be called from multiple goroutines. Receive is expected to be
// driven by a single reader.
type Bus interface {
	// Send transmits a frame
	Send(frame Frame) error

	// Receive blocks until the next frame arrives or the bus is closed
	Receive() (Frame, error)

	// Close releases the underlying device and unblocks Receive
	Close() error
}
