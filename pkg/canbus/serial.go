// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 MyTooliT

package canbus

import (
	"fmt"
	"sync"
	"sync/atomic"

	"go.bug.st/serial"
)

// SerialBus wraps an SLCAN adapter attached to a serial port
type SerialBus struct {
	port    serial.Port
	decoder *SLCANDecoder
	writeMu sync.Mutex
	closed  atomic.Bool

	buf       []byte
	bufOffset int
	bufLength int
}

// OpenSerial opens an SLCAN adapter and brings the CAN channel up at the
// given bitrate
func OpenSerial(portName string, baudRate int, bitrate int) (*SerialBus, error) {
	setup, err := SLCANBitrateCommand(bitrate)
	if err != nil {
		return nil, err
	}

	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", portName, err)
	}

	bus := NewSerialBus(port)

	// Close a channel left open by a previous session, then configure
	// and open it
	for _, cmd := range [][]byte{{'C', slcanCR}, setup, {'O', slcanCR}} {
		if err := bus.write(cmd); err != nil {
			port.Close()
			return nil, fmt.Errorf("failed to configure adapter on %s: %w", portName, err)
		}
	}

	return bus, nil
}

// NewSerialBus wraps an already opened port speaking SLCAN
func NewSerialBus(port serial.Port) *SerialBus {
	return &SerialBus{
		port:    port,
		decoder: NewSLCANDecoder(),
		buf:     make([]byte, 128),
	}
}

func (s *SerialBus) write(p []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.port.Write(p)
	return err
}

// Send transmits a frame through the adapter
func (s *SerialBus) Send(frame Frame) error {
	if s.closed.Load() {
		return ErrClosed
	}
	line, err := EncodeSLCAN(frame)
	if err != nil {
		return err
	}
	return s.write(line)
}

// Receive reads from the serial port until a complete frame is decoded.
// Adapter NACKs and malformed lines are returned as errors; the caller may
// keep receiving afterwards.
func (s *SerialBus) Receive() (Frame, error) {
	for {
		for s.bufOffset < s.bufLength {
			b := s.buf[s.bufOffset]
			s.bufOffset++
			frame, err := s.decoder.DecodeByte(b)
			if err != nil {
				return Frame{}, err
			}
			if frame != nil {
				return *frame, nil
			}
		}

		n, err := s.port.Read(s.buf)
		if err != nil {
			if s.closed.Load() {
				return Frame{}, ErrClosed
			}
			return Frame{}, fmt.Errorf("%w: serial read: %v", ErrClosed, err)
		}
		s.bufOffset = 0
		s.bufLength = n
	}
}

// Close takes the CAN channel down and releases the port
func (s *SerialBus) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	_ = s.write([]byte{'C', slcanCR})
	return s.port.Close()
}
