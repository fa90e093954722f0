// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 MyTooliT

package icotronic

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/mytoolit/icostat/pkg/mytoolit"
)

// EEPROM geometry
const (
	EEPROMPageSize  = 256
	eepromChunkSize = 4
	eepromHeader    = 4 // page, offset, length, reserved
)

// EEPROM accesses the configuration store of a node. Reads and writes are
// split into chunks of at most four bytes, issued strictly in order. There
// is no locking: callers must not interleave unrelated writes to one page.
type EEPROM struct {
	node *Node
}

// EEPROM returns the EEPROM accessor of the node
func (n *Node) EEPROM() *EEPROM {
	return &EEPROM{node: n}
}

func checkLocation(page, offset, length int) error {
	if page < 0 || page > 0xFF {
		return fmt.Errorf("EEPROM page out of range: %d", page)
	}
	if offset < 0 || length < 0 || offset+length > EEPROMPageSize {
		return fmt.Errorf("EEPROM range out of page: offset %d, length %d (page size %d)",
			offset, length, EEPROMPageSize)
	}
	return nil
}

// chunk transfers up to four bytes. For reads data only carries the length.
func (e *EEPROM) chunk(ctx context.Context, command mytoolit.BlockCommand, page, offset int, data []byte) ([]byte, error) {
	length := len(data)
	payload := make([]byte, eepromHeader+eepromChunkSize)
	payload[0] = byte(page)
	payload[1] = byte(offset)
	payload[2] = byte(length)
	if command == mytoolit.CommandEEPROMWrite {
		copy(payload[eepromHeader:], data)
	}

	action := "read from"
	if command == mytoolit.CommandEEPROMWrite {
		action = "write to"
	}

	response, err := e.node.request(ctx, mytoolit.BlockEEPROM, command, payload,
		fmt.Sprintf("%s EEPROM page %d offset %d (%d bytes)", action, page, offset, length),
		ExpectBytes(byte(page), byte(offset), byte(length)))
	if err != nil {
		return nil, err
	}
	if len(response.Data) < eepromHeader+length {
		return nil, fmt.Errorf("short EEPROM response [% X]", response.Data)
	}
	return response.Data[eepromHeader : eepromHeader+length], nil
}

// Read returns length bytes starting at offset of page
func (e *EEPROM) Read(ctx context.Context, page, offset, length int) ([]byte, error) {
	if err := checkLocation(page, offset, length); err != nil {
		return nil, err
	}

	result := make([]byte, 0, length)
	for length > 0 {
		size := min(eepromChunkSize, length)
		data, err := e.chunk(ctx, mytoolit.CommandEEPROMRead, page, offset, make([]byte, size))
		if err != nil {
			return nil, err
		}
		result = append(result, data...)
		offset += size
		length -= size
	}
	return result, nil
}

// Write stores data starting at offset of page
func (e *EEPROM) Write(ctx context.Context, page, offset int, data []byte) error {
	if err := checkLocation(page, offset, len(data)); err != nil {
		return err
	}

	for len(data) > 0 {
		size := min(eepromChunkSize, len(data))
		if _, err := e.chunk(ctx, mytoolit.CommandEEPROMWrite, page, offset, data[:size]); err != nil {
			return err
		}
		offset += size
		data = data[size:]
	}
	return nil
}

// ReadInt reads a little endian integer of length 1-8 bytes
func (e *EEPROM) ReadInt(ctx context.Context, page, offset, length int, signed bool) (int64, error) {
	if length < 1 || length > 8 {
		return 0, fmt.Errorf("invalid integer length: %d", length)
	}
	data, err := e.Read(ctx, page, offset, length)
	if err != nil {
		return 0, err
	}

	var buf [8]byte
	copy(buf[:], data)
	if signed && data[length-1]&0x80 != 0 {
		for i := length; i < 8; i++ {
			buf[i] = 0xFF
		}
	}
	return int64(binary.LittleEndian.Uint64(buf[:])), nil
}

// WriteInt writes value as a little endian integer of length 1-8 bytes
func (e *EEPROM) WriteInt(ctx context.Context, page, offset, length int, value int64, signed bool) error {
	if length < 1 || length > 8 {
		return fmt.Errorf("invalid integer length: %d", length)
	}
	if length < 8 {
		bits := uint(length * 8)
		lo, hi := int64(0), int64(1)<<bits-1
		if signed {
			lo, hi = -(int64(1) << (bits - 1)), int64(1)<<(bits-1)-1
		}
		if value < lo || value > hi {
			return fmt.Errorf("value %d does not fit in %d bytes", value, length)
		}
	} else if !signed && value < 0 {
		return fmt.Errorf("negative value %d for unsigned integer", value)
	}

	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(value))
	return e.Write(ctx, page, offset, buf[:length])
}

// ReadFloat reads a little endian IEEE 754 single precision value
func (e *EEPROM) ReadFloat(ctx context.Context, page, offset int) (float32, error) {
	data, err := e.Read(ctx, page, offset, 4)
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(data)), nil
}

// WriteFloat writes a little endian IEEE 754 single precision value
func (e *EEPROM) WriteFloat(ctx context.Context, page, offset int, value float32) error {
	data := binary.LittleEndian.AppendUint32(nil, math.Float32bits(value))
	return e.Write(ctx, page, offset, data)
}

// ReadText reads an ASCII string, stopping at the first NUL
func (e *EEPROM) ReadText(ctx context.Context, page, offset, length int) (string, error) {
	data, err := e.Read(ctx, page, offset, length)
	if err != nil {
		return "", err
	}
	if i := bytes.IndexByte(data, 0); i >= 0 {
		data = data[:i]
	}
	return string(data), nil
}

// WriteText writes an ASCII string padded with NUL to length bytes
func (e *EEPROM) WriteText(ctx context.Context, page, offset, length int, text string) error {
	if len(text) > length {
		return fmt.Errorf("text %q longer than %d bytes", text, length)
	}
	for i := 0; i < len(text); i++ {
		if text[i] > 0x7F {
			return fmt.Errorf("text %q is not ASCII", text)
		}
	}

	data := make([]byte, length)
	copy(data, text)
	return e.Write(ctx, page, offset, data)
}
