// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 MyTooliT

package canbus

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// SLCAN (Lawicel) ASCII protocol bytes
const (
	slcanCR   = '\r'
	slcanBell = 0x07

	slcanMaxLine = 1 + 8 + 1 + 2*MaxDataLength + 4 // T + id + dlc + data + timestamp
)

// Decoder states (internal)
const (
	slcanStateIdle = iota
	slcanStateFrame
	slcanStateSkip
)

// ErrAdapterNack is returned when the adapter answers a command with BELL
var ErrAdapterNack = errors.New("canbus: adapter rejected command")

// slcanBitrates maps CAN bitrates to the Sx setup command digit
var slcanBitrates = map[int]byte{
	10000:   '0',
	20000:   '1',
	50000:   '2',
	100000:  '3',
	125000:  '4',
	250000:  '5',
	500000:  '6',
	800000:  '7',
	1000000: '8',
}

// SLCANBitrateCommand returns the setup command for a CAN bitrate
func SLCANBitrateCommand(bitrate int) ([]byte, error) {
	code, ok := slcanBitrates[bitrate]
	if !ok {
		return nil, fmt.Errorf("unsupported CAN bitrate: %d", bitrate)
	}
	return []byte{'S', code, slcanCR}, nil
}

// EncodeSLCAN encodes a frame as a transmit command line
func EncodeSLCAN(f Frame) ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	line := make([]byte, 0, slcanMaxLine+1)
	if f.Extended {
		line = append(line, 'T')
		line = append(line, fmt.Sprintf("%08X", f.ID)...)
	} else {
		line = append(line, 't')
		line = append(line, fmt.Sprintf("%03X", f.ID)...)
	}
	line = append(line, byte('0'+len(f.Data)))
	for _, b := range f.Data {
		line = append(line, fmt.Sprintf("%02X", b)...)
	}
	return append(line, slcanCR), nil
}

// SLCANDecoder implements the SLCAN receive line decoder state machine
type SLCANDecoder struct {
	state int
	line  []byte
}

// NewSLCANDecoder creates a new SLCAN decoder
func NewSLCANDecoder() *SLCANDecoder {
	return &SLCANDecoder{
		state: slcanStateIdle,
		line:  make([]byte, 0, slcanMaxLine),
	}
}

// Reset resets the decoder state to idle
func (d *SLCANDecoder) Reset() {
	d.state = slcanStateIdle
	d.line = d.line[:0]
}

// DecodeByte processes a single byte from the adapter.
// Returns a completed frame, or nil if the line is incomplete or carries
// no frame (command acknowledgements, status replies).
func (d *SLCANDecoder) DecodeByte(b byte) (*Frame, error) {
	if b == slcanBell {
		d.Reset()
		return nil, ErrAdapterNack
	}

	switch d.state {
	case slcanStateIdle:
		switch b {
		case 't', 'T':
			d.line = append(d.line[:0], b)
			d.state = slcanStateFrame
		case slcanCR, 'z', 'Z':
			// Transmit acknowledgements
		default:
			// Replies to other commands (version, status, ...)
			d.state = slcanStateSkip
		}
		return nil, nil

	case slcanStateSkip:
		if b == slcanCR {
			d.Reset()
		}
		return nil, nil

	case slcanStateFrame:
		if b != slcanCR {
			if len(d.line) >= slcanMaxLine {
				d.Reset()
				return nil, fmt.Errorf("line overflow: exceeds %d bytes", slcanMaxLine)
			}
			d.line = append(d.line, b)
			return nil, nil
		}
		frame, err := parseSLCANLine(d.line)
		d.Reset()
		if err != nil {
			return nil, err
		}
		return frame, nil

	default:
		d.Reset()
		return nil, fmt.Errorf("invalid state: %d", d.state)
	}
}

// parseSLCANLine parses "tiiildd..." or "Tiiiiiiiildd..." without the CR
func parseSLCANLine(line []byte) (*Frame, error) {
	idLength := 3
	extended := line[0] == 'T'
	if extended {
		idLength = 8
	}
	if len(line) < 1+idLength+1 {
		return nil, fmt.Errorf("frame line too short: %q", line)
	}

	id, err := strconv.ParseUint(string(line[1:1+idLength]), 16, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid identifier %q: %w", line[1:1+idLength], err)
	}

	dlc := int(line[1+idLength] - '0')
	if dlc < 0 || dlc > MaxDataLength {
		return nil, fmt.Errorf("invalid length code: %q", line[1+idLength])
	}

	dataStart := 2 + idLength
	dataEnd := dataStart + 2*dlc
	if len(line) < dataEnd {
		return nil, fmt.Errorf("frame line truncated: expected %d data bytes", dlc)
	}
	data := make([]byte, dlc)
	if _, err := hex.Decode(data, line[dataStart:dataEnd]); err != nil {
		return nil, fmt.Errorf("invalid frame data: %w", err)
	}

	frame := &Frame{
		ID:        uint32(id),
		Extended:  extended,
		Data:      data,
		Timestamp: time.Now(),
	}
	if err := frame.Validate(); err != nil {
		return nil, err
	}
	return frame, nil
}
