// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 MyTooliT

package mytoolit

import (
	"math/rand"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/mytoolit/icostat/pkg/canbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================
// Node Address Tests
// ============================================================

func TestNodeAddress_String(t *testing.T) {
	tests := []struct {
		address NodeAddress
		want    string
	}{
		{Broadcast, "Broadcast"},
		{STH(1), "STH 1"},
		{STH(14), "STH 14"},
		{SPU(), "SPU 1"},
		{STU(1), "STU 1"},
		{SelfAddressing, "Self Addressing"},
		{NodeAddress(0x40), "Node 0x40"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.address.String())
		})
	}
}

func TestParseNodeAddress(t *testing.T) {
	tests := []struct {
		input   string
		want    NodeAddress
		wantErr bool
	}{
		{"STU 1", STU(1), false},
		{"sth 2", STH(2), false},
		{"SMH 1", STH(1), false},
		{" SPU 1 ", SPU(), false},
		{"broadcast", Broadcast, false},
		{"SPU 2", 0, true},
		{"STH 15", 0, true},
		{"STU x", 0, true},
		{"XYZ 1", 0, true},
		{"STU", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseNodeAddress(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// ============================================================
// Codec Tests
// ============================================================

func TestStandardCodec_KnownIdentifier(t *testing.T) {
	m := NewRequest(SPU(), STU(1), BlockSystem, CommandBluetooth, []byte{1, 0})

	frame, err := StandardCodec{}.Encode(m)
	require.NoError(t, err)

	// command = 0x00<<10 | 0x0D<<2 | request<<1 = 0x36
	want := uint32(0x36)<<12 | uint32(SPU())<<6 | uint32(STU(1))
	assert.Equal(t, want, frame.ID)
	assert.True(t, frame.Extended)
	assert.Equal(t, []byte{1, 0}, frame.Data)
}

func TestStandardCodec_SelfAddressing(t *testing.T) {
	m := NewRequest(SPU(), SelfAddressing, BlockEEPROM, CommandEEPROMRead, nil)
	frame, err := StandardCodec{}.Encode(m)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x1F), frame.ID&0x1F)

	decoded, err := StandardCodec{}.Decode(frame)
	require.NoError(t, err)
	assert.Equal(t, SelfAddressing, decoded.Receiver)
}

func TestStandardCodec_Errors(t *testing.T) {
	codec := StandardCodec{}

	_, err := codec.Encode(NewRequest(SPU(), STU(1), BlockSystem, CommandReset, make([]byte, 9)))
	assert.Error(t, err, "payload too long")

	_, err = codec.Encode(NewRequest(SPU(), NodeAddress(0x30), BlockSystem, CommandReset, nil))
	assert.Error(t, err, "receiver not encodable")

	_, err = codec.Encode(NewRequest(SPU(), STU(1), Block(0x40), CommandReset, nil))
	assert.Error(t, err, "block out of range")

	_, err = codec.Decode(canbus.Frame{ID: 0x123})
	assert.Error(t, err, "standard frame")
}

func TestStandardCodec_RoundTripFuzz(t *testing.T) {
	seed := time.Now().UnixNano()
	if envSeed := os.Getenv("FUZZ_SEED"); envSeed != "" {
		if s, err := strconv.ParseInt(envSeed, 10, 64); err == nil {
			seed = s
		}
	}
	t.Logf("Seed: %d (reproduce with FUZZ_SEED=%d)", seed, seed)
	rng := rand.New(rand.NewSource(seed))

	addresses := []NodeAddress{Broadcast, STH(1), STH(3), SPU(), STU(1), STU(2), SelfAddressing}
	codec := StandardCodec{}

	for i := 0; i < 1000; i++ {
		m := Message{
			Sender:   addresses[rng.Intn(len(addresses))],
			Receiver: addresses[rng.Intn(len(addresses))],
			Block:    Block(rng.Intn(0x40)),
			Command:  BlockCommand(rng.Intn(0x100)),
			Request:  rng.Intn(2) == 1,
			Error:    rng.Intn(2) == 1,
			Data:     make([]byte, rng.Intn(MaxDataLength+1)),
		}
		rng.Read(m.Data)

		frame, err := codec.Encode(m)
		require.NoError(t, err)
		require.NoError(t, frame.Validate())

		decoded, err := codec.Decode(frame)
		require.NoError(t, err)
		assert.Equal(t, m.Sender, decoded.Sender)
		assert.Equal(t, m.Receiver, decoded.Receiver)
		assert.Equal(t, m.Block, decoded.Block)
		assert.Equal(t, m.Command, decoded.Command)
		assert.Equal(t, m.Request, decoded.Request)
		assert.Equal(t, m.Error, decoded.Error)
		assert.Equal(t, m.Data, decoded.Data)
	}
}

// ============================================================
// Message Tests
// ============================================================

func TestMessage_Acknowledgment(t *testing.T) {
	request := NewRequest(SPU(), STH(1), BlockEEPROM, CommandEEPROMRead, []byte{0, 1, 4})
	ack := request.Acknowledgment([]byte{0, 1, 4, 0, 'a', 'b', 'c', 'd'})

	assert.Equal(t, STH(1), ack.Sender)
	assert.Equal(t, SPU(), ack.Receiver)
	assert.False(t, ack.Request)
	assert.False(t, ack.Error)

	errorResponse := request.ErrorResponse(nil)
	assert.True(t, errorResponse.Error)
}

func TestNewRequest_CopiesPayload(t *testing.T) {
	data := []byte{1, 2, 3}
	m := NewRequest(SPU(), STU(1), BlockSystem, CommandReset, data)
	data[0] = 9
	assert.Equal(t, byte(1), m.Data[0])

	payload := m.Payload()
	payload[1] = 9
	assert.Equal(t, byte(2), m.Data[1])
}

// ============================================================
// Formatter Tests
// ============================================================

func TestFormatMessage(t *testing.T) {
	m := NewRequest(SPU(), STU(1), BlockSystem, CommandBluetooth, []byte{2, 0, 0, 0, 0, 0, 0, 0})
	out := FormatMessage(m)
	assert.True(t, strings.HasPrefix(out, "SPU 1 -> STU 1 System:Bluetooth (REQ)"), out)
	assert.Contains(t, out, "subcommand=2 device=0")

	ack := NewRequest(SPU(), STH(1), BlockEEPROM, CommandEEPROMRead, []byte{0, 1, 2, 0}).ErrorResponse([]byte{0, 1, 2, 0, 0xAA, 0xBB})
	out = FormatMessage(ack)
	assert.Contains(t, out, "EEPROM:Read (ACK ERROR)")
	assert.Contains(t, out, "page=0 offset=1 length=2 data=[AA BB]")

	unknown := Message{Sender: SPU(), Receiver: STU(1), Block: Block(0x11), Command: 0x42, Data: []byte{0xAB}}
	assert.Contains(t, FormatMessage(unknown), "Block 0x11:Command 0x42 (ACK) [AB]")
}
