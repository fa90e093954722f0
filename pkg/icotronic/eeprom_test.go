// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 MyTooliT

package icotronic

import (
	"context"
	"math/rand"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/mytoolit/icostat/pkg/mytoolit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFuzzRng(t *testing.T) *rand.Rand {
	seed := time.Now().UnixNano()
	if envSeed := os.Getenv("FUZZ_SEED"); envSeed != "" {
		if s, err := strconv.ParseInt(envSeed, 10, 64); err == nil {
			seed = s
		}
	}
	t.Logf("Seed: %d (reproduce with FUZZ_SEED=%d)", seed, seed)
	return rand.New(rand.NewSource(seed))
}

// ============================================================
// EEPROM Chunking Tests
// ============================================================

func TestEEPROM_ReadChunks(t *testing.T) {
	conn, sim := newTestConnection(t)

	data, err := conn.Node(mytoolit.STH(1)).EEPROM().Read(context.Background(), 0, 0, 10)
	require.NoError(t, err)
	assert.Len(t, data, 10)

	requests := sim.sent(mytoolit.BlockEEPROM, mytoolit.CommandEEPROMRead)
	require.Len(t, requests, 3)

	wantOffsets := []byte{0, 4, 8}
	wantLengths := []byte{4, 4, 2}
	for i, m := range requests {
		assert.Equal(t, byte(0), m.Data[0], "page")
		assert.Equal(t, wantOffsets[i], m.Data[1], "offset of chunk %d", i)
		assert.Equal(t, wantLengths[i], m.Data[2], "length of chunk %d", i)
	}
}

func TestEEPROM_RoundTrip(t *testing.T) {
	conn, _ := newTestConnection(t)
	eeprom := conn.Node(mytoolit.STH(1)).EEPROM()
	ctx := context.Background()
	rng := newFuzzRng(t)

	for length := 1; length <= EEPROMPageSize; length++ {
		offset := rng.Intn(EEPROMPageSize - length + 1)
		page := rng.Intn(256)
		data := make([]byte, length)
		rng.Read(data)

		require.NoError(t, eeprom.Write(ctx, page, offset, data), "length %d", length)
		got, err := eeprom.Read(ctx, page, offset, length)
		require.NoError(t, err, "length %d", length)
		require.Equal(t, data, got, "page %d offset %d length %d", page, offset, length)
	}
}

func TestEEPROM_Bounds(t *testing.T) {
	conn, sim := newTestConnection(t)
	eeprom := conn.Node(mytoolit.STH(1)).EEPROM()
	ctx := context.Background()

	_, err := eeprom.Read(ctx, 0, 250, 10)
	assert.Error(t, err)
	_, err = eeprom.Read(ctx, 256, 0, 1)
	assert.Error(t, err)
	assert.Error(t, eeprom.Write(ctx, 0, -1, []byte{1}))
	assert.Equal(t, 0, sim.requestCount())

	data, err := eeprom.Read(ctx, 0, 256, 0)
	require.NoError(t, err)
	assert.Empty(t, data)
}

// ============================================================
// Typed Accessor Tests
// ============================================================

func TestEEPROM_Int(t *testing.T) {
	conn, _ := newTestConnection(t)
	eeprom := conn.Node(mytoolit.STH(1)).EEPROM()
	ctx := context.Background()

	tests := []struct {
		length int
		value  int64
		signed bool
	}{
		{1, 255, false},
		{1, -128, true},
		{2, 0xBEEF, false},
		{3, -1, true},
		{4, 0xFFFFFFFF, false},
		{4, -2147483648, true},
		{8, -42, true},
	}

	for _, tt := range tests {
		require.NoError(t, eeprom.WriteInt(ctx, 5, 16, tt.length, tt.value, tt.signed))
		got, err := eeprom.ReadInt(ctx, 5, 16, tt.length, tt.signed)
		require.NoError(t, err)
		assert.Equal(t, tt.value, got, "length %d signed %v", tt.length, tt.signed)
	}

	assert.Error(t, eeprom.WriteInt(ctx, 5, 16, 1, 256, false))
	assert.Error(t, eeprom.WriteInt(ctx, 5, 16, 1, 128, true))
	assert.Error(t, eeprom.WriteInt(ctx, 5, 16, 2, -1, false))
	assert.Error(t, eeprom.WriteInt(ctx, 5, 16, 9, 0, false))
	_, err := eeprom.ReadInt(ctx, 5, 16, 0, false)
	assert.Error(t, err)
}

func TestEEPROM_FloatAndText(t *testing.T) {
	conn, _ := newTestConnection(t)
	eeprom := conn.Node(mytoolit.STH(1)).EEPROM()
	ctx := context.Background()

	require.NoError(t, eeprom.WriteFloat(ctx, 8, 0, 1.25))
	f, err := eeprom.ReadFloat(ctx, 8, 0)
	require.NoError(t, err)
	assert.Equal(t, float32(1.25), f)

	require.NoError(t, eeprom.WriteText(ctx, 8, 4, 12, "Acc100"))
	text, err := eeprom.ReadText(ctx, 8, 4, 12)
	require.NoError(t, err)
	assert.Equal(t, "Acc100", text)

	assert.Error(t, eeprom.WriteText(ctx, 8, 4, 3, "toolong"))
	assert.Error(t, eeprom.WriteText(ctx, 8, 4, 8, "Grüße"))
}

// ============================================================
// Sensor Device Field Tests
// ============================================================

func TestSensorDevice_Fields(t *testing.T) {
	conn, _ := newTestConnection(t)
	ctx := context.Background()

	device, err := conn.STU().Connect(ctx, 0)
	require.NoError(t, err)
	defer device.Disconnect(ctx)

	require.NoError(t, device.SetName(ctx, "Hello"))
	name, err := device.Name(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Hello", name)
	assert.Error(t, device.SetName(ctx, "TooLongName"))

	eeprom := device.EEPROM()
	require.NoError(t, eeprom.WriteText(ctx, serialNumberPage, serialNumberOffset, serialNumberLength, "SN-1234"))
	serial, err := device.SerialNumber(ctx)
	require.NoError(t, err)
	assert.Equal(t, "SN-1234", serial)

	require.NoError(t, eeprom.WriteInt(ctx, operatingTimePage, operatingTimeOffset, operatingTimeLength, 3600, false))
	operating, err := device.OperatingTime(ctx)
	require.NoError(t, err)
	assert.Equal(t, time.Hour, operating)

	require.NoError(t, eeprom.WriteInt(ctx, powerOnCyclesPage, powerOnCyclesOffset, powerOnCyclesLength, 17, false))
	cycles, err := device.PowerOnCycles(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 17, cycles)
}
