// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 MyTooliT

package icotronic

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mytoolit/icostat/pkg/canbus"
	"github.com/mytoolit/icostat/pkg/mytoolit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================
// Timeout Schedule Tests
// ============================================================

func TestAttemptTimeout(t *testing.T) {
	tests := []struct {
		attempt int
		minimum time.Duration
		want    time.Duration
	}{
		{0, 0, 500 * time.Millisecond},
		{1, 0, 600 * time.Millisecond},
		{5, 0, time.Second},
		{9, 0, 1400 * time.Millisecond},
		{15, 0, 2 * time.Second},
		{40, 0, 2 * time.Second},
		{0, time.Second, time.Second},
		{7, time.Second, 1200 * time.Millisecond},
		{20, 3 * time.Second, 3 * time.Second},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, AttemptTimeout(tt.attempt, tt.minimum),
			"attempt %d, minimum %s", tt.attempt, tt.minimum)
	}
}

func TestAttemptTimeout_Schedule(t *testing.T) {
	for k := 0; k < DefaultRetries; k++ {
		want := time.Duration(500+100*k) * time.Millisecond
		assert.Equal(t, want, AttemptTimeout(k, 0))
	}
}

// ============================================================
// Response Filter Tests
// ============================================================

func TestResponseFilter_Match(t *testing.T) {
	filter := ResponseFilter{Exact(0x3D), Any, Exact(4)}

	tests := []struct {
		name string
		data []byte
		want bool
	}{
		{"exact", []byte{0x3D, 0x00, 4}, true},
		{"wildcard", []byte{0x3D, 0xFF, 4, 9, 9}, true},
		{"mismatch", []byte{0x3D, 0x00, 3}, false},
		{"too short", []byte{0x3D, 0x00}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, filter.Match(tt.data))
		})
	}

	assert.True(t, ResponseFilter(nil).Match(nil))
	assert.Equal(t, "[3D * 04]", filter.String())
}

func TestMatchesResponse(t *testing.T) {
	request := mytoolit.NewRequest(mytoolit.SPU(), mytoolit.STU(1), mytoolit.BlockSystem,
		mytoolit.CommandBluetooth, []byte{1, 0})
	ack := request.Acknowledgment([]byte{1, 0, 0, 0, 0, 0, 0, 0})
	expect := ExpectBytes(1, 0)

	assert.True(t, matchesResponse(request, ack, expect))

	other := ack
	other.Sender = mytoolit.STH(1)
	assert.False(t, matchesResponse(request, other, expect), "wrong sender")

	other = ack
	other.Command = mytoolit.CommandReset
	assert.False(t, matchesResponse(request, other, expect), "wrong command")

	assert.False(t, matchesResponse(request, request, expect), "request is no response")

	wrongData := request.Acknowledgment([]byte{2, 0})
	assert.False(t, matchesResponse(request, wrongData, expect))

	errorResponse := request.ErrorResponse(nil)
	assert.True(t, matchesResponse(request, errorResponse, expect), "error responses match on identity")

	self := mytoolit.NewRequest(mytoolit.SPU(), mytoolit.SelfAddressing, mytoolit.BlockEEPROM,
		mytoolit.CommandEEPROMRead, nil)
	response := self.Acknowledgment(nil)
	response.Sender = mytoolit.STH(3)
	assert.True(t, matchesResponse(self, response, nil), "any sender answers self addressing")
}

// ============================================================
// Dispatcher Tests
// ============================================================

func TestDispatcher_Order(t *testing.T) {
	d := NewDispatcher()
	var calls []int

	first := d.Subscribe(func(mytoolit.Message) { calls = append(calls, 1) })
	d.Subscribe(func(mytoolit.Message) { calls = append(calls, 2) })
	d.Subscribe(func(mytoolit.Message) { calls = append(calls, 3) })
	require.Equal(t, 3, d.Len())

	d.Dispatch(mytoolit.Message{})
	assert.Equal(t, []int{1, 2, 3}, calls)

	first.Close()
	first.Close()
	assert.Equal(t, 2, d.Len())

	calls = nil
	d.Dispatch(mytoolit.Message{})
	assert.Equal(t, []int{2, 3}, calls)
}

func TestDispatcher_CloseDuringDispatch(t *testing.T) {
	d := NewDispatcher()
	count := 0

	var sub *Subscription
	sub = d.Subscribe(func(mytoolit.Message) {
		count++
		sub.Close()
	})

	d.Dispatch(mytoolit.Message{})
	d.Dispatch(mytoolit.Message{})
	assert.Equal(t, 1, count)
	assert.Equal(t, 0, d.Len())
}

// ============================================================
// Engine Tests
// ============================================================

func TestEngine_ListenerLifecycle(t *testing.T) {
	conn, sim := newTestConnection(t)
	ctx := context.Background()

	require.NoError(t, conn.STU().Reset(ctx))
	_, err := conn.Node(mytoolit.STH(1)).EEPROM().Read(ctx, 0, 0, 10)
	require.NoError(t, err)

	counts := sim.listeners()
	require.Len(t, counts, 4)
	for i, n := range counts {
		assert.Equal(t, 1, n, "listeners during request %d", i)
	}
	assert.Equal(t, 0, conn.dispatcher.Len())
}

func TestEngine_ErrorResponse(t *testing.T) {
	conn, sim := newTestConnection(t)
	sim.setFailWhen(func(m mytoolit.Message) bool { return m.Block == mytoolit.BlockEEPROM })

	_, err := conn.Node(mytoolit.STH(1)).EEPROM().Read(context.Background(), 1, 0, 4)

	var errorResponse *ErrorResponseError
	require.ErrorAs(t, err, &errorResponse)
	assert.Equal(t, mytoolit.BlockEEPROM, errorResponse.Request.Block)
	assert.Equal(t, []byte{1, 0, 4, 0}, errorResponse.Payload()[:4])
	assert.Contains(t, err.Error(), "read from EEPROM page 1")

	assert.Len(t, sim.sent(mytoolit.BlockEEPROM, mytoolit.CommandEEPROMRead), 1, "no retry after error response")
	assert.Equal(t, 0, conn.dispatcher.Len())
}

func TestEngine_NoResponse(t *testing.T) {
	a, b := canbus.Pipe()
	defer b.Close()
	bus := &droppingBus{Bus: a}
	logger, _ := newNullLogger()

	conn, err := Open(bus, WithLogger(logger), WithRetries(3))
	require.NoError(t, err)
	defer conn.Close()

	start := time.Now()
	err = conn.STU().Reset(context.Background())

	var noResponse *NoResponseError
	require.ErrorAs(t, err, &noResponse)
	assert.Equal(t, 3, noResponse.Attempts)
	assert.EqualValues(t, 3, bus.sends.Load())
	assert.Contains(t, err.Error(), "reset node STU 1")

	// Reset waits at least one second per attempt
	assert.GreaterOrEqual(t, time.Since(start), 3*time.Second)
	assert.Equal(t, 0, conn.dispatcher.Len())
}

func TestEngine_NoResponseWithSimulator(t *testing.T) {
	conn, sim := newTestConnection(t, WithRetries(2))
	sim.setDropAll(true)

	_, err := conn.STU().AvailableDevices(context.Background())

	var noResponse *NoResponseError
	require.ErrorAs(t, err, &noResponse)
	assert.Equal(t, 2, sim.requestCount())
	assert.Equal(t, []int{1, 1}, sim.listeners())
}

func TestEngine_SendFailure(t *testing.T) {
	a, b := canbus.Pipe()
	defer b.Close()
	bus := &failingBus{Bus: a}
	logger, hook := newNullLogger()

	conn, err := Open(bus, WithLogger(logger), WithRetries(4))
	require.NoError(t, err)
	defer conn.Close()

	err = conn.STU().ActivateBluetooth(context.Background())

	var noResponse *NoResponseError
	require.ErrorAs(t, err, &noResponse)
	assert.EqualValues(t, 4, bus.sends.Load())
	require.Error(t, noResponse.Err)
	assert.Contains(t, noResponse.Err.Error(), "adapter unplugged")

	warnings := 0
	for _, entry := range hook.AllEntries() {
		if entry.Level == logrus.WarnLevel {
			warnings++
		}
	}
	assert.Equal(t, 4, warnings)
}

func TestEngine_ContextCanceled(t *testing.T) {
	conn, sim := newTestConnection(t)
	sim.setDropAll(true)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := conn.STU().Reset(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, 0, conn.dispatcher.Len())
}

func TestEngine_ClosedConnection(t *testing.T) {
	conn, _ := newTestConnection(t)
	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())

	select {
	case <-conn.Done():
	case <-time.After(time.Second):
		t.Fatal("read loop still running")
	}

	err := conn.STU().Reset(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestEngine_ReceiveFailure(t *testing.T) {
	a, b := canbus.Pipe()
	defer b.Close()
	bus := &severableBus{Bus: a}
	bus.severed.Store(true)
	logger, _ := newNullLogger()

	conn, err := Open(bus, WithLogger(logger))
	require.NoError(t, err)
	defer conn.Close()

	select {
	case <-conn.Done():
	case <-time.After(time.Second):
		t.Fatal("read loop still running")
	}

	// Reset waits at least one second per attempt
	start := time.Now()
	err = conn.STU().Reset(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, 0, conn.dispatcher.Len())
}

func TestEngine_ConcurrentRequests(t *testing.T) {
	conn, _ := newTestConnection(t)
	ctx := context.Background()

	errs := make(chan error, 2)
	go func() {
		_, err := conn.Node(mytoolit.STH(1)).EEPROM().Read(ctx, 2, 0, 64)
		errs <- err
	}()
	go func() {
		_, err := conn.STU().GetState(ctx)
		errs <- err
	}()

	for i := 0; i < 2; i++ {
		require.NoError(t, <-errs)
	}
	assert.Equal(t, 0, conn.dispatcher.Len())
}

func TestOpen_InvalidOptions(t *testing.T) {
	a, b := canbus.Pipe()
	defer a.Close()
	defer b.Close()

	_, err := Open(a, WithRetries(0))
	assert.Error(t, err)

	_, err = Open(a, WithDiscovery(DiscoveryConfig{}))
	assert.Error(t, err)
}

// ============================================================
// Metrics Tests
// ============================================================

func TestMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	conn, sim := newTestConnection(t, WithMetrics(registry))
	ctx := context.Background()

	require.NoError(t, conn.STU().Reset(ctx))
	_, err := conn.STU().GetState(ctx)
	require.NoError(t, err)

	sim.setFailWhen(func(m mytoolit.Message) bool { return m.Command == mytoolit.CommandReset })
	assert.Error(t, conn.STU().Reset(ctx))

	assert.Equal(t, 2.0, testutil.ToFloat64(conn.metrics.requests.WithLabelValues(outcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(conn.metrics.requests.WithLabelValues(outcomeErrorResponse)))
	assert.Equal(t, 3.0, testutil.ToFloat64(conn.metrics.attempts))

	// A second connection cannot register the same collectors
	a, b := canbus.Pipe()
	defer b.Close()
	_, err = Open(a, WithMetrics(registry))
	assert.Error(t, err)
	a.Close()

	var nilMetrics *metrics
	assert.NotPanics(t, func() {
		nilMetrics.request(outcomeSuccess)
		nilMetrics.attempt()
		nilMetrics.batch(1)
		nilMetrics.overflow()
	})
}

func TestErrors_Unwrap(t *testing.T) {
	cause := errors.New("boom")
	noResponse := &NoResponseError{Description: "reset", Attempts: 1, Err: cause}
	assert.ErrorIs(t, noResponse, cause)

	unsupportedErr := &UnsupportedFeatureError{Feature: "sensor configuration", Err: cause}
	assert.ErrorIs(t, unsupportedErr, cause)

	timeout := &DiscoveryTimeoutError{Identifier: "Tanja", Timeout: time.Second}
	assert.ErrorIs(t, timeout, context.DeadlineExceeded)
	assert.Contains(t, timeout.Error(), "none found")
}
