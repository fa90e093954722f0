// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 MyTooliT

package icotronic

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mytoolit/icostat/pkg/canbus"
	"github.com/mytoolit/icostat/pkg/mytoolit"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

// ============================================================
// Simulated ICOtronic network (STU 1 and one connectable STH)
// ============================================================

type simDevice struct {
	name string
	mac  net.HardwareAddr
	rssi int8
}

type simulator struct {
	bus        canbus.Bus
	codec      mytoolit.StandardCodec
	dispatcher *Dispatcher

	mu             sync.Mutex
	requests       []mytoolit.Message
	listenerCounts []int
	devices        []simDevice
	bluetooth      bool
	connectTarget  int
	connectPolls   int
	connectAfter   int // connection checks answered "not connected"
	connectedTo    int // -1 when not connected
	deactivations  int
	state          byte
	eeprom         map[byte]*[EEPROMPageSize]byte
	adc            []byte
	sensorConfig   []byte // nil: device rejects sensor configuration
	energy         map[byte][]byte
	dropAll        bool
	failWhen       func(m mytoolit.Message) bool
	streamInterval time.Duration
	streamSkip     int // skip every n-th counter value, 0 disables
	streamStop     chan struct{}
	streamWG       sync.WaitGroup

	done chan struct{}
}

func newSimulator(bus canbus.Bus) *simulator {
	return &simulator{
		bus:            bus,
		connectTarget:  -1,
		connectedTo:    -1,
		state:          byte(LocationApplication)<<4 | byte(NetworkOperating),
		eeprom:         make(map[byte]*[EEPROMPageSize]byte),
		adc:            DefaultADCConfiguration().encode(true),
		sensorConfig:   []byte{0, 1, 2, 3},
		energy:         make(map[byte][]byte),
		streamInterval: time.Millisecond,
		done:           make(chan struct{}),
		devices: []simDevice{
			{name: "Tanja", mac: net.HardwareAddr{0x08, 0x6b, 0xd7, 0x01, 0xde, 0x81}, rssi: -55},
			{name: "Cali", mac: net.HardwareAddr{0x08, 0x6b, 0xd7, 0x01, 0xde, 0x82}, rssi: -70},
		},
	}
}

// newTestConnection returns a connection wired to a running simulator
func newTestConnection(t *testing.T, opts ...Option) (*Connection, *simulator) {
	t.Helper()
	return newWrappedTestConnection(t, nil, opts...)
}

// newWrappedTestConnection is newTestConnection with the connection side of
// the bus wrapped by wrap
func newWrappedTestConnection(t *testing.T, wrap func(canbus.Bus) canbus.Bus, opts ...Option) (*Connection, *simulator) {
	t.Helper()

	a, b := canbus.Pipe()
	sim := newSimulator(b)
	var bus canbus.Bus = a
	if wrap != nil {
		bus = wrap(a)
	}
	logger, _ := test.NewNullLogger()
	conn, err := Open(bus, append([]Option{WithLogger(logger)}, opts...)...)
	require.NoError(t, err)
	sim.dispatcher = conn.dispatcher

	go sim.run()
	t.Cleanup(func() {
		conn.Close()
		sim.stopStreaming()
		<-sim.done
	})
	return conn, sim
}

func (s *simulator) run() {
	defer close(s.done)
	for {
		frame, err := s.bus.Receive()
		if err != nil {
			return
		}
		m, err := s.codec.Decode(frame)
		if err != nil || !m.Request {
			continue
		}

		s.mu.Lock()
		s.requests = append(s.requests, m)
		if s.dispatcher != nil {
			s.listenerCounts = append(s.listenerCounts, s.dispatcher.Len())
		}
		drop := s.dropAll
		fail := s.failWhen != nil && s.failWhen(m)
		s.mu.Unlock()

		if drop {
			continue
		}
		if fail {
			s.reply(m.ErrorResponse(m.Data))
			continue
		}
		s.handle(m)
	}
}

func (s *simulator) reply(m mytoolit.Message) {
	frame, err := s.codec.Encode(m)
	if err != nil {
		panic(err)
	}
	s.bus.Send(frame)
}

func (s *simulator) handle(m mytoolit.Message) {
	switch {
	case m.Block == mytoolit.BlockSystem && m.Command == mytoolit.CommandReset:
		s.reply(m.Acknowledgment(nil))

	case m.Block == mytoolit.BlockSystem && m.Command == mytoolit.CommandGetSetState:
		s.mu.Lock()
		if len(m.Data) > 0 && m.Data[0]&0x80 != 0 {
			s.state = m.Data[0] &^ 0x80
		}
		state := s.state
		s.mu.Unlock()
		s.reply(m.Acknowledgment([]byte{state}))

	case m.Block == mytoolit.BlockSystem && m.Command == mytoolit.CommandBluetooth:
		s.handleBluetooth(m)

	case m.Block == mytoolit.BlockEEPROM:
		s.handleEEPROM(m)

	case m.Block == mytoolit.BlockConfiguration && m.Command == mytoolit.CommandADCConfiguration:
		s.mu.Lock()
		if m.Data[0]&0x80 != 0 {
			s.adc = append([]byte(nil), m.Data...)
		}
		data := append([]byte(nil), s.adc...)
		s.mu.Unlock()
		data[0] = 0
		s.reply(m.Acknowledgment(data))

	case m.Block == mytoolit.BlockConfiguration && m.Command == mytoolit.CommandChannelConfiguration:
		s.mu.Lock()
		if s.sensorConfig == nil {
			s.mu.Unlock()
			s.reply(m.ErrorResponse(nil))
			return
		}
		if m.Data[0]&0x80 != 0 {
			s.sensorConfig = []byte{0, m.Data[1], m.Data[2], m.Data[3]}
		}
		data := append([]byte(nil), s.sensorConfig...)
		s.mu.Unlock()
		s.reply(m.Acknowledgment(data))

	case m.Block == mytoolit.BlockConfiguration && m.Command == mytoolit.CommandCalibrationMeasurement:
		s.reply(m.Acknowledgment(m.Data))

	case m.Block == mytoolit.BlockStreaming && m.Command == mytoolit.CommandStreamingData:
		s.handleStreaming(m)
	}
}

func (s *simulator) handleBluetooth(m mytoolit.Message) {
	sub := mytoolit.BluetoothSubcommand(m.Data[0])
	device := int(m.Data[1])
	data := make([]byte, 8)
	data[0], data[1] = m.Data[0], m.Data[1]

	s.mu.Lock()
	switch sub {
	case mytoolit.BluetoothActivate:
		s.bluetooth = true
	case mytoolit.BluetoothDeactivate:
		s.bluetooth = false
		s.connectTarget = -1
		s.connectedTo = -1
		s.deactivations++
	case mytoolit.BluetoothDeviceCount:
		count := 0
		if s.bluetooth {
			count = len(s.devices)
		}
		data[2] = byte('0' + count)
	case mytoolit.BluetoothNameFirstPart:
		name := make([]byte, 8)
		copy(name, s.devices[device].name)
		copy(data[2:], name[:6])
	case mytoolit.BluetoothNameSecondPart:
		name := make([]byte, 8)
		copy(name, s.devices[device].name)
		copy(data[2:], name[6:])
	case mytoolit.BluetoothMACAddress:
		mac := s.devices[device].mac
		for i := range mac {
			data[7-i] = mac[i]
		}
	case mytoolit.BluetoothRSSI:
		data[2] = byte(s.devices[device].rssi)
	case mytoolit.BluetoothConnectDevice:
		s.connectTarget = device
	case mytoolit.BluetoothConnectionCheck:
		if s.connectedTo < 0 && s.connectTarget >= 0 && s.bluetooth && s.connectPolls >= s.connectAfter {
			s.connectedTo = s.connectTarget
		}
		s.connectPolls++
		if s.connectedTo >= 0 {
			data[2] = 1
		}
	case mytoolit.BluetoothEnergyModeReduced, mytoolit.BluetoothEnergyModeLowest:
		if m.Data[1] == 1 {
			s.energy[m.Data[0]] = append([]byte(nil), m.Data[2:]...)
		}
		if stored, ok := s.energy[m.Data[0]]; ok {
			copy(data[2:], stored)
		}
	}
	s.mu.Unlock()

	s.reply(m.Acknowledgment(data))
}

func (s *simulator) handleEEPROM(m mytoolit.Message) {
	page, offset, length := m.Data[0], int(m.Data[1]), int(m.Data[2])
	data := make([]byte, 8)
	copy(data, m.Data[:4])

	s.mu.Lock()
	p, ok := s.eeprom[page]
	if !ok {
		p = &[EEPROMPageSize]byte{}
		s.eeprom[page] = p
	}
	if m.Command == mytoolit.CommandEEPROMWrite {
		copy(p[offset:offset+length], m.Data[4:4+length])
	}
	copy(data[4:], p[offset:offset+length])
	s.mu.Unlock()

	s.reply(m.Acknowledgment(data))
}

func (s *simulator) handleStreaming(m mytoolit.Message) {
	format := m.Data[0]
	if format&formatSetsMask == setsStop {
		if !s.stopStreaming() {
			s.reply(m.ErrorResponse([]byte{format}))
			return
		}
		s.reply(m.Acknowledgment([]byte{format}))
		return
	}

	s.reply(m.Acknowledgment([]byte{format}))

	s.mu.Lock()
	if s.streamStop != nil {
		s.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	s.streamStop = stop
	interval, skip := s.streamInterval, s.streamSkip
	s.mu.Unlock()

	request := m
	s.streamWG.Add(1)
	go func() {
		defer s.streamWG.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var counter uint8
		value := uint16(0)
		for n := 1; ; n++ {
			select {
			case <-stop:
				return
			case <-ticker.C:
			}
			if skip > 0 && n%skip == 0 {
				counter++
				continue
			}
			data := make([]byte, 8)
			data[0], data[1] = format, counter
			for i := 0; i < 3; i++ {
				binary.LittleEndian.PutUint16(data[2+2*i:], value)
				value++
			}
			frame, err := s.codec.Encode(request.Acknowledgment(data))
			if err != nil {
				return
			}
			if err := s.bus.Send(frame); errors.Is(err, canbus.ErrClosed) {
				return
			}
			counter++
		}
	}()
}

// stopStreaming ends the data goroutine and reports whether it was running
func (s *simulator) stopStreaming() bool {
	s.mu.Lock()
	stop := s.streamStop
	s.streamStop = nil
	s.mu.Unlock()

	if stop == nil {
		return false
	}
	close(stop)
	s.streamWG.Wait()
	return true
}

func (s *simulator) setDropAll(drop bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropAll = drop
}

func (s *simulator) setFailWhen(fn func(m mytoolit.Message) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWhen = fn
}

// sent returns the requests received for block and command
func (s *simulator) sent(block mytoolit.Block, command mytoolit.BlockCommand) []mytoolit.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []mytoolit.Message
	for _, m := range s.requests {
		if m.Block == block && m.Command == command {
			out = append(out, m)
		}
	}
	return out
}

func (s *simulator) requestCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func (s *simulator) listeners() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.listenerCounts...)
}

func (s *simulator) deactivationCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deactivations
}

// ============================================================
// Bus wrappers
// ============================================================

// droppingBus counts and discards every sent frame
type droppingBus struct {
	canbus.Bus
	sends atomic.Int64
}

func (b *droppingBus) Send(frame canbus.Frame) error {
	b.sends.Add(1)
	return nil
}

// failingBus rejects every sent frame
type failingBus struct {
	canbus.Bus
	sends atomic.Int64
}

func (b *failingBus) Send(frame canbus.Frame) error {
	b.sends.Add(1)
	return errors.New("adapter unplugged")
}

// severableBus fails every receive once severed, like an adapter that was
// unplugged while frames can still be queued for sending
type severableBus struct {
	canbus.Bus
	severed atomic.Bool
}

func (b *severableBus) Receive() (canbus.Frame, error) {
	if b.severed.Load() {
		return canbus.Frame{}, fmt.Errorf("adapter read failed: %w", canbus.ErrClosed)
	}
	frame, err := b.Bus.Receive()
	if err == nil && b.severed.Load() {
		return canbus.Frame{}, fmt.Errorf("adapter read failed: %w", canbus.ErrClosed)
	}
	return frame, err
}

func newNullLogger() (*logrus.Logger, *test.Hook) {
	return test.NewNullLogger()
}
