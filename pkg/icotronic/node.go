// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 MyTooliT

package icotronic

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/mytoolit/icostat/pkg/mytoolit"
)

// resetTimeout is the minimum response timeout after a reset request
const resetTimeout = time.Second

// Node is a handle for one protocol endpoint reached through a connection
type Node struct {
	conn    *Connection
	address mytoolit.NodeAddress
}

// Address returns the node address
func (n *Node) Address() mytoolit.NodeAddress {
	return n.address
}

func (n *Node) String() string {
	return n.address.String()
}

// request sends a request to the node through the engine
func (n *Node) request(ctx context.Context, block mytoolit.Block, command mytoolit.BlockCommand,
	data []byte, description string, expect ResponseFilter) (mytoolit.Message, error) {
	return n.conn.engine.Do(ctx, Request{
		Message:     mytoolit.NewRequest(n.conn.address, n.address, block, command, data),
		Description: description,
		Expect:      expect,
	})
}

// Reset restarts the node
func (n *Node) Reset(ctx context.Context) error {
	_, err := n.conn.engine.Do(ctx, Request{
		Message:     mytoolit.NewRequest(n.conn.address, n.address, mytoolit.BlockSystem, mytoolit.CommandReset, nil),
		Description: fmt.Sprintf("reset node %s", n.address),
		MinTimeout:  resetTimeout,
	})
	return err
}

// NodeLocation is the firmware a node is running
type NodeLocation uint8

// Node locations
const (
	LocationReserved    NodeLocation = 0
	LocationBootloader  NodeLocation = 1
	LocationApplication NodeLocation = 2
	LocationNoChange    NodeLocation = 3
)

func (l NodeLocation) String() string {
	switch l {
	case LocationBootloader:
		return "Bootloader"
	case LocationApplication:
		return "Application"
	case LocationNoChange:
		return "No Change"
	default:
		return "Reserved"
	}
}

// NetworkState is the operating state of a node
type NetworkState uint8

// Network states
const (
	NetworkFailure              NetworkState = 0
	NetworkError                NetworkState = 1
	NetworkStandby              NetworkState = 2
	NetworkGracefulDegradation2 NetworkState = 3
	NetworkGracefulDegradation1 NetworkState = 4
	NetworkOperating            NetworkState = 5
	NetworkStartup              NetworkState = 6
	NetworkNoChange             NetworkState = 7
)

var networkStateNames = [...]string{
	"Failure",
	"Error",
	"Standby",
	"Graceful Degradation 2",
	"Graceful Degradation 1",
	"Operating",
	"Startup",
	"No Change",
}

func (s NetworkState) String() string {
	if int(s) < len(networkStateNames) {
		return networkStateNames[s]
	}
	return fmt.Sprintf("State %d", uint8(s))
}

// NodeState combines the firmware location and network state of a node.
//
// Byte layout: bit 7 set request, bits 5-4 location, bits 2-0 state.
type NodeState struct {
	Location NodeLocation
	State    NetworkState
}

func (s NodeState) String() string {
	return fmt.Sprintf("%s (%s)", s.State, s.Location)
}

func (s NodeState) encode(set bool) byte {
	b := byte(s.Location&0x3)<<4 | byte(s.State&0x7)
	if set {
		b |= 0x80
	}
	return b
}

func decodeNodeState(b byte) NodeState {
	return NodeState{
		Location: NodeLocation(b >> 4 & 0x3),
		State:    NetworkState(b & 0x7),
	}
}

// GetState reads the node state
func (n *Node) GetState(ctx context.Context) (NodeState, error) {
	response, err := n.request(ctx, mytoolit.BlockSystem, mytoolit.CommandGetSetState,
		[]byte{0}, fmt.Sprintf("get state of node %s", n.address), nil)
	if err != nil {
		return NodeState{}, err
	}
	if len(response.Data) < 1 {
		return NodeState{}, fmt.Errorf("empty state response from %s", n.address)
	}
	return decodeNodeState(response.Data[0]), nil
}

// SetState changes the node state
func (n *Node) SetState(ctx context.Context, state NodeState) error {
	_, err := n.request(ctx, mytoolit.BlockSystem, mytoolit.CommandGetSetState,
		[]byte{state.encode(true)}, fmt.Sprintf("set state of node %s to %s", n.address, state), nil)
	return err
}

// bluetoothRequest builds a Bluetooth subcommand request. The payload is
// the subcommand, the device number and up to six bytes of data, zero
// padded. Responses echo the subcommand and device number.
func (n *Node) bluetoothRequest(sub mytoolit.BluetoothSubcommand, device uint8, data []byte, description string) Request {
	payload := make([]byte, mytoolit.MaxDataLength)
	payload[0] = byte(sub)
	payload[1] = device
	copy(payload[2:], data)

	return Request{
		Message:     mytoolit.NewRequest(n.conn.address, n.address, mytoolit.BlockSystem, mytoolit.CommandBluetooth, payload),
		Description: description,
		Expect:      ExpectBytes(byte(sub), device),
	}
}

// bluetooth sends a Bluetooth subcommand and checks the response length
func (n *Node) bluetooth(ctx context.Context, sub mytoolit.BluetoothSubcommand, device uint8,
	data []byte, description string) (mytoolit.Message, error) {
	response, err := n.conn.engine.Do(ctx, n.bluetoothRequest(sub, device, data, description))
	if err != nil {
		return mytoolit.Message{}, err
	}
	if len(response.Data) < mytoolit.MaxDataLength {
		return mytoolit.Message{}, fmt.Errorf("unable to %s: short response [% X]", description, response.Data)
	}
	return response, nil
}

// EnergyMode selects one of the reduced power advertisement settings
type EnergyMode uint8

// Energy modes
const (
	EnergyModeReduced EnergyMode = EnergyMode(mytoolit.BluetoothEnergyModeReduced)
	EnergyModeLowest  EnergyMode = EnergyMode(mytoolit.BluetoothEnergyModeLowest)
)

func (m EnergyMode) String() string {
	if m == EnergyModeLowest {
		return "lowest"
	}
	return "reduced"
}

// EnergyModeTimes are the timing parameters of an energy mode
type EnergyModeTimes struct {
	Sleep         time.Duration // time before the node enters the mode
	Advertisement time.Duration // advertisement interval in the mode
}

// energyMode reads or writes an energy mode. The payload replaces the
// device number by a set flag and carries the sleep time (4 bytes, ms) and
// the advertisement time (2 bytes, ms), both little endian.
func (n *Node) energyMode(ctx context.Context, mode EnergyMode, times *EnergyModeTimes) (EnergyModeTimes, error) {
	payload := make([]byte, 6)
	var setFlag uint8
	action := "get"
	if times != nil {
		setFlag = 1
		action = "set"
		binary.LittleEndian.PutUint32(payload[0:4], uint32(times.Sleep.Milliseconds()))
		binary.LittleEndian.PutUint16(payload[4:6], uint16(times.Advertisement.Milliseconds()))
	}

	response, err := n.bluetooth(ctx, mytoolit.BluetoothSubcommand(mode), setFlag, payload,
		fmt.Sprintf("%s %s energy mode of %s", action, mode, n.address))
	if err != nil {
		return EnergyModeTimes{}, err
	}
	return EnergyModeTimes{
		Sleep:         time.Duration(binary.LittleEndian.Uint32(response.Data[2:6])) * time.Millisecond,
		Advertisement: time.Duration(binary.LittleEndian.Uint16(response.Data[6:8])) * time.Millisecond,
	}, nil
}

// EnergyModeReduced reads the reduced energy mode times
func (n *Node) EnergyModeReduced(ctx context.Context) (EnergyModeTimes, error) {
	return n.energyMode(ctx, EnergyModeReduced, nil)
}

// SetEnergyModeReduced writes the reduced energy mode times
func (n *Node) SetEnergyModeReduced(ctx context.Context, times EnergyModeTimes) (EnergyModeTimes, error) {
	if err := times.validate(); err != nil {
		return EnergyModeTimes{}, err
	}
	return n.energyMode(ctx, EnergyModeReduced, &times)
}

// EnergyModeLowest reads the lowest energy mode times
func (n *Node) EnergyModeLowest(ctx context.Context) (EnergyModeTimes, error) {
	return n.energyMode(ctx, EnergyModeLowest, nil)
}

// SetEnergyModeLowest writes the lowest energy mode times
func (n *Node) SetEnergyModeLowest(ctx context.Context, times EnergyModeTimes) (EnergyModeTimes, error) {
	if err := times.validate(); err != nil {
		return EnergyModeTimes{}, err
	}
	return n.energyMode(ctx, EnergyModeLowest, &times)
}

func (t EnergyModeTimes) validate() error {
	if t.Sleep < 0 || t.Sleep.Milliseconds() > 0xFFFFFFFF {
		return fmt.Errorf("sleep time out of range: %s", t.Sleep)
	}
	if t.Advertisement < 0 || t.Advertisement.Milliseconds() > 0xFFFF {
		return fmt.Errorf("advertisement time out of range: %s", t.Advertisement)
	}
	return nil
}
