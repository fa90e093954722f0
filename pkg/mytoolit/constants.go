// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 MyTooliT

package mytoolit

import "fmt"

// Block is a 6 bit command group
type Block uint8

// Command blocks
const (
	BlockSystem         Block = 0x00
	BlockStreaming      Block = 0x04
	BlockStatisticsData Block = 0x08
	BlockConfiguration  Block = 0x28
	BlockEEPROM         Block = 0x3D
	BlockProductData    Block = 0x3E
	BlockTest           Block = 0x3F
)

// BlockCommand selects a command inside a block
type BlockCommand uint8

// System block commands
const (
	CommandVerboten    BlockCommand = 0x00
	CommandReset       BlockCommand = 0x01
	CommandGetSetState BlockCommand = 0x02
	CommandNodeStatus  BlockCommand = 0x05
	CommandErrorStatus BlockCommand = 0x06
	CommandBluetooth   BlockCommand = 0x0D
)

// Streaming block commands
const (
	CommandStreamingData BlockCommand = 0x20
)

// Configuration block commands
const (
	CommandADCConfiguration       BlockCommand = 0x01
	CommandChannelConfiguration   BlockCommand = 0x02
	CommandCalibrationMeasurement BlockCommand = 0x60
)

// EEPROM block commands
const (
	CommandEEPROMRead                BlockCommand = 0x00
	CommandEEPROMWrite               BlockCommand = 0x01
	CommandEEPROMWriteRequestCounter BlockCommand = 0x20
)

// BluetoothSubcommand is the first payload byte of a System/Bluetooth request
type BluetoothSubcommand uint8

// Bluetooth subcommands
const (
	BluetoothActivate          BluetoothSubcommand = 1
	BluetoothDeviceCount       BluetoothSubcommand = 2
	BluetoothNameFirstPart     BluetoothSubcommand = 5
	BluetoothNameSecondPart    BluetoothSubcommand = 6
	BluetoothConnectDevice     BluetoothSubcommand = 7
	BluetoothConnectionCheck   BluetoothSubcommand = 8
	BluetoothDeactivate        BluetoothSubcommand = 9
	BluetoothRSSI              BluetoothSubcommand = 12
	BluetoothEnergyModeReduced BluetoothSubcommand = 14
	BluetoothEnergyModeLowest  BluetoothSubcommand = 15
	BluetoothMACAddress        BluetoothSubcommand = 17
)

// blockNames and commandNames are used for formatting only
var blockNames = map[Block]string{
	BlockSystem:         "System",
	BlockStreaming:      "Streaming",
	BlockStatisticsData: "Statistical Data",
	BlockConfiguration:  "Configuration",
	BlockEEPROM:         "EEPROM",
	BlockProductData:    "Product Data",
	BlockTest:           "Test",
}

type blockCommandKey struct {
	block   Block
	command BlockCommand
}

var commandNames = map[blockCommandKey]string{
	{BlockSystem, CommandVerboten}:                      "Verboten",
	{BlockSystem, CommandReset}:                         "Reset",
	{BlockSystem, CommandGetSetState}:                   "Get/Set State",
	{BlockSystem, CommandNodeStatus}:                    "Node Status",
	{BlockSystem, CommandErrorStatus}:                   "Error Status",
	{BlockSystem, CommandBluetooth}:                     "Bluetooth",
	{BlockStreaming, CommandStreamingData}:              "Data",
	{BlockConfiguration, CommandADCConfiguration}:       "Get/Set ADC Configuration",
	{BlockConfiguration, CommandChannelConfiguration}:   "Get/Set Channel Configuration",
	{BlockConfiguration, CommandCalibrationMeasurement}: "Calibration Measurement",
	{BlockEEPROM, CommandEEPROMRead}:                    "Read",
	{BlockEEPROM, CommandEEPROMWrite}:                   "Write",
	{BlockEEPROM, CommandEEPROMWriteRequestCounter}:     "Write Request Counter",
}

// String returns the block name
func (b Block) String() string {
	if name, ok := blockNames[b]; ok {
		return name
	}
	return fmt.Sprintf("Block 0x%02X", uint8(b))
}

// CommandName returns the human readable name of a block command
func CommandName(block Block, command BlockCommand) string {
	if name, ok := commandNames[blockCommandKey{block, command}]; ok {
		return name
	}
	return fmt.Sprintf("Command 0x%02X", uint8(command))
}

