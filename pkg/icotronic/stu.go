// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 MyTooliT

package icotronic

import (
	"bytes"
	"context"
	"fmt"
	"net"

	"github.com/mytoolit/icostat/pkg/mytoolit"
)

// controlDevice is the device number of Bluetooth requests that address
// the STU radio itself
const controlDevice = 0

// STU is the transceiver unit that bridges the CAN bus to Bluetooth sensor
// devices
type STU struct {
	Node
}

// ActivateBluetooth starts scanning for sensor devices
func (s *STU) ActivateBluetooth(ctx context.Context) error {
	_, err := s.bluetooth(ctx, mytoolit.BluetoothActivate, controlDevice, nil, "activate Bluetooth")
	return err
}

// DeactivateBluetooth stops scanning and drops any connection
func (s *STU) DeactivateBluetooth(ctx context.Context) error {
	_, err := s.bluetooth(ctx, mytoolit.BluetoothDeactivate, controlDevice, nil, "deactivate Bluetooth")
	return err
}

// AvailableDevices returns the number of sensor devices currently visible
func (s *STU) AvailableDevices(ctx context.Context) (int, error) {
	response, err := s.bluetooth(ctx, mytoolit.BluetoothDeviceCount, controlDevice, nil,
		"get number of available devices")
	if err != nil {
		return 0, err
	}

	// The count is reported as an ASCII digit
	digit := response.Data[2]
	if digit < '0' || digit > '9' {
		return 0, fmt.Errorf("invalid device count 0x%02X", digit)
	}
	return int(digit - '0'), nil
}

// DeviceName returns the advertised name of device number
func (s *STU) DeviceName(ctx context.Context, number int) (string, error) {
	device, err := deviceNumber(number)
	if err != nil {
		return "", err
	}

	first, err := s.bluetooth(ctx, mytoolit.BluetoothNameFirstPart, device, nil,
		fmt.Sprintf("get first part of name of device %d", number))
	if err != nil {
		return "", err
	}
	second, err := s.bluetooth(ctx, mytoolit.BluetoothNameSecondPart, device, nil,
		fmt.Sprintf("get second part of name of device %d", number))
	if err != nil {
		return "", err
	}

	name := append(first.Payload()[2:], second.Data[2:]...)
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	return string(name), nil
}

// DeviceMAC returns the hardware address of device number
func (s *STU) DeviceMAC(ctx context.Context, number int) (net.HardwareAddr, error) {
	device, err := deviceNumber(number)
	if err != nil {
		return nil, err
	}

	response, err := s.bluetooth(ctx, mytoolit.BluetoothMACAddress, device, nil,
		fmt.Sprintf("get MAC address of device %d", number))
	if err != nil {
		return nil, err
	}

	// Transmitted least significant byte first
	mac := make(net.HardwareAddr, 6)
	for i := range mac {
		mac[i] = response.Data[7-i]
	}
	return mac, nil
}

// DeviceRSSI returns the received signal strength of device number in dBm
func (s *STU) DeviceRSSI(ctx context.Context, number int) (int, error) {
	device, err := deviceNumber(number)
	if err != nil {
		return 0, err
	}

	response, err := s.bluetooth(ctx, mytoolit.BluetoothRSSI, device, nil,
		fmt.Sprintf("get RSSI of device %d", number))
	if err != nil {
		return 0, err
	}
	return int(int8(response.Data[2])), nil
}

// ConnectDevice asks the STU to connect to device number
func (s *STU) ConnectDevice(ctx context.Context, number int) error {
	device, err := deviceNumber(number)
	if err != nil {
		return err
	}
	_, err = s.bluetooth(ctx, mytoolit.BluetoothConnectDevice, device, nil,
		fmt.Sprintf("connect to device %d", number))
	return err
}

// IsConnected reports whether the STU is connected to a sensor device
func (s *STU) IsConnected(ctx context.Context) (bool, error) {
	response, err := s.bluetooth(ctx, mytoolit.BluetoothConnectionCheck, controlDevice, nil,
		"check if STU is connected")
	if err != nil {
		return false, err
	}
	return response.Data[2] == 1, nil
}

// Devices returns information about every visible sensor device
func (s *STU) Devices(ctx context.Context) ([]DeviceInfo, error) {
	count, err := s.AvailableDevices(ctx)
	if err != nil {
		return nil, err
	}

	devices := make([]DeviceInfo, 0, count)
	for number := 0; number < count; number++ {
		name, err := s.DeviceName(ctx, number)
		if err != nil {
			return nil, err
		}
		mac, err := s.DeviceMAC(ctx, number)
		if err != nil {
			return nil, err
		}
		rssi, err := s.DeviceRSSI(ctx, number)
		if err != nil {
			return nil, err
		}
		devices = append(devices, DeviceInfo{Number: number, Name: name, MAC: mac, RSSI: rssi})
	}
	return devices, nil
}

func deviceNumber(number int) (uint8, error) {
	if number < 0 || number > 0xFE {
		return 0, fmt.Errorf("device number out of range: %d", number)
	}
	return uint8(number), nil
}
