// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 MyTooliT

package icotronic

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mytoolit/icostat/pkg/mytoolit"
)

// EEPROM locations of sensor device fields
const (
	namePage, nameOffset, nameLength                            = 0, 1, 8
	serialNumberPage, serialNumberOffset, serialNumberLength    = 4, 32, 32
	powerOnCyclesPage, powerOnCyclesOffset, powerOnCyclesLength = 5, 0, 4
	operatingTimePage, operatingTimeOffset, operatingTimeLength = 5, 8, 4
)

// SensorDevice is a connected Bluetooth sensor device (STH or SMH). While
// connected the device answers as STH 1.
type SensorDevice struct {
	Node
	stu  *STU
	info DeviceInfo

	disconnectOnce sync.Once
	disconnectErr  error
}

func newSensorDevice(stu *STU, info DeviceInfo) *SensorDevice {
	return &SensorDevice{
		Node: Node{conn: stu.conn, address: mytoolit.STH(1)},
		stu:  stu,
		info: info,
	}
}

// Info returns the discovery information of the device
func (d *SensorDevice) Info() DeviceInfo {
	return d.info
}

// Disconnect deactivates Bluetooth on the STU. Only the first call sends a
// request; later calls return its result.
func (d *SensorDevice) Disconnect(ctx context.Context) error {
	d.disconnectOnce.Do(func() {
		d.disconnectErr = d.stu.DeactivateBluetooth(context.WithoutCancel(ctx))
		d.conn.log.WithField("device", d.info.String()).Info("disconnected from sensor device")
	})
	return d.disconnectErr
}

// ADCConfiguration reads the ADC setup
func (d *SensorDevice) ADCConfiguration(ctx context.Context) (ADCConfiguration, error) {
	response, err := d.request(ctx, mytoolit.BlockConfiguration, mytoolit.CommandADCConfiguration,
		ADCConfiguration{}.encode(false), "read ADC configuration", nil)
	if err != nil {
		return ADCConfiguration{}, err
	}
	return decodeADCConfiguration(response.Data)
}

// SetADCConfiguration changes the ADC setup
func (d *SensorDevice) SetADCConfiguration(ctx context.Context, config ADCConfiguration) error {
	if err := config.Validate(); err != nil {
		return err
	}
	_, err := d.request(ctx, mytoolit.BlockConfiguration, mytoolit.CommandADCConfiguration,
		config.encode(true), "write ADC configuration", nil)
	return err
}

// SensorConfiguration maps the three measurement channels to sensor
// numbers. A zero disables the channel.
type SensorConfiguration struct {
	First  uint8
	Second uint8
	Third  uint8
}

func (c SensorConfiguration) String() string {
	return fmt.Sprintf("M1: S%d, M2: S%d, M3: S%d", c.First, c.Second, c.Third)
}

// unsupported turns a rejected probe into an UnsupportedFeatureError
func unsupported(feature string, err error) error {
	var errorResponse *ErrorResponseError
	if errors.As(err, &errorResponse) {
		return &UnsupportedFeatureError{Feature: feature, Err: err}
	}
	return err
}

// SensorConfiguration reads the channel to sensor mapping. Devices without
// configurable channels return *UnsupportedFeatureError.
func (d *SensorDevice) SensorConfiguration(ctx context.Context) (SensorConfiguration, error) {
	response, err := d.request(ctx, mytoolit.BlockConfiguration, mytoolit.CommandChannelConfiguration,
		make([]byte, 8), "read sensor configuration", nil)
	if err != nil {
		return SensorConfiguration{}, unsupported("sensor configuration", err)
	}
	if len(response.Data) < 4 {
		return SensorConfiguration{}, fmt.Errorf("short sensor configuration [% X]", response.Data)
	}
	return SensorConfiguration{
		First:  response.Data[1],
		Second: response.Data[2],
		Third:  response.Data[3],
	}, nil
}

// SetSensorConfiguration changes the channel to sensor mapping
func (d *SensorDevice) SetSensorConfiguration(ctx context.Context, config SensorConfiguration) error {
	payload := []byte{0x80, config.First, config.Second, config.Third, 0, 0, 0, 0}
	_, err := d.request(ctx, mytoolit.BlockConfiguration, mytoolit.CommandChannelConfiguration,
		payload, fmt.Sprintf("write sensor configuration (%s)", config), nil)
	return unsupported("sensor configuration", err)
}

// Calibration measurement methods
const (
	calibrationInject = 1
	calibrationEject  = 2
)

// selfTest toggles the acceleration sensor self test. Byte 0 carries the
// set flag, the method (bits 6-5) and the data element (bits 4-0); byte 1
// is the axis.
func (d *SensorDevice) selfTest(ctx context.Context, method byte, axis uint8) error {
	if axis < 1 || axis > 3 {
		return fmt.Errorf("invalid axis: %d (1-3)", axis)
	}
	action := "activate"
	if method == calibrationEject {
		action = "deactivate"
	}

	payload := []byte{0x80 | method<<5 | 1, axis, 0, 0, 0, 0, 0, 0}
	_, err := d.request(ctx, mytoolit.BlockConfiguration, mytoolit.CommandCalibrationMeasurement,
		payload, fmt.Sprintf("%s self test of axis %d", action, axis), ExpectBytes(payload[0], axis))
	return err
}

// ActivateSelfTest switches on the self test of the acceleration axis (1-3)
func (d *SensorDevice) ActivateSelfTest(ctx context.Context, axis uint8) error {
	return d.selfTest(ctx, calibrationInject, axis)
}

// DeactivateSelfTest switches off the self test of the acceleration axis
func (d *SensorDevice) DeactivateSelfTest(ctx context.Context, axis uint8) error {
	return d.selfTest(ctx, calibrationEject, axis)
}

// Name reads the advertised name
func (d *SensorDevice) Name(ctx context.Context) (string, error) {
	return d.EEPROM().ReadText(ctx, namePage, nameOffset, nameLength)
}

// SetName changes the advertised name (up to 8 ASCII characters). The new
// name is advertised after a reset.
func (d *SensorDevice) SetName(ctx context.Context, name string) error {
	return d.EEPROM().WriteText(ctx, namePage, nameOffset, nameLength, name)
}

// SerialNumber reads the serial number
func (d *SensorDevice) SerialNumber(ctx context.Context) (string, error) {
	return d.EEPROM().ReadText(ctx, serialNumberPage, serialNumberOffset, serialNumberLength)
}

// OperatingTime reads the total operating time
func (d *SensorDevice) OperatingTime(ctx context.Context) (time.Duration, error) {
	seconds, err := d.EEPROM().ReadInt(ctx, operatingTimePage, operatingTimeOffset, operatingTimeLength, false)
	if err != nil {
		return 0, err
	}
	return time.Duration(seconds) * time.Second, nil
}

// PowerOnCycles reads the number of power on cycles
func (d *SensorDevice) PowerOnCycles(ctx context.Context) (int64, error) {
	return d.EEPROM().ReadInt(ctx, powerOnCyclesPage, powerOnCyclesOffset, powerOnCyclesLength, false)
}
