// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 MyTooliT

package icotronic

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/mytoolit/icostat/pkg/mytoolit"
	"github.com/sirupsen/logrus"
)

// DeviceInfo describes a sensor device seen by the STU during one poll
type DeviceInfo struct {
	Number int
	Name   string
	MAC    net.HardwareAddr
	RSSI   int
}

func (d DeviceInfo) String() string {
	return fmt.Sprintf("%d: %q %s %d dBm", d.Number, d.Name, d.MAC, d.RSSI)
}

// matches reports whether the device is the one named by identifier
func (d DeviceInfo) matches(identifier any) bool {
	switch id := identifier.(type) {
	case int:
		return d.Number == id
	case string:
		return d.Name == id
	case net.HardwareAddr:
		return bytes.Equal(d.MAC, id)
	}
	return false
}

func validateIdentifier(identifier any) error {
	switch identifier.(type) {
	case int, string, net.HardwareAddr:
		return nil
	}
	return &IdentifierTypeError{Value: identifier}
}

// DiscoveryState is the state of a connection attempt
type DiscoveryState int

// Discovery states
const (
	StateIdle DiscoveryState = iota
	StateScanning
	StateDeviceFound
	StateConnecting
	StateConnected
	StateFailed
)

func (s DiscoveryState) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateScanning:
		return "Scanning"
	case StateDeviceFound:
		return "DeviceFound"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateFailed:
		return "Failed"
	default:
		return fmt.Sprintf("DiscoveryState(%d)", int(s))
	}
}

// DiscoveryConfig holds the discovery timing
type DiscoveryConfig struct {
	Timeout       time.Duration // overall deadline for scanning and connecting
	PollInterval  time.Duration // delay between device and connection polls
	ConnectWindow time.Duration // time to wait for a connection before resending the connect request
}

// DefaultDiscoveryConfig returns the standard discovery timing
func DefaultDiscoveryConfig() DiscoveryConfig {
	return DiscoveryConfig{
		Timeout:       20 * time.Second,
		PollInterval:  100 * time.Millisecond,
		ConnectWindow: 3 * time.Second,
	}
}

// Validate checks that all durations are positive
func (c DiscoveryConfig) Validate() error {
	if c.Timeout <= 0 || c.PollInterval <= 0 || c.ConnectWindow <= 0 {
		return fmt.Errorf("invalid discovery timing: timeout %s, poll interval %s, connect window %s",
			c.Timeout, c.PollInterval, c.ConnectWindow)
	}
	return nil
}

// discovery drives one connection attempt
type discovery struct {
	stu        *STU
	identifier any
	config     DiscoveryConfig
	state      DiscoveryState
	devices    []DeviceInfo
	log        logrus.FieldLogger
}

func (d *discovery) transition(state DiscoveryState) {
	d.log.WithFields(logrus.Fields{"from": d.state, "to": state}).Debug("discovery state")
	d.state = state
}

// fail maps a context expiry to a DiscoveryTimeoutError
func (d *discovery) fail(err error) error {
	phase := d.state
	d.transition(StateFailed)
	if errors.Is(err, context.DeadlineExceeded) {
		return &DiscoveryTimeoutError{
			Identifier: d.identifier,
			Devices:    d.devices,
			Timeout:    d.config.Timeout,
			Phase:      phase,
		}
	}
	return err
}

// run scans until the device is visible and then connects to it. ctx
// carries the overall deadline.
func (d *discovery) run(ctx context.Context) (DeviceInfo, error) {
	d.transition(StateScanning)
	if err := d.stu.ActivateBluetooth(ctx); err != nil {
		return DeviceInfo{}, d.fail(err)
	}

	target, err := d.scan(ctx)
	if err != nil {
		return DeviceInfo{}, d.fail(err)
	}

	d.transition(StateDeviceFound)
	d.log.WithField("device", target.String()).Info("found sensor device")

	d.transition(StateConnecting)
	for {
		if err := d.stu.ConnectDevice(ctx, target.Number); err != nil {
			return DeviceInfo{}, d.fail(err)
		}

		window := time.Now().Add(d.config.ConnectWindow)
		for time.Now().Before(window) {
			connected, err := d.stu.IsConnected(ctx)
			if err != nil {
				return DeviceInfo{}, d.fail(err)
			}
			if connected {
				d.transition(StateConnected)
				return target, nil
			}
			if err := sleepContext(ctx, d.config.PollInterval); err != nil {
				return DeviceInfo{}, d.fail(err)
			}
		}
		d.log.WithField("device", target.String()).Warn("connection not established, retrying")
	}
}

// scan polls the visible devices until one matches the identifier
func (d *discovery) scan(ctx context.Context) (DeviceInfo, error) {
	for {
		devices, err := d.stu.Devices(ctx)
		if err != nil {
			return DeviceInfo{}, err
		}
		d.devices = devices

		for _, device := range devices {
			if device.matches(d.identifier) {
				return device, nil
			}
		}
		if err := sleepContext(ctx, d.config.PollInterval); err != nil {
			return DeviceInfo{}, err
		}
	}
}

// Connect scans for the sensor device named by identifier and connects to
// it. The identifier is a device number (int), an advertised name (string)
// or a hardware address (net.HardwareAddr); other types fail before any
// request is sent. Scanning and connecting share one deadline; on expiry
// the returned *DiscoveryTimeoutError lists the devices seen. On failure
// Bluetooth is deactivated with a single best-effort request.
//
// The returned device must be released with Disconnect.
func (s *STU) Connect(ctx context.Context, identifier any) (*SensorDevice, error) {
	if err := validateIdentifier(identifier); err != nil {
		return nil, err
	}

	config := s.conn.discovery
	d := &discovery{
		stu:        s,
		identifier: identifier,
		config:     config,
		log:        s.conn.log.WithField("device", fmt.Sprint(identifier)),
	}

	deadline, cancel := context.WithTimeout(ctx, config.Timeout)
	defer cancel()

	info, err := d.run(deadline)
	if err != nil {
		s.deactivateBestEffort(ctx)
		return nil, err
	}

	d.log.WithField("device", info.String()).Info("connected to sensor device")
	return newSensorDevice(s, info), nil
}

// WithSensorDevice connects to the sensor device named by identifier, runs
// fn and disconnects, whether fn succeeds or not
func (s *STU) WithSensorDevice(ctx context.Context, identifier any, fn func(*SensorDevice) error) (err error) {
	device, err := s.Connect(ctx, identifier)
	if err != nil {
		return err
	}
	defer func() {
		if disconnectErr := device.Disconnect(ctx); err == nil {
			err = disconnectErr
		}
	}()
	return fn(device)
}

// deactivateBestEffort sends a single deactivate request and ignores the
// outcome
func (s *STU) deactivateBestEffort(ctx context.Context) {
	req := s.bluetoothRequest(mytoolit.BluetoothDeactivate, controlDevice, nil, "deactivate Bluetooth")
	req.Retries = 1
	_, err := s.conn.engine.Do(context.WithoutCancel(ctx), req)
	if err != nil {
		s.conn.log.WithError(err).Debug("best-effort Bluetooth deactivation failed")
	}
}

// sleepContext waits for d or until ctx is done
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
