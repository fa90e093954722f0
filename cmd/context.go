// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 MyTooliT

package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/mytoolit/icostat/pkg/icotronic"
	"github.com/spf13/cobra"
)

// commandContext returns the command context, canceled on SIGINT/SIGTERM
func commandContext(cmd *cobra.Command) context.Context {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	cobra.OnFinalize(stop)
	return ctx
}

// withSensor connects to the sensor device named by identifier, runs fn
// and disconnects again. Failures terminate the process.
func withSensor(cmd *cobra.Command, identifier string, title string, fn func(ctx context.Context, device *icotronic.SensorDevice) error) {
	conn, connInfo := OpenConnection()
	defer conn.Close()

	printTitle(title, connInfo)

	ctx := commandContext(cmd)
	err := conn.STU().WithSensorDevice(ctx, parseIdentifier(identifier), func(device *icotronic.SensorDevice) error {
		printField("Device", device.Info())
		return fn(ctx, device)
	})
	if err != nil {
		conn.Close()
		exitOperationError(err)
	}
}
