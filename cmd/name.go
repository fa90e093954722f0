// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 MyTooliT

package cmd

import (
	"context"

	"github.com/mytoolit/icostat/pkg/icotronic"
	"github.com/spf13/cobra"
)

var nameCmd = &cobra.Command{
	Use:   "name <device> [new-name]",
	Short: "Show or change the name of a sensor device",
	Long: `Connect to a sensor device and print its name, serial number and usage
counters. With a second argument, the advertised name is changed. Names are
ASCII and at most 8 characters long.

Exit codes:
  0 - Success
  1 - Device not found or EEPROM access failed
  2 - Connection error`,
	Args: cobra.RangeArgs(1, 2),
	Run:  runName,
}

func init() {
	rootCmd.AddCommand(nameCmd)
}

func runName(cmd *cobra.Command, args []string) {
	withSensor(cmd, args[0], "Sensor Name", func(ctx context.Context, device *icotronic.SensorDevice) error {
		if len(args) == 2 {
			if err := device.SetName(ctx, args[1]); err != nil {
				return err
			}
		}

		name, err := device.Name(ctx)
		if err != nil {
			return err
		}
		printField("Name", name)

		serial, err := device.SerialNumber(ctx)
		if err != nil {
			return err
		}
		printField("Serial number", serial)

		cycles, err := device.PowerOnCycles(ctx)
		if err != nil {
			return err
		}
		printField("Power on cycles", cycles)

		operating, err := device.OperatingTime(ctx)
		if err != nil {
			return err
		}
		printField("Operating time", operating)
		return nil
	})
}
