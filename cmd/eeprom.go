// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 MyTooliT

package cmd

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/mytoolit/icostat/pkg/icotronic"
	"github.com/spf13/cobra"
)

var eepromCmd = &cobra.Command{
	Use:   "eeprom",
	Short: "Read or write the EEPROM of a sensor device",
}

var eepromReadCmd = &cobra.Command{
	Use:   "read <device> <page> <offset> <length>",
	Short: "Read bytes from the EEPROM",
	Long: `Connect to a sensor device and dump a range of its EEPROM.

The device is given as MAC address, device number or name.

Exit codes:
  0 - Range read
  1 - Device not found or EEPROM access failed
  2 - Connection error`,
	Args: cobra.ExactArgs(4),
	Run:  runEEPROMRead,
}

var eepromWriteCmd = &cobra.Command{
	Use:   "write <device> <page> <offset> <hex-data>",
	Short: "Write bytes to the EEPROM",
	Long: `Connect to a sensor device and write hex encoded bytes to its EEPROM,
e.g. "icostat eeprom write Tanja 0 1 48656c6c6f".

Exit codes:
  0 - Data written
  1 - Device not found or EEPROM access failed
  2 - Connection error`,
	Args: cobra.ExactArgs(4),
	Run:  runEEPROMWrite,
}

func init() {
	eepromCmd.AddCommand(eepromReadCmd)
	eepromCmd.AddCommand(eepromWriteCmd)
	rootCmd.AddCommand(eepromCmd)
}

func parseInts(args ...string) []int {
	values := make([]int, len(args))
	for i, arg := range args {
		v, err := strconv.ParseInt(arg, 0, 32)
		if err != nil {
			exitOperationError(fmt.Errorf("invalid number %q", arg))
		}
		values[i] = int(v)
	}
	return values
}

func runEEPROMRead(cmd *cobra.Command, args []string) {
	values := parseInts(args[1:]...)
	page, offset, length := values[0], values[1], values[2]

	withSensor(cmd, args[0], "EEPROM Read", func(ctx context.Context, device *icotronic.SensorDevice) error {
		data, err := device.EEPROM().Read(ctx, page, offset, length)
		if err != nil {
			return err
		}
		fmt.Println()
		fmt.Print(hex.Dump(data))
		return nil
	})
}

func runEEPROMWrite(cmd *cobra.Command, args []string) {
	values := parseInts(args[1:3]...)
	page, offset := values[0], values[1]
	data, err := hex.DecodeString(strings.ReplaceAll(args[3], " ", ""))
	if err != nil {
		exitOperationError(fmt.Errorf("invalid hex data: %w", err))
	}

	withSensor(cmd, args[0], "EEPROM Write", func(ctx context.Context, device *icotronic.SensorDevice) error {
		if err := device.EEPROM().Write(ctx, page, offset, data); err != nil {
			return err
		}
		fmt.Printf("Wrote %s to page %d offset %d\n", valueStyle.Render(fmt.Sprintf("%d bytes", len(data))), page, offset)
		return nil
	})
}
