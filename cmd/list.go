// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 MyTooliT

package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/mytoolit/icostat/pkg/icotronic"
	"github.com/spf13/cobra"
)

var listWait time.Duration

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List visible sensor devices",
	Long: `Activate Bluetooth on the STU and list the sensor devices it can see.

The STU needs some time after activation to find devices. The command polls
the device list until --wait has elapsed and prints the devices seen by the
last scan.

Exit codes:
  0 - Scan finished (the list may be empty)
  1 - STU did not answer
  2 - Connection error`,
	Run: runList,
}

func init() {
	listCmd.Flags().DurationVarP(&listWait, "wait", "w", 2*time.Second, "Time to scan for devices")
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) {
	conn, connInfo := OpenConnection()
	defer conn.Close()

	printTitle("Sensor Devices", connInfo)

	ctx := commandContext(cmd)
	stu := conn.STU()
	if err := stu.ActivateBluetooth(ctx); err != nil {
		exitOperationError(err)
	}
	defer stu.DeactivateBluetooth(context.WithoutCancel(ctx))

	devices, err := scanDevices(ctx, stu, listWait)
	if err != nil {
		exitOperationError(err)
	}

	if len(devices) == 0 {
		fmt.Println(warningStyle.Render("No sensor devices found"))
		return
	}

	fmt.Println(labelStyle.Render(fmt.Sprintf("%-4s %-10s %-18s %s", "#", "Name", "MAC Address", "RSSI")))
	for _, device := range devices {
		fmt.Printf("%-4d %-10s %-18s %d dBm\n", device.Number, device.Name, device.MAC, device.RSSI)
	}
}

// scanDevices polls the device list until wait has elapsed
func scanDevices(ctx context.Context, stu *icotronic.STU, wait time.Duration) ([]icotronic.DeviceInfo, error) {
	deadline := time.Now().Add(wait)
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	var devices []icotronic.DeviceInfo
	for {
		var err error
		devices, err = stu.Devices(ctx)
		if err != nil {
			return nil, err
		}
		if time.Now().After(deadline) {
			return devices, nil
		}

		select {
		case <-ctx.Done():
			return devices, nil
		case <-ticker.C:
		}
	}
}
