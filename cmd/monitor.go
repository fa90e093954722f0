// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 MyTooliT

package cmd

import (
	"fmt"

	"github.com/mytoolit/icostat/pkg/mytoolit"
	"github.com/spf13/cobra"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Display bus traffic in human-readable format",
	Long: `Continuously decode and display MyTooliT messages as they arrive.

Each message is shown with timestamp, command name, sender, receiver and
payload. Frames that are not MyTooliT messages are logged at debug level.

Supports both serial and WebSocket connections.`,
	Run: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
}

func runMonitor(cmd *cobra.Command, args []string) {
	conn, connInfo := OpenConnection()
	defer conn.Close()

	printTitle("Bus Monitor", connInfo)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	messages := make(chan mytoolit.Message, 256)
	sub := conn.Subscribe(func(m mytoolit.Message) {
		select {
		case messages <- m:
		default:
			fmt.Println(warningStyle.Render("[monitor] output too slow, message dropped"))
		}
	})
	defer sub.Close()

	ctx := commandContext(cmd)
	for {
		select {
		case m := <-messages:
			fmt.Println(mytoolit.FormatMessage(m))
		case <-conn.Done():
			fmt.Println(warningStyle.Render("Connection closed"))
			return
		case <-ctx.Done():
			return
		}
	}
}
