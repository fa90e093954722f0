// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 MyTooliT

package cmd

import (
	"fmt"

	"github.com/mytoolit/icostat/pkg/mytoolit"
	"github.com/spf13/cobra"
)

var resetCmd = &cobra.Command{
	Use:   "reset [node]",
	Short: "Reset a node",
	Long: `Send a reset command to a node and wait for its acknowledgment.

The node defaults to "STU 1". Other accepted names are "STH n", "STU n" and
"SPU 1".

Exit codes:
  0 - Node acknowledged the reset
  1 - Node did not acknowledge the reset
  2 - Connection error`,
	Args: cobra.MaximumNArgs(1),
	Run:  runReset,
}

var stateCmd = &cobra.Command{
	Use:   "state [node]",
	Short: "Show the state of a node",
	Long: `Query the node state (firmware location and network state) of a node.

The node defaults to "STU 1".

Exit codes:
  0 - State read
  1 - Node did not answer
  2 - Connection error`,
	Args: cobra.MaximumNArgs(1),
	Run:  runState,
}

func init() {
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(stateCmd)
}

func nodeArgument(args []string) mytoolit.NodeAddress {
	if len(args) == 0 {
		return mytoolit.STU(1)
	}
	address, err := mytoolit.ParseNodeAddress(args[0])
	if err != nil {
		exitOperationError(err)
	}
	return address
}

func runReset(cmd *cobra.Command, args []string) {
	address := nodeArgument(args)
	conn, connInfo := OpenConnection()
	defer conn.Close()

	printTitle("Reset", connInfo)

	if err := conn.Node(address).Reset(commandContext(cmd)); err != nil {
		exitOperationError(err)
	}
	fmt.Printf("%s acknowledged reset\n", valueStyle.Render(address.String()))
}

func runState(cmd *cobra.Command, args []string) {
	address := nodeArgument(args)
	conn, connInfo := OpenConnection()
	defer conn.Close()

	printTitle("Node State", connInfo)

	state, err := conn.Node(address).GetState(commandContext(cmd))
	if err != nil {
		exitOperationError(err)
	}
	printField("Node", address)
	printField("Location", state.Location)
	printField("Network state", state.State)
}
