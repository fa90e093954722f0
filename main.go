// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 MyTooliT
//
// icostat - ICOtronic CAN Client
//
// A CLI tool for resetting nodes, discovering sensor devices, accessing
// their EEPROM and streaming measurement data over MyTooliT CAN.

package main

import (
	"os"

	"github.com/mytoolit/icostat/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
