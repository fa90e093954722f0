// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 MyTooliT

package cmd

import (
	"fmt"
	"os"

	"github.com/mytoolit/icostat/pkg/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string

	// Serial connection flags
	portName string
	baudRate int
	bitrate  int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	// Protocol flags
	retries int

	// cfg holds the merged file and flag settings
	cfg = config.Default()
)

var rootCmd = &cobra.Command{
	Use:   "icostat",
	Short: "ICOtronic CAN client",
	Long: `icostat - A CLI tool for ICOtronic sensor systems.

Talks to the stationary transceiver unit (STU) over CAN and, through it, to
Bluetooth sensor devices (STH/SMH): reset nodes, list and connect to sensor
devices, access their EEPROM, configure the ADC and stream measurement data.

Connection modes:
  Serial:    --port /dev/ttyACM0 [--baud 115200] [--bitrate 1000000]
             (SLCAN/Lawicel CAN adapter)
  WebSocket: --url ws://host/can [--username user]
             (CAN bridge, CBOR frame envelopes)

Settings can also be read from a YAML file (--config). Flags override file
values.

For WebSocket authentication, the password is read from the ICOSTAT_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.`,
	Version:           "1.0.0",
	PersistentPreRunE: loadConfig,
	SilenceUsage:      true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port of the CAN adapter")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 115200, "Baud rate (serial only)")
	rootCmd.PersistentFlags().IntVar(&bitrate, "bitrate", 1000000, "CAN bitrate (serial only)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL of the CAN bridge (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	rootCmd.PersistentFlags().IntVar(&retries, "retries", 10, "Attempts per request")
}

// loadConfig reads the config file and applies explicitly set flags
func loadConfig(cmd *cobra.Command, args []string) error {
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Connection.Transport = config.TransportSerial
		cfg.Connection.Port = portName
	}
	if flags.Changed("baud") {
		cfg.Connection.Baud = baudRate
	}
	if flags.Changed("bitrate") {
		cfg.Connection.Bitrate = bitrate
	}
	if flags.Changed("url") {
		cfg.Connection.Transport = config.TransportWebSocket
		cfg.Connection.URL = wsURL
	}
	if flags.Changed("username") {
		cfg.Connection.Username = wsUsername
	}
	if flags.Changed("no-ssl-verify") {
		cfg.Connection.NoSSLVerify = wsNoSSLVerify
	}
	if flags.Changed("retries") {
		cfg.Protocol.Retries = retries
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	logrus.SetLevel(level)
	logrus.SetOutput(os.Stderr)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return nil
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
