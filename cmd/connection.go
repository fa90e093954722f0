// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 MyTooliT

package cmd

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/mytoolit/icostat/pkg/canbus"
	"github.com/mytoolit/icostat/pkg/config"
	"github.com/mytoolit/icostat/pkg/icotronic"
	"github.com/sirupsen/logrus"
	"golang.org/x/term"
)

// GetPassword retrieves password from environment or prompts user
func GetPassword() (string, error) {
	// First check environment variable
	if pw := os.Getenv("ICOSTAT_PASSWORD"); pw != "" {
		return pw, nil
	}

	// Prompt user for password (hide input)
	fmt.Fprint(os.Stderr, "Password: ")

	// Read password without echo
	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Fallback to regular input if terminal functions fail
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(os.Stderr) // newline after password
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr) // newline after password
	return string(passwordBytes), nil
}

// OpenBus opens the configured CAN transport
func OpenBus() (canbus.Bus, string, error) {
	c := cfg.Connection

	switch c.Transport {
	case config.TransportWebSocket:
		if c.URL == "" {
			return nil, "", fmt.Errorf("websocket transport requires --url")
		}
		password := ""
		if c.Username != "" {
			var err error
			password, err = GetPassword()
			if err != nil {
				return nil, "", err
			}
		}

		bus, err := canbus.DialWebSocket(c.URL, c.Username, password, c.NoSSLVerify)
		if err != nil {
			return nil, "", err
		}
		return bus, fmt.Sprintf("WebSocket: %s", c.URL), nil

	default:
		if c.Port == "" {
			return nil, "", fmt.Errorf("either --port or --url must be specified")
		}
		bus, err := canbus.OpenSerial(c.Port, c.Baud, c.Bitrate)
		if err != nil {
			return nil, "", err
		}
		return bus, fmt.Sprintf("Serial: %s @ %d baud, CAN %d bit/s", c.Port, c.Baud, c.Bitrate), nil
	}
}

// OpenConnection opens the bus and attaches a protocol client. Connection
// errors terminate the process with exit code 2.
func OpenConnection() (*icotronic.Connection, string) {
	bus, connInfo, err := OpenBus()
	if err != nil {
		exitConnectionError(err)
	}

	conn, err := icotronic.Open(bus,
		icotronic.WithLogger(logrus.StandardLogger()),
		icotronic.WithRetries(cfg.Protocol.Retries),
		icotronic.WithDiscovery(cfg.Protocol.Discovery()),
	)
	if err != nil {
		bus.Close()
		exitConnectionError(err)
	}
	return conn, connInfo
}

// parseIdentifier interprets a device argument as hardware address, device
// number or name, in that order
func parseIdentifier(s string) any {
	if mac, err := net.ParseMAC(s); err == nil {
		return mac
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return s
}
