// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 MyTooliT

package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mytoolit/icostat/pkg/icotronic"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11"))
)

func printTitle(title, connInfo string) {
	fmt.Println(titleStyle.Render("icostat - " + title))
	fmt.Printf("%s %s\n\n", labelStyle.Render("Connection:"), connInfo)
}

func printField(label string, value any) {
	fmt.Printf("%s %s\n", labelStyle.Render(fmt.Sprintf("%-16s", label+":")), valueStyle.Render(fmt.Sprint(value)))
}

// exitConnectionError reports a failure to reach the bus (exit code 2)
func exitConnectionError(err error) {
	fmt.Fprintln(os.Stderr, errorStyle.Render("Connection error: ")+err.Error())
	os.Exit(2)
}

// exitOperationError reports a failed operation (exit code 1)
func exitOperationError(err error) {
	fmt.Fprintln(os.Stderr, errorStyle.Render("Error: ")+err.Error())

	var timeoutErr *icotronic.DiscoveryTimeoutError
	var unsupportedErr *icotronic.UnsupportedFeatureError
	switch {
	case errors.As(err, &timeoutErr):
		fmt.Fprintln(os.Stderr, warningStyle.Render("Hint: check that the sensor device is charged and in range"))
	case errors.As(err, &unsupportedErr):
		fmt.Fprintln(os.Stderr, warningStyle.Render("Hint: the device firmware does not support "+unsupportedErr.Feature))
	}
	os.Exit(1)
}
