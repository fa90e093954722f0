// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 MyTooliT

package mytoolit

import (
	"fmt"
	"strings"
)

// FormatMessage formats a message for display
func FormatMessage(m Message) string {
	var b strings.Builder

	if !m.Timestamp.IsZero() {
		fmt.Fprintf(&b, "[%s] ", m.Timestamp.Format("15:04:05.000"))
	}

	kind := "ACK"
	if m.Request {
		kind = "REQ"
	}
	if m.Error {
		kind += " ERROR"
	}

	fmt.Fprintf(&b, "%s -> %s %s:%s (%s)", m.Sender, m.Receiver,
		m.Block, CommandName(m.Block, m.Command), kind)

	if len(m.Data) > 0 {
		b.WriteString(" ")
		b.WriteString(formatPayload(m))
	}
	return b.String()
}

// formatPayload decodes well known payloads, falling back to a hex dump
func formatPayload(m Message) string {
	switch {
	case m.Block == BlockSystem && m.Command == CommandBluetooth && len(m.Data) >= 2:
		return fmt.Sprintf("subcommand=%d device=%d data=[% X]",
			m.Data[0], m.Data[1], m.Data[2:])

	case m.Block == BlockEEPROM && len(m.Data) >= 4:
		return fmt.Sprintf("page=%d offset=%d length=%d data=[% X]",
			m.Data[0], m.Data[1], m.Data[2], m.Data[4:])

	case m.Block == BlockStreaming && m.Command == CommandStreamingData && !m.Request && len(m.Data) >= 2:
		return fmt.Sprintf("format=0x%02X counter=%d data=[% X]",
			m.Data[0], m.Data[1], m.Data[2:])
	}

	return fmt.Sprintf("[% X]", m.Data)
}
