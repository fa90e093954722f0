// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 MyTooliT

package icotronic

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mytoolit/icostat/pkg/mytoolit"
)

var (
	// ErrClosed is returned for operations on a closed connection or stream
	ErrClosed = errors.New("icotronic: closed")

	// ErrStreamTimeout is returned when no streaming data arrives within the
	// stream timeout
	ErrStreamTimeout = errors.New("stream timeout: no data received")

	// ErrStreamConsumed is returned when the batches of a stream are
	// iterated a second time
	ErrStreamConsumed = errors.New("stream already iterated")
)

// NoResponseError reports that a request exhausted all attempts without a
// matching response
type NoResponseError struct {
	Description string
	Request     mytoolit.Message
	Attempts    int
	Err         error // last transport error, if any
}

func (e *NoResponseError) Error() string {
	msg := fmt.Sprintf("unable to %s: no response from %s after %d attempts",
		e.Description, e.Request.Receiver, e.Attempts)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *NoResponseError) Unwrap() error {
	return e.Err
}

// ErrorResponseError reports that a node answered a request with the error
// flag set
type ErrorResponseError struct {
	Description string
	Request     mytoolit.Message
	Response    mytoolit.Message
}

func (e *ErrorResponseError) Error() string {
	return fmt.Sprintf("unable to %s: %s reported an error (request [% X], response [% X])",
		e.Description, e.Response.Sender, e.Request.Data, e.Response.Data)
}

// Payload returns the error payload reported by the node
func (e *ErrorResponseError) Payload() []byte {
	return e.Response.Payload()
}

// DiscoveryTimeoutError reports that no matching sensor device was found or
// connected before the discovery deadline
type DiscoveryTimeoutError struct {
	Identifier any
	Devices    []DeviceInfo
	Timeout    time.Duration
	Phase      DiscoveryState
}

func (e *DiscoveryTimeoutError) Error() string {
	seen := "none found"
	if len(e.Devices) > 0 {
		names := make([]string, len(e.Devices))
		for i, d := range e.Devices {
			names[i] = d.String()
		}
		seen = strings.Join(names, "; ")
	}

	if e.Phase == StateConnecting {
		return fmt.Sprintf("unable to connect to sensor device %v within %s (devices: %s)",
			e.Identifier, e.Timeout, seen)
	}
	return fmt.Sprintf("unable to find sensor device %v within %s (devices: %s)",
		e.Identifier, e.Timeout, seen)
}

func (e *DiscoveryTimeoutError) Unwrap() error {
	return context.DeadlineExceeded
}

// UnsupportedFeatureError reports that a node rejected an optional feature
type UnsupportedFeatureError struct {
	Feature string
	Err     error
}

func (e *UnsupportedFeatureError) Error() string {
	return fmt.Sprintf("%s not supported by device: %v", e.Feature, e.Err)
}

func (e *UnsupportedFeatureError) Unwrap() error {
	return e.Err
}

// StreamOverflowError reports that the consumer did not keep up with the
// streaming data
type StreamOverflowError struct {
	Capacity int
	Session  uuid.UUID
}

func (e *StreamOverflowError) Error() string {
	return fmt.Sprintf("stream %s overflow: more than %d batches buffered", e.Session, e.Capacity)
}

// IdentifierTypeError reports a device identifier of unsupported type
type IdentifierTypeError struct {
	Value any
}

func (e *IdentifierTypeError) Error() string {
	return fmt.Sprintf("unsupported device identifier type %T (want int, string or net.HardwareAddr)", e.Value)
}
