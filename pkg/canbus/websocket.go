// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 MyTooliT

package canbus

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/gorilla/websocket"
)

// envelope is the CBOR representation of a frame on a WebSocket bridge:
// [id, extended, data, timestamp_us]
type envelope struct {
	_         struct{} `cbor:",toarray"`
	ID        uint32
	Extended  bool
	Data      []byte
	Timestamp int64
}

// EncodeEnvelope encodes a frame as a CBOR envelope
func EncodeEnvelope(f Frame) ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	var ts int64
	if !f.Timestamp.IsZero() {
		ts = f.Timestamp.UnixMicro()
	}
	data, err := cbor.Marshal(envelope{ID: f.ID, Extended: f.Extended, Data: f.Data, Timestamp: ts})
	if err != nil {
		return nil, fmt.Errorf("failed to encode CBOR envelope: %w", err)
	}
	return data, nil
}

// DecodeEnvelope decodes a CBOR envelope into a frame. Frames without a
// bridge timestamp are stamped with the local receive time.
func DecodeEnvelope(data []byte) (Frame, error) {
	if len(data) == 0 {
		return Frame{}, fmt.Errorf("empty CBOR envelope")
	}
	var env envelope
	if err := cbor.Unmarshal(data, &env); err != nil {
		return Frame{}, fmt.Errorf("failed to decode CBOR envelope: %w", err)
	}
	frame := Frame{ID: env.ID, Extended: env.Extended, Data: env.Data}
	if env.Timestamp != 0 {
		frame.Timestamp = time.UnixMicro(env.Timestamp)
	} else {
		frame.Timestamp = time.Now()
	}
	if err := frame.Validate(); err != nil {
		return Frame{}, err
	}
	return frame, nil
}

// WebSocketBus exchanges frames with a remote CAN bridge. Each binary
// WebSocket message carries one CBOR envelope.
type WebSocketBus struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	closed  atomic.Bool
}

// DialWebSocket connects to a CAN bridge with optional HTTP Basic auth
func DialWebSocket(wsURL, username, password string, skipSSLVerify bool) (*WebSocketBus, error) {
	// Parse and validate URL
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %v", err)
	}

	switch u.Scheme {
	case "ws", "wss":
		// OK
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: skipSSLVerify,
		}
	}

	headers := http.Header{}
	if username != "" && password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket connection failed (HTTP %d): %v", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket connection failed: %v", err)
	}

	return NewWebSocketBus(conn), nil
}

// NewWebSocketBus wraps an established WebSocket connection
func NewWebSocketBus(conn *websocket.Conn) *WebSocketBus {
	return &WebSocketBus{conn: conn}
}

// Send transmits a frame as a binary message
func (w *WebSocketBus) Send(frame Frame) error {
	if w.closed.Load() {
		return ErrClosed
	}
	data, err := EncodeEnvelope(frame)
	if err != nil {
		return err
	}

	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	return w.conn.WriteMessage(websocket.BinaryMessage, data)
}

// Receive returns the next frame from the bridge. Read errors are
// permanent for a WebSocket and are reported as ErrClosed.
func (w *WebSocketBus) Receive() (Frame, error) {
	for {
		if w.closed.Load() {
			return Frame{}, ErrClosed
		}

		messageType, data, err := w.conn.ReadMessage()
		if err != nil {
			w.closed.Store(true)
			return Frame{}, fmt.Errorf("%w: %v", ErrClosed, err)
		}

		// Only binary messages carry frames
		if messageType != websocket.BinaryMessage {
			continue
		}

		return DecodeEnvelope(data)
	}
}

// Close closes the WebSocket connection
func (w *WebSocketBus) Close() error {
	if !w.closed.CompareAndSwap(false, true) {
		return nil
	}
	w.writeMu.Lock()
	_ = w.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	w.writeMu.Unlock()
	return w.conn.Close()
}
