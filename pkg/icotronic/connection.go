// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 MyTooliT

// Package icotronic is the client side of the ICOtronic protocol. It turns
// a CAN bus into reliable request/response calls and builds the node command
// surface on top: node state, Bluetooth discovery of sensor devices, EEPROM
// access, ADC configuration and data streaming.
//
// A Connection owns the bus and the dispatcher that fans received messages
// out to listeners. All requests go through its Engine.
package icotronic

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mytoolit/icostat/pkg/canbus"
	"github.com/mytoolit/icostat/pkg/mytoolit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// receiveErrorDelay throttles the read loop after transient receive errors
const receiveErrorDelay = 10 * time.Millisecond

// Option configures a Connection
type Option func(*options)

type options struct {
	logger     logrus.FieldLogger
	codec      mytoolit.Codec
	registerer prometheus.Registerer
	retries    int
	discovery  DiscoveryConfig
}

// WithLogger sets the logger (default: logrus standard logger)
func WithLogger(logger logrus.FieldLogger) Option {
	return func(o *options) { o.logger = logger }
}

// WithCodec sets the frame codec (default: mytoolit.StandardCodec)
func WithCodec(codec mytoolit.Codec) Option {
	return func(o *options) { o.codec = codec }
}

// WithMetrics registers protocol metrics with registerer
func WithMetrics(registerer prometheus.Registerer) Option {
	return func(o *options) { o.registerer = registerer }
}

// WithRetries sets the default number of attempts per request
func WithRetries(retries int) Option {
	return func(o *options) { o.retries = retries }
}

// WithDiscovery sets the discovery timing
func WithDiscovery(config DiscoveryConfig) Option {
	return func(o *options) { o.discovery = config }
}

// Connection is a client attached to a CAN bus. It owns the bus, the
// dispatcher and the read goroutine that feeds it.
type Connection struct {
	bus        canbus.Bus
	codec      mytoolit.Codec
	dispatcher *Dispatcher
	engine     *Engine
	log        logrus.FieldLogger
	metrics    *metrics
	discovery  DiscoveryConfig
	address    mytoolit.NodeAddress

	closeOnce sync.Once
	closeErr  error
	closed    chan struct{}
	done      chan struct{}
}

// Open attaches a client to bus and starts receiving. Closing the
// connection closes the bus.
func Open(bus canbus.Bus, opts ...Option) (*Connection, error) {
	o := options{
		logger:    logrus.StandardLogger(),
		codec:     mytoolit.StandardCodec{},
		retries:   DefaultRetries,
		discovery: DefaultDiscoveryConfig(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.retries < 1 {
		return nil, fmt.Errorf("invalid retries: %d", o.retries)
	}
	if err := o.discovery.Validate(); err != nil {
		return nil, err
	}

	m, err := newMetrics(o.registerer)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	c := &Connection{
		bus:        bus,
		codec:      o.codec,
		dispatcher: NewDispatcher(),
		log:        o.logger,
		metrics:    m,
		discovery:  o.discovery,
		address:    mytoolit.SPU(),
		closed:     make(chan struct{}),
		done:       make(chan struct{}),
	}
	c.engine = &Engine{conn: c, retries: o.retries}

	go c.readLoop()
	c.log.Debug("connection opened")
	return c, nil
}

// readLoop decodes received frames and hands them to the dispatcher
func (c *Connection) readLoop() {
	defer close(c.done)

	for {
		frame, err := c.bus.Receive()
		if err != nil {
			if errors.Is(err, canbus.ErrClosed) {
				return
			}
			c.log.WithError(err).Warn("receive failed")
			select {
			case <-c.closed:
				return
			case <-time.After(receiveErrorDelay):
			}
			continue
		}

		m, err := c.codec.Decode(frame)
		if err != nil {
			c.log.WithError(err).WithField("frame", frame.String()).Debug("ignoring frame")
			continue
		}
		if m.Timestamp.IsZero() {
			m.Timestamp = time.Now()
		}
		c.dispatcher.Dispatch(m)
	}
}

// send encodes and transmits one message
func (c *Connection) send(m mytoolit.Message) error {
	frame, err := c.codec.Encode(m)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	return c.bus.Send(frame)
}

// Close stops the read goroutine and closes the bus
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.closeErr = c.bus.Close()
		<-c.done
		c.log.Debug("connection closed")
	})
	return c.closeErr
}

// Done is closed once the connection stops receiving
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Engine returns the request/response engine of the connection
func (c *Connection) Engine() *Engine {
	return c.engine
}

// Subscribe registers a listener for every received message
func (c *Connection) Subscribe(listener Listener) *Subscription {
	return c.dispatcher.Subscribe(listener)
}

// Node returns a handle for the node at address
func (c *Connection) Node(address mytoolit.NodeAddress) *Node {
	return &Node{conn: c, address: address}
}

// STU returns the handle of the transceiver unit (STU 1)
func (c *Connection) STU() *STU {
	return &STU{Node: Node{conn: c, address: mytoolit.STU(1)}}
}
