// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 MyTooliT

package icotronic

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"iter"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/mytoolit/icostat/pkg/mytoolit"
	"github.com/sirupsen/logrus"
)

// DefaultStreamTimeout is the default time to wait for the next batch
const DefaultStreamTimeout = 5 * time.Second

// Streaming format byte: bit 7 streaming, bit 6 value width (0: 16 bit),
// bits 5-3 enabled channels, bits 2-0 data sets per frame.
const (
	formatStreaming = 0x80
	formatFirst     = 1 << 5
	formatSecond    = 1 << 4
	formatThird     = 1 << 3
	formatSetsMask  = 0x07

	setsStop  = 0 // stop streaming
	setsOne   = 1 // one value per enabled channel
	setsThree = 2 // three values of the single enabled channel

	stopFormat = formatStreaming | setsStop
)

// StreamingConfiguration selects the channels to stream
type StreamingConfiguration struct {
	First  bool
	Second bool
	Third  bool
}

// Channels returns the number of enabled channels
func (c StreamingConfiguration) Channels() int {
	n := 0
	for _, enabled := range []bool{c.First, c.Second, c.Third} {
		if enabled {
			n++
		}
	}
	return n
}

// Validate checks that at least one channel is enabled
func (c StreamingConfiguration) Validate() error {
	if c.Channels() == 0 {
		return errors.New("streaming configuration has no enabled channel")
	}
	return nil
}

// SamplesPerFrame returns the values per channel carried in one data frame
func (c StreamingConfiguration) SamplesPerFrame() int {
	if c.Channels() == 1 {
		return 3
	}
	return 1
}

func (c StreamingConfiguration) String() string {
	var channels []string
	if c.First {
		channels = append(channels, "1")
	}
	if c.Second {
		channels = append(channels, "2")
	}
	if c.Third {
		channels = append(channels, "3")
	}
	return "channels " + strings.Join(channels, ", ")
}

func (c StreamingConfiguration) format() byte {
	b := byte(formatStreaming)
	if c.First {
		b |= formatFirst
	}
	if c.Second {
		b |= formatSecond
	}
	if c.Third {
		b |= formatThird
	}
	if c.Channels() == 1 {
		return b | setsThree
	}
	return b | setsOne
}

// SampleBatch holds the values of one streaming data frame
type SampleBatch struct {
	Counter   uint8
	Timestamp time.Time
	First     []uint16
	Second    []uint16
	Third     []uint16
}

// decode extracts the values of a data frame: format byte, message counter
// and up to three little endian 16 bit values
func (c StreamingConfiguration) decode(m mytoolit.Message) (SampleBatch, error) {
	values := c.Channels() * c.SamplesPerFrame()
	if len(m.Data) < 2+2*values {
		return SampleBatch{}, fmt.Errorf("short streaming frame [% X]", m.Data)
	}

	batch := SampleBatch{Counter: m.Data[1], Timestamp: m.Timestamp}
	raw := make([]uint16, values)
	for i := range raw {
		raw[i] = binary.LittleEndian.Uint16(m.Data[2+2*i:])
	}

	if c.Channels() == 1 {
		switch {
		case c.First:
			batch.First = raw
		case c.Second:
			batch.Second = raw
		default:
			batch.Third = raw
		}
		return batch, nil
	}

	next := 0
	for _, ch := range []struct {
		enabled bool
		dst     *[]uint16
	}{{c.First, &batch.First}, {c.Second, &batch.Second}, {c.Third, &batch.Third}} {
		if ch.enabled {
			*ch.dst = raw[next : next+1]
			next++
		}
	}
	return batch, nil
}

// bufferCapacity returns the number of frames received in about one second
// at the given sample rate
func bufferCapacity(sampleRate float64) int {
	return max(1, int(math.Ceil(sampleRate/3)))
}

// Stream is an open streaming session of a sensor device. Batches are
// buffered for about one second of data; a consumer that falls further
// behind fails the stream with *StreamOverflowError.
type Stream struct {
	device  *SensorDevice
	config  StreamingConfiguration
	session uuid.UUID
	timeout time.Duration
	ctx     context.Context
	log     logrus.FieldLogger

	batches chan SampleBatch
	sub     *Subscription

	mu    sync.Mutex
	stats *StreamStatistics
	err   error

	failed    chan struct{}
	closed    chan struct{}
	iterated  atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// OpenStream starts streaming the configured channels. Next waits at most
// timeout for a batch (DefaultStreamTimeout if zero). The stream must be
// closed to stop the device.
func (d *SensorDevice) OpenStream(ctx context.Context, config StreamingConfiguration, timeout time.Duration) (*Stream, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = DefaultStreamTimeout
	}

	adc, err := d.ADCConfiguration(ctx)
	if err != nil {
		return nil, err
	}

	session := uuid.New()
	s := &Stream{
		device:  d,
		config:  config,
		session: session,
		timeout: timeout,
		ctx:     context.WithoutCancel(ctx),
		log:     d.conn.log.WithField("session", session.String()),
		batches: make(chan SampleBatch, bufferCapacity(adc.SampleRate())),
		stats:   NewStreamStatistics(),
		failed:  make(chan struct{}),
		closed:  make(chan struct{}),
	}
	s.sub = d.conn.Subscribe(s.receive)

	format := config.format()
	_, err = d.request(ctx, mytoolit.BlockStreaming, mytoolit.CommandStreamingData,
		[]byte{format}, fmt.Sprintf("start streaming %s", config), ExpectBytes(format))
	if err != nil {
		s.CloseWithError(err)
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"channels": config.String(),
		"capacity": cap(s.batches),
	}).Info("stream started")
	return s, nil
}

// WithStream opens a stream, runs fn and closes the stream. If fn fails
// with anything but a cancellation, stopping is attempted once and its
// failure ignored.
func (d *SensorDevice) WithStream(ctx context.Context, config StreamingConfiguration, timeout time.Duration,
	fn func(*Stream) error) (err error) {
	s, err := d.OpenStream(ctx, config, timeout)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := s.CloseWithError(err); err == nil {
			err = closeErr
		}
	}()
	return fn(s)
}

// StopStreaming asks the device to stop streaming
func (d *SensorDevice) StopStreaming(ctx context.Context) error {
	return d.stopStreaming(ctx, false)
}

// stopStreaming sends the stop request. A best-effort stop is a single
// attempt whose failure is logged and dropped.
func (d *SensorDevice) stopStreaming(ctx context.Context, bestEffort bool) error {
	req := Request{
		Message: mytoolit.NewRequest(d.conn.address, d.address, mytoolit.BlockStreaming,
			mytoolit.CommandStreamingData, []byte{stopFormat}),
		Description: "stop streaming",
		Expect:      ExpectBytes(stopFormat),
	}
	if bestEffort {
		req.Retries = 1
	}

	_, err := d.conn.engine.Do(ctx, req)
	if err != nil && bestEffort {
		d.conn.log.WithError(err).Warn("best-effort stop streaming failed")
		return nil
	}
	return err
}

// receive is the dispatcher listener of the stream
func (s *Stream) receive(m mytoolit.Message) {
	if m.Block != mytoolit.BlockStreaming || m.Command != mytoolit.CommandStreamingData ||
		m.Request || m.Error || m.Sender != s.device.address {
		return
	}
	// Acknowledgments carry the format byte only
	if len(m.Data) < 2 || m.Data[0]&formatSetsMask == setsStop {
		return
	}

	batch, err := s.config.decode(m)
	if err != nil {
		s.log.WithError(err).Debug("ignoring streaming frame")
		return
	}

	s.mu.Lock()
	if s.err != nil {
		s.mu.Unlock()
		return
	}
	lost := s.stats.Update(batch.Counter, batch.Timestamp)
	s.mu.Unlock()
	s.device.conn.metrics.batch(lost)

	select {
	case s.batches <- batch:
	default:
		s.fail(&StreamOverflowError{Capacity: cap(s.batches), Session: s.session})
	}
}

// fail records the first fatal stream error
func (s *Stream) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return
	}
	s.err = err
	close(s.failed)
	s.device.conn.metrics.overflow()
	s.log.WithError(err).Error("stream failed")
}

// Err returns the error that failed the stream, if any
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Next waits for the next batch. It returns ErrStreamTimeout when no
// batch arrives within the stream timeout and *StreamOverflowError once
// the buffer has overflowed. Buffered batches are still returned after the
// connection stopped receiving; ErrClosed follows once they are drained.
func (s *Stream) Next(ctx context.Context) (SampleBatch, error) {
	select {
	case <-s.failed:
		return SampleBatch{}, s.Err()
	case <-s.closed:
		return SampleBatch{}, ErrClosed
	case <-ctx.Done():
		return SampleBatch{}, ctx.Err()
	default:
	}
	select {
	case batch := <-s.batches:
		return batch, nil
	default:
	}
	select {
	case <-s.device.conn.done:
		return SampleBatch{}, ErrClosed
	default:
	}

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case batch := <-s.batches:
		return batch, nil
	case <-s.failed:
		return SampleBatch{}, s.Err()
	case <-timer.C:
		return SampleBatch{}, fmt.Errorf("%w within %s", ErrStreamTimeout, s.timeout)
	case <-ctx.Done():
		return SampleBatch{}, ctx.Err()
	case <-s.closed:
		return SampleBatch{}, ErrClosed
	case <-s.device.conn.done:
		return SampleBatch{}, ErrClosed
	}
}

// Batches returns the batches as a sequence that ends after the first
// error. A stream can be iterated once.
func (s *Stream) Batches(ctx context.Context) iter.Seq2[SampleBatch, error] {
	return func(yield func(SampleBatch, error) bool) {
		if !s.iterated.CompareAndSwap(false, true) {
			yield(SampleBatch{}, ErrStreamConsumed)
			return
		}
		for {
			batch, err := s.Next(ctx)
			if err != nil {
				yield(SampleBatch{}, err)
				return
			}
			if !yield(batch, nil) {
				return
			}
		}
	}
}

// Session returns the id of the streaming session
func (s *Stream) Session() uuid.UUID {
	return s.session
}

// Capacity returns the buffer size in batches
func (s *Stream) Capacity() int {
	return cap(s.batches)
}

// Statistics returns a snapshot of the stream statistics
func (s *Stream) Statistics() StreamStatistics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.stats
}

// Close stops the stream
func (s *Stream) Close() error {
	return s.CloseWithError(nil)
}

// CloseWithError stops the stream after cause ended its use. The listener
// is removed before the stop request is sent. If cause, or the error that
// failed the stream, is not a cancellation the stop request is best-effort.
// Only the first call has an effect.
func (s *Stream) CloseWithError(cause error) error {
	s.closeOnce.Do(func() {
		s.sub.Close()
		close(s.closed)

		if cause == nil {
			cause = s.Err()
		}
		bestEffort := cause != nil &&
			!errors.Is(cause, context.Canceled) && !errors.Is(cause, context.DeadlineExceeded)
		s.closeErr = s.device.stopStreaming(s.ctx, bestEffort)

		stats := s.Statistics()
		s.log.WithFields(logrus.Fields{
			"batches": stats.Batches,
			"lost":    stats.LostFrames,
		}).Info("stream stopped")
	})
	return s.closeErr
}
