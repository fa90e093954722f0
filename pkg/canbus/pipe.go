// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 MyTooliT

package canbus

import (
	"sync"
	"time"
)

const pipeDepth = 1024

type pipeShared struct {
	closed chan struct{}
	once   sync.Once
}

type pipeEnd struct {
	shared *pipeShared
	rx     <-chan Frame
	tx     chan<- Frame
}

// Pipe creates a connected pair of in-memory buses. Frames sent on one end
// are received on the other. Closing either end closes both.
func Pipe() (Bus, Bus) {
	shared := &pipeShared{closed: make(chan struct{})}
	ab := make(chan Frame, pipeDepth)
	ba := make(chan Frame, pipeDepth)
	return &pipeEnd{shared: shared, rx: ba, tx: ab}, &pipeEnd{shared: shared, rx: ab, tx: ba}
}

func (p *pipeEnd) Send(frame Frame) error {
	if err := frame.Validate(); err != nil {
		return err
	}
	select {
	case <-p.shared.closed:
		return ErrClosed
	default:
	}

	frame = frame.clone()
	frame.Timestamp = time.Now()

	select {
	case p.tx <- frame:
		return nil
	case <-p.shared.closed:
		return ErrClosed
	}
}

func (p *pipeEnd) Receive() (Frame, error) {
	select {
	case frame := <-p.rx:
		return frame, nil
	case <-p.shared.closed:
		return Frame{}, ErrClosed
	}
}

func (p *pipeEnd) Close() error {
	p.shared.once.Do(func() { close(p.shared.closed) })
	return nil
}
