// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 MyTooliT

package icotronic

import (
	"sync"

	"github.com/mytoolit/icostat/pkg/mytoolit"
)

// Listener is called once for every message received on the connection.
// Listeners run on the connection's read goroutine and must not block.
type Listener func(m mytoolit.Message)

type registration struct {
	id       uint64
	listener Listener
}

// Dispatcher fans received messages out to all registered listeners in
// registration order
type Dispatcher struct {
	mu            sync.RWMutex
	nextID        uint64
	registrations []registration
}

// NewDispatcher creates an empty dispatcher
func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// Subscribe registers a listener until the returned subscription is closed
func (d *Dispatcher) Subscribe(listener Listener) *Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextID++
	d.registrations = append(d.registrations, registration{id: d.nextID, listener: listener})
	return &Subscription{dispatcher: d, id: d.nextID}
}

// Dispatch delivers m to every listener registered at the time of the call
func (d *Dispatcher) Dispatch(m mytoolit.Message) {
	d.mu.RLock()
	snapshot := make([]registration, len(d.registrations))
	copy(snapshot, d.registrations)
	d.mu.RUnlock()

	for _, r := range snapshot {
		r.listener(m)
	}
}

// Len returns the number of registered listeners
func (d *Dispatcher) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.registrations)
}

func (d *Dispatcher) remove(id uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i, r := range d.registrations {
		if r.id == id {
			d.registrations = append(d.registrations[:i], d.registrations[i+1:]...)
			return
		}
	}
}

// Subscription is the handle of a registered listener
type Subscription struct {
	dispatcher *Dispatcher
	id         uint64
	once       sync.Once
}

// ID returns the registration id
func (s *Subscription) ID() uint64 {
	return s.id
}

// Close removes the listener. Closing more than once has no effect.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.dispatcher.remove(s.id)
	})
}
