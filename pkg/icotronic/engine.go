// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 MyTooliT

package icotronic

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mytoolit/icostat/pkg/canbus"
	"github.com/mytoolit/icostat/pkg/mytoolit"
	"github.com/sirupsen/logrus"
)

// Retry policy
const (
	DefaultRetries = 10

	baseTimeout = 500 * time.Millisecond
	timeoutStep = 100 * time.Millisecond
	maxTimeout  = 2 * time.Second
)

// errAttemptTimeout marks an attempt that got no matching response in time
var errAttemptTimeout = errors.New("attempt timed out")

// FilterByte matches one payload byte, either exactly or any value
type FilterByte struct {
	value byte
	any   bool
}

// Any matches every byte value
var Any = FilterByte{any: true}

// Exact matches the byte b
func Exact(b byte) FilterByte {
	return FilterByte{value: b}
}

// ResponseFilter matches the leading payload bytes of a response. Bytes past
// the end of the filter are not inspected.
type ResponseFilter []FilterByte

// ExpectBytes returns a filter matching the exact leading bytes
func ExpectBytes(b ...byte) ResponseFilter {
	f := make(ResponseFilter, len(b))
	for i, v := range b {
		f[i] = Exact(v)
	}
	return f
}

// Match reports whether data satisfies the filter
func (f ResponseFilter) Match(data []byte) bool {
	if len(data) < len(f) {
		return false
	}
	for i, fb := range f {
		if !fb.any && data[i] != fb.value {
			return false
		}
	}
	return true
}

func (f ResponseFilter) String() string {
	parts := make([]string, len(f))
	for i, fb := range f {
		if fb.any {
			parts[i] = "*"
		} else {
			parts[i] = fmt.Sprintf("%02X", fb.value)
		}
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// Request describes one exchange with a node
type Request struct {
	Message     mytoolit.Message
	Description string         // action for error messages, e.g. "read EEPROM"
	Expect      ResponseFilter // leading response bytes, nil matches any payload
	MinTimeout  time.Duration  // lower bound for every attempt timeout
	Retries     int            // attempts, 0 uses the connection default
}

// AttemptTimeout returns the response timeout of attempt k (counting from
// 0): 500 ms plus 100 ms per retry, capped at 2 s, but never below minimum.
func AttemptTimeout(attempt int, minimum time.Duration) time.Duration {
	timeout := baseTimeout + time.Duration(attempt)*timeoutStep
	if timeout > maxTimeout {
		timeout = maxTimeout
	}
	if timeout < minimum {
		timeout = minimum
	}
	return timeout
}

// Engine correlates requests with their responses
type Engine struct {
	conn    *Connection
	retries int
}

// Do sends the request and waits for the matching response, retrying on
// timeouts. It returns *ErrorResponseError when the node reports an error
// and *NoResponseError when all attempts time out. Exactly one listener is
// registered per attempt and it is removed before Do returns.
func (e *Engine) Do(ctx context.Context, req Request) (mytoolit.Message, error) {
	retries := req.Retries
	if retries <= 0 {
		retries = e.retries
	}
	log := e.conn.log.WithFields(logrus.Fields{
		"node":   req.Message.Receiver.String(),
		"action": req.Description,
	})

	var sendErr error
	for attempt := 0; attempt < retries; attempt++ {
		timeout := AttemptTimeout(attempt, req.MinTimeout)

		response, err := e.attempt(ctx, req, timeout)
		switch {
		case err == nil:
			if response.Error {
				e.conn.metrics.request(outcomeErrorResponse)
				log.WithField("payload", fmt.Sprintf("% X", response.Data)).Debug("error response")
				return mytoolit.Message{}, &ErrorResponseError{
					Description: req.Description,
					Request:     req.Message,
					Response:    response,
				}
			}
			e.conn.metrics.request(outcomeSuccess)
			return response, nil

		case errors.Is(err, errAttemptTimeout):
			log.WithFields(logrus.Fields{
				"attempt": attempt + 1,
				"timeout": timeout,
			}).Debug("no response")

		case errors.Is(err, ErrClosed):
			return mytoolit.Message{}, fmt.Errorf("unable to %s: %w", req.Description, err)

		case ctx.Err() != nil:
			e.conn.metrics.request(outcomeCanceled)
			return mytoolit.Message{}, err

		default:
			sendErr = err
			log.WithError(err).WithField("attempt", attempt+1).Warn("send failed")
		}
	}

	e.conn.metrics.request(outcomeNoResponse)
	return mytoolit.Message{}, &NoResponseError{
		Description: req.Description,
		Request:     req.Message,
		Attempts:    retries,
		Err:         sendErr,
	}
}

// attempt performs a single send-and-wait cycle
func (e *Engine) attempt(ctx context.Context, req Request, timeout time.Duration) (mytoolit.Message, error) {
	if err := ctx.Err(); err != nil {
		return mytoolit.Message{}, err
	}

	responses := make(chan mytoolit.Message, 1)
	sub := e.conn.dispatcher.Subscribe(func(m mytoolit.Message) {
		if !matchesResponse(req.Message, m, req.Expect) {
			return
		}
		select {
		case responses <- m:
		default:
		}
	})
	defer sub.Close()

	e.conn.metrics.attempt()
	if err := e.conn.send(req.Message); err != nil {
		if errors.Is(err, canbus.ErrClosed) {
			return mytoolit.Message{}, ErrClosed
		}
		return mytoolit.Message{}, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case m := <-responses:
		return m, nil
	case <-timer.C:
		return mytoolit.Message{}, errAttemptTimeout
	case <-ctx.Done():
		return mytoolit.Message{}, ctx.Err()
	case <-e.conn.closed:
		return mytoolit.Message{}, ErrClosed
	case <-e.conn.done:
		return mytoolit.Message{}, ErrClosed
	}
}

// matchesResponse reports whether m answers request. Error responses match
// on identity alone since their payload need not echo the request.
func matchesResponse(request, m mytoolit.Message, expect ResponseFilter) bool {
	if m.Request || m.Block != request.Block || m.Command != request.Command {
		return false
	}
	if m.Receiver != request.Sender {
		return false
	}
	if request.Receiver != mytoolit.SelfAddressing && request.Receiver != mytoolit.Broadcast &&
		m.Sender != request.Receiver {
		return false
	}
	return m.Error || expect.Match(m.Data)
}
