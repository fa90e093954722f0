// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 MyTooliT

package icotronic

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Request outcomes
const (
	outcomeSuccess       = "success"
	outcomeErrorResponse = "error_response"
	outcomeNoResponse    = "no_response"
	outcomeCanceled      = "canceled"
)

// metrics holds the optional Prometheus collectors of a connection. A nil
// *metrics disables collection.
type metrics struct {
	requests        *prometheus.CounterVec // Requests by outcome
	attempts        prometheus.Counter     // Request frames sent
	streamBatches   prometheus.Counter     // Decoded streaming batches
	streamLost      prometheus.Counter     // Streaming frames lost (counter gaps)
	streamOverflows prometheus.Counter     // Streams failed by overflow
}

func newMetrics(registerer prometheus.Registerer) (*metrics, error) {
	if registerer == nil {
		return nil, nil // Metrics disabled
	}

	m := &metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "icostat",
			Subsystem: "protocol",
			Name:      "requests_total",
			Help:      "Total requests by outcome",
		}, []string{"outcome"}),

		attempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "icostat",
			Subsystem: "protocol",
			Name:      "request_attempts_total",
			Help:      "Total request frames sent, including retries",
		}),

		streamBatches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "icostat",
			Subsystem: "stream",
			Name:      "batches_total",
			Help:      "Total streaming sample batches received",
		}),

		streamLost: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "icostat",
			Subsystem: "stream",
			Name:      "lost_frames_total",
			Help:      "Total streaming frames lost according to the message counter",
		}),

		streamOverflows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "icostat",
			Subsystem: "stream",
			Name:      "overflows_total",
			Help:      "Total streams failed because the consumer fell behind",
		}),
	}

	for _, c := range []prometheus.Collector{m.requests, m.attempts, m.streamBatches, m.streamLost, m.streamOverflows} {
		if err := registerer.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *metrics) request(outcome string) {
	if m != nil {
		m.requests.WithLabelValues(outcome).Inc()
	}
}

func (m *metrics) attempt() {
	if m != nil {
		m.attempts.Inc()
	}
}

func (m *metrics) batch(lost uint64) {
	if m != nil {
		m.streamBatches.Inc()
		m.streamLost.Add(float64(lost))
	}
}

func (m *metrics) overflow() {
	if m != nil {
		m.streamOverflows.Inc()
	}
}
