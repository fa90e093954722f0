// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 MyTooliT

package icotronic

import (
	"fmt"
	"strings"
	"time"
)

// StreamStatistics tracks received batches and frames lost according to
// the wrapping message counter
type StreamStatistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	Batches    uint64
	LostFrames uint64

	lastCounter uint8
	started     bool
}

// NewStreamStatistics creates a new statistics tracker
func NewStreamStatistics() *StreamStatistics {
	now := time.Now()
	return &StreamStatistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// Update records a batch and returns the number of frames lost since the
// previous one. A repeated counter is a duplicate and loses nothing.
func (s *StreamStatistics) Update(counter uint8, at time.Time) uint64 {
	var lost uint64
	if s.started && counter != s.lastCounter {
		lost = uint64(counter - s.lastCounter - 1)
	}
	s.started = true
	s.lastCounter = counter
	s.Batches++
	s.LostFrames += lost
	s.LastUpdateTime = at
	return lost
}

// LossRatio returns the share of frames lost
func (s *StreamStatistics) LossRatio() float64 {
	total := s.Batches + s.LostFrames
	if total == 0 {
		return 0
	}
	return float64(s.LostFrames) / float64(total)
}

// BatchRate returns the received batches per second
func (s *StreamStatistics) BatchRate() float64 {
	elapsed := s.LastUpdateTime.Sub(s.StartTime).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(s.Batches) / elapsed
}

// String returns a formatted statistics summary
func (s *StreamStatistics) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "=== Stream Statistics (%.1f seconds) ===\n", s.LastUpdateTime.Sub(s.StartTime).Seconds())
	fmt.Fprintf(&b, "Batches:         %8d\n", s.Batches)
	fmt.Fprintf(&b, "Lost Frames:     %8d (%.2f%%)\n", s.LostFrames, s.LossRatio()*100)
	fmt.Fprintf(&b, "Batch Rate:      %8.1f batches/sec\n", s.BatchRate())
	b.WriteString("=======================================\n")
	return b.String()
}

// Reset resets all counters
func (s *StreamStatistics) Reset() {
	*s = *NewStreamStatistics()
}
