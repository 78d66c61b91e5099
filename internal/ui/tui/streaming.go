// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tui

import "time"

const (
	defaultBatchSize = 15
	defaultMaxFPS    = 30
)

// frameLimiter batches transcript redraws while a reply streams in.
// A redraw is due once batchSize deltas have arrived or minInterval has
// passed since the last one, whichever comes first. The conversation
// already holds the text, so only the count of pending deltas is tracked.
type frameLimiter struct {
	pending     int
	lastFlush   time.Time
	batchSize   int
	minInterval time.Duration
	now         func() time.Time
}

func newFrameLimiter(batchSize, maxFPS int) *frameLimiter {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if maxFPS <= 0 || maxFPS > 60 {
		maxFPS = defaultMaxFPS
	}
	l := &frameLimiter{
		batchSize:   batchSize,
		minInterval: time.Second / time.Duration(maxFPS),
		now:         time.Now,
	}
	l.lastFlush = l.now()
	return l
}

// Write records one delta.
func (l *frameLimiter) Write() {
	l.pending++
}

// Flush reports whether a redraw is due, and if so resets the batch.
func (l *frameLimiter) Flush() bool {
	if l.pending == 0 {
		return false
	}
	if l.pending < l.batchSize && l.now().Sub(l.lastFlush) < l.minInterval {
		return false
	}
	l.reset()
	return true
}

// ForceFlush reports whether anything is pending, resetting the batch.
func (l *frameLimiter) ForceFlush() bool {
	if l.pending == 0 {
		return false
	}
	l.reset()
	return true
}

// Pending returns the number of deltas not yet drawn.
func (l *frameLimiter) Pending() int {
	return l.pending
}

func (l *frameLimiter) reset() {
	l.pending = 0
	l.lastFlush = l.now()
}
