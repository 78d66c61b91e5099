// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package health tracks whether the Ollama server is reachable.
package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DefaultInterval is the probe period used by Run when none is given.
const DefaultInterval = 10 * time.Second

// Pinger performs one reachability probe. *ollama.Client implements it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// State is the last known reachability of the server.
type State struct {
	IsOnline      bool
	LastCheckedAt time.Time
	// LastError is the reason the most recent probe failed, if it did
	LastError error
}

// Checked reports whether at least one probe has completed.
func (s State) Checked() bool {
	return !s.LastCheckedAt.IsZero()
}

// =============================================================================
// MONITOR
// =============================================================================

// Monitor caches the result of reachability probes.
//
// The state is only mutated by CheckOnce. Readers call CurrentState, which
// never blocks on the network. Anything that needs the server should call
// CheckOnce right before using it and still treat a failed request as a
// normal, recoverable error.
type Monitor struct {
	pinger Pinger
	logger *zap.Logger

	mu        sync.RWMutex
	state     State
	listeners []func(State)
}

// NewMonitor creates a monitor that probes through pinger.
func NewMonitor(pinger Pinger, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{pinger: pinger, logger: logger}
}

// CheckOnce probes the server once and records the result. It returns true
// only when the probe succeeded.
func (m *Monitor) CheckOnce(ctx context.Context) bool {
	err := m.pinger.Ping(ctx)
	next := State{
		IsOnline:      err == nil,
		LastCheckedAt: time.Now(),
		LastError:     err,
	}

	m.mu.Lock()
	prev := m.state
	m.state = next
	var listeners []func(State)
	if prev.IsOnline != next.IsOnline || !prev.Checked() {
		listeners = append(listeners, m.listeners...)
	}
	m.mu.Unlock()

	if prev.Checked() && prev.IsOnline != next.IsOnline {
		if next.IsOnline {
			m.logger.Info("ollama server is online")
		} else {
			m.logger.Warn("ollama server went offline", zap.Error(err))
		}
	}
	for _, fn := range listeners {
		fn(next)
	}
	return next.IsOnline
}

// CurrentState returns the cached state without probing.
func (m *Monitor) CurrentState() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// OnChange registers fn to be called after the first probe and after every
// online/offline transition. Calls happen on the probing goroutine.
func (m *Monitor) OnChange(fn func(State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Run probes immediately and then once per interval until ctx is done.
// It always returns ctx.Err().
func (m *Monitor) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultInterval
	}
	limiter := rate.NewLimiter(rate.Every(interval), 1)

	for {
		if err := limiter.Wait(ctx); err != nil {
			// Wait also fails when the deadline is closer than the next token
			<-ctx.Done()
			return ctx.Err()
		}
		m.CheckOnce(ctx)
	}
}
