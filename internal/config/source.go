// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"sync"
)

// Source is the read-only settings source shared by the running application.
// Readers take snapshots; Reload swaps in a freshly loaded file. Thread-safe.
type Source struct {
	path string

	mu        sync.RWMutex
	cfg       *Config
	listeners []func(Config)
}

// NewSource wraps an already loaded configuration. path is the file Reload
// reads; it may be empty when the configuration did not come from a file.
func NewSource(cfg *Config, path string) *Source {
	if cfg == nil {
		cfg = Default()
	}
	return &Source{path: path, cfg: cfg.Clone()}
}

// Path returns the file backing the source.
func (s *Source) Path() string {
	return s.path
}

// Snapshot returns a copy of the current configuration.
func (s *Source) Snapshot() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return *s.cfg
}

// Reload re-reads the backing file. On error the current configuration is kept.
func (s *Source) Reload() error {
	if s.path == "" {
		return nil
	}
	cfg, err := LoadFromPath(s.path)
	if err != nil {
		return err
	}
	s.Replace(cfg)
	return nil
}

// Replace swaps in cfg and notifies subscribers.
func (s *Source) Replace(cfg *Config) {
	s.mu.Lock()
	s.cfg = cfg.Clone()
	snap := *s.cfg
	listeners := append([]func(Config){}, s.listeners...)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(snap)
	}
}

// Subscribe registers fn to receive every configuration that Replace or
// Reload installs.
func (s *Source) Subscribe(fn func(Config)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}
