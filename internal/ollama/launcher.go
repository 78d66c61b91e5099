// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP transport for communicating with an Ollama server.
package ollama

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// PROCESS LAUNCHER
// =============================================================================

// Pinger is the reachability probe the launcher polls after starting the server.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Launcher starts and stops a local `ollama serve` process.
// It only ever stops a process it started itself.
type Launcher struct {
	pinger Pinger
	logger *zap.Logger

	// ReadyTimeout bounds how long Start waits for the server to answer (default: 15s)
	ReadyTimeout time.Duration
	// PollInterval is the delay between readiness probes (default: 500ms)
	PollInterval time.Duration

	findExecutable func() (string, error)

	mu   sync.Mutex
	cmd  *exec.Cmd
	done chan struct{}
}

// NewLauncher creates a launcher that confirms readiness through pinger.
func NewLauncher(pinger Pinger, logger *zap.Logger) *Launcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Launcher{
		pinger:         pinger,
		logger:         logger,
		ReadyTimeout:   15 * time.Second,
		PollInterval:   500 * time.Millisecond,
		findExecutable: findOllamaExecutable,
	}
}

// Start makes sure a server is running. It returns nil immediately when the
// server already answers, otherwise it spawns `ollama serve` and waits until
// the probe succeeds or ReadyTimeout elapses.
func (l *Launcher) Start(ctx context.Context) error {
	if err := l.pinger.Ping(ctx); err == nil {
		return nil
	}

	l.mu.Lock()
	if l.cmd == nil {
		if err := l.spawnLocked(); err != nil {
			l.mu.Unlock()
			return err
		}
	}
	done := l.done
	l.mu.Unlock()

	return l.waitReady(ctx, done)
}

// Stop terminates the server process started by Start. It is a no-op when
// this launcher did not start one.
func (l *Launcher) Stop() error {
	l.mu.Lock()
	cmd, done := l.cmd, l.done
	l.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return nil
	}

	l.logger.Info("stopping ollama server", zap.Int("pid", cmd.Process.Pid))
	if err := stopProcess(cmd.Process); err != nil {
		return &ClientError{Type: ErrTypeConnection, Message: "failed to stop Ollama", Cause: err}
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		// Escalate when the group ignores the polite signal
		cmd.Process.Kill()
		<-done
	}
	return nil
}

// Running reports whether a process started by this launcher is still alive.
func (l *Launcher) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cmd != nil
}

func (l *Launcher) spawnLocked() error {
	ollamaPath, err := l.findExecutable()
	if err != nil {
		return &ClientError{
			Type:    ErrTypeConnection,
			Message: "failed to find Ollama executable",
			Cause:   err,
		}
	}

	cmd := exec.Command(ollamaPath, "serve")
	// Pass the environment through so OLLAMA_* and GPU variables reach the server
	cmd.Env = os.Environ()
	configureProcess(cmd)

	if err := cmd.Start(); err != nil {
		return &ClientError{
			Type:    ErrTypeConnection,
			Message: fmt.Sprintf("failed to start Ollama (path: %s)", ollamaPath),
			Cause:   err,
		}
	}
	l.logger.Info("started ollama server", zap.String("path", ollamaPath), zap.Int("pid", cmd.Process.Pid))

	done := make(chan struct{})
	l.cmd = cmd
	l.done = done
	go func() {
		err := cmd.Wait()
		l.logger.Debug("ollama server exited", zap.Error(err))
		l.mu.Lock()
		if l.cmd == cmd {
			l.cmd = nil
		}
		l.mu.Unlock()
		close(done)
	}()
	return nil
}

func (l *Launcher) waitReady(ctx context.Context, done <-chan struct{}) error {
	startTime := time.Now()
	deadline := startTime.Add(l.ReadyTimeout)
	var lastErr error

	for time.Now().Before(deadline) {
		checkCtx, cancel := context.WithTimeout(ctx, time.Second)
		lastErr = l.pinger.Ping(checkCtx)
		cancel()

		if lastErr == nil {
			l.logger.Info("ollama server ready", zap.Duration("elapsed", time.Since(startTime)))
			return nil
		}

		select {
		case <-ctx.Done():
			return &ClientError{Type: ErrTypeCancelled, Message: "Ollama startup cancelled", Cause: ctx.Err()}
		case <-done:
			return &ClientError{Type: ErrTypeConnection, Message: "Ollama exited during startup", Cause: lastErr}
		case <-time.After(l.PollInterval):
		}
	}

	return &ClientError{
		Type:    ErrTypeNotRunning,
		Message: fmt.Sprintf("Ollama started but not responding after %s", l.ReadyTimeout),
		Cause:   lastErr,
	}
}
