// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/ollachat/internal/ollama"
)

type scriptedPinger struct {
	mu      sync.Mutex
	results []error
	calls   int
}

func (p *scriptedPinger) Ping(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if len(p.results) == 0 {
		return nil
	}
	err := p.results[0]
	if len(p.results) > 1 {
		p.results = p.results[1:]
	}
	return err
}

func TestMonitor_CheckOnce(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
	}))
	defer server.Close()

	client := ollama.NewClientWithConfig(&ollama.ClientConfig{BaseURL: server.URL, HealthTimeout: time.Second})
	m := NewMonitor(client, nil)

	assert.False(t, m.CurrentState().Checked())

	assert.True(t, m.CheckOnce(context.Background()))
	state := m.CurrentState()
	assert.True(t, state.IsOnline)
	assert.True(t, state.Checked())
	assert.NoError(t, state.LastError)

	status.Store(http.StatusServiceUnavailable)
	assert.False(t, m.CheckOnce(context.Background()))
	assert.False(t, m.CurrentState().IsOnline)
	assert.Error(t, m.CurrentState().LastError)
}

func TestMonitor_ServerDown(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	client := ollama.NewClientWithConfig(&ollama.ClientConfig{BaseURL: url, HealthTimeout: time.Second})
	m := NewMonitor(client, nil)

	assert.False(t, m.CheckOnce(context.Background()))
	assert.True(t, ollama.IsServerUnreachable(m.CurrentState().LastError))
}

func TestMonitor_OnChange(t *testing.T) {
	down := errors.New("down")
	pinger := &scriptedPinger{results: []error{nil, nil, down, down, nil}}
	m := NewMonitor(pinger, nil)

	var changes []bool
	m.OnChange(func(s State) { changes = append(changes, s.IsOnline) })

	for i := 0; i < 5; i++ {
		m.CheckOnce(context.Background())
	}

	assert.Equal(t, []bool{true, false, true}, changes)
	assert.Equal(t, 5, pinger.calls)
}

func TestMonitor_Run(t *testing.T) {
	pinger := &scriptedPinger{}
	m := NewMonitor(pinger, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()

	err := m.Run(ctx, 20*time.Millisecond)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	pinger.mu.Lock()
	calls := pinger.calls
	pinger.mu.Unlock()
	assert.GreaterOrEqual(t, calls, 2)
	assert.True(t, m.CurrentState().IsOnline)
}

func TestMonitor_CurrentStateConcurrent(t *testing.T) {
	m := NewMonitor(&scriptedPinger{}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			m.CheckOnce(context.Background())
		}()
		go func() {
			defer wg.Done()
			_ = m.CurrentState()
		}()
	}
	wg.Wait()
	assert.True(t, m.CurrentState().IsOnline)
}
