// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package registry

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/ollachat/internal/health"
	"github.com/jeranaias/ollachat/internal/ollama"
)

type staticHealth bool

func (h staticHealth) CheckOnce(ctx context.Context) bool { return bool(h) }

type stubLister struct {
	mu     sync.Mutex
	models []ollama.ModelInfo
	err    error
	calls  int
}

func (l *stubLister) ListModels(ctx context.Context) ([]ollama.ModelInfo, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	return l.models, l.err
}

func installed(names ...string) *stubLister {
	l := &stubLister{}
	for _, n := range names {
		l.models = append(l.models, ollama.ModelInfo{Name: n})
	}
	return l
}

func TestParseDescriptor(t *testing.T) {
	tests := []struct {
		in   string
		want ModelDescriptor
	}{
		{"llama3:8b", ModelDescriptor{Name: "llama3", Tag: "8b"}},
		{"llama3", ModelDescriptor{Name: "llama3", Tag: "latest"}},
		{"llama3:", ModelDescriptor{Name: "llama3", Tag: "latest"}},
		{"hf.co/org/model:Q4_K_M", ModelDescriptor{Name: "hf.co/org/model", Tag: "Q4_K_M"}},
		{"localhost:5000/llama3", ModelDescriptor{Name: "localhost:5000/llama3", Tag: "latest"}},
	}

	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			assert.Equal(t, tc.want, ParseDescriptor(tc.in))
		})
	}
	assert.Equal(t, "llama3:latest", ParseDescriptor("llama3").String())
}

// =============================================================================
// RELOAD TESTS
// =============================================================================

func TestReload(t *testing.T) {
	lister := installed("llama3:latest", "qwen2.5:7b")
	r := New(staticHealth(true), lister, nil)
	assert.False(t, r.Loaded())

	models, err := r.Reload(context.Background())
	require.NoError(t, err)
	assert.True(t, r.Loaded())
	assert.Equal(t, []ModelDescriptor{{Name: "llama3", Tag: "latest"}, {Name: "qwen2.5", Tag: "7b"}}, models)

	// Returned slices are copies
	models[0].Name = "mutated"
	assert.Equal(t, "llama3", r.Models()[0].Name)
}

func TestReload_ServerUnreachable(t *testing.T) {
	lister := installed("llama3:latest")
	r := New(staticHealth(false), lister, nil)

	_, err := r.Reload(context.Background())
	assert.ErrorIs(t, err, ollama.ErrServerUnreachable)
	assert.Zero(t, lister.calls, "no list request when the probe fails")
}

func TestReload_Malformed(t *testing.T) {
	lister := &stubLister{err: &ollama.ClientError{Type: ollama.ErrTypeInvalidResponse, Message: "bad json"}}
	r := New(staticHealth(true), lister, nil)

	_, err := r.Reload(context.Background())
	assert.ErrorIs(t, err, ollama.ErrMalformedResponse)

	_, err = New(staticHealth(true), &stubLister{models: []ollama.ModelInfo{{Size: 1}}}, nil).Reload(context.Background())
	assert.ErrorIs(t, err, ollama.ErrMalformedResponse)
}

func TestReload_FailureKeepsPreviousList(t *testing.T) {
	lister := installed("llama3:latest")
	r := New(staticHealth(true), lister, nil)
	_, err := r.Reload(context.Background())
	require.NoError(t, err)

	lister.err = errors.New("boom")
	_, err = r.Reload(context.Background())
	require.Error(t, err)
	assert.Len(t, r.Models(), 1)
}

func TestReload_ClearsVanishedSelection(t *testing.T) {
	lister := installed("llama3:latest", "qwen2.5:7b")
	r := New(staticHealth(true), lister, nil)
	_, err := r.Reload(context.Background())
	require.NoError(t, err)
	require.NoError(t, r.Select("qwen2.5:7b"))

	lister.models = lister.models[:1]
	_, err = r.Reload(context.Background())
	require.NoError(t, err)

	_, ok := r.Current()
	assert.False(t, ok)
}

func TestReload_AgainstServer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		switch req.URL.Path {
		case "/":
			io.WriteString(w, "Ollama is running")
		case "/api/tags":
			io.WriteString(w, `{"models":[{"name":"mistral:7b","model":"mistral:7b","size":42}]}`)
		default:
			http.NotFound(w, req)
		}
	}))
	defer server.Close()

	client := ollama.NewClientWithConfig(&ollama.ClientConfig{BaseURL: server.URL})
	r := New(health.NewMonitor(client, nil), client, nil)

	models, err := r.Reload(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 1)
	assert.Equal(t, ModelDescriptor{Name: "mistral", Tag: "7b", Size: 42}, models[0])
}

// =============================================================================
// SELECTION TESTS
// =============================================================================

func TestSelect(t *testing.T) {
	r := New(staticHealth(true), installed("llama3:latest", "qwen2.5:7b", "qwen2.5:14b", "phi3:mini"), nil)
	_, err := r.Reload(context.Background())
	require.NoError(t, err)

	_, ok := r.Current()
	assert.False(t, ok)

	require.NoError(t, r.Select("llama3"))
	cur, _ := r.Current()
	assert.Equal(t, "llama3:latest", cur.String())

	require.NoError(t, r.Select("phi3"))
	cur, _ = r.Current()
	assert.Equal(t, "phi3:mini", cur.String())

	require.NoError(t, r.Select("qwen2.5:14b"))
	cur, _ = r.Current()
	assert.Equal(t, "qwen2.5:14b", cur.String())
}

func TestSelect_Unknown(t *testing.T) {
	r := New(staticHealth(true), installed("llama3:latest", "qwen2.5:7b", "qwen2.5:14b"), nil)
	_, err := r.Reload(context.Background())
	require.NoError(t, err)
	require.NoError(t, r.Select("llama3"))

	tests := []string{"qwen2.5", "gemma", "llama3:70b", ""}
	for _, name := range tests {
		t.Run(name, func(t *testing.T) {
			err := r.Select(name)
			assert.ErrorIs(t, err, ErrUnknownModel)
		})
	}

	// Failed selects leave the current model alone
	cur, _ := r.Current()
	assert.Equal(t, "llama3:latest", cur.String())
}

func TestSelect_Suggestions(t *testing.T) {
	r := New(staticHealth(true), installed("llama3:latest", "qwen2.5:7b", "qwen2.5:14b"), nil)
	_, err := r.Reload(context.Background())
	require.NoError(t, err)

	err = r.Select("qwen")
	var unknown *UnknownModelError
	require.ErrorAs(t, err, &unknown)
	assert.ElementsMatch(t, []string{"qwen2.5:7b", "qwen2.5:14b"}, unknown.Suggestions)
	assert.Contains(t, err.Error(), "did you mean")
}

func TestSelect_BeforeReload(t *testing.T) {
	r := New(staticHealth(true), installed(), nil)
	assert.ErrorIs(t, r.Select("llama3"), ErrUnknownModel)
}

func TestSelectDefault(t *testing.T) {
	r := New(staticHealth(true), installed("llama3:latest", "qwen2.5:7b"), nil)
	assert.False(t, r.SelectDefault("qwen2.5:7b"))

	_, err := r.Reload(context.Background())
	require.NoError(t, err)

	assert.True(t, r.SelectDefault("qwen2.5:7b"))
	cur, _ := r.Current()
	assert.Equal(t, "qwen2.5:7b", cur.String())

	r2 := New(staticHealth(true), installed("llama3:latest"), nil)
	_, err = r2.Reload(context.Background())
	require.NoError(t, err)
	assert.True(t, r2.SelectDefault("missing"))
	cur, _ = r2.Current()
	assert.Equal(t, "llama3:latest", cur.String())
}

func TestRegistry_ConcurrentReadsDuringReload(t *testing.T) {
	r := New(staticHealth(true), installed("a:1", "b:2", "c:3"), nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = r.Reload(context.Background())
		}()
		go func() {
			defer wg.Done()
			models := r.Models()
			assert.True(t, len(models) == 0 || len(models) == 3, "partial list observed")
		}()
	}
	wg.Wait()
}
