// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package repl

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/ollachat/internal/chat"
	"github.com/jeranaias/ollachat/internal/commands"
	"github.com/jeranaias/ollachat/internal/config"
	"github.com/jeranaias/ollachat/internal/health"
	"github.com/jeranaias/ollachat/internal/ollama"
	"github.com/jeranaias/ollachat/internal/registry"
	"github.com/jeranaias/ollachat/internal/session"
)

type shell struct {
	repl *REPL
	sess *session.Session
	out  *bytes.Buffer
	err  *bytes.Buffer
}

func newShell(t *testing.T, input string, selectModel, quiet bool) *shell {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			fmt.Fprint(w, "Ollama is running")
		case "/api/tags":
			fmt.Fprint(w, `{"models":[{"name":"llama3:8b","size":1}]}`)
		case "/api/chat":
			fmt.Fprint(w, `{"message":{"role":"assistant","content":"<think>hmm</think>Hel"},"done":false}`+"\n")
			fmt.Fprint(w, `{"message":{"role":"assistant","content":"lo"},"done":false}`+"\n")
			fmt.Fprint(w, `{"message":{"role":"assistant","content":""},"done":true,"done_reason":"stop","eval_count":4,"eval_duration":2000000000}`+"\n")
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	client := ollama.NewClientWithConfig(&ollama.ClientConfig{BaseURL: srv.URL})
	monitor := health.NewMonitor(client, nil)
	reg := registry.New(monitor, client, nil)
	_, err := reg.Reload(context.Background())
	require.NoError(t, err)
	if selectModel {
		require.True(t, reg.SelectDefault("llama3:8b"))
	}

	sess := session.New(session.Deps{
		Chat:     chat.NewClient(client, monitor, nil),
		Registry: reg,
		Settings: config.NewSource(config.Default(), ""),
	})
	t.Cleanup(func() { sess.Close() })

	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	r := New(Options{
		Session:  sess,
		Commands: commands.NewRegistry(),
		Env:      &commands.Env{Session: sess, Registry: reg, Health: monitor},
		In:       strings.NewReader(input),
		Out:      out,
		Err:      errOut,
		Quiet:    quiet,
	})
	return &shell{repl: r, sess: sess, out: out, err: errOut}
}

func TestRun_PromptsAndCommands(t *testing.T) {
	s := newShell(t, "hi\n\n/think off\nagain\n/quit\nnever sent\n", true, false)

	require.NoError(t, s.repl.Run(context.Background()))

	out := s.out.String()
	assert.Contains(t, out, "Model: llama3:8b")
	assert.Contains(t, out, "thinking: hmm")
	assert.Contains(t, out, "Hello")
	assert.Contains(t, out, "[4 tokens, 2.0 tok/s")
	assert.Contains(t, out, "Think: off")
	assert.Empty(t, s.err.String())

	turns := s.sess.Conversation().Turns()
	require.Len(t, turns, 4, "/quit stops before the last line")
	assert.Equal(t, "again", turns[2].Text)
	assert.Equal(t, "<think>hmm</think>Hello", turns[3].Text, "think off keeps the markers in the answer")
}

func TestRun_EOF(t *testing.T) {
	s := newShell(t, "hi", true, true)

	require.NoError(t, s.repl.Run(context.Background()))
	assert.Equal(t, 2, s.sess.Conversation().Len())
	assert.NotContains(t, s.out.String(), "tokens", "quiet hides statistics")
}

func TestRun_Errors(t *testing.T) {
	s := newShell(t, "hi\n/mdl\n", false, true)

	require.NoError(t, s.repl.Run(context.Background()))

	errOut := s.err.String()
	assert.Contains(t, errOut, "[Error] No model selected")
	assert.Contains(t, errOut, "unknown command")
	assert.Equal(t, 0, s.sess.Conversation().Len())
}

func TestRun_CancelledContext(t *testing.T) {
	s := newShell(t, "hi\n", true, true)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, s.repl.Run(ctx))
	assert.Equal(t, 0, s.sess.Conversation().Len())
}

func TestFormatStats(t *testing.T) {
	got := formatStats(&chat.Stats{EvalTokens: 12, TokensPerSecond: 6, Elapsed: 1234 * time.Millisecond, SkippedLines: 2})
	assert.Equal(t, "[12 tokens, 6.0 tok/s, 1.23s, 2 lines skipped]", got)

	got = formatStats(&chat.Stats{EvalTokens: 3})
	assert.Equal(t, "[3 tokens, 0s]", got)
}
