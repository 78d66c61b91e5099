// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/ollachat/internal/health"
	"github.com/jeranaias/ollachat/internal/model"
	"github.com/jeranaias/ollachat/internal/ollama"
)

// =============================================================================
// TEST DOUBLES
// =============================================================================

type fakeHealth struct {
	online bool
	calls  atomic.Int32
}

func (h *fakeHealth) CheckOnce(ctx context.Context) bool {
	h.calls.Add(1)
	return h.online
}

// spyTransport records requests and serves bodies from open.
type spyTransport struct {
	mu       sync.Mutex
	requests []*ollama.ChatRequest
	open     func(ctx context.Context, req *ollama.ChatRequest) (io.ReadCloser, error)
}

func (s *spyTransport) OpenChatStream(ctx context.Context, req *ollama.ChatRequest) (io.ReadCloser, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()
	return s.open(ctx, req)
}

func (s *spyTransport) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func ndjson(lines ...string) io.ReadCloser {
	return io.NopCloser(strings.NewReader(strings.Join(lines, "\n") + "\n"))
}

func serving(lines ...string) *spyTransport {
	return &spyTransport{open: func(ctx context.Context, req *ollama.ChatRequest) (io.ReadCloser, error) {
		return ndjson(lines...), nil
	}}
}

var helloLines = []string{
	`{"model":"llama3","message":{"role":"assistant","content":"Hel"},"done":false}`,
	`{"model":"llama3","message":{"role":"assistant","content":"lo"},"done":false}`,
	`{"model":"llama3","message":{"role":"assistant","content":""},"done":true,"done_reason":"stop","eval_count":2,"eval_duration":1000000000}`,
}

func newConversation(t *testing.T, prompt string) *model.Conversation {
	t.Helper()
	conv := model.NewConversation()
	_, err := conv.AppendUserTurn(prompt)
	require.NoError(t, err)
	return conv
}

func collectEvents(stream *Stream) []Event {
	var events []Event
	for ev := range stream.Events() {
		events = append(events, ev)
	}
	return events
}

func noInFlight(t *testing.T, conv *model.Conversation) {
	t.Helper()
	_, busy := conv.InFlight()
	assert.False(t, busy, "conversation still has an in-flight turn")
}

// =============================================================================
// HAPPY PATH
// =============================================================================

func TestGenerate_Hello(t *testing.T) {
	transport := serving(helloLines...)
	client := NewClient(transport, &fakeHealth{online: true}, nil)
	conv := newConversation(t, "say hello")

	events := collectEvents(client.Generate(context.Background(), conv, "llama3:latest", DefaultParams()))

	require.Len(t, events, 3)
	assert.Equal(t, EventAnswer, events[0].Kind)
	assert.Equal(t, "Hel", events[0].Text)
	assert.Equal(t, EventAnswer, events[1].Kind)
	assert.Equal(t, "lo", events[1].Text)
	assert.Equal(t, EventDone, events[2].Kind)
	assert.Equal(t, "stop", events[2].FinishReason)

	require.NotNil(t, events[2].Stats)
	assert.Equal(t, 2, events[2].Stats.EvalTokens)
	assert.InDelta(t, 2.0, events[2].Stats.TokensPerSecond, 0.001)

	require.NotNil(t, events[2].Turn)
	assert.Equal(t, "Hello", events[2].Turn.Text)
	assert.True(t, events[2].Turn.IsFinal)
	assert.False(t, events[2].Turn.Failed)
	noInFlight(t, conv)

	turns := conv.Turns()
	require.Len(t, turns, 2)
	assert.Equal(t, "Hello", turns[1].Text)
	assert.Equal(t, events[0].TurnID, turns[1].ID)
}

func TestGenerate_ThinkSplitAcrossLines(t *testing.T) {
	transport := serving(
		`{"message":{"content":"<think>partial"},"done":false}`,
		`{"message":{"content":"remainder</think>answer"},"done":false}`,
		`{"message":{"content":""},"done":true}`,
	)
	client := NewClient(transport, &fakeHealth{online: true}, nil)
	conv := newConversation(t, "think")

	reply, err := client.Generate(context.Background(), conv, "qwen3:8b", DefaultParams()).Collect(nil)
	require.NoError(t, err)

	assert.Equal(t, "partialremainder", reply.Reasoning)
	assert.Equal(t, "answer", reply.Text)
	assert.Equal(t, "stop", reply.FinishReason, "missing done_reason defaults to stop")
	require.NotNil(t, reply.Turn)
	assert.Equal(t, "partialremainder", reply.Turn.ReasoningText)
	assert.Equal(t, "answer", reply.Turn.Text)
}

func TestGenerate_ThinkDisabled(t *testing.T) {
	transport := serving(
		`{"message":{"content":"<think>plan</think>done","thinking":"hidden"},"done":true}`,
	)
	client := NewClient(transport, &fakeHealth{online: true}, nil)
	conv := newConversation(t, "q")

	params := DefaultParams()
	params.ThinkEnabled = false
	reply, err := client.Generate(context.Background(), conv, "m:1", params).Collect(nil)
	require.NoError(t, err)

	assert.Empty(t, reply.Reasoning)
	assert.Equal(t, "<think>plan</think>done", reply.Text)
}

func TestGenerate_ThinkingField(t *testing.T) {
	transport := serving(
		`{"message":{"content":"","thinking":"let me see"},"done":false}`,
		`{"message":{"content":"42"},"done":true,"done_reason":"stop"}`,
	)
	client := NewClient(transport, &fakeHealth{online: true}, nil)
	conv := newConversation(t, "q")

	var kinds []EventKind
	reply, err := client.Generate(context.Background(), conv, "m:1", DefaultParams()).Collect(func(ev Event) {
		kinds = append(kinds, ev.Kind)
	})
	require.NoError(t, err)

	assert.Equal(t, []EventKind{EventReasoning, EventAnswer, EventDone}, kinds)
	assert.Equal(t, "let me see", reply.Reasoning)
	assert.Equal(t, "42", reply.Text)
}

// =============================================================================
// REQUEST TESTS
// =============================================================================

func TestGenerate_RequestOverHTTP(t *testing.T) {
	var raw atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			io.WriteString(w, "Ollama is running")
		case "/api/chat":
			body, _ := io.ReadAll(r.Body)
			raw.Store(string(body))
			for _, line := range helloLines {
				io.WriteString(w, line+"\n")
				w.(http.Flusher).Flush()
			}
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	transport := ollama.NewClientWithConfig(&ollama.ClientConfig{BaseURL: server.URL})
	client := NewClient(transport, health.NewMonitor(transport, nil), nil)
	conv := newConversation(t, "hi")

	params := DefaultParams()
	params.MaxTokens = -1
	params.Temperature = 0
	reply, err := client.Generate(context.Background(), conv, "llama3:latest", params).Collect(nil)
	require.NoError(t, err)
	assert.Equal(t, "Hello", reply.Text)

	body, _ := raw.Load().(string)
	assert.Contains(t, body, `"num_predict":-1`)
	assert.Contains(t, body, `"temperature":0`)
	assert.Contains(t, body, `"stream":true`)

	var decoded ollama.ChatRequest
	require.NoError(t, json.Unmarshal([]byte(body), &decoded))
	assert.Equal(t, "llama3:latest", decoded.Model)
	assert.Equal(t, []ollama.Message{{Role: "user", Content: "hi"}}, decoded.Messages)
}

func TestBuildRequest_PrefixSuffixAndHistory(t *testing.T) {
	conv := newConversation(t, "first")
	turn, err := conv.BeginAssistantTurn()
	require.NoError(t, err)
	require.NoError(t, conv.ApplyDelta(turn.ID, model.ChannelReasoning, "hmm"))
	require.NoError(t, conv.ApplyDelta(turn.ID, model.ChannelAnswer, "reply"))
	_, err = conv.FinalizeTurn(turn.ID, model.Completed())
	require.NoError(t, err)
	_, err = conv.AppendUserTurn("second")
	require.NoError(t, err)

	params := Params{Temperature: 1.5, MaxTokens: 128, PromptPrefix: "[", PromptSuffix: "]"}
	req := buildRequest(conv, "m:1", params)

	assert.True(t, req.Stream)
	assert.Equal(t, &ollama.Options{Temperature: 1.5, NumPredict: 128}, req.Options)
	assert.Equal(t, []ollama.Message{
		{Role: "user", Content: "[first]"},
		{Role: "assistant", Content: "reply"},
		{Role: "user", Content: "[second]"},
	}, req.Messages)

	// Stored turns are untouched
	assert.Equal(t, "first", conv.Turns()[0].Text)
}

func TestGenerate_RequestExcludesInFlightTurn(t *testing.T) {
	transport := serving(helloLines...)
	client := NewClient(transport, &fakeHealth{online: true}, nil)
	conv := newConversation(t, "hi")

	_, err := client.Generate(context.Background(), conv, "m:1", DefaultParams()).Collect(nil)
	require.NoError(t, err)

	require.Equal(t, 1, transport.calls())
	for _, msg := range transport.requests[0].Messages {
		assert.NotEqual(t, "assistant", msg.Role)
	}
}

// =============================================================================
// REJECTION TESTS
// =============================================================================

func TestGenerate_ServerUnreachable(t *testing.T) {
	transport := serving(helloLines...)
	client := NewClient(transport, &fakeHealth{online: false}, nil)
	conv := newConversation(t, "hi")

	events := collectEvents(client.Generate(context.Background(), conv, "m:1", DefaultParams()))

	require.Len(t, events, 1)
	assert.Equal(t, EventFailed, events[0].Kind)
	assert.ErrorIs(t, events[0].Err, ollama.ErrServerUnreachable)
	assert.Zero(t, transport.calls(), "no request may be sent")
	assert.Equal(t, 1, conv.Len(), "no assistant turn is opened")
}

func TestGenerate_TurnAlreadyInFlight(t *testing.T) {
	transport := serving(helloLines...)
	h := &fakeHealth{online: true}
	client := NewClient(transport, h, nil)
	conv := newConversation(t, "hi")

	open, err := conv.BeginAssistantTurn()
	require.NoError(t, err)

	events := collectEvents(client.Generate(context.Background(), conv, "m:1", DefaultParams()))

	require.Len(t, events, 1)
	assert.ErrorIs(t, events[0].Err, model.ErrTurnAlreadyInFlight)
	assert.Zero(t, transport.calls())
	assert.Zero(t, h.calls.Load(), "rejected before any I/O")

	// The existing turn is left alone
	cur, busy := conv.InFlight()
	assert.True(t, busy)
	assert.Equal(t, open.ID, cur.ID)
}

func TestGenerate_SecondConsumption(t *testing.T) {
	transport := serving(helloLines...)
	client := NewClient(transport, &fakeHealth{online: true}, nil)
	stream := client.Generate(context.Background(), newConversation(t, "hi"), "m:1", DefaultParams())

	first := collectEvents(stream)
	second := collectEvents(stream)

	assert.Len(t, first, 3)
	require.Len(t, second, 1)
	assert.ErrorIs(t, second[0].Err, ErrStreamConsumed)
	assert.Equal(t, 1, transport.calls())
}

// =============================================================================
// FAILURE TESTS
// =============================================================================

func TestGenerate_StreamFailures(t *testing.T) {
	tests := []struct {
		name    string
		lines   []string
		want    error
		partial string
	}{
		{
			name:  "every line malformed",
			lines: []string{"<html>", "not json", `{"foo":1}`},
			want:  ollama.ErrMalformedResponseLine,
		},
		{
			name:    "eof before done",
			lines:   []string{`{"message":{"content":"cut"},"done":false}`},
			want:    ollama.ErrStreamInterrupted,
			partial: "cut",
		},
		{
			name:  "empty body",
			lines: []string{""},
			want:  ollama.ErrStreamInterrupted,
		},
		{
			name:    "server error line",
			lines:   []string{`{"message":{"content":"a"},"done":false}`, `{"error":"model runner crashed"}`},
			want:    ollama.ErrStreamInterrupted,
			partial: "a",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			client := NewClient(serving(tc.lines...), &fakeHealth{online: true}, nil)
			conv := newConversation(t, "hi")

			events := collectEvents(client.Generate(context.Background(), conv, "m:1", DefaultParams()))
			require.NotEmpty(t, events)

			last := events[len(events)-1]
			assert.Equal(t, EventFailed, last.Kind)
			assert.ErrorIs(t, last.Err, tc.want)
			for _, ev := range events[:len(events)-1] {
				assert.False(t, ev.Terminal(), "only the last event may be terminal")
			}

			require.NotNil(t, last.Turn)
			assert.True(t, last.Turn.Failed)
			assert.Equal(t, model.FailedTurnText, last.Turn.Text)
			assert.Equal(t, tc.partial, last.Turn.PartialText)
			noInFlight(t, conv)
		})
	}
}

func TestGenerate_SkipCap(t *testing.T) {
	lines := make([]string, 0, 10)
	for i := 0; i < 10; i++ {
		lines = append(lines, "garbage")
	}
	lines = append(lines, helloLines...)

	params := DefaultParams()
	params.MaxSkippedLines = 5
	client := NewClient(serving(lines...), &fakeHealth{online: true}, nil)

	_, err := client.Generate(context.Background(), newConversation(t, "hi"), "m:1", params).Collect(nil)
	assert.ErrorIs(t, err, ollama.ErrMalformedResponseLine)
}

func TestGenerate_SkipsKeepaliveLines(t *testing.T) {
	lines := []string{"", "  ", helloLines[0], "not json", helloLines[1], "", helloLines[2]}
	client := NewClient(serving(lines...), &fakeHealth{online: true}, nil)

	reply, err := client.Generate(context.Background(), newConversation(t, "hi"), "m:1", DefaultParams()).Collect(nil)
	require.NoError(t, err)
	assert.Equal(t, "Hello", reply.Text)
	assert.Equal(t, 1, reply.Stats.SkippedLines)
}

func TestGenerate_OpenError(t *testing.T) {
	transport := &spyTransport{open: func(ctx context.Context, req *ollama.ChatRequest) (io.ReadCloser, error) {
		return nil, &ollama.ClientError{Type: ollama.ErrTypeModelNotFound, Message: "model not found: " + req.Model}
	}}
	client := NewClient(transport, &fakeHealth{online: true}, nil)
	conv := newConversation(t, "hi")

	_, err := client.Generate(context.Background(), conv, "nope:1", DefaultParams()).Collect(nil)
	assert.ErrorIs(t, err, ollama.ErrModelNotFound)
	noInFlight(t, conv)
}

// =============================================================================
// CANCELLATION TESTS
// =============================================================================

// pipeTransport streams whatever the test writes to the pipe.
func pipeTransport() (*spyTransport, *io.PipeWriter) {
	pr, pw := io.Pipe()
	first := true
	var mu sync.Mutex
	return &spyTransport{open: func(ctx context.Context, req *ollama.ChatRequest) (io.ReadCloser, error) {
		mu.Lock()
		defer mu.Unlock()
		if first {
			first = false
			return pr, nil
		}
		return ndjson(helloLines...), nil
	}}, pw
}

func TestGenerate_CancelMidStream(t *testing.T) {
	transport, pw := pipeTransport()
	defer pw.Close()
	client := NewClient(transport, &fakeHealth{online: true}, nil)
	conv := newConversation(t, "hi")

	go io.WriteString(pw, helloLines[0]+"\n")

	stream := client.Generate(context.Background(), conv, "m:1", DefaultParams())
	var events []Event
	start := time.Now()
	for ev := range stream.Events() {
		events = append(events, ev)
		if len(events) == 1 {
			// The server now stalls; cancel from elsewhere
			time.AfterFunc(20*time.Millisecond, stream.Cancel)
		}
	}

	assert.Less(t, time.Since(start), 2*time.Second)
	require.Len(t, events, 2)
	assert.Equal(t, "Hel", events[0].Text)
	assert.Equal(t, EventFailed, events[1].Kind)
	assert.ErrorIs(t, events[1].Err, ollama.ErrCancelled)
	require.NotNil(t, events[1].Turn)
	assert.True(t, events[1].Turn.Failed)
	assert.Equal(t, "Hel", events[1].Turn.PartialText)
	noInFlight(t, conv)

	// The lock is released: the next generation on the same conversation works
	_, err := conv.AppendUserTurn("again")
	require.NoError(t, err)
	reply, err := client.Generate(context.Background(), conv, "m:1", DefaultParams()).Collect(nil)
	require.NoError(t, err)
	assert.Equal(t, "Hello", reply.Text)
}

func TestGenerate_BreakOutOfLoop(t *testing.T) {
	transport, pw := pipeTransport()
	defer pw.Close()
	client := NewClient(transport, &fakeHealth{online: true}, nil)
	conv := newConversation(t, "hi")

	go io.WriteString(pw, helloLines[0]+"\n")

	var finalized []model.Turn
	conv.OnFinalize(func(_ string, turn model.Turn) { finalized = append(finalized, turn) })

	count := 0
	for range client.Generate(context.Background(), conv, "m:1", DefaultParams()).Events() {
		count++
		break
	}

	assert.Equal(t, 1, count)
	noInFlight(t, conv)
	turns := conv.Turns()
	require.Len(t, turns, 2)
	assert.True(t, turns[1].Failed)
	assert.ErrorIs(t, turns[1].Err(), ollama.ErrCancelled)
	require.Len(t, finalized, 1, "cancelled turn with content is still persisted")
}

func TestGenerate_CancelBeforeStart(t *testing.T) {
	transport := serving(helloLines...)
	client := NewClient(transport, &fakeHealth{online: true}, nil)
	conv := newConversation(t, "hi")

	stream := client.Generate(context.Background(), conv, "m:1", DefaultParams())
	stream.Cancel()
	events := collectEvents(stream)

	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.ErrorIs(t, last.Err, ollama.ErrCancelled)
	for _, ev := range events {
		assert.NotEqual(t, EventAnswer, ev.Kind)
	}
	noInFlight(t, conv)
}

func TestGenerate_ContextCancelled(t *testing.T) {
	transport, pw := pipeTransport()
	defer pw.Close()
	client := NewClient(transport, &fakeHealth{online: true}, nil)
	conv := newConversation(t, "hi")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		io.WriteString(pw, helloLines[0]+"\n")
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := client.Generate(ctx, conv, "m:1", DefaultParams()).Collect(nil)
	assert.ErrorIs(t, err, ollama.ErrCancelled)
	noInFlight(t, conv)
}

func TestGenerate_NextGenerationFromInsideLoop(t *testing.T) {
	client := NewClient(serving(helloLines...), &fakeHealth{online: true}, nil)
	conv := newConversation(t, "hi")

	var nested error
	for ev := range client.Generate(context.Background(), conv, "m:1", DefaultParams()).Events() {
		if ev.Kind == EventDone {
			_, nested = client.Generate(context.Background(), conv, "m:1", DefaultParams()).Collect(nil)
		}
	}
	assert.NoError(t, nested, "turn must be final before the terminal event is delivered")
}

func TestStream_Finished(t *testing.T) {
	client := NewClient(serving(helloLines...), &fakeHealth{online: true}, nil)
	conv := newConversation(t, "hi")

	stream := client.Generate(context.Background(), conv, "m:1", DefaultParams())
	assert.False(t, stream.Finished())
	assert.Empty(t, stream.TurnID())

	for ev := range stream.Events() {
		assert.Equal(t, ev.Terminal(), stream.Finished())
		assert.Equal(t, ev.TurnID, stream.TurnID())
	}
	assert.True(t, stream.Finished())

	unstarted := client.Generate(context.Background(), conv, "m:1", DefaultParams())
	unstarted.Cancel()
	assert.True(t, unstarted.Finished(), "cancelled before consumption")
}

// =============================================================================
// PROPERTY TESTS
// =============================================================================

// TestSingleFlight_RandomizedGenerateCancel runs generations and cancels
// against one conversation from many goroutines while a sampler checks
// that no two assistant turns are ever open together.
func TestSingleFlight_RandomizedGenerateCancel(t *testing.T) {
	transport := &spyTransport{open: func(ctx context.Context, req *ollama.ChatRequest) (io.ReadCloser, error) {
		pr, pw := io.Pipe()
		go func() {
			defer pw.Close()
			for _, line := range helloLines {
				select {
				case <-ctx.Done():
					return
				case <-time.After(time.Millisecond):
				}
				if _, err := io.WriteString(pw, line+"\n"); err != nil {
					return
				}
			}
		}()
		return pr, nil
	}}
	client := NewClient(transport, &fakeHealth{online: true}, nil)
	conv := newConversation(t, "hi")

	stop := make(chan struct{})
	var violations atomic.Int32
	var sampler sync.WaitGroup
	sampler.Add(1)
	go func() {
		defer sampler.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			open := 0
			for _, turn := range conv.Turns() {
				if turn.IsInFlight() {
					open++
				}
			}
			if open > 1 {
				violations.Add(1)
			}
		}
	}()

	var wg sync.WaitGroup
	var completedCount, rejected atomic.Int32
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < 20; i++ {
				stream := client.Generate(context.Background(), conv, "m:1", DefaultParams())
				if rng.Intn(3) == 0 {
					time.AfterFunc(time.Duration(rng.Intn(3))*time.Millisecond, stream.Cancel)
				}
				_, err := stream.Collect(nil)
				switch {
				case err == nil:
					completedCount.Add(1)
				case errors.Is(err, model.ErrTurnAlreadyInFlight):
					rejected.Add(1)
				default:
					assert.ErrorIs(t, err, ollama.ErrCancelled)
				}
			}
		}(int64(g))
	}
	wg.Wait()
	close(stop)
	sampler.Wait()

	assert.Zero(t, violations.Load())
	assert.Positive(t, completedCount.Load()+rejected.Load())
	noInFlight(t, conv)
	for _, turn := range conv.Turns() {
		assert.True(t, turn.IsFinal)
	}
}
