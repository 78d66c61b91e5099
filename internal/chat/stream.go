// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"iter"
	"strings"
	"sync"

	"github.com/jeranaias/ollachat/internal/model"
)

// ErrStreamConsumed is reported when a stream's events are ranged over twice.
var ErrStreamConsumed = errors.New("stream already consumed")

// =============================================================================
// STREAM
// =============================================================================

// Stream is a lazy, single-use sequence of generation events.
//
// The generation starts when Events is first ranged over and runs on the
// ranging goroutine. It is cancelled by breaking out of the loop, by
// cancelling the context given to Generate, or by calling Cancel from any
// goroutine. Breaking out yields nothing further. The other two end the
// sequence with one EventFailed carrying ollama.ErrCancelled.
type Stream struct {
	client *Client
	parent context.Context
	conv   *model.Conversation
	model  string
	params Params

	mu        sync.Mutex
	consumed  bool
	finished  bool
	cancelled bool
	cancel    context.CancelFunc
	turnID    string
}

// Events returns the event sequence. Only the first range over it runs the
// generation; later ones yield a single EventFailed with ErrStreamConsumed.
func (s *Stream) Events() iter.Seq[Event] {
	return func(yield func(Event) bool) {
		s.mu.Lock()
		if s.consumed {
			s.mu.Unlock()
			yield(failedEvent("", ErrStreamConsumed))
			return
		}
		s.consumed = true
		ctx, cancel := context.WithCancel(s.parent)
		s.cancel = cancel
		if s.cancelled {
			cancel()
		}
		s.mu.Unlock()
		defer cancel()
		defer s.markFinished()

		s.client.drive(ctx, s, func(ev Event) bool {
			if ev.Terminal() {
				s.markFinished()
			}
			return yield(ev)
		})
	}
}

// Finished reports whether the generation is over: its terminal event has
// been produced, the consumer stopped ranging, or it was cancelled before
// anyone ranged over it.
func (s *Stream) Finished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished || (s.cancelled && !s.consumed)
}

func (s *Stream) markFinished() {
	s.mu.Lock()
	s.finished = true
	s.mu.Unlock()
}

// Cancel stops the generation. It is safe to call from any goroutine, more
// than once, and before the stream is consumed.
func (s *Stream) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = true
	if s.cancel != nil {
		s.cancel()
	}
}

// TurnID returns the assistant turn opened by this stream, or "" before it opens.
func (s *Stream) TurnID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turnID
}

func (s *Stream) setTurnID(id string) {
	s.mu.Lock()
	s.turnID = id
	s.mu.Unlock()
}

// =============================================================================
// COLLECTING
// =============================================================================

// Reply is the accumulated result of a stream.
type Reply struct {
	Text         string
	Reasoning    string
	FinishReason string
	Stats        *Stats
	Turn         *model.Turn
}

// Collect consumes the stream, calling onEvent (if non-nil) for every event,
// and returns the accumulated reply. The error is the Err of a terminal
// EventFailed.
func (s *Stream) Collect(onEvent func(Event)) (Reply, error) {
	var text, reasoning strings.Builder
	var reply Reply
	var err error

	for ev := range s.Events() {
		if onEvent != nil {
			onEvent(ev)
		}
		switch ev.Kind {
		case EventAnswer:
			text.WriteString(ev.Text)
		case EventReasoning:
			reasoning.WriteString(ev.Text)
		case EventDone:
			reply.FinishReason = ev.FinishReason
			reply.Stats = ev.Stats
			reply.Turn = ev.Turn
		case EventFailed:
			reply.Turn = ev.Turn
			err = ev.Err
		}
	}

	reply.Text = text.String()
	reply.Reasoning = reasoning.String()
	return reply, err
}
