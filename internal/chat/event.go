// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"time"

	"github.com/jeranaias/ollachat/internal/model"
	"github.com/jeranaias/ollachat/internal/ollama"
)

// =============================================================================
// EVENT TYPES
// =============================================================================

// EventKind tags the variant carried by an Event.
type EventKind int

const (
	// EventAnswer carries a fragment of answer text.
	EventAnswer EventKind = iota
	// EventReasoning carries a fragment of reasoning text.
	EventReasoning
	// EventDone ends a completed generation.
	EventDone
	// EventFailed ends a generation that failed or was cancelled.
	EventFailed
)

// String returns the event kind name.
func (k EventKind) String() string {
	switch k {
	case EventAnswer:
		return "answer"
	case EventReasoning:
		return "reasoning"
	case EventDone:
		return "done"
	case EventFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Event is one step of a generation. Events arrive in the order the bytes
// were received. EventDone and EventFailed are terminal: at most one is
// produced and nothing follows it.
type Event struct {
	Kind EventKind

	// Text is set for EventAnswer and EventReasoning
	Text string

	// FinishReason is set for EventDone ("stop", "length", ...)
	FinishReason string

	// Err is set for EventFailed; match it with errors.Is against the
	// ollama and model sentinels
	Err error

	// TurnID identifies the assistant turn, empty when the generation was
	// rejected before a turn was opened
	TurnID string

	// Turn is the finalized turn, set on terminal events once a turn was opened
	Turn *model.Turn

	// Stats is set for EventDone
	Stats *Stats
}

// Terminal reports whether the event ends the sequence.
func (e Event) Terminal() bool {
	return e.Kind == EventDone || e.Kind == EventFailed
}

func failedEvent(turnID string, err error) Event {
	return Event{Kind: EventFailed, Err: err, TurnID: turnID}
}

// =============================================================================
// STATISTICS
// =============================================================================

// Stats summarizes a completed generation from the server's final line.
type Stats struct {
	Model           string
	PromptTokens    int
	EvalTokens      int
	TotalDuration   time.Duration
	LoadDuration    time.Duration
	EvalDuration    time.Duration
	TokensPerSecond float64

	// SkippedLines counts malformed lines ignored while decoding
	SkippedLines int
	// Elapsed is the wall time from request to completion on this side
	Elapsed time.Duration
}

func statsFromChunk(chunk *ollama.ChatChunk, skipped int, elapsed time.Duration) *Stats {
	return &Stats{
		Model:           chunk.Model,
		PromptTokens:    chunk.PromptEvalCount,
		EvalTokens:      chunk.EvalCount,
		TotalDuration:   time.Duration(chunk.TotalDuration),
		LoadDuration:    time.Duration(chunk.LoadDuration),
		EvalDuration:    time.Duration(chunk.EvalDuration),
		TokensPerSecond: chunk.TokensPerSecond(),
		SkippedLines:    skipped,
		Elapsed:         elapsed,
	}
}
