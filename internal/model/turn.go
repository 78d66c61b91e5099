// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/ollachat/internal/util"
)

// FailedTurnText replaces the text of an assistant turn that ended in failure,
// so a failed turn never looks like a partial answer.
const FailedTurnText = "[generation failed]"

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	default:
		return string(r)
	}
}

// =============================================================================
// CHANNEL & OUTCOME
// =============================================================================

// Channel selects which text of an in-flight turn a delta extends.
type Channel int

const (
	ChannelAnswer Channel = iota
	ChannelReasoning
)

// String returns the channel name.
func (c Channel) String() string {
	if c == ChannelReasoning {
		return "reasoning"
	}
	return "answer"
}

// Outcome is how an assistant turn ended.
type Outcome struct {
	Failed bool
	Reason error
}

// Completed is the outcome of a turn whose stream finished normally.
func Completed() Outcome {
	return Outcome{}
}

// Failed is the outcome of a turn that ended with reason.
func Failed(reason error) Outcome {
	if reason == nil {
		reason = errors.New("unknown failure")
	}
	return Outcome{Failed: true, Reason: reason}
}

// =============================================================================
// TURN TYPE
// =============================================================================

// Turn is one message in a conversation.
//
// Values handed out by a Conversation are snapshots; mutating them has no
// effect on the conversation.
type Turn struct {
	ID            string    `json:"id"`
	Role          Role      `json:"role"`
	Text          string    `json:"text"`
	ReasoningText string    `json:"reasoning_text,omitempty"`
	Images        [][]byte  `json:"images,omitempty"`
	IsFinal       bool      `json:"is_final"`
	CreatedAt     time.Time `json:"created_at"`

	// Set when an assistant turn is finalized
	FinalizedAt   time.Time `json:"finalized_at,omitempty"`
	Failed        bool      `json:"failed,omitempty"`
	FailureReason string    `json:"failure_reason,omitempty"`

	// PartialText keeps whatever answer text had arrived before a failure
	PartialText string `json:"partial_text,omitempty"`

	// cause is the error a failed turn was finalized with (not persisted)
	cause error
}

func newTurn(role Role, text string) *Turn {
	return &Turn{
		ID:        uuid.NewString(),
		Role:      role,
		Text:      text,
		CreatedAt: time.Now(),
	}
}

// Err returns the error a failed turn was finalized with, or nil.
func (t Turn) Err() error {
	return t.cause
}

// IsInFlight reports whether the turn is an assistant turn still receiving deltas.
func (t Turn) IsInFlight() bool {
	return t.Role == RoleAssistant && !t.IsFinal
}

// HasContent reports whether any answer or reasoning text arrived.
func (t Turn) HasContent() bool {
	if t.Failed {
		return t.PartialText != "" || t.ReasoningText != ""
	}
	return t.Text != "" || t.ReasoningText != ""
}

// Preview returns a truncated single-line preview of the turn text.
func (t Turn) Preview(maxWidth int) string {
	return util.TruncateWidth(util.SingleLine(t.Text), maxWidth)
}

// clone returns a deep copy safe to hand to callers.
func (t *Turn) clone() Turn {
	c := *t
	if t.Images != nil {
		c.Images = make([][]byte, len(t.Images))
		for i, img := range t.Images {
			c.Images[i] = append([]byte(nil), img...)
		}
	}
	return c
}
