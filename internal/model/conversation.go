// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"github.com/jeranaias/ollachat/internal/ollama"
)

// Errors returned by Conversation methods.
var (
	ErrEmptyPrompt         = errors.New("prompt is empty")
	ErrTurnAlreadyInFlight = errors.New("an assistant turn is already in flight")
	ErrUnknownTurn         = errors.New("unknown turn")
	ErrTurnAlreadyFinal    = errors.New("turn is already final")
)

// FinalizeHook receives every turn that becomes final, in order. It is the
// persistence collaborator: user turns are passed on append, assistant turns
// on finalize. Cancelled assistant turns that received no content are not
// passed.
type FinalizeHook func(conversationID string, turn Turn)

// =============================================================================
// CONVERSATION TYPE
// =============================================================================

// Conversation owns the ordered turns of one chat.
//
// Turns are append-only. At most one assistant turn may be in flight (not
// final) at any time. All state is guarded by one mutex and only mutated
// through the methods below, so a Conversation may be shared between a
// generation goroutine and a cancelling one.
type Conversation struct {
	id        string
	createdAt time.Time

	mu       sync.Mutex
	turns    []*Turn
	index    map[string]*Turn
	inFlight *Turn
	hooks    []FinalizeHook
}

// NewConversation creates an empty conversation with a generated ID.
func NewConversation() *Conversation {
	return NewConversationWithID(uuid.NewString())
}

// NewConversationWithID creates an empty conversation with a known ID,
// used when resuming from history.
func NewConversationWithID(id string) *Conversation {
	return &Conversation{
		id:        id,
		createdAt: time.Now(),
		index:     make(map[string]*Turn),
	}
}

// ID returns the conversation identifier.
func (c *Conversation) ID() string {
	return c.id
}

// CreatedAt returns when the conversation was created.
func (c *Conversation) CreatedAt() time.Time {
	return c.createdAt
}

// OnFinalize registers a hook called for every turn that becomes final.
// Hooks run on the caller's goroutine after the conversation lock is released.
func (c *Conversation) OnFinalize(hook FinalizeHook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, hook)
}

// =============================================================================
// TURN LIFECYCLE
// =============================================================================

// AppendUserTurn appends a final user turn. The text is normalized to NFC
// and must not be blank.
func (c *Conversation) AppendUserTurn(text string, images ...[]byte) (Turn, error) {
	if strings.TrimSpace(text) == "" {
		return Turn{}, ErrEmptyPrompt
	}

	t := newTurn(RoleUser, norm.NFC.String(text))
	t.IsFinal = true
	if len(images) > 0 {
		t.Images = make([][]byte, 0, len(images))
		for _, img := range images {
			t.Images = append(t.Images, append([]byte(nil), img...))
		}
	}

	c.mu.Lock()
	c.appendLocked(t)
	snap := t.clone()
	hooks := c.hooks
	c.mu.Unlock()

	c.fire(hooks, snap)
	return snap, nil
}

// BeginAssistantTurn opens the in-flight assistant turn. It fails with
// ErrTurnAlreadyInFlight while another assistant turn is open.
func (c *Conversation) BeginAssistantTurn() (Turn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.inFlight != nil {
		return Turn{}, ErrTurnAlreadyInFlight
	}

	t := newTurn(RoleAssistant, "")
	c.appendLocked(t)
	c.inFlight = t
	return t.clone(), nil
}

// ApplyDelta appends text to one channel of the open turn.
func (c *Conversation) ApplyDelta(turnID string, channel Channel, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.index[turnID]
	if !ok {
		return ErrUnknownTurn
	}
	if t.IsFinal {
		return ErrTurnAlreadyFinal
	}

	if channel == ChannelReasoning {
		t.ReasoningText += text
	} else {
		t.Text += text
	}
	return nil
}

// FinalizeTurn marks the open turn final. A failed outcome replaces the text
// with FailedTurnText and keeps what had arrived in PartialText.
func (c *Conversation) FinalizeTurn(turnID string, outcome Outcome) (Turn, error) {
	c.mu.Lock()

	t, ok := c.index[turnID]
	if !ok {
		c.mu.Unlock()
		return Turn{}, ErrUnknownTurn
	}
	if t.IsFinal {
		c.mu.Unlock()
		return Turn{}, ErrTurnAlreadyFinal
	}

	t.IsFinal = true
	t.FinalizedAt = time.Now()
	if outcome.Failed {
		if outcome.Reason == nil {
			outcome = Failed(nil)
		}
		t.Failed = true
		t.cause = outcome.Reason
		t.FailureReason = outcome.Reason.Error()
		t.PartialText = t.Text
		t.Text = FailedTurnText
	}
	if c.inFlight == t {
		c.inFlight = nil
	}

	snap := t.clone()
	hooks := c.hooks
	c.mu.Unlock()

	if !(snap.Failed && errors.Is(outcome.Reason, ollama.ErrCancelled) && !snap.HasContent()) {
		c.fire(hooks, snap)
	}
	return snap, nil
}

func (c *Conversation) appendLocked(t *Turn) {
	c.turns = append(c.turns, t)
	c.index[t.ID] = t
}

func (c *Conversation) fire(hooks []FinalizeHook, t Turn) {
	for _, hook := range hooks {
		hook(c.id, t)
	}
}

// =============================================================================
// QUERIES
// =============================================================================

// BuildWireMessages maps every final turn to the wire format in order.
// Reasoning text is never sent back; the in-flight turn is never included.
// A failed assistant turn is sent as FailedTurnText, not its partial answer,
// so user and assistant messages keep alternating.
func (c *Conversation) BuildWireMessages() []ollama.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	messages := make([]ollama.Message, 0, len(c.turns))
	for _, t := range c.turns {
		if !t.IsFinal {
			continue
		}
		msg := ollama.Message{Role: string(t.Role), Content: t.Text}
		for _, img := range t.Images {
			msg.Images = append(msg.Images, base64.StdEncoding.EncodeToString(img))
		}
		messages = append(messages, msg)
	}
	return messages
}

// Turns returns snapshots of all turns in creation order.
func (c *Conversation) Turns() []Turn {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Turn, len(c.turns))
	for i, t := range c.turns {
		out[i] = t.clone()
	}
	return out
}

// Turn returns a snapshot of one turn.
func (c *Conversation) Turn(id string) (Turn, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.index[id]
	if !ok {
		return Turn{}, false
	}
	return t.clone(), true
}

// InFlight returns a snapshot of the open assistant turn, if any.
func (c *Conversation) InFlight() (Turn, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.inFlight == nil {
		return Turn{}, false
	}
	return c.inFlight.clone(), true
}

// Len returns the number of turns.
func (c *Conversation) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.turns)
}

// Title derives a display title from the first user turn.
func (c *Conversation) Title() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, t := range c.turns {
		if t.Role == RoleUser {
			return t.Preview(50)
		}
	}
	return "New Conversation"
}

// Restore appends previously persisted final turns, used when resuming a
// conversation from history. Hooks are not fired and non-final turns are skipped.
func (c *Conversation) Restore(turns []Turn) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, t := range turns {
		if !t.IsFinal {
			continue
		}
		restored := t.clone()
		c.appendLocked(&restored)
	}
}
