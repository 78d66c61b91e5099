// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/ollachat/internal/chat"
	"github.com/jeranaias/ollachat/internal/config"
	"github.com/jeranaias/ollachat/internal/model"
	"github.com/jeranaias/ollachat/internal/ollama"
	"github.com/jeranaias/ollachat/internal/registry"
	"github.com/jeranaias/ollachat/internal/storage"
)

// Errors returned by Session.
var (
	ErrNoModelSelected = &ollama.ClientError{Type: ollama.ErrTypeModelNotFound, Message: "no model selected"}
	ErrHistoryDisabled = errors.New("conversation history is disabled")
	ErrClosed          = errors.New("session is closed")
)

// =============================================================================
// SESSION
// =============================================================================

// Deps are the shared components a Session drives.
type Deps struct {
	Chat     *chat.Client
	Registry *registry.Registry
	Settings *config.Source

	// History is optional; nil disables persistence
	History *storage.HistoryStore

	Logger *zap.Logger
}

// Session binds one conversation to the engine: the chat client, the model
// registry, the settings source and the history store. The presentation
// shells talk to a Session rather than to the components directly.
//
// All methods are safe for concurrent use. Only one generation runs at a
// time; the conversation enforces that.
type Session struct {
	chat     *chat.Client
	registry *registry.Registry
	settings *config.Source
	history  *storage.HistoryStore
	logger   *zap.Logger

	mu           sync.Mutex
	conv         *model.Conversation
	active       *chat.Stream
	think        *bool // overrides chat.think_enabled when set
	startTime    time.Time
	lastActivity time.Time
	closed       bool
}

// New creates a session with an empty conversation.
func New(d Deps) *Session {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := time.Now()
	s := &Session{
		chat:         d.Chat,
		registry:     d.Registry,
		settings:     d.Settings,
		history:      d.History,
		logger:       logger,
		startTime:    now,
		lastActivity: now,
	}
	s.conv = s.newConversation("")
	return s
}

func (s *Session) newConversation(id string) *model.Conversation {
	var conv *model.Conversation
	if id == "" {
		conv = model.NewConversation()
	} else {
		conv = model.NewConversationWithID(id)
	}
	if s.history != nil {
		conv.OnFinalize(s.history.Hook(s.ModelName))
	}
	return conv
}

// =============================================================================
// STATE
// =============================================================================

// Conversation returns the current conversation.
func (s *Session) Conversation() *model.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conv
}

// ID returns the current conversation ID.
func (s *Session) ID() string {
	return s.Conversation().ID()
}

// StartTime returns when the session started.
func (s *Session) StartTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startTime
}

// IdleTime returns how long since the last prompt was sent.
func (s *Session) IdleTime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastActivity)
}

// Busy reports whether a generation is pending or in flight.
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busyLocked()
}

// ModelName returns the selected model's full name, or "" when none is selected.
func (s *Session) ModelName() string {
	d, ok := s.registry.Current()
	if !ok {
		return ""
	}
	return d.String()
}

// SelectModel selects an installed model by name.
func (s *Session) SelectModel(name string) error {
	if err := s.registry.Select(name); err != nil {
		return err
	}
	s.logger.Info("model selected", zap.String("model", s.ModelName()))
	return nil
}

// SetThink overrides chat.think_enabled for this session.
func (s *Session) SetThink(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.think = &enabled
}

// ThinkEnabled reports whether think blocks are split into reasoning.
func (s *Session) ThinkEnabled() bool {
	return s.Params().ThinkEnabled
}

// Params builds generation parameters from the current settings snapshot.
func (s *Session) Params() chat.Params {
	cfg := s.settings.Snapshot()
	p := chat.Params{
		Temperature:     cfg.Chat.Temperature,
		MaxTokens:       cfg.Chat.MaxTokens,
		ThinkEnabled:    cfg.Chat.ThinkEnabled,
		PromptPrefix:    cfg.Chat.PromptPrefix,
		PromptSuffix:    cfg.Chat.PromptSuffix,
		MaxSkippedLines: cfg.Chat.MaxSkippedLines,
	}

	s.mu.Lock()
	if s.think != nil {
		p.ThinkEnabled = *s.think
	}
	s.mu.Unlock()
	return p
}

// =============================================================================
// GENERATION
// =============================================================================

// Send appends text as a user turn and returns the stream generating the
// reply with the selected model. Nothing is appended when a generation is
// already in flight or pending, no model is selected or the prompt is blank.
//
// The returned stream must be consumed (or cancelled) before the next Send.
func (s *Session) Send(ctx context.Context, text string, images ...[]byte) (*chat.Stream, error) {
	modelName := s.ModelName()
	params := s.Params()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	if s.busyLocked() {
		return nil, model.ErrTurnAlreadyInFlight
	}
	if modelName == "" {
		return nil, ErrNoModelSelected
	}

	if _, err := s.conv.AppendUserTurn(text, images...); err != nil {
		return nil, err
	}

	stream := s.chat.Generate(ctx, s.conv, modelName, params)
	s.active = stream
	s.lastActivity = time.Now()
	s.logger.Debug("generation requested",
		zap.String("conversation", s.conv.ID()),
		zap.String("model", modelName),
		zap.Bool("think", params.ThinkEnabled),
	)
	return stream, nil
}

// Cancel stops the pending or in-flight generation. It reports whether there was one.
func (s *Session) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelLocked()
}

func (s *Session) cancelLocked() bool {
	if s.active == nil || s.active.Finished() {
		return false
	}
	s.active.Cancel()
	return true
}

func (s *Session) busyLocked() bool {
	if _, busy := s.conv.InFlight(); busy {
		return true
	}
	return s.active != nil && !s.active.Finished()
}

// =============================================================================
// CONVERSATION LIFECYCLE
// =============================================================================

// Clear starts a new empty conversation. The previous one stays in history.
func (s *Session) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.busyLocked() {
		return model.ErrTurnAlreadyInFlight
	}
	s.conv = s.newConversation("")
	s.active = nil
	return nil
}

// Resume replaces the current conversation with one loaded from history.
// id may be a unique prefix. Turns are restored without being stored again.
func (s *Session) Resume(ctx context.Context, id string) error {
	if s.history == nil {
		return ErrHistoryDisabled
	}

	meta, turns, err := s.history.Load(ctx, id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.busyLocked() {
		return model.ErrTurnAlreadyInFlight
	}

	conv := s.newConversation(meta.ID)
	conv.Restore(turns)
	s.conv = conv
	s.active = nil

	if meta.Model != "" {
		if err := s.registry.Select(meta.Model); err != nil {
			s.logger.Warn("resumed conversation model is not installed",
				zap.String("model", meta.Model), zap.Error(err))
		}
	}
	s.logger.Info("conversation resumed",
		zap.String("conversation", meta.ID), zap.Int("turns", len(turns)))
	return nil
}

// Close cancels any generation and closes the history store.
// The session cannot send afterwards.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.cancelLocked()
	s.mu.Unlock()

	if s.history != nil {
		return s.history.Close()
	}
	return nil
}
