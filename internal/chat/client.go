// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat drives one streaming generation end to end.
package chat

import (
	"context"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/jeranaias/ollachat/internal/model"
	"github.com/jeranaias/ollachat/internal/ollama"
)

// Transport opens the streaming chat response. *ollama.Client implements it.
type Transport interface {
	OpenChatStream(ctx context.Context, req *ollama.ChatRequest) (io.ReadCloser, error)
}

// HealthChecker is probed once before every generation. *health.Monitor implements it.
type HealthChecker interface {
	CheckOnce(ctx context.Context) bool
}

// =============================================================================
// PARAMETERS
// =============================================================================

// Params are the per-generation settings.
type Params struct {
	// Temperature is sent as-is; the server validates the range
	Temperature float64
	// MaxTokens is sent as num_predict; -1 means unlimited
	MaxTokens int
	// ThinkEnabled splits <think> blocks into reasoning events. When false
	// all text is answer text and markers stay literal.
	ThinkEnabled bool

	// PromptPrefix and PromptSuffix wrap the content of every user message
	// in the request. The stored turns are not changed.
	PromptPrefix string
	PromptSuffix string

	// MaxSkippedLines caps consecutive malformed response lines
	// (0 selects ollama.DefaultMaxConsecutiveSkips)
	MaxSkippedLines int
}

// DefaultParams returns unlimited-length generation with think classification on.
func DefaultParams() Params {
	return Params{
		Temperature:  0.7,
		MaxTokens:    -1,
		ThinkEnabled: true,
	}
}

// =============================================================================
// CLIENT
// =============================================================================

// Client starts generations against one server. It holds no per-conversation
// state and is safe for concurrent use; single-flight is enforced by each
// model.Conversation.
type Client struct {
	transport Transport
	health    HealthChecker
	logger    *zap.Logger
}

// NewClient creates a chat client.
func NewClient(transport Transport, health HealthChecker, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{transport: transport, health: health, logger: logger}
}

// Generate prepares a generation of the next assistant turn of conv using
// modelName. Nothing happens until the returned stream's Events are ranged
// over. The conversation should already end with the user turn to answer.
func (c *Client) Generate(ctx context.Context, conv *model.Conversation, modelName string, params Params) *Stream {
	return &Stream{
		client: c,
		parent: ctx,
		conv:   conv,
		model:  modelName,
		params: params,
	}
}

// buildRequest assembles a fresh request from the final turns of conv.
func buildRequest(conv *model.Conversation, modelName string, params Params) *ollama.ChatRequest {
	messages := conv.BuildWireMessages()
	if params.PromptPrefix != "" || params.PromptSuffix != "" {
		for i := range messages {
			if messages[i].Role == string(model.RoleUser) {
				messages[i].Content = params.PromptPrefix + messages[i].Content + params.PromptSuffix
			}
		}
	}

	return &ollama.ChatRequest{
		Model:    modelName,
		Messages: messages,
		Stream:   true,
		Options: &ollama.Options{
			Temperature: params.Temperature,
			NumPredict:  params.MaxTokens,
		},
	}
}

// drive runs one generation, yielding events to the consumer. The assistant
// turn, once opened, is finalized exactly once on every path, and before the
// terminal event is yielded so the consumer can start the next generation
// from inside its loop.
func (c *Client) drive(ctx context.Context, s *Stream, yield func(Event) bool) {
	conv := s.conv

	// Reject a second generation before any I/O
	if _, busy := conv.InFlight(); busy {
		yield(failedEvent("", model.ErrTurnAlreadyInFlight))
		return
	}
	if strings.TrimSpace(s.model) == "" {
		yield(failedEvent("", ollama.ErrModelNotFound))
		return
	}

	if !c.health.CheckOnce(ctx) {
		if ctx.Err() != nil {
			yield(failedEvent("", cancelledError(ctx)))
			return
		}
		yield(failedEvent("", ollama.ErrServerUnreachable))
		return
	}

	turn, err := conv.BeginAssistantTurn()
	if err != nil {
		yield(failedEvent("", err))
		return
	}
	s.setTurnID(turn.ID)

	log := c.logger.With(zap.String("turn_id", turn.ID), zap.String("model", s.model))
	log.Debug("generation started")

	finalized := false
	defer func() {
		// Reached without finalizing only when the consumer panicked
		if !finalized {
			if _, err := conv.FinalizeTurn(turn.ID, model.Failed(ollama.ErrCancelled)); err != nil {
				log.Error("failed to finalize turn", zap.Error(err))
			}
		}
	}()

	g := &generation{
		transport: c.transport,
		conv:      conv,
		turnID:    turn.ID,
		model:     s.model,
		params:    s.params,
		yield:     yield,
	}
	res := g.run(ctx)

	final, err := conv.FinalizeTurn(turn.ID, res.outcome)
	finalized = true
	if err != nil {
		log.Error("failed to finalize turn", zap.Error(err))
	}

	if res.outcome.Failed {
		log.Debug("generation failed", zap.Error(res.outcome.Reason), zap.Bool("consumer_gone", res.consumerGone))
	} else {
		log.Debug("generation completed", zap.String("finish_reason", res.terminal.FinishReason))
	}

	if res.consumerGone {
		return
	}
	ev := res.terminal
	ev.TurnID = turn.ID
	if err == nil {
		ev.Turn = &final
	}
	yield(ev)
}

func cancelledError(ctx context.Context) error {
	return &ollama.ClientError{Type: ollama.ErrTypeCancelled, Message: "generation cancelled", Cause: context.Cause(ctx)}
}
