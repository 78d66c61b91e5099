// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/jeranaias/ollachat/internal/model"
	"github.com/jeranaias/ollachat/internal/ollama"
	"github.com/jeranaias/ollachat/internal/think"
)

// result is how a generation ended.
type result struct {
	outcome  model.Outcome
	terminal Event
	// consumerGone is set when the consumer stopped ranging; nothing more may be yielded
	consumerGone bool
}

func completed(reason string, stats *Stats) result {
	return result{outcome: model.Completed(), terminal: Event{Kind: EventDone, FinishReason: reason, Stats: stats}}
}

func failed(err error) result {
	return result{outcome: model.Failed(err), terminal: failedEvent("", err)}
}

func consumerGone() result {
	return result{outcome: model.Failed(ollama.ErrCancelled), consumerGone: true}
}

// generation is the state of one in-flight turn.
type generation struct {
	transport Transport
	conv      *model.Conversation
	turnID    string
	model     string
	params    Params
	yield     func(Event) bool

	// abort is set when the turn could not be updated
	abort error
}

// halt ends a generation that emit refused to continue.
func (g *generation) halt() result {
	if g.abort != nil {
		return failed(g.abort)
	}
	return consumerGone()
}

func (g *generation) run(ctx context.Context) result {
	started := time.Now()

	body, err := g.transport.OpenChatStream(ctx, buildRequest(g.conv, g.model, g.params))
	if err != nil {
		if ctx.Err() != nil || ollama.IsCancelled(err) {
			return failed(cancelledError(ctx))
		}
		return failed(err)
	}
	defer body.Close()
	// Unblock a pending read as soon as the generation is cancelled
	stop := context.AfterFunc(ctx, func() { body.Close() })
	defer stop()

	lines := ollama.NewLineDecoder(body, g.params.MaxSkippedLines)
	decoder := think.NewDecoder(g.params.ThinkEnabled)

	for {
		chunk, err := lines.Next()
		if ctx.Err() != nil {
			return failed(cancelledError(ctx))
		}
		if errors.Is(err, io.EOF) {
			if lines.Decoded() == 0 && lines.Skipped() > 0 {
				return failed(ollama.ErrMalformedResponseLine)
			}
			return failed(&ollama.ClientError{
				Type:    ollama.ErrTypeInterrupted,
				Message: "response stream closed before completion",
			})
		}
		if err != nil {
			return failed(err)
		}

		if chunk.Error != "" {
			return failed(&ollama.ClientError{Type: ollama.ErrTypeInterrupted, Message: chunk.Error})
		}

		// Newer servers send reasoning in a separate field
		if g.params.ThinkEnabled && chunk.Message.Thinking != "" {
			if !g.emit(think.Segment{Kind: think.Reasoning, Text: chunk.Message.Thinking}) {
				return g.halt()
			}
		}
		for _, seg := range decoder.Feed(chunk.Message.Content) {
			if !g.emit(seg) {
				return g.halt()
			}
		}

		if chunk.Done {
			for _, seg := range decoder.Flush() {
				if !g.emit(seg) {
					return g.halt()
				}
			}
			reason := chunk.DoneReason
			if reason == "" {
				reason = "stop"
			}
			return completed(reason, statsFromChunk(chunk, lines.Skipped(), time.Since(started)))
		}
	}
}

// emit records a segment on the turn and hands it to the consumer. It
// returns false when the consumer has stopped.
func (g *generation) emit(seg think.Segment) bool {
	channel, kind := model.ChannelAnswer, EventAnswer
	if seg.Kind == think.Reasoning {
		channel, kind = model.ChannelReasoning, EventReasoning
	}
	if err := g.conv.ApplyDelta(g.turnID, channel, seg.Text); err != nil {
		g.abort = err
		return false
	}
	return g.yield(Event{Kind: kind, Text: seg.Text, TurnID: g.turnID})
}
