// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model holds the conversation state of the chat engine.
//
// A Conversation owns an append-only list of turns and enforces that at most
// one assistant turn is in flight at a time. The streaming client opens that
// turn, applies deltas to it, and finalizes it exactly once:
//
//	conv := model.NewConversation()
//	conv.AppendUserTurn("Why is the sky blue?")
//	turn, err := conv.BeginAssistantTurn()
//	if err != nil {
//	    return err // model.ErrTurnAlreadyInFlight
//	}
//	conv.ApplyDelta(turn.ID, model.ChannelAnswer, "Rayleigh scattering")
//	conv.FinalizeTurn(turn.ID, model.Completed())
//
// BuildWireMessages returns the history to send with the next request. The
// in-flight turn and all reasoning text are left out.
package model
