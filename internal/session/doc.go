// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session binds one conversation to the chat engine.
//
// A Session owns the current model.Conversation and wires it to the chat
// client, the model registry, the settings source and (optionally) the
// history store. Generation parameters are read from a fresh settings
// snapshot on every Send, so a hot-reloaded config applies to the next turn.
//
// # Usage
//
//	sess := session.New(session.Deps{Chat: client, Registry: reg, Settings: src, History: store})
//	defer sess.Close()
//
//	stream, err := sess.Send(ctx, "Why is the sky blue?")
//	if err != nil {
//	    return err
//	}
//	for ev := range stream.Events() {
//	    // render ev
//	}
//
// Cancel stops the in-flight generation from any goroutine. Clear starts a
// new conversation and Resume reloads one from history.
package session
