// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat drives one streaming generation end to end.
//
// Generate returns a Stream whose events are produced lazily while the
// caller ranges over them:
//
//	client := chat.NewClient(ollamaClient, monitor, logger)
//	conv.AppendUserTurn("Explain goroutines")
//	stream := client.Generate(ctx, conv, "llama3:latest", chat.DefaultParams())
//	for ev := range stream.Events() {
//	    switch ev.Kind {
//	    case chat.EventReasoning:
//	        fmt.Print(dim(ev.Text))
//	    case chat.EventAnswer:
//	        fmt.Print(ev.Text)
//	    case chat.EventFailed:
//	        fmt.Println("error:", ev.Err)
//	    }
//	}
//
// A generation is refused with model.ErrTurnAlreadyInFlight while another is
// running on the same conversation, and with ollama.ErrServerUnreachable
// when the health probe fails. In both cases no request is sent. Every
// generation that opened a turn finalizes it exactly once, whether it
// completes, fails, or is cancelled.
//
// # Error Handling
//
// The sequence never panics and has no separate error return. Its only
// abnormal end is a final EventFailed whose Err matches one of:
//
//   - ollama.ErrServerUnreachable
//   - model.ErrTurnAlreadyInFlight
//   - ollama.ErrMalformedResponseLine (no usable line in the response)
//   - ollama.ErrStreamInterrupted
//   - ollama.ErrCancelled
package chat
