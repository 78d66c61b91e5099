// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package tui is the full-screen chat shell built on Bubble Tea.
//
// The transcript is always drawn from the session's conversation; stream
// events only tell the model when to redraw. Events are pumped from the
// generation's iterator onto a channel and read back one at a time by a
// tea.Cmd, and redraws are batched by a frame limiter while a reply streams.
package tui
