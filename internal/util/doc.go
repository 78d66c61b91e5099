// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared by the chat engine and its shells.
//
// String helpers are width-aware (github.com/mattn/go-runewidth) so previews
// of model output line up in a terminal regardless of script:
//
//	title := util.TruncateWidth(util.SingleLine(prompt), 40)
//
// AtomicWriteFile is used for every file the application rewrites in place:
//
//	err := util.AtomicWriteFile(path, data, 0600)
package util
