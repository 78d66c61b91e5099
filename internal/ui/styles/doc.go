// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package styles provides the visual styling for the ollachat TUI.
//
// Colors are lipgloss.AdaptiveColor values that pick a light or dark
// variant from the terminal background. NewTheme builds the full set of
// styles once at startup.
package styles
