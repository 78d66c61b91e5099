// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package styles

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Theme holds every style the TUI renders with.
type Theme struct {
	// Terminal capabilities
	IsDark       bool
	ColorProfile termenv.Profile

	// Transcript
	UserLabel      lipgloss.Style
	AssistantLabel lipgloss.Style
	Answer         lipgloss.Style
	Reasoning      lipgloss.Style
	Failed         lipgloss.Style
	Notice         lipgloss.Style

	// Chrome
	Title       lipgloss.Style
	StatusBar   lipgloss.Style
	StatusKey   lipgloss.Style
	Online      lipgloss.Style
	Offline     lipgloss.Style
	Unknown     lipgloss.Style
	InputBorder lipgloss.Style
	Help        lipgloss.Style
}

// NewTheme creates a theme for the current terminal.
func NewTheme() *Theme {
	t := &Theme{
		IsDark:       lipgloss.HasDarkBackground(),
		ColorProfile: termenv.ColorProfile(),
	}
	t.initStyles()
	return t
}

func (t *Theme) initStyles() {
	t.UserLabel = lipgloss.NewStyle().Foreground(Cyan).Bold(true)
	t.AssistantLabel = lipgloss.NewStyle().Foreground(Purple).Bold(true)
	t.Answer = lipgloss.NewStyle().Foreground(TextPrimary)
	t.Reasoning = lipgloss.NewStyle().Foreground(TextMuted).Italic(true).
		BorderStyle(lipgloss.NormalBorder()).BorderLeft(true).BorderForeground(Overlay).PaddingLeft(1)
	t.Failed = lipgloss.NewStyle().Foreground(Rose)
	t.Notice = lipgloss.NewStyle().Foreground(TextSecondary)

	t.Title = lipgloss.NewStyle().Foreground(Purple).Bold(true)
	t.StatusBar = lipgloss.NewStyle().Background(SurfaceDim).Foreground(TextSecondary).Padding(0, 1)
	t.StatusKey = lipgloss.NewStyle().Background(SurfaceDim).Foreground(TextPrimary).Bold(true)
	t.Online = lipgloss.NewStyle().Background(SurfaceDim).Foreground(Emerald)
	t.Offline = lipgloss.NewStyle().Background(SurfaceDim).Foreground(Rose)
	t.Unknown = lipgloss.NewStyle().Background(SurfaceDim).Foreground(Amber)
	t.InputBorder = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(Overlay)
	t.Help = lipgloss.NewStyle().Foreground(TextMuted)
}

// Plain reports whether the terminal cannot show colour.
func (t *Theme) Plain() bool {
	return t.ColorProfile == termenv.Ascii
}

// Bullet is the status marker glyph. Colourless terminals such as the
// Linux console get an ASCII marker.
func (t *Theme) Bullet() string {
	if t.Plain() {
		return "*"
	}
	return "●"
}
