// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/ollachat/internal/model"
	"github.com/jeranaias/ollachat/internal/ollama"
	"github.com/jeranaias/ollachat/internal/storage"
)

// =============================================================================
// LAYOUT
// =============================================================================

// layout sizes the viewport and input to the terminal.
func (m *Model) layout(width, height int) {
	if width <= 0 || height <= 0 {
		return
	}
	m.width, m.height = width, height
	m.help.Width = width

	// title + status bar + help line + bordered input
	chrome := 1 + 1 + lipgloss.Height(m.helpView()) + inputHeight + 2
	vpHeight := height - chrome
	if vpHeight < 1 {
		vpHeight = 1
	}
	m.viewport.Width = width
	m.viewport.Height = vpHeight
	m.input.SetWidth(width - 2)
}

// refresh re-renders the transcript into the viewport.
func (m *Model) refresh() {
	atBottom := m.viewport.AtBottom()
	m.viewport.SetContent(m.renderTranscript())
	if m.autoScroll || atBottom {
		m.viewport.GotoBottom()
	}
}

// =============================================================================
// VIEW
// =============================================================================

// View implements tea.Model.
func (m *Model) View() string {
	if m.quitting {
		return ""
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		m.theme.Title.Render("ollachat"),
		m.viewport.View(),
		m.theme.InputBorder.Render(m.input.View()),
		m.statusBar(),
		m.helpView(),
	)
}

func (m *Model) helpView() string {
	return m.theme.Help.Render(m.help.View(m.keys))
}

// renderTranscript draws every turn with the notices shown between them.
func (m *Model) renderTranscript() string {
	turns := m.sess.Conversation().Turns()
	width := m.viewport.Width
	if width <= 0 {
		width = defaultWidth
	}

	var sb strings.Builder
	m.writeNotices(&sb, 0, width)
	for i, t := range turns {
		m.writeTurn(&sb, t, width)
		m.writeNotices(&sb, i+1, width)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (m *Model) writeNotices(sb *strings.Builder, after, width int) {
	for _, n := range m.notices {
		if n.after != after {
			continue
		}
		style := m.theme.Notice
		if n.isErr {
			style = m.theme.Failed
		}
		sb.WriteString(style.Width(width).Render(n.text))
		sb.WriteString("\n\n")
	}
}

func (m *Model) writeTurn(sb *strings.Builder, t model.Turn, width int) {
	if t.Role == model.RoleUser {
		sb.WriteString(m.theme.UserLabel.Render(t.Role.DisplayName()))
		sb.WriteString("\n")
		sb.WriteString(m.theme.Answer.Width(width).Render(t.Text))
		sb.WriteString("\n\n")
		return
	}

	label := m.theme.AssistantLabel.Render(t.Role.DisplayName())
	if t.IsInFlight() {
		label += " " + m.spinner.View()
	}
	sb.WriteString(label)
	sb.WriteString("\n")

	if t.ReasoningText != "" {
		sb.WriteString(m.theme.Reasoning.Width(width - 2).Render(strings.TrimSpace(t.ReasoningText)))
		sb.WriteString("\n")
	}

	switch {
	case t.Failed:
		if t.PartialText != "" {
			sb.WriteString(m.theme.Answer.Width(width).Render(t.PartialText))
			sb.WriteString("\n")
		}
		sb.WriteString(m.theme.Failed.Render(failureLine(t)))
	case t.Text != "":
		sb.WriteString(m.theme.Answer.Width(width).Render(t.Text))
	}
	sb.WriteString("\n\n")
}

func failureLine(t model.Turn) string {
	if ollama.IsCancelled(t.Err()) {
		return "[stopped]"
	}
	if t.FailureReason == "" {
		return t.Text
	}
	return t.Text + " " + t.FailureReason
}

// statusBar shows server health, the model, think mode, the conversation
// and the speed of the last reply.
func (m *Model) statusBar() string {
	th := m.theme
	sep := "│"

	var server string
	switch {
	case !m.health.Checked():
		server = th.Unknown.Render(th.Bullet() + " checking")
	case m.health.IsOnline:
		server = th.Online.Render(th.Bullet() + " online")
	default:
		server = th.Offline.Render(th.Bullet() + " offline")
	}

	name := m.sess.ModelName()
	if name == "" {
		name = "no model"
	}
	think := "think off"
	if m.sess.ThinkEnabled() {
		think = "think on"
	}

	parts := []string{
		server,
		th.StatusKey.Render(name),
		th.StatusBar.Render(think),
		th.StatusBar.Render(storage.ShortID(m.sess.ID())),
	}
	if m.streaming {
		parts = append(parts, th.StatusBar.Render("generating"))
	} else if m.lastStats != nil && m.lastStats.TokensPerSecond > 0 {
		parts = append(parts, th.StatusBar.Render(fmt.Sprintf("%.1f tok/s", m.lastStats.TokensPerSecond)))
	}

	bar := strings.Join(parts, th.StatusBar.Render(" "+sep+" "))
	if m.width > 0 {
		return th.StatusBar.Width(m.width).Render(bar)
	}
	return th.StatusBar.Render(bar)
}
