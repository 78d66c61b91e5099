// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tui

import (
	"context"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/ollachat/internal/chat"
	"github.com/jeranaias/ollachat/internal/commands"
	"github.com/jeranaias/ollachat/internal/health"
	"github.com/jeranaias/ollachat/internal/session"
	"github.com/jeranaias/ollachat/internal/storage"
	"github.com/jeranaias/ollachat/internal/ui/styles"
)

const (
	inputHeight   = 3
	historyLimit  = 20
	defaultWidth  = 80
	defaultHeight = 24
)

// =============================================================================
// MODEL
// =============================================================================

// Options configure the chat screen.
type Options struct {
	Context  context.Context
	Session  *session.Session
	Commands *commands.Registry
	Env      *commands.Env

	// AutoScroll keeps the transcript pinned to the newest text
	AutoScroll bool

	// Theme defaults to styles.NewTheme()
	Theme *styles.Theme
}

// notice is a line of shell output shown in the transcript after the
// first `after` turns.
type notice struct {
	after int
	text  string
	isErr bool
}

// Model is the Bubble Tea model for the chat screen.
type Model struct {
	ctx       context.Context
	sess      *session.Session
	cmds      *commands.Registry
	env       *commands.Env
	completer *commands.Completer
	theme     *styles.Theme
	keys      KeyMap
	help      help.Model

	viewport viewport.Model
	input    textarea.Model
	spinner  spinner.Model
	limiter  *frameLimiter

	width  int
	height int

	// Generation state; gen numbers generations so late events are recognized
	streaming bool
	gen       int
	events    <-chan chat.Event
	done      chan struct{}
	lastStats *chat.Stats

	health     health.State
	autoScroll bool
	notices    []notice
	quitting   bool
}

// New creates the chat screen.
func New(opts Options) *Model {
	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}
	theme := opts.Theme
	if theme == nil {
		theme = styles.NewTheme()
	}

	input := textarea.New()
	input.Placeholder = "Ask anything, or /help"
	input.ShowLineNumbers = false
	input.CharLimit = 0
	input.SetHeight(inputHeight)
	input.KeyMap.InsertNewline = DefaultKeyMap().Newline
	input.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	m := &Model{
		ctx:        ctx,
		sess:       opts.Session,
		cmds:       opts.Commands,
		env:        opts.Env,
		theme:      theme,
		keys:       DefaultKeyMap(),
		help:       help.New(),
		viewport:   viewport.New(defaultWidth, defaultHeight),
		input:      input,
		spinner:    sp,
		limiter:    newFrameLimiter(defaultBatchSize, defaultMaxFPS),
		done:       make(chan struct{}),
		autoScroll: opts.AutoScroll,
	}
	m.completer = commands.NewCompleter(opts.Commands)
	m.completer.ModelsFn = m.modelNames
	m.completer.SessionsFn = m.sessionIDs
	m.layout(defaultWidth, defaultHeight)
	return m
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, checkHealth(m.ctx, m.env.Health))
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.layout(msg.Width, msg.Height)
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		return m, m.handleKey(msg)

	case tea.MouseMsg:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd

	case spinner.TickMsg:
		if !m.streaming {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case frameTickMsg:
		if !m.streaming {
			return m, nil
		}
		if m.limiter.Flush() {
			m.refresh()
		}
		return m, frameTick()

	case streamEventMsg:
		return m, m.handleStreamEvent(msg)

	case streamClosedMsg:
		if msg.gen == m.gen {
			m.streaming = false
			m.events = nil
			m.limiter.ForceFlush()
			m.refresh()
		}
		return m, nil

	case commandResultMsg:
		return m, m.handleCommandResult(msg)

	case HealthMsg:
		m.health = msg.State
		return m, nil

	case SettingsMsg:
		m.autoScroll = msg.Config.UI.AutoScroll
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// =============================================================================
// KEYS
// =============================================================================

func (m *Model) handleKey(msg tea.KeyMsg) tea.Cmd {
	switch {
	case key.Matches(msg, m.keys.Interrupt):
		if m.streaming {
			m.sess.Cancel()
			return nil
		}
		return m.quit()

	case key.Matches(msg, m.keys.Cancel):
		if m.streaming {
			m.sess.Cancel()
		}
		return nil

	case key.Matches(msg, m.keys.Quit):
		return m.quit()

	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
		m.layout(m.width, m.height)
		return nil

	case key.Matches(msg, m.keys.PageUp):
		m.viewport.HalfViewUp()
		return nil

	case key.Matches(msg, m.keys.PageDown):
		m.viewport.HalfViewDown()
		return nil

	case key.Matches(msg, m.keys.Top):
		m.viewport.GotoTop()
		return nil

	case key.Matches(msg, m.keys.Bottom):
		m.viewport.GotoBottom()
		return nil

	case key.Matches(msg, m.keys.Complete) && commands.IsCommand(m.input.Value()):
		m.complete()
		return nil

	case key.Matches(msg, m.keys.Submit):
		return m.submit()
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return cmd
}

func (m *Model) quit() tea.Cmd {
	if !m.quitting {
		m.quitting = true
		close(m.done)
		m.sess.Cancel()
	}
	return tea.Quit
}

// submit sends the input as a prompt or runs it as a command.
func (m *Model) submit() tea.Cmd {
	text := m.input.Value()
	if strings.TrimSpace(text) == "" {
		return nil
	}

	if commands.IsCommand(text) {
		m.input.Reset()
		return runCommand(m.ctx, m.cmds, m.env, strings.TrimSpace(text))
	}

	if m.streaming {
		m.addNotice("Still generating. Press Esc to stop.", true)
		return nil
	}

	stream, err := m.sess.Send(m.ctx, text)
	if err != nil {
		m.addNotice(commands.DescribeError(err), true)
		return nil
	}

	m.input.Reset()
	m.gen++
	m.streaming = true
	m.lastStats = nil
	m.events = pumpStream(stream, m.done)
	m.limiter.ForceFlush()
	m.refresh()
	return tea.Batch(waitForEvent(m.gen, m.events), m.spinner.Tick, frameTick())
}

func (m *Model) complete() {
	options := m.completer.Complete(m.input.Value())
	switch len(options) {
	case 0:
		return
	case 1:
		m.input.SetValue(options[0] + " ")
	default:
		m.input.SetValue(commonPrefix(options))
		m.addNotice(strings.Join(options, "  "), false)
	}
	m.input.CursorEnd()
}

// =============================================================================
// STREAM & COMMAND RESULTS
// =============================================================================

func (m *Model) handleStreamEvent(msg streamEventMsg) tea.Cmd {
	next := waitForEvent(msg.gen, msg.ch)
	if msg.gen != m.gen {
		return next
	}

	ev := msg.event
	switch ev.Kind {
	case chat.EventAnswer, chat.EventReasoning:
		m.limiter.Write()
		if m.limiter.Flush() {
			m.refresh()
		}
		return next

	case chat.EventDone:
		m.lastStats = ev.Stats

	case chat.EventFailed:
		// Failures that never opened a turn have nothing in the transcript
		if ev.TurnID == "" {
			m.addNotice(commands.DescribeError(ev.Err), true)
		}
	}

	m.streaming = false
	m.limiter.ForceFlush()
	m.refresh()
	return next
}

func (m *Model) handleCommandResult(msg commandResultMsg) tea.Cmd {
	if msg.err != nil {
		m.addNotice(commands.DescribeError(msg.err), true)
		return nil
	}

	res := msg.result
	if res.Reset {
		m.notices = nil
		m.lastStats = nil
	}
	if res.Output != "" {
		m.addNotice(res.Output, false)
	}
	if res.Quit {
		return m.quit()
	}
	m.refresh()
	return nil
}

func (m *Model) addNotice(text string, isErr bool) {
	m.notices = append(m.notices, notice{
		after: m.sess.Conversation().Len(),
		text:  text,
		isErr: isErr,
	})
	m.refresh()
}

// =============================================================================
// COMPLETION SOURCES
// =============================================================================

func (m *Model) modelNames() []string {
	models := m.env.Registry.Models()
	names := make([]string, len(models))
	for i, d := range models {
		names[i] = d.String()
	}
	return names
}

func (m *Model) sessionIDs() []string {
	if m.env.History == nil {
		return nil
	}
	metas, err := m.env.History.List(m.ctx, historyLimit)
	if err != nil {
		return nil
	}
	ids := make([]string, len(metas))
	for i, meta := range metas {
		ids[i] = storage.ShortID(meta.ID)
	}
	return ids
}

func commonPrefix(values []string) string {
	if len(values) == 0 {
		return ""
	}
	prefix := values[0]
	for _, v := range values[1:] {
		for !strings.HasPrefix(v, prefix) {
			prefix = prefix[:len(prefix)-1]
		}
	}
	return prefix
}
