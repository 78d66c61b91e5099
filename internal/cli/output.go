// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/ollachat/internal/commands"
	"github.com/jeranaias/ollachat/internal/model"
	"github.com/jeranaias/ollachat/internal/ollama"
	"github.com/jeranaias/ollachat/internal/registry"
	"github.com/jeranaias/ollachat/internal/storage"
	"github.com/jeranaias/ollachat/internal/ui/styles"
)

// =============================================================================
// STYLES
// =============================================================================

var (
	headerStyle    = lipgloss.NewStyle().Foreground(styles.Purple).Bold(true)
	infoStyle      = lipgloss.NewStyle().Foreground(styles.TextSecondary)
	successStyle   = lipgloss.NewStyle().Foreground(styles.Emerald)
	warningStyle   = lipgloss.NewStyle().Foreground(styles.Amber)
	errorStyle     = lipgloss.NewStyle().Foreground(styles.Rose).Bold(true)
	reasoningStyle = lipgloss.NewStyle().Foreground(styles.TextMuted).Italic(true)
)

// =============================================================================
// EXIT CODES
// =============================================================================

const (
	// ExitSuccess indicates successful execution
	ExitSuccess = 0
	// ExitGeneralError indicates a general/unknown error
	ExitGeneralError = 1
	// ExitUsageError indicates invalid command usage or arguments
	ExitUsageError = 2
	// ExitConfigError indicates a configuration file or settings error
	ExitConfigError = 3
	// ExitNetworkError indicates the server could not be reached
	ExitNetworkError = 5
	// ExitNotFoundError indicates a model or conversation was not found
	ExitNotFoundError = 7
	// ExitTimeoutError indicates an operation timed out
	ExitTimeoutError = 8
	// ExitInterrupted indicates the generation was cancelled
	ExitInterrupted = 130
)

// usageError marks errors caused by how the command was invoked.
type usageError struct {
	msg string
}

func (e *usageError) Error() string { return e.msg }

// configError marks errors reading or writing the config file.
type configError struct {
	err error
}

func (e *configError) Error() string { return e.err.Error() }
func (e *configError) Unwrap() error { return e.err }

// ExitCode maps an error to the process exit code.
func ExitCode(err error) int {
	var usage *usageError
	var cfgErr *configError
	switch {
	case err == nil:
		return ExitSuccess
	case errors.As(err, &usage):
		return ExitUsageError
	case errors.As(err, &cfgErr):
		return ExitConfigError
	case errors.Is(err, ollama.ErrServerUnreachable):
		return ExitNetworkError
	case errors.Is(err, ollama.ErrTimeout):
		return ExitTimeoutError
	case errors.Is(err, ollama.ErrCancelled):
		return ExitInterrupted
	case errors.Is(err, ollama.ErrModelNotFound),
		errors.Is(err, registry.ErrUnknownModel),
		errors.Is(err, storage.ErrConversationNotFound):
		return ExitNotFoundError
	default:
		return ExitGeneralError
	}
}

func describe(err error) string {
	return commands.DescribeError(err)
}

// =============================================================================
// JSON OUTPUT
// =============================================================================

// jsonResponse is the envelope of every --json result.
type jsonResponse struct {
	Success   bool    `json:"success"`
	Data      any     `json:"data"`
	Error     *string `json:"error"`
	Timestamp string  `json:"timestamp"`
	Command   string  `json:"command,omitempty"`
}

// writeJSON prints data, or err when it is set, as an indented envelope.
// It returns err so callers can pass the failure on.
func writeJSON(w io.Writer, command string, data any, err error) error {
	resp := jsonResponse{
		Success:   err == nil,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Command:   command,
	}
	if err != nil {
		msg := err.Error()
		resp.Error = &msg
		resp.Data = nil
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if encErr := enc.Encode(resp); encErr != nil {
		return encErr
	}
	return err
}

// turnJSON is a stored turn as printed by `history ID --json`.
type turnJSON struct {
	Role          string    `json:"role"`
	Text          string    `json:"text"`
	Reasoning     string    `json:"reasoning,omitempty"`
	Failed        bool      `json:"failed,omitempty"`
	FailureReason string    `json:"failure_reason,omitempty"`
	PartialText   string    `json:"partial_text,omitempty"`
	Images        int       `json:"images,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

func toTurnJSON(turns []model.Turn) []turnJSON {
	out := make([]turnJSON, len(turns))
	for i, t := range turns {
		out[i] = turnJSON{
			Role:          t.Role.String(),
			Text:          t.Text,
			Reasoning:     t.ReasoningText,
			Failed:        t.Failed,
			FailureReason: t.FailureReason,
			PartialText:   t.PartialText,
			Images:        len(t.Images),
			CreatedAt:     t.CreatedAt,
		}
	}
	return out
}
