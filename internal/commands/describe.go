// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package commands

import (
	"errors"

	"github.com/jeranaias/ollachat/internal/ollama"
	"github.com/jeranaias/ollachat/internal/registry"
	"github.com/jeranaias/ollachat/internal/session"
)

// DescribeError turns an engine error into a line a shell can show,
// with a hint for the ones the user can fix.
func DescribeError(err error) string {
	var unknown *registry.UnknownModelError
	var clientErr *ollama.ClientError
	switch {
	case err == nil:
		return ""
	case ollama.IsServerUnreachable(err):
		return "Ollama is not reachable. Start it with: ollachat serve"
	case errors.As(err, &clientErr) && clientErr == session.ErrNoModelSelected:
		return "No model selected. Use /models and /model NAME."
	case errors.Is(err, ollama.ErrModelNotFound):
		return err.Error() + ". Pull it with: ollama pull NAME"
	case errors.As(err, &unknown):
		return err.Error() + ". Use /models to list installed models."
	case ollama.IsCancelled(err):
		return "Stopped."
	case ollama.IsTimeout(err):
		return "The server took too long to answer. Try again or raise server.request_timeout."
	default:
		return err.Error()
	}
}
