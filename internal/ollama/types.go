// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP transport for communicating with an Ollama server.
package ollama

// =============================================================================
// REQUEST TYPES
// =============================================================================

// Message represents a chat message on the wire.
type Message struct {
	Role    string   `json:"role"`             // "user", "assistant", "system"
	Content string   `json:"content"`          // The message content
	Images  []string `json:"images,omitempty"` // Base64-encoded images
}

// ChatRequest is the request body for /api/chat endpoint.
type ChatRequest struct {
	Model    string    `json:"model"`             // Model name (e.g., "qwen2.5-coder:14b")
	Messages []Message `json:"messages"`          // Conversation history
	Stream   bool      `json:"stream"`            // Always true for the chat engine
	Options  *Options  `json:"options,omitempty"` // Model parameters
}

// Options contains model parameters for inference.
// Both fields are always serialized: a zero temperature and a -1 predict
// count are meaningful values the server must see verbatim.
type Options struct {
	Temperature float64 `json:"temperature"` // Passed through unvalidated
	NumPredict  int     `json:"num_predict"` // Max tokens to generate, -1 for unlimited
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// ChatChunk is one line of the /api/chat streaming response.
type ChatChunk struct {
	Model      string       `json:"model"`
	CreatedAt  string       `json:"created_at"` // Server timestamp, kept verbatim
	Message    ChunkMessage `json:"message"`
	Done       bool         `json:"done"`
	DoneReason string       `json:"done_reason,omitempty"`

	// Error is set when the server aborts generation mid-stream
	Error string `json:"error,omitempty"`

	// Statistics, present on the final line only
	TotalDuration      int64 `json:"total_duration,omitempty"`       // nanoseconds
	LoadDuration       int64 `json:"load_duration,omitempty"`        // nanoseconds
	PromptEvalCount    int   `json:"prompt_eval_count,omitempty"`    // number of tokens in prompt
	PromptEvalDuration int64 `json:"prompt_eval_duration,omitempty"` // nanoseconds
	EvalCount          int   `json:"eval_count,omitempty"`           // number of tokens generated
	EvalDuration       int64 `json:"eval_duration,omitempty"`        // nanoseconds
}

// ChunkMessage is the message fragment carried by a streaming line.
type ChunkMessage struct {
	Role     string `json:"role"`
	Content  string `json:"content"`
	Thinking string `json:"thinking,omitempty"` // Separate reasoning channel on newer servers
}

// TokensPerSecond calculates the generation speed from a final chunk.
func (c *ChatChunk) TokensPerSecond() float64 {
	if c.EvalDuration == 0 {
		return 0
	}
	seconds := float64(c.EvalDuration) / 1e9
	return float64(c.EvalCount) / seconds
}

// =============================================================================
// MODEL TYPES
// =============================================================================

// ModelInfo contains information about an installed model.
type ModelInfo struct {
	Name       string `json:"name"`
	Model      string `json:"model"`
	ModifiedAt string `json:"modified_at"` // Informational, not parsed
	Size       int64  `json:"size"`
	Digest     string `json:"digest"`
}

// ListModelsResponse is the response from /api/tags endpoint.
type ListModelsResponse struct {
	Models []ModelInfo `json:"models"`
}

// =============================================================================
// ERROR TYPES
// =============================================================================

// OllamaError represents an error body from the Ollama API.
type OllamaError struct {
	Error string `json:"error"`
}
