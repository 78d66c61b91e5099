// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP transport for communicating with an Ollama server.
package ollama

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"
)

// DefaultMaxConsecutiveSkips caps how many malformed lines in a row the decoder
// tolerates before declaring the response to be the wrong protocol entirely.
const DefaultMaxConsecutiveSkips = 64

// MaxLineSize bounds one response line, newline included. Longer lines are
// discarded as they are read and count as malformed.
const MaxLineSize = 1 * 1024 * 1024

// =============================================================================
// LINE DECODER
// =============================================================================

// LineDecoder decodes a newline-delimited JSON chat stream one line at a time.
// Blank lines are ignored. Lines that are not valid JSON, or valid JSON that
// does not look like a chat chunk, are skipped and counted.
type LineDecoder struct {
	reader   *bufio.Reader
	maxSkips int
	buf      []byte

	consecutive int
	skipped     int
	decoded     int
	eof         bool
}

// NewLineDecoder creates a decoder over r. maxSkips <= 0 selects DefaultMaxConsecutiveSkips.
func NewLineDecoder(r io.Reader, maxSkips int) *LineDecoder {
	if maxSkips <= 0 {
		maxSkips = DefaultMaxConsecutiveSkips
	}
	return &LineDecoder{
		reader:   bufio.NewReader(r),
		maxSkips: maxSkips,
	}
}

// rawChunk mirrors ChatChunk with pointer fields so a decoded line can be
// checked for the expected shape.
type rawChunk struct {
	Model      string        `json:"model"`
	CreatedAt  string        `json:"created_at"`
	Message    *ChunkMessage `json:"message"`
	Done       *bool         `json:"done"`
	DoneReason string        `json:"done_reason"`
	Error      string        `json:"error"`

	TotalDuration      int64 `json:"total_duration"`
	LoadDuration       int64 `json:"load_duration"`
	PromptEvalCount    int   `json:"prompt_eval_count"`
	PromptEvalDuration int64 `json:"prompt_eval_duration"`
	EvalCount          int   `json:"eval_count"`
	EvalDuration       int64 `json:"eval_duration"`
}

// Next returns the next usable chunk.
//
// It returns io.EOF when the stream ends cleanly, ErrMalformedResponseLine once
// the consecutive-skip cap is hit, and an ErrStreamInterrupted-typed error when
// the underlying read fails.
func (d *LineDecoder) Next() (*ChatChunk, error) {
	for {
		if d.eof {
			return nil, io.EOF
		}

		line, tooLong, err := d.readLine()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				return nil, &ClientError{Type: ErrTypeInterrupted, Message: "response stream interrupted", Cause: err}
			}
			// Process a final unterminated line before reporting EOF
			d.eof = true
		}

		if tooLong {
			if err := d.skip(); err != nil {
				return nil, err
			}
			continue
		}

		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		chunk, ok := decodeChunk(line)
		if !ok {
			if err := d.skip(); err != nil {
				return nil, err
			}
			continue
		}

		d.consecutive = 0
		d.decoded++
		return chunk, nil
	}
}

// readLine returns the next line. A line over MaxLineSize is consumed
// without being kept and reported with tooLong set.
func (d *LineDecoder) readLine() (line []byte, tooLong bool, err error) {
	d.buf = d.buf[:0]
	for {
		frag, err := d.reader.ReadSlice('\n')
		if !tooLong {
			if len(d.buf)+len(frag) > MaxLineSize {
				tooLong = true
				d.buf = d.buf[:0]
			} else {
				d.buf = append(d.buf, frag...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return d.buf, tooLong, err
	}
}

// skip counts a malformed line and fails once the consecutive cap is hit.
func (d *LineDecoder) skip() error {
	d.skipped++
	d.consecutive++
	if d.consecutive >= d.maxSkips {
		return &ClientError{
			Type:    ErrTypeMalformedLine,
			Message: "too many consecutive malformed lines in response stream",
		}
	}
	return nil
}

// Decoded returns the number of usable lines returned so far.
func (d *LineDecoder) Decoded() int {
	return d.decoded
}

// Skipped returns the number of malformed lines skipped so far.
func (d *LineDecoder) Skipped() int {
	return d.skipped
}

// decodeChunk is the decode-or-skip step: ok is false when the line must be skipped.
func decodeChunk(line []byte) (*ChatChunk, bool) {
	var raw rawChunk
	if err := json.Unmarshal(line, &raw); err != nil {
		return nil, false
	}
	if raw.Message == nil && raw.Done == nil && raw.Error == "" {
		return nil, false
	}

	chunk := &ChatChunk{
		Model:              raw.Model,
		CreatedAt:          raw.CreatedAt,
		DoneReason:         raw.DoneReason,
		Error:              raw.Error,
		TotalDuration:      raw.TotalDuration,
		LoadDuration:       raw.LoadDuration,
		PromptEvalCount:    raw.PromptEvalCount,
		PromptEvalDuration: raw.PromptEvalDuration,
		EvalCount:          raw.EvalCount,
		EvalDuration:       raw.EvalDuration,
	}
	if raw.Message != nil {
		chunk.Message = *raw.Message
	}
	if raw.Done != nil {
		chunk.Done = *raw.Done
	}
	return chunk, true
}
