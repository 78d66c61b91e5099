// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package think splits a streamed content channel into reasoning and answer
// text using <think>...</think> markers.
//
// Marker handling rules:
//   - markers do not nest: an opening marker inside reasoning is reasoning text,
//     and the first closing marker ends the reasoning block
//   - a closing marker seen outside reasoning is answer text
//   - newlines directly after a closing marker are dropped
//   - a block left open at end of stream stays reasoning
//
// A Decoder is not safe for concurrent use; use one per in-flight turn.
package think

import "strings"

const (
	// OpenMarker starts a reasoning block.
	OpenMarker = "<think>"
	// CloseMarker ends a reasoning block.
	CloseMarker = "</think>"
)

// Kind identifies the channel of a segment.
type Kind int

const (
	Answer Kind = iota
	Reasoning
)

// String returns the channel name.
func (k Kind) String() string {
	if k == Reasoning {
		return "reasoning"
	}
	return "answer"
}

// Segment is a run of text classified into one channel.
type Segment struct {
	Kind Kind
	Text string
}

// Decoder classifies fragments as they arrive. Text that could be the start of
// a marker is held back in a carry-over buffer until the next fragment decides it.
type Decoder struct {
	enabled     bool
	inReasoning bool
	trimLeading bool
	carry       string
}

// NewDecoder returns a decoder. When enabled is false every fragment is answer
// text and markers pass through literally.
func NewDecoder(enabled bool) *Decoder {
	return &Decoder{enabled: enabled}
}

// Enabled reports whether classification is active.
func (d *Decoder) Enabled() bool {
	return d.enabled
}

// InReasoning reports whether the decoder is inside an open reasoning block.
func (d *Decoder) InReasoning() bool {
	return d.inReasoning
}

// Feed classifies one fragment and returns the segments that are now certain,
// in stream order. Empty segments are never returned.
func (d *Decoder) Feed(fragment string) []Segment {
	if !d.enabled {
		if fragment == "" {
			return nil
		}
		return []Segment{{Kind: Answer, Text: fragment}}
	}

	buf := d.carry + fragment
	d.carry = ""

	var out []Segment
	for buf != "" {
		marker := OpenMarker
		kind := Answer
		if d.inReasoning {
			marker = CloseMarker
			kind = Reasoning
		}

		if kind == Answer && d.trimLeading {
			buf = strings.TrimLeft(buf, "\r\n")
			if buf == "" {
				break
			}
			d.trimLeading = false
		}

		if idx := strings.Index(buf, marker); idx >= 0 {
			out = appendSegment(out, kind, buf[:idx])
			buf = buf[idx+len(marker):]
			if d.inReasoning {
				d.inReasoning = false
				d.trimLeading = true
			} else {
				d.inReasoning = true
			}
			continue
		}

		// Hold back a suffix that may be the beginning of the marker
		keep := partialSuffix(buf, marker)
		out = appendSegment(out, kind, buf[:len(buf)-keep])
		d.carry = buf[len(buf)-keep:]
		break
	}
	return out
}

// Flush releases any held-back text at end of stream, in its current channel.
func (d *Decoder) Flush() []Segment {
	if d.carry == "" {
		return nil
	}
	kind := Answer
	if d.inReasoning {
		kind = Reasoning
	}
	text := d.carry
	d.carry = ""
	return appendSegment(nil, kind, text)
}

func appendSegment(out []Segment, kind Kind, text string) []Segment {
	if text == "" {
		return out
	}
	// Adjacent runs of the same channel come from one fragment; keep them as one event
	if n := len(out); n > 0 && out[n-1].Kind == kind {
		out[n-1].Text += text
		return out
	}
	return append(out, Segment{Kind: kind, Text: text})
}

// partialSuffix returns the length of the longest proper prefix of marker
// that s ends with.
func partialSuffix(s, marker string) int {
	max := len(marker) - 1
	if max > len(s) {
		max = len(s)
	}
	for n := max; n > 0; n-- {
		if strings.HasSuffix(s, marker[:n]) {
			return n
		}
	}
	return 0
}
