// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package repl

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	"golang.org/x/term"
)

// errAborted is returned when Ctrl+C is pressed at the prompt.
var errAborted = errors.New("prompt aborted")

// lineReader reads one line of input per call.
type lineReader interface {
	ReadLine(prompt string) (string, error)
	Close() error
}

// newReader uses liner when input is a terminal and a plain scanner otherwise.
func (r *REPL) newReader() lineReader {
	if f, ok := r.in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return newLinerReader(r.historyFile, r.completer.Complete)
	}
	return &scanReader{scanner: bufio.NewScanner(r.in)}
}

// =============================================================================
// LINER
// =============================================================================

// linerReader provides input history and line editing on a terminal.
type linerReader struct {
	line        *liner.State
	historyFile string
}

func newLinerReader(historyFile string, complete func(string) []string) *linerReader {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)
	line.SetTabCompletionStyle(liner.TabPrints)
	line.SetCompleter(complete)

	lr := &linerReader{line: line, historyFile: historyFile}
	lr.loadHistory()
	return lr
}

func (l *linerReader) loadHistory() {
	if l.historyFile == "" {
		return
	}
	if f, err := os.Open(l.historyFile); err == nil {
		l.line.ReadHistory(f)
		f.Close()
	}
}

func (l *linerReader) ReadLine(prompt string) (string, error) {
	input, err := l.line.Prompt(prompt)
	if errors.Is(err, liner.ErrPromptAborted) {
		return "", errAborted
	}
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		l.line.AppendHistory(input)
	}
	return input, nil
}

// Close saves history with owner-only permissions and restores the terminal.
func (l *linerReader) Close() error {
	defer l.line.Close()
	if l.historyFile == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(l.historyFile), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(l.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = l.line.WriteHistory(f)
	return err
}

// =============================================================================
// PLAIN INPUT
// =============================================================================

// scanReader reads piped input. Prompts are not echoed.
type scanReader struct {
	scanner *bufio.Scanner
}

func (s *scanReader) ReadLine(string) (string, error) {
	if s.scanner.Scan() {
		return s.scanner.Text(), nil
	}
	if err := s.scanner.Err(); err != nil {
		return "", fmt.Errorf("read input: %w", err)
	}
	return "", io.EOF
}

func (s *scanReader) Close() error { return nil }
