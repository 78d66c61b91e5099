// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package registry tracks the models installed on the Ollama server and
// which one the session is using.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/sahilm/fuzzy"
	"go.uber.org/zap"

	"github.com/jeranaias/ollachat/internal/ollama"
)

// DefaultTag is the tag Ollama assumes when a model name has none.
const DefaultTag = "latest"

// maxSuggestions caps the "did you mean" list on ErrUnknownModel.
const maxSuggestions = 3

// ErrUnknownModel is matched by the error Select returns for a name that was
// not in the last reloaded list.
var ErrUnknownModel = errors.New("unknown model")

// UnknownModelError names the rejected model and close matches.
type UnknownModelError struct {
	Name        string
	Suggestions []string
}

func (e *UnknownModelError) Error() string {
	if len(e.Suggestions) == 0 {
		return fmt.Sprintf("unknown model %q", e.Name)
	}
	return fmt.Sprintf("unknown model %q (did you mean %s?)", e.Name, strings.Join(e.Suggestions, ", "))
}

func (e *UnknownModelError) Unwrap() error {
	return ErrUnknownModel
}

// =============================================================================
// MODEL DESCRIPTOR
// =============================================================================

// ModelDescriptor identifies one installed model.
type ModelDescriptor struct {
	Name string
	Tag  string

	// Size on disk in bytes, informational
	Size int64
}

// ParseDescriptor splits "name:tag" into a descriptor. A missing tag becomes
// DefaultTag. Registry namespaces such as "library/llama3:8b" keep their slash.
func ParseDescriptor(full string) ModelDescriptor {
	full = strings.TrimSpace(full)
	name, tag := full, DefaultTag
	// The tag separator is the last colon after the last slash, so a registry
	// host with a port ("host:5000/llama3") is not mistaken for a tag.
	if i := strings.LastIndex(full, ":"); i > strings.LastIndex(full, "/") {
		name, tag = full[:i], full[i+1:]
		if tag == "" {
			tag = DefaultTag
		}
	}
	return ModelDescriptor{Name: name, Tag: tag}
}

// String returns the "name:tag" form the chat endpoint expects.
func (d ModelDescriptor) String() string {
	return d.Name + ":" + d.Tag
}

// =============================================================================
// REGISTRY
// =============================================================================

// HealthChecker is the reachability probe run before each reload.
type HealthChecker interface {
	CheckOnce(ctx context.Context) bool
}

// ModelLister fetches the installed model list. *ollama.Client implements it.
type ModelLister interface {
	ListModels(ctx context.Context) ([]ollama.ModelInfo, error)
}

// Registry caches the installed model list and the current selection.
// Reload replaces the list wholesale; readers never see a partial list.
type Registry struct {
	health HealthChecker
	lister ModelLister
	logger *zap.Logger

	mu       sync.RWMutex
	models   []ModelDescriptor
	current  *ModelDescriptor
	reloaded bool
}

// New creates an empty registry.
func New(health HealthChecker, lister ModelLister, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{health: health, lister: lister, logger: logger}
}

// Reload fetches the model list from the server. It fails with
// ollama.ErrServerUnreachable when the health probe fails and with
// ollama.ErrMalformedResponse when the list cannot be decoded. A selection
// that is no longer installed is cleared.
func (r *Registry) Reload(ctx context.Context) ([]ModelDescriptor, error) {
	if !r.health.CheckOnce(ctx) {
		return nil, ollama.ErrServerUnreachable
	}

	infos, err := r.lister.ListModels(ctx)
	if err != nil {
		return nil, err
	}

	models := make([]ModelDescriptor, 0, len(infos))
	for _, info := range infos {
		name := info.Name
		if name == "" {
			name = info.Model
		}
		if name == "" {
			return nil, &ollama.ClientError{
				Type:    ollama.ErrTypeInvalidResponse,
				Message: "model entry has neither name nor model",
			}
		}
		d := ParseDescriptor(name)
		d.Size = info.Size
		models = append(models, d)
	}

	r.mu.Lock()
	r.models = models
	r.reloaded = true
	if r.current != nil && indexOf(models, *r.current) < 0 {
		r.logger.Info("selected model is no longer installed", zap.String("model", r.current.String()))
		r.current = nil
	}
	r.mu.Unlock()

	r.logger.Debug("model list reloaded", zap.Int("count", len(models)))
	return cloneList(models), nil
}

// Models returns the last reloaded list.
func (r *Registry) Models() []ModelDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneList(r.models)
}

// Loaded reports whether Reload has succeeded at least once.
func (r *Registry) Loaded() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.reloaded
}

// Current returns the selected model, if any.
func (r *Registry) Current() (ModelDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.current == nil {
		return ModelDescriptor{}, false
	}
	return *r.current, true
}

// Select makes name the current model. name may be "name:tag" or a bare name
// that matches exactly one installed model. No network call is made.
func (r *Registry) Select(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.resolveLocked(name)
	if !ok {
		return &UnknownModelError{Name: name, Suggestions: r.suggestLocked(name)}
	}
	r.current = &d
	return nil
}

// SelectDefault selects preferred when it is installed, otherwise the first
// installed model. It reports whether anything was selected.
func (r *Registry) SelectDefault(preferred string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if preferred != "" {
		if d, ok := r.resolveLocked(preferred); ok {
			r.current = &d
			return true
		}
	}
	if r.current != nil {
		return true
	}
	if len(r.models) > 0 {
		d := r.models[0]
		r.current = &d
		return true
	}
	return false
}

func (r *Registry) resolveLocked(name string) (ModelDescriptor, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return ModelDescriptor{}, false
	}

	want := ParseDescriptor(name)
	if i := indexOf(r.models, want); i >= 0 {
		return r.models[i], true
	}
	if strings.Contains(name, ":") {
		return ModelDescriptor{}, false
	}

	// Bare name with a non-default tag installed
	var match *ModelDescriptor
	for i := range r.models {
		if r.models[i].Name != name {
			continue
		}
		if match != nil {
			return ModelDescriptor{}, false
		}
		match = &r.models[i]
	}
	if match == nil {
		return ModelDescriptor{}, false
	}
	return *match, true
}

func (r *Registry) suggestLocked(name string) []string {
	targets := make([]string, len(r.models))
	for i, m := range r.models {
		targets[i] = m.String()
	}

	matches := fuzzy.Find(name, targets)
	if len(matches) > maxSuggestions {
		matches = matches[:maxSuggestions]
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m.Str)
	}
	return out
}

func indexOf(models []ModelDescriptor, d ModelDescriptor) int {
	for i, m := range models {
		if m.Name == d.Name && m.Tag == d.Tag {
			return i
		}
	}
	return -1
}

func cloneList(models []ModelDescriptor) []ModelDescriptor {
	return append([]ModelDescriptor(nil), models...)
}
