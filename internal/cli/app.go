// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/jeranaias/ollachat/internal/chat"
	"github.com/jeranaias/ollachat/internal/commands"
	"github.com/jeranaias/ollachat/internal/config"
	"github.com/jeranaias/ollachat/internal/health"
	"github.com/jeranaias/ollachat/internal/logging"
	"github.com/jeranaias/ollachat/internal/ollama"
	"github.com/jeranaias/ollachat/internal/registry"
	"github.com/jeranaias/ollachat/internal/session"
	"github.com/jeranaias/ollachat/internal/storage"
)

// =============================================================================
// GLOBAL OPTIONS
// =============================================================================

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	configPath string
	debug      bool
	host       string
	model      string
	noHistory  bool
}

// loadConfig reads the config file named by --config (or the default path)
// and applies the flag overrides on top.
func (o *globalOptions) loadConfig() (*config.Config, string, error) {
	path := o.configPath
	if path == "" {
		var err error
		if path, err = config.ConfigPath(); err != nil {
			return nil, "", err
		}
	}

	cfg, err := config.LoadFromPath(path)
	if err != nil {
		return nil, "", &configError{err: err}
	}
	if o.host != "" {
		cfg.Server.Host = o.host
	}
	if o.model != "" {
		cfg.Chat.DefaultModel = o.model
	}
	if o.noHistory {
		cfg.History.Enabled = false
	}
	return cfg, path, nil
}

// =============================================================================
// APPLICATION
// =============================================================================

// app holds the engine components one command invocation works with.
type app struct {
	settings *config.Source
	logger   *zap.Logger
	closeLog func() error

	client   *ollama.Client
	monitor  *health.Monitor
	registry *registry.Registry
	chat     *chat.Client
	history  *storage.HistoryStore
	session  *session.Session
	commands *commands.Registry
	env      *commands.Env
}

// appOptions select how much of the engine to build.
type appOptions struct {
	// logFile sends the log to a file, for full-screen shells
	logFile bool
	// logWriter receives the log otherwise (default stderr)
	logWriter io.Writer
	// withHistory opens the history store when history is enabled
	withHistory bool
}

// newApp wires the engine from the configuration. Callers must Close it.
func newApp(g *globalOptions, opts appOptions) (*app, error) {
	cfg, path, err := g.loadConfig()
	if err != nil {
		return nil, err
	}

	logOpts := logging.Options{Level: cfg.Log.Level, Debug: g.debug, File: cfg.Log.File, Writer: opts.logWriter}
	if opts.logFile && logOpts.File == "" {
		dir, err := config.ConfigDir()
		if err != nil {
			return nil, err
		}
		logOpts.File = filepath.Join(dir, "ollachat.log")
	}
	logger, closeLog, err := logging.New(logOpts)
	if err != nil {
		return nil, err
	}

	a := &app{
		settings: config.NewSource(cfg, path),
		logger:   logger,
		closeLog: closeLog,
	}

	a.client = ollama.NewClientWithConfig(&ollama.ClientConfig{
		BaseURL:       cfg.BaseURL(),
		Timeout:       cfg.Server.RequestTimeout.Duration,
		HealthTimeout: cfg.Server.HealthTimeout.Duration,
	})
	a.monitor = health.NewMonitor(a.client, logger.Named("health"))
	a.registry = registry.New(a.monitor, a.client, logger.Named("registry"))
	a.chat = chat.NewClient(a.client, a.monitor, logger.Named("chat"))

	if opts.withHistory && cfg.History.Enabled {
		dbPath, err := cfg.HistoryPath()
		if err != nil {
			a.Close()
			return nil, err
		}
		if a.history, err = storage.Open(dbPath, logger.Named("history")); err != nil {
			a.Close()
			return nil, fmt.Errorf("open history: %w", err)
		}
	}

	a.session = session.New(session.Deps{
		Chat:     a.chat,
		Registry: a.registry,
		Settings: a.settings,
		History:  a.history,
		Logger:   logger.Named("session"),
	})
	a.commands = commands.NewRegistry()
	a.env = &commands.Env{
		Session:  a.session,
		Registry: a.registry,
		Health:   a.monitor,
		History:  a.history,
	}

	logger.Debug("engine ready",
		zap.String("server", cfg.BaseURL()),
		zap.String("config", path),
		zap.Bool("history", a.history != nil),
	)
	return a, nil
}

// selectDefaultModel loads the model list and selects the configured
// default, or the first installed model.
func (a *app) selectDefaultModel(ctx context.Context) error {
	if _, err := a.registry.Reload(ctx); err != nil {
		return err
	}
	if preferred := a.settings.Snapshot().Chat.DefaultModel; preferred != "" {
		err := a.registry.Select(preferred)
		if err == nil {
			return nil
		}
		a.logger.Warn("default model is not installed", zap.String("model", preferred), zap.Error(err))
	}
	if !a.registry.SelectDefault("") {
		return session.ErrNoModelSelected
	}
	return nil
}

// reloadWhenOnline selects a model the first time the server comes online
// when it was unreachable at startup.
func (a *app) reloadWhenOnline(ctx context.Context) {
	a.monitor.OnChange(func(s health.State) {
		if !s.IsOnline || a.registry.Loaded() {
			return
		}
		// Listeners run on the probing goroutine, which Reload probes through
		go func() {
			if err := a.selectDefaultModel(ctx); err != nil {
				a.logger.Warn("could not select a model", zap.Error(err))
			}
		}()
	})
}

// Close releases the session, the history store and the log.
func (a *app) Close() error {
	if a.session != nil {
		a.session.Close()
	} else if a.history != nil {
		a.history.Close()
	}
	if a.closeLog != nil {
		return a.closeLog()
	}
	return nil
}
