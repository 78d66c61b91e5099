// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for ollachat.
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (OLLACHAT_*)
//   - ~/.ollachat/config.toml
//   - Built-in defaults
//
// # Usage
//
// Load configuration and share it with a hot-reloading Source:
//
//	path, _ := config.ConfigPath()
//	cfg, err := config.LoadFromPath(path)
//	if err != nil {
//	    return err
//	}
//	src := config.NewSource(cfg, path)
//	go config.Watch(ctx, src, 0, logger)
//
//	settings := src.Snapshot()
//	fmt.Println(settings.BaseURL(), settings.Chat.MaxTokens)
package config
