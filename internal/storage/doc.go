// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage persists conversation history for ollachat.
//
// Finalized turns are written to a SQLite database (pure Go driver, WAL
// journal) as they are finalized, by registering the store's hook on a
// conversation:
//
//	store, err := storage.Open(cfg.HistoryPath(), logger)
//	conv.OnFinalize(store.Hook(currentModel))
//
// List and load past conversations:
//
//	metas, err := store.List(ctx, 20)
//	meta, turns, err := store.Load(ctx, metas[0].ID)
//
// In-flight assistant turns are never stored. Load accepts a unique ID prefix.
//
// # Storage Location
//
// The database lives at ~/.ollachat/history.db unless history.path is set.
package storage
