// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

const (
	// SchemaVersion tracks the database schema version for migrations
	SchemaVersion = 1
)

// Schema is the SQLite schema for conversation history.
const Schema = `
-- Metadata table for schema version
CREATE TABLE IF NOT EXISTS metadata (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
) WITHOUT ROWID;

-- Conversations: one row per conversation that has at least one finalized turn
CREATE TABLE IF NOT EXISTS conversations (
    id TEXT PRIMARY KEY,
    model TEXT NOT NULL DEFAULT '',
    preview TEXT NOT NULL DEFAULT '',  -- first user turn, single line
    created_at INTEGER NOT NULL,       -- Unix milliseconds
    updated_at INTEGER NOT NULL        -- Unix milliseconds
);

CREATE INDEX IF NOT EXISTS idx_conversations_updated ON conversations(updated_at);

-- Turns: finalized turns in conversation order
CREATE TABLE IF NOT EXISTS turns (
    id TEXT PRIMARY KEY,
    conversation_id TEXT NOT NULL,
    seq INTEGER NOT NULL,
    role TEXT NOT NULL,                -- user, assistant
    text TEXT NOT NULL,
    reasoning TEXT NOT NULL DEFAULT '',
    failed INTEGER NOT NULL DEFAULT 0,
    failure_reason TEXT NOT NULL DEFAULT '',
    partial_text TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL,
    finalized_at INTEGER NOT NULL DEFAULT 0,
    FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE,
    UNIQUE (conversation_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_turns_conversation ON turns(conversation_id, seq);

-- Images attached to user turns
CREATE TABLE IF NOT EXISTS turn_images (
    turn_id TEXT NOT NULL,
    idx INTEGER NOT NULL,
    data BLOB NOT NULL,
    PRIMARY KEY (turn_id, idx),
    FOREIGN KEY (turn_id) REFERENCES turns(id) ON DELETE CASCADE
) WITHOUT ROWID;
`
