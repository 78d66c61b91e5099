// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/jeranaias/ollachat/internal/model"
	"github.com/jeranaias/ollachat/internal/util"
)

// previewWidth is the display width kept for a conversation preview.
const previewWidth = 60

// =============================================================================
// ERRORS
// =============================================================================

// Sentinel errors for history lookups.
// Use errors.Is(err, ErrConversationNotFound) to check for these errors.
var (
	ErrConversationNotFound = &ConversationError{Message: "conversation not found"}
	ErrAmbiguousID          = &ConversationError{Message: "conversation id prefix is ambiguous"}
)

// ConversationError represents a history lookup error.
// It implements the error interface and can be compared using errors.Is.
type ConversationError struct {
	Message string
	ID      string
}

// Error implements the error interface.
func (e *ConversationError) Error() string {
	if e.ID != "" {
		return e.Message + ": " + e.ID
	}
	return e.Message
}

// Is implements errors.Is support for comparing conversation errors.
func (e *ConversationError) Is(target error) bool {
	t, ok := target.(*ConversationError)
	if !ok {
		return false
	}
	return e.Message == t.Message
}

// =============================================================================
// TYPES
// =============================================================================

// ConversationMeta contains metadata for listing conversations.
type ConversationMeta struct {
	ID        string    `json:"id"`
	Model     string    `json:"model"`
	Preview   string    `json:"preview"` // First user turn, single line
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	TurnCount int       `json:"turn_count"`
}

// HistoryStore persists finalized turns to a SQLite database.
//
// The store is safe for concurrent use; SQLite allows one writer, so the
// pool is limited to a single connection.
type HistoryStore struct {
	db     *sql.DB
	path   string
	logger *zap.Logger
}

// =============================================================================
// OPEN / CLOSE
// =============================================================================

// Open opens (creating if needed) the history database at path.
func Open(path string, logger *zap.Logger) (*HistoryStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if path == "" {
		return nil, errors.New("history path is empty")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("history store opened", zap.String("path", path))
	return &HistoryStore{db: db, path: path, logger: logger}, nil
}

func initSchema(db *sql.DB) error {
	if _, err := db.Exec(Schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	_, err := db.Exec(
		`INSERT INTO metadata(key, value) VALUES('schema_version', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		strconv.Itoa(SchemaVersion),
	)
	if err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}
	return nil
}

// Path returns the database file path.
func (s *HistoryStore) Path() string {
	return s.path
}

// Close closes the database.
func (s *HistoryStore) Close() error {
	return s.db.Close()
}

// =============================================================================
// WRITE
// =============================================================================

// AppendTurn stores one finalized turn at the end of a conversation,
// creating the conversation row on first use. Storing a turn ID twice is a no-op.
func (s *HistoryStore) AppendTurn(ctx context.Context, conversationID, modelName string, turn model.Turn) error {
	if conversationID == "" {
		return errors.New("conversation id is empty")
	}
	if !turn.IsFinal {
		return fmt.Errorf("turn %s is not final", turn.ID)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UnixMilli()
	preview := ""
	if turn.Role == model.RoleUser {
		preview = turn.Preview(previewWidth)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO conversations(id, model, preview, created_at, updated_at)
		 VALUES(?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   updated_at = excluded.updated_at,
		   model = CASE WHEN excluded.model != '' THEN excluded.model ELSE conversations.model END,
		   preview = CASE WHEN conversations.preview = '' THEN excluded.preview ELSE conversations.preview END`,
		conversationID, modelName, preview, turn.CreatedAt.UnixMilli(), now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert conversation: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO turns(id, conversation_id, seq, role, text, reasoning, failed,
		                   failure_reason, partial_text, created_at, finalized_at)
		 VALUES(?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM turns WHERE conversation_id = ?),
		        ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		turn.ID, conversationID, conversationID,
		string(turn.Role), turn.Text, turn.ReasoningText, boolToInt(turn.Failed),
		turn.FailureReason, turn.PartialText, turn.CreatedAt.UnixMilli(), unixMilliOrZero(turn.FinalizedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert turn: %w", err)
	}

	if n, _ := res.RowsAffected(); n > 0 {
		for i, img := range turn.Images {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO turn_images(turn_id, idx, data) VALUES(?, ?, ?)`,
				turn.ID, i, img,
			); err != nil {
				return fmt.Errorf("failed to insert image: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit turn: %w", err)
	}
	return nil
}

// Hook returns a finalize hook that persists every finalized turn.
// modelName is called per turn so the stored model follows the current selection.
// Write failures are logged, never surfaced to the generation.
func (s *HistoryStore) Hook(modelName func() string) model.FinalizeHook {
	return func(conversationID string, turn model.Turn) {
		name := ""
		if modelName != nil {
			name = modelName()
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.AppendTurn(ctx, conversationID, name, turn); err != nil {
			s.logger.Warn("failed to persist turn",
				zap.String("conversation", conversationID),
				zap.String("turn", turn.ID),
				zap.Error(err),
			)
		}
	}
}

// Delete removes a conversation and all its turns.
func (s *HistoryStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &ConversationError{Message: ErrConversationNotFound.Message, ID: id}
	}
	return nil
}

// =============================================================================
// READ
// =============================================================================

// List returns conversations, most recently updated first.
// limit <= 0 returns all of them.
func (s *HistoryStore) List(ctx context.Context, limit int) ([]ConversationMeta, error) {
	query := `SELECT c.id, c.model, c.preview, c.created_at, c.updated_at,
	                 (SELECT COUNT(*) FROM turns t WHERE t.conversation_id = c.id)
	          FROM conversations c
	          ORDER BY c.updated_at DESC, c.id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var metas []ConversationMeta
	for rows.Next() {
		meta, err := scanMeta(rows)
		if err != nil {
			return nil, err
		}
		metas = append(metas, meta)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	return metas, nil
}

// Resolve expands a full conversation ID or a unique prefix of one.
func (s *HistoryStore) Resolve(ctx context.Context, idOrPrefix string) (string, error) {
	if idOrPrefix == "" {
		return "", ErrConversationNotFound
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM conversations WHERE id = ? OR id LIKE ? ESCAPE '\' ORDER BY id LIMIT 2`,
		idOrPrefix, escapeLike(idOrPrefix)+"%",
	)
	if err != nil {
		return "", fmt.Errorf("failed to resolve conversation: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return "", fmt.Errorf("failed to resolve conversation: %w", err)
		}
		if id == idOrPrefix {
			return id, nil
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("failed to resolve conversation: %w", err)
	}

	switch len(ids) {
	case 0:
		return "", &ConversationError{Message: ErrConversationNotFound.Message, ID: idOrPrefix}
	case 1:
		return ids[0], nil
	default:
		return "", &ConversationError{Message: ErrAmbiguousID.Message, ID: idOrPrefix}
	}
}

// Load returns a conversation's metadata and its turns in order.
// id may be a unique prefix.
func (s *HistoryStore) Load(ctx context.Context, id string) (ConversationMeta, []model.Turn, error) {
	id, err := s.Resolve(ctx, id)
	if err != nil {
		return ConversationMeta{}, nil, err
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT c.id, c.model, c.preview, c.created_at, c.updated_at,
		        (SELECT COUNT(*) FROM turns t WHERE t.conversation_id = c.id)
		 FROM conversations c WHERE c.id = ?`, id)
	meta, err := scanMeta(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ConversationMeta{}, nil, &ConversationError{Message: ErrConversationNotFound.Message, ID: id}
	}
	if err != nil {
		return ConversationMeta{}, nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, role, text, reasoning, failed, failure_reason, partial_text, created_at, finalized_at
		 FROM turns WHERE conversation_id = ? ORDER BY seq`, id)
	if err != nil {
		return ConversationMeta{}, nil, fmt.Errorf("failed to load turns: %w", err)
	}

	var turns []model.Turn
	for rows.Next() {
		var (
			t                  model.Turn
			role               string
			failed             int
			created, finalized int64
		)
		if err := rows.Scan(&t.ID, &role, &t.Text, &t.ReasoningText, &failed,
			&t.FailureReason, &t.PartialText, &created, &finalized); err != nil {
			rows.Close()
			return ConversationMeta{}, nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		t.Role = model.Role(role)
		t.Failed = failed != 0
		t.IsFinal = true
		t.CreatedAt = time.UnixMilli(created)
		if finalized != 0 {
			t.FinalizedAt = time.UnixMilli(finalized)
		}
		turns = append(turns, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return ConversationMeta{}, nil, fmt.Errorf("failed to load turns: %w", err)
	}

	if err := s.loadImages(ctx, id, turns); err != nil {
		return ConversationMeta{}, nil, err
	}
	return meta, turns, nil
}

func (s *HistoryStore) loadImages(ctx context.Context, conversationID string, turns []model.Turn) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT i.turn_id, i.data FROM turn_images i
		 JOIN turns t ON t.id = i.turn_id
		 WHERE t.conversation_id = ?
		 ORDER BY i.turn_id, i.idx`, conversationID)
	if err != nil {
		return fmt.Errorf("failed to load images: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]int, len(turns))
	for i := range turns {
		byID[turns[i].ID] = i
	}
	for rows.Next() {
		var turnID string
		var data []byte
		if err := rows.Scan(&turnID, &data); err != nil {
			return fmt.Errorf("failed to scan image: %w", err)
		}
		if i, ok := byID[turnID]; ok {
			turns[i].Images = append(turns[i].Images, data)
		}
	}
	return rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMeta(row scanner) (ConversationMeta, error) {
	var (
		meta             ConversationMeta
		created, updated int64
	)
	if err := row.Scan(&meta.ID, &meta.Model, &meta.Preview, &created, &updated, &meta.TurnCount); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ConversationMeta{}, err
		}
		return ConversationMeta{}, fmt.Errorf("failed to scan conversation: %w", err)
	}
	meta.CreatedAt = time.UnixMilli(created)
	meta.UpdatedAt = time.UnixMilli(updated)
	return meta, nil
}

// =============================================================================
// LIST FORMATTING
// =============================================================================

// FormatList formats conversations for display in a table.
func FormatList(metas []ConversationMeta) string {
	if len(metas) == 0 {
		return "No conversations found."
	}

	var sb strings.Builder
	sb.WriteString(util.PadRight("ID", 10) + " " + util.PadRight("Updated", 17) + " " +
		util.PadRight("Turns", 6) + " " + util.PadRight("Model", 20) + " Preview\n")

	for _, m := range metas {
		sb.WriteString(util.PadRight(ShortID(m.ID), 10) + " " +
			util.PadRight(m.UpdatedAt.Format("2006-01-02 15:04"), 17) + " " +
			util.PadRight(strconv.Itoa(m.TurnCount), 6) + " " +
			util.PadRight(util.TruncateWidth(m.Model, 20), 20) + " " +
			util.TruncateWidth(m.Preview, 40) + "\n")
	}
	return sb.String()
}

// ShortID returns the leading eight characters of a conversation ID,
// enough to pass back to Load as a prefix.
func ShortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func unixMilliOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
