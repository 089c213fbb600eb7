// Package persistence provides ConversationStore implementations: a SQLite
// store for durable history and an in-memory store for tests and mock mode.
package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"genesis-ngx/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations(user_id);

CREATE TABLE IF NOT EXISTS messages (
	id              TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL REFERENCES conversations(id),
	user_id         TEXT NOT NULL,
	agent_type      TEXT NOT NULL,
	content         TEXT NOT NULL,
	tokens_used     INTEGER NOT NULL DEFAULT 0,
	cost_usd        REAL NOT NULL DEFAULT 0,
	created_at      TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id);

CREATE TABLE IF NOT EXISTS user_profiles (
	user_id       TEXT PRIMARY KEY,
	active_season TEXT NOT NULL DEFAULT '',
	preferences   TEXT NOT NULL DEFAULT '{}',
	updated_at    TIMESTAMP NOT NULL
);
`

// userMessageType marks rows written by the user rather than an agent.
const userMessageType = "user"

// SQLiteStore implements domain.ConversationStore on a local SQLite file.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (and if needed creates) the database at path.
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite handles one writer at a time; a single connection avoids
	// SQLITE_BUSY under concurrent turns.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	logger.Info("conversation store opened", "driver", "sqlite", "path", path)
	return &SQLiteStore{db: db, logger: logger}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// CreateConversation implements domain.ConversationStore.
func (s *SQLiteStore) CreateConversation(ctx context.Context, userID string) (string, error) {
	id := ulid.Make().String()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, user_id, created_at) VALUES (?, ?, ?)`,
		id, userID, time.Now().UTC())
	if err != nil {
		return "", storeErr("SQLiteStore.CreateConversation", err)
	}
	return id, nil
}

// AppendUserMessage implements domain.ConversationStore.
func (s *SQLiteStore) AppendUserMessage(ctx context.Context, conversationID, userID, content string) (string, error) {
	return s.appendMessage(ctx, conversationID, userID, userMessageType, content, 0, 0)
}

// AppendAgentMessage implements domain.ConversationStore.
func (s *SQLiteStore) AppendAgentMessage(ctx context.Context, conversationID, userID, agentType, content string, tokensUsed int, costUSD float64) (string, error) {
	return s.appendMessage(ctx, conversationID, userID, agentType, content, tokensUsed, costUSD)
}

func (s *SQLiteStore) appendMessage(ctx context.Context, conversationID, userID, agentType, content string, tokensUsed int, costUSD float64) (string, error) {
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM conversations WHERE id = ?`, conversationID).Scan(&exists)
	if err != nil {
		return "", storeErr("SQLiteStore.appendMessage", err)
	}
	if exists == 0 {
		return "", domain.NewDomainError("SQLiteStore.appendMessage", domain.ErrConversationNotFound, conversationID)
	}

	id := ulid.Make().String()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, user_id, agent_type, content, tokens_used, cost_usd, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, conversationID, userID, agentType, content, tokensUsed, costUSD, time.Now().UTC())
	if err != nil {
		return "", storeErr("SQLiteStore.appendMessage", err)
	}
	return id, nil
}

// GetUserContext implements domain.ConversationStore. Users without a
// profile get an empty context, not an error.
func (s *SQLiteStore) GetUserContext(ctx context.Context, userID string) (*domain.UserContext, error) {
	var season, prefsJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT active_season, preferences FROM user_profiles WHERE user_id = ?`, userID).
		Scan(&season, &prefsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return &domain.UserContext{}, nil
	}
	if err != nil {
		return nil, storeErr("SQLiteStore.GetUserContext", err)
	}

	prefs := map[string]string{}
	if err := json.Unmarshal([]byte(prefsJSON), &prefs); err != nil {
		s.logger.Warn("corrupt preferences json, ignoring", "user_id", userID, "error", err)
		prefs = map[string]string{}
	}
	return &domain.UserContext{ActiveSeason: season, Preferences: prefs}, nil
}

// SetUserContext upserts a user's profile.
func (s *SQLiteStore) SetUserContext(ctx context.Context, userID string, userCtx domain.UserContext) error {
	prefsJSON, err := json.Marshal(userCtx.Preferences)
	if err != nil {
		return fmt.Errorf("marshal preferences: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO user_profiles (user_id, active_season, preferences, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
			active_season = excluded.active_season,
			preferences   = excluded.preferences,
			updated_at    = excluded.updated_at`,
		userID, userCtx.ActiveSeason, string(prefsJSON), time.Now().UTC())
	if err != nil {
		return storeErr("SQLiteStore.SetUserContext", err)
	}
	return nil
}

// MessageCount returns how many messages a conversation holds.
func (s *SQLiteStore) MessageCount(ctx context.Context, conversationID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM messages WHERE conversation_id = ?`, conversationID).Scan(&n)
	if err != nil {
		return 0, storeErr("SQLiteStore.MessageCount", err)
	}
	return n, nil
}

func storeErr(op string, err error) error {
	return domain.NewDomainError(op, domain.ErrStoreUnavailable, err.Error())
}

var _ domain.ConversationStore = (*SQLiteStore)(nil)
