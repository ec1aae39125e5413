package history

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/edukit/tutorchat/pkg/models"
)

// Store persists per-session chat history in Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// ChatStore defines the methods that the Store must implement.
type ChatStore interface {
	EnsureSession(ctx context.Context, sessionID string) (string, error)
	NewSession(ctx context.Context) (string, error)
	AddMessage(ctx context.Context, sessionID, role, content string) error
	RecentMessages(ctx context.Context, sessionID string, limit int) ([]models.ChatMessage, error)
	DeleteSessionHistory(ctx context.Context, sessionID string) (int, error)
	ListSessions(ctx context.Context, limit int) ([]models.SessionSummary, error)
}

// New creates a new Store connected to the given database URL with a
// bounded connection pool.
func New(ctx context.Context, url string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}
	cfg.MinConns = 2
	cfg.MaxConns = 10
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() { s.pool.Close() }

// Migrate creates the chat history schema. Messages cascade on session
// delete; roles are constrained to the three the prompt builder understands.
func (s *Store) Migrate(ctx context.Context) error {
	const q = `
CREATE TABLE IF NOT EXISTS chat_sessions (
  session_id  UUID PRIMARY KEY DEFAULT gen_random_uuid(),
  created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS chat_messages (
  id          BIGSERIAL PRIMARY KEY,
  session_id  UUID        NOT NULL REFERENCES chat_sessions(session_id) ON DELETE CASCADE,
  role        VARCHAR(20) NOT NULL CHECK (role IN ('user', 'assistant', 'system')),
  content     TEXT        NOT NULL,
  created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_chat_messages_session_id
  ON chat_messages (session_id, created_at);
`
	_, err := s.pool.Exec(ctx, q)
	return err
}

// EnsureSession creates the session row if it doesn't exist yet.
func (s *Store) EnsureSession(ctx context.Context, sessionID string) (string, error) {
	sid, err := uuid.Parse(sessionID)
	if err != nil {
		return "", fmt.Errorf("invalid session id %q: %w", sessionID, err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO chat_sessions (session_id) VALUES ($1) ON CONFLICT (session_id) DO NOTHING`,
		sid,
	)
	if err != nil {
		return "", err
	}
	return sessionID, nil
}

// NewSession creates a brand-new session and returns its UUID string.
func (s *Store) NewSession(ctx context.Context) (string, error) {
	sid := uuid.New()
	_, err := s.pool.Exec(ctx, `INSERT INTO chat_sessions (session_id) VALUES ($1)`, sid)
	if err != nil {
		return "", err
	}
	return sid.String(), nil
}

// AddMessage appends a single message to the session history.
func (s *Store) AddMessage(ctx context.Context, sessionID, role, content string) error {
	sid, err := uuid.Parse(sessionID)
	if err != nil {
		return fmt.Errorf("invalid session id %q: %w", sessionID, err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO chat_messages (session_id, role, content) VALUES ($1, $2, $3)`,
		sid, role, content,
	)
	return err
}

// RecentMessages returns the most recent limit messages for a session,
// ordered oldest-first so they slot directly into a prompt message list.
func (s *Store) RecentMessages(ctx context.Context, sessionID string, limit int) ([]models.ChatMessage, error) {
	sid, err := uuid.Parse(sessionID)
	if err != nil {
		return nil, fmt.Errorf("invalid session id %q: %w", sessionID, err)
	}
	rows, err := s.pool.Query(ctx, `
		SELECT role, content
		FROM (
			SELECT role, content, created_at
			FROM chat_messages
			WHERE session_id = $1
			ORDER BY created_at DESC
			LIMIT $2
		) sub
		ORDER BY created_at ASC`,
		sid, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ChatMessage
	for rows.Next() {
		var m models.ChatMessage
		if err := rows.Scan(&m.Role, &m.Content); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// DeleteSessionHistory deletes all messages for a session and returns the
// number of rows removed. The session row itself stays.
func (s *Store) DeleteSessionHistory(ctx context.Context, sessionID string) (int, error) {
	sid, err := uuid.Parse(sessionID)
	if err != nil {
		return 0, fmt.Errorf("invalid session id %q: %w", sessionID, err)
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM chat_messages WHERE session_id = $1`, sid)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// ListSessions returns the most recent sessions with message counts.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]models.SessionSummary, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT s.session_id, s.created_at, COUNT(m.id) AS message_count
		FROM chat_sessions s
		LEFT JOIN chat_messages m ON m.session_id = s.session_id
		GROUP BY s.session_id, s.created_at
		ORDER BY s.created_at DESC
		LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.SessionSummary
	for rows.Next() {
		var sid uuid.UUID
		var sum models.SessionSummary
		if err := rows.Scan(&sid, &sum.CreatedAt, &sum.MessageCount); err != nil {
			return nil, err
		}
		sum.SessionID = sid.String()
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Ping checks the database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}
