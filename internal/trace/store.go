package trace

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx" driver
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// maxConversations bounds how many sessions are kept; older ones are pruned
// when a new one starts.
const maxConversations = 200

// Store persists conversations to PostgreSQL.
type Store struct {
	db *sql.DB
}

func Open(ctx context.Context, connStr string) (*Store, error) {
	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, fmt.Errorf("trace open: %w", err)
	}
	if err = db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("trace ping: %w", err)
	}
	if err = migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("trace migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// migrate applies embedded migrations in file-name order, recording each
// applied index in schema_version.
func migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return err
	}

	var applied int
	if err := db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), -1) FROM schema_version`).Scan(&applied); err != nil {
		return err
	}

	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	for i := applied + 1; i < len(entries); i++ {
		name := entries[i].Name()
		data, err := migrationFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, string(data)); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply %s: %w", name, err)
		}
		if _, err = tx.ExecContext(ctx, `INSERT INTO schema_version (version) VALUES ($1)`, i); err != nil {
			tx.Rollback()
			return fmt.Errorf("record %s: %w", name, err)
		}
		if err = tx.Commit(); err != nil {
			return fmt.Errorf("commit %s: %w", name, err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// EnsureConversation creates the conversation row if it is new, pruning the
// oldest conversations beyond maxConversations.
func (s *Store) EnsureConversation(ctx context.Context, id string, startedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, started_at) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`,
		id, startedAt.UTC(),
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil
	}
	_, err = s.db.ExecContext(ctx,
		`DELETE FROM conversations WHERE id NOT IN (SELECT id FROM conversations ORDER BY started_at DESC LIMIT $1)`,
		maxConversations,
	)
	return err
}

func (s *Store) InsertMessage(ctx context.Context, m MessageRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, role, text, language, sentiment, audio_ref, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) ON CONFLICT (id) DO NOTHING`,
		m.ID, m.ConversationID, m.Role, m.Text, m.Language, m.Sentiment, m.AudioRef, m.CreatedAt.UTC(),
	)
	return err
}

func (s *Store) InsertTurn(ctx context.Context, t TurnRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO turns (id, conversation_id, started_at, duration_ms, transcript, response, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		t.ID, t.ConversationID, t.StartedAt.UTC(), t.DurationMs, t.Transcript, t.Response, t.Status,
	)
	return err
}

// ListConversations returns conversations newest first with the total count.
func (s *Store) ListConversations(ctx context.Context, limit, offset int) ([]Conversation, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversations`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.started_at,
		       (SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id),
		       (SELECT COUNT(*) FROM turns t WHERE t.conversation_id = c.id)
		FROM conversations c
		ORDER BY c.started_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := []Conversation{}
	for rows.Next() {
		var c Conversation
		if err = rows.Scan(&c.ID, &c.StartedAt, &c.MessageCount, &c.TurnCount); err != nil {
			return nil, 0, err
		}
		out = append(out, c)
	}
	return out, total, rows.Err()
}

// ConversationMessages returns one conversation's log in creation order.
func (s *Store) ConversationMessages(ctx context.Context, id string) ([]MessageRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, role, text, language, sentiment, audio_ref, created_at
		FROM messages WHERE conversation_id = $1 ORDER BY created_at ASC
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []MessageRecord{}
	for rows.Next() {
		var m MessageRecord
		if err = rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Text, &m.Language, &m.Sentiment, &m.AudioRef, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
