package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

var postgresDialect = dialect{
	name:       "postgres",
	positional: true,
	schema: []string{
		`CREATE TABLE IF NOT EXISTS chat_messages (
			seq BIGSERIAL PRIMARY KEY,
			id TEXT NOT NULL UNIQUE,
			conversation_owner_id TEXT NOT NULL,
			sender_role TEXT NOT NULL,
			sender_admin_id TEXT,
			message TEXT NOT NULL,
			created_at BIGINT NOT NULL,
			is_read BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_messages_owner ON chat_messages (conversation_owner_id, created_at, seq)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_messages_created ON chat_messages (created_at, seq)`,
	},
}

// OpenPostgres connects to databaseURL and ensures the chat_messages table.
func OpenPostgres(ctx context.Context, databaseURL string) (MessageStore, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("postgres: DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres db: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres db: %w", err)
	}
	s, err := newSQLStore(ctx, db, postgresDialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}
