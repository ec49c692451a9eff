package db

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// Connect initializes the database connection and runs migrations.
func Connect(ctx context.Context, dsn string, log *zap.Logger) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}

	if err := Migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	log.Info("database migrations applied")

	return db, nil
}

// Migrate creates the schema. Statements are idempotent.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
            id TEXT PRIMARY KEY,
            email TEXT NOT NULL UNIQUE,
            username TEXT NOT NULL,
            profile_image_url TEXT NOT NULL DEFAULT '',
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );`,
		// Members compare bytewise, matching models.SortedPair under any database collation.
		`CREATE TABLE IF NOT EXISTS conversations (
            id TEXT PRIMARY KEY,
            member_a TEXT COLLATE "C" NOT NULL,
            member_b TEXT COLLATE "C" NOT NULL,
            next_seq BIGINT NOT NULL DEFAULT 0,
            latest_text TEXT,
            latest_sender TEXT,
            latest_sent_at TIMESTAMPTZ,
            latest_seq BIGINT,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            CHECK (member_a < member_b),
            UNIQUE (member_a, member_b)
        );`,
		`CREATE INDEX IF NOT EXISTS conversations_member_b_idx ON conversations (member_b);`,
		`CREATE TABLE IF NOT EXISTS messages (
            id TEXT PRIMARY KEY,
            conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
            sender_id TEXT NOT NULL,
            content TEXT NOT NULL,
            sent_at TIMESTAMPTZ NOT NULL,
            seq BIGINT NOT NULL,
            UNIQUE (conversation_id, seq)
        );`,
	}

	for _, m := range migrations {
		if _, err := db.ExecContext(ctx, m); err != nil {
			return err
		}
	}
	return nil
}
