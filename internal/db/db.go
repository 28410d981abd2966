package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Connect opens the Postgres document store and applies the schema.
func Connect(ctx context.Context, dsn string, logger *zap.Logger) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := Migrate(ctx, db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return db, nil
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS user_profiles (
        uid TEXT PRIMARY KEY,
        display_name TEXT NOT NULL,
        photo_url TEXT NOT NULL DEFAULT '',
        created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
    );`,
	`CREATE INDEX IF NOT EXISTS user_profiles_display_name_idx ON user_profiles (display_name text_pattern_ops, created_at);`,
	`CREATE TABLE IF NOT EXISTS friendships (
        id TEXT PRIMARY KEY,
        user_a TEXT NOT NULL,
        user_b TEXT NOT NULL,
        status TEXT NOT NULL,
        initiated_by TEXT NOT NULL,
        friendly_names JSONB NOT NULL DEFAULT '{}',
        photo_urls JSONB NOT NULL DEFAULT '{}',
        created_at TIMESTAMPTZ NOT NULL,
        updated_at TIMESTAMPTZ NOT NULL
    );`,
	`CREATE INDEX IF NOT EXISTS friendships_pair_idx ON friendships (user_a, user_b, created_at);`,
	`CREATE INDEX IF NOT EXISTS friendships_user_b_idx ON friendships (user_b, status);`,
	`CREATE TABLE IF NOT EXISTS chats (
        id TEXT PRIMARY KEY,
        type TEXT NOT NULL,
        participants TEXT[] NOT NULL,
        pair_key TEXT UNIQUE,
        friendly_names JSONB NOT NULL DEFAULT '{}',
        photo_urls JSONB NOT NULL DEFAULT '{}',
        name TEXT NOT NULL DEFAULT '',
        avatar_url TEXT NOT NULL DEFAULT '',
        created_by TEXT NOT NULL DEFAULT '',
        created_at TIMESTAMPTZ NOT NULL,
        updated_at TIMESTAMPTZ NOT NULL,
        last_message_text TEXT,
        last_message_sender TEXT,
        last_message_at TIMESTAMPTZ,
        unread_counts JSONB NOT NULL DEFAULT '{}',
        typing_users TEXT[] NOT NULL DEFAULT '{}',
        version BIGINT NOT NULL DEFAULT 0
    );`,
	`CREATE INDEX IF NOT EXISTS chats_participants_idx ON chats USING GIN (participants);`,
	`CREATE TABLE IF NOT EXISTS messages (
        id TEXT PRIMARY KEY,
        chat_id TEXT NOT NULL REFERENCES chats(id),
        sender_id TEXT NOT NULL,
        text TEXT NOT NULL,
        type TEXT NOT NULL DEFAULT 'text',
        seen_by TEXT[] NOT NULL DEFAULT '{}',
        created_at TIMESTAMPTZ NOT NULL
    );`,
	`CREATE INDEX IF NOT EXISTS messages_chat_order_idx ON messages (chat_id, created_at DESC, id DESC);`,
	`CREATE TABLE IF NOT EXISTS notifications (
        id TEXT PRIMARY KEY,
        text TEXT NOT NULL,
        participants TEXT[] NOT NULL,
        chat_id TEXT,
        created_at TIMESTAMPTZ NOT NULL
    );`,
	`CREATE INDEX IF NOT EXISTS notifications_participants_idx ON notifications USING GIN (participants);`,
}

// Migrate applies the schema. Every statement is idempotent.
func Migrate(ctx context.Context, db *sqlx.DB, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	for i, m := range migrations {
		if _, err := db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	logger.Info("database migrations applied", zap.Int("statements", len(migrations)))
	return nil
}

// ConnectRedis parses url, builds a client and checks it answers.
func ConnectRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}
