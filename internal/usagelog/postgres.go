package usagelog

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

const createUsageTable = `CREATE TABLE IF NOT EXISTS usage_log (
	id           BIGSERIAL PRIMARY KEY,
	user_id      TEXT NOT NULL,
	user_name    TEXT NOT NULL,
	channel_name TEXT NOT NULL,
	prompt_type  TEXT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL
)`

const insertUsage = `INSERT INTO usage_log (user_id, user_name, channel_name, prompt_type, created_at)
VALUES ($1, $2, $3, $4, $5)`

type PostgresConfig struct {
	DSN      string
	MaxConns int32
}

// PostgresSink stores records in the usage_log table, creating it on start.
type PostgresSink struct {
	pool *pgxpool.Pool
}

func NewPostgresSink(ctx context.Context, cfg PostgresConfig) (*PostgresSink, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, fmt.Errorf("usage postgres dsn is empty")
	}
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing usage database config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	} else {
		poolCfg.MaxConns = 4
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating usage connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging usage database: %w", err)
	}
	if _, err := pool.Exec(ctx, createUsageTable); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating usage table: %w", err)
	}
	return &PostgresSink{pool: pool}, nil
}

func (s *PostgresSink) Write(ctx context.Context, rec Record) error {
	_, err := s.pool.Exec(ctx, insertUsage,
		rec.UserID,
		rec.UserName,
		rec.ChannelName,
		rec.Category,
		rec.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("inserting usage row: %w", err)
	}
	return nil
}

func (s *PostgresSink) Close() error {
	s.pool.Close()
	return nil
}
