// Package repository provides Postgres-backed stores for the cost ledger and
// the quota tracker. The in-memory stores in those packages cover
// single-instance deployments; these cover multi-instance ones where counters
// and spend must be shared.
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/execroute/execroute/internal/cost"
	"github.com/execroute/execroute/internal/quota"
)

// Open connects to Postgres and verifies the connection.
func Open(databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return db, nil
}

// PostgresCostStore implements cost.Store over the cost_entries table.
type PostgresCostStore struct {
	db *sql.DB
}

func NewPostgresCostStore(db *sql.DB) *PostgresCostStore {
	return &PostgresCostStore{db: db}
}

func (s *PostgresCostStore) Append(ctx context.Context, entry cost.Entry) error {
	query := `
		INSERT INTO cost_entries (provider, amount_usd, created_at)
		VALUES ($1, $2, $3)
	`

	_, err := s.db.ExecContext(ctx, query, entry.Provider, entry.AmountUSD, entry.Timestamp)
	if err != nil {
		return fmt.Errorf("insert cost entry: %w", err)
	}
	return nil
}

func (s *PostgresCostStore) TotalSince(ctx context.Context, provider string, since time.Time) (float64, error) {
	query := `
		SELECT COALESCE(SUM(amount_usd), 0)
		FROM cost_entries
		WHERE provider = $1 AND created_at >= $2
	`

	var total float64
	err := s.db.QueryRowContext(ctx, query, provider, since).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("query total cost: %w", err)
	}
	return total, nil
}

// PostgresQuotaStore implements quota.Store over the quota_usage table. The
// upsert increments atomically so concurrent instances never lose counts.
type PostgresQuotaStore struct {
	db *sql.DB
}

func NewPostgresQuotaStore(db *sql.DB) *PostgresQuotaStore {
	return &PostgresQuotaStore{db: db}
}

func (s *PostgresQuotaStore) Usage(ctx context.Context, provider, day string) (quota.Usage, error) {
	query := `
		SELECT requests, tokens
		FROM quota_usage
		WHERE provider = $1 AND day = $2
	`

	var u quota.Usage
	err := s.db.QueryRowContext(ctx, query, provider, day).Scan(&u.Requests, &u.Tokens)
	if err == sql.ErrNoRows {
		return quota.Usage{}, nil
	}
	if err != nil {
		return quota.Usage{}, fmt.Errorf("query quota usage: %w", err)
	}
	return u, nil
}

func (s *PostgresQuotaStore) Add(ctx context.Context, provider, day string, requests, tokens int64) error {
	query := `
		INSERT INTO quota_usage (provider, day, requests, tokens)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (provider, day)
		DO UPDATE SET requests = quota_usage.requests + EXCLUDED.requests,
		              tokens = quota_usage.tokens + EXCLUDED.tokens
	`

	_, err := s.db.ExecContext(ctx, query, provider, day, requests, tokens)
	if err != nil {
		return fmt.Errorf("upsert quota usage: %w", err)
	}
	return nil
}
