package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"moneybook/internal/dbx"

	_ "modernc.org/sqlite"
)

// SQLiteRepository owns the database handle. Its embedded Queries run
// outside any transaction; WithTx hands out transactional ones.
type SQLiteRepository struct {
	*Queries
	db *sql.DB
}

func dsn(dbPath string) string {
	return "file:" + dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{Queries: New(db), db: db}, nil
}

// WithTx runs fn with Queries bound to a single transaction.
func (r *SQLiteRepository) WithTx(ctx context.Context, fn func(ctx context.Context, q *Queries) error) error {
	return dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return fn(ctx, r.Queries.WithTx(tx))
	})
}

// Ping reports whether the database is reachable.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}
