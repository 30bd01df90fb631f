package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib"

	"modsmith/internal/artifact"
)

const runFilesSchema = `
CREATE TABLE IF NOT EXISTS run_files (
    run_id   UUID NOT NULL,
    path     TEXT NOT NULL,
    content  BYTEA NOT NULL,
    saved_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (run_id, path)
)`

// PostgresStore keeps one row per file in run_files. A tree is saved in one
// transaction.
type PostgresStore struct {
	db *sql.DB

	schemaOnce sync.Once
	schemaErr  error
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPostgres opens dsn with the pgx driver and checks connectivity.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", strings.TrimSpace(dsn))
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return NewPostgresStore(db), nil
}

func (s *PostgresStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	s.schemaOnce.Do(func() {
		_, s.schemaErr = s.db.ExecContext(ctx, runFilesSchema)
	})
	return s.schemaErr
}

func (s *PostgresStore) Save(ctx context.Context, runID string, tree artifact.Tree) (err error) {
	id, err := saveKey(runID, tree)
	if err != nil {
		return err
	}
	if err := s.migrate(ctx); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM run_files WHERE run_id = $1`, id); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO run_files (run_id, path, content) VALUES ($1, $2, $3)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	err = tree.Each(func(p string, content []byte) error {
		if _, err := stmt.ExecContext(ctx, id, p, content); err != nil {
			return fmt.Errorf("insert %s: %w", p, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (s *PostgresStore) Load(ctx context.Context, runID string) (artifact.Tree, error) {
	id, err := runKey(runID)
	if err != nil {
		return artifact.Tree{}, err
	}
	if err := s.migrate(ctx); err != nil {
		return artifact.Tree{}, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT path, content FROM run_files WHERE run_id = $1`, id)
	if err != nil {
		return artifact.Tree{}, err
	}
	defer rows.Close()

	files := map[string][]byte{}
	for rows.Next() {
		var (
			p       string
			content []byte
		)
		if err := rows.Scan(&p, &content); err != nil {
			return artifact.Tree{}, err
		}
		files[p] = content
	}
	if err := rows.Err(); err != nil {
		return artifact.Tree{}, err
	}
	if len(files) == 0 {
		return artifact.Tree{}, ErrNotFound
	}
	return artifact.NewTree(files)
}

// Link is unsupported: content lives in the database.
func (s *PostgresStore) Link(_ context.Context, runID, path string) (string, error) {
	_, _, err := fileKey(runID, path)
	return "", err
}
