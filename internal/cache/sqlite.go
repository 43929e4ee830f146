package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore keeps one table per collection
type SQLiteStore struct {
	db   *sql.DB
	opts options
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLite opens the database at dbPath. An empty path or ":memory:" gives an in-memory database.
func NewSQLite(dbPath string, opts ...Option) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = ":memory:"
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	if dbPath == ":memory:" {
		// every connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{
		db:   db,
		opts: applyOptions(opts),
	}, nil
}

// Collection names are validated identifiers, so quoting them into statements is safe.

func (s *SQLiteStore) Lookup(ctx context.Context, collection, requestURI string) (*Record, error) {
	if err := ValidateCollection(collection); err != nil {
		return nil, err
	}
	qctx, cancel := s.opts.queryCtx(ctx)
	defer cancel()

	query := fmt.Sprintf(`SELECT id, request_uri, timestamp, data FROM %q WHERE request_uri = ? ORDER BY rowid LIMIT 1`, collection)
	var rec Record
	err := s.db.QueryRowContext(qctx, query, requestURI).Scan(&rec.ID, &rec.RequestURI, &rec.Timestamp, &rec.Data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite lookup in %s: %w", collection, err)
	}
	return &rec, nil
}

func (s *SQLiteStore) Insert(ctx context.Context, collection string, rec Record) (string, error) {
	if err := ValidateCollection(collection); err != nil {
		return "", err
	}
	qctx, cancel := s.opts.queryCtx(ctx)
	defer cancel()

	id := uuid.NewString()
	query := fmt.Sprintf(`INSERT INTO %q (id, request_uri, timestamp, data) VALUES (?, ?, ?, ?)`, collection)
	if _, err := s.db.ExecContext(qctx, query, id, rec.RequestURI, s.opts.timestamp(), rec.Data); err != nil {
		return "", fmt.Errorf("sqlite insert in %s: %w", collection, err)
	}
	return id, nil
}

func (s *SQLiteStore) Update(ctx context.Context, collection, id string, rec Record) error {
	if err := ValidateCollection(collection); err != nil {
		return err
	}
	qctx, cancel := s.opts.queryCtx(ctx)
	defer cancel()

	query := fmt.Sprintf(`UPDATE %q SET request_uri = ?, timestamp = ?, data = ? WHERE id = ?`, collection)
	res, err := s.db.ExecContext(qctx, query, rec.RequestURI, s.opts.timestamp(), rec.Data, id)
	if err != nil {
		return fmt.Errorf("sqlite update in %s: %w", collection, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Init creates the table and request_uri index of every collection
func (s *SQLiteStore) Init(ctx context.Context, collections ...string) error {
	for _, c := range collections {
		if err := ValidateCollection(c); err != nil {
			return err
		}
		stmts := []string{
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q (
				id TEXT PRIMARY KEY,
				request_uri TEXT NOT NULL,
				timestamp INTEGER NOT NULL,
				data TEXT NOT NULL
			)`, c),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %q ON %q(request_uri)`, "idx_"+c+"_request_uri", c),
		}
		for _, stmt := range stmts {
			if _, err := s.db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("sqlite init of %s: %w", c, err)
			}
		}
	}
	return nil
}

func (s *SQLiteStore) Close(_ context.Context) error {
	return s.db.Close()
}
