package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	domain "github.com/posterparlor/storefront/internal/domain"
	"github.com/posterparlor/storefront/internal/repositories"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS cart_snapshot (
	id         INTEGER PRIMARY KEY CHECK (id = 1),
	payload    TEXT    NOT NULL,
	updated_at TEXT    NOT NULL
);`

// CartRepository keeps the cart snapshot in a single-row SQLite table.
type CartRepository struct {
	db  *sql.DB
	now func() time.Time
}

var _ repositories.CartSnapshotRepository = (*CartRepository)(nil)

// Open creates or opens the SQLite database at path and applies the schema.
func Open(path string) (*CartRepository, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("sqlite cart repository: path is required")
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite cart repository: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite cart repository: connect: %w", err)
	}

	// single writer avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite cart repository: %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite cart repository: schema: %w", err)
	}
	return &CartRepository{db: db, now: time.Now}, nil
}

// Load returns the stored snapshot, or an empty cart when none was saved yet.
func (r *CartRepository) Load(ctx context.Context) ([]domain.CartItem, error) {
	var payload string
	err := r.db.QueryRowContext(ctx, `SELECT payload FROM cart_snapshot WHERE id = 1`).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, repositories.NewCartError("sqlite.load", repositories.CartErrorUnavailable, "query snapshot", err)
	}
	return repositories.DecodeCartSnapshot([]byte(payload))
}

// Save upserts the snapshot row.
func (r *CartRepository) Save(ctx context.Context, items []domain.CartItem) error {
	data, err := repositories.EncodeCartSnapshot(items)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO cart_snapshot (id, payload, updated_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		string(data), r.now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return repositories.NewCartError("sqlite.save", repositories.CartErrorUnavailable, "upsert snapshot", err)
	}
	return nil
}

// Close releases the database handle.
func (r *CartRepository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}
