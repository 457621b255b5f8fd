// Package store keeps named program snapshots in a SQLite database.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/zurustar/kumiki/pkg/logger"
	"github.com/zurustar/kumiki/pkg/script"
	"github.com/zurustar/kumiki/pkg/tree"
)

// ErrNotFound is returned when no program has the requested name.
var ErrNotFound = errors.New("program not found")

const schema = `
CREATE TABLE IF NOT EXISTS programs (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL UNIQUE,
	body       TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
)`

// Entry describes one stored program.
type Entry struct {
	ID        uuid.UUID
	Name      string
	Size      int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store is a program store backed by one SQLite database file.
type Store struct {
	db  *sql.DB
	log *slog.Logger
	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Store) { s.log = log }
}

// WithClock replaces time.Now for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open opens or creates the database at path. ":memory:" gives a private
// in-memory store.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	// one connection: an in-memory database exists per connection, and
	// SQLite serializes writers anyway
	db.SetMaxOpenConns(1)

	s := &Store{db: db, log: logger.GetLogger(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema in %s: %w", path, err)
	}
	s.log.Debug("Program store opened", "path", path)
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func validName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("program name must not be empty")
	}
	return nil
}

// Save stores p under name, replacing any earlier program of that name.
func (s *Store) Save(ctx context.Context, name string, p *tree.Program) (*Entry, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	body, err := script.Encode(p, script.FormatJSON)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	id := uuid.New()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO programs (id, name, body, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`,
		id.String(), name, string(body), now.UnixNano(), now.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to save %s: %w", name, err)
	}

	s.log.Info("Program saved", "name", name, "size", len(body))
	return s.entry(ctx, name)
}

// Load returns the program stored under name.
func (s *Store) Load(ctx context.Context, name string) (*tree.Program, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM programs WHERE name = ?`, name).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", name, err)
	}
	p, err := script.Decode([]byte(body), script.FormatJSON, script.EncodingUTF8)
	if err != nil {
		return nil, fmt.Errorf("stored program %s is corrupt: %w", name, err)
	}
	return p, nil
}

// List returns every stored program ordered by name.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, length(body), created_at, updated_at
		FROM programs ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list programs: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// Delete removes the program stored under name.
func (s *Store) Delete(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM programs WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	s.log.Info("Program deleted", "name", name)
	return nil
}

func (s *Store) entry(ctx context.Context, name string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, length(body), created_at, updated_at
		FROM programs WHERE name = ?`, name)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	return e, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*Entry, error) {
	var (
		e                Entry
		id               string
		created, updated int64
	)
	if err := row.Scan(&id, &e.Name, &e.Size, &created, &updated); err != nil {
		return nil, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("stored program %s has a bad id: %w", e.Name, err)
	}
	e.ID = parsed
	e.CreatedAt = time.Unix(0, created).UTC()
	e.UpdatedAt = time.Unix(0, updated).UTC()
	return &e, nil
}
