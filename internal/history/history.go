// Package history keeps a local ledger of published posts in an embedded
// SQLite database. Recording is best effort from the caller's point of
// view: a publish that the platform accepted is never failed because the
// ledger write did not stick.
package history

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // Pure Go SQLite driver, registers as "sqlite".
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Post is one recorded publish.
type Post struct {
	ID       int64
	Code     string
	URL      string
	Caption  string
	Source   string
	PostedAt time.Time
}

// Store is a SQLite-backed publish ledger. Use ":memory:" as the path in
// tests.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	insertStmt *sql.Stmt
	listStmt   *sql.Stmt
}

// Open opens (creating if needed) the ledger database at dbPath and
// applies pending schema migrations.
func Open(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Debug("opening history database", slog.String("path", dbPath))

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("history: open sqlite: %w", err)
	}

	if err := setPragmas(context.Background(), db); err != nil {
		db.Close()
		return nil, err
	}

	if err := runMigrations(context.Background(), db, logger); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db, logger: logger}

	if err := s.prepareStatements(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: prepare statements: %w", err)
	}

	return s, nil
}

// setPragmas configures SQLite for WAL mode and safety.
func setPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA foreign_keys = ON",
	}

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("history: set pragma %q: %w", p, err)
		}
	}

	return nil
}

// runMigrations applies all pending schema migrations using the goose v3
// Provider API (no global state, context-aware).
func runMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("history: creating migration sub-filesystem: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return fmt.Errorf("history: creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("history: running migrations: %w", err)
	}

	for _, r := range results {
		logger.Info("applied migration",
			slog.String("source", r.Source.Path),
			slog.Int64("duration_ms", r.Duration.Milliseconds()),
		)
	}

	return nil
}

func (s *Store) prepareStatements(ctx context.Context) error {
	var err error

	s.insertStmt, err = s.db.PrepareContext(ctx,
		"INSERT INTO posts (code, url, caption, source, posted_at) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("insert: %w", err)
	}

	s.listStmt, err = s.db.PrepareContext(ctx,
		"SELECT id, code, url, caption, source, posted_at FROM posts ORDER BY posted_at DESC, id DESC LIMIT ?")
	if err != nil {
		return fmt.Errorf("list: %w", err)
	}

	return nil
}

// Record inserts one publish into the ledger.
func (s *Store) Record(ctx context.Context, code, url, caption, source string) error {
	_, err := s.insertStmt.ExecContext(ctx, code, url, caption, source,
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("history: recording post: %w", err)
	}

	s.logger.Debug("recorded post", slog.String("code", code))

	return nil
}

// List returns the most recent posts, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]Post, error) {
	rows, err := s.listStmt.QueryContext(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("history: listing posts: %w", err)
	}
	defer rows.Close()

	var posts []Post

	for rows.Next() {
		var (
			p        Post
			postedAt string
		)

		if err := rows.Scan(&p.ID, &p.Code, &p.URL, &p.Caption, &p.Source, &postedAt); err != nil {
			return nil, fmt.Errorf("history: scanning post: %w", err)
		}

		t, parseErr := time.Parse(time.RFC3339, postedAt)
		if parseErr != nil {
			return nil, fmt.Errorf("history: parsing posted_at %q: %w", postedAt, parseErr)
		}

		p.PostedAt = t
		posts = append(posts, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: iterating posts: %w", err)
	}

	return posts, nil
}

// Close releases prepared statements and the database handle.
func (s *Store) Close() error {
	for _, stmt := range []*sql.Stmt{s.insertStmt, s.listStmt} {
		if stmt != nil {
			stmt.Close()
		}
	}

	return s.db.Close()
}
