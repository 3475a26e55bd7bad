// Package history keeps a local ledger of installed updates in SQLite.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	apperrors "updraft/internal/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS installs (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	title        TEXT NOT NULL DEFAULT '',
	version      TEXT NOT NULL,
	feed_url     TEXT NOT NULL DEFAULT '',
	target_dir   TEXT NOT NULL,
	files        TEXT NOT NULL DEFAULT '[]',
	installed_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_installs_installed_at ON installs(installed_at);
`

// timeLayout sorts lexically in chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Entry is one recorded install.
type Entry struct {
	ID          int64
	Title       string
	Version     string
	FeedURL     string
	TargetDir   string
	Files       []string
	InstalledAt time.Time
}

// Store is an open history database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the history database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "history path is empty", nil)
	}
	//nolint:gosec // G301: User config directory needs standard permissions
	if err := os.MkdirAll(filepath.Dir(trimmed), 0755); err != nil {
		return nil, apperrors.New(apperrors.CodeHistoryFailed, fmt.Sprintf("create history directory: %v", err), err)
	}

	db, err := sql.Open("sqlite", buildDSN(trimmed))
	if err != nil {
		return nil, apperrors.New(apperrors.CodeHistoryFailed, fmt.Sprintf("open sqlite db: %v", err), err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, apperrors.New(apperrors.CodeHistoryFailed, fmt.Sprintf("ping sqlite db: %v", err), err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, apperrors.New(apperrors.CodeHistoryFailed, fmt.Sprintf("create schema: %v", err), err)
	}
	return &Store{db: db}, nil
}

// buildDSN creates a read-write WAL DSN for the given path.
func buildDSN(dbPath string) string {
	u := url.URL{
		Scheme: "file",
		Path:   filepath.ToSlash(dbPath),
	}
	q := url.Values{}
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "busy_timeout(3000)")
	u.RawQuery = q.Encode()
	return u.String()
}

// Close releases the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record stores e and returns its assigned ID. A zero InstalledAt is
// replaced with the current time.
func (s *Store) Record(ctx context.Context, e Entry) (int64, error) {
	if strings.TrimSpace(e.Version) == "" {
		return 0, apperrors.New(apperrors.CodeInvalidArgument, "history entry has no version", nil)
	}
	if e.InstalledAt.IsZero() {
		e.InstalledAt = time.Now()
	}
	files := e.Files
	if files == nil {
		files = []string{}
	}
	encoded, err := json.Marshal(files)
	if err != nil {
		return 0, apperrors.New(apperrors.CodeHistoryFailed, fmt.Sprintf("encode files: %v", err), err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO installs (title, version, feed_url, target_dir, files, installed_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.Title, e.Version, e.FeedURL, e.TargetDir, string(encoded), e.InstalledAt.UTC().Format(timeLayout))
	if err != nil {
		return 0, apperrors.New(apperrors.CodeHistoryFailed, fmt.Sprintf("insert install: %v", err), err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, apperrors.New(apperrors.CodeHistoryFailed, fmt.Sprintf("read install id: %v", err), err)
	}
	return id, nil
}

// List returns up to limit entries, newest first. A limit <= 0 returns all.
func (s *Store) List(ctx context.Context, limit int) ([]Entry, error) {
	query := `
		SELECT id, title, version, feed_url, target_dir, files, installed_at
		FROM installs
		ORDER BY installed_at DESC, id DESC
	`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.New(apperrors.CodeHistoryFailed, fmt.Sprintf("query installs: %v", err), err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var entries []Entry
	for rows.Next() {
		var (
			e         Entry
			files     string
			installed string
		)
		if err := rows.Scan(&e.ID, &e.Title, &e.Version, &e.FeedURL, &e.TargetDir, &files, &installed); err != nil {
			return nil, apperrors.New(apperrors.CodeHistoryFailed, fmt.Sprintf("scan install: %v", err), err)
		}
		if err := json.Unmarshal([]byte(files), &e.Files); err != nil {
			return nil, apperrors.New(apperrors.CodeHistoryFailed, fmt.Sprintf("decode files of install %d: %v", e.ID, err), err)
		}
		if e.InstalledAt, err = time.Parse(timeLayout, installed); err != nil {
			return nil, apperrors.New(apperrors.CodeHistoryFailed, fmt.Sprintf("parse time of install %d: %v", e.ID, err), err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.New(apperrors.CodeHistoryFailed, fmt.Sprintf("iterate installs: %v", err), err)
	}
	return entries, nil
}
