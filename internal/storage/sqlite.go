// Package storage is the SQLite persistence layer: comments, replies,
// watermarks, runtime settings, CRM contact mappings, brand voice fields,
// content drafts and the background job queue.
package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// pragmas are applied by the driver to every new connection.
const pragmas = "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"

type Store struct {
	db *sql.DB
}

// Open opens replyd.db inside dataDir, creating the directory if needed,
// applies pending migrations and returns jobs a previous process left
// running to the queue. ":memory:" gives a private in-memory
// database for tests.
func Open(dataDir string) (*Store, error) {
	path := ":memory:"
	if dataDir != ":memory:" {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		path = filepath.Join(dataDir, "replyd.db")
	}

	db, err := sql.Open("sqlite", path+"?"+pragmas)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	// One writer at a time; it also keeps ":memory:" on a single database.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.requeueRunningJobs(); err != nil {
		db.Close()
		return nil, fmt.Errorf("requeueing interrupted jobs: %w", err)
	}
	return s, nil
}

// DB exposes the handle for tests and maintenance commands.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

// inTx runs fn inside a transaction, committing when fn returns nil.
func (s *Store) inTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

type migration struct {
	version int
	file    string
}

func pendingMigrations(applied map[int]bool) ([]migration, error) {
	files, err := fs.Glob(migrationsFS, "migrations/*.sql")
	if err != nil {
		return nil, err
	}
	var out []migration
	for _, f := range files {
		var v int
		if _, err := fmt.Sscanf(filepath.Base(f), "%d_", &v); err != nil {
			return nil, fmt.Errorf("migration %s: name must start with a version number", f)
		}
		if !applied[v] {
			out = append(out, migration{version: v, file: f})
		}
	}
	slices.SortFunc(out, func(a, b migration) int { return a.version - b.version })
	return out, nil
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version    INTEGER PRIMARY KEY,
		applied_at TEXT NOT NULL
	)`); err != nil {
		return fmt.Errorf("bootstrapping schema_version: %w", err)
	}

	versions, err := s.AppliedMigrations()
	if err != nil {
		return err
	}
	applied := make(map[int]bool, len(versions))
	for _, v := range versions {
		applied[v] = true
	}

	todo, err := pendingMigrations(applied)
	if err != nil {
		return err
	}
	for _, m := range todo {
		body, err := migrationsFS.ReadFile(m.file)
		if err != nil {
			return err
		}
		err = s.inTx(func(tx *sql.Tx) error {
			if _, err := tx.Exec(string(body)); err != nil {
				return err
			}
			_, err := tx.Exec(`INSERT INTO schema_version (version, applied_at) VALUES (?, ?)`, m.version, nowString())
			return err
		})
		if err != nil {
			return fmt.Errorf("migration %s: %w", strings.TrimPrefix(m.file, "migrations/"), err)
		}
	}
	return nil
}

// AppliedMigrations lists applied schema versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query(`SELECT version FROM schema_version ORDER BY version`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) (time.Time, error) { return time.Parse(timeLayout, s) }

func nowString() string { return formatTime(time.Now()) }
