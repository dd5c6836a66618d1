// Package store provides the encrypted, on-disk persistence layer: one
// SQLCipher database per local user, opened once at SDK init and shared by
// every DAO in this package (message_dao.go, channel_dao.go, member_dao.go,
// reaction_dao.go, misc_dao.go).
//
// Migration design: SQL scripts live under migrations/ as timestamped
// files (14-digit YYYYMMDDHHMMSS.sql, or 8-digit YYYYMMDD.sql), embedded
// at build time and applied in lexicographic order. Each file is executed
// as one batch; a failure aborts the whole file. Applied filenames are
// tracked in schema_version so re-opening an existing database only
// applies what's new.
package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/mutecomm/go-sqlcipher/v4"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// ErrNotFound is returned by DAO lookups that found no matching row.
var ErrNotFound = errors.New("store: record not found")

// requiredTables is checked after migration so a corrupted or
// partially-applied database fails Open loudly instead of surfacing as
// confusing "no such table" errors downstream.
var requiredTables = []string{
	"message", "channel", "channel_member", "message_extra", "message_reaction",
	"reminder", "robot", "robot_menu", "channel_extra", "user", "group",
	"group_member", "friend", "schema_version",
}

// sdkVersion is stamped into the AssetsCache marker; bump it whenever the
// embedded migration set changes shape in a way that should force a rescan
// even if file mtimes happen to collide (they never do for embed.FS, but
// an assets_dir override is plain disk).
const sdkVersion = "privchat-sdk/1"

// Store wraps the per-user SQLCipher database and exposes DAO methods
// declared in sibling files.
type Store struct {
	db  *sql.DB
	uid string
}

// deriveKey turns a uid into the deterministic SQLCipher passphrase:
// SHA256("privchat_encryption_key_"+uid+"_v1"), hex-encoded, prefixed
// "privchat_".
func deriveKey(uid string) string {
	sum := sha256.Sum256([]byte("privchat_encryption_key_" + uid + "_v1"))
	return "privchat_" + fmt.Sprintf("%x", sum)
}

// Open opens (or creates) the encrypted database for uid under
// <dataDir>/users/<uid>/messages.db and applies any pending migrations.
// assetsDir, when non-empty, overrides the embedded migration set with
// scripts discovered on disk.
func Open(ctx context.Context, dataDir, uid, assetsDir string) (*Store, error) {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return nil, fmt.Errorf("store: uid is required")
	}
	userDir := filepath.Join(dataDir, "users", uid)
	if err := os.MkdirAll(userDir, 0o755); err != nil {
		return nil, fmt.Errorf("store: create user dir: %w", err)
	}

	path := filepath.Join(userDir, "messages.db")
	key := deriveKey(uid)
	dsn := fmt.Sprintf("%s?_pragma_key=%s&_pragma_cipher_page_size=4096", path, key)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single connection serializes writers; WAL still lets internal readers proceed
	db.SetMaxIdleConns(1)

	st := &Store{db: db, uid: uid}
	if err := st.openWithRetry(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := st.pragmas(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := st.migrate(ctx, userDir, assetsDir); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	if err := st.validateSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	slog.Info("store opened", "uid", uid, "path", path)
	return st, nil
}

// openWithRetry pings the database, retrying with backoff on lock
// contention from a previous handle that hasn't yet dropped — e.g. a
// rapid account switch.
func (s *Store) openWithRetry(ctx context.Context) error {
	const maxAttempts = 8
	wait := 300 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := s.db.PingContext(ctx); err == nil {
			return nil
		} else {
			lastErr = err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		wait *= 2
	}
	return fmt.Errorf("store: database locked after %d attempts: %w", maxAttempts, lastErr)
}

// pragmas sets WAL journaling, NORMAL sync, and a 64MB page cache.
func (s *Store) pragmas(ctx context.Context) error {
	stmts := []string{
		`PRAGMA journal_mode=WAL`,
		`PRAGMA synchronous=NORMAL`,
		`PRAGMA cache_size=-65536`, // negative = KB, so 64MB
		`PRAGMA busy_timeout=5000`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: pragma %q: %w", stmt, err)
		}
	}
	return nil
}

// migrationFile is one discovered script plus its on-disk mtime (used only
// for the AssetsCache skip-scan gate; embedded files have no meaningful
// mtime so the cache key is always a miss for them and that's fine —
// applying an already-applied migration is a cheap no-op via schema_version).
type migrationFile struct {
	name  string
	body  []byte
	mtime int64
}

func (s *Store) migrate(ctx context.Context, userDir, assetsDir string) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (
		filename   TEXT PRIMARY KEY,
		applied_at INTEGER NOT NULL
	)`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	if assetsDir != "" {
		if skip, err := checkAssetsCache(userDir, assetsDir, sdkVersion); err == nil && skip {
			slog.Debug("migration scan skipped", "reason", "assets cache hit", "assets_dir", assetsDir)
			return nil
		}
	}

	files, err := discoverMigrations(assetsDir)
	if err != nil {
		return err
	}

	var current string
	if err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(filename), '') FROM schema_version`,
	).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for _, f := range files {
		if f.name <= current {
			continue
		}
		if _, err := s.db.ExecContext(ctx, string(f.body)); err != nil {
			return fmt.Errorf("migration %s: %w", f.name, err)
		}
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO schema_version(filename, applied_at) VALUES(?, ?)`, f.name, time.Now().Unix(),
		); err != nil {
			return fmt.Errorf("record migration %s: %w", f.name, err)
		}
		slog.Info("migration applied", "file", f.name)
	}

	if assetsDir != "" {
		if err := writeAssetsCache(userDir, assetsDir, sdkVersion); err != nil {
			slog.Warn("assets cache write failed", "err", err)
		}
	}
	return nil
}

// discoverMigrations lists *.sql scripts, sorted lexicographically (which
// is chronological for 14-digit and 8-digit timestamp filenames alike).
// assetsDir, when set, overrides the embedded set.
func discoverMigrations(assetsDir string) ([]migrationFile, error) {
	if assetsDir != "" {
		entries, err := os.ReadDir(assetsDir)
		if err != nil {
			return nil, fmt.Errorf("store: read assets dir: %w", err)
		}
		var out []migrationFile
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
				continue
			}
			body, err := os.ReadFile(filepath.Join(assetsDir, e.Name()))
			if err != nil {
				return nil, fmt.Errorf("store: read migration %s: %w", e.Name(), err)
			}
			info, _ := e.Info()
			var mtime int64
			if info != nil {
				mtime = info.ModTime().Unix()
			}
			out = append(out, migrationFile{name: e.Name(), body: body, mtime: mtime})
		}
		sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
		return out, nil
	}

	entries, err := fs.ReadDir(embeddedMigrations, "migrations")
	if err != nil {
		return nil, fmt.Errorf("store: read embedded migrations: %w", err)
	}
	var out []migrationFile
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		body, err := embeddedMigrations.ReadFile("migrations/" + e.Name())
		if err != nil {
			return nil, fmt.Errorf("store: read embedded migration %s: %w", e.Name(), err)
		}
		out = append(out, migrationFile{name: e.Name(), body: body})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out, nil
}

// validateSchema fails fast if a required table is missing, which would
// otherwise surface much later as a cryptic "no such table" from a DAO.
func (s *Store) validateSchema(ctx context.Context) error {
	for _, table := range requiredTables {
		var name string
		err := s.db.QueryRowContext(ctx,
			`SELECT name FROM sqlite_master WHERE type IN ('table','view') AND name=?`, table,
		).Scan(&name)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("store: required table %q missing after migration", table)
		}
		if err != nil {
			return fmt.Errorf("store: validate schema: %w", err)
		}
	}
	return nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// UID returns the local user this store instance is scoped to.
func (s *Store) UID() string { return s.uid }

// withTx runs fn inside a single transaction, committing on success and
// rolling back on error or panic. Every DAO write touching two or more
// tables goes through this.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()
	if err = fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
