// Package settings implements the persistent per-guild, per-channel and
// per-user key/value store used by every cog. Values are JSON documents.
// SQLite is the default backend; PostgreSQL is available for hosted setups.
package settings

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3"
)

// Scope identifies which platform object a value belongs to.
type Scope string

const (
	ScopeGlobal  Scope = "global"
	ScopeGuild   Scope = "guild"
	ScopeChannel Scope = "channel"
	ScopeUser    Scope = "user"
)

// Backend names accepted in Config.Backend.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgresql"
)

// Config configures the settings database.
type Config struct {
	// Backend is "sqlite" (default) or "postgresql".
	Backend string `yaml:"backend"`

	// Path is the SQLite database file.
	Path string `yaml:"path"`

	// DSN is the PostgreSQL connection string.
	DSN string `yaml:"dsn"`
}

// DefaultConfig returns a SQLite config under ./data.
func DefaultConfig() Config {
	return Config{Backend: BackendSQLite, Path: "./data/didi.db"}
}

const schema = `
CREATE TABLE IF NOT EXISTS settings (
	namespace  TEXT NOT NULL,
	scope      TEXT NOT NULL,
	scope_id   TEXT NOT NULL,
	key        TEXT NOT NULL,
	value      TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (namespace, scope, scope_id, key)
)`

// Store is the settings database.
type Store struct {
	db       *sql.DB
	postgres bool
	logger   *slog.Logger

	// writeMu serializes read-modify-write sections within the process.
	writeMu sync.Mutex
}

// Open opens (and migrates) the settings database.
func Open(cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "settings")

	var (
		db  *sql.DB
		err error
	)
	switch strings.ToLower(cfg.Backend) {
	case "", BackendSQLite:
		db, err = openSQLite(cfg.Path)
	case BackendPostgres, "postgres":
		db, err = openPostgres(cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown settings backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	s := &Store{
		db:       db,
		postgres: strings.HasPrefix(strings.ToLower(cfg.Backend), "postgres"),
		logger:   logger,
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply settings schema: %w", err)
	}
	logger.Info("settings store opened", "backend", s.backendName())
	return s, nil
}

func openSQLite(path string) (*sql.DB, error) {
	if path == "" {
		path = DefaultConfig().Path
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory %q: %w", dir, err)
		}
	}
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database %q: %w", path, err)
	}
	// SQLite has a single writer; one connection avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

func openPostgres(dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgresql backend requires a dsn")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgresql: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgresql: %w", err)
	}
	return db, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) backendName() string {
	if s.postgres {
		return BackendPostgres
	}
	return BackendSQLite
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (s *Store) rebind(query string) string {
	if !s.postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) get(ctx context.Context, q querier, k key, dst any) (bool, error) {
	var raw string
	err := q.QueryRowContext(ctx, s.rebind(`
		SELECT value FROM settings
		WHERE namespace = ? AND scope = ? AND scope_id = ? AND key = ?`),
		k.namespace, string(k.scope), k.id, k.name,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get %s: %w", k, err)
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return false, fmt.Errorf("decode %s: %w", k, err)
	}
	return true, nil
}

func (s *Store) set(ctx context.Context, q querier, k key, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", k, err)
	}
	_, err = q.ExecContext(ctx, s.rebind(`
		INSERT INTO settings (namespace, scope, scope_id, key, value, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (namespace, scope, scope_id, key)
		DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`),
		k.namespace, string(k.scope), k.id, k.name, string(data),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("set %s: %w", k, err)
	}
	return nil
}

func (s *Store) clear(ctx context.Context, k key) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		DELETE FROM settings
		WHERE namespace = ? AND scope = ? AND scope_id = ? AND key = ?`),
		k.namespace, string(k.scope), k.id, k.name,
	)
	if err != nil {
		return fmt.Errorf("clear %s: %w", k, err)
	}
	return nil
}

func (s *Store) clearAll(ctx context.Context, namespace string, scope Scope, id string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		DELETE FROM settings WHERE namespace = ? AND scope = ? AND scope_id = ?`),
		namespace, string(scope), id,
	)
	if err != nil {
		return fmt.Errorf("clear %s/%s/%s: %w", namespace, scope, id, err)
	}
	return nil
}

// update runs fn between a locked read and a write of one key, inside a
// transaction. fn mutates dst in place; returning an error aborts the write.
func (s *Store) update(ctx context.Context, k key, dst any, fn func() error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if s.postgres {
		// Row lock for concurrent writers in other processes.
		if _, err := tx.ExecContext(ctx, s.rebind(`
			SELECT 1 FROM settings
			WHERE namespace = ? AND scope = ? AND scope_id = ? AND key = ?
			FOR UPDATE`),
			k.namespace, string(k.scope), k.id, k.name,
		); err != nil {
			return fmt.Errorf("lock %s: %w", k, err)
		}
	}

	if _, err := s.get(ctx, tx, k, dst); err != nil {
		return err
	}
	if err := fn(); err != nil {
		return err
	}
	if err := s.set(ctx, tx, k, dst); err != nil {
		return err
	}
	return tx.Commit()
}

// scan returns every scope ID holding key in the namespace, with raw values.
func (s *Store) scan(ctx context.Context, namespace string, scope Scope, name string) (map[string]json.RawMessage, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT scope_id, value FROM settings
		WHERE namespace = ? AND scope = ? AND key = ?`),
		namespace, string(scope), name,
	)
	if err != nil {
		return nil, fmt.Errorf("scan %s/%s/%s: %w", namespace, scope, name, err)
	}
	defer rows.Close()

	out := make(map[string]json.RawMessage)
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out[id] = json.RawMessage(raw)
	}
	return out, rows.Err()
}

// key addresses one stored value.
type key struct {
	namespace string
	scope     Scope
	id        string
	name      string
}

func (k key) String() string {
	return fmt.Sprintf("%s/%s/%s/%s", k.namespace, k.scope, k.id, k.name)
}
