package persistence

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/MimeLyc/live-caption-translator/internal/errs"
)

const defaultHistoryLimit = 50

//go:embed migrations/*.sql
var migrationFiles embed.FS

// SQLiteStore is the key-value settings store plus the caption history.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, fmt.Errorf("db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version := migrationVersion(entry.Name())
		if version <= 0 {
			continue
		}
		var exists int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, version).Scan(&exists); err != nil {
			return fmt.Errorf("check migration %s: %w", entry.Name(), err)
		}
		if exists > 0 {
			continue
		}
		content, err := migrationFiles.ReadFile(path.Join("migrations", entry.Name()))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
			return fmt.Errorf("record migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// migrationVersion extracts the leading integer from a migration filename (e.g. "001_init.sql" → 1).
func migrationVersion(name string) int {
	for i, c := range name {
		if c < '0' || c > '9' {
			if i == 0 {
				return 0
			}
			n, _ := strconv.Atoi(name[:i])
			return n
		}
	}
	n, _ := strconv.Atoi(name)
	return n
}

// Get decodes the JSON value stored under key into dst. It reports false
// when the key is absent.
func (s *SQLiteStore) Get(ctx context.Context, key string, dst any) (bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, errs.Wrap(err, errs.ErrStorage, "read key").WithContext("key", key)
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return false, errs.Wrap(err, errs.ErrStorage, "decode value").WithContext("key", key)
	}
	return true, nil
}

// Put stores value as JSON under key.
func (s *SQLiteStore) Put(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return errs.Wrap(err, errs.ErrStorage, "encode value").WithContext("key", key)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, string(raw), time.Now().UTC(),
	)
	if err != nil {
		return errs.Wrap(err, errs.ErrStorage, "write key").WithContext("key", key)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return errs.Wrap(err, errs.ErrStorage, "delete key").WithContext("key", key)
	}
	return nil
}

func (s *SQLiteStore) AppendCaption(ctx context.Context, rec CaptionRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO caption_history (sequence, platform, original_text, translated_text, target_language, captured_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.Sequence, rec.Platform, rec.OriginalText, rec.TranslatedText, rec.TargetLanguage, rec.CapturedAt.UTC(),
	)
	if err != nil {
		return errs.Wrap(err, errs.ErrStorage, "append caption")
	}
	return nil
}

// RecentCaptions returns up to limit records, newest first.
func (s *SQLiteStore) RecentCaptions(ctx context.Context, limit int) ([]CaptionRecord, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT sequence, platform, original_text, translated_text, target_language, captured_at
		 FROM caption_history
		 ORDER BY id DESC
		 LIMIT ?`, limit)
	if err != nil {
		return nil, errs.Wrap(err, errs.ErrStorage, "query captions")
	}
	defer rows.Close()

	ret := make([]CaptionRecord, 0)
	for rows.Next() {
		var rec CaptionRecord
		if err := rows.Scan(&rec.Sequence, &rec.Platform, &rec.OriginalText, &rec.TranslatedText, &rec.TargetLanguage, &rec.CapturedAt); err != nil {
			return nil, errs.Wrap(err, errs.ErrStorage, "scan caption")
		}
		ret = append(ret, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(err, errs.ErrStorage, "iterate captions")
	}
	return ret, nil
}
