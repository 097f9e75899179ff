package reconcile

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"sudooom.im.relay/internal/event"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS entries (
	pair      TEXT    NOT NULL,
	id        TEXT    NOT NULL,
	seq       INTEGER NOT NULL,
	kind      TEXT    NOT NULL,
	sender    TEXT    NOT NULL,
	recipient TEXT    NOT NULL,
	body      TEXT    NOT NULL DEFAULT '',
	name      TEXT    NOT NULL DEFAULT '',
	mime      TEXT    NOT NULL DEFAULT '',
	sent_at   TEXT    NOT NULL,
	PRIMARY KEY (pair, id)
);
CREATE INDEX IF NOT EXISTS idx_entries_pair_seq ON entries (pair, seq);

CREATE TABLE IF NOT EXISTS tombstones (
	pair TEXT NOT NULL,
	id   TEXT NOT NULL,
	PRIMARY KEY (pair, id)
);
`

// SQLiteStore 基于 modernc.org/sqlite 的本地历史
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite 打开或创建数据库文件；path 为 ":memory:" 时使用内存库
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	// 内存库每个连接都是独立的数据库
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure history database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create history tables: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Load(ctx context.Context, pair string) (*History, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, sender, recipient, body, name, mime, sent_at
		FROM entries WHERE pair = ? ORDER BY seq`, pair)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e      Entry
			kind   string
			sentAt string
		)
		if err := rows.Scan(&e.ID, &kind, &e.From, &e.To, &e.Body, &e.Name, &e.MIME, &sentAt); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		e.Kind = event.Kind(kind)
		if e.Time, err = time.Parse(time.RFC3339Nano, sentAt); err != nil {
			return nil, fmt.Errorf("parse entry %s time: %w", e.ID, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	tombstones, err := s.tombstones(ctx, pair)
	if err != nil {
		return nil, err
	}
	return restore(pair, entries, tombstones), nil
}

func (s *SQLiteStore) tombstones(ctx context.Context, pair string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM tombstones WHERE pair = ?`, pair)
	if err != nil {
		return nil, fmt.Errorf("query tombstones: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan tombstone: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteStore) Append(ctx context.Context, pair string, e Entry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO entries (pair, id, seq, kind, sender, recipient, body, name, mime, sent_at)
		SELECT ?, ?, COALESCE(MAX(seq), 0) + 1, ?, ?, ?, ?, ?, ?, ?
		FROM entries WHERE pair = ?`,
		pair, e.ID, string(e.Kind), e.From, e.To, e.Body, e.Name, e.MIME,
		e.Time.UTC().Format(time.RFC3339Nano), pair)
	if err != nil {
		return fmt.Errorf("insert entry %s: %w", e.ID, err)
	}
	return nil
}

func (s *SQLiteStore) Tombstone(ctx context.Context, pair string, ids []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO tombstones (pair, id) VALUES (?, ?)`, pair, id); err != nil {
			return fmt.Errorf("insert tombstone %s: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE pair = ? AND id = ?`, pair, id); err != nil {
			return fmt.Errorf("delete entry %s: %w", id, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) Pairs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT pair FROM entries
		UNION
		SELECT pair FROM tombstones
		ORDER BY pair`)
	if err != nil {
		return nil, fmt.Errorf("query pairs: %w", err)
	}
	defer rows.Close()

	var pairs []string
	for rows.Next() {
		var pair string
		if err := rows.Scan(&pair); err != nil {
			return nil, err
		}
		pairs = append(pairs, pair)
	}
	return pairs, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
