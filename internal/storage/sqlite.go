// Package storage persists announced posts and per-source cursors in a
// local SQLite database.
package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Mkratenstein/FlodownBot/internal/watch"
	logx "github.com/Mkratenstein/FlodownBot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means driver default
}

// Store implements watch.Recorder plus the history query used by the
// /history command. Writes are serialized by the single-worker tick
// loop; SQLite itself is kept at one connection.
type Store struct {
	db  *sql.DB
	log logx.Logger
}

func Open(cfg Config, log logx.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("storage path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	s := &Store{db: db, log: log}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SavePost appends one announced post to history. Re-saving the same id
// overwrites, so a dispatch retriggered manually never duplicates rows.
func (s *Store) SavePost(ctx context.Context, p *watch.Post) error {
	postedAt := ""
	if !p.PostedAt.IsZero() {
		postedAt = p.PostedAt.UTC().Format(time.RFC3339)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO posts(post_id, source, author, posted_at, caption, permalink, media_url, is_video, created_at)
		 VALUES(?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(post_id) DO UPDATE SET
		   source=excluded.source, author=excluded.author, posted_at=excluded.posted_at,
		   caption=excluded.caption, permalink=excluded.permalink,
		   media_url=excluded.media_url, is_video=excluded.is_video`,
		p.ID, string(p.Source), p.Author, postedAt, p.Text, p.Permalink, p.MediaURL,
		boolInt(p.IsVideo), time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

// LastPostID returns the persisted cursor for a source ("" when none).
func (s *Store) LastPostID(ctx context.Context, source string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT last_post_id FROM cursors WHERE source = ?`, source).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return id, err
}

func (s *Store) SetCursor(ctx context.Context, source, postID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cursors(source, last_post_id, updated_at) VALUES(?,?,?)
		 ON CONFLICT(source) DO UPDATE SET last_post_id=excluded.last_post_id, updated_at=excluded.updated_at`,
		source, postID, time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

// History returns up to limit announced posts, most recent first.
func (s *Store) History(ctx context.Context, limit int) ([]watch.Post, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT post_id, source, author, posted_at, caption, permalink, media_url, is_video
		 FROM posts ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []watch.Post
	for rows.Next() {
		var (
			p        watch.Post
			source   string
			postedAt string
			isVideo  int
		)
		if err := rows.Scan(&p.ID, &source, &p.Author, &postedAt, &p.Text, &p.Permalink, &p.MediaURL, &isVideo); err != nil {
			return nil, err
		}
		p.Source = watch.Source(source)
		p.IsVideo = isVideo != 0
		if postedAt != "" {
			if t, err := time.Parse(time.RFC3339, postedAt); err == nil {
				p.PostedAt = t
			}
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
