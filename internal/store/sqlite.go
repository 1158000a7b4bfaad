// Package store persists confirmed skill selections per actor in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// CategorySkill tags items created from skill selections.
const CategorySkill = "skill"

// ErrActorNotFound is returned when an actor has never been stored.
var ErrActorNotFound = errors.New("store: actor not found")

// Item is an embedded document owned by an actor, such as a granted skill.
type Item struct {
	ID        string    `json:"id"`
	ActorID   string    `json:"actor_id"`
	Category  string    `json:"category"`
	SkillID   string    `json:"skill_id"`
	Name      string    `json:"name"`
	Rank      string    `json:"rank"`
	Source    string    `json:"source"` // selector that granted it
	CreatedAt time.Time `json:"created_at"`
}

// Commit is everything a confirmed selection writes in one transaction.
type Commit struct {
	ActorID string
	Items   []Item
	Fields  map[string]string
}

// SQLite is the actor store.
type SQLite struct {
	db *sql.DB
}

// Open opens or creates the database at path. ":memory:" gives a private
// in-memory database.
func Open(path string) (*SQLite, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection keeps ":memory:" coherent and serialises writers.
	db.SetMaxOpenConns(1)

	s := &SQLite{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Ping checks the connection; used by readiness probes.
func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLite) initSchema() error {
	schema := `
	PRAGMA foreign_keys = ON;

	CREATE TABLE IF NOT EXISTS actors (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS actor_fields (
		actor_id TEXT NOT NULL REFERENCES actors(id) ON DELETE CASCADE,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		PRIMARY KEY (actor_id, key)
	);

	CREATE TABLE IF NOT EXISTS actor_items (
		id TEXT PRIMARY KEY,
		actor_id TEXT NOT NULL REFERENCES actors(id) ON DELETE CASCADE,
		category TEXT NOT NULL,
		skill_id TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		rank TEXT NOT NULL DEFAULT '',
		source TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_items_actor ON actor_items(actor_id, category);
	`
	_, err := s.db.Exec(schema)
	return err
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// EnsureActor creates the actor row if it does not exist yet.
func (s *SQLite) EnsureActor(ctx context.Context, id, name string) error {
	return ensureActor(ctx, s.db, id, name)
}

func ensureActor(ctx context.Context, ex execer, id, name string) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO actors (id, name, created_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, id, name, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("ensure actor %s: %w", id, err)
	}
	return nil
}

// ListItems returns the actor's items of category, oldest first. An empty
// category lists everything.
func (s *SQLite) ListItems(ctx context.Context, actorID, category string) ([]Item, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_id, category, skill_id, name, rank, source, created_at
		FROM actor_items
		WHERE actor_id = ? AND (? = '' OR category = ?)
		ORDER BY created_at, rowid
	`, actorID, category, category)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var it Item
		var created int64
		if err := rows.Scan(&it.ID, &it.ActorID, &it.Category, &it.SkillID, &it.Name, &it.Rank, &it.Source, &created); err != nil {
			return nil, err
		}
		it.CreatedAt = time.UnixMilli(created).UTC()
		items = append(items, it)
	}
	return items, rows.Err()
}

// CreateItems inserts items for actorID, creating the actor if needed and
// assigning IDs where missing.
func (s *SQLite) CreateItems(ctx context.Context, actorID string, items []Item) ([]Item, error) {
	var out []Item
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := ensureActor(ctx, tx, actorID, ""); err != nil {
			return err
		}
		var err error
		out, err = createItems(ctx, tx, actorID, items)
		return err
	})
	return out, err
}

func createItems(ctx context.Context, ex execer, actorID string, items []Item) ([]Item, error) {
	now := time.Now().UTC()
	out := make([]Item, 0, len(items))
	for _, it := range items {
		if it.ID == "" {
			it.ID = uuid.NewString()
		}
		if it.Category == "" {
			it.Category = CategorySkill
		}
		it.ActorID = actorID
		it.CreatedAt = now
		_, err := ex.ExecContext(ctx, `
			INSERT INTO actor_items (id, actor_id, category, skill_id, name, rank, source, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, it.ID, actorID, it.Category, it.SkillID, it.Name, it.Rank, it.Source, now.UnixMilli())
		if err != nil {
			return nil, fmt.Errorf("insert item %s: %w", it.SkillID, err)
		}
		out = append(out, it)
	}
	return out, nil
}

// DeleteItems removes the actor's items of category and reports how many went.
func (s *SQLite) DeleteItems(ctx context.Context, actorID, category string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM actor_items WHERE actor_id = ? AND category = ?`, actorID, category)
	if err != nil {
		return 0, fmt.Errorf("delete items: %w", err)
	}
	return res.RowsAffected()
}

// UpdateFields upserts key/value fields on the actor.
func (s *SQLite) UpdateFields(ctx context.Context, actorID string, fields map[string]string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return updateFields(ctx, tx, actorID, fields)
	})
}

func updateFields(ctx context.Context, ex execer, actorID string, fields map[string]string) error {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		_, err := ex.ExecContext(ctx, `
			INSERT INTO actor_fields (actor_id, key, value) VALUES (?, ?, ?)
			ON CONFLICT(actor_id, key) DO UPDATE SET value = excluded.value
		`, actorID, k, fields[k])
		if err != nil {
			return fmt.Errorf("update field %s: %w", k, err)
		}
	}
	return nil
}

// Fields returns every field of the actor.
func (s *SQLite) Fields(ctx context.Context, actorID string) (map[string]string, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM actors WHERE id = ?`, actorID).Scan(&exists)
	if err != nil {
		return nil, err
	}
	if exists == 0 {
		return nil, fmt.Errorf("%w: %s", ErrActorNotFound, actorID)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM actor_fields WHERE actor_id = ?`, actorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

// CommitSelection writes a confirmed selection atomically: the actor row, one
// item per skill and the accompanying fields.
func (s *SQLite) CommitSelection(ctx context.Context, c Commit) ([]Item, error) {
	var out []Item
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := ensureActor(ctx, tx, c.ActorID, ""); err != nil {
			return err
		}
		var err error
		if out, err = createItems(ctx, tx, c.ActorID, c.Items); err != nil {
			return err
		}
		return updateFields(ctx, tx, c.ActorID, c.Fields)
	})
	return out, err
}

func (s *SQLite) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
