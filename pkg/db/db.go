package db

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// schemaSQL is the full schema. Statements are separated by semicolons and
// must not contain semicolons themselves.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS merge_batches (
  id TEXT PRIMARY KEY,
  version INTEGER NOT NULL UNIQUE,
  seed_count INTEGER NOT NULL,
  new_legos INTEGER NOT NULL,
  reference_legos INTEGER NOT NULL,
  committed_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS seeds (
  id TEXT PRIMARY KEY,
  position INTEGER NOT NULL UNIQUE,
  known_text TEXT NOT NULL,
  target_text TEXT NOT NULL,
  batch_id TEXT NOT NULL REFERENCES merge_batches(id)
);

CREATE TABLE IF NOT EXISTS legos (
  id TEXT PRIMARY KEY,
  seed_id TEXT NOT NULL REFERENCES seeds(id),
  seq INTEGER NOT NULL,
  kind TEXT NOT NULL CHECK (kind IN ('atomic', 'composite')),
  origin TEXT NOT NULL CHECK (origin IN ('new', 'reference')),
  known_text TEXT NOT NULL,
  target_text TEXT NOT NULL,
  ref_id TEXT REFERENCES legos(id),
  UNIQUE (seed_id, seq)
);

CREATE TABLE IF NOT EXISTS lego_components (
  lego_id TEXT NOT NULL REFERENCES legos(id),
  ord INTEGER NOT NULL,
  known_fragment TEXT NOT NULL,
  target_fragment TEXT NOT NULL,
  feeder_id TEXT REFERENCES legos(id),
  PRIMARY KEY (lego_id, ord)
);

CREATE TABLE IF NOT EXISTS baskets (
  lego_id TEXT PRIMARY KEY REFERENCES legos(id),
  registry_version INTEGER NOT NULL,
  known_text TEXT NOT NULL,
  target_text TEXT NOT NULL,
  distribution TEXT NOT NULL,
  generated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS basket_phrases (
  lego_id TEXT NOT NULL REFERENCES baskets(lego_id) ON DELETE CASCADE,
  slot INTEGER NOT NULL,
  known_text TEXT NOT NULL,
  target_text TEXT NOT NULL,
  pattern_tag TEXT,
  lego_count INTEGER NOT NULL,
  PRIMARY KEY (lego_id, slot)
);

CREATE INDEX IF NOT EXISTS idx_legos_seed ON legos(seed_id, seq);
CREATE INDEX IF NOT EXISTS idx_legos_ref ON legos(ref_id)
`

// InitDB creates the schema on the given DB connection.
func InitDB(db *sql.DB) error {
	for _, s := range strings.Split(schemaSQL, ";") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, err := db.Exec(s); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// Open opens the SQLite database at path with foreign keys enforced and
// creates the schema. ":memory:" is limited to one connection so every query
// sees the same database.
func Open(path string) (*sql.DB, error) {
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_foreign_keys=on"
	}
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if strings.HasPrefix(path, ":memory:") {
		conn.SetMaxOpenConns(1)
	}
	if err := InitDB(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}
