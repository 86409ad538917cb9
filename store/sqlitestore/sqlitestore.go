// Package sqlitestore provides an embedded-SQL storage adapter backed by
// modernc.org/sqlite. One database file hosts every collection; the schema is
// managed with goose migrations embedded in the binary.
package sqlitestore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/hupe1980/mirrordb/codec"
	"github.com/hupe1980/mirrordb/document"
	"github.com/hupe1980/mirrordb/store"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// Options configure the sqlite adapter.
type Options struct {
	// Codec encodes doc/base columns. Defaults to codec.Default.
	Codec codec.Codec
}

// DB wraps one sqlite database file shared by all collections.
type DB struct {
	db *sql.DB
	c  codec.Codec
}

// Open opens (or creates) the sqlite database at path and runs migrations.
// Use ":memory:" for an in-memory database.
func Open(ctx context.Context, path string, optFns ...func(o *Options)) (*DB, error) {
	opts := Options{Codec: codec.Default}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Codec == nil {
		opts.Codec = codec.Default
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitestore: ping: %w", err)
	}

	// One writer at a time; WAL lets readers proceed alongside it.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	pragmas := []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
		"PRAGMA busy_timeout = 5000;",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlitestore: set pragma: %w", err)
		}
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}
	return &DB{db: db, c: opts.Codec}, nil
}

func runMigrations(db *sql.DB) error {
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("sqlitestore: set dialect: %w", err)
	}
	goose.SetBaseFS(embedMigrations)
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("sqlitestore: goose up: %w", err)
	}
	return nil
}

// Close closes the database file.
func (d *DB) Close() error { return d.db.Close() }

// Collection returns a store.Store scoped to the named collection.
func (d *DB) Collection(name string) *Store {
	return &Store{db: d.db, collection: name, c: d.c}
}

// Store is the per-collection adapter. It satisfies store.Store.
type Store struct {
	db         *sql.DB
	collection string
	c          codec.Codec
}

// LoadAll implements store.Store.
func (s *Store) LoadAll(ctx context.Context) ([]store.Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, state, doc, base FROM entries WHERE collection = ?", s.collection)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: load: %w", err)
	}
	defer rows.Close()

	var out []store.Entry
	for rows.Next() {
		var (
			e         store.Entry
			state     int
			doc, base sql.NullString
		)
		if err := rows.Scan(&e.ID, &state, &doc, &base); err != nil {
			return nil, fmt.Errorf("sqlitestore: scan: %w", err)
		}
		e.State = store.State(state)
		if doc.Valid {
			if e.Doc, err = s.decodeDoc(doc.String); err != nil {
				return nil, err
			}
		}
		if base.Valid {
			if e.Base, err = s.decodeDoc(base.String); err != nil {
				return nil, err
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlitestore: load: %w", err)
	}
	return out, nil
}

func (s *Store) decodeDoc(raw string) (document.Document, error) {
	var d document.Document
	if err := s.c.Unmarshal([]byte(raw), &d); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrCorrupt, err)
	}
	return d, nil
}

// Persist implements store.Store. Writes and removals apply in one
// transaction.
func (s *Store) Persist(ctx context.Context, upserts []store.Entry, removals []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlitestore: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	for _, e := range upserts {
		doc, base, err := s.encodeEntry(e)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO entries (collection, id, state, doc, base)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (collection, id)
			DO UPDATE SET state = excluded.state, doc = excluded.doc, base = excluded.base`,
			s.collection, e.ID, int(e.State), doc, base)
		if err != nil {
			return fmt.Errorf("sqlitestore: upsert %q: %w", e.ID, err)
		}
	}
	for _, id := range removals {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM entries WHERE collection = ? AND id = ?", s.collection, id); err != nil {
			return fmt.Errorf("sqlitestore: delete %q: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlitestore: commit: %w", err)
	}
	return nil
}

func (s *Store) encodeEntry(e store.Entry) (doc, base sql.NullString, err error) {
	if e.Doc != nil {
		b, err := s.c.Marshal(e.Doc)
		if err != nil {
			return doc, base, fmt.Errorf("sqlitestore: encode doc %q: %w", e.ID, err)
		}
		doc = sql.NullString{String: string(b), Valid: true}
	}
	if e.Base != nil {
		b, err := s.c.Marshal(e.Base)
		if err != nil {
			return doc, base, fmt.Errorf("sqlitestore: encode base %q: %w", e.ID, err)
		}
		base = sql.NullString{String: string(b), Valid: true}
	}
	return doc, base, nil
}

// Close implements store.Store. The shared database stays open; close it via
// DB.Close.
func (s *Store) Close() error { return nil }
