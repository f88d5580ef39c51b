// Package store persists the operation log to sqlite so a document survives
// restarts. Rows are append-only like the log itself: saving re-inserts
// with INSERT OR IGNORE, and loading returns operations with their ids and
// dependency vectors exactly as they were written.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/telescrawl/telescrawl/pkg/op"
)

type DB struct {
	db *sql.DB
}

// Open creates or opens the log database at path and ensures the schema.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	d := &DB{db: db}
	if err := d.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return d, nil
}

func (d *DB) init() error {
	if _, err := d.db.Exec(
		`CREATE TABLE IF NOT EXISTS documents (
		id text not null primary key
		)`,
	); err != nil {
		return err
	}
	if _, err := d.db.Exec(
		`CREATE TABLE IF NOT EXISTS operations (
		actor text not null,
		seq integer not null,
		deps text not null,
		payload text not null,
		primary key (actor, seq)
		)`,
	); err != nil {
		return err
	}
	return nil
}

// SaveOps records the document id and inserts every operation not already
// present. Operations are immutable, so re-inserting is always safe.
func (d *DB) SaveOps(docID string, ops []*op.Operation) error {
	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to start tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT OR IGNORE INTO documents(id) VALUES (?)`, docID); err != nil {
		return fmt.Errorf("failed to record document id: %w", err)
	}
	stmt, err := tx.Prepare(`INSERT OR IGNORE INTO operations(actor, seq, deps, payload) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()
	for _, o := range ops {
		deps, err := json.Marshal(o.Deps)
		if err != nil {
			return fmt.Errorf("failed to encode deps for %v: %w", o.ID, err)
		}
		payload, err := json.Marshal(o.Payload)
		if err != nil {
			return fmt.Errorf("failed to encode payload for %v: %w", o.ID, err)
		}
		if _, err := stmt.Exec(string(o.ID.Actor), o.ID.Seq, string(deps), string(payload)); err != nil {
			return fmt.Errorf("failed to insert %v: %w", o.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// LoadOps returns the stored document id (empty when the database is fresh)
// and every persisted operation in per-actor sequence order.
func (d *DB) LoadOps() (string, []*op.Operation, error) {
	var docID string
	if err := d.db.QueryRow(`SELECT id FROM documents LIMIT 1`).Scan(&docID); err != nil {
		if err != sql.ErrNoRows {
			return "", nil, fmt.Errorf("failed to read document id: %w", err)
		}
	}
	rows, err := d.db.Query(`SELECT actor, seq, deps, payload FROM operations ORDER BY actor, seq`)
	if err != nil {
		return "", nil, fmt.Errorf("failed to query operations: %w", err)
	}
	defer rows.Close()
	var ops []*op.Operation
	for rows.Next() {
		var actor, deps, payload string
		var seq uint64
		if err := rows.Scan(&actor, &seq, &deps, &payload); err != nil {
			return "", nil, fmt.Errorf("failed to scan operation: %w", err)
		}
		o := &op.Operation{ID: op.ID{Actor: op.ActorID(actor), Seq: seq}}
		if err := json.Unmarshal([]byte(deps), &o.Deps); err != nil {
			return "", nil, fmt.Errorf("failed to decode deps for %v: %w", o.ID, err)
		}
		if err := json.Unmarshal([]byte(payload), &o.Payload); err != nil {
			return "", nil, fmt.Errorf("failed to decode payload for %v: %w", o.ID, err)
		}
		ops = append(ops, o)
	}
	if err := rows.Err(); err != nil {
		return "", nil, fmt.Errorf("failed to iterate operations: %w", err)
	}
	return docID, ops, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}
