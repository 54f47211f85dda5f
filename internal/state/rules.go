// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package state persists operator rules in SQLite.
package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"grimm.is/procwall/internal/engine"
)

// RuleStore persists engine rules to SQLite.
type RuleStore struct {
	db *sql.DB
}

var _ engine.Store = (*RuleStore)(nil)

// Open opens or creates the rule database. The parent directory is created
// if missing. ":memory:" opens a private in-memory database.
func Open(path string) (*RuleStore, error) {
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("failed to create rule db directory: %w", err)
		}
		dsn = path + "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open rule db: %w", err)
	}
	// A single connection keeps ":memory:" databases coherent and matches
	// SQLite's single-writer model.
	db.SetMaxOpenConns(1)

	s := &RuleStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *RuleStore) Close() error {
	return s.db.Close()
}

func (s *RuleStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS rules (
		id TEXT PRIMARY KEY,
		action TEXT NOT NULL,
		priority INTEGER NOT NULL DEFAULT 0,
		persistent BOOLEAN NOT NULL DEFAULT 1,
		clauses_json TEXT NOT NULL,
		created INTEGER NOT NULL -- Unix nanoseconds
	);
	CREATE INDEX IF NOT EXISTS idx_rules_order ON rules(priority DESC, created ASC);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to init rule schema: %w", err)
	}
	return nil
}

// SaveRule inserts or replaces a rule.
func (s *RuleStore) SaveRule(ctx context.Context, r engine.Rule) error {
	clauses, err := json.Marshal(r.Clauses)
	if err != nil {
		return fmt.Errorf("failed to encode clauses: %w", err)
	}
	query := `
		INSERT INTO rules (id, action, priority, persistent, clauses_json, created)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			action = excluded.action,
			priority = excluded.priority,
			persistent = excluded.persistent,
			clauses_json = excluded.clauses_json,
			created = excluded.created
	`
	_, err = s.db.ExecContext(ctx, query,
		r.ID,
		string(r.Action),
		r.Priority,
		r.Persistent,
		string(clauses),
		r.Created.UnixNano(),
	)
	return err
}

// DeleteRule removes a rule. Deleting an unknown ID is not an error.
func (s *RuleStore) DeleteRule(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM rules WHERE id = ?`, id)
	return err
}

// LoadRules returns every stored rule in evaluation order.
func (s *RuleStore) LoadRules(ctx context.Context) ([]engine.Rule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, action, priority, persistent, clauses_json, created
		FROM rules
		ORDER BY priority DESC, created ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []engine.Rule
	for rows.Next() {
		var (
			r       engine.Rule
			action  string
			clauses string
			created int64
		)
		if err := rows.Scan(&r.ID, &action, &r.Priority, &r.Persistent, &clauses, &created); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(clauses), &r.Clauses); err != nil {
			return nil, fmt.Errorf("rule %s: bad clauses: %w", r.ID, err)
		}
		r.Action = engine.Verdict(action)
		r.Created = time.Unix(0, created).UTC()
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// Count returns the number of stored rules.
func (s *RuleStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM rules`).Scan(&n)
	return n, err
}
