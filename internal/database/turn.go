package database

import (
	"database/sql"
	"fmt"
	"strconv"
	"sync"
)

// Executor runs the engine's mutating turns.
//
// Every externally-triggered operation (create, execute, cancel, reply) is
// one turn: a single serialised transaction that either commits in full or
// rolls back without trace. The executor also maintains the monotonic turn
// height stamped onto events, the engine's analogue of a block height.
type Executor struct {
	db *DB
	mu sync.Mutex
}

// NewExecutor creates a turn executor on top of db.
func NewExecutor(db *DB) *Executor {
	return &Executor{db: db}
}

// Turn runs fn inside one serialised transaction. The height passed to fn is
// unique and strictly increasing across committed turns.
func (e *Executor) Turn(fn func(tx *sql.Tx, height uint64) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	tx, err := e.db.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin turn: %w", err)
	}

	height, err := nextHeight(tx)
	if err != nil {
		tx.Rollback()
		return err
	}

	if err := fn(tx, height); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit turn: %w", err)
	}
	return nil
}

// nextHeight bumps and returns the persisted turn counter.
func nextHeight(tx *sql.Tx) (uint64, error) {
	var raw string
	err := tx.QueryRow(`SELECT value FROM engine_state WHERE key = 'turn_height'`).Scan(&raw)
	if err != nil && err != sql.ErrNoRows {
		return 0, fmt.Errorf("failed to read turn height: %w", err)
	}

	var height uint64
	if raw != "" {
		height, err = strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("corrupt turn height %q: %w", raw, err)
		}
	}
	height++

	_, err = tx.Exec(
		`INSERT INTO engine_state (key, value) VALUES ('turn_height', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		strconv.FormatUint(height, 10),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to store turn height: %w", err)
	}

	return height, nil
}
