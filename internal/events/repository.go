package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/calculated-finance/calc-go/internal/database"
)

// Repository persists the per-vault event log.
type Repository struct {
	db  database.Querier
	log zerolog.Logger
}

// NewRepository creates a new event repository.
func NewRepository(db database.Querier, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "events").Logger(),
	}
}

// WithTx returns a copy of the repository bound to tx.
func (r *Repository) WithTx(tx database.Querier) *Repository {
	return &Repository{db: tx, log: r.log}
}

// Create appends an event to the vault's log with the next sequence number.
func (r *Repository) Create(vaultID uint64, timestamp time.Time, blockHeight uint64, data EventData) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode event data: %w", err)
	}

	// Sequence numbers are dense per vault; the surrounding turn serialises
	// concurrent appends
	_, err = r.db.Exec(
		`INSERT INTO events (vault_id, seq, timestamp, block_height, type, data)
		 SELECT ?, COALESCE(MAX(seq), 0) + 1, ?, ?, ?, ?
		 FROM events WHERE vault_id = ?`,
		vaultID, timestamp.Unix(), blockHeight, string(data.EventType()), string(payload), vaultID,
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	r.log.Debug().
		Uint64("vault_id", vaultID).
		Str("type", string(data.EventType())).
		Msg("Event appended")

	return nil
}

// ListByVault returns a page of the vault's events in sequence order.
func (r *Repository) ListByVault(vaultID uint64, limit, offset int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.Query(
		`SELECT vault_id, seq, timestamp, block_height, type, data
		 FROM events WHERE vault_id = ? ORDER BY seq LIMIT ? OFFSET ?`,
		vaultID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var result []Event
	for rows.Next() {
		var (
			event     Event
			unix      int64
			eventType string
			raw       []byte
		)
		if err := rows.Scan(&event.VaultID, &event.Seq, &unix, &event.BlockHeight, &eventType, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		event.Timestamp = time.Unix(unix, 0).UTC()

		data, err := decodeEventData(EventType(eventType), raw)
		if err != nil {
			return nil, err
		}
		event.Data = data

		result = append(result, event)
	}

	return result, rows.Err()
}
