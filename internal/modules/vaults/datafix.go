package vaults

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/calculated-finance/calc-go/internal/database"
	"github.com/calculated-finance/calc-go/internal/domain"
)

// DataFix is the audit record of one operator correction.
type DataFix struct {
	ID          uint64      `json:"id"`
	ResourceID  uint64      `json:"resource_id"`
	Timestamp   time.Time   `json:"timestamp"`
	BlockHeight uint64      `json:"block_height"`
	OldSwapped  domain.Coin `json:"old_swapped"`
	NewSwapped  domain.Coin `json:"new_swapped"`
	OldReceived domain.Coin `json:"old_received"`
	NewReceived domain.Coin `json:"new_received"`
}

// dataFixPayload is the JSON stored in the data column.
type dataFixPayload struct {
	OldSwapped  domain.Coin `json:"old_swapped"`
	NewSwapped  domain.Coin `json:"new_swapped"`
	OldReceived domain.Coin `json:"old_received"`
	NewReceived domain.Coin `json:"new_received"`
}

// DataFixRepository persists operator corrections.
type DataFixRepository struct {
	db  database.Querier
	log zerolog.Logger
}

// NewDataFixRepository creates a new data fix repository.
func NewDataFixRepository(db database.Querier, log zerolog.Logger) *DataFixRepository {
	return &DataFixRepository{
		db:  db,
		log: log.With().Str("repo", "data_fixes").Logger(),
	}
}

// WithTx returns a copy of the repository bound to tx.
func (r *DataFixRepository) WithTx(tx database.Querier) *DataFixRepository {
	return &DataFixRepository{db: tx, log: r.log}
}

// Create appends a data fix record.
func (r *DataFixRepository) Create(fix DataFix) error {
	payload, err := json.Marshal(dataFixPayload{
		OldSwapped:  fix.OldSwapped,
		NewSwapped:  fix.NewSwapped,
		OldReceived: fix.OldReceived,
		NewReceived: fix.NewReceived,
	})
	if err != nil {
		return fmt.Errorf("failed to encode data fix: %w", err)
	}

	_, err = r.db.Exec(
		`INSERT INTO data_fixes (resource_id, timestamp, block_height, data) VALUES (?, ?, ?, ?)`,
		fix.ResourceID, fix.Timestamp.Unix(), fix.BlockHeight, string(payload),
	)
	if err != nil {
		return fmt.Errorf("failed to create data fix: %w", err)
	}
	return nil
}

// ListByResourceID returns all fixes recorded against a vault, oldest first.
func (r *DataFixRepository) ListByResourceID(resourceID uint64) ([]DataFix, error) {
	rows, err := r.db.Query(
		`SELECT id, resource_id, timestamp, block_height, data FROM data_fixes
		 WHERE resource_id = ? ORDER BY id`,
		resourceID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list data fixes: %w", err)
	}
	defer rows.Close()

	var result []DataFix
	for rows.Next() {
		var (
			fix  DataFix
			unix int64
			raw  []byte
		)
		if err := rows.Scan(&fix.ID, &fix.ResourceID, &unix, &fix.BlockHeight, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan data fix: %w", err)
		}
		fix.Timestamp = time.Unix(unix, 0).UTC()

		var payload dataFixPayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, fmt.Errorf("corrupt data fix %d: %w", fix.ID, err)
		}
		fix.OldSwapped = payload.OldSwapped
		fix.NewSwapped = payload.NewSwapped
		fix.OldReceived = payload.OldReceived
		fix.NewReceived = payload.NewReceived

		result = append(result, fix)
	}
	return result, rows.Err()
}
