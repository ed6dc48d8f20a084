package fees

import (
	"database/sql"
	"fmt"

	"cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/calculated-finance/calc-go/internal/database"
)

// CustomFeeRepository persists per-denom swap-fee overrides.
type CustomFeeRepository struct {
	db  database.Querier
	log zerolog.Logger
}

// NewCustomFeeRepository creates a new custom fee repository.
func NewCustomFeeRepository(db database.Querier, log zerolog.Logger) *CustomFeeRepository {
	return &CustomFeeRepository{
		db:  db,
		log: log.With().Str("repo", "custom_fees").Logger(),
	}
}

// WithTx returns a copy of the repository bound to tx.
func (r *CustomFeeRepository) WithTx(tx database.Querier) *CustomFeeRepository {
	return &CustomFeeRepository{db: tx, log: r.log}
}

// Set stores or replaces the override for a denom.
func (r *CustomFeeRepository) Set(denom string, rate math.LegacyDec) error {
	_, err := r.db.Exec(
		`INSERT INTO custom_fees (denom, rate) VALUES (?, ?)
		 ON CONFLICT(denom) DO UPDATE SET rate = excluded.rate`,
		denom, rate.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to set custom fee for %s: %w", denom, err)
	}

	r.log.Info().Str("denom", denom).Str("rate", rate.String()).Msg("Custom swap fee set")
	return nil
}

// Get returns the override for a denom, or nil when there is none.
func (r *CustomFeeRepository) Get(denom string) (*math.LegacyDec, error) {
	var raw string
	err := r.db.QueryRow(`SELECT rate FROM custom_fees WHERE denom = ?`, denom).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get custom fee for %s: %w", denom, err)
	}

	rate, err := math.LegacyNewDecFromStr(raw)
	if err != nil {
		return nil, fmt.Errorf("corrupt custom fee for %s: %w", denom, err)
	}
	return &rate, nil
}

// Delete removes the override for a denom.
func (r *CustomFeeRepository) Delete(denom string) error {
	_, err := r.db.Exec(`DELETE FROM custom_fees WHERE denom = ?`, denom)
	if err != nil {
		return fmt.Errorf("failed to delete custom fee for %s: %w", denom, err)
	}
	return nil
}

// List returns all overrides keyed by denom.
func (r *CustomFeeRepository) List() (map[string]math.LegacyDec, error) {
	rows, err := r.db.Query(`SELECT denom, rate FROM custom_fees ORDER BY denom`)
	if err != nil {
		return nil, fmt.Errorf("failed to list custom fees: %w", err)
	}
	defer rows.Close()

	result := make(map[string]math.LegacyDec)
	for rows.Next() {
		var denom, raw string
		if err := rows.Scan(&denom, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan custom fee: %w", err)
		}
		rate, err := math.LegacyNewDecFromStr(raw)
		if err != nil {
			return nil, fmt.Errorf("corrupt custom fee for %s: %w", denom, err)
		}
		result[denom] = rate
	}
	return result, rows.Err()
}
