// Package pairs maintains the registry of supported order-book venues.
package pairs

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/calculated-finance/calc-go/internal/database"
	"github.com/calculated-finance/calc-go/internal/domain"
)

// ErrPairNotFound is returned when the address is not registered.
var ErrPairNotFound = errors.New("pair not found")

// Repository handles pair persistence.
type Repository struct {
	db  database.Querier
	log zerolog.Logger
}

// NewRepository creates a new pair repository.
func NewRepository(db database.Querier, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "pairs").Logger(),
	}
}

// WithTx returns a copy of the repository bound to tx.
func (r *Repository) WithTx(tx database.Querier) *Repository {
	return &Repository{db: tx, log: r.log}
}

// Create registers a pair, replacing any previous registration of the same
// address.
func (r *Repository) Create(pair domain.Pair) error {
	_, err := r.db.Exec(
		`INSERT INTO pairs (address, base_denom, quote_denom) VALUES (?, ?, ?)
		 ON CONFLICT(address) DO UPDATE SET base_denom = excluded.base_denom, quote_denom = excluded.quote_denom`,
		pair.Address, pair.BaseDenom, pair.QuoteDenom,
	)
	if err != nil {
		return fmt.Errorf("failed to create pair %s: %w", pair.Address, err)
	}

	r.log.Info().
		Str("address", pair.Address).
		Str("base", pair.BaseDenom).
		Str("quote", pair.QuoteDenom).
		Msg("Pair registered")

	return nil
}

// Get retrieves a pair by venue address.
func (r *Repository) Get(address string) (domain.Pair, error) {
	var pair domain.Pair
	err := r.db.QueryRow(
		`SELECT address, base_denom, quote_denom FROM pairs WHERE address = ?`,
		address,
	).Scan(&pair.Address, &pair.BaseDenom, &pair.QuoteDenom)
	if err == sql.ErrNoRows {
		return domain.Pair{}, ErrPairNotFound
	}
	if err != nil {
		return domain.Pair{}, fmt.Errorf("failed to get pair %s: %w", address, err)
	}
	return pair, nil
}

// Delete removes a pair registration.
func (r *Repository) Delete(address string) error {
	_, err := r.db.Exec(`DELETE FROM pairs WHERE address = ?`, address)
	if err != nil {
		return fmt.Errorf("failed to delete pair %s: %w", address, err)
	}
	return nil
}

// List returns all registered pairs.
func (r *Repository) List() ([]domain.Pair, error) {
	rows, err := r.db.Query(`SELECT address, base_denom, quote_denom FROM pairs ORDER BY address`)
	if err != nil {
		return nil, fmt.Errorf("failed to list pairs: %w", err)
	}
	defer rows.Close()

	var result []domain.Pair
	for rows.Next() {
		var pair domain.Pair
		if err := rows.Scan(&pair.Address, &pair.BaseDenom, &pair.QuoteDenom); err != nil {
			return nil, fmt.Errorf("failed to scan pair: %w", err)
		}
		result = append(result, pair)
	}
	return result, rows.Err()
}
