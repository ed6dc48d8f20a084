package triggers

import (
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/calculated-finance/calc-go/internal/database"
)

// Repository handles trigger persistence and the price indexes.
type Repository struct {
	db  database.Querier
	log zerolog.Logger
}

// NewRepository creates a new trigger repository.
func NewRepository(db database.Querier, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "triggers").Logger(),
	}
}

// WithTx returns a copy of the repository bound to tx.
func (r *Repository) WithTx(tx database.Querier) *Repository {
	return &Repository{db: tx, log: r.log}
}

// SaveTime writes the vault's time trigger, replacing any previous trigger
// of either kind.
func (r *Repository) SaveTime(trigger TimeTrigger) error {
	if err := r.Delete(trigger.VaultID); err != nil {
		return err
	}

	_, err := r.db.Exec(
		`INSERT INTO triggers_time (vault_id, target_time) VALUES (?, ?)`,
		trigger.VaultID, trigger.TargetTime.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to save time trigger for vault %d: %w", trigger.VaultID, err)
	}
	return nil
}

// SavePrice writes the vault's price trigger, replacing any previous trigger
// of either kind. The REAL shadow of the target price keeps the
// (pair, direction, price) index range-scannable.
func (r *Repository) SavePrice(trigger PriceTrigger) error {
	if err := r.Delete(trigger.VaultID); err != nil {
		return err
	}

	approx, err := strconv.ParseFloat(trigger.TargetPrice.String(), 64)
	if err != nil {
		return fmt.Errorf("invalid target price %s: %w", trigger.TargetPrice, err)
	}

	_, err = r.db.Exec(
		`INSERT INTO triggers_price (vault_id, pair_address, direction, target_price, target_price_num, order_handle)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		trigger.VaultID, trigger.PairAddress, string(trigger.Direction),
		trigger.TargetPrice.String(), approx, trigger.OrderHandle,
	)
	if err != nil {
		return fmt.Errorf("failed to save price trigger for vault %d: %w", trigger.VaultID, err)
	}
	return nil
}

// Get returns the vault's trigger, whichever kind it is.
func (r *Repository) Get(vaultID uint64) (Trigger, error) {
	var unix int64
	err := r.db.QueryRow(`SELECT target_time FROM triggers_time WHERE vault_id = ?`, vaultID).Scan(&unix)
	if err == nil {
		return Trigger{Time: &TimeTrigger{VaultID: vaultID, TargetTime: time.Unix(unix, 0).UTC()}}, nil
	}
	if err != sql.ErrNoRows {
		return Trigger{}, fmt.Errorf("failed to get time trigger for vault %d: %w", vaultID, err)
	}

	var (
		pairAddress string
		direction   string
		rawPrice    string
		orderHandle sql.NullString
	)
	err = r.db.QueryRow(
		`SELECT pair_address, direction, target_price, order_handle FROM triggers_price WHERE vault_id = ?`,
		vaultID,
	).Scan(&pairAddress, &direction, &rawPrice, &orderHandle)
	if err == sql.ErrNoRows {
		return Trigger{}, ErrTriggerNotFound
	}
	if err != nil {
		return Trigger{}, fmt.Errorf("failed to get price trigger for vault %d: %w", vaultID, err)
	}

	price, err := math.LegacyNewDecFromStr(rawPrice)
	if err != nil {
		return Trigger{}, fmt.Errorf("corrupt target price %q: %w", rawPrice, err)
	}

	trigger := PriceTrigger{
		VaultID:     vaultID,
		PairAddress: pairAddress,
		Direction:   Direction(direction),
		TargetPrice: price,
	}
	if orderHandle.Valid {
		trigger.OrderHandle = &orderHandle.String
	}

	return Trigger{Price: &trigger}, nil
}

// Delete removes the vault's trigger from both tables.
func (r *Repository) Delete(vaultID uint64) error {
	if _, err := r.db.Exec(`DELETE FROM triggers_time WHERE vault_id = ?`, vaultID); err != nil {
		return fmt.Errorf("failed to delete time trigger for vault %d: %w", vaultID, err)
	}
	if _, err := r.db.Exec(`DELETE FROM triggers_price WHERE vault_id = ?`, vaultID); err != nil {
		return fmt.Errorf("failed to delete price trigger for vault %d: %w", vaultID, err)
	}
	return nil
}

// Due returns up to limit time triggers whose target has elapsed, soonest
// first.
func (r *Repository) Due(now time.Time, limit int) ([]TimeTrigger, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.Query(
		`SELECT vault_id, target_time FROM triggers_time WHERE target_time <= ? ORDER BY target_time LIMIT ?`,
		now.Unix(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list due triggers: %w", err)
	}
	defer rows.Close()

	var result []TimeTrigger
	for rows.Next() {
		var (
			trigger TimeTrigger
			unix    int64
		)
		if err := rows.Scan(&trigger.VaultID, &unix); err != nil {
			return nil, fmt.Errorf("failed to scan time trigger: %w", err)
		}
		trigger.TargetTime = time.Unix(unix, 0).UTC()
		result = append(result, trigger)
	}
	return result, rows.Err()
}

// ReadyAtPrice returns the price triggers on pair that fire at the current
// price: equal-or-higher triggers with target at or below it, equal-or-lower
// triggers with target at or above it. The index scan uses the REAL shadow
// column with a safety margin; the exact decimal comparison decides.
func (r *Repository) ReadyAtPrice(pairAddress string, current math.LegacyDec) ([]PriceTrigger, error) {
	approx, err := strconv.ParseFloat(current.String(), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid current price %s: %w", current, err)
	}

	// Widen the float bound by a hair so decimal-vs-float rounding can never
	// hide a ready trigger
	const margin = 1e-9

	rows, err := r.db.Query(
		`SELECT vault_id, pair_address, direction, target_price, order_handle FROM triggers_price
		 WHERE pair_address = ? AND (
			(direction = ? AND target_price_num <= ?) OR
			(direction = ? AND target_price_num >= ?)
		 )
		 ORDER BY target_price_num`,
		pairAddress,
		string(DirectionEqualOrHigher), approx*(1+margin),
		string(DirectionEqualOrLower), approx*(1-margin),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan price triggers: %w", err)
	}
	defer rows.Close()

	var result []PriceTrigger
	for rows.Next() {
		var (
			trigger     PriceTrigger
			direction   string
			rawPrice    string
			orderHandle sql.NullString
		)
		if err := rows.Scan(&trigger.VaultID, &trigger.PairAddress, &direction, &rawPrice, &orderHandle); err != nil {
			return nil, fmt.Errorf("failed to scan price trigger: %w", err)
		}
		trigger.Direction = Direction(direction)

		price, err := math.LegacyNewDecFromStr(rawPrice)
		if err != nil {
			return nil, fmt.Errorf("corrupt target price %q: %w", rawPrice, err)
		}
		trigger.TargetPrice = price
		if orderHandle.Valid {
			trigger.OrderHandle = &orderHandle.String
		}

		if trigger.Ready(current) {
			result = append(result, trigger)
		}
	}
	return result, rows.Err()
}
