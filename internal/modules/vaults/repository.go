package vaults

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/calculated-finance/calc-go/internal/database"
	"github.com/calculated-finance/calc-go/internal/domain"
	"github.com/calculated-finance/calc-go/pkg/schedule"
)

// vaultColumns is the column list for the vaults table. Order must match
// scanVault.
const vaultColumns = `id, owner, label, created_at, started_at, status,
	balance_denom, balance_amount, deposited_amount, swap_amount, target_denom,
	pair_address, interval_kind, interval_seconds, slippage_tolerance,
	minimum_receive_amount, destinations, swapped_amount, received_amount,
	escrowed_amount, escrow_level, swap_adjustment_strategy,
	performance_assessment_strategy`

// Repository handles vault persistence.
type Repository struct {
	db  database.Querier
	log zerolog.Logger
}

// NewRepository creates a new vault repository.
func NewRepository(db database.Querier, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "vaults").Logger(),
	}
}

// WithTx returns a copy of the repository bound to tx.
func (r *Repository) WithTx(tx database.Querier) *Repository {
	return &Repository{db: tx, log: r.log}
}

// Create inserts the vault and returns its assigned id.
func (r *Repository) Create(vault *Vault) (uint64, error) {
	destinations, err := json.Marshal(vault.Destinations)
	if err != nil {
		return 0, fmt.Errorf("failed to encode destinations: %w", err)
	}

	adjustment, err := encodeAdjustmentStrategy(vault.SwapAdjustmentStrategy)
	if err != nil {
		return 0, err
	}

	assessment, err := encodeAssessmentStrategy(vault.PerformanceAssessment)
	if err != nil {
		return 0, err
	}

	result, err := r.db.Exec(
		`INSERT INTO vaults (owner, label, created_at, started_at, status,
			balance_denom, balance_amount, deposited_amount, swap_amount, target_denom,
			pair_address, interval_kind, interval_seconds, slippage_tolerance,
			minimum_receive_amount, destinations, swapped_amount, received_amount,
			escrowed_amount, escrow_level, swap_adjustment_strategy,
			performance_assessment_strategy)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		vault.Owner,
		vault.Label,
		vault.CreatedAt.Unix(),
		nullableTime(vault.StartedAt),
		string(vault.Status),
		vault.Balance.Denom,
		vault.Balance.Amount.String(),
		vault.DepositedAmount.Amount.String(),
		vault.SwapAmount.String(),
		vault.TargetDenom,
		vault.PairAddress,
		string(vault.TimeInterval.Kind),
		vault.TimeInterval.Seconds,
		nullableDec(vault.SlippageTolerance),
		nullableInt(vault.MinimumReceiveAmount),
		string(destinations),
		vault.SwappedAmount.Amount.String(),
		vault.ReceivedAmount.Amount.String(),
		vault.EscrowedAmount.Amount.String(),
		vault.EscrowLevel.String(),
		adjustment,
		assessment,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to create vault: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read vault id: %w", err)
	}

	vault.ID = uint64(id)
	return vault.ID, nil
}

// Get retrieves a vault by id.
func (r *Repository) Get(id uint64) (*Vault, error) {
	row := r.db.QueryRow(`SELECT `+vaultColumns+` FROM vaults WHERE id = ?`, id)

	vault, err := scanVault(row)
	if err == sql.ErrNoRows {
		return nil, ErrVaultNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get vault %d: %w", id, err)
	}
	return vault, nil
}

// Update persists the vault's mutable fields.
func (r *Repository) Update(vault *Vault) error {
	destinations, err := json.Marshal(vault.Destinations)
	if err != nil {
		return fmt.Errorf("failed to encode destinations: %w", err)
	}

	assessment, err := encodeAssessmentStrategy(vault.PerformanceAssessment)
	if err != nil {
		return err
	}

	result, err := r.db.Exec(
		`UPDATE vaults SET started_at = ?, status = ?, balance_amount = ?,
			destinations = ?, swapped_amount = ?, received_amount = ?,
			escrowed_amount = ?, performance_assessment_strategy = ?
		 WHERE id = ?`,
		nullableTime(vault.StartedAt),
		string(vault.Status),
		vault.Balance.Amount.String(),
		string(destinations),
		vault.SwappedAmount.Amount.String(),
		vault.ReceivedAmount.Amount.String(),
		vault.EscrowedAmount.Amount.String(),
		assessment,
		vault.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update vault %d: %w", vault.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check vault update: %w", err)
	}
	if affected == 0 {
		return ErrVaultNotFound
	}
	return nil
}

// ListByOwner returns a page of the owner's vaults in id order.
func (r *Repository) ListByOwner(owner string, limit, offset int) ([]*Vault, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.Query(
		`SELECT `+vaultColumns+` FROM vaults WHERE owner = ? ORDER BY id LIMIT ? OFFSET ?`,
		owner, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list vaults for %s: %w", owner, err)
	}
	defer rows.Close()

	return collectVaults(rows)
}

// ListByStatus returns all vaults in the given status, in id order.
func (r *Repository) ListByStatus(status domain.VaultStatus) ([]*Vault, error) {
	rows, err := r.db.Query(
		`SELECT `+vaultColumns+` FROM vaults WHERE status = ? ORDER BY id`,
		string(status),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s vaults: %w", status, err)
	}
	defer rows.Close()

	return collectVaults(rows)
}

func collectVaults(rows *sql.Rows) ([]*Vault, error) {
	var result []*Vault
	for rows.Next() {
		vault, err := scanVault(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan vault: %w", err)
		}
		result = append(result, vault)
	}
	return result, rows.Err()
}

// scanner covers *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanVault(row scanner) (*Vault, error) {
	var (
		vault           Vault
		createdAt       int64
		startedAt       sql.NullInt64
		status          string
		balanceDenom    string
		balanceAmount   string
		depositedAmount string
		swapAmount      string
		intervalKind    string
		intervalSecs    int64
		slippage        sql.NullString
		minimumReceive  sql.NullString
		destinations    string
		swappedAmount   string
		receivedAmount  string
		escrowedAmount  string
		escrowLevel     string
		adjustment      sql.NullString
		assessment      sql.NullString
	)

	err := row.Scan(
		&vault.ID, &vault.Owner, &vault.Label, &createdAt, &startedAt, &status,
		&balanceDenom, &balanceAmount, &depositedAmount, &swapAmount, &vault.TargetDenom,
		&vault.PairAddress, &intervalKind, &intervalSecs, &slippage,
		&minimumReceive, &destinations, &swappedAmount, &receivedAmount,
		&escrowedAmount, &escrowLevel, &adjustment, &assessment,
	)
	if err != nil {
		return nil, err
	}

	vault.CreatedAt = time.Unix(createdAt, 0).UTC()
	if startedAt.Valid {
		t := time.Unix(startedAt.Int64, 0).UTC()
		vault.StartedAt = &t
	}
	vault.Status = domain.VaultStatus(status)
	vault.TimeInterval = schedule.Interval{Kind: schedule.IntervalKind(intervalKind), Seconds: intervalSecs}

	slice, ok := math.NewIntFromString(swapAmount)
	if !ok {
		return nil, fmt.Errorf("corrupt swap_amount %q", swapAmount)
	}
	vault.SwapAmount = slice

	balance, ok := math.NewIntFromString(balanceAmount)
	if !ok {
		return nil, fmt.Errorf("corrupt balance_amount %q", balanceAmount)
	}
	vault.Balance = domain.Coin{Denom: balanceDenom, Amount: balance}

	deposited, ok := math.NewIntFromString(depositedAmount)
	if !ok {
		return nil, fmt.Errorf("corrupt deposited_amount %q", depositedAmount)
	}
	vault.DepositedAmount = domain.Coin{Denom: balanceDenom, Amount: deposited}

	swapped, ok := math.NewIntFromString(swappedAmount)
	if !ok {
		return nil, fmt.Errorf("corrupt swapped_amount %q", swappedAmount)
	}
	vault.SwappedAmount = domain.Coin{Denom: balanceDenom, Amount: swapped}

	received, ok := math.NewIntFromString(receivedAmount)
	if !ok {
		return nil, fmt.Errorf("corrupt received_amount %q", receivedAmount)
	}
	vault.ReceivedAmount = domain.Coin{Denom: vault.TargetDenom, Amount: received}

	escrowed, ok := math.NewIntFromString(escrowedAmount)
	if !ok {
		return nil, fmt.Errorf("corrupt escrowed_amount %q", escrowedAmount)
	}
	vault.EscrowedAmount = domain.Coin{Denom: vault.TargetDenom, Amount: escrowed}

	level, err := math.LegacyNewDecFromStr(escrowLevel)
	if err != nil {
		return nil, fmt.Errorf("corrupt escrow_level %q: %w", escrowLevel, err)
	}
	vault.EscrowLevel = level

	if slippage.Valid {
		dec, err := math.LegacyNewDecFromStr(slippage.String)
		if err != nil {
			return nil, fmt.Errorf("corrupt slippage_tolerance %q: %w", slippage.String, err)
		}
		vault.SlippageTolerance = &dec
	}

	if minimumReceive.Valid {
		v, ok := math.NewIntFromString(minimumReceive.String)
		if !ok {
			return nil, fmt.Errorf("corrupt minimum_receive_amount %q", minimumReceive.String)
		}
		vault.MinimumReceiveAmount = &v
	}

	if err := json.Unmarshal([]byte(destinations), &vault.Destinations); err != nil {
		return nil, fmt.Errorf("corrupt destinations: %w", err)
	}

	if adjustment.Valid {
		strategy, err := decodeAdjustmentStrategy(adjustment.String)
		if err != nil {
			return nil, err
		}
		vault.SwapAdjustmentStrategy = strategy
	}

	if assessment.Valid {
		var strategy domain.CompareToStandardDca
		if err := json.Unmarshal([]byte(assessment.String), &strategy); err != nil {
			return nil, fmt.Errorf("corrupt performance assessment strategy: %w", err)
		}
		vault.PerformanceAssessment = &strategy
	}

	return &vault, nil
}

// adjustmentEnvelope tags the swap-adjustment union for storage.
type adjustmentEnvelope struct {
	Type                string                              `json:"type"`
	RiskWeightedAverage *domain.RiskWeightedAverageStrategy `json:"risk_weighted_average,omitempty"`
	WeightedScale       *domain.WeightedScaleStrategy       `json:"weighted_scale,omitempty"`
}

func encodeAdjustmentStrategy(strategy domain.SwapAdjustmentStrategy) (any, error) {
	if strategy == nil {
		return nil, nil
	}

	var envelope adjustmentEnvelope
	switch s := strategy.(type) {
	case domain.RiskWeightedAverageStrategy:
		envelope = adjustmentEnvelope{Type: "risk_weighted_average", RiskWeightedAverage: &s}
	case domain.WeightedScaleStrategy:
		envelope = adjustmentEnvelope{Type: "weighted_scale", WeightedScale: &s}
	default:
		return nil, fmt.Errorf("unknown swap adjustment strategy %T", strategy)
	}

	raw, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("failed to encode swap adjustment strategy: %w", err)
	}
	return string(raw), nil
}

func decodeAdjustmentStrategy(raw string) (domain.SwapAdjustmentStrategy, error) {
	var envelope adjustmentEnvelope
	if err := json.Unmarshal([]byte(raw), &envelope); err != nil {
		return nil, fmt.Errorf("corrupt swap adjustment strategy: %w", err)
	}

	switch envelope.Type {
	case "risk_weighted_average":
		if envelope.RiskWeightedAverage == nil {
			return nil, fmt.Errorf("corrupt risk weighted average strategy")
		}
		return *envelope.RiskWeightedAverage, nil
	case "weighted_scale":
		if envelope.WeightedScale == nil {
			return nil, fmt.Errorf("corrupt weighted scale strategy")
		}
		return *envelope.WeightedScale, nil
	default:
		return nil, fmt.Errorf("unknown swap adjustment strategy type %q", envelope.Type)
	}
}

func encodeAssessmentStrategy(strategy *domain.CompareToStandardDca) (any, error) {
	if strategy == nil {
		return nil, nil
	}
	raw, err := json.Marshal(strategy)
	if err != nil {
		return nil, fmt.Errorf("failed to encode performance assessment strategy: %w", err)
	}
	return string(raw), nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}

func nullableDec(d *math.LegacyDec) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func nullableInt(i *math.Int) any {
	if i == nil {
		return nil
	}
	return i.String()
}
