// Package vaults owns the vault entity and its lifecycle operations.
package vaults

import (
	"errors"
	"fmt"
	"time"

	"cosmossdk.io/math"

	"github.com/calculated-finance/calc-go/internal/domain"
	"github.com/calculated-finance/calc-go/pkg/schedule"
)

// MinimumSwapAmount is the exclusive lower bound of the per-execution slice,
// in the smallest unit of the swap denomination: a slice must be strictly
// greater.
var MinimumSwapAmount = math.NewInt(50_000)

// MaxLabelLength bounds the vault label.
const MaxLabelLength = 100

// Vault is a funded, scheduled DCA plan owned by a principal.
type Vault struct {
	ID        uint64             `json:"id"`
	Owner     string             `json:"owner"`
	Label     string             `json:"label,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
	StartedAt *time.Time         `json:"started_at,omitempty"`
	Status    domain.VaultStatus `json:"status"`

	// Balance is the undeployed remainder in the swap denomination.
	Balance         domain.Coin `json:"balance"`
	DepositedAmount domain.Coin `json:"deposited_amount"`
	SwapAmount      math.Int    `json:"swap_amount"`
	TargetDenom     string      `json:"target_denom"`
	PairAddress     string      `json:"pair_address"`

	TimeInterval         schedule.Interval `json:"time_interval"`
	SlippageTolerance    *math.LegacyDec   `json:"slippage_tolerance,omitempty"`
	MinimumReceiveAmount *math.Int         `json:"minimum_receive_amount,omitempty"`

	Destinations []domain.Destination `json:"destinations"`

	SwappedAmount  domain.Coin `json:"swapped_amount"`
	ReceivedAmount domain.Coin `json:"received_amount"`
	EscrowedAmount domain.Coin `json:"escrowed_amount"`

	EscrowLevel math.LegacyDec `json:"escrow_level"`

	SwapAdjustmentStrategy domain.SwapAdjustmentStrategy `json:"swap_adjustment_strategy,omitempty"`
	PerformanceAssessment  *domain.CompareToStandardDca  `json:"performance_assessment_strategy,omitempty"`
}

// SwapDenom is the denomination the vault sells.
func (v *Vault) SwapDenom() string {
	return v.Balance.Denom
}

// PositionTypeFor reports which way the vault crosses pair.
func (v *Vault) PositionTypeFor(pair domain.Pair) domain.PositionType {
	if v.SwapDenom() == pair.QuoteDenom {
		return domain.PositionTypeEnter
	}
	return domain.PositionTypeExit
}

// IsEmpty reports whether the undeployed balance is exhausted.
func (v *Vault) IsEmpty() bool {
	return v.Balance.IsZero()
}

// IsCancelled reports whether the vault has been cancelled.
func (v *Vault) IsCancelled() bool {
	return v.Status == domain.VaultStatusCancelled
}

// ShadowBalance is the undeployed remainder of the shadow standard DCA, or a
// zero coin when the vault has no performance-assessment strategy.
func (v *Vault) ShadowBalance() domain.Coin {
	if v.PerformanceAssessment == nil {
		return domain.ZeroCoin(v.SwapDenom())
	}
	return v.PerformanceAssessment.Balance(v.DepositedAmount)
}

// ShouldNotContinue reports whether the cadence is over: the vault is out of
// funds and no shadow simulation is still outstanding.
func (v *Vault) ShouldNotContinue() bool {
	return v.Status == domain.VaultStatusInactive && v.ShadowBalance().IsZero()
}

// DeriveModelID picks the risk-weighted-average model from the expected
// total execution duration of the deposit at the configured cadence.
func DeriveModelID(blockTime time.Time, balance domain.Coin, swapAmount math.Int, interval schedule.Interval) uint8 {
	executions := balance.Amount.Quo(swapAmount)

	duration := schedule.TotalExecutionDuration(blockTime, executions.Int64(), interval)
	days := int64(duration.Hours() / 24)

	switch {
	case days <= 32:
		return 30
	case days <= 38:
		return 35
	case days <= 44:
		return 40
	case days <= 51:
		return 45
	case days <= 57:
		return 50
	case days <= 65:
		return 55
	case days <= 77:
		return 60
	case days <= 96:
		return 70
	case days <= 123:
		return 80
	default:
		return 90
	}
}

// Input validation errors, surfaced synchronously to the caller.
var (
	ErrVaultNotFound     = errors.New("vault not found")
	ErrVaultCancelled    = errors.New("vault is already cancelled")
	ErrEnginePaused      = errors.New("engine is paused")
	ErrUnknownPair       = errors.New("unknown pair")
	ErrDenomMismatch     = errors.New("deposited denom does not match the pair")
	ErrUnauthorised      = errors.New("sender is not authorised")
	ErrStartTimeInPast   = errors.New("target start time is in the past")
	ErrIncompatibleFixes = errors.New("corrected amounts denoms do not match the vault")
)

// ValidateDestinations applies the fan-out rules: at most MaxDestinations,
// no zero allocations, allocations summing to exactly one.
func ValidateDestinations(destinations []domain.Destination) error {
	if len(destinations) == 0 {
		return fmt.Errorf("at least one destination is required")
	}
	if len(destinations) > domain.MaxDestinations {
		return fmt.Errorf("no more than %d destinations are allowed", domain.MaxDestinations)
	}

	total := math.LegacyZeroDec()
	for _, d := range destinations {
		if d.Allocation.IsNil() || d.Allocation.IsZero() {
			return fmt.Errorf("destination %s has a zero allocation", d.Address)
		}
		if d.Allocation.IsNegative() {
			return fmt.Errorf("destination %s has a negative allocation", d.Address)
		}
		if d.Action == domain.DestinationActionAutomation && len(d.Callback) == 0 {
			return fmt.Errorf("destination %s has an automation action without a callback", d.Address)
		}
		total = total.Add(d.Allocation)
	}

	if !total.Equal(math.LegacyOneDec()) {
		return fmt.Errorf("destination allocations must add up to 1, got %s", total)
	}
	return nil
}

// ValidateStrategies enforces the strategy compatibility matrix: a
// risk-weighted-average adjustment requires a performance assessment, a
// weighted-scale adjustment forbids one, and escrow is held exactly when a
// performance assessment is present.
func ValidateStrategies(adjustment domain.SwapAdjustmentStrategy, assessment *domain.CompareToStandardDca, escrowLevel math.LegacyDec) error {
	if escrowLevel.IsNegative() || escrowLevel.GT(math.LegacyOneDec()) {
		return fmt.Errorf("escrow level must be between 0 and 1, got %s", escrowLevel)
	}

	switch adjustment.(type) {
	case domain.RiskWeightedAverageStrategy:
		if assessment == nil {
			return fmt.Errorf("risk weighted average adjustment requires a performance assessment strategy")
		}
	case domain.WeightedScaleStrategy:
		if assessment != nil {
			return fmt.Errorf("weighted scale adjustment is incompatible with a performance assessment strategy")
		}
	}

	if assessment != nil && escrowLevel.IsZero() {
		return fmt.Errorf("a performance assessment strategy requires a non-zero escrow level")
	}
	if assessment == nil && !escrowLevel.IsZero() {
		return fmt.Errorf("escrow level must be zero without a performance assessment strategy")
	}

	return nil
}
