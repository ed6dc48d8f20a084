// Package domain contains the shared value types of the DCA engine.
//
// The domain layer is pure: no storage, no clients, no logging. Amounts are
// arbitrary-precision non-negative integers in the smallest unit of their
// denomination; rates and prices are 18-decimal fixed-point values.
package domain

import (
	"fmt"

	"cosmossdk.io/math"
)

// Coin is an amount of a single denomination.
type Coin struct {
	Denom  string   `json:"denom"`
	Amount math.Int `json:"amount"`
}

// NewCoin creates a coin from an int64 amount.
func NewCoin(denom string, amount int64) Coin {
	return Coin{Denom: denom, Amount: math.NewInt(amount)}
}

// ZeroCoin creates a zero-amount coin of the given denomination.
func ZeroCoin(denom string) Coin {
	return Coin{Denom: denom, Amount: math.ZeroInt()}
}

// IsZero reports whether the coin carries no amount.
func (c Coin) IsZero() bool {
	return c.Amount.IsNil() || c.Amount.IsZero()
}

// Add returns a coin with the amount increased by amount.
func (c Coin) Add(amount math.Int) Coin {
	return Coin{Denom: c.Denom, Amount: c.Amount.Add(amount)}
}

// Sub returns a coin with the amount decreased by amount. Subtracting more
// than the balance is a programming error and panics.
func (c Coin) Sub(amount math.Int) Coin {
	next := c.Amount.Sub(amount)
	if next.IsNegative() {
		panic(fmt.Sprintf("coin subtraction underflow: %s - %s %s", c.Amount, amount, c.Denom))
	}
	return Coin{Denom: c.Denom, Amount: next}
}

func (c Coin) String() string {
	return fmt.Sprintf("%s%s", c.Amount, c.Denom)
}

// Pair is a registered order-book venue for one denom pair.
type Pair struct {
	Address    string `json:"address"`
	BaseDenom  string `json:"base_denom"`
	QuoteDenom string `json:"quote_denom"`
}

// HasDenom reports whether denom is one of the pair's two sides.
func (p Pair) HasDenom(denom string) bool {
	return denom == p.BaseDenom || denom == p.QuoteDenom
}

// OtherDenom returns the opposite side of the pair for denom.
func (p Pair) OtherDenom(denom string) string {
	if denom == p.BaseDenom {
		return p.QuoteDenom
	}
	return p.BaseDenom
}

// PositionType describes which way a vault crosses the pair.
type PositionType string

const (
	// PositionTypeEnter swaps the quote denom into the base denom.
	PositionTypeEnter PositionType = "enter"
	// PositionTypeExit swaps the base denom into the quote denom.
	PositionTypeExit PositionType = "exit"
)

// VaultStatus is the lifecycle state of a vault.
type VaultStatus string

const (
	VaultStatusScheduled VaultStatus = "scheduled"
	VaultStatusActive    VaultStatus = "active"
	VaultStatusInactive  VaultStatus = "inactive"
	VaultStatusCancelled VaultStatus = "cancelled"
)

// DestinationAction says what happens to a destination's share of each
// execution's proceeds.
type DestinationAction string

const (
	// DestinationActionSend transfers the share to the destination address.
	DestinationActionSend DestinationAction = "send"
	// DestinationActionAutomation returns the share to the vault owner and
	// invokes a callback on the destination; callback failures refund the
	// owner out of the engine account.
	DestinationActionAutomation DestinationAction = "automation"
)

// Destination receives a fixed fraction of each execution's net proceeds.
type Destination struct {
	Address    string            `json:"address"`
	Allocation math.LegacyDec    `json:"allocation"`
	Action     DestinationAction `json:"action"`
	// Callback is the automation payload, only set for automation actions.
	Callback []byte `json:"callback,omitempty"`
}

// MaxDestinations bounds the fan-out of a single vault.
const MaxDestinations = 10

// FeeCollector receives a fixed fraction of collected fees.
type FeeCollector struct {
	Address    string         `json:"address"`
	Allocation math.LegacyDec `json:"allocation"`
}

// SwapAdjustmentStrategy resizes the per-execution slice. Exactly one
// concrete type is attached to a vault, or none.
type SwapAdjustmentStrategy interface {
	swapAdjustmentStrategy()
}

// RiskWeightedAverageStrategy scales the slice by an oracle-published
// multiplier for the model covering the vault's expected duration.
type RiskWeightedAverageStrategy struct {
	ModelID      uint8        `json:"model_id"`
	BaseDenom    string       `json:"base_denom"`
	PositionType PositionType `json:"position_type"`
}

func (RiskWeightedAverageStrategy) swapAdjustmentStrategy() {}

// WeightedScaleStrategy scales the slice by how far the current price sits
// from a base receive amount.
type WeightedScaleStrategy struct {
	BaseReceiveAmount math.Int       `json:"base_receive_amount"`
	Multiplier        math.LegacyDec `json:"multiplier"`
	IncreaseOnly      bool           `json:"increase_only"`
}

func (WeightedScaleStrategy) swapAdjustmentStrategy() {}

// CompareToStandardDca is the performance-assessment strategy: a shadow,
// unadjusted DCA of the same cadence runs alongside the vault and its
// counters decide the performance fee at retirement.
type CompareToStandardDca struct {
	SwappedAmount  Coin `json:"swapped_amount"`
	ReceivedAmount Coin `json:"received_amount"`
}

// Balance returns the shadow's undeployed remainder given the vault's total
// deposit.
func (s CompareToStandardDca) Balance(deposited Coin) Coin {
	if s.SwappedAmount.Amount.GTE(deposited.Amount) {
		return ZeroCoin(deposited.Denom)
	}
	return Coin{Denom: deposited.Denom, Amount: deposited.Amount.Sub(s.SwappedAmount.Amount)}
}
