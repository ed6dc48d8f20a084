// Package triggers owns the per-vault execution triggers and their indexes.
//
// A Scheduled or Active vault has exactly one trigger: either a time trigger
// holding the next target instant, or a price trigger holding a direction and
// target price. Price triggers are additionally indexed by (pair, direction,
// price) so a watcher can range-scan for everything that became ready at the
// current price.
package triggers

import (
	"errors"
	"time"

	"cosmossdk.io/math"
)

// Direction says which side of the target price fires the trigger.
type Direction string

const (
	// DirectionEqualOrHigher fires once the current price is at or above the
	// target.
	DirectionEqualOrHigher Direction = "equal_or_higher"
	// DirectionEqualOrLower fires once the current price is at or below the
	// target.
	DirectionEqualOrLower Direction = "equal_or_lower"
)

// TimeTrigger fires once its target instant has elapsed.
type TimeTrigger struct {
	VaultID    uint64    `json:"vault_id"`
	TargetTime time.Time `json:"target_time"`
}

// PriceTrigger fires once the pair's price crosses the target in the
// configured direction. OrderHandle is set while a venue limit order backs
// the trigger.
type PriceTrigger struct {
	VaultID     uint64         `json:"vault_id"`
	PairAddress string         `json:"pair_address"`
	Direction   Direction      `json:"direction"`
	TargetPrice math.LegacyDec `json:"target_price"`
	OrderHandle *string        `json:"order_handle,omitempty"`
}

// Ready reports whether the trigger fires at the given price.
func (t PriceTrigger) Ready(current math.LegacyDec) bool {
	switch t.Direction {
	case DirectionEqualOrHigher:
		return current.GTE(t.TargetPrice)
	case DirectionEqualOrLower:
		return current.LTE(t.TargetPrice)
	default:
		return false
	}
}

// Trigger is the tagged union persisted per vault; exactly one branch is set.
type Trigger struct {
	Time  *TimeTrigger
	Price *PriceTrigger
}

// VaultID returns the owning vault regardless of the branch.
func (t Trigger) VaultID() uint64 {
	if t.Time != nil {
		return t.Time.VaultID
	}
	if t.Price != nil {
		return t.Price.VaultID
	}
	return 0
}

var (
	// ErrTriggerNotFound is returned when a vault has no trigger.
	ErrTriggerNotFound = errors.New("trigger not found")
	// ErrTriggerNotReady is returned when the trigger's condition has not
	// been met yet.
	ErrTriggerNotReady = errors.New("trigger execution time has not yet elapsed")
	// ErrPriceNotReached is returned when a price trigger's target has not
	// been crossed.
	ErrPriceNotReached = errors.New("target price has not been reached")
)
