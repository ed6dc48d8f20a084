// Package events provides the per-vault audit trail.
//
// Every observable outcome of the engine is appended to a vault's event log
// with a dense, strictly increasing sequence number. The log is the durable
// record executions are audited and tested against.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"cosmossdk.io/math"

	"github.com/calculated-finance/calc-go/internal/domain"
)

// EventType identifies one kind of event.
type EventType string

const (
	VaultCreated                EventType = "vault_created"
	FundsDeposited              EventType = "funds_deposited"
	ExecutionTriggered          EventType = "execution_triggered"
	ExecutionCompleted          EventType = "execution_completed"
	ExecutionSkipped            EventType = "execution_skipped"
	SimulatedExecutionCompleted EventType = "simulated_execution_completed"
	SimulatedExecutionSkipped   EventType = "simulated_execution_skipped"
	PostExecutionActionFailed   EventType = "post_execution_action_failed"
)

// SkipReason says why an execution (real or simulated) moved no funds.
type SkipReason string

const (
	SkipReasonSlippageToleranceExceeded SkipReason = "slippage_tolerance_exceeded"
	SkipReasonPriceThresholdExceeded    SkipReason = "price_threshold_exceeded"
	SkipReasonUnknownFailure            SkipReason = "unknown_failure"
)

// EventData is the interface all event payloads implement.
type EventData interface {
	// EventType returns the event type this data is associated with
	EventType() EventType
}

// Event is one entry in a vault's log.
type Event struct {
	VaultID     uint64    `json:"vault_id"`
	Seq         uint64    `json:"seq"`
	Timestamp   time.Time `json:"timestamp"`
	BlockHeight uint64    `json:"block_height"`
	Data        EventData `json:"data"`
}

// VaultCreatedData records vault creation.
type VaultCreatedData struct{}

// EventType returns the event type for VaultCreatedData
func (VaultCreatedData) EventType() EventType { return VaultCreated }

// FundsDepositedData records a deposit into the vault balance.
type FundsDepositedData struct {
	Amount domain.Coin `json:"amount"`
}

// EventType returns the event type for FundsDepositedData
func (FundsDepositedData) EventType() EventType { return FundsDeposited }

// ExecutionTriggeredData records a trigger firing, with the pair price
// observed at that instant.
type ExecutionTriggeredData struct {
	AssetPrice math.LegacyDec `json:"asset_price"`
}

// EventType returns the event type for ExecutionTriggeredData
func (ExecutionTriggeredData) EventType() EventType { return ExecutionTriggered }

// ExecutionCompletedData records one completed swap execution.
type ExecutionCompletedData struct {
	Sent     domain.Coin `json:"sent"`
	Received domain.Coin `json:"received"`
	Fee      domain.Coin `json:"fee"`
}

// EventType returns the event type for ExecutionCompletedData
func (ExecutionCompletedData) EventType() EventType { return ExecutionCompleted }

// ExecutionSkippedData records an execution that moved no funds. Price is
// only set for price-threshold skips.
type ExecutionSkippedData struct {
	Reason SkipReason      `json:"reason"`
	Price  *math.LegacyDec `json:"price,omitempty"`
}

// EventType returns the event type for ExecutionSkippedData
func (ExecutionSkippedData) EventType() EventType { return ExecutionSkipped }

// SimulatedExecutionCompletedData records one step of the shadow DCA.
type SimulatedExecutionCompletedData struct {
	Sent     domain.Coin `json:"sent"`
	Received domain.Coin `json:"received"`
	Fee      domain.Coin `json:"fee"`
}

// EventType returns the event type for SimulatedExecutionCompletedData
func (SimulatedExecutionCompletedData) EventType() EventType { return SimulatedExecutionCompleted }

// SimulatedExecutionSkippedData records a skipped shadow step.
type SimulatedExecutionSkippedData struct {
	Reason SkipReason      `json:"reason"`
	Price  *math.LegacyDec `json:"price,omitempty"`
}

// EventType returns the event type for SimulatedExecutionSkippedData
func (SimulatedExecutionSkippedData) EventType() EventType { return SimulatedExecutionSkipped }

// PostExecutionActionFailedData records a failed automation callback whose
// funds were refunded to the vault owner.
type PostExecutionActionFailedData struct {
	Callback []byte        `json:"callback,omitempty"`
	Funds    []domain.Coin `json:"funds"`
}

// EventType returns the event type for PostExecutionActionFailedData
func (PostExecutionActionFailedData) EventType() EventType { return PostExecutionActionFailed }

// decodeEventData rebuilds the typed payload from a stored row.
func decodeEventData(eventType EventType, raw []byte) (EventData, error) {
	var (
		data EventData
		err  error
	)

	switch eventType {
	case VaultCreated:
		var d VaultCreatedData
		err = json.Unmarshal(raw, &d)
		data = d
	case FundsDeposited:
		var d FundsDepositedData
		err = json.Unmarshal(raw, &d)
		data = d
	case ExecutionTriggered:
		var d ExecutionTriggeredData
		err = json.Unmarshal(raw, &d)
		data = d
	case ExecutionCompleted:
		var d ExecutionCompletedData
		err = json.Unmarshal(raw, &d)
		data = d
	case ExecutionSkipped:
		var d ExecutionSkippedData
		err = json.Unmarshal(raw, &d)
		data = d
	case SimulatedExecutionCompleted:
		var d SimulatedExecutionCompletedData
		err = json.Unmarshal(raw, &d)
		data = d
	case SimulatedExecutionSkipped:
		var d SimulatedExecutionSkippedData
		err = json.Unmarshal(raw, &d)
		data = d
	case PostExecutionActionFailed:
		var d PostExecutionActionFailedData
		err = json.Unmarshal(raw, &d)
		data = d
	default:
		return nil, fmt.Errorf("unknown event type %q", eventType)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to decode %s event data: %w", eventType, err)
	}
	return data, nil
}
