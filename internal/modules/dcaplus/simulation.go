package dcaplus

import (
	"fmt"
	"time"

	"cosmossdk.io/math"

	"github.com/calculated-finance/calc-go/internal/domain"
	"github.com/calculated-finance/calc-go/internal/events"
	"github.com/calculated-finance/calc-go/internal/modules/fees"
	"github.com/calculated-finance/calc-go/internal/modules/vaults"
)

// EventWriter appends to a vault's event log inside the current turn.
type EventWriter interface {
	Create(vaultID uint64, timestamp time.Time, blockHeight uint64, data events.EventData) error
}

// Simulate runs one period of the shadow standard DCA: the unadjusted slice,
// the same price guards as the real path, the default fee model. It mutates
// the vault's shadow counters and writes simulation events but never moves
// funds; the caller persists the vault.
//
// swapFeeRate and automationFeeRate are the rates a plain vault would pay,
// computed with the shared fee helpers so the shadow and real fee models
// cannot drift.
func (s *Service) Simulate(
	vault *vaults.Vault,
	swapFeeRate, automationFeeRate math.LegacyDec,
	beliefPrice math.LegacyDec,
	eventWriter EventWriter,
	now time.Time,
	height uint64,
) error {
	if vault.PerformanceAssessment == nil {
		return nil
	}

	shadow := vault.PerformanceAssessment
	slice := math.MinInt(shadow.Balance(vault.DepositedAmount).Amount, vault.SwapAmount)
	if slice.IsZero() {
		return nil
	}

	sliceCoin := domain.Coin{Denom: vault.SwapDenom(), Amount: slice}

	actualPrice, err := s.venue.SwapPrice(vault.PairAddress, sliceCoin)
	if err != nil {
		return fmt.Errorf("failed to price shadow slice: %w", err)
	}

	if fees.PriceThresholdExceeded(slice, vault.MinimumReceiveAmount, beliefPrice) {
		price := beliefPrice
		return eventWriter.Create(vault.ID, now, height, events.SimulatedExecutionSkippedData{
			Reason: events.SkipReasonPriceThresholdExceeded,
			Price:  &price,
		})
	}

	if vault.SlippageTolerance != nil && fees.Slippage(actualPrice, beliefPrice).GT(*vault.SlippageTolerance) {
		return eventWriter.Create(vault.ID, now, height, events.SimulatedExecutionSkippedData{
			Reason: events.SkipReasonSlippageToleranceExceeded,
		})
	}

	receivedBeforeFee := math.LegacyNewDecFromInt(slice).Quo(actualPrice).TruncateInt()
	breakdown := fees.Apply(receivedBeforeFee, swapFeeRate, automationFeeRate)

	shadow.SwappedAmount = shadow.SwappedAmount.Add(slice)
	shadow.ReceivedAmount = shadow.ReceivedAmount.Add(breakdown.NetDisbursable)

	s.log.Debug().
		Uint64("vault_id", vault.ID).
		Str("slice", sliceCoin.String()).
		Str("received", breakdown.NetDisbursable.String()).
		Msg("Shadow execution simulated")

	return eventWriter.Create(vault.ID, now, height, events.SimulatedExecutionCompletedData{
		Sent:     sliceCoin,
		Received: domain.Coin{Denom: vault.TargetDenom, Amount: receivedBeforeFee},
		Fee:      domain.Coin{Denom: vault.TargetDenom, Amount: breakdown.TotalFee},
	})
}
