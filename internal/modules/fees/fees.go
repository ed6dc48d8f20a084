// Package fees holds the engine's fee and price math.
//
// The real execution path and the shadow simulation share these helpers so
// the two fee models can never drift apart. All amount-by-rate
// multiplications truncate toward zero, and no helper ever returns a
// negative amount.
package fees

import (
	"cosmossdk.io/math"

	"github.com/calculated-finance/calc-go/internal/domain"
)

// Params are the configured fee parameters.
type Params struct {
	DefaultSwapFeeRate       math.LegacyDec
	WeightedScaleSwapFeeRate math.LegacyDec
	AutomationFeeRate        math.LegacyDec
	PerformanceFeeRate       math.LegacyDec
	Collectors               []domain.FeeCollector
}

// SwapFeeRate picks the swap-fee rate for a vault:
//
//   - both denoms carry custom overrides: the smaller one
//   - exactly one override: that one
//   - no override, weighted-scale adjustment: the dedicated rate
//   - no override, any other adjustment (these always come with a
//     performance assessment): zero, the fee is taken at retirement instead
//   - otherwise: the default rate
func SwapFeeRate(params Params, customSwapDenom, customReceiveDenom *math.LegacyDec, strategy domain.SwapAdjustmentStrategy) math.LegacyDec {
	switch {
	case customSwapDenom != nil && customReceiveDenom != nil:
		return math.LegacyMinDec(*customSwapDenom, *customReceiveDenom)
	case customSwapDenom != nil:
		return *customSwapDenom
	case customReceiveDenom != nil:
		return *customReceiveDenom
	}

	switch strategy.(type) {
	case domain.WeightedScaleStrategy:
		return params.WeightedScaleSwapFeeRate
	case nil:
		return params.DefaultSwapFeeRate
	default:
		return math.LegacyZeroDec()
	}
}

// AutomationFeeRate is the configured automation rate scaled by the share of
// the vault's proceeds flowing to automation destinations.
func AutomationFeeRate(params Params, destinations []domain.Destination) math.LegacyDec {
	total := math.LegacyZeroDec()
	for _, d := range destinations {
		if d.Action == domain.DestinationActionAutomation {
			total = total.Add(d.Allocation)
		}
	}
	return params.AutomationFeeRate.Mul(total)
}

// Breakdown is the fee decomposition of one execution's receive amount.
type Breakdown struct {
	SwapFee        math.Int
	AutomationFee  math.Int
	TotalFee       math.Int
	NetDisbursable math.Int
}

// Apply decomposes a receive amount: the swap fee comes off the top, the
// automation fee is taken on the remainder.
func Apply(received math.Int, swapRate, automationRate math.LegacyDec) Breakdown {
	swapFee := swapRate.MulInt(received).TruncateInt()
	afterSwapFee := received.Sub(swapFee)
	automationFee := automationRate.MulInt(afterSwapFee).TruncateInt()
	totalFee := swapFee.Add(automationFee)

	return Breakdown{
		SwapFee:        swapFee,
		AutomationFee:  automationFee,
		TotalFee:       totalFee,
		NetDisbursable: received.Sub(totalFee),
	}
}

// PerformanceFee is the fee on a vault's measured outperformance of its
// shadow, in the receive denom, capped by the escrowed balance.
//
// Both portfolio values are measured in the swap denom at the current price;
// the positive difference is converted back to the receive denom before the
// rate applies.
func PerformanceFee(
	deposited, swapped, received math.Int,
	shadowSwapped, shadowReceived math.Int,
	escrowed math.Int,
	currentPrice math.LegacyDec,
	rate math.LegacyDec,
) math.Int {
	vaultValue := math.LegacyNewDecFromInt(deposited.Sub(swapped)).
		Add(currentPrice.MulInt(received))
	shadowValue := math.LegacyNewDecFromInt(deposited.Sub(shadowSwapped)).
		Add(currentPrice.MulInt(shadowReceived))

	added := vaultValue.Sub(shadowValue)
	if added.IsNegative() {
		return math.ZeroInt()
	}

	addedInReceiveDenom := added.Quo(currentPrice)
	fee := addedInReceiveDenom.Mul(rate).TruncateInt()

	return math.MinInt(escrowed, fee)
}

// PriceThresholdExceeded reports whether swapping swapAmount at beliefPrice
// would return less than the configured minimum. No minimum means no guard.
func PriceThresholdExceeded(swapAmount math.Int, minimumReceiveAmount *math.Int, beliefPrice math.LegacyDec) bool {
	if minimumReceiveAmount == nil {
		return false
	}

	receiveAtPrice := math.LegacyNewDecFromInt(swapAmount).Quo(beliefPrice)

	return receiveAtPrice.LT(math.LegacyNewDecFromInt(*minimumReceiveAmount))
}

// Slippage is how much worse the actual execution price is than the belief
// price, as a fraction of the belief price. A better-than-belief price is
// zero slippage.
func Slippage(actual, belief math.LegacyDec) math.LegacyDec {
	if actual.LTE(belief) {
		return math.LegacyZeroDec()
	}
	return actual.Sub(belief).Quo(belief)
}

// CollectorShare is one collector's cut of a fee.
type CollectorShare struct {
	Address string
	Coin    domain.Coin
}

// CollectorShares splits a fee amount across the configured collectors by
// allocation, dropping zero shares.
func CollectorShares(params Params, fee math.Int, denom string) []CollectorShare {
	var shares []CollectorShare
	for _, collector := range params.Collectors {
		amount := collector.Allocation.MulInt(fee).TruncateInt()
		if amount.IsZero() {
			continue
		}
		shares = append(shares, CollectorShare{
			Address: collector.Address,
			Coin:    domain.Coin{Denom: denom, Amount: amount},
		})
	}
	return shares
}
