// Package dcaplus implements the adjustment and performance layer wrapped
// around the execution pipeline.
//
// A vault with a swap-adjustment strategy has its per-execution slice
// resized before each swap; a vault with a performance-assessment strategy
// additionally runs a fund-less shadow of a plain DCA at the same cadence,
// which decides the performance fee when the escrow is released.
package dcaplus

import (
	"time"

	"cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/calculated-finance/calc-go/internal/domain"
	"github.com/calculated-finance/calc-go/internal/modules/vaults"
)

// Oracle serves risk-weighted-average slice multipliers.
type Oracle interface {
	Multiplier(position domain.PositionType, modelID uint8, at time.Time) (math.LegacyDec, error)
}

// PriceQuerier provides expected execution prices from the venue.
type PriceQuerier interface {
	SwapPrice(pairAddress string, swap domain.Coin) (math.LegacyDec, error)
}

// Service is the DCA-Plus adjustment and simulation layer.
type Service struct {
	oracle Oracle
	venue  PriceQuerier
	log    zerolog.Logger
}

// NewService creates a new DCA-Plus service.
func NewService(oracle Oracle, venue PriceQuerier, log zerolog.Logger) *Service {
	return &Service{
		oracle: oracle,
		venue:  venue,
		log:    log.With().Str("component", "dcaplus").Logger(),
	}
}

// SwapAmount returns the effective slice for this execution: the configured
// amount scaled by the vault's adjustment strategy and capped by the
// remaining balance. An unreachable oracle falls back to a multiplier of
// one rather than blocking the cadence.
func (s *Service) SwapAmount(vault *vaults.Vault, now time.Time) domain.Coin {
	adjusted := vault.SwapAmount

	switch strategy := vault.SwapAdjustmentStrategy.(type) {
	case domain.RiskWeightedAverageStrategy:
		multiplier, err := s.oracle.Multiplier(strategy.PositionType, strategy.ModelID, now)
		if err != nil {
			s.log.Warn().
				Err(err).
				Uint64("vault_id", vault.ID).
				Msg("Adjustment oracle unavailable, using unadjusted slice")
			multiplier = math.LegacyOneDec()
		}
		adjusted = multiplier.MulInt(vault.SwapAmount).TruncateInt()

	case domain.WeightedScaleStrategy:
		adjusted = s.weightedScaleAmount(vault, strategy)
	}

	return domain.Coin{
		Denom:  vault.SwapDenom(),
		Amount: math.MinInt(adjusted, vault.Balance.Amount),
	}
}

// weightedScaleAmount scales the slice by how far the current price sits
// below the strategy's base price (the price implied by the base receive
// amount), amplified by the configured multiplier. With increase_only the
// slice never shrinks below the configured amount.
func (s *Service) weightedScaleAmount(vault *vaults.Vault, strategy domain.WeightedScaleStrategy) math.Int {
	slice := domain.Coin{Denom: vault.SwapDenom(), Amount: vault.SwapAmount}

	currentPrice, err := s.venue.SwapPrice(vault.PairAddress, slice)
	if err != nil {
		s.log.Warn().
			Err(err).
			Uint64("vault_id", vault.ID).
			Msg("Price query failed, using unadjusted slice")
		return vault.SwapAmount
	}

	basePrice := math.LegacyNewDecFromInt(vault.SwapAmount).
		Quo(math.LegacyNewDecFromInt(strategy.BaseReceiveAmount))

	// delta > 0 when the asset is cheaper than the base price
	delta := basePrice.Sub(currentPrice).Quo(basePrice)
	scale := math.LegacyOneDec().Add(delta.Mul(strategy.Multiplier))

	if strategy.IncreaseOnly && scale.LT(math.LegacyOneDec()) {
		scale = math.LegacyOneDec()
	}
	if scale.IsNegative() {
		scale = math.LegacyZeroDec()
	}

	return scale.MulInt(vault.SwapAmount).TruncateInt()
}
