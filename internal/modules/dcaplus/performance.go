package dcaplus

import (
	"cosmossdk.io/math"

	"github.com/calculated-finance/calc-go/internal/domain"
	"github.com/calculated-finance/calc-go/internal/modules/fees"
	"github.com/calculated-finance/calc-go/internal/modules/vaults"
)

// PerformanceFee is the fee due on the vault's outperformance of its shadow
// at the current price, in the receive denom, capped by the escrow. A vault
// without a performance assessment owes nothing.
func PerformanceFee(vault *vaults.Vault, currentPrice math.LegacyDec, rate math.LegacyDec) domain.Coin {
	if vault.PerformanceAssessment == nil {
		return domain.ZeroCoin(vault.TargetDenom)
	}

	shadow := vault.PerformanceAssessment
	fee := fees.PerformanceFee(
		vault.DepositedAmount.Amount,
		vault.SwappedAmount.Amount,
		vault.ReceivedAmount.Amount,
		shadow.SwappedAmount.Amount,
		shadow.ReceivedAmount.Amount,
		vault.EscrowedAmount.Amount,
		currentPrice,
		rate,
	)

	return domain.Coin{Denom: vault.TargetDenom, Amount: fee}
}

// PerformanceFactor is the ratio of the vault's value to its shadow's value
// at the current price, the headline number of the performance report.
func PerformanceFactor(vault *vaults.Vault, currentPrice math.LegacyDec) math.LegacyDec {
	if vault.PerformanceAssessment == nil {
		return math.LegacyOneDec()
	}

	shadow := vault.PerformanceAssessment

	vaultValue := math.LegacyNewDecFromInt(vault.DepositedAmount.Amount.Sub(vault.SwappedAmount.Amount)).
		Add(currentPrice.MulInt(vault.ReceivedAmount.Amount))
	shadowValue := math.LegacyNewDecFromInt(vault.DepositedAmount.Amount.Sub(shadow.SwappedAmount.Amount)).
		Add(currentPrice.MulInt(shadow.ReceivedAmount.Amount))

	if shadowValue.IsZero() {
		return math.LegacyOneDec()
	}
	return vaultValue.Quo(shadowValue)
}
