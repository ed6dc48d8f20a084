package fees

import (
	"testing"

	"cosmossdk.io/math"
	"github.com/stretchr/testify/assert"

	"github.com/calculated-finance/calc-go/internal/domain"
)

func dec(t *testing.T, s string) math.LegacyDec {
	t.Helper()
	d, err := math.LegacyNewDecFromStr(s)
	if err != nil {
		t.Fatalf("invalid decimal %q: %v", s, err)
	}
	return d
}

func testParams(t *testing.T) Params {
	return Params{
		DefaultSwapFeeRate:       dec(t, "0.0165"),
		WeightedScaleSwapFeeRate: dec(t, "0.01"),
		AutomationFeeRate:        dec(t, "0.0075"),
		PerformanceFeeRate:       dec(t, "0.2"),
		Collectors:               []domain.FeeCollector{{Address: "collector", Allocation: math.LegacyOneDec()}},
	}
}

func TestSwapFeeRate(t *testing.T) {
	params := testParams(t)
	low := dec(t, "0.001")
	high := dec(t, "0.002")

	testCases := []struct {
		name          string
		customSwap    *math.LegacyDec
		customReceive *math.LegacyDec
		strategy      domain.SwapAdjustmentStrategy
		expected      string
	}{
		{
			name:     "no overrides, no strategy uses the default",
			expected: "0.0165",
		},
		{
			name:          "both overrides pick the smaller",
			customSwap:    &high,
			customReceive: &low,
			expected:      "0.001",
		},
		{
			name:       "swap denom override wins alone",
			customSwap: &high,
			expected:   "0.002",
		},
		{
			name:          "receive denom override wins alone",
			customReceive: &low,
			expected:      "0.001",
		},
		{
			name:     "weighted scale uses the dedicated rate",
			strategy: domain.WeightedScaleStrategy{BaseReceiveAmount: math.NewInt(1), Multiplier: math.LegacyOneDec()},
			expected: "0.01",
		},
		{
			name:     "risk weighted average pays nothing per execution",
			strategy: domain.RiskWeightedAverageStrategy{ModelID: 30},
			expected: "0",
		},
		{
			name:       "overrides beat the strategy rate",
			customSwap: &low,
			strategy:   domain.WeightedScaleStrategy{BaseReceiveAmount: math.NewInt(1), Multiplier: math.LegacyOneDec()},
			expected:   "0.001",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rate := SwapFeeRate(params, tc.customSwap, tc.customReceive, tc.strategy)
			assert.Equal(t, dec(t, tc.expected).String(), rate.String())
		})
	}
}

func TestAutomationFeeRate(t *testing.T) {
	params := testParams(t)

	destinations := []domain.Destination{
		{Address: "a", Allocation: dec(t, "0.5"), Action: domain.DestinationActionSend},
		{Address: "b", Allocation: dec(t, "0.3"), Action: domain.DestinationActionAutomation},
		{Address: "c", Allocation: dec(t, "0.2"), Action: domain.DestinationActionAutomation},
	}

	rate := AutomationFeeRate(params, destinations)
	assert.Equal(t, dec(t, "0.00375").String(), rate.String())

	noAutomation := []domain.Destination{
		{Address: "a", Allocation: math.LegacyOneDec(), Action: domain.DestinationActionSend},
	}
	assert.True(t, AutomationFeeRate(params, noAutomation).IsZero())
}

func TestApply(t *testing.T) {
	breakdown := Apply(math.NewInt(1_000_000), dec(t, "0.0165"), dec(t, "0.0075"))

	assert.Equal(t, "16500", breakdown.SwapFee.String())
	// automation fee on the post-swap-fee remainder, truncated
	assert.Equal(t, "7376", breakdown.AutomationFee.String())
	assert.Equal(t, "23876", breakdown.TotalFee.String())
	assert.Equal(t, "976124", breakdown.NetDisbursable.String())
}

func TestApply_ZeroReceive(t *testing.T) {
	breakdown := Apply(math.ZeroInt(), dec(t, "0.0165"), dec(t, "0.0075"))

	assert.True(t, breakdown.SwapFee.IsZero())
	assert.True(t, breakdown.AutomationFee.IsZero())
	assert.True(t, breakdown.NetDisbursable.IsZero())
}

func TestPerformanceFee(t *testing.T) {
	testCases := []struct {
		name           string
		deposited      int64
		swapped        int64
		received       int64
		shadowSwapped  int64
		shadowReceived int64
		escrowed       int64
		price          string
		expected       string
	}{
		{
			name:      "even performance owes nothing",
			deposited: 2000, swapped: 1000, received: 1000,
			shadowSwapped: 1000, shadowReceived: 1000,
			escrowed: 50, price: "1.0",
			expected: "0",
		},
		{
			name:      "less swapped and price dropped",
			deposited: 2000, swapped: 900, received: 900,
			shadowSwapped: 1000, shadowReceived: 1000,
			escrowed: 50, price: "0.9",
			expected: "2",
		},
		{
			name:      "capped by the escrow",
			deposited: 2000, swapped: 900, received: 1000,
			shadowSwapped: 1000, shadowReceived: 1000,
			escrowed: 50, price: "0.2",
			expected: "50",
		},
		{
			name:      "more swapped and price dropped owes nothing",
			deposited: 2000, swapped: 1100, received: 1000,
			shadowSwapped: 1000, shadowReceived: 1000,
			escrowed: 50, price: "0.9",
			expected: "0",
		},
		{
			name:      "more swapped and price increased",
			deposited: 2000, swapped: 1100, received: 1100,
			shadowSwapped: 1000, shadowReceived: 1000,
			escrowed: 50, price: "2",
			expected: "10",
		},
		{
			name:      "same swapped, double received",
			deposited: 2000, swapped: 1000, received: 2000,
			shadowSwapped: 1000, shadowReceived: 1000,
			escrowed: 100, price: "1",
			expected: "100",
		},
		{
			name:      "less swapped and price increased owes nothing",
			deposited: 2000, swapped: 900, received: 900,
			shadowSwapped: 1000, shadowReceived: 1000,
			escrowed: 50, price: "1.1",
			expected: "0",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			fee := PerformanceFee(
				math.NewInt(tc.deposited),
				math.NewInt(tc.swapped),
				math.NewInt(tc.received),
				math.NewInt(tc.shadowSwapped),
				math.NewInt(tc.shadowReceived),
				math.NewInt(tc.escrowed),
				dec(t, tc.price),
				dec(t, "0.2"),
			)
			assert.Equal(t, tc.expected, fee.String())
		})
	}
}

func TestPerformanceFee_SpecScenario(t *testing.T) {
	fee := PerformanceFee(
		math.NewInt(10_000_000), // deposited
		math.NewInt(10_000_000), // swapped
		math.NewInt(12_000_000), // received
		math.NewInt(10_000_000), // shadow swapped
		math.NewInt(10_000_000), // shadow received
		math.NewInt(600_000),    // escrowed
		dec(t, "1.0"),
		dec(t, "0.2"),
	)
	assert.Equal(t, "400000", fee.String())
}

func TestPriceThresholdExceeded(t *testing.T) {
	minimum := math.NewInt(500_000)
	swapAmount := math.NewInt(1_000_000)

	assert.False(t, PriceThresholdExceeded(swapAmount, nil, dec(t, "100")), "no minimum means no guard")
	assert.False(t, PriceThresholdExceeded(swapAmount, &minimum, dec(t, "2.0")))
	assert.True(t, PriceThresholdExceeded(swapAmount, &minimum, dec(t, "2.1")))
}

func TestSlippage(t *testing.T) {
	assert.True(t, Slippage(dec(t, "1.0"), dec(t, "1.0")).IsZero())
	assert.True(t, Slippage(dec(t, "0.9"), dec(t, "1.0")).IsZero(), "a better price is zero slippage")
	assert.Equal(t, dec(t, "0.05").String(), Slippage(dec(t, "1.05"), dec(t, "1.0")).String())
}

func TestCollectorShares(t *testing.T) {
	params := testParams(t)
	params.Collectors = []domain.FeeCollector{
		{Address: "a", Allocation: dec(t, "0.7")},
		{Address: "b", Allocation: dec(t, "0.3")},
	}

	shares := CollectorShares(params, math.NewInt(1000), "base")
	assert.Len(t, shares, 2)
	assert.Equal(t, "700", shares[0].Coin.Amount.String())
	assert.Equal(t, "300", shares[1].Coin.Amount.String())

	assert.Empty(t, CollectorShares(params, math.ZeroInt(), "base"), "zero fees produce no transfers")
}
