package vaults

import (
	"testing"
	"time"

	"cosmossdk.io/math"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calculated-finance/calc-go/internal/database"
	"github.com/calculated-finance/calc-go/internal/domain"
	"github.com/calculated-finance/calc-go/internal/events"
	"github.com/calculated-finance/calc-go/internal/modules/triggers"
	"github.com/calculated-finance/calc-go/pkg/schedule"
)

var serviceTestTime = time.Date(2022, time.May, 1, 10, 0, 0, 0, time.UTC)

// fakePairs serves one registered pair.
type fakePairs struct{}

func (fakePairs) Get(address string) (domain.Pair, error) {
	if address != "pair-1" {
		return domain.Pair{}, ErrUnknownPair
	}
	return domain.Pair{Address: "pair-1", BaseDenom: "base", QuoteDenom: "quote"}, nil
}

// fakeTriggers records arming and removal.
type fakeTriggers struct {
	timeTriggers  map[uint64]time.Time
	priceTriggers map[uint64]triggers.PriceTrigger
	removed       []uint64
}

func newFakeTriggers() *fakeTriggers {
	return &fakeTriggers{
		timeTriggers:  map[uint64]time.Time{},
		priceTriggers: map[uint64]triggers.PriceTrigger{},
	}
}

func (f *fakeTriggers) ArmTime(_ database.Querier, vaultID uint64, target time.Time) error {
	delete(f.priceTriggers, vaultID)
	f.timeTriggers[vaultID] = target
	return nil
}

func (f *fakeTriggers) ArmPrice(_ database.Querier, trigger triggers.PriceTrigger) error {
	delete(f.timeTriggers, trigger.VaultID)
	f.priceTriggers[trigger.VaultID] = trigger
	return nil
}

func (f *fakeTriggers) Remove(_ database.Querier, vaultID uint64) error {
	delete(f.timeTriggers, vaultID)
	delete(f.priceTriggers, vaultID)
	f.removed = append(f.removed, vaultID)
	return nil
}

// fakeBank records transfers.
type fakeBank struct {
	transfers []struct {
		To    string
		Coins []domain.Coin
	}
}

func (b *fakeBank) Send(to string, coins []domain.Coin) error {
	b.transfers = append(b.transfers, struct {
		To    string
		Coins []domain.Coin
	}{To: to, Coins: coins})
	return nil
}

type serviceFixture struct {
	service  *Service
	repo     *Repository
	triggers *fakeTriggers
	bank     *fakeBank
	events   *events.Repository
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	log := zerolog.New(nil).Level(zerolog.Disabled)

	db, err := database.NewInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate())

	conn := db.Conn()
	repo := NewRepository(conn, log)
	fixes := NewDataFixRepository(conn, log)
	eventRepo := events.NewRepository(conn, log)
	trig := newFakeTriggers()
	bank := &fakeBank{}

	service := NewService(repo, fixes, fakePairs{}, trig, eventRepo, bank, database.NewExecutor(db), false, log)
	service.SetClock(func() time.Time { return serviceTestTime })

	return &serviceFixture{service: service, repo: repo, triggers: trig, bank: bank, events: eventRepo}
}

func validParams() CreateParams {
	return CreateParams{
		Owner:        "owner-1",
		Deposit:      domain.NewCoin("quote", 10_000_000),
		SwapAmount:   math.NewInt(1_000_000),
		PairAddress:  "pair-1",
		TimeInterval: schedule.Interval{Kind: schedule.Hourly},
	}
}

func TestCreate_ImmediateStartIsActive(t *testing.T) {
	f := newServiceFixture(t)

	vault, err := f.service.Create(validParams())
	require.NoError(t, err)

	assert.Equal(t, domain.VaultStatusActive, vault.Status)
	assert.Equal(t, "base", vault.TargetDenom)
	require.Len(t, vault.Destinations, 1)
	assert.Equal(t, "owner-1", vault.Destinations[0].Address, "defaults to the owner")

	// trigger armed at now
	assert.Equal(t, serviceTestTime, f.triggers.timeTriggers[vault.ID])

	log, err := f.events.ListByVault(vault.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, log, 2)
	assert.IsType(t, events.VaultCreatedData{}, log[0].Data)
	assert.IsType(t, events.FundsDepositedData{}, log[1].Data)
}

func TestCreate_FutureStartIsScheduled(t *testing.T) {
	f := newServiceFixture(t)

	start := serviceTestTime.Add(2 * time.Hour)
	params := validParams()
	params.TargetStartTime = &start

	vault, err := f.service.Create(params)
	require.NoError(t, err)

	assert.Equal(t, domain.VaultStatusScheduled, vault.Status)
	assert.Equal(t, start, f.triggers.timeTriggers[vault.ID])
}

func TestCreate_PriceTriggerIsScheduled(t *testing.T) {
	f := newServiceFixture(t)

	price := math.LegacyMustNewDecFromStr("0.9")
	params := validParams()
	params.TargetPrice = &price
	params.TargetPriceDirection = triggers.DirectionEqualOrLower

	vault, err := f.service.Create(params)
	require.NoError(t, err)

	assert.Equal(t, domain.VaultStatusScheduled, vault.Status)
	trigger, ok := f.triggers.priceTriggers[vault.ID]
	require.True(t, ok)
	assert.Equal(t, triggers.DirectionEqualOrLower, trigger.Direction)
	assert.Equal(t, "pair-1", trigger.PairAddress)
}

func TestCreate_InputValidation(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*CreateParams)
	}{
		{
			name:   "unknown pair",
			mutate: func(p *CreateParams) { p.PairAddress = "pair-404" },
		},
		{
			name:   "deposit denom not in the pair",
			mutate: func(p *CreateParams) { p.Deposit = domain.NewCoin("other", 10_000_000) },
		},
		{
			name:   "swap amount at the minimum",
			mutate: func(p *CreateParams) { p.SwapAmount = math.NewInt(50_000) },
		},
		{
			name: "label too long",
			mutate: func(p *CreateParams) {
				label := make([]byte, 101)
				for i := range label {
					label[i] = 'x'
				}
				p.Label = string(label)
			},
		},
		{
			name:   "custom interval below a minute",
			mutate: func(p *CreateParams) { p.TimeInterval = schedule.Interval{Kind: schedule.Custom, Seconds: 30} },
		},
		{
			name: "start time in the past",
			mutate: func(p *CreateParams) {
				past := serviceTestTime.Add(-time.Hour)
				p.TargetStartTime = &past
			},
		},
		{
			name: "allocations not summing to one",
			mutate: func(p *CreateParams) {
				p.Destinations = []domain.Destination{
					{Address: "a", Allocation: math.LegacyMustNewDecFromStr("0.5"), Action: domain.DestinationActionSend},
				}
			},
		},
		{
			name: "zero allocation",
			mutate: func(p *CreateParams) {
				p.Destinations = []domain.Destination{
					{Address: "a", Allocation: math.LegacyOneDec(), Action: domain.DestinationActionSend},
					{Address: "b", Allocation: math.LegacyZeroDec(), Action: domain.DestinationActionSend},
				}
			},
		},
		{
			name: "too many destinations",
			mutate: func(p *CreateParams) {
				allocation := math.LegacyOneDec().QuoInt64(16)
				for i := 0; i < 16; i++ {
					p.Destinations = append(p.Destinations, domain.Destination{
						Address: "a", Allocation: allocation, Action: domain.DestinationActionSend,
					})
				}
			},
		},
		{
			name:   "risk weighted average without performance assessment",
			mutate: func(p *CreateParams) { p.UseRiskWeightedAverage = true },
		},
		{
			name: "weighted scale with performance assessment",
			mutate: func(p *CreateParams) {
				p.WeightedScale = &domain.WeightedScaleStrategy{
					BaseReceiveAmount: math.NewInt(1_000_000),
					Multiplier:        math.LegacyOneDec(),
				}
				p.UsePerformanceAssessment = true
				p.EscrowLevel = math.LegacyMustNewDecFromStr("0.05")
			},
		},
		{
			name: "performance assessment without escrow",
			mutate: func(p *CreateParams) {
				p.UseRiskWeightedAverage = true
				p.UsePerformanceAssessment = true
			},
		},
		{
			name: "escrow without performance assessment",
			mutate: func(p *CreateParams) {
				p.EscrowLevel = math.LegacyMustNewDecFromStr("0.05")
			},
		},
		{
			name: "escrow level above one",
			mutate: func(p *CreateParams) {
				p.UseRiskWeightedAverage = true
				p.UsePerformanceAssessment = true
				p.EscrowLevel = math.LegacyMustNewDecFromStr("1.5")
			},
		},
		{
			name: "start time and target price together",
			mutate: func(p *CreateParams) {
				start := serviceTestTime.Add(time.Hour)
				price := math.LegacyOneDec()
				p.TargetStartTime = &start
				p.TargetPrice = &price
				p.TargetPriceDirection = triggers.DirectionEqualOrHigher
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := newServiceFixture(t)
			params := validParams()
			tc.mutate(&params)

			_, err := f.service.Create(params)
			assert.Error(t, err)
		})
	}
}

func TestCreate_Paused(t *testing.T) {
	f := newServiceFixture(t)
	log := zerolog.New(nil).Level(zerolog.Disabled)

	db, err := database.NewInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate())

	paused := NewService(
		NewRepository(db.Conn(), log), NewDataFixRepository(db.Conn(), log),
		fakePairs{}, f.triggers, events.NewRepository(db.Conn(), log), f.bank,
		database.NewExecutor(db), true, log,
	)

	_, err = paused.Create(validParams())
	assert.ErrorIs(t, err, ErrEnginePaused)
}

// Scenario S5: cancellation refunds the undeployed balance, removes the
// trigger and preserves the statistics.
func TestCancel_RefundsBalance(t *testing.T) {
	f := newServiceFixture(t)

	vault, err := f.service.Create(validParams())
	require.NoError(t, err)

	// pretend one hourly execution already happened
	vault.Balance = domain.NewCoin("quote", 9_000_000)
	vault.SwappedAmount = domain.NewCoin("quote", 1_000_000)
	vault.ReceivedAmount = domain.NewCoin("base", 983_500)
	require.NoError(t, f.repo.Update(vault))

	require.NoError(t, f.service.Cancel(vault.ID, "owner-1"))

	stored, err := f.repo.Get(vault.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.VaultStatusCancelled, stored.Status)
	assert.True(t, stored.Balance.IsZero())
	assert.Equal(t, "983500", stored.ReceivedAmount.Amount.String(), "history preserved")

	assert.Contains(t, f.triggers.removed, vault.ID)

	require.Len(t, f.bank.transfers, 1)
	assert.Equal(t, "owner-1", f.bank.transfers[0].To)
	assert.Equal(t, "9000000", f.bank.transfers[0].Coins[0].Amount.String())
}

func TestCancel_Authorisation(t *testing.T) {
	f := newServiceFixture(t)

	vault, err := f.service.Create(validParams())
	require.NoError(t, err)

	assert.ErrorIs(t, f.service.Cancel(vault.ID, "mallory"), ErrUnauthorised)

	require.NoError(t, f.service.Cancel(vault.ID, "owner-1"))
	assert.ErrorIs(t, f.service.Cancel(vault.ID, "owner-1"), ErrVaultCancelled)
}

func TestDeposit_TopsUpAndReactivates(t *testing.T) {
	f := newServiceFixture(t)

	vault, err := f.service.Create(validParams())
	require.NoError(t, err)

	vault.Status = domain.VaultStatusInactive
	vault.Balance = domain.ZeroCoin("quote")
	require.NoError(t, f.repo.Update(vault))
	delete(f.triggers.timeTriggers, vault.ID)

	updated, err := f.service.Deposit(vault.ID, "owner-1", domain.NewCoin("quote", 2_000_000))
	require.NoError(t, err)

	assert.Equal(t, domain.VaultStatusActive, updated.Status)
	assert.Equal(t, "2000000", updated.Balance.Amount.String())
	assert.Equal(t, "12000000", updated.DepositedAmount.Amount.String())
	assert.Equal(t, serviceTestTime, f.triggers.timeTriggers[vault.ID], "cadence re-armed")

	log, err := f.events.ListByVault(vault.ID, 10, 0)
	require.NoError(t, err)
	deposited, ok := log[len(log)-1].Data.(events.FundsDepositedData)
	require.True(t, ok)
	assert.Equal(t, "2000000", deposited.Amount.Amount.String())
}

func TestDeposit_WrongDenom(t *testing.T) {
	f := newServiceFixture(t)

	vault, err := f.service.Create(validParams())
	require.NoError(t, err)

	_, err = f.service.Deposit(vault.ID, "owner-1", domain.NewCoin("base", 1_000_000))
	assert.ErrorIs(t, err, ErrDenomMismatch)
}

func TestFixAmounts_OverwritesAndAudits(t *testing.T) {
	f := newServiceFixture(t)

	vault, err := f.service.Create(validParams())
	require.NoError(t, err)

	err = f.service.FixAmounts(vault.ID,
		domain.NewCoin("quote", 3_000_000),
		domain.NewCoin("base", 2_900_000),
	)
	require.NoError(t, err)

	stored, err := f.repo.Get(vault.ID)
	require.NoError(t, err)
	assert.Equal(t, "3000000", stored.SwappedAmount.Amount.String())
	assert.Equal(t, "2900000", stored.ReceivedAmount.Amount.String())
}

func TestDeriveModelID(t *testing.T) {
	start := serviceTestTime

	testCases := []struct {
		name     string
		deposit  int64
		interval schedule.Interval
		expected uint8
	}{
		{name: "ten hourly slices", deposit: 10_000_000, interval: schedule.Interval{Kind: schedule.Hourly}, expected: 30},
		{name: "sixty daily slices", deposit: 60_000_000, interval: schedule.Interval{Kind: schedule.Daily}, expected: 55},
		{name: "ninety daily slices", deposit: 90_000_000, interval: schedule.Interval{Kind: schedule.Daily}, expected: 70},
		{name: "a year of weekly slices", deposit: 52_000_000, interval: schedule.Interval{Kind: schedule.Weekly}, expected: 90},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			model := DeriveModelID(start, domain.NewCoin("quote", tc.deposit), math.NewInt(1_000_000), tc.interval)
			assert.Equal(t, tc.expected, model)
		})
	}
}
