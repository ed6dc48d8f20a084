package execution

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"cosmossdk.io/math"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/calculated-finance/calc-go/internal/database"
	"github.com/calculated-finance/calc-go/internal/domain"
	"github.com/calculated-finance/calc-go/internal/events"
	"github.com/calculated-finance/calc-go/internal/modules/dcaplus"
	"github.com/calculated-finance/calc-go/internal/modules/fees"
	"github.com/calculated-finance/calc-go/internal/modules/pairs"
	"github.com/calculated-finance/calc-go/internal/modules/triggers"
	"github.com/calculated-finance/calc-go/internal/modules/vaults"
	"github.com/calculated-finance/calc-go/pkg/schedule"
)

const (
	denomQuote  = "quote"
	denomBase   = "base"
	pairAddress = "pair-1"
	owner       = "owner-1"
	collector   = "fee-collector"
)

var testTime = time.Date(2022, time.May, 1, 10, 0, 0, 0, time.UTC)

// fakeBank is the engine's settlement account: swaps settle into it, outgoing
// transfers drain it.
type fakeBank struct {
	mu        sync.Mutex
	balances  map[string]math.Int
	transfers []struct {
		To    string
		Coins []domain.Coin
	}
}

func newFakeBank() *fakeBank {
	return &fakeBank{balances: map[string]math.Int{}}
}

func (b *fakeBank) Balance(denom string) (math.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	balance, ok := b.balances[denom]
	if !ok {
		return math.ZeroInt(), nil
	}
	return balance, nil
}

func (b *fakeBank) Send(to string, coins []domain.Coin) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, coin := range coins {
		balance, ok := b.balances[coin.Denom]
		if !ok {
			balance = math.ZeroInt()
		}
		b.balances[coin.Denom] = balance.Sub(coin.Amount)
	}
	b.transfers = append(b.transfers, struct {
		To    string
		Coins []domain.Coin
	}{To: to, Coins: coins})
	return nil
}

func (b *fakeBank) credit(denom string, amount int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	balance, ok := b.balances[denom]
	if !ok {
		balance = math.ZeroInt()
	}
	b.balances[denom] = balance.Add(math.NewInt(amount))
}

func (b *fakeBank) sentTo(to string) []domain.Coin {
	b.mu.Lock()
	defer b.mu.Unlock()
	var result []domain.Coin
	for _, t := range b.transfers {
		if t.To == to {
			result = append(result, t.Coins...)
		}
	}
	return result
}

// fakeVenue serves a flat price and settles swaps into the fake bank at that
// price. swapErr makes every swap fail instead.
type fakeVenue struct {
	bank    *fakeBank
	price   math.LegacyDec
	swapErr error
	swaps   int
}

func newFakeVenue(bank *fakeBank, price string) *fakeVenue {
	return &fakeVenue{bank: bank, price: math.LegacyMustNewDecFromStr(price)}
}

func (v *fakeVenue) MidPrice(string) (math.LegacyDec, error) {
	return v.price, nil
}

func (v *fakeVenue) SwapPrice(_ string, _ domain.Coin) (math.LegacyDec, error) {
	return v.price, nil
}

func (v *fakeVenue) ExecuteSwap(_ string, swap domain.Coin, _, _ *math.LegacyDec) error {
	if v.swapErr != nil {
		return v.swapErr
	}
	v.swaps++

	received := math.LegacyNewDecFromInt(swap.Amount).Quo(v.price).TruncateInt()

	v.bank.mu.Lock()
	defer v.bank.mu.Unlock()
	v.bank.balances[swap.Denom] = v.bank.balances[swap.Denom].Sub(swap.Amount)
	other := denomBase
	if swap.Denom == denomBase {
		other = denomQuote
	}
	balance, ok := v.bank.balances[other]
	if !ok {
		balance = math.ZeroInt()
	}
	v.bank.balances[other] = balance.Add(received)
	return nil
}

// fakeOracle serves a fixed multiplier.
type fakeOracle struct {
	multiplier math.LegacyDec
	err        error
}

func (o *fakeOracle) Multiplier(domain.PositionType, uint8, time.Time) (math.LegacyDec, error) {
	if o.err != nil {
		return math.LegacyDec{}, o.err
	}
	return o.multiplier, nil
}

// fakeRouter records automation invocations and optionally fails them.
type fakeRouter struct {
	invokeErr error
	invoked   []string
}

func (r *fakeRouter) Invoke(address string, _ []byte, _ []domain.Coin) error {
	r.invoked = append(r.invoked, address)
	return r.invokeErr
}

var errSlippageExceeded = errors.New("swap rejected: max spread assertion failed")

func isSlippageError(err error) bool {
	return err != nil && errors.Is(err, errSlippageExceeded)
}

// harness wires a full pipeline against in-memory storage and fakes.
type harness struct {
	t *testing.T

	db        *database.DB
	executor  *database.Executor
	bank      *fakeBank
	venue     *fakeVenue
	oracle    *fakeOracle
	router    *fakeRouter
	vaultRepo *vaults.Repository
	trigRepo  *triggers.Repository
	trigSvc   *triggers.Service
	eventRepo *events.Repository
	queueRepo *AutomationQueueRepository
	cacheRepo *SwapCacheRepository
	service   *Service
	vaultSvc  *vaults.Service
	now       time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := zerolog.New(nil).Level(zerolog.Disabled)

	db, err := database.NewInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate())

	conn := db.Conn()
	bank := newFakeBank()
	venue := newFakeVenue(bank, "1.0")
	oracle := &fakeOracle{multiplier: math.LegacyOneDec()}
	router := &fakeRouter{}

	executor := database.NewExecutor(db)
	vaultRepo := vaults.NewRepository(conn, log)
	fixRepo := vaults.NewDataFixRepository(conn, log)
	pairRepo := pairs.NewRepository(conn, log)
	trigRepo := triggers.NewRepository(conn, log)
	eventRepo := events.NewRepository(conn, log)
	cacheRepo := NewSwapCacheRepository(conn, log)
	queueRepo := NewAutomationQueueRepository(conn, log)
	customFees := fees.NewCustomFeeRepository(conn, log)

	require.NoError(t, pairRepo.Create(domain.Pair{
		Address:    pairAddress,
		BaseDenom:  denomBase,
		QuoteDenom: denomQuote,
	}))

	feeParams := fees.Params{
		DefaultSwapFeeRate:       math.LegacyMustNewDecFromStr("0.0165"),
		WeightedScaleSwapFeeRate: math.LegacyMustNewDecFromStr("0.01"),
		AutomationFeeRate:        math.LegacyMustNewDecFromStr("0.0075"),
		PerformanceFeeRate:       math.LegacyMustNewDecFromStr("0.2"),
		Collectors:               []domain.FeeCollector{{Address: collector, Allocation: math.LegacyOneDec()}},
	}

	trigSvc := triggers.NewService(trigRepo, venue, noopRetractor{}, log)
	dcaplusSvc := dcaplus.NewService(oracle, venue, log)
	vaultSvc := vaults.NewService(vaultRepo, fixRepo, pairRepo, trigSvc, eventRepo, bank, executor, false, log)

	service := NewService(
		vaultRepo, trigSvc, eventRepo, cacheRepo, queueRepo, customFees,
		feeParams, dcaplusSvc, venue, bank, router, executor, false,
		isSlippageError, log,
	)

	h := &harness{
		t:         t,
		db:        db,
		executor:  executor,
		bank:      bank,
		venue:     venue,
		oracle:    oracle,
		router:    router,
		vaultRepo: vaultRepo,
		trigRepo:  trigRepo,
		trigSvc:   trigSvc,
		eventRepo: eventRepo,
		queueRepo: queueRepo,
		cacheRepo: cacheRepo,
		service:   service,
		vaultSvc:  vaultSvc,
		now:       testTime,
	}

	service.SetClock(func() time.Time { return h.now })
	vaultSvc.SetClock(func() time.Time { return h.now })

	return h
}

type noopRetractor struct{}

func (noopRetractor) RetractOrder(string, string) error { return nil }

// createVault opens a plain hourly vault funded with deposit quote and
// credits the deposit to the engine account.
func (h *harness) createVault(deposit, swapAmount int64, mutate func(*vaults.CreateParams)) *vaults.Vault {
	h.t.Helper()

	params := vaults.CreateParams{
		Owner:        owner,
		Deposit:      domain.NewCoin(denomQuote, deposit),
		SwapAmount:   math.NewInt(swapAmount),
		PairAddress:  pairAddress,
		TimeInterval: schedule.Interval{Kind: schedule.Hourly},
	}
	if mutate != nil {
		mutate(&params)
	}

	vault, err := h.vaultSvc.Create(params)
	require.NoError(h.t, err)

	h.bank.credit(params.Deposit.Denom, params.Deposit.Amount.Int64())
	return vault
}

func (h *harness) vault(id uint64) *vaults.Vault {
	h.t.Helper()
	vault, err := h.vaultRepo.Get(id)
	require.NoError(h.t, err)
	return vault
}

func (h *harness) events(vaultID uint64) []events.Event {
	h.t.Helper()
	result, err := h.eventRepo.ListByVault(vaultID, 100, 0)
	require.NoError(h.t, err)
	return result
}

func (h *harness) lastEvent(vaultID uint64) events.Event {
	h.t.Helper()
	result := h.events(vaultID)
	require.NotEmpty(h.t, result)
	return result[len(result)-1]
}

func (h *harness) trigger(vaultID uint64) triggers.Trigger {
	h.t.Helper()
	trigger, err := h.trigRepo.Get(vaultID)
	require.NoError(h.t, err)
	return trigger
}

func (h *harness) requireNoTrigger(vaultID uint64) {
	h.t.Helper()
	_, err := h.trigRepo.Get(vaultID)
	require.ErrorIs(h.t, err, triggers.ErrTriggerNotFound)
}

func coinAmount(t *testing.T, coins []domain.Coin, denom string) math.Int {
	t.Helper()
	total := math.ZeroInt()
	for _, coin := range coins {
		if coin.Denom == denom {
			total = total.Add(coin.Amount)
		}
	}
	return total
}

func requireInt(t *testing.T, expected int64, actual math.Int, msgAndArgs ...any) {
	t.Helper()
	require.Equal(t, fmt.Sprintf("%d", expected), actual.String(), msgAndArgs...)
}
