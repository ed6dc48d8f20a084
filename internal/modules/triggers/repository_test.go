package triggers

import (
	"testing"
	"time"

	"cosmossdk.io/math"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calculated-finance/calc-go/internal/database"
)

func newTestRepository(t *testing.T) *Repository {
	t.Helper()

	db, err := database.NewInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate())

	return NewRepository(db.Conn(), zerolog.New(nil).Level(zerolog.Disabled))
}

func dec(t *testing.T, s string) math.LegacyDec {
	t.Helper()
	d, err := math.LegacyNewDecFromStr(s)
	require.NoError(t, err)
	return d
}

func TestSaveTime_RoundTrip(t *testing.T) {
	repo := newTestRepository(t)
	target := time.Date(2022, time.May, 1, 11, 0, 0, 0, time.UTC)

	require.NoError(t, repo.SaveTime(TimeTrigger{VaultID: 1, TargetTime: target}))

	trigger, err := repo.Get(1)
	require.NoError(t, err)
	require.NotNil(t, trigger.Time)
	assert.Equal(t, target, trigger.Time.TargetTime)
	assert.Nil(t, trigger.Price)
}

func TestSavePrice_ReplacesTimeTrigger(t *testing.T) {
	repo := newTestRepository(t)
	target := time.Date(2022, time.May, 1, 11, 0, 0, 0, time.UTC)

	require.NoError(t, repo.SaveTime(TimeTrigger{VaultID: 1, TargetTime: target}))
	require.NoError(t, repo.SavePrice(PriceTrigger{
		VaultID:     1,
		PairAddress: "pair-1",
		Direction:   DirectionEqualOrLower,
		TargetPrice: dec(t, "0.95"),
	}))

	trigger, err := repo.Get(1)
	require.NoError(t, err)
	require.NotNil(t, trigger.Price)
	assert.Nil(t, trigger.Time)
	assert.Equal(t, "0.950000000000000000", trigger.Price.TargetPrice.String())
}

func TestGet_NotFound(t *testing.T) {
	repo := newTestRepository(t)

	_, err := repo.Get(42)
	assert.ErrorIs(t, err, ErrTriggerNotFound)
}

func TestDelete_RemovesBothKindsAndIndexEntries(t *testing.T) {
	repo := newTestRepository(t)

	require.NoError(t, repo.SavePrice(PriceTrigger{
		VaultID:     1,
		PairAddress: "pair-1",
		Direction:   DirectionEqualOrHigher,
		TargetPrice: dec(t, "1.5"),
	}))

	ready, err := repo.ReadyAtPrice("pair-1", dec(t, "2.0"))
	require.NoError(t, err)
	require.Len(t, ready, 1)

	require.NoError(t, repo.Delete(1))

	_, err = repo.Get(1)
	assert.ErrorIs(t, err, ErrTriggerNotFound)

	// the (pair, price) index entry is gone too
	ready, err = repo.ReadyAtPrice("pair-1", dec(t, "2.0"))
	require.NoError(t, err)
	assert.Empty(t, ready)
}

func TestDue_ReturnsElapsedTriggersInOrder(t *testing.T) {
	repo := newTestRepository(t)
	now := time.Date(2022, time.May, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, repo.SaveTime(TimeTrigger{VaultID: 1, TargetTime: now.Add(-2 * time.Hour)}))
	require.NoError(t, repo.SaveTime(TimeTrigger{VaultID: 2, TargetTime: now.Add(-time.Hour)}))
	require.NoError(t, repo.SaveTime(TimeTrigger{VaultID: 3, TargetTime: now.Add(time.Hour)}))
	require.NoError(t, repo.SaveTime(TimeTrigger{VaultID: 4, TargetTime: now}))

	due, err := repo.Due(now, 10)
	require.NoError(t, err)
	require.Len(t, due, 3)
	assert.Equal(t, uint64(1), due[0].VaultID)
	assert.Equal(t, uint64(2), due[1].VaultID)
	assert.Equal(t, uint64(4), due[2].VaultID)
}

func TestReadyAtPrice_DirectionalScan(t *testing.T) {
	repo := newTestRepository(t)

	// fire when the price rises to the target
	require.NoError(t, repo.SavePrice(PriceTrigger{
		VaultID: 1, PairAddress: "pair-1",
		Direction: DirectionEqualOrHigher, TargetPrice: dec(t, "1.5"),
	}))
	// fire when the price falls to the target
	require.NoError(t, repo.SavePrice(PriceTrigger{
		VaultID: 2, PairAddress: "pair-1",
		Direction: DirectionEqualOrLower, TargetPrice: dec(t, "0.8"),
	}))
	// other pair, never returned here
	require.NoError(t, repo.SavePrice(PriceTrigger{
		VaultID: 3, PairAddress: "pair-2",
		Direction: DirectionEqualOrHigher, TargetPrice: dec(t, "0.1"),
	}))

	testCases := []struct {
		name     string
		price    string
		expected []uint64
	}{
		{name: "between the targets", price: "1.0", expected: nil},
		{name: "at the higher target", price: "1.5", expected: []uint64{1}},
		{name: "above the higher target", price: "2.0", expected: []uint64{1}},
		{name: "at the lower target", price: "0.8", expected: []uint64{2}},
		{name: "below the lower target", price: "0.5", expected: []uint64{2}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ready, err := repo.ReadyAtPrice("pair-1", dec(t, tc.price))
			require.NoError(t, err)

			var ids []uint64
			for _, trigger := range ready {
				ids = append(ids, trigger.VaultID)
			}
			assert.Equal(t, tc.expected, ids)
		})
	}
}

func TestPriceTrigger_OrderHandleRoundTrip(t *testing.T) {
	repo := newTestRepository(t)
	handle := "order-77"

	require.NoError(t, repo.SavePrice(PriceTrigger{
		VaultID:     1,
		PairAddress: "pair-1",
		Direction:   DirectionEqualOrHigher,
		TargetPrice: dec(t, "1.2"),
		OrderHandle: &handle,
	}))

	trigger, err := repo.Get(1)
	require.NoError(t, err)
	require.NotNil(t, trigger.Price)
	require.NotNil(t, trigger.Price.OrderHandle)
	assert.Equal(t, handle, *trigger.Price.OrderHandle)
}
