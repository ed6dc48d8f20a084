package events

import (
	"testing"
	"time"

	"cosmossdk.io/math"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calculated-finance/calc-go/internal/database"
	"github.com/calculated-finance/calc-go/internal/domain"
)

func newTestRepository(t *testing.T) *Repository {
	t.Helper()

	db, err := database.NewInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate())

	return NewRepository(db.Conn(), zerolog.New(nil).Level(zerolog.Disabled))
}

func TestCreate_SequenceIsDensePerVault(t *testing.T) {
	repo := newTestRepository(t)
	now := time.Date(2022, time.May, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Create(1, now, 1, VaultCreatedData{}))
	require.NoError(t, repo.Create(1, now, 1, FundsDepositedData{Amount: domain.NewCoin("quote", 100)}))
	require.NoError(t, repo.Create(2, now, 2, VaultCreatedData{}))
	require.NoError(t, repo.Create(1, now, 3, ExecutionSkippedData{Reason: SkipReasonUnknownFailure}))

	vaultOne, err := repo.ListByVault(1, 10, 0)
	require.NoError(t, err)
	require.Len(t, vaultOne, 3)
	for i, event := range vaultOne {
		assert.Equal(t, uint64(i+1), event.Seq)
	}

	vaultTwo, err := repo.ListByVault(2, 10, 0)
	require.NoError(t, err)
	require.Len(t, vaultTwo, 1)
	assert.Equal(t, uint64(1), vaultTwo[0].Seq)
}

func TestListByVault_DecodesTypedPayloads(t *testing.T) {
	repo := newTestRepository(t)
	now := time.Date(2022, time.May, 1, 10, 0, 0, 0, time.UTC)
	price := math.LegacyMustNewDecFromStr("1.5")

	require.NoError(t, repo.Create(7, now, 9, ExecutionTriggeredData{AssetPrice: price}))
	require.NoError(t, repo.Create(7, now, 9, ExecutionCompletedData{
		Sent:     domain.NewCoin("quote", 1_000_000),
		Received: domain.NewCoin("base", 666_666),
		Fee:      domain.NewCoin("base", 11_000),
	}))
	require.NoError(t, repo.Create(7, now, 10, ExecutionSkippedData{
		Reason: SkipReasonPriceThresholdExceeded,
		Price:  &price,
	}))
	require.NoError(t, repo.Create(7, now, 11, PostExecutionActionFailedData{
		Callback: []byte(`{"delegate":{}}`),
		Funds:    []domain.Coin{domain.NewCoin("base", 500)},
	}))

	result, err := repo.ListByVault(7, 10, 0)
	require.NoError(t, err)
	require.Len(t, result, 4)

	triggered, ok := result[0].Data.(ExecutionTriggeredData)
	require.True(t, ok)
	assert.Equal(t, price.String(), triggered.AssetPrice.String())
	assert.Equal(t, uint64(9), result[0].BlockHeight)
	assert.Equal(t, now, result[0].Timestamp)

	completed, ok := result[1].Data.(ExecutionCompletedData)
	require.True(t, ok)
	assert.Equal(t, "1000000", completed.Sent.Amount.String())
	assert.Equal(t, "base", completed.Received.Denom)

	skipped, ok := result[2].Data.(ExecutionSkippedData)
	require.True(t, ok)
	assert.Equal(t, SkipReasonPriceThresholdExceeded, skipped.Reason)
	require.NotNil(t, skipped.Price)

	failed, ok := result[3].Data.(PostExecutionActionFailedData)
	require.True(t, ok)
	require.Len(t, failed.Funds, 1)
	assert.Equal(t, "500", failed.Funds[0].Amount.String())
}

func TestListByVault_Pagination(t *testing.T) {
	repo := newTestRepository(t)
	now := time.Date(2022, time.May, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		require.NoError(t, repo.Create(1, now, uint64(i+1), VaultCreatedData{}))
	}

	page, err := repo.ListByVault(1, 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, uint64(3), page[0].Seq)
	assert.Equal(t, uint64(4), page[1].Seq)
}
