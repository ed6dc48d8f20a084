package scheduler

import (
	"errors"

	"cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/calculated-finance/calc-go/internal/domain"
	"github.com/calculated-finance/calc-go/internal/modules/triggers"
	"github.com/calculated-finance/calc-go/internal/modules/vaults"
)

// PairLister enumerates the registered pairs.
type PairLister interface {
	List() ([]domain.Pair, error)
}

// ReadyPriceTriggerLister scans the price-trigger indexes at a price.
type ReadyPriceTriggerLister interface {
	ReadyAtPrice(pairAddress string, current math.LegacyDec) ([]triggers.PriceTrigger, error)
}

// PriceSource serves the current mid-price for a pair. The streamed ticker
// answers when it has a fresh tick; the book query is the fallback.
type PriceSource interface {
	LatestPrice(pairAddress string) (math.LegacyDec, bool)
}

// BookPriceSource is the REST fallback.
type BookPriceSource interface {
	MidPrice(pairAddress string) (math.LegacyDec, error)
}

// PriceTriggerJob executes every price trigger crossed at the current price.
type PriceTriggerJob struct {
	pairs    PairLister
	lister   ReadyPriceTriggerLister
	stream   PriceSource
	book     BookPriceSource
	executor TriggerExecutor
	log      zerolog.Logger
}

// NewPriceTriggerJob creates the price trigger watcher. stream may be nil
// when no ticker stream is configured.
func NewPriceTriggerJob(
	pairs PairLister,
	lister ReadyPriceTriggerLister,
	stream PriceSource,
	book BookPriceSource,
	executor TriggerExecutor,
	log zerolog.Logger,
) *PriceTriggerJob {
	return &PriceTriggerJob{
		pairs:    pairs,
		lister:   lister,
		stream:   stream,
		book:     book,
		executor: executor,
		log:      log.With().Str("job", "price_triggers").Logger(),
	}
}

// Name returns the job name
func (j *PriceTriggerJob) Name() string {
	return "price_triggers"
}

// Run scans every pair's price and executes the triggers it crossed.
func (j *PriceTriggerJob) Run() error {
	pairs, err := j.pairs.List()
	if err != nil {
		return err
	}

	for _, pair := range pairs {
		price, err := j.currentPrice(pair.Address)
		if err != nil {
			j.log.Warn().
				Err(err).
				Str("pair", pair.Address).
				Msg("No price available, skipping pair")
			continue
		}

		ready, err := j.lister.ReadyAtPrice(pair.Address, price)
		if err != nil {
			j.log.Error().
				Err(err).
				Str("pair", pair.Address).
				Msg("Price trigger scan failed")
			continue
		}

		for _, trigger := range ready {
			if err := j.executor.ExecuteTrigger(trigger.VaultID); err != nil {
				if errors.Is(err, vaults.ErrEnginePaused) {
					return nil
				}
				j.log.Error().
					Err(err).
					Uint64("vault_id", trigger.VaultID).
					Msg("Price trigger execution failed")
			}
		}
	}

	return nil
}

func (j *PriceTriggerJob) currentPrice(pairAddress string) (math.LegacyDec, error) {
	if j.stream != nil {
		if price, ok := j.stream.LatestPrice(pairAddress); ok {
			return price, nil
		}
	}
	return j.book.MidPrice(pairAddress)
}
