package triggers

import (
	"fmt"
	"time"

	"cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/calculated-finance/calc-go/internal/database"
	"github.com/calculated-finance/calc-go/pkg/schedule"
)

// PriceQuerier provides the venue's current mid-price for a pair.
type PriceQuerier interface {
	MidPrice(pairAddress string) (math.LegacyDec, error)
}

// OrderRetractor withdraws a live venue limit order.
type OrderRetractor interface {
	RetractOrder(pairAddress, orderHandle string) error
}

// Service coordinates trigger arming, readiness and removal.
type Service struct {
	repo      *Repository
	venue     PriceQuerier
	retractor OrderRetractor
	log       zerolog.Logger
}

// NewService creates a new trigger service.
func NewService(repo *Repository, venue PriceQuerier, retractor OrderRetractor, log zerolog.Logger) *Service {
	return &Service{
		repo:      repo,
		venue:     venue,
		retractor: retractor,
		log:       log.With().Str("component", "triggers").Logger(),
	}
}

// ArmTime writes a time trigger for the vault inside the current turn.
func (s *Service) ArmTime(tx database.Querier, vaultID uint64, target time.Time) error {
	if err := s.repo.WithTx(tx).SaveTime(TimeTrigger{VaultID: vaultID, TargetTime: target}); err != nil {
		return err
	}

	s.log.Debug().
		Uint64("vault_id", vaultID).
		Time("target", target).
		Msg("Time trigger armed")

	return nil
}

// ArmPrice writes a price trigger for the vault inside the current turn.
func (s *Service) ArmPrice(tx database.Querier, trigger PriceTrigger) error {
	if err := s.repo.WithTx(tx).SavePrice(trigger); err != nil {
		return err
	}

	s.log.Debug().
		Uint64("vault_id", trigger.VaultID).
		Str("direction", string(trigger.Direction)).
		Str("target_price", trigger.TargetPrice.String()).
		Msg("Price trigger armed")

	return nil
}

// Get returns the vault's trigger.
func (s *Service) Get(tx database.Querier, vaultID uint64) (Trigger, error) {
	return s.repo.WithTx(tx).Get(vaultID)
}

// Remove deletes the vault's trigger. A live venue limit order backing a
// price trigger is retracted first.
func (s *Service) Remove(tx database.Querier, vaultID uint64) error {
	repo := s.repo.WithTx(tx)

	trigger, err := repo.Get(vaultID)
	if err == ErrTriggerNotFound {
		return nil
	}
	if err != nil {
		return err
	}

	if trigger.Price != nil && trigger.Price.OrderHandle != nil {
		if err := s.retractor.RetractOrder(trigger.Price.PairAddress, *trigger.Price.OrderHandle); err != nil {
			return fmt.Errorf("failed to retract limit order for vault %d: %w", vaultID, err)
		}
	}

	return repo.Delete(vaultID)
}

// AssertReady validates that the trigger's condition holds at now. For a
// ready price trigger it returns the observed price; the caller consumes the
// trigger and re-arms on the time cadence.
func (s *Service) AssertReady(trigger Trigger, now time.Time) (*math.LegacyDec, error) {
	switch {
	case trigger.Time != nil:
		if !schedule.TargetTimeElapsed(now, trigger.Time.TargetTime) {
			return nil, ErrTriggerNotReady
		}
		return nil, nil

	case trigger.Price != nil:
		current, err := s.venue.MidPrice(trigger.Price.PairAddress)
		if err != nil {
			return nil, fmt.Errorf("failed to query current price: %w", err)
		}
		if !trigger.Price.Ready(current) {
			return nil, ErrPriceNotReached
		}
		return &current, nil

	default:
		return nil, ErrTriggerNotFound
	}
}
