package vaults

import (
	"database/sql"
	"fmt"
	"time"

	"cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/calculated-finance/calc-go/internal/database"
	"github.com/calculated-finance/calc-go/internal/domain"
	"github.com/calculated-finance/calc-go/internal/events"
	"github.com/calculated-finance/calc-go/internal/modules/triggers"
	"github.com/calculated-finance/calc-go/pkg/schedule"
)

// PairStore resolves venue addresses to registered pairs.
type PairStore interface {
	Get(address string) (domain.Pair, error)
}

// TriggerManager arms and removes the vault's trigger.
type TriggerManager interface {
	ArmTime(tx database.Querier, vaultID uint64, target time.Time) error
	ArmPrice(tx database.Querier, trigger triggers.PriceTrigger) error
	Remove(tx database.Querier, vaultID uint64) error
}

// Bank issues outgoing transfers from the engine account.
type Bank interface {
	Send(to string, coins []domain.Coin) error
}

// Service implements the vault lifecycle operations.
type Service struct {
	repo     *Repository
	fixes    *DataFixRepository
	pairs    PairStore
	triggers TriggerManager
	events   *events.Repository
	bank     Bank
	executor *database.Executor
	paused   bool
	now      func() time.Time
	log      zerolog.Logger
}

// NewService creates a new vault service.
func NewService(
	repo *Repository,
	fixes *DataFixRepository,
	pairs PairStore,
	triggerManager TriggerManager,
	eventRepo *events.Repository,
	bank Bank,
	executor *database.Executor,
	paused bool,
	log zerolog.Logger,
) *Service {
	return &Service{
		repo:     repo,
		fixes:    fixes,
		pairs:    pairs,
		triggers: triggerManager,
		events:   eventRepo,
		bank:     bank,
		executor: executor,
		paused:   paused,
		now:      time.Now,
		log:      log.With().Str("component", "vaults").Logger(),
	}
}

// SetClock overrides the service clock, used by tests.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// CreateParams carries everything needed to open a vault. At most one of
// TargetStartTime and TargetPrice may be set; with neither, the vault starts
// immediately.
type CreateParams struct {
	Owner   string
	Label   string
	Deposit domain.Coin

	SwapAmount  math.Int
	PairAddress string

	TimeInterval         schedule.Interval
	TargetStartTime      *time.Time
	TargetPrice          *math.LegacyDec
	TargetPriceDirection triggers.Direction

	SlippageTolerance    *math.LegacyDec
	MinimumReceiveAmount *math.Int

	Destinations []domain.Destination

	UseRiskWeightedAverage bool
	WeightedScale          *domain.WeightedScaleStrategy
	UsePerformanceAssessment bool
	EscrowLevel            math.LegacyDec
}

// Create validates the parameters, persists the vault and arms its first
// trigger, all in one turn.
func (s *Service) Create(params CreateParams) (*Vault, error) {
	if s.paused {
		return nil, ErrEnginePaused
	}

	now := s.now().UTC().Truncate(time.Second)

	vault, err := s.buildVault(params, now)
	if err != nil {
		return nil, err
	}

	err = s.executor.Turn(func(tx *sql.Tx, height uint64) error {
		repo := s.repo.WithTx(tx)
		eventRepo := s.events.WithTx(tx)

		if _, err := repo.Create(vault); err != nil {
			return err
		}

		if err := eventRepo.Create(vault.ID, now, height, events.VaultCreatedData{}); err != nil {
			return err
		}
		if err := eventRepo.Create(vault.ID, now, height, events.FundsDepositedData{Amount: params.Deposit}); err != nil {
			return err
		}

		if params.TargetPrice != nil {
			return s.triggers.ArmPrice(tx, triggers.PriceTrigger{
				VaultID:     vault.ID,
				PairAddress: vault.PairAddress,
				Direction:   params.TargetPriceDirection,
				TargetPrice: *params.TargetPrice,
			})
		}

		target := now
		if params.TargetStartTime != nil {
			target = params.TargetStartTime.UTC().Truncate(time.Second)
		}
		return s.triggers.ArmTime(tx, vault.ID, target)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Uint64("vault_id", vault.ID).
		Str("owner", vault.Owner).
		Str("deposit", params.Deposit.String()).
		Str("interval", string(vault.TimeInterval.Kind)).
		Msg("Vault created")

	return vault, nil
}

// buildVault runs the full input validation set and assembles the vault.
func (s *Service) buildVault(params CreateParams, now time.Time) (*Vault, error) {
	if len(params.Label) > MaxLabelLength {
		return nil, fmt.Errorf("label must be no longer than %d characters", MaxLabelLength)
	}
	if err := params.TimeInterval.Validate(); err != nil {
		return nil, err
	}
	if params.SwapAmount.IsNil() || params.SwapAmount.LTE(MinimumSwapAmount) {
		return nil, fmt.Errorf("swap amount must be greater than %s", MinimumSwapAmount)
	}
	if params.Deposit.IsZero() {
		return nil, fmt.Errorf("deposit must carry funds")
	}

	pair, err := s.pairs.Get(params.PairAddress)
	if err != nil {
		return nil, ErrUnknownPair
	}
	if !pair.HasDenom(params.Deposit.Denom) {
		return nil, ErrDenomMismatch
	}

	if params.TargetStartTime != nil && params.TargetPrice != nil {
		return nil, fmt.Errorf("cannot set both a target start time and a target price")
	}
	if params.TargetStartTime != nil && params.TargetStartTime.Before(now) {
		return nil, ErrStartTimeInPast
	}
	if params.TargetPrice != nil {
		switch params.TargetPriceDirection {
		case triggers.DirectionEqualOrHigher, triggers.DirectionEqualOrLower:
		default:
			return nil, fmt.Errorf("unknown target price direction %q", params.TargetPriceDirection)
		}
	}

	destinations := params.Destinations
	if len(destinations) == 0 {
		destinations = []domain.Destination{{
			Address:    params.Owner,
			Allocation: math.LegacyOneDec(),
			Action:     domain.DestinationActionSend,
		}}
	}
	if err := ValidateDestinations(destinations); err != nil {
		return nil, err
	}

	escrowLevel := params.EscrowLevel
	if escrowLevel.IsNil() {
		escrowLevel = math.LegacyZeroDec()
	}

	var assessment *domain.CompareToStandardDca
	if params.UsePerformanceAssessment {
		assessment = &domain.CompareToStandardDca{
			SwappedAmount:  domain.ZeroCoin(params.Deposit.Denom),
			ReceivedAmount: domain.ZeroCoin(pair.OtherDenom(params.Deposit.Denom)),
		}
	}

	var adjustment domain.SwapAdjustmentStrategy
	switch {
	case params.UseRiskWeightedAverage && params.WeightedScale != nil:
		return nil, fmt.Errorf("cannot combine risk weighted average and weighted scale adjustments")
	case params.UseRiskWeightedAverage:
		position := domain.PositionTypeExit
		if params.Deposit.Denom == pair.QuoteDenom {
			position = domain.PositionTypeEnter
		}
		adjustment = domain.RiskWeightedAverageStrategy{
			ModelID:      DeriveModelID(now, params.Deposit, params.SwapAmount, params.TimeInterval),
			BaseDenom:    pair.BaseDenom,
			PositionType: position,
		}
	case params.WeightedScale != nil:
		adjustment = *params.WeightedScale
	}

	if err := ValidateStrategies(adjustment, assessment, escrowLevel); err != nil {
		return nil, err
	}

	status := domain.VaultStatusActive
	if params.TargetPrice != nil || (params.TargetStartTime != nil && params.TargetStartTime.After(now)) {
		status = domain.VaultStatusScheduled
	}

	return &Vault{
		Owner:                  params.Owner,
		Label:                  params.Label,
		CreatedAt:              now,
		Status:                 status,
		Balance:                params.Deposit,
		DepositedAmount:        params.Deposit,
		SwapAmount:             params.SwapAmount,
		TargetDenom:            pair.OtherDenom(params.Deposit.Denom),
		PairAddress:            pair.Address,
		TimeInterval:           params.TimeInterval,
		SlippageTolerance:      params.SlippageTolerance,
		MinimumReceiveAmount:   params.MinimumReceiveAmount,
		Destinations:           destinations,
		SwappedAmount:          domain.ZeroCoin(params.Deposit.Denom),
		ReceivedAmount:         domain.ZeroCoin(pair.OtherDenom(params.Deposit.Denom)),
		EscrowedAmount:         domain.ZeroCoin(pair.OtherDenom(params.Deposit.Denom)),
		EscrowLevel:            escrowLevel,
		SwapAdjustmentStrategy: adjustment,
		PerformanceAssessment:  assessment,
	}, nil
}

// Deposit tops up a vault's balance. An inactive vault whose new balance
// covers at least one slice is reactivated on the time cadence.
func (s *Service) Deposit(vaultID uint64, sender string, amount domain.Coin) (*Vault, error) {
	if s.paused {
		return nil, ErrEnginePaused
	}

	now := s.now().UTC().Truncate(time.Second)

	var updated *Vault
	err := s.executor.Turn(func(tx *sql.Tx, height uint64) error {
		repo := s.repo.WithTx(tx)

		vault, err := repo.Get(vaultID)
		if err != nil {
			return err
		}
		if vault.IsCancelled() {
			return ErrVaultCancelled
		}
		if vault.Owner != sender {
			return ErrUnauthorised
		}
		if amount.Denom != vault.SwapDenom() {
			return ErrDenomMismatch
		}
		if amount.IsZero() {
			return fmt.Errorf("deposit must carry funds")
		}

		vault.Balance = vault.Balance.Add(amount.Amount)
		vault.DepositedAmount = vault.DepositedAmount.Add(amount.Amount)

		if vault.Status == domain.VaultStatusInactive && vault.Balance.Amount.GTE(vault.SwapAmount) {
			vault.Status = domain.VaultStatusActive
			if err := s.triggers.ArmTime(tx, vault.ID, now); err != nil {
				return err
			}
		}

		if err := repo.Update(vault); err != nil {
			return err
		}
		if err := s.events.WithTx(tx).Create(vault.ID, now, height, events.FundsDepositedData{Amount: amount}); err != nil {
			return err
		}

		updated = vault
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Uint64("vault_id", vaultID).
		Str("amount", amount.String()).
		Msg("Funds deposited")

	return updated, nil
}

// Cancel refunds the undeployed balance to the owner, removes the trigger
// and retires the vault. Statistics and the event log are preserved.
func (s *Service) Cancel(vaultID uint64, sender string) error {
	if s.paused {
		return ErrEnginePaused
	}

	var refund domain.Coin
	err := s.executor.Turn(func(tx *sql.Tx, height uint64) error {
		repo := s.repo.WithTx(tx)

		vault, err := repo.Get(vaultID)
		if err != nil {
			return err
		}
		if vault.IsCancelled() {
			return ErrVaultCancelled
		}
		if vault.Owner != sender {
			return ErrUnauthorised
		}

		if err := s.triggers.Remove(tx, vault.ID); err != nil {
			return err
		}

		refund = vault.Balance
		vault.Balance = domain.ZeroCoin(vault.SwapDenom())
		vault.Status = domain.VaultStatusCancelled

		return repo.Update(vault)
	})
	if err != nil {
		return err
	}

	if !refund.IsZero() {
		if err := s.bank.Send(sender, []domain.Coin{refund}); err != nil {
			return fmt.Errorf("failed to refund vault %d balance: %w", vaultID, err)
		}
	}

	s.log.Info().
		Uint64("vault_id", vaultID).
		Str("refund", refund.String()).
		Msg("Vault cancelled")

	return nil
}

// FixAmounts is the operator affordance overwriting a vault's running
// totals, leaving an audit record.
func (s *Service) FixAmounts(vaultID uint64, correctedSwapped, correctedReceived domain.Coin) error {
	now := s.now().UTC().Truncate(time.Second)

	err := s.executor.Turn(func(tx *sql.Tx, height uint64) error {
		repo := s.repo.WithTx(tx)

		vault, err := repo.Get(vaultID)
		if err != nil {
			return err
		}
		if correctedSwapped.Denom != vault.SwapDenom() || correctedReceived.Denom != vault.TargetDenom {
			return ErrIncompatibleFixes
		}

		fix := DataFix{
			ResourceID:  vault.ID,
			Timestamp:   now,
			BlockHeight: height,
			OldSwapped:  vault.SwappedAmount,
			NewSwapped:  correctedSwapped,
			OldReceived: vault.ReceivedAmount,
			NewReceived: correctedReceived,
		}

		vault.SwappedAmount = correctedSwapped
		vault.ReceivedAmount = correctedReceived

		if err := repo.Update(vault); err != nil {
			return err
		}
		return s.fixes.WithTx(tx).Create(fix)
	})
	if err != nil {
		return err
	}

	s.log.Warn().
		Uint64("vault_id", vaultID).
		Str("swapped", correctedSwapped.String()).
		Str("received", correctedReceived.String()).
		Msg("Vault amounts fixed")

	return nil
}

// Get retrieves a vault by id.
func (s *Service) Get(vaultID uint64) (*Vault, error) {
	return s.repo.Get(vaultID)
}

// ListByOwner returns a page of the owner's vaults.
func (s *Service) ListByOwner(owner string, limit, offset int) ([]*Vault, error) {
	return s.repo.ListByOwner(owner, limit, offset)
}
