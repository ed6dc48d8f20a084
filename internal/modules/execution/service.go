// Package execution implements the swap execution pipeline.
//
// One execution is a two-phase protocol. The request phase validates the
// trigger, applies the price guards, captures the engine's balances into the
// single-slot swap cache and commits before the swap is dispatched. The
// venue always reports back, and the reply phase reconciles what actually
// happened purely from the balance deltas, takes fees, escrows, fans out the
// proceeds and re-arms or retires the trigger. Skips and failures never
// escape the reply turn; they are observable only through the event log.
package execution

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/calculated-finance/calc-go/internal/database"
	"github.com/calculated-finance/calc-go/internal/domain"
	"github.com/calculated-finance/calc-go/internal/events"
	"github.com/calculated-finance/calc-go/internal/modules/dcaplus"
	"github.com/calculated-finance/calc-go/internal/modules/fees"
	"github.com/calculated-finance/calc-go/internal/modules/triggers"
	"github.com/calculated-finance/calc-go/internal/modules/vaults"
	"github.com/calculated-finance/calc-go/pkg/schedule"
)

// ErrVaultNotExecutable is returned when the vault is not in an executable
// status.
var ErrVaultNotExecutable = errors.New("vault is not executable")

// Venue is the order-book side of the pipeline.
type Venue interface {
	MidPrice(pairAddress string) (math.LegacyDec, error)
	SwapPrice(pairAddress string, swap domain.Coin) (math.LegacyDec, error)
	ExecuteSwap(pairAddress string, swap domain.Coin, beliefPrice, maxSpread *math.LegacyDec) error
}

// Bank is the engine's settlement account.
type Bank interface {
	Balance(denom string) (math.Int, error)
	Send(to string, coins []domain.Coin) error
}

// AutomationInvoker dispatches automation callbacks.
type AutomationInvoker interface {
	Invoke(address string, callback []byte, funds []domain.Coin) error
}

// TriggerManager is the execution pipeline's view of the trigger store.
type TriggerManager interface {
	Get(tx database.Querier, vaultID uint64) (triggers.Trigger, error)
	ArmTime(tx database.Querier, vaultID uint64, target time.Time) error
	Remove(tx database.Querier, vaultID uint64) error
	AssertReady(trigger triggers.Trigger, now time.Time) (*math.LegacyDec, error)
}

// Service drives the execution pipeline.
type Service struct {
	vaultRepo  *vaults.Repository
	triggers   TriggerManager
	eventRepo  *events.Repository
	swapCache  *SwapCacheRepository
	queue      *AutomationQueueRepository
	customFees *fees.CustomFeeRepository
	feeParams  fees.Params
	dcaplus    *dcaplus.Service
	venue      Venue
	bank       Bank
	router     AutomationInvoker
	executor   *database.Executor
	paused     bool
	isSlippage func(error) bool
	now        func() time.Time
	log        zerolog.Logger

	// dispatchMu keeps at most one swap in flight, the single-slot cache
	// invariant of the runtime.
	dispatchMu sync.Mutex
}

// NewService creates a new execution service.
func NewService(
	vaultRepo *vaults.Repository,
	triggerManager TriggerManager,
	eventRepo *events.Repository,
	swapCache *SwapCacheRepository,
	queue *AutomationQueueRepository,
	customFees *fees.CustomFeeRepository,
	feeParams fees.Params,
	dcaplusService *dcaplus.Service,
	venueClient Venue,
	bank Bank,
	router AutomationInvoker,
	executor *database.Executor,
	paused bool,
	isSlippage func(error) bool,
	log zerolog.Logger,
) *Service {
	return &Service{
		vaultRepo:  vaultRepo,
		triggers:   triggerManager,
		eventRepo:  eventRepo,
		swapCache:  swapCache,
		queue:      queue,
		customFees: customFees,
		feeParams:  feeParams,
		dcaplus:    dcaplusService,
		venue:      venueClient,
		bank:       bank,
		router:     router,
		executor:   executor,
		paused:     paused,
		isSlippage: isSlippage,
		now:        time.Now,
		log:        log.With().Str("component", "execution").Logger(),
	}
}

// SetClock overrides the service clock, used by tests.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// swapDispatch is the request phase's instruction to the venue.
type swapDispatch struct {
	VaultID     uint64
	PairAddress string
	Swap        domain.Coin
	BeliefPrice math.LegacyDec
	MaxSpread   *math.LegacyDec
}

// transfer is one outgoing bank message, issued after the turn commits.
type transfer struct {
	To    string
	Coins []domain.Coin
}

// automationDispatch is one callback to fire after the turn commits.
type automationDispatch struct {
	VaultID  uint64
	Address  string
	Callback []byte
	Funds    []domain.Coin
}

// effects are the outgoing messages a committed turn produced.
type effects struct {
	Transfers      []transfer
	Automations    []automationDispatch
	DisburseEscrow bool
	VaultID        uint64
}

// ExecuteTrigger is the scheduler's entry point: validate readiness, run the
// request phase, dispatch the swap, and feed the venue's reply back through
// the reply phase.
func (s *Service) ExecuteTrigger(vaultID uint64) error {
	if s.paused {
		return vaults.ErrEnginePaused
	}

	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	now := s.now().UTC().Truncate(time.Second)

	var (
		dispatch *swapDispatch
		result   effects
	)
	err := s.executor.Turn(func(tx *sql.Tx, height uint64) error {
		d, e, err := s.requestPhase(tx, height, vaultID, now)
		dispatch, result = d, e
		return err
	})
	if err != nil {
		return err
	}
	if dispatch == nil {
		// guarded skip or shadow-only period: no swap was dispatched
		s.applyEffects(result)
		return nil
	}

	swapErr := s.venue.ExecuteSwap(dispatch.PairAddress, dispatch.Swap, &dispatch.BeliefPrice, dispatch.MaxSpread)

	return s.handleSwapReply(swapErr)
}

// requestPhase runs inside one turn. It returns a dispatch when a swap
// should be sent, nil when the execution was skipped by a guard or only the
// shadow had work left.
func (s *Service) requestPhase(tx *sql.Tx, height uint64, vaultID uint64, now time.Time) (*swapDispatch, effects, error) {
	vaultRepo := s.vaultRepo.WithTx(tx)
	eventRepo := s.eventRepo.WithTx(tx)

	trigger, err := s.triggers.Get(tx, vaultID)
	if err != nil {
		return nil, effects{}, err
	}

	vault, err := vaultRepo.Get(vaultID)
	if err != nil {
		return nil, effects{}, err
	}
	if vault.IsCancelled() {
		return nil, effects{}, vaults.ErrVaultCancelled
	}

	// An inactive vault with an unfinished shadow keeps its cadence for
	// shadow-only periods.
	shadowOnly := vault.Status == domain.VaultStatusInactive && !vault.ShadowBalance().IsZero()
	if vault.Status != domain.VaultStatusScheduled && vault.Status != domain.VaultStatusActive && !shadowOnly {
		return nil, effects{}, ErrVaultNotExecutable
	}

	if _, err := s.triggers.AssertReady(trigger, now); err != nil {
		return nil, effects{}, err
	}

	// A fired price trigger is consumed here; subsequent executions follow
	// the vault's time cadence anchored at this instant.
	anchor := now
	if trigger.Time != nil {
		anchor = trigger.Time.TargetTime
	} else {
		if err := s.triggers.ArmTime(tx, vaultID, now); err != nil {
			return nil, effects{}, err
		}
	}

	slice := s.dcaplus.SwapAmount(vault, now)

	pricingSlice := slice
	if pricingSlice.IsZero() {
		pricingSlice = domain.Coin{Denom: vault.SwapDenom(), Amount: vault.SwapAmount}
	}
	beliefPrice, err := s.venue.SwapPrice(vault.PairAddress, pricingSlice)
	if err != nil {
		return nil, effects{}, fmt.Errorf("failed to query belief price: %w", err)
	}

	if err := eventRepo.Create(vault.ID, now, height, events.ExecutionTriggeredData{AssetPrice: beliefPrice}); err != nil {
		return nil, effects{}, err
	}

	// The shadow applies its own guards and fee model and only touches the
	// vault's shadow counters.
	if vault.PerformanceAssessment != nil {
		shadowSwapRate, shadowAutomationRate, err := s.standardFeeRates(tx, vault)
		if err != nil {
			return nil, effects{}, err
		}
		if err := s.dcaplus.Simulate(vault, shadowSwapRate, shadowAutomationRate, beliefPrice, eventRepo, now, height); err != nil {
			return nil, effects{}, err
		}
	}

	if shadowOnly {
		result := effects{VaultID: vault.ID}

		if vault.ShouldNotContinue() {
			if err := s.triggers.Remove(tx, vault.ID); err != nil {
				return nil, effects{}, err
			}
			if !vault.EscrowedAmount.IsZero() {
				result.DisburseEscrow = true
			}
		} else {
			if err := s.triggers.ArmTime(tx, vaultID, schedule.NextTargetTime(now, anchor, vault.TimeInterval)); err != nil {
				return nil, effects{}, err
			}
		}

		if err := vaultRepo.Update(vault); err != nil {
			return nil, effects{}, err
		}
		return nil, result, nil
	}

	if fees.PriceThresholdExceeded(slice.Amount, vault.MinimumReceiveAmount, beliefPrice) {
		price := beliefPrice
		if err := eventRepo.Create(vault.ID, now, height, events.ExecutionSkippedData{
			Reason: events.SkipReasonPriceThresholdExceeded,
			Price:  &price,
		}); err != nil {
			return nil, effects{}, err
		}

		if err := s.triggers.ArmTime(tx, vaultID, schedule.NextTargetTime(now, anchor, vault.TimeInterval)); err != nil {
			return nil, effects{}, err
		}

		if err := vaultRepo.Update(vault); err != nil {
			return nil, effects{}, err
		}

		s.log.Info().
			Uint64("vault_id", vault.ID).
			Str("belief_price", beliefPrice.String()).
			Msg("Execution skipped, price threshold exceeded")

		return nil, effects{}, nil
	}

	if vault.StartedAt == nil {
		started := now
		vault.StartedAt = &started
	}

	swapBalance, err := s.bank.Balance(vault.SwapDenom())
	if err != nil {
		return nil, effects{}, fmt.Errorf("failed to snapshot %s balance: %w", vault.SwapDenom(), err)
	}
	receiveBalance, err := s.bank.Balance(vault.TargetDenom)
	if err != nil {
		return nil, effects{}, fmt.Errorf("failed to snapshot %s balance: %w", vault.TargetDenom, err)
	}

	if err := s.swapCache.WithTx(tx).Save(SwapCache{
		VaultID:             vault.ID,
		SwapDenomBalance:    domain.Coin{Denom: vault.SwapDenom(), Amount: swapBalance},
		ReceiveDenomBalance: domain.Coin{Denom: vault.TargetDenom, Amount: receiveBalance},
	}); err != nil {
		return nil, effects{}, err
	}

	if err := vaultRepo.Update(vault); err != nil {
		return nil, effects{}, err
	}

	return &swapDispatch{
		VaultID:     vault.ID,
		PairAddress: vault.PairAddress,
		Swap:        slice,
		BeliefPrice: beliefPrice,
		MaxSpread:   vault.SlippageTolerance,
	}, effects{}, nil
}

// standardFeeRates are the rates a plain vault would pay, used by the shadow
// simulation.
func (s *Service) standardFeeRates(tx database.Querier, vault *vaults.Vault) (math.LegacyDec, math.LegacyDec, error) {
	customFees := s.customFees.WithTx(tx)

	customSwap, err := customFees.Get(vault.SwapDenom())
	if err != nil {
		return math.LegacyDec{}, math.LegacyDec{}, err
	}
	customReceive, err := customFees.Get(vault.TargetDenom)
	if err != nil {
		return math.LegacyDec{}, math.LegacyDec{}, err
	}

	swapRate := fees.SwapFeeRate(s.feeParams, customSwap, customReceive, nil)
	automationRate := fees.AutomationFeeRate(s.feeParams, vault.Destinations)
	return swapRate, automationRate, nil
}

// handleSwapReply runs the reply phase in its own turn and then issues the
// outgoing messages the turn produced.
func (s *Service) handleSwapReply(swapErr error) error {
	now := s.now().UTC().Truncate(time.Second)

	var result effects
	err := s.executor.Turn(func(tx *sql.Tx, height uint64) error {
		e, err := s.replyPhase(tx, height, now, swapErr)
		if err != nil {
			return err
		}
		result = e
		return nil
	})
	if err != nil {
		return err
	}

	s.applyEffects(result)
	return nil
}

// replyPhase reconciles one swap reply. A missing swap cache aborts the turn
// without mutating the vault.
func (s *Service) replyPhase(tx *sql.Tx, height uint64, now time.Time, swapErr error) (effects, error) {
	cacheRepo := s.swapCache.WithTx(tx)

	cache, err := cacheRepo.Load()
	if err != nil {
		return effects{}, err
	}
	if err := cacheRepo.Clear(); err != nil {
		return effects{}, err
	}

	vaultRepo := s.vaultRepo.WithTx(tx)
	eventRepo := s.eventRepo.WithTx(tx)

	vault, err := vaultRepo.Get(cache.VaultID)
	if err != nil {
		return effects{}, err
	}

	trigger, err := s.triggers.Get(tx, vault.ID)
	if err != nil {
		return effects{}, fmt.Errorf("protocol violation: vault %d has no trigger in the reply phase: %w", vault.ID, err)
	}
	anchor := now
	if trigger.Time != nil {
		anchor = trigger.Time.TargetTime
	}

	result := effects{VaultID: vault.ID}

	if swapErr != nil {
		return s.replyFailure(tx, height, now, anchor, vault, swapErr, eventRepo, vaultRepo)
	}

	coinSent, coinReceived, err := s.reconcile(cache, vault)
	if err != nil {
		return effects{}, err
	}

	swapRate, automationRate, err := s.executionFeeRates(tx, vault)
	if err != nil {
		return effects{}, err
	}

	breakdown := fees.Apply(coinReceived.Amount, swapRate, automationRate)

	for _, fee := range []math.Int{breakdown.SwapFee, breakdown.AutomationFee} {
		for _, share := range fees.CollectorShares(s.feeParams, fee, vault.TargetDenom) {
			result.Transfers = append(result.Transfers, transfer{To: share.Address, Coins: []domain.Coin{share.Coin}})
		}
	}

	if vault.Status == domain.VaultStatusScheduled {
		vault.Status = domain.VaultStatusActive
	}

	vault.Balance = vault.Balance.Sub(coinSent.Amount)
	vault.SwappedAmount = vault.SwappedAmount.Add(coinSent.Amount)
	vault.ReceivedAmount = vault.ReceivedAmount.Add(breakdown.NetDisbursable)

	amountToEscrow := vault.EscrowLevel.MulInt(breakdown.NetDisbursable).TruncateInt()
	vault.EscrowedAmount = vault.EscrowedAmount.Add(amountToEscrow)
	distributable := breakdown.NetDisbursable.Sub(amountToEscrow)

	if vault.IsEmpty() {
		vault.Status = domain.VaultStatusInactive
	}

	transfers, automations, err := s.buildDisbursements(tx, vault, distributable)
	if err != nil {
		return effects{}, err
	}
	result.Transfers = append(result.Transfers, transfers...)
	result.Automations = append(result.Automations, automations...)

	if err := eventRepo.Create(vault.ID, now, height, events.ExecutionCompletedData{
		Sent:     coinSent,
		Received: coinReceived,
		Fee:      domain.Coin{Denom: vault.TargetDenom, Amount: breakdown.TotalFee},
	}); err != nil {
		return effects{}, err
	}

	if vault.ShouldNotContinue() {
		if err := s.triggers.Remove(tx, vault.ID); err != nil {
			return effects{}, err
		}
		if !vault.EscrowedAmount.IsZero() {
			result.DisburseEscrow = true
		}
	} else {
		if err := s.triggers.ArmTime(tx, vault.ID, schedule.NextTargetTime(now, anchor, vault.TimeInterval)); err != nil {
			return effects{}, err
		}
	}

	if err := vaultRepo.Update(vault); err != nil {
		return effects{}, err
	}

	s.log.Info().
		Uint64("vault_id", vault.ID).
		Str("sent", coinSent.String()).
		Str("received", coinReceived.String()).
		Str("fee", breakdown.TotalFee.String()).
		Msg("Execution completed")

	return result, nil
}

// replyFailure classifies a failed swap. Slippage rejections are retried on
// the cadence; anything else retires the vault.
func (s *Service) replyFailure(
	tx *sql.Tx,
	height uint64,
	now, anchor time.Time,
	vault *vaults.Vault,
	swapErr error,
	eventRepo *events.Repository,
	vaultRepo *vaults.Repository,
) (effects, error) {
	result := effects{VaultID: vault.ID}

	if s.isSlippageError(swapErr) {
		if err := eventRepo.Create(vault.ID, now, height, events.ExecutionSkippedData{
			Reason: events.SkipReasonSlippageToleranceExceeded,
		}); err != nil {
			return effects{}, err
		}

		if err := s.triggers.ArmTime(tx, vault.ID, schedule.NextTargetTime(now, anchor, vault.TimeInterval)); err != nil {
			return effects{}, err
		}

		s.log.Info().
			Uint64("vault_id", vault.ID).
			Msg("Execution skipped, slippage tolerance exceeded")

		return result, nil
	}

	if err := eventRepo.Create(vault.ID, now, height, events.ExecutionSkippedData{
		Reason: events.SkipReasonUnknownFailure,
	}); err != nil {
		return effects{}, err
	}

	// Unknown venue failures stop the cadence rather than burning retries;
	// any escrow already held is released.
	vault.Status = domain.VaultStatusInactive
	if err := s.triggers.Remove(tx, vault.ID); err != nil {
		return effects{}, err
	}
	if !vault.EscrowedAmount.IsZero() {
		result.DisburseEscrow = true
	}

	if err := vaultRepo.Update(vault); err != nil {
		return effects{}, err
	}

	s.log.Warn().
		Uint64("vault_id", vault.ID).
		Err(swapErr).
		Msg("Execution failed, vault deactivated")

	return result, nil
}

// reconcile derives what the swap actually moved from the engine's balance
// deltas around it.
func (s *Service) reconcile(cache SwapCache, vault *vaults.Vault) (domain.Coin, domain.Coin, error) {
	postSwapBalance, err := s.bank.Balance(vault.SwapDenom())
	if err != nil {
		return domain.Coin{}, domain.Coin{}, fmt.Errorf("failed to read post-swap %s balance: %w", vault.SwapDenom(), err)
	}
	postReceiveBalance, err := s.bank.Balance(vault.TargetDenom)
	if err != nil {
		return domain.Coin{}, domain.Coin{}, fmt.Errorf("failed to read post-swap %s balance: %w", vault.TargetDenom, err)
	}

	sent := cache.SwapDenomBalance.Amount.Sub(postSwapBalance)
	if sent.IsNegative() {
		return domain.Coin{}, domain.Coin{}, fmt.Errorf("swap denom balance increased across a swap")
	}
	received := postReceiveBalance.Sub(cache.ReceiveDenomBalance.Amount)
	if received.IsNegative() {
		return domain.Coin{}, domain.Coin{}, fmt.Errorf("receive denom balance decreased across a swap")
	}

	return domain.Coin{Denom: vault.SwapDenom(), Amount: sent},
		domain.Coin{Denom: vault.TargetDenom, Amount: received},
		nil
}

// executionFeeRates are the rates applied to this execution. A vault with a
// performance assessment pays nothing per execution; its fee is taken from
// the escrow at retirement.
func (s *Service) executionFeeRates(tx database.Querier, vault *vaults.Vault) (math.LegacyDec, math.LegacyDec, error) {
	if vault.PerformanceAssessment != nil {
		return math.LegacyZeroDec(), math.LegacyZeroDec(), nil
	}

	customFees := s.customFees.WithTx(tx)

	customSwap, err := customFees.Get(vault.SwapDenom())
	if err != nil {
		return math.LegacyDec{}, math.LegacyDec{}, err
	}
	customReceive, err := customFees.Get(vault.TargetDenom)
	if err != nil {
		return math.LegacyDec{}, math.LegacyDec{}, err
	}

	swapRate := fees.SwapFeeRate(s.feeParams, customSwap, customReceive, vault.SwapAdjustmentStrategy)
	automationRate := fees.AutomationFeeRate(s.feeParams, vault.Destinations)
	return swapRate, automationRate, nil
}

// buildDisbursements splits an amount across the vault's destinations.
// Shares truncate toward zero; dust stays on the engine account. Automation
// shares go to the owner and enqueue a callback.
func (s *Service) buildDisbursements(tx database.Querier, vault *vaults.Vault, amount math.Int) ([]transfer, []automationDispatch, error) {
	var (
		transfers   []transfer
		automations []automationDispatch
	)

	queue := s.queue.WithTx(tx)

	for _, destination := range vault.Destinations {
		share := destination.Allocation.MulInt(amount).TruncateInt()
		if share.IsZero() {
			continue
		}
		coin := domain.Coin{Denom: vault.TargetDenom, Amount: share}

		switch destination.Action {
		case domain.DestinationActionSend:
			transfers = append(transfers, transfer{To: destination.Address, Coins: []domain.Coin{coin}})

		case domain.DestinationActionAutomation:
			// automation actions draw on the owner's wallet, the share is
			// returned to the owner alongside the callback
			transfers = append(transfers, transfer{To: vault.Owner, Coins: []domain.Coin{coin}})

			entry := AutomationEntry{
				VaultID:  vault.ID,
				Address:  destination.Address,
				Callback: destination.Callback,
				Funds:    []domain.Coin{coin},
			}
			if err := queue.Push(entry); err != nil {
				return nil, nil, err
			}
			automations = append(automations, automationDispatch{
				VaultID:  vault.ID,
				Address:  destination.Address,
				Callback: destination.Callback,
				Funds:    []domain.Coin{coin},
			})
		}
	}

	return transfers, automations, nil
}

// applyEffects issues the outgoing messages of a committed turn: bank
// transfers, automation callbacks (each feeding its own reply turn), and the
// escrow release self-call.
func (s *Service) applyEffects(result effects) {
	for _, t := range result.Transfers {
		if err := s.bank.Send(t.To, t.Coins); err != nil {
			s.log.Error().
				Err(err).
				Str("to", t.To).
				Msg("Outgoing transfer failed")
		}
	}

	for _, automation := range result.Automations {
		invokeErr := s.router.Invoke(automation.Address, automation.Callback, automation.Funds)
		if err := s.HandleAutomationReply(automation.VaultID, invokeErr); err != nil {
			s.log.Error().
				Err(err).
				Uint64("vault_id", automation.VaultID).
				Msg("Automation reply handling failed")
		}
	}

	if result.DisburseEscrow {
		if err := s.DisburseEscrow(result.VaultID); err != nil {
			s.log.Error().
				Err(err).
				Uint64("vault_id", result.VaultID).
				Msg("Escrow disbursement failed")
		}
	}
}

// HandleAutomationReply pops the vault's oldest pending callback and, on
// failure, refunds its funds to the owner and records the failure. The main
// execution result is unaffected.
func (s *Service) HandleAutomationReply(vaultID uint64, invokeErr error) error {
	now := s.now().UTC().Truncate(time.Second)

	var refund *transfer
	err := s.executor.Turn(func(tx *sql.Tx, height uint64) error {
		entry, err := s.queue.WithTx(tx).Pop(vaultID)
		if err != nil {
			return err
		}

		if invokeErr == nil {
			return nil
		}

		vault, err := s.vaultRepo.WithTx(tx).Get(vaultID)
		if err != nil {
			return err
		}

		if err := s.eventRepo.WithTx(tx).Create(vaultID, now, height, events.PostExecutionActionFailedData{
			Callback: entry.Callback,
			Funds:    entry.Funds,
		}); err != nil {
			return err
		}

		refund = &transfer{To: vault.Owner, Coins: entry.Funds}
		return nil
	})
	if err != nil {
		return err
	}

	if refund != nil {
		if err := s.bank.Send(refund.To, refund.Coins); err != nil {
			return fmt.Errorf("failed to refund automation funds: %w", err)
		}
		s.log.Warn().
			Uint64("vault_id", vaultID).
			Str("owner", refund.To).
			Msg("Automation callback failed, funds refunded to owner")
	}

	return nil
}

// DisburseEscrow releases a retired vault's escrow: the performance fee goes
// to the fee collectors, the remainder to the vault's destinations.
func (s *Service) DisburseEscrow(vaultID uint64) error {
	var result effects
	err := s.executor.Turn(func(tx *sql.Tx, height uint64) error {
		vaultRepo := s.vaultRepo.WithTx(tx)

		vault, err := vaultRepo.Get(vaultID)
		if err != nil {
			return err
		}
		if vault.EscrowedAmount.IsZero() {
			return nil
		}

		currentPrice, err := s.venue.MidPrice(vault.PairAddress)
		if err != nil {
			return fmt.Errorf("failed to query current price: %w", err)
		}

		performanceFee := dcaplus.PerformanceFee(vault, currentPrice, s.feeParams.PerformanceFeeRate)
		remainder := vault.EscrowedAmount.Amount.Sub(performanceFee.Amount)

		result = effects{VaultID: vault.ID}

		for _, share := range fees.CollectorShares(s.feeParams, performanceFee.Amount, vault.TargetDenom) {
			result.Transfers = append(result.Transfers, transfer{To: share.Address, Coins: []domain.Coin{share.Coin}})
		}

		transfers, automations, err := s.buildDisbursements(tx, vault, remainder)
		if err != nil {
			return err
		}
		result.Transfers = append(result.Transfers, transfers...)
		result.Automations = append(result.Automations, automations...)

		vault.EscrowedAmount = domain.ZeroCoin(vault.TargetDenom)
		if err := vaultRepo.Update(vault); err != nil {
			return err
		}

		s.log.Info().
			Uint64("vault_id", vault.ID).
			Str("performance_fee", performanceFee.String()).
			Str("disbursed", remainder.String()).
			Msg("Escrow disbursed")

		return nil
	})
	if err != nil {
		return err
	}

	s.applyEffects(result)
	return nil
}

// isSlippageError matches the venue's slippage marker in a swap failure.
func (s *Service) isSlippageError(err error) bool {
	return err != nil && s.isSlippage != nil && s.isSlippage(err)
}
