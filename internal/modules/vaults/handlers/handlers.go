// Package handlers provides HTTP handlers for the vault lifecycle.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"cosmossdk.io/math"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/calculated-finance/calc-go/internal/domain"
	"github.com/calculated-finance/calc-go/internal/events"
	"github.com/calculated-finance/calc-go/internal/modules/triggers"
	"github.com/calculated-finance/calc-go/internal/modules/vaults"
	"github.com/calculated-finance/calc-go/pkg/schedule"
)

// EventLister reads a vault's event log.
type EventLister interface {
	ListByVault(vaultID uint64, limit, offset int) ([]events.Event, error)
}

// DataFixLister reads the operator correction audit trail.
type DataFixLister interface {
	ListByResourceID(resourceID uint64) ([]vaults.DataFix, error)
}

// VaultHandlers contains HTTP handlers for the vault API
type VaultHandlers struct {
	service   *vaults.Service
	eventRepo EventLister
	fixes     DataFixLister
	log       zerolog.Logger
}

// NewVaultHandlers creates a new vault handlers instance
func NewVaultHandlers(service *vaults.Service, eventRepo EventLister, fixes DataFixLister, log zerolog.Logger) *VaultHandlers {
	return &VaultHandlers{
		service:   service,
		eventRepo: eventRepo,
		fixes:     fixes,
		log:       log.With().Str("handlers", "vaults").Logger(),
	}
}

// createVaultRequest is the JSON body of POST /vaults.
type createVaultRequest struct {
	Owner   string `json:"owner"`
	Label   string `json:"label,omitempty"`
	Deposit struct {
		Denom  string `json:"denom"`
		Amount string `json:"amount"`
	} `json:"deposit"`
	SwapAmount  string `json:"swap_amount"`
	PairAddress string `json:"pair_address"`
	Interval    struct {
		Kind    string `json:"kind"`
		Seconds int64  `json:"seconds,omitempty"`
	} `json:"time_interval"`
	TargetStartTime      *int64  `json:"target_start_time,omitempty"`
	TargetPrice          *string `json:"target_price,omitempty"`
	TargetPriceDirection string  `json:"target_price_direction,omitempty"`
	SlippageTolerance    *string `json:"slippage_tolerance,omitempty"`
	MinimumReceiveAmount *string `json:"minimum_receive_amount,omitempty"`
	Destinations         []struct {
		Address    string          `json:"address"`
		Allocation string          `json:"allocation"`
		Action     string          `json:"action"`
		Callback   json.RawMessage `json:"callback,omitempty"`
	} `json:"destinations,omitempty"`
	UseRiskWeightedAverage   bool `json:"use_risk_weighted_average,omitempty"`
	WeightedScale            *struct {
		BaseReceiveAmount string `json:"base_receive_amount"`
		Multiplier        string `json:"multiplier"`
		IncreaseOnly      bool   `json:"increase_only"`
	} `json:"weighted_scale,omitempty"`
	UsePerformanceAssessment bool   `json:"use_performance_assessment,omitempty"`
	EscrowLevel              string `json:"escrow_level,omitempty"`
}

// Create handles POST /vaults.
func (h *VaultHandlers) Create(w http.ResponseWriter, r *http.Request) {
	var req createVaultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	params, err := h.buildParams(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	vault, err := h.service.Create(params)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, vault)
}

func (h *VaultHandlers) buildParams(req createVaultRequest) (vaults.CreateParams, error) {
	var params vaults.CreateParams

	depositAmount, ok := math.NewIntFromString(req.Deposit.Amount)
	if !ok {
		return params, errors.New("invalid deposit amount")
	}
	swapAmount, ok := math.NewIntFromString(req.SwapAmount)
	if !ok {
		return params, errors.New("invalid swap amount")
	}

	params = vaults.CreateParams{
		Owner:       req.Owner,
		Label:       req.Label,
		Deposit:     domain.Coin{Denom: req.Deposit.Denom, Amount: depositAmount},
		SwapAmount:  swapAmount,
		PairAddress: req.PairAddress,
		TimeInterval: schedule.Interval{
			Kind:    schedule.IntervalKind(req.Interval.Kind),
			Seconds: req.Interval.Seconds,
		},
		UseRiskWeightedAverage:   req.UseRiskWeightedAverage,
		UsePerformanceAssessment: req.UsePerformanceAssessment,
	}

	if req.TargetStartTime != nil {
		t := time.Unix(*req.TargetStartTime, 0).UTC()
		params.TargetStartTime = &t
	}
	if req.TargetPrice != nil {
		price, err := math.LegacyNewDecFromStr(*req.TargetPrice)
		if err != nil {
			return params, errors.New("invalid target price")
		}
		params.TargetPrice = &price
		params.TargetPriceDirection = triggers.Direction(req.TargetPriceDirection)
	}
	if req.SlippageTolerance != nil {
		tolerance, err := math.LegacyNewDecFromStr(*req.SlippageTolerance)
		if err != nil {
			return params, errors.New("invalid slippage tolerance")
		}
		params.SlippageTolerance = &tolerance
	}
	if req.MinimumReceiveAmount != nil {
		minimum, ok := math.NewIntFromString(*req.MinimumReceiveAmount)
		if !ok {
			return params, errors.New("invalid minimum receive amount")
		}
		params.MinimumReceiveAmount = &minimum
	}
	if req.EscrowLevel != "" {
		level, err := math.LegacyNewDecFromStr(req.EscrowLevel)
		if err != nil {
			return params, errors.New("invalid escrow level")
		}
		params.EscrowLevel = level
	}
	if req.WeightedScale != nil {
		base, ok := math.NewIntFromString(req.WeightedScale.BaseReceiveAmount)
		if !ok {
			return params, errors.New("invalid base receive amount")
		}
		multiplier, err := math.LegacyNewDecFromStr(req.WeightedScale.Multiplier)
		if err != nil {
			return params, errors.New("invalid weighted scale multiplier")
		}
		params.WeightedScale = &domain.WeightedScaleStrategy{
			BaseReceiveAmount: base,
			Multiplier:        multiplier,
			IncreaseOnly:      req.WeightedScale.IncreaseOnly,
		}
	}

	for _, d := range req.Destinations {
		allocation, err := math.LegacyNewDecFromStr(d.Allocation)
		if err != nil {
			return params, errors.New("invalid destination allocation")
		}
		params.Destinations = append(params.Destinations, domain.Destination{
			Address:    d.Address,
			Allocation: allocation,
			Action:     domain.DestinationAction(d.Action),
			Callback:   d.Callback,
		})
	}

	return params, nil
}

// Get handles GET /vaults/{id}.
func (h *VaultHandlers) Get(w http.ResponseWriter, r *http.Request) {
	id, err := vaultID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid vault id")
		return
	}

	vault, err := h.service.Get(id)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, vault)
}

// ListByOwner handles GET /vaults?owner=...
func (h *VaultHandlers) ListByOwner(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		writeError(w, http.StatusBadRequest, "owner is required")
		return
	}

	limit, offset := pagination(r)
	result, err := h.service.ListByOwner(owner, limit, offset)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"vaults": result})
}

// Deposit handles POST /vaults/{id}/deposit.
func (h *VaultHandlers) Deposit(w http.ResponseWriter, r *http.Request) {
	id, err := vaultID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid vault id")
		return
	}

	var req struct {
		Sender string `json:"sender"`
		Denom  string `json:"denom"`
		Amount string `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	amount, ok := math.NewIntFromString(req.Amount)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid amount")
		return
	}

	vault, err := h.service.Deposit(id, req.Sender, domain.Coin{Denom: req.Denom, Amount: amount})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, vault)
}

// Cancel handles POST /vaults/{id}/cancel.
func (h *VaultHandlers) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := vaultID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid vault id")
		return
	}

	var req struct {
		Sender string `json:"sender"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.service.Cancel(id, req.Sender); err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "cancelled"})
}

// FixAmounts handles POST /vaults/{id}/fix-amounts.
func (h *VaultHandlers) FixAmounts(w http.ResponseWriter, r *http.Request) {
	id, err := vaultID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid vault id")
		return
	}

	var req struct {
		Swapped struct {
			Denom  string `json:"denom"`
			Amount string `json:"amount"`
		} `json:"swapped"`
		Received struct {
			Denom  string `json:"denom"`
			Amount string `json:"amount"`
		} `json:"received"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	swapped, ok := math.NewIntFromString(req.Swapped.Amount)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid swapped amount")
		return
	}
	received, ok := math.NewIntFromString(req.Received.Amount)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid received amount")
		return
	}

	err = h.service.FixAmounts(id,
		domain.Coin{Denom: req.Swapped.Denom, Amount: swapped},
		domain.Coin{Denom: req.Received.Denom, Amount: received},
	)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "fixed"})
}

// Events handles GET /vaults/{id}/events.
func (h *VaultHandlers) Events(w http.ResponseWriter, r *http.Request) {
	id, err := vaultID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid vault id")
		return
	}

	limit, offset := pagination(r)
	result, err := h.eventRepo.ListByVault(id, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"events": result})
}

// DataFixes handles GET /vaults/{id}/data-fixes.
func (h *VaultHandlers) DataFixes(w http.ResponseWriter, r *http.Request) {
	id, err := vaultID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid vault id")
		return
	}

	result, err := h.fixes.ListByResourceID(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"data_fixes": result})
}

func vaultID(r *http.Request) (uint64, error) {
	return strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
}

func pagination(r *http.Request) (int, int) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	return limit, offset
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeServiceError maps service errors onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, vaults.ErrVaultNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, vaults.ErrEnginePaused):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, vaults.ErrUnauthorised):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, vaults.ErrVaultCancelled),
		errors.Is(err, vaults.ErrUnknownPair),
		errors.Is(err, vaults.ErrDenomMismatch),
		errors.Is(err, vaults.ErrStartTimeInPast),
		errors.Is(err, vaults.ErrIncompatibleFixes):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}
