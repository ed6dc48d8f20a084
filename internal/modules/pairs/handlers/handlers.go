// Package handlers provides the admin HTTP surface for pair registration
// and custom fee overrides.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"cosmossdk.io/math"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/calculated-finance/calc-go/internal/domain"
	"github.com/calculated-finance/calc-go/internal/modules/pairs"
)

// CustomFeeStore manages per-denom swap fee overrides.
type CustomFeeStore interface {
	Set(denom string, rate math.LegacyDec) error
	Delete(denom string) error
	List() (map[string]math.LegacyDec, error)
}

// AdminHandlers contains HTTP handlers for the admin API
type AdminHandlers struct {
	pairs      *pairs.Repository
	customFees CustomFeeStore
	log        zerolog.Logger
}

// NewAdminHandlers creates a new admin handlers instance
func NewAdminHandlers(pairRepo *pairs.Repository, customFees CustomFeeStore, log zerolog.Logger) *AdminHandlers {
	return &AdminHandlers{
		pairs:      pairRepo,
		customFees: customFees,
		log:        log.With().Str("handlers", "admin").Logger(),
	}
}

// RegisterRoutes mounts the admin API.
func (h *AdminHandlers) RegisterRoutes(r chi.Router) {
	r.Route("/pairs", func(r chi.Router) {
		r.Post("/", h.CreatePair)
		r.Get("/", h.ListPairs)
		r.Delete("/{address}", h.DeletePair)
	})
	r.Route("/custom-fees", func(r chi.Router) {
		r.Post("/", h.SetCustomFee)
		r.Get("/", h.ListCustomFees)
		r.Delete("/{denom}", h.DeleteCustomFee)
	})
}

// CreatePair handles POST /pairs.
func (h *AdminHandlers) CreatePair(w http.ResponseWriter, r *http.Request) {
	var pair domain.Pair
	if err := json.NewDecoder(r.Body).Decode(&pair); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if pair.Address == "" || pair.BaseDenom == "" || pair.QuoteDenom == "" {
		writeError(w, http.StatusBadRequest, "address, base_denom and quote_denom are required")
		return
	}
	if pair.BaseDenom == pair.QuoteDenom {
		writeError(w, http.StatusBadRequest, "pair denoms must differ")
		return
	}

	if err := h.pairs.Create(pair); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, pair)
}

// ListPairs handles GET /pairs.
func (h *AdminHandlers) ListPairs(w http.ResponseWriter, r *http.Request) {
	result, err := h.pairs.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pairs": result})
}

// DeletePair handles DELETE /pairs/{address}.
func (h *AdminHandlers) DeletePair(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")

	if _, err := h.pairs.Get(address); err != nil {
		if errors.Is(err, pairs.ErrPairNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if err := h.pairs.Delete(address); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted"})
}

// SetCustomFee handles POST /custom-fees.
func (h *AdminHandlers) SetCustomFee(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Denom string `json:"denom"`
		Rate  string `json:"rate"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rate, err := math.LegacyNewDecFromStr(req.Rate)
	if err != nil || rate.IsNegative() || rate.GT(math.LegacyOneDec()) {
		writeError(w, http.StatusBadRequest, "rate must be a decimal between 0 and 1")
		return
	}

	if err := h.customFees.Set(req.Denom, rate); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "set"})
}

// ListCustomFees handles GET /custom-fees.
func (h *AdminHandlers) ListCustomFees(w http.ResponseWriter, r *http.Request) {
	fees, err := h.customFees.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	result := make(map[string]string, len(fees))
	for denom, rate := range fees {
		result[denom] = rate.String()
	}
	writeJSON(w, http.StatusOK, map[string]any{"custom_fees": result})
}

// DeleteCustomFee handles DELETE /custom-fees/{denom}.
func (h *AdminHandlers) DeleteCustomFee(w http.ResponseWriter, r *http.Request) {
	if err := h.customFees.Delete(chi.URLParam(r, "denom")); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
