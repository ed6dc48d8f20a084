// Package handlers provides HTTP handlers for trigger execution and
// inspection.
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

	"github.com/calculated-finance/calc-go/internal/modules/triggers"
	"github.com/calculated-finance/calc-go/internal/modules/vaults"
)

// Executor drives the execution pipeline.
type Executor interface {
	ExecuteTrigger(vaultID uint64) error
	DisburseEscrow(vaultID uint64) error
}

// TriggerLister reads the trigger store.
type TriggerLister interface {
	Due(now time.Time, limit int) ([]triggers.TimeTrigger, error)
	ReadyAtPrice(pairAddress string, current math.LegacyDec) ([]triggers.PriceTrigger, error)
}

// TriggerHandlers contains HTTP handlers for the trigger API
type TriggerHandlers struct {
	executor Executor
	lister   TriggerLister
	log      zerolog.Logger
}

// NewTriggerHandlers creates a new trigger handlers instance
func NewTriggerHandlers(executor Executor, lister TriggerLister, log zerolog.Logger) *TriggerHandlers {
	return &TriggerHandlers{
		executor: executor,
		lister:   lister,
		log:      log.With().Str("handlers", "triggers").Logger(),
	}
}

// RegisterRoutes mounts the trigger API.
func (h *TriggerHandlers) RegisterRoutes(r chi.Router) {
	r.Route("/triggers", func(r chi.Router) {
		r.Post("/{id}/execute", h.Execute)
		r.Get("/due", h.ListDue)
		r.Get("/price", h.ListReadyAtPrice)
	})
	r.Post("/vaults/{id}/disburse-escrow", h.DisburseEscrow)
}

// Execute handles POST /triggers/{id}/execute.
func (h *TriggerHandlers) Execute(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid vault id")
		return
	}

	if err := h.executor.ExecuteTrigger(id); err != nil {
		switch {
		case errors.Is(err, triggers.ErrTriggerNotFound), errors.Is(err, vaults.ErrVaultNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, triggers.ErrTriggerNotReady), errors.Is(err, triggers.ErrPriceNotReached):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, vaults.ErrEnginePaused):
			writeError(w, http.StatusServiceUnavailable, err.Error())
		default:
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "executed"})
}

// DisburseEscrow handles POST /vaults/{id}/disburse-escrow.
func (h *TriggerHandlers) DisburseEscrow(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid vault id")
		return
	}

	if err := h.executor.DisburseEscrow(id); err != nil {
		if errors.Is(err, vaults.ErrVaultNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "disbursed"})
}

// ListDue handles GET /triggers/due.
func (h *TriggerHandlers) ListDue(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	due, err := h.lister.Due(time.Now().UTC(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"triggers": due})
}

// ListReadyAtPrice handles GET /triggers/price?pair=...&price=...
func (h *TriggerHandlers) ListReadyAtPrice(w http.ResponseWriter, r *http.Request) {
	pair := r.URL.Query().Get("pair")
	if pair == "" {
		writeError(w, http.StatusBadRequest, "pair is required")
		return
	}

	price, err := math.LegacyNewDecFromStr(r.URL.Query().Get("price"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid price")
		return
	}

	ready, err := h.lister.ReadyAtPrice(pair, price)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"triggers": ready})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
