package handler

import (
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"payments-gateway/internal/domain"
	"payments-gateway/internal/service"
)

type ReconciliationHandler struct {
	reconciliationService *service.ReconciliationService
}

func NewReconciliationHandler(reconciliationService *service.ReconciliationService) *ReconciliationHandler {
	return &ReconciliationHandler{
		reconciliationService: reconciliationService,
	}
}

type ReconcileRequest struct {
	Provider       string                 `json:"provider"`
	PeriodStart    time.Time              `json:"period_start"`
	PeriodEnd      time.Time              `json:"period_end"`
	OpeningBalance decimal.Decimal        `json:"opening_balance"`
	ClosingBalance *decimal.Decimal       `json:"closing_balance,omitempty"`
	Lines          []domain.StatementLine `json:"lines"`
	Scope          string                 `json:"scope,omitempty"`
}

type ReconciliationResponse struct {
	*domain.Reconciliation
	HasDiscrepancies bool `json:"has_discrepancies"`
}

func (h *ReconciliationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req ReconcileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	rec, err := h.reconciliationService.Reconcile(r.Context(), &service.ReconcileRequest{
		ProviderCode:   req.Provider,
		PeriodStart:    req.PeriodStart,
		PeriodEnd:      req.PeriodEnd,
		OpeningBalance: req.OpeningBalance,
		ClosingBalance: req.ClosingBalance,
		Lines:          req.Lines,
		Scope:          req.Scope,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeMessage(w, http.StatusCreated, ReconciliationResponse{Reconciliation: rec, HasDiscrepancies: rec.HasDiscrepancies()},
		"Reconciliation completed")
}

func (h *ReconciliationHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}

	rec, err := h.reconciliationService.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ReconciliationResponse{Reconciliation: rec, HasDiscrepancies: rec.HasDiscrepancies()})
}
