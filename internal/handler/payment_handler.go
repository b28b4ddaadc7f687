package handler

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"payments-gateway/internal/domain"
	"payments-gateway/internal/errors"
	"payments-gateway/internal/service"
)

type PaymentHandler struct {
	paymentService *service.PaymentService
	poller         *service.StatusPoller
}

func NewPaymentHandler(paymentService *service.PaymentService, poller *service.StatusPoller) *PaymentHandler {
	return &PaymentHandler{
		paymentService: paymentService,
		poller:         poller,
	}
}

type PaymentRequest struct {
	Amount            string `json:"amount"`
	PhoneNumber       string `json:"phone_number"`
	Provider          string `json:"provider,omitempty"`
	Currency          string `json:"currency,omitempty"`
	Description       string `json:"description,omitempty"`
	ExternalReference string `json:"external_reference,omitempty"`
	Scope             string `json:"scope,omitempty"`
}

type PaymentResponse struct {
	*domain.Transaction
	LedgerEntries []*domain.LedgerEntry `json:"ledger_entries,omitempty"`
}

func (h *PaymentHandler) Collect(w http.ResponseWriter, r *http.Request) {
	h.initiate(w, r, domain.TypeCollection)
}

func (h *PaymentHandler) Disburse(w http.ResponseWriter, r *http.Request) {
	h.initiate(w, r, domain.TypeDisbursement)
}

func (h *PaymentHandler) initiate(w http.ResponseWriter, r *http.Request, txType domain.TransactionType) {
	var req PaymentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, errors.NewAppError(errors.ValidationError, "invalid amount format").WithDetails(err.Error()))
		return
	}

	tx, err := h.paymentService.Initiate(r.Context(), &service.InitiateRequest{
		Amount:            amount,
		PhoneNumber:       req.PhoneNumber,
		Type:              txType,
		ProviderCode:      req.Provider,
		Currency:          req.Currency,
		Description:       req.Description,
		ExternalReference: req.ExternalReference,
		Scope:             req.Scope,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeMessage(w, http.StatusCreated, PaymentResponse{Transaction: tx}, "Payment initiated")
}

func (h *PaymentHandler) Get(w http.ResponseWriter, r *http.Request) {
	reference := mux.Vars(r)["reference"]

	tx, err := h.paymentService.Get(r.Context(), reference)
	if err != nil {
		writeError(w, err)
		return
	}
	entries, err := h.paymentService.LedgerEntries(r.Context(), reference)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, PaymentResponse{Transaction: tx, LedgerEntries: entries})
}

func (h *PaymentHandler) CheckStatus(w http.ResponseWriter, r *http.Request) {
	tx, err := h.paymentService.CheckStatus(r.Context(), mux.Vars(r)["reference"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, PaymentResponse{Transaction: tx})
}

func (h *PaymentHandler) Retry(w http.ResponseWriter, r *http.Request) {
	tx, err := h.paymentService.Retry(r.Context(), mux.Vars(r)["reference"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeMessage(w, http.StatusOK, PaymentResponse{Transaction: tx}, "Payment retried")
}

// CheckPending queues status checks for stale pending payments and returns at once.
func (h *PaymentHandler) CheckPending(w http.ResponseWriter, r *http.Request) {
	queued, err := h.poller.Enqueue(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]int{"queued": queued})
}
