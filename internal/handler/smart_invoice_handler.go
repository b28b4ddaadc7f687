package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"payments-gateway/internal/domain"
	"payments-gateway/internal/service"
)

type SmartInvoiceHandler struct {
	invoiceService *service.SmartInvoiceService
}

func NewSmartInvoiceHandler(invoiceService *service.SmartInvoiceService) *SmartInvoiceHandler {
	return &SmartInvoiceHandler{
		invoiceService: invoiceService,
	}
}

type InvoiceRequest struct {
	InvoiceID     string               `json:"invoice_id"`
	InvoiceNumber string               `json:"invoice_number"`
	InvoiceDate   time.Time            `json:"invoice_date"`
	SellerTPIN    string               `json:"seller_tpin,omitempty"`
	BuyerTPIN     string               `json:"buyer_tpin,omitempty"`
	BuyerName     string               `json:"buyer_name"`
	Currency      string               `json:"currency"`
	Lines         []domain.InvoiceLine `json:"lines"`
}

func (req *InvoiceRequest) toService() *service.CreateInvoiceRequest {
	return &service.CreateInvoiceRequest{
		InvoiceID:     req.InvoiceID,
		InvoiceNumber: req.InvoiceNumber,
		InvoiceDate:   req.InvoiceDate,
		SellerTPIN:    req.SellerTPIN,
		BuyerTPIN:     req.BuyerTPIN,
		BuyerName:     req.BuyerName,
		Currency:      req.Currency,
		Lines:         req.Lines,
	}
}

type InvoiceResponse struct {
	*domain.SmartInvoice
	AuditTrail []*domain.AuditLog `json:"audit_trail,omitempty"`
}

type CancelRequest struct {
	Reason string `json:"reason"`
}

func (h *SmartInvoiceHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req InvoiceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	inv, err := h.invoiceService.Create(r.Context(), req.toService())
	if err != nil {
		writeError(w, err)
		return
	}
	writeMessage(w, http.StatusCreated, InvoiceResponse{SmartInvoice: inv}, "Smart invoice created")
}

// Validate runs the local checks. ?remote=true also asks the tax authority.
func (h *SmartInvoiceHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var req InvoiceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.invoiceService.Validate(r.Context(), req.toService(), r.URL.Query().Get("remote") == "true")
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *SmartInvoiceHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}

	inv, err := h.invoiceService.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	trail, err := h.invoiceService.AuditTrail(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, InvoiceResponse{SmartInvoice: inv, AuditTrail: trail})
}

func (h *SmartInvoiceHandler) Submit(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.invoiceService.Submit, "Smart invoice submitted")
}

func (h *SmartInvoiceHandler) CheckStatus(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.invoiceService.CheckStatus, "")
}

func (h *SmartInvoiceHandler) Retry(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.invoiceService.Retry, "Smart invoice resubmitted")
}

func (h *SmartInvoiceHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var req CancelRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	inv, err := h.invoiceService.Cancel(r.Context(), id, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeMessage(w, http.StatusOK, InvoiceResponse{SmartInvoice: inv}, "Smart invoice cancelled")
}

func (h *SmartInvoiceHandler) transition(
	w http.ResponseWriter,
	r *http.Request,
	op func(ctx context.Context, id uuid.UUID) (*domain.SmartInvoice, error),
	message string,
) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}

	inv, err := op(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeMessage(w, http.StatusOK, InvoiceResponse{SmartInvoice: inv}, message)
}
