package handler

import (
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"payments-gateway/internal/service"
	"payments-gateway/internal/webhook"
)

type ProviderHandler struct {
	paymentService *service.PaymentService
}

func NewProviderHandler(paymentService *service.PaymentService) *ProviderHandler {
	return &ProviderHandler{
		paymentService: paymentService,
	}
}

func (h *ProviderHandler) List(w http.ResponseWriter, r *http.Request) {
	providers, err := h.paymentService.ListProviders(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, providers)
}

func (h *ProviderHandler) Authenticate(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]
	if err := h.paymentService.Authenticate(r.Context(), code); err != nil {
		writeError(w, err)
		return
	}
	writeMessage(w, http.StatusOK, map[string]string{"provider": code}, "Authentication successful")
}

// Callback accepts a provider webhook. The raw body is needed for the signature check.
func (h *ProviderHandler) Callback(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, err)
		return
	}

	tx, err := h.paymentService.HandleCallback(r.Context(), mux.Vars(r)["code"], payload, r.Header.Get(webhook.SignatureHeader))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"reference": tx.Reference,
		"status":    string(tx.Status),
	})
}
