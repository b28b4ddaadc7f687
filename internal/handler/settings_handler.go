package handler

import (
	"net/http"

	"github.com/gorilla/mux"

	"payments-gateway/internal/errors"
	"payments-gateway/internal/settings"
)

type SettingsHandler struct {
	settings *settings.Service
}

func NewSettingsHandler(settingsService *settings.Service) *SettingsHandler {
	return &SettingsHandler{
		settings: settingsService,
	}
}

type SettingRequest struct {
	Value string `json:"value"`
}

type SettingResponse struct {
	Scope string `json:"scope"`
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Get resolves the key in the scope, falling back to the global value.
func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	value, found, err := h.settings.Lookup(r.Context(), vars["scope"], vars["key"])
	if err != nil {
		writeError(w, err)
		return
	}
	if !found {
		writeError(w, errors.ErrSettingNotFound)
		return
	}
	writeJSON(w, http.StatusOK, SettingResponse{Scope: vars["scope"], Key: vars["key"], Value: value})
}

func (h *SettingsHandler) Put(w http.ResponseWriter, r *http.Request) {
	var req SettingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	vars := mux.Vars(r)
	setting, err := h.settings.Set(r.Context(), vars["scope"], vars["key"], req.Value)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SettingResponse{Scope: setting.Scope, Key: setting.Key, Value: setting.Value})
}

func (h *SettingsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := h.settings.Delete(r.Context(), vars["scope"], vars["key"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
