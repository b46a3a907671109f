package handlers

import (
	"net/http"
)

// MaintenanceHandler serves store audits and resets
type MaintenanceHandler struct {
	locker Locker
}

// NewMaintenanceHandler creates a new maintenance handler
func NewMaintenanceHandler(l Locker) *MaintenanceHandler {
	return &MaintenanceHandler{locker: l}
}

// Audit reports on the identity store. A corrupt store is a healthy
// response with the corruption described in the report.
func (h *MaintenanceHandler) Audit(w http.ResponseWriter, r *http.Request) {
	rep, err := h.locker.Audit(r.Context())
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"healthy": rep.Healthy(),
		"report":  rep,
	})
}

// Reset clears enrollment data and the store. Items that could not be
// removed are listed in the report; only a failed counter write is an error.
func (h *MaintenanceHandler) Reset(w http.ResponseWriter, r *http.Request) {
	rep, err := h.locker.Reset(r.Context())
	if err != nil {
		if rep == nil {
			respondDomainError(w, err)
			return
		}
		respondJSON(w, http.StatusInternalServerError, map[string]any{
			"error":  err.Error(),
			"report": rep,
		})
		return
	}
	respondJSON(w, http.StatusOK, rep)
}
