package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/smart-locker/internal/slots"
)

// SlotsHandler serves slot status, allocation and manual unlocks
type SlotsHandler struct {
	locker Locker
}

// NewSlotsHandler creates a new slots handler
func NewSlotsHandler(l Locker) *SlotsHandler {
	return &SlotsHandler{locker: l}
}

// AllocateResponse is the answer to an allocation request
type AllocateResponse struct {
	SlotID *int `json:"slot_id"` // null when every slot is taken or unknown
}

// Status polls every slot once
func (h *SlotsHandler) Status(w http.ResponseWriter, r *http.Request) {
	st, err := h.locker.Status(r.Context())
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, st)
}

// Allocate returns the lowest available slot
func (h *SlotsHandler) Allocate(w http.ResponseWriter, r *http.Request) {
	var resp AllocateResponse
	if id := h.locker.Allocate(r.Context()); id != slots.None {
		resp.SlotID = &id
	}
	respondJSON(w, http.StatusOK, resp)
}

// Open pulses a slot's lock
func (h *SlotsHandler) Open(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id < 1 {
		respondError(w, http.StatusBadRequest, "invalid slot id")
		return
	}
	if err := h.locker.OpenSlot(r.Context(), id); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"slot_id": id, "opened": true})
}
