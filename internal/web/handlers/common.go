package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/kozaktomas/smart-locker/internal/audit"
	"github.com/kozaktomas/smart-locker/internal/database"
	"github.com/kozaktomas/smart-locker/internal/enroll"
	"github.com/kozaktomas/smart-locker/internal/faceapi"
	"github.com/kozaktomas/smart-locker/internal/facematch"
	"github.com/kozaktomas/smart-locker/internal/hardware"
	"github.com/kozaktomas/smart-locker/internal/locker"
	"github.com/kozaktomas/smart-locker/internal/reset"
)

// errInvalidRequestBody is a shared error message for invalid JSON request bodies.
const errInvalidRequestBody = "invalid request body"

// Locker is the controller the handlers drive. *locker.Service implements it.
type Locker interface {
	Status(ctx context.Context) (*locker.Status, error)
	Allocate(ctx context.Context) int
	OpenSlot(ctx context.Context, slotID int) error
	IdentifyImage(ctx context.Context, imageData []byte, open bool) (*locker.Identification, error)
	IdentifyVector(ctx context.Context, query database.Vector, open bool) (*locker.Identification, error)
	Enroll(ctx context.Context, slotID int, progress func(enroll.Progress)) (*enroll.Result, error)
	EnrollAll(ctx context.Context, progress func(enroll.Progress)) ([]*enroll.Result, error)
	Audit(ctx context.Context) (audit.Report, error)
	Reset(ctx context.Context) (*reset.Report, error)
}

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// statusForError maps domain errors to HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, hardware.ErrUnknownSlot), errors.Is(err, database.ErrInvalidSlot):
		return http.StatusNotFound
	case errors.Is(err, database.ErrLocked):
		return http.StatusConflict
	case errors.Is(err, faceapi.ErrNoFace),
		errors.Is(err, faceapi.ErrUnreadableImage),
		errors.Is(err, facematch.ErrZeroVector),
		errors.Is(err, database.ErrDimensionMismatch):
		return http.StatusUnprocessableEntity
	case errors.Is(err, database.ErrCorruptStore), errors.Is(err, enroll.ErrAdapterFailed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondDomainError sends err with the status statusForError picks.
func respondDomainError(w http.ResponseWriter, err error) {
	respondError(w, statusForError(err), err.Error())
}

// HealthCheck handles the health check endpoint.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}
