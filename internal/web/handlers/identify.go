package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	"github.com/kozaktomas/smart-locker/internal/constants"
	"github.com/kozaktomas/smart-locker/internal/database"
	"github.com/kozaktomas/smart-locker/internal/locker"
	"github.com/kozaktomas/smart-locker/internal/logging"
)

// IdentifyHandler matches a live face against the enrolled slots
type IdentifyHandler struct {
	locker Locker
	logger *slog.Logger
}

// NewIdentifyHandler creates a new identify handler
func NewIdentifyHandler(l Locker, logger *slog.Logger) *IdentifyHandler {
	return &IdentifyHandler{locker: l, logger: logging.OrDefault(logger)}
}

// IdentifyRequest carries a precomputed query embedding
type IdentifyRequest struct {
	Embedding []float32 `json:"embedding"`
}

// Identify accepts either a multipart "file" image or a JSON embedding.
// With ?open=true a matched slot is unlocked.
func (h *IdentifyHandler) Identify(w http.ResponseWriter, r *http.Request) {
	open, err := parseOpen(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid open parameter")
		return
	}

	var res *locker.Identification
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "multipart/form-data":
		data, ok := readQueryImage(w, r)
		if !ok {
			return
		}
		res, err = h.locker.IdentifyImage(r.Context(), data, open)
	case "application/json":
		var req IdentifyRequest
		body := http.MaxBytesReader(w, r.Body, constants.MaxEmbeddingRequestSize)
		if err := json.NewDecoder(body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, errInvalidRequestBody)
			return
		}
		if len(req.Embedding) == 0 {
			respondError(w, http.StatusBadRequest, "embedding is required")
			return
		}
		res, err = h.locker.IdentifyVector(r.Context(), database.Vector(req.Embedding), open)
	default:
		respondError(w, http.StatusUnsupportedMediaType, "expected multipart/form-data or application/json")
		return
	}

	if err != nil {
		h.logger.Warn("identification failed", "error", sanitizeForLog(err.Error()))
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func parseOpen(r *http.Request) (bool, error) {
	v := r.URL.Query().Get("open")
	if v == "" {
		return false, nil
	}
	return strconv.ParseBool(v)
}

func readQueryImage(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxQueryImageSize)
	if err := r.ParseMultipartForm(constants.MaxQueryImageSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, "image too large")
		} else {
			respondError(w, http.StatusBadRequest, "invalid multipart form")
		}
		return nil, false
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, "file is required")
		return nil, false
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read image")
		return nil, false
	}
	return data, true
}
