package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kozaktomas/smart-locker/internal/constants"
	"github.com/kozaktomas/smart-locker/internal/enroll"
	"github.com/kozaktomas/smart-locker/internal/logging"
)

// EnrollHandler runs enrollment as background jobs
type EnrollHandler struct {
	locker     Locker
	jobManager *JobManager
	logger     *slog.Logger
}

// NewEnrollHandler creates a new enroll handler
func NewEnrollHandler(l Locker, jm *JobManager, logger *slog.Logger) *EnrollHandler {
	return &EnrollHandler{locker: l, jobManager: jm, logger: logging.OrDefault(logger)}
}

// EnrollRequest selects the slot to enroll; 0 or omitted enrolls all slots
type EnrollRequest struct {
	SlotID int `json:"slot_id"`
}

// Start creates an enrollment job and runs it in the background
func (h *EnrollHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req EnrollRequest
	body := http.MaxBytesReader(w, r.Body, constants.MaxEnrollRequestSize)
	if err := json.NewDecoder(body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, "request body too large")
		} else {
			respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		}
		return
	}
	if req.SlotID < 0 {
		respondError(w, http.StatusBadRequest, "invalid slot id")
		return
	}

	// The job outlives the request, so its context must not derive from it.
	ctx, cancel := context.WithCancel(context.Background())
	job := h.jobManager.CreateJob(uuid.New().String(), req.SlotID, cancel)

	go h.runEnrollJob(ctx, job)

	respondJSON(w, http.StatusAccepted, map[string]any{
		"job_id":  job.ID,
		"slot_id": req.SlotID,
		"status":  string(JobStatusPending),
	})
}

// List returns known enrollment jobs
func (h *EnrollHandler) List(w http.ResponseWriter, r *http.Request) {
	jobs := h.jobManager.ListJobs()
	out := make([]*EnrollJob, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, job.snapshot())
	}
	respondJSON(w, http.StatusOK, out)
}

// Status returns the status of an enrollment job
func (h *EnrollHandler) Status(w http.ResponseWriter, r *http.Request) {
	job := h.lookup(w, r)
	if job == nil {
		return
	}
	respondJSON(w, http.StatusOK, job.snapshot())
}

// Events streams job events via SSE
func (h *EnrollHandler) Events(w http.ResponseWriter, r *http.Request) {
	streamSSEEvents(w, r,
		func(id string) SSEJob {
			job := h.jobManager.GetJob(id)
			if job == nil {
				return nil
			}
			return job
		},
		func(job SSEJob) any {
			return job.(*EnrollJob).snapshot()
		},
	)
}

// Cancel cancels an enrollment job
func (h *EnrollHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	job := h.lookup(w, r)
	if job == nil {
		return
	}
	job.Cancel()
	respondJSON(w, http.StatusOK, map[string]bool{"cancelled": true})
}

func (h *EnrollHandler) lookup(w http.ResponseWriter, r *http.Request) *EnrollJob {
	jobID := chi.URLParam(r, "jobId")
	if jobID == "" {
		respondError(w, http.StatusBadRequest, "missing job ID")
		return nil
	}
	job := h.jobManager.GetJob(jobID)
	if job == nil {
		respondError(w, http.StatusNotFound, "job not found")
		return nil
	}
	return job
}

func (h *EnrollHandler) runEnrollJob(ctx context.Context, job *EnrollJob) {
	defer job.cancel()

	job.mu.Lock()
	if job.Status == JobStatusCancelled {
		job.mu.Unlock()
		return
	}
	job.Status = JobStatusRunning
	job.mu.Unlock()
	job.SendEvent(JobEvent{Type: EventStarted, Message: "Enrollment started"})

	progress := func(p enroll.Progress) {
		job.mu.Lock()
		job.ProcessedFiles++
		job.mu.Unlock()
		job.SendEvent(JobEvent{Type: EventProgress, Data: p})
	}

	var results []*enroll.Result
	var err error
	if job.SlotID == 0 {
		results, err = h.locker.EnrollAll(ctx, progress)
	} else {
		var res *enroll.Result
		res, err = h.locker.Enroll(ctx, job.SlotID, progress)
		if res != nil {
			results = []*enroll.Result{res}
		}
	}

	want := JobStatusCompleted
	switch {
	case err != nil && ctx.Err() != nil:
		want = JobStatusCancelled
	case err != nil:
		want = JobStatusFailed
	}

	switch job.finish(want, results, err) {
	case JobStatusCancelled:
		// Cancel already sent the terminal event
		h.logger.Info("enrollment job cancelled", "job", job.ID, "slots", len(results))
	case JobStatusFailed:
		h.logger.Error("enrollment job failed", "job", job.ID, "error", err)
		job.SendEvent(JobEvent{Type: EventFailed, Message: err.Error(), Data: results})
	default:
		h.logger.Info("enrollment job completed", "job", job.ID, "slots", len(results))
		job.SendEvent(JobEvent{Type: EventCompleted, Data: results})
	}
}
