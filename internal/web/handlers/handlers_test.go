package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kozaktomas/smart-locker/internal/database"
	"github.com/kozaktomas/smart-locker/internal/enroll"
	"github.com/kozaktomas/smart-locker/internal/faceapi"
	"github.com/kozaktomas/smart-locker/internal/hardware"
)

func TestHealthCheck(t *testing.T) {
	rec := httptest.NewRecorder()
	HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}
	var body map[string]string
	json.NewDecoder(rec.Body).Decode(&body)
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %q", body["status"])
	}
}

func TestStatusForError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("wrapped: %w", hardware.ErrUnknownSlot), http.StatusNotFound},
		{database.ErrInvalidSlot, http.StatusNotFound},
		{database.ErrLocked, http.StatusConflict},
		{faceapi.ErrNoFace, http.StatusUnprocessableEntity},
		{database.ErrDimensionMismatch, http.StatusUnprocessableEntity},
		{database.ErrCorruptStore, http.StatusServiceUnavailable},
		{enroll.ErrAdapterFailed, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusForError(tt.err); got != tt.want {
			t.Errorf("statusForError(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestSlotsHandler_Status(t *testing.T) {
	env := newTestEnv(t)
	env.sim.SetBit(1, false)
	h := NewSlotsHandler(env.svc)

	rec := httptest.NewRecorder()
	h.Status(rec, httptest.NewRequest(http.MethodGet, "/api/v1/slots", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Allocated int    `json:"allocated"`
		Line      string `json:"line"`
		Counter   *int   `json:"counter"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Allocated != 2 {
		t.Errorf("expected allocation 2, got %d", body.Allocated)
	}
	if body.Line != "[2, 0, 1, 1, 1]" {
		t.Errorf("unexpected status line %q", body.Line)
	}
	if body.Counter != nil {
		t.Errorf("expected no counter before reset, got %d", *body.Counter)
	}
}

func TestSlotsHandler_Allocate(t *testing.T) {
	env := newTestEnv(t)
	h := NewSlotsHandler(env.svc)

	t.Run("lowest free", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.Allocate(rec, httptest.NewRequest(http.MethodPost, "/api/v1/slots/allocate", nil))
		if got := strings.TrimSpace(rec.Body.String()); got != `{"slot_id":1}` {
			t.Errorf("unexpected body %s", got)
		}
	})

	t.Run("full", func(t *testing.T) {
		for id := 1; id <= 4; id++ {
			env.sim.SetBit(id, false)
		}
		rec := httptest.NewRecorder()
		h.Allocate(rec, httptest.NewRequest(http.MethodPost, "/api/v1/slots/allocate", nil))
		if got := strings.TrimSpace(rec.Body.String()); got != `{"slot_id":null}` {
			t.Errorf("unexpected body %s", got)
		}
	})
}

func TestSlotsHandler_Open(t *testing.T) {
	env := newTestEnv(t)
	h := NewSlotsHandler(env.svc)

	tests := []struct {
		id   string
		want int
	}{
		{"3", http.StatusOK},
		{"9", http.StatusNotFound},
		{"abc", http.StatusBadRequest},
		{"0", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			req := requestWithChiParams(httptest.NewRequest(http.MethodPost, "/api/v1/slots/"+tt.id+"/open", nil),
				map[string]string{"id": tt.id})
			rec := httptest.NewRecorder()
			h.Open(rec, req)
			if rec.Code != tt.want {
				t.Errorf("expected status %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}

	if cmds := env.sim.Commands(); len(cmds) != 2 || cmds[0].Pin != 8 {
		t.Errorf("expected one pulse on pin 8, got %+v", cmds)
	}
}

func TestIdentifyHandler_Embedding(t *testing.T) {
	env := newTestEnv(t)
	env.store.SetRecord(2, database.Vector{1, 0, 0})
	h := NewIdentifyHandler(env.svc, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/identify?open=true",
		strings.NewReader(`{"embedding":[0.9,0.1,0]}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.Identify(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		SlotID int  `json:"slot_id"`
		Opened bool `json:"opened"`
	}
	json.NewDecoder(rec.Body).Decode(&body)
	if body.SlotID != 2 || !body.Opened {
		t.Errorf("expected slot 2 opened, got %+v", body)
	}
	if !env.sim.Commands()[0].Unlocked {
		t.Error("expected unlock command first")
	}
}

func TestIdentifyHandler_Errors(t *testing.T) {
	env := newTestEnv(t)
	env.store.SetRecord(1, database.Vector{1, 0, 0})
	h := NewIdentifyHandler(env.svc, nil)

	tests := []struct {
		name        string
		url         string
		contentType string
		body        string
		want        int
	}{
		{"zero query", "/api/v1/identify", "application/json", `{"embedding":[0,0,0]}`, http.StatusUnprocessableEntity},
		{"wrong dimension", "/api/v1/identify", "application/json", `{"embedding":[1,0]}`, http.StatusUnprocessableEntity},
		{"empty embedding", "/api/v1/identify", "application/json", `{}`, http.StatusBadRequest},
		{"bad json", "/api/v1/identify", "application/json", `{`, http.StatusBadRequest},
		{"bad open flag", "/api/v1/identify?open=maybe", "application/json", `{"embedding":[1,0,0]}`, http.StatusBadRequest},
		{"unsupported type", "/api/v1/identify", "text/plain", "hi", http.StatusUnsupportedMediaType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, tt.url, strings.NewReader(tt.body))
			req.Header.Set("Content-Type", tt.contentType)
			rec := httptest.NewRecorder()
			h.Identify(rec, req)
			if rec.Code != tt.want {
				t.Errorf("expected status %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}
	if len(env.sim.Commands()) != 0 {
		t.Error("failed identifications must not actuate")
	}
}

func multipartImage(t *testing.T, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "query.png")
	if err != nil {
		t.Fatal(err)
	}
	part.Write(data)
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func TestEnrollAndIdentifyImage(t *testing.T) {
	env := newTestEnv(t)
	slotDir := filepath.Join(env.cfg.Storage.DatasetDir, "4")
	if err := os.MkdirAll(slotDir, 0o755); err != nil {
		t.Fatal(err)
	}
	query := facePNG(t, 2)
	if err := os.WriteFile(filepath.Join(slotDir, "001.png"), query, 0o644); err != nil {
		t.Fatal(err)
	}

	jm := NewJobManager()
	eh := NewEnrollHandler(env.svc, jm, nil)

	rec := httptest.NewRecorder()
	eh.Start(rec, httptest.NewRequest(http.MethodPost, "/api/v1/enroll", strings.NewReader(`{"slot_id":4}`)))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var started struct {
		JobID string `json:"job_id"`
	}
	json.NewDecoder(rec.Body).Decode(&started)

	job := jm.GetJob(started.JobID)
	if job == nil {
		t.Fatal("job not registered")
	}
	deadline := time.Now().Add(5 * time.Second)
	for !isJobTerminal(job.GetStatus()) {
		if time.Now().After(deadline) {
			t.Fatal("enrollment job did not finish")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if job.GetStatus() != JobStatusCompleted {
		t.Fatalf("expected completed job, got %s (%s)", job.GetStatus(), job.snapshot().Error)
	}

	statusRec := httptest.NewRecorder()
	eh.Status(statusRec, requestWithChiParams(httptest.NewRequest(http.MethodGet, "/api/v1/enroll/"+job.ID, nil),
		map[string]string{"jobId": job.ID}))
	if statusRec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", statusRec.Code)
	}

	body, contentType := multipartImage(t, query)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/identify", body)
	req.Header.Set("Content-Type", contentType)
	idRec := httptest.NewRecorder()
	NewIdentifyHandler(env.svc, nil).Identify(idRec, req)

	if idRec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", idRec.Code, idRec.Body.String())
	}
	var res struct {
		SlotID int  `json:"slot_id"`
		Opened bool `json:"opened"`
	}
	json.NewDecoder(idRec.Body).Decode(&res)
	if res.SlotID != 4 || res.Opened {
		t.Errorf("expected slot 4 identified without opening, got %+v", res)
	}
}

func TestEnrollHandler_UnknownJob(t *testing.T) {
	env := newTestEnv(t)
	eh := NewEnrollHandler(env.svc, NewJobManager(), nil)

	rec := httptest.NewRecorder()
	eh.Status(rec, requestWithChiParams(httptest.NewRequest(http.MethodGet, "/api/v1/enroll/nope", nil),
		map[string]string{"jobId": "nope"}))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	eh.Start(rec, httptest.NewRequest(http.MethodPost, "/api/v1/enroll", strings.NewReader(`{"slot_id":-1}`)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", rec.Code)
	}
}

func TestEnrollHandler_EventsForFinishedJob(t *testing.T) {
	env := newTestEnv(t)
	jm := NewJobManager()
	eh := NewEnrollHandler(env.svc, jm, nil)

	job := jm.CreateJob("job-1", 1, func() {})
	job.mu.Lock()
	job.Status = JobStatusFailed
	job.Error = "no images"
	job.mu.Unlock()

	rec := httptest.NewRecorder()
	eh.Events(rec, requestWithChiParams(httptest.NewRequest(http.MethodGet, "/api/v1/enroll/job-1/events", nil),
		map[string]string{"jobId": "job-1"}))

	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("expected event stream, got %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "event: status") || !strings.Contains(rec.Body.String(), "no images") {
		t.Errorf("unexpected stream %q", rec.Body.String())
	}
}

func TestMaintenanceHandler(t *testing.T) {
	env := newTestEnv(t)
	env.store.SetRecord(1, database.Vector{1, 0}, database.Vector{0, 1})
	h := NewMaintenanceHandler(env.svc)

	rec := httptest.NewRecorder()
	h.Audit(rec, httptest.NewRequest(http.MethodGet, "/api/v1/audit", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var audit struct {
		Healthy bool `json:"healthy"`
		Report  struct {
			Missing []int `json:"missing"`
		} `json:"report"`
	}
	json.NewDecoder(rec.Body).Decode(&audit)
	if len(audit.Report.Missing) != 3 {
		t.Errorf("expected 3 missing slots, got %v", audit.Report.Missing)
	}

	rec = httptest.NewRecorder()
	h.Reset(rec, httptest.NewRequest(http.MethodPost, "/api/v1/reset", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var rep struct {
		CounterValue int `json:"counter_value"`
	}
	json.NewDecoder(rec.Body).Decode(&rep)
	if rep.CounterValue != 4 {
		t.Errorf("expected counter 4, got %d", rep.CounterValue)
	}
	if len(env.store.Snapshot()) != 0 {
		t.Error("expected store cleared")
	}
}

// blockingLocker holds Enroll until release is closed
type blockingLocker struct {
	Locker
	started chan struct{}
	release chan struct{}
}

func (l *blockingLocker) Enroll(ctx context.Context, slotID int, progress func(enroll.Progress)) (*enroll.Result, error) {
	close(l.started)
	<-l.release
	return &enroll.Result{SlotID: slotID}, nil
}

func TestEnrollJob_CancelledStaysCancelled(t *testing.T) {
	l := &blockingLocker{started: make(chan struct{}), release: make(chan struct{})}
	jm := NewJobManager()
	eh := NewEnrollHandler(l, jm, nil)

	ctx, cancel := context.WithCancel(context.Background())
	job := jm.CreateJob("job-1", 2, cancel)
	events := job.AddListener()

	done := make(chan struct{})
	go func() {
		eh.runEnrollJob(ctx, job)
		close(done)
	}()

	<-l.started
	job.Cancel()
	close(l.release)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("enrollment job did not finish")
	}

	if status := job.GetStatus(); status != JobStatusCancelled {
		t.Errorf("expected status %q, got %q", JobStatusCancelled, status)
	}
	if job.snapshot().CompletedAt == nil {
		t.Error("expected completion time to be recorded")
	}

	var cancelled int
drain:
	for {
		select {
		case ev := <-events:
			switch ev.Type {
			case EventCompleted, EventFailed:
				t.Errorf("unexpected %s event after cancellation", ev.Type)
			case EventCancelled:
				cancelled++
			}
		default:
			break drain
		}
	}
	if cancelled != 1 {
		t.Errorf("expected one cancelled event, got %d", cancelled)
	}
}

func TestEnrollHandler_OversizedBody(t *testing.T) {
	env := newTestEnv(t)
	eh := NewEnrollHandler(env.svc, NewJobManager(), nil)

	body := `{"slot_id":1,"pad":"` + strings.Repeat("x", 8<<10) + `"}`
	rec := httptest.NewRecorder()
	eh.Start(rec, httptest.NewRequest(http.MethodPost, "/api/v1/enroll", strings.NewReader(body)))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected status 413, got %d", rec.Code)
	}
}
