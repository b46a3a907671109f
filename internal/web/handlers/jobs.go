package handlers

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kozaktomas/smart-locker/internal/constants"
	"github.com/kozaktomas/smart-locker/internal/enroll"
)

// JobStatus represents the status of an async job.
type JobStatus string

// JobStatus constants define the lifecycle states of an async job.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Event types sent to job listeners.
const (
	EventStarted   = "started"
	EventProgress  = "progress"
	EventCompleted = "completed"
	EventFailed    = "job_error"
	EventCancelled = "cancelled"
)

// EnrollJob is an async enrollment run over one slot or the whole dataset.
type EnrollJob struct {
	EventBroadcaster

	ID             string           `json:"id"`
	SlotID         int              `json:"slot_id,omitempty"` // 0 enrolls every slot directory
	Status         JobStatus        `json:"status"`
	ProcessedFiles int              `json:"processed_files"`
	Error          string           `json:"error,omitempty"`
	StartedAt      time.Time        `json:"started_at"`
	CompletedAt    *time.Time       `json:"completed_at,omitempty"`
	Results        []*enroll.Result `json:"results,omitempty"`
}

// GetStatus returns the current job status (implements SSEJob).
func (j *EnrollJob) GetStatus() JobStatus {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status
}

// snapshot returns a copy safe to encode while the job runs.
func (j *EnrollJob) snapshot() *EnrollJob {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return &EnrollJob{
		ID:             j.ID,
		SlotID:         j.SlotID,
		Status:         j.Status,
		ProcessedFiles: j.ProcessedFiles,
		Error:          j.Error,
		StartedAt:      j.StartedAt,
		CompletedAt:    j.CompletedAt,
		Results:        j.Results,
	}
}

// finish records the outcome of the run and moves the job to status unless
// it already reached a terminal status, which is kept. It returns the final
// status.
func (j *EnrollJob) finish(status JobStatus, results []*enroll.Result, err error) JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()

	now := time.Now()
	j.Results = results
	j.CompletedAt = &now
	if isJobTerminal(j.Status) {
		return j.Status
	}
	j.Status = status
	if status == JobStatusFailed && err != nil {
		j.Error = err.Error()
	}
	return j.Status
}

// Cancel cancels the enrollment job. Images already encoded are discarded;
// the store only changes when a slot finishes.
func (j *EnrollJob) Cancel() {
	j.mu.Lock()
	if isJobTerminal(j.Status) {
		j.mu.Unlock()
		return
	}
	j.Status = JobStatusCancelled
	j.mu.Unlock()
	j.EventBroadcaster.Cancel()
}

// JobEvent represents an event from a job.
type JobEvent struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// EventBroadcaster provides listener management and event broadcasting for async jobs.
// Embed this in job structs to get AddListener, RemoveListener, and SendEvent methods.
type EventBroadcaster struct {
	cancel    context.CancelFunc
	listeners []chan JobEvent
	mu        sync.RWMutex
}

// AddListener adds an event listener.
func (b *EventBroadcaster) AddListener() chan JobEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan JobEvent, constants.EventChannelBuffer)
	b.listeners = append(b.listeners, ch)
	return ch
}

// RemoveListener removes an event listener.
func (b *EventBroadcaster) RemoveListener(ch chan JobEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, listener := range b.listeners {
		if listener == ch {
			b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
			close(ch)
			return
		}
	}
}

// SendEvent sends an event to all listeners.
func (b *EventBroadcaster) SendEvent(event JobEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, listener := range b.listeners {
		select {
		case listener <- event:
		default:
			// Listener buffer full, skip.
		}
	}
}

// Cancel cancels the job via context and sends a cancelled event.
func (b *EventBroadcaster) Cancel() {
	b.mu.RLock()
	cancel := b.cancel
	b.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
	b.SendEvent(JobEvent{Type: EventCancelled, Message: "Job cancelled by user"})
}

// SSEJob is the interface required by streamSSEEvents to stream job events via SSE.
type SSEJob interface {
	AddListener() chan JobEvent
	RemoveListener(ch chan JobEvent)
	GetStatus() JobStatus
}

// JobManager manages async enrollment jobs.
type JobManager struct {
	jobs map[string]*EnrollJob
	mu   sync.RWMutex
}

// NewJobManager creates a new job manager.
func NewJobManager() *JobManager {
	return &JobManager{
		jobs: make(map[string]*EnrollJob),
	}
}

// CreateJob registers a pending enrollment job, dropping the oldest
// finished jobs beyond the retention limit.
func (m *JobManager) CreateJob(id string, slotID int, cancel context.CancelFunc) *EnrollJob {
	job := &EnrollJob{
		ID:        id,
		SlotID:    slotID,
		Status:    JobStatusPending,
		StartedAt: time.Now(),
	}
	job.cancel = cancel

	m.mu.Lock()
	m.jobs[id] = job
	m.pruneLocked()
	m.mu.Unlock()

	return job
}

func (m *JobManager) pruneLocked() {
	var finished []*EnrollJob
	for _, job := range m.jobs {
		if isJobTerminal(job.GetStatus()) {
			finished = append(finished, job)
		}
	}
	if len(finished) <= constants.FinishedJobRetention {
		return
	}
	sort.Slice(finished, func(i, j int) bool {
		return finished[i].StartedAt.Before(finished[j].StartedAt)
	})
	for _, job := range finished[:len(finished)-constants.FinishedJobRetention] {
		delete(m.jobs, job.ID)
	}
}

// GetJob retrieves a job by ID.
func (m *JobManager) GetJob(id string) *EnrollJob {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.jobs[id]
}

// ListJobs returns all jobs, most recent first.
func (m *JobManager) ListJobs() []*EnrollJob {
	m.mu.RLock()
	defer m.mu.RUnlock()
	jobs := make([]*EnrollJob, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, job)
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].StartedAt.After(jobs[j].StartedAt)
	})
	return jobs
}
