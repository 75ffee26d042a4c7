package jobs

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/30ozSteak/StoryboardR-sub000/internal/models"
)

// Status is the lifecycle state of a processing job.
type Status string

const (
	StatusStarted     Status = "started"
	StatusDownloading Status = "downloading"
	StatusExtracting  Status = "extracting"
	StatusCompleted   Status = "completed"
	StatusError       Status = "error"
	StatusCancelled   Status = "cancelled"
)

// Terminal reports whether a job in this status will never change again.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError || s == StatusCancelled
}

// Result is the payload of a completed job. It is the sole input the
// project-creation flow consumes.
type Result struct {
	SessionID   string            `json:"session_id"`
	Keyframes   []models.Keyframe `json:"keyframes"`
	TotalFrames int               `json:"total_frames"`
	Duration    float64           `json:"duration"`
}

// Job tracks one asynchronous processing request.
type Job struct {
	ID        string    `json:"job_id"`
	SessionID string    `json:"session_id"`
	Status    Status    `json:"status"`
	Progress  int       `json:"progress"`
	Cancelled bool      `json:"cancelled"`
	Result    *Result   `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (r *Result) clone() *Result {
	if r == nil {
		return nil
	}
	copied := *r
	copied.Keyframes = append([]models.Keyframe(nil), r.Keyframes...)
	return &copied
}

// clone returns a copy sharing no mutable state with the receiver, so
// callers can never reach the stored record around the mutex.
func (j *Job) clone() *Job {
	copied := *j
	copied.Result = j.Result.clone()
	return &copied
}

// Update is a partial merge applied to a stored job. Nil fields are
// left untouched.
type Update struct {
	Status   *Status
	Progress *int
	Result   *Result
	Error    *string
}

// Store tracks in-flight and recently finished jobs.
//
// Get and Update return nil for jobs that no longer exist; callers must
// treat that as a normal outcome, not a failure. Terminal statuses are
// sticky: once a job is completed, errored or cancelled, Update refuses
// to change it. That rule is what closes the cancel/complete race - a
// late "completed" write from the background worker cannot overwrite an
// already-observed cancellation.
type Store interface {
	Create(sessionID string) *Job
	Get(id string) *Job
	Update(id string, upd Update) *Job
	Cancel(id string) bool
	Delete(id string)
	All() []*Job
	Stats() map[Status]int
	Sweep() int
}

// MemoryStore is the in-process Store. Jobs are lost on restart.
type MemoryStore struct {
	mu        sync.RWMutex
	jobs      map[string]*Job
	retention time.Duration
	now       func() time.Time
}

// NewMemoryStore creates a store that Sweep will purge of terminal jobs
// older than retention.
func NewMemoryStore(retention time.Duration) *MemoryStore {
	return &MemoryStore{
		jobs:      make(map[string]*Job),
		retention: retention,
		now:       time.Now,
	}
}

// Create allocates a new job for the given session.
func (s *MemoryStore) Create(sessionID string) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	job := &Job{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Status:    StatusStarted,
		Progress:  0,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.jobs[job.ID] = job

	return job.clone()
}

// Get returns a copy of the job, or nil if it was never created or has
// already been swept.
func (s *MemoryStore) Get(id string) *Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil
	}
	return job.clone()
}

// Update merges upd into the stored job and returns the result. For a
// job already in a terminal status the stored record is returned
// unchanged.
func (s *MemoryStore) Update(id string, upd Update) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil
	}

	if !job.Status.Terminal() {
		if upd.Status != nil {
			job.Status = *upd.Status
		}
		if upd.Progress != nil {
			job.Progress = *upd.Progress
		}
		if upd.Result != nil {
			job.Result = upd.Result.clone()
		}
		if upd.Error != nil {
			job.Error = *upd.Error
		}
		job.UpdatedAt = s.now()
	}

	return job.clone()
}

// Cancel marks the job cancelled. This is a request flag: the worker
// observes it at its next phase boundary and stops. Returns false when
// the job is unknown or expired. Cancelling an already-terminal job is
// a no-op that still reports true.
func (s *MemoryStore) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return false
	}
	if job.Status.Terminal() {
		return true
	}
	job.Cancelled = true
	job.Status = StatusCancelled
	job.UpdatedAt = s.now()
	return true
}

// Delete removes the job outright.
func (s *MemoryStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
}

// All returns copies of every tracked job.
func (s *MemoryStore) All() []*Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		all = append(all, job.clone())
	}
	return all
}

// Stats counts jobs per status.
func (s *MemoryStore) Stats() map[Status]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := make(map[Status]int)
	for _, job := range s.jobs {
		stats[job.Status]++
	}
	return stats
}

// Sweep deletes terminal jobs older than the retention window and
// returns how many were removed. This bounds memory growth from
// abandoned polling.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.retention)
	removed := 0
	for id, job := range s.jobs {
		if job.Status.Terminal() && job.UpdatedAt.Before(cutoff) {
			delete(s.jobs, id)
			removed++
		}
	}
	return removed
}

// Start runs the background sweeper until ctx is done.
func (s *MemoryStore) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("Started job sweeper (interval: %v, retention: %v)", interval, s.retention)

	for {
		select {
		case <-ctx.Done():
			log.Println("Job sweeper stopped")
			return
		case <-ticker.C:
			if removed := s.Sweep(); removed > 0 {
				log.Printf("Swept %d expired jobs", removed)
			}
		}
	}
}
