package service

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/30ozSteak/StoryboardR-sub000/internal/config"
	"github.com/30ozSteak/StoryboardR-sub000/internal/events"
	"github.com/30ozSteak/StoryboardR-sub000/internal/jobs"
	"github.com/30ozSteak/StoryboardR-sub000/internal/models"
	"github.com/30ozSteak/StoryboardR-sub000/internal/repository"
	"github.com/30ozSteak/StoryboardR-sub000/pkg/ffmpeg"
)

var (
	jobsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storyboardr_jobs_processed_total",
		Help: "Total number of processing jobs by terminal status",
	}, []string{"status"})

	jobPhaseDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "storyboardr_job_phase_duration_seconds",
		Help:    "Duration of job phases in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"phase"})
)

// Coarse phase-based progress values reported while a job runs.
const (
	progressDownloading = 10
	progressExtracting  = 50
	progressDone        = 100
)

// Downloader materializes a local video file from a URL.
type Downloader interface {
	Download(ctx context.Context, rawURL, destPath string) error
}

// Extractor produces still frames from a local video file.
type Extractor interface {
	GetVideoInfo(ctx context.Context, videoPath string) (*ffmpeg.VideoInfo, error)
	ExtractKeyframes(ctx context.Context, videoPath, outDir string, opts ExtractionOptions) (*ExtractionResult, error)
	ExtractFrameAtTimestamp(ctx context.Context, videoPath, outPath string, timestamp float64, quality int) error
}

// ProcessSource is either a remote URL or an already-uploaded local file.
type ProcessSource struct {
	URL        string
	UploadPath string
	UploadName string
}

// VideoProcessor owns the asynchronous pipeline that turns one
// "process this video" request into a completed job. The goroutine it
// spawns is the only writer of the job's lifecycle; requests observe it
// exclusively through the job store.
type VideoProcessor struct {
	config     *config.Config
	store      jobs.Store
	downloader Downloader
	extractor  Extractor
	publisher  *events.Publisher
	sessions   *repository.SessionRepository // nil when persistence is disabled
}

func NewVideoProcessor(
	cfg *config.Config,
	store jobs.Store,
	downloader Downloader,
	extractor Extractor,
	publisher *events.Publisher,
	sessions *repository.SessionRepository,
) *VideoProcessor {
	return &VideoProcessor{
		config:     cfg,
		store:      store,
		downloader: downloader,
		extractor:  extractor,
		publisher:  publisher,
		sessions:   sessions,
	}
}

// VideoPath returns the session's source video location on disk.
func (p *VideoProcessor) VideoPath(sessionID string) string {
	return filepath.Join(p.config.VideoStorageDir, sessionID+".mp4")
}

// FramesDir returns the session's frame output directory.
func (p *VideoProcessor) FramesDir(sessionID string) string {
	return filepath.Join(p.config.FrameStorageDir, sessionID)
}

func (p *VideoProcessor) frameURL(sessionID, filename string) string {
	return fmt.Sprintf("%s/%s/%s", p.config.FrameBaseURL, sessionID, filename)
}

// StartProcessing creates the session directories and the job record,
// then hands the rest of the pipeline to a background goroutine. The
// caller gets the identifiers immediately and polls for progress.
func (p *VideoProcessor) StartProcessing(source ProcessSource, opts ExtractionOptions) (*jobs.Job, error) {
	sessionID := uuid.New().String()

	if err := os.MkdirAll(p.FramesDir(sessionID), 0755); err != nil {
		return nil, fmt.Errorf("failed to create frames directory: %w", err)
	}
	if err := os.MkdirAll(p.config.VideoStorageDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create video directory: %w", err)
	}

	job := p.store.Create(sessionID)
	log.Printf("[JOB %s] Created for session %s", job.ID, sessionID)

	if p.sessions != nil {
		now := time.Now().UTC()
		session := &models.Session{
			ID:         sessionID,
			SourceURL:  source.URL,
			UploadName: source.UploadName,
			VideoPath:  p.VideoPath(sessionID),
			FramesDir:  p.FramesDir(sessionID),
			Status:     models.StatusProcessing,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := p.sessions.CreateSession(context.Background(), session); err != nil {
			log.Printf("[JOB %s] Failed to persist session record: %v", job.ID, err)
		}
	}

	go p.process(job.ID, sessionID, source, opts)
	return job, nil
}

// CancelJob requests cancellation. The background worker observes the
// flag at its next phase boundary; the store makes the cancelled status
// immediately visible and sticky. The metric and event fire only when
// the job actually transitions, so repeat cancels and cancels of
// already-finished jobs are silent no-ops.
func (p *VideoProcessor) CancelJob(jobID string) bool {
	before := p.store.Get(jobID)
	if before == nil || !p.store.Cancel(jobID) {
		return false
	}
	if before.Status.Terminal() {
		return true
	}
	log.Printf("[JOB %s] Cancellation requested", jobID)
	if job := p.store.Get(jobID); job != nil {
		p.publisher.Publish(events.JobEvent{
			JobID:     job.ID,
			SessionID: job.SessionID,
			Status:    string(job.Status),
			Progress:  job.Progress,
		})
		jobsProcessedTotal.WithLabelValues(string(jobs.StatusCancelled)).Inc()
	}
	return true
}

// process runs the job state machine: downloading -> extracting ->
// completed|error, checking the cancellation flag between phases.
func (p *VideoProcessor) process(jobID, sessionID string, source ProcessSource, opts ExtractionOptions) {
	ctx := context.Background()
	videoPath := p.VideoPath(sessionID)
	framesDir := p.FramesDir(sessionID)

	// Phase 1: acquisition. For uploads the phase is a rename, but the
	// status update is still emitted so pollers see a consistent
	// sequence.
	p.transition(jobID, sessionID, jobs.StatusDownloading, progressDownloading)

	phaseStart := time.Now()
	if source.URL != "" {
		if err := p.downloader.Download(ctx, source.URL, videoPath); err != nil {
			p.fail(jobID, sessionID, videoPath, true, err)
			return
		}
	} else if source.UploadPath != "" && source.UploadPath != videoPath {
		if err := os.Rename(source.UploadPath, videoPath); err != nil {
			p.fail(jobID, sessionID, videoPath, true, fmt.Errorf("failed to move uploaded file: %w", err))
			return
		}
	}
	jobPhaseDuration.WithLabelValues("download").Observe(time.Since(phaseStart).Seconds())

	if p.cancelled(jobID) {
		log.Printf("[JOB %s] Cancelled after download phase", jobID)
		return
	}

	// Phase 2: extraction.
	p.transition(jobID, sessionID, jobs.StatusExtracting, progressExtracting)

	phaseStart = time.Now()
	result, err := p.extractor.ExtractKeyframes(ctx, videoPath, framesDir, opts)
	if err != nil {
		// Keep the video file: the session directory sweep owns it now.
		p.fail(jobID, sessionID, videoPath, false, err)
		return
	}
	jobPhaseDuration.WithLabelValues("extract").Observe(time.Since(phaseStart).Seconds())

	if p.cancelled(jobID) {
		log.Printf("[JOB %s] Cancelled after extraction phase", jobID)
		return
	}

	// Phase 3: assemble the result and finish. The store refuses to
	// overwrite a terminal status, so a cancellation that raced this
	// write wins.
	keyframes := make([]models.Keyframe, len(result.Keyframes))
	for i, filename := range result.Keyframes {
		timestamp := float64(i * 2)
		if i < len(result.Timestamps) {
			timestamp = result.Timestamps[i]
		}
		keyframes[i] = models.Keyframe{
			ID:                 uuid.New().String(),
			Filename:           filename,
			URL:                p.frameURL(sessionID, filename),
			Timestamp:          timestamp,
			Index:              i,
			Kind:               models.FrameExtracted,
			TimestampEstimated: result.TimestampsEstimated,
		}
	}
	jobResult := &jobs.Result{
		SessionID:   sessionID,
		Keyframes:   keyframes,
		TotalFrames: len(keyframes),
		Duration:    result.Duration,
	}

	status := jobs.StatusCompleted
	progress := progressDone
	final := p.store.Update(jobID, jobs.Update{Status: &status, Progress: &progress, Result: jobResult})
	switch {
	case final == nil:
		log.Printf("[JOB %s] Finished but job already swept", jobID)
	case final.Status != jobs.StatusCompleted:
		log.Printf("[JOB %s] Finished but job already %s, result discarded", jobID, final.Status)
	default:
		log.Printf("[JOB %s] Completed with %d frames", jobID, len(keyframes))
		jobsProcessedTotal.WithLabelValues(string(jobs.StatusCompleted)).Inc()
		p.publisher.Publish(events.JobEvent{
			JobID:     jobID,
			SessionID: sessionID,
			Status:    string(jobs.StatusCompleted),
			Progress:  progressDone,
		})
		if p.sessions != nil {
			if err := p.sessions.UpdateSessionStatus(ctx, sessionID, models.StatusCompleted, len(keyframes)); err != nil {
				log.Printf("[JOB %s] Failed to update session record: %v", jobID, err)
			}
		}
	}
}

// transition emits a non-terminal phase update. A nil return means the
// job was already swept or cancelled; the worker keeps going and relies
// on the cancellation checks to stop, since updates are fire-and-forget.
func (p *VideoProcessor) transition(jobID, sessionID string, status jobs.Status, progress int) {
	updated := p.store.Update(jobID, jobs.Update{Status: &status, Progress: &progress})
	if updated == nil {
		return
	}
	log.Printf("[JOB %s] %s (progress %d)", jobID, status, progress)
	p.publisher.Publish(events.JobEvent{
		JobID:     jobID,
		SessionID: sessionID,
		Status:    string(updated.Status),
		Progress:  updated.Progress,
	})
}

// cancelled reports whether the worker should stop. A swept job also
// stops the worker: nobody is listening anymore.
func (p *VideoProcessor) cancelled(jobID string) bool {
	job := p.store.Get(jobID)
	return job == nil || job.Cancelled || job.Status == jobs.StatusCancelled
}

// fail normalizes any pipeline failure into the job's error field and
// cleans up what the failed phase left behind.
func (p *VideoProcessor) fail(jobID, sessionID, videoPath string, cleanupVideo bool, err error) {
	log.Printf("[JOB %s] ERROR: %v", jobID, err)

	errMsg := err.Error()
	status := jobs.StatusError
	final := p.store.Update(jobID, jobs.Update{Status: &status, Error: &errMsg})
	if final != nil && final.Status == jobs.StatusError {
		jobsProcessedTotal.WithLabelValues(string(jobs.StatusError)).Inc()
		p.publisher.Publish(events.JobEvent{
			JobID:     jobID,
			SessionID: sessionID,
			Status:    string(jobs.StatusError),
			Progress:  final.Progress,
			Error:     errMsg,
		})
	}

	// Best-effort cleanup; a cleanup failure must not mask the original
	// error, so it is only logged.
	if cleanupVideo {
		if removeErr := os.Remove(videoPath); removeErr != nil && !os.IsNotExist(removeErr) {
			log.Printf("[JOB %s] Cleanup failed for %s: %v", jobID, videoPath, removeErr)
		}
	}

	if p.sessions != nil {
		if repoErr := p.sessions.UpdateSessionStatus(context.Background(), sessionID, models.StatusFailed, 0); repoErr != nil {
			log.Printf("[JOB %s] Failed to update session record: %v", jobID, repoErr)
		}
	}
}
