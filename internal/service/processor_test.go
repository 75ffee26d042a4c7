package service

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/30ozSteak/StoryboardR-sub000/internal/config"
	"github.com/30ozSteak/StoryboardR-sub000/internal/events"
	"github.com/30ozSteak/StoryboardR-sub000/internal/jobs"
	"github.com/30ozSteak/StoryboardR-sub000/internal/models"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.New()
	root := t.TempDir()
	cfg.VideoStorageDir = filepath.Join(root, "uploads")
	cfg.FrameStorageDir = filepath.Join(root, "frames")
	cfg.RabbitMQEnabled = false
	cfg.PostgresEnabled = false
	return cfg
}

func newTestProcessor(t *testing.T, cfg *config.Config, downloader Downloader, extractor Extractor) (*VideoProcessor, *jobs.MemoryStore) {
	t.Helper()
	store := jobs.NewMemoryStore(10 * time.Minute)
	publisher := events.NewPublisher(cfg)
	return NewVideoProcessor(cfg, store, downloader, extractor, publisher, nil), store
}

// newTestJob creates the job record and session directories directly so
// the pipeline can be driven synchronously with p.process.
func newTestJob(t *testing.T, processor *VideoProcessor, store *jobs.MemoryStore, cfg *config.Config) *jobs.Job {
	t.Helper()
	job := store.Create(uuid.New().String())
	require.NoError(t, os.MkdirAll(processor.FramesDir(job.SessionID), 0755))
	require.NoError(t, os.MkdirAll(cfg.VideoStorageDir, 0755))
	return job
}

func TestProcessor_SuccessFlow(t *testing.T) {
	cfg := testConfig(t)
	downloader := new(MockDownloader)
	extractor := new(MockExtractor)
	processor, store := newTestProcessor(t, cfg, downloader, extractor)
	job := newTestJob(t, processor, store, cfg)

	opts := ExtractionOptions{MaxFrames: 3, IncludeLastFrame: true}
	videoPath := processor.VideoPath(job.SessionID)
	framesDir := processor.FramesDir(job.SessionID)

	downloader.On("Download", mock.Anything, "https://cdn.example.com/v.mp4", videoPath).Return(nil)
	extractor.On("ExtractKeyframes", mock.Anything, videoPath, framesDir, opts).Return(&ExtractionResult{
		Keyframes:  []string{"keyframe_0001.jpg", "keyframe_0002.jpg", "keyframe_0003.jpg"},
		Timestamps: []float64{0, 15, 29.9},
		Duration:   30,
	}, nil)

	processor.process(job.ID, job.SessionID, ProcessSource{URL: "https://cdn.example.com/v.mp4"}, opts)

	final := store.Get(job.ID)
	require.NotNil(t, final)
	assert.Equal(t, jobs.StatusCompleted, final.Status)
	assert.Equal(t, 100, final.Progress)
	require.NotNil(t, final.Result)
	assert.Equal(t, job.SessionID, final.Result.SessionID)
	assert.Equal(t, 3, final.Result.TotalFrames)
	require.Len(t, final.Result.Keyframes, 3)
	assert.InDelta(t, 30.0, final.Result.Duration, 0.001)

	first := final.Result.Keyframes[0]
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, "keyframe_0001.jpg", first.Filename)
	assert.Equal(t, "/frames/"+job.SessionID+"/keyframe_0001.jpg", first.URL)
	assert.Equal(t, 0, first.Index)
	assert.Equal(t, models.FrameExtracted, first.Kind)
	assert.InDelta(t, 29.9, final.Result.Keyframes[2].Timestamp, 0.001)

	downloader.AssertExpectations(t)
	extractor.AssertExpectations(t)
}

func TestProcessor_TimestampFallback(t *testing.T) {
	cfg := testConfig(t)
	downloader := new(MockDownloader)
	extractor := new(MockExtractor)
	processor, store := newTestProcessor(t, cfg, downloader, extractor)
	job := newTestJob(t, processor, store, cfg)

	downloader.On("Download", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	extractor.On("ExtractKeyframes", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(&ExtractionResult{
		Keyframes: []string{"keyframe_0001.jpg", "keyframe_0002.jpg"},
		Duration:  10,
	}, nil)

	processor.process(job.ID, job.SessionID, ProcessSource{URL: "https://cdn.example.com/v.mp4"}, ExtractionOptions{})

	final := store.Get(job.ID)
	require.NotNil(t, final)
	require.NotNil(t, final.Result)
	assert.Equal(t, 0.0, final.Result.Keyframes[0].Timestamp)
	assert.Equal(t, 2.0, final.Result.Keyframes[1].Timestamp)
}

func TestProcessor_DownloadError(t *testing.T) {
	cfg := testConfig(t)
	downloader := new(MockDownloader)
	extractor := new(MockExtractor)
	processor, store := newTestProcessor(t, cfg, downloader, extractor)
	job := newTestJob(t, processor, store, cfg)

	downloader.On("Download", mock.Anything, mock.Anything, mock.Anything).Return(assert.AnError)

	processor.process(job.ID, job.SessionID, ProcessSource{URL: "https://cdn.example.com/v.mp4"}, ExtractionOptions{})

	final := store.Get(job.ID)
	require.NotNil(t, final)
	assert.Equal(t, jobs.StatusError, final.Status)
	assert.Contains(t, final.Error, assert.AnError.Error())
	assert.Nil(t, final.Result)
	extractor.AssertNotCalled(t, "ExtractKeyframes", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessor_CancelledDuringDownload(t *testing.T) {
	cfg := testConfig(t)
	downloader := new(MockDownloader)
	extractor := new(MockExtractor)
	processor, store := newTestProcessor(t, cfg, downloader, extractor)
	job := newTestJob(t, processor, store, cfg)

	// Cancellation lands while the download is in flight; the worker
	// must stop at the next phase boundary.
	downloader.On("Download", mock.Anything, mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		require.True(t, processor.CancelJob(job.ID))
	}).Return(nil)

	processor.process(job.ID, job.SessionID, ProcessSource{URL: "https://cdn.example.com/v.mp4"}, ExtractionOptions{})

	final := store.Get(job.ID)
	require.NotNil(t, final)
	assert.Equal(t, jobs.StatusCancelled, final.Status)
	assert.True(t, final.Cancelled)
	assert.Nil(t, final.Result)
	extractor.AssertNotCalled(t, "ExtractKeyframes", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessor_CancelCompleteRace(t *testing.T) {
	cfg := testConfig(t)
	downloader := new(MockDownloader)
	extractor := new(MockExtractor)
	processor, store := newTestProcessor(t, cfg, downloader, extractor)
	job := newTestJob(t, processor, store, cfg)

	downloader.On("Download", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	// Cancellation lands while extraction is finishing; the worker's
	// final write must not resurrect the job.
	extractor.On("ExtractKeyframes", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		require.True(t, store.Cancel(job.ID))
	}).Return(&ExtractionResult{
		Keyframes:  []string{"keyframe_0001.jpg"},
		Timestamps: []float64{0},
		Duration:   10,
	}, nil)

	processor.process(job.ID, job.SessionID, ProcessSource{URL: "https://cdn.example.com/v.mp4"}, ExtractionOptions{})

	final := store.Get(job.ID)
	require.NotNil(t, final)
	assert.Equal(t, jobs.StatusCancelled, final.Status)
	assert.Nil(t, final.Result)
}

func TestProcessor_UploadedFileSkipsDownload(t *testing.T) {
	cfg := testConfig(t)
	downloader := new(MockDownloader)
	extractor := new(MockExtractor)
	processor, store := newTestProcessor(t, cfg, downloader, extractor)
	job := newTestJob(t, processor, store, cfg)

	uploadPath := filepath.Join(cfg.VideoStorageDir, "upload_test.mp4")
	require.NoError(t, os.WriteFile(uploadPath, []byte("fake video"), 0644))

	extractor.On("ExtractKeyframes", mock.Anything, processor.VideoPath(job.SessionID), mock.Anything, mock.Anything).Return(&ExtractionResult{
		Keyframes:  []string{"keyframe_0001.jpg"},
		Timestamps: []float64{0},
		Duration:   5,
	}, nil)

	processor.process(job.ID, job.SessionID, ProcessSource{UploadPath: uploadPath, UploadName: "test.mp4"}, ExtractionOptions{})

	final := store.Get(job.ID)
	require.NotNil(t, final)
	assert.Equal(t, jobs.StatusCompleted, final.Status)

	// The upload was moved into the session's canonical location.
	assert.FileExists(t, processor.VideoPath(job.SessionID))
	assert.NoFileExists(t, uploadPath)
	downloader.AssertNotCalled(t, "Download", mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessor_StartProcessingAsync(t *testing.T) {
	cfg := testConfig(t)
	downloader := new(MockDownloader)
	extractor := new(MockExtractor)
	processor, store := newTestProcessor(t, cfg, downloader, extractor)

	downloader.On("Download", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	extractor.On("ExtractKeyframes", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(&ExtractionResult{
		Keyframes:  []string{"keyframe_0001.jpg"},
		Timestamps: []float64{0},
		Duration:   5,
	}, nil)

	job, err := processor.StartProcessing(ProcessSource{URL: "https://cdn.example.com/v.mp4"}, ExtractionOptions{})
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, jobs.StatusStarted, job.Status)
	assert.NotEmpty(t, job.SessionID)
	assert.DirExists(t, processor.FramesDir(job.SessionID))

	require.Eventually(t, func() bool {
		current := store.Get(job.ID)
		return current != nil && current.Status == jobs.StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	final := store.Get(job.ID)
	require.NotNil(t, final.Result)
	assert.Equal(t, 1, final.Result.TotalFrames)
}

func TestProcessor_CancelUnknownJob(t *testing.T) {
	cfg := testConfig(t)
	processor, _ := newTestProcessor(t, cfg, new(MockDownloader), new(MockExtractor))
	assert.False(t, processor.CancelJob("nope"))
}

func cancelledJobCount() float64 {
	return testutil.ToFloat64(jobsProcessedTotal.WithLabelValues(string(jobs.StatusCancelled)))
}

func TestProcessor_CancelCountsOnlyRealTransitions(t *testing.T) {
	cfg := testConfig(t)
	processor, store := newTestProcessor(t, cfg, new(MockDownloader), new(MockExtractor))

	completed := store.Create("s1")
	status := jobs.StatusCompleted
	store.Update(completed.ID, jobs.Update{Status: &status})

	// Cancelling a finished job is an acknowledged no-op.
	before := cancelledJobCount()
	assert.True(t, processor.CancelJob(completed.ID))
	assert.Equal(t, before, cancelledJobCount())
	assert.Equal(t, jobs.StatusCompleted, store.Get(completed.ID).Status)

	// Only the first cancel of a running job counts.
	running := store.Create("s2")
	assert.True(t, processor.CancelJob(running.ID))
	assert.True(t, processor.CancelJob(running.ID))
	assert.Equal(t, before+1, cancelledJobCount())
	assert.Equal(t, jobs.StatusCancelled, store.Get(running.ID).Status)
}
