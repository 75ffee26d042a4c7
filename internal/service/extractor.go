package service

import (
	"context"
	"fmt"
	"log"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/30ozSteak/StoryboardR-sub000/internal/config"
	"github.com/30ozSteak/StoryboardR-sub000/pkg/ffmpeg"
)

// lastFrameEpsilon keeps the final computed timepoint from seeking past
// the end of the stream.
const lastFrameEpsilon = 0.1

// ExtractionOptions control a batch extraction run.
type ExtractionOptions struct {
	Format           string  `json:"format"`
	Quality          int     `json:"quality"`
	MaxFrames        int     `json:"max_frames"` // 0 means unlimited
	MinInterval      float64 `json:"min_interval"`
	IncludeLastFrame bool    `json:"include_last_frame"`
}

// ExtractionResult correlates produced filenames with their timestamps.
// TimestampsEstimated is set when the strategy could not report true
// per-frame times and they were spread evenly over the duration instead.
type ExtractionResult struct {
	Keyframes           []string
	Timestamps          []float64
	Duration            float64
	TimestampsEstimated bool
}

// frameFilenamePattern is the allow-list every user-supplied frame name
// must match before it is used in a filesystem operation.
var frameFilenamePattern = regexp.MustCompile(
	`^(keyframe|saved_frame|nav_next|nav_prev|clone|custom_keyframe|scrub)_[A-Za-z0-9_-]+\.(jpg|jpeg|png|webp)$`)

// ValidFrameFilename guards delete/copy paths against traversal.
func ValidFrameFilename(name string) bool {
	return frameFilenamePattern.MatchString(name)
}

// KeyframeExtractor produces still images from a local video via ffmpeg.
type KeyframeExtractor struct {
	config *config.Config
}

func NewKeyframeExtractor(cfg *config.Config) *KeyframeExtractor {
	return &KeyframeExtractor{config: cfg}
}

// GetVideoInfo probes the container.
func (e *KeyframeExtractor) GetVideoInfo(ctx context.Context, videoPath string) (*ffmpeg.VideoInfo, error) {
	return ffmpeg.Probe(ctx, e.config.FFprobePath, videoPath)
}

func (e *KeyframeExtractor) applyDefaults(opts *ExtractionOptions) {
	if opts.Format == "" {
		opts.Format = e.config.DefaultFrameFormat
	}
	if opts.Quality <= 0 {
		opts.Quality = e.config.DefaultQuality
	}
	if opts.MinInterval <= 0 {
		opts.MinInterval = e.config.DefaultMinInterval
	}
}

// ExtractKeyframes runs one of two strategies: an I-frame scan when the
// count is unbounded or the last frame is not required, or computed
// timepoints when a bounded count must include the final frame.
func (e *KeyframeExtractor) ExtractKeyframes(ctx context.Context, videoPath, outDir string, opts ExtractionOptions) (*ExtractionResult, error) {
	e.applyDefaults(&opts)

	info, err := e.GetVideoInfo(ctx, videoPath)
	if err != nil {
		return nil, err
	}

	if opts.IncludeLastFrame && opts.MaxFrames > 0 {
		return e.extractAtTimepoints(ctx, videoPath, outDir, info.Duration, opts)
	}
	return e.extractIFrames(ctx, videoPath, outDir, info.Duration, opts)
}

// extractIFrames selects codec-level intra frames in a single ffmpeg run.
// The selection does not report when each frame occurred, so timestamps
// are estimated as evenly spaced over the probed duration.
func (e *KeyframeExtractor) extractIFrames(ctx context.Context, videoPath, outDir string, duration float64, opts ExtractionOptions) (*ExtractionResult, error) {
	pattern := filepath.Join(outDir, "keyframe_%04d."+opts.Format)

	filter := `select='eq(pict_type\,PICT_TYPE_I)'`
	if opts.MinInterval > 0 {
		filter += fmt.Sprintf(",fps=1/%g", opts.MinInterval)
	}

	args := []string{
		"-i", videoPath,
		"-vf", filter,
		"-fps_mode", "vfr",
		"-q:v", fmt.Sprintf("%d", opts.Quality),
	}
	if opts.MaxFrames > 0 {
		args = append(args, "-frames:v", fmt.Sprintf("%d", opts.MaxFrames))
	}
	args = append(args, "-y", pattern)

	cmd := exec.CommandContext(ctx, e.config.FFmpegPath, args...)
	if output, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("ffmpeg keyframe scan failed: %w, output: %s", err, string(output))
	}

	matches, err := filepath.Glob(filepath.Join(outDir, "keyframe_*."+opts.Format))
	if err != nil {
		return nil, fmt.Errorf("failed to collect extracted frames: %w", err)
	}
	// Zero-padded sequence numbers make lexicographic order chronological.
	sort.Strings(matches)
	if len(matches) == 0 {
		return nil, fmt.Errorf("no keyframes extracted from %s", videoPath)
	}

	keyframes := make([]string, len(matches))
	for i, match := range matches {
		keyframes[i] = filepath.Base(match)
	}

	return &ExtractionResult{
		Keyframes:           keyframes,
		Timestamps:          estimateTimestamps(duration, len(keyframes)),
		Duration:            duration,
		TimestampsEstimated: true,
	}, nil
}

// extractAtTimepoints seeks to precomputed positions one subprocess at a
// time. Invocations are sequential on purpose: ffmpeg instances are not
// reused concurrently against the same source file. A single failed
// timepoint is skipped, not fatal.
func (e *KeyframeExtractor) extractAtTimepoints(ctx context.Context, videoPath, outDir string, duration float64, opts ExtractionOptions) (*ExtractionResult, error) {
	timepoints := ComputeTimepoints(duration, opts.MaxFrames)

	var keyframes []string
	var timestamps []float64
	for i, timepoint := range timepoints {
		filename := fmt.Sprintf("keyframe_%04d.%s", i+1, opts.Format)
		outPath := filepath.Join(outDir, filename)

		if err := e.ExtractFrameAtTimestamp(ctx, videoPath, outPath, timepoint, opts.Quality); err != nil {
			log.Printf("Skipping frame at %.2fs: %v", timepoint, err)
			continue
		}
		keyframes = append(keyframes, filename)
		timestamps = append(timestamps, timepoint)
	}

	if len(keyframes) == 0 {
		return nil, fmt.Errorf("no keyframes extracted from %s", videoPath)
	}

	return &ExtractionResult{
		Keyframes:  keyframes,
		Timestamps: timestamps,
		Duration:   duration,
	}, nil
}

// ExtractFrameAtTimestamp grabs a single frame with a seek. Used by the
// timepoint strategy and by scrub, navigate and add-keyframe.
func (e *KeyframeExtractor) ExtractFrameAtTimestamp(ctx context.Context, videoPath, outPath string, timestamp float64, quality int) error {
	if quality <= 0 {
		quality = e.config.DefaultQuality
	}
	if timestamp < 0 {
		timestamp = 0
	}

	cmd := exec.CommandContext(ctx, e.config.FFmpegPath,
		"-ss", fmt.Sprintf("%.3f", timestamp),
		"-i", videoPath,
		"-frames:v", "1",
		"-q:v", fmt.Sprintf("%d", quality),
		"-y", outPath,
	)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("ffmpeg frame grab at %.2fs failed: %w, output: %s", timestamp, err, string(output))
	}
	return nil
}

// ComputeTimepoints spreads count seek targets evenly across
// [0, duration), always replacing the final target with
// duration-lastFrameEpsilon so the last frame is captured without
// seeking past EOF. A single requested frame gets the last frame.
func ComputeTimepoints(duration float64, count int) []float64 {
	if count <= 0 || duration <= 0 {
		return nil
	}

	last := duration - lastFrameEpsilon
	if last < 0 {
		last = 0
	}
	if count == 1 {
		return []float64{last}
	}

	timepoints := make([]float64, count)
	for i := 0; i < count; i++ {
		timepoints[i] = float64(i) * duration / float64(count-1)
	}
	// On very short videos the pulled-back last point can land before
	// its neighbor; keep the sequence non-decreasing.
	if last < timepoints[count-2] {
		last = timepoints[count-2]
	}
	timepoints[count-1] = last
	return timepoints
}

// estimateTimestamps evenly spaces n timestamps over the duration.
func estimateTimestamps(duration float64, n int) []float64 {
	timestamps := make([]float64, n)
	if n <= 1 {
		return timestamps
	}
	for i := 0; i < n; i++ {
		timestamps[i] = float64(i) * duration / float64(n-1)
	}
	return timestamps
}
