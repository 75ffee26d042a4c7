package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/30ozSteak/StoryboardR-sub000/internal/config"
	"github.com/30ozSteak/StoryboardR-sub000/internal/models"
	"github.com/30ozSteak/StoryboardR-sub000/internal/repository"
)

// ErrInvalidFilename is returned when a user-supplied frame name fails
// the allow-list check.
var ErrInvalidFilename = errors.New("invalid frame filename")

// FrameResult is the outcome of a single-frame operation.
//
// Boundary marks a navigation request that would step past the start or
// end of the video; it is not an error and no frame is written. A
// Success=false result with a Message is the graceful fallback when the
// source video is no longer on disk.
type FrameResult struct {
	Success  bool             `json:"success"`
	Boundary bool             `json:"boundary,omitempty"`
	Message  string           `json:"message,omitempty"`
	Frame    *models.Keyframe `json:"frame,omitempty"`
}

// FrameService computes target timestamps and extracts single frames for
// the interactive scrub, navigate and add-keyframe operations. It never
// touches the finalized frame set until a preview is explicitly saved.
type FrameService struct {
	config    *config.Config
	extractor Extractor
	sessions  *repository.SessionRepository // nil when persistence is disabled
}

func NewFrameService(cfg *config.Config, extractor Extractor, sessions *repository.SessionRepository) *FrameService {
	return &FrameService{config: cfg, extractor: extractor, sessions: sessions}
}

func (f *FrameService) videoPath(sessionID string) string {
	return filepath.Join(f.config.VideoStorageDir, sessionID+".mp4")
}

func (f *FrameService) framesDir(sessionID string) string {
	return filepath.Join(f.config.FrameStorageDir, sessionID)
}

func (f *FrameService) frameURL(sessionID, filename string) string {
	return fmt.Sprintf("%s/%s/%s", f.config.FrameBaseURL, sessionID, filename)
}

// validSessionID rejects anything that could escape the storage roots.
func validSessionID(sessionID string) bool {
	return sessionID != "" &&
		!strings.ContainsAny(sessionID, "/\\") &&
		!strings.Contains(sessionID, "..")
}

// NavigateAdjacent extracts the frame one step before or after the base
// frame's timestamp. Stepping past the end returns a boundary result; a
// missing source video degrades to the original frame with
// Success=false instead of failing the request.
func (f *FrameService) NavigateAdjacent(ctx context.Context, sessionID, baseFilename, direction string, timestamp float64) (*FrameResult, error) {
	if !validSessionID(sessionID) {
		return nil, errors.New("invalid session id")
	}
	if direction != "prev" && direction != "next" {
		return nil, fmt.Errorf("invalid direction %q", direction)
	}
	if baseFilename != "" && !ValidFrameFilename(baseFilename) {
		return nil, ErrInvalidFilename
	}

	step := f.config.NavigateStep
	target := timestamp + step
	prefix := models.PrefixNavNext
	if direction == "prev" {
		target = timestamp - step
		prefix = models.PrefixNavPrev
	}
	if target < 0 {
		target = 0
	}

	videoPath := f.videoPath(sessionID)
	if _, err := os.Stat(videoPath); err != nil {
		return f.fallbackToOriginal(sessionID, baseFilename, timestamp), nil
	}

	info, err := f.extractor.GetVideoInfo(ctx, videoPath)
	if err != nil {
		return nil, err
	}
	if direction == "next" && target >= info.Duration {
		return &FrameResult{
			Success:  true,
			Boundary: true,
			Message:  "already at the last frame",
		}, nil
	}
	// A prev step from an out-of-range base timestamp must not seek
	// past EOF.
	target = clampTimestamp(target, info.Duration)

	filename := prefix + shortID() + "." + f.config.DefaultFrameFormat
	outPath := filepath.Join(f.framesDir(sessionID), filename)
	if err := f.extractor.ExtractFrameAtTimestamp(ctx, videoPath, outPath, target, 0); err != nil {
		return nil, err
	}

	return &FrameResult{
		Success: true,
		Frame: &models.Keyframe{
			ID:        uuid.New().String(),
			Filename:  filename,
			URL:       f.frameURL(sessionID, filename),
			Timestamp: target,
			Kind:      models.FrameSaved,
		},
	}, nil
}

// Scrub extracts a preview frame at an arbitrary timestamp. The file is
// ephemeral: it must be saved or reverted, and an abandoned preview is
// an orphan for the session sweep, not a correctness problem.
func (f *FrameService) Scrub(ctx context.Context, sessionID, baseFilename string, timestamp float64) (*FrameResult, error) {
	if !validSessionID(sessionID) {
		return nil, errors.New("invalid session id")
	}
	if baseFilename != "" && !ValidFrameFilename(baseFilename) {
		return nil, ErrInvalidFilename
	}

	videoPath := f.videoPath(sessionID)
	if _, err := os.Stat(videoPath); err != nil {
		return f.fallbackToOriginal(sessionID, baseFilename, timestamp), nil
	}

	info, err := f.extractor.GetVideoInfo(ctx, videoPath)
	if err != nil {
		return nil, err
	}
	target := clampTimestamp(timestamp, info.Duration)

	filename := models.PrefixScrub + shortID() + "." + f.config.DefaultFrameFormat
	outPath := filepath.Join(f.framesDir(sessionID), filename)
	if err := f.extractor.ExtractFrameAtTimestamp(ctx, videoPath, outPath, target, 0); err != nil {
		return nil, err
	}

	return &FrameResult{
		Success: true,
		Frame: &models.Keyframe{
			ID:        uuid.New().String(),
			Filename:  filename,
			URL:       f.frameURL(sessionID, filename),
			Timestamp: target,
			Kind:      models.FrameEphemeral,
		},
	}, nil
}

// SaveScrub promotes a scrub preview to a permanent frame: the bytes are
// copied under a saved filename and the ephemeral original is removed.
func (f *FrameService) SaveScrub(sessionID, scrubFilename string, timestamp float64) (*FrameResult, error) {
	if !validSessionID(sessionID) {
		return nil, errors.New("invalid session id")
	}
	if !ValidFrameFilename(scrubFilename) || !strings.HasPrefix(scrubFilename, models.PrefixScrub) {
		return nil, ErrInvalidFilename
	}

	dir := f.framesDir(sessionID)
	scrubPath := filepath.Join(dir, scrubFilename)
	if _, err := os.Stat(scrubPath); err != nil {
		return nil, fmt.Errorf("scrub frame not found: %s", scrubFilename)
	}

	savedName := models.PrefixSaved + shortID() + filepath.Ext(scrubFilename)
	savedPath := filepath.Join(dir, savedName)
	if err := copyFile(scrubPath, savedPath); err != nil {
		return nil, fmt.Errorf("failed to save scrub frame: %w", err)
	}
	if err := os.Remove(scrubPath); err != nil {
		log.Printf("Failed to remove scrub frame %s: %v", scrubPath, err)
	}

	return &FrameResult{
		Success: true,
		Frame: &models.Keyframe{
			ID:        uuid.New().String(),
			Filename:  savedName,
			URL:       f.frameURL(sessionID, savedName),
			Timestamp: timestamp,
			Kind:      models.FrameSaved,
		},
	}, nil
}

// RevertScrub discards a scrub preview, leaving the original frame
// untouched. Reverting a preview that is already gone reports ok=false.
func (f *FrameService) RevertScrub(sessionID, scrubFilename string) (bool, error) {
	if !validSessionID(sessionID) {
		return false, errors.New("invalid session id")
	}
	if !ValidFrameFilename(scrubFilename) || !strings.HasPrefix(scrubFilename, models.PrefixScrub) {
		return false, ErrInvalidFilename
	}

	err := os.Remove(filepath.Join(f.framesDir(sessionID), scrubFilename))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to remove scrub frame: %w", err)
	}
	return true, nil
}

// AddKeyframe extracts a permanent frame at an arbitrary timestamp, for
// insertion after the given gallery index. No ephemeral phase, no job.
func (f *FrameService) AddKeyframe(ctx context.Context, sessionID string, timestamp float64, insertAfterIndex int) (*FrameResult, error) {
	if !validSessionID(sessionID) {
		return nil, errors.New("invalid session id")
	}

	videoPath := f.videoPath(sessionID)
	if _, err := os.Stat(videoPath); err != nil {
		return nil, fmt.Errorf("source video not available for session %s", sessionID)
	}

	info, err := f.extractor.GetVideoInfo(ctx, videoPath)
	if err != nil {
		return nil, err
	}
	target := clampTimestamp(timestamp, info.Duration)

	filename := models.PrefixCustom + shortID() + "." + f.config.DefaultFrameFormat
	outPath := filepath.Join(f.framesDir(sessionID), filename)
	if err := f.extractor.ExtractFrameAtTimestamp(ctx, videoPath, outPath, target, 0); err != nil {
		return nil, err
	}

	return &FrameResult{
		Success: true,
		Frame: &models.Keyframe{
			ID:        uuid.New().String(),
			Filename:  filename,
			URL:       f.frameURL(sessionID, filename),
			Timestamp: target,
			Index:     insertAfterIndex + 1,
			Kind:      models.FrameCustom,
		},
	}, nil
}

// CloneFrame duplicates an existing frame's bytes under a clone name.
func (f *FrameService) CloneFrame(sessionID, baseFilename string) (*FrameResult, error) {
	if !validSessionID(sessionID) {
		return nil, errors.New("invalid session id")
	}
	if !ValidFrameFilename(baseFilename) {
		return nil, ErrInvalidFilename
	}

	dir := f.framesDir(sessionID)
	basePath := filepath.Join(dir, baseFilename)
	if _, err := os.Stat(basePath); err != nil {
		return nil, fmt.Errorf("frame not found: %s", baseFilename)
	}

	cloneName := models.PrefixClone + shortID() + filepath.Ext(baseFilename)
	if err := copyFile(basePath, filepath.Join(dir, cloneName)); err != nil {
		return nil, fmt.Errorf("failed to clone frame: %w", err)
	}

	return &FrameResult{
		Success: true,
		Frame: &models.Keyframe{
			ID:       uuid.New().String(),
			Filename: cloneName,
			URL:      f.frameURL(sessionID, cloneName),
			Kind:     models.FrameCloned,
		},
	}, nil
}

// DeleteSession removes the session's video file and frame directory.
func (f *FrameService) DeleteSession(ctx context.Context, sessionID string) error {
	if !validSessionID(sessionID) {
		return errors.New("invalid session id")
	}

	if err := os.RemoveAll(f.framesDir(sessionID)); err != nil {
		return fmt.Errorf("failed to remove frames directory: %w", err)
	}
	if err := os.Remove(f.videoPath(sessionID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove session video: %w", err)
	}

	if f.sessions != nil {
		if err := f.sessions.DeleteSession(ctx, sessionID); err != nil {
			log.Printf("Failed to delete session record %s: %v", sessionID, err)
		}
	}
	log.Printf("Deleted session %s", sessionID)
	return nil
}

// fallbackToOriginal hands back the base frame when the source video is
// gone, so the client keeps a working gallery instead of an error.
func (f *FrameService) fallbackToOriginal(sessionID, baseFilename string, timestamp float64) *FrameResult {
	result := &FrameResult{
		Success: false,
		Message: "source video no longer available; returning original frame",
	}
	if baseFilename != "" {
		result.Frame = &models.Keyframe{
			ID:        uuid.New().String(),
			Filename:  baseFilename,
			URL:       f.frameURL(sessionID, baseFilename),
			Timestamp: timestamp,
			Kind:      models.KindForFilename(baseFilename),
		}
	}
	return result
}

// clampTimestamp keeps a seek target inside [0, duration).
func clampTimestamp(timestamp, duration float64) float64 {
	if timestamp < 0 {
		return 0
	}
	if limit := duration - lastFrameEpsilon; timestamp > limit {
		if limit < 0 {
			return 0
		}
		return limit
	}
	return timestamp
}

func shortID() string {
	return uuid.New().String()[:8]
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}
