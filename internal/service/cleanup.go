package service

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/30ozSteak/StoryboardR-sub000/internal/config"
)

// SessionCleanup reclaims disk space from old sessions: the source video
// and the frame directory are removed together once the session passes
// the age threshold. Cleanup is age-based and independent of the job
// lifecycle; it also sweeps orphaned scrub previews along with
// everything else in an expired session.
type SessionCleanup struct {
	config *config.Config
}

func NewSessionCleanup(cfg *config.Config) *SessionCleanup {
	return &SessionCleanup{config: cfg}
}

// Start runs the sweeper until ctx is done.
func (sc *SessionCleanup) Start(ctx context.Context) {
	ticker := time.NewTicker(sc.config.CleanupInterval)
	defer ticker.Stop()

	log.Printf("Started session cleanup (interval: %v, max age: %v)", sc.config.CleanupInterval, sc.config.SessionMaxAge)

	for {
		select {
		case <-ctx.Done():
			log.Println("Session cleanup stopped")
			return
		case <-ticker.C:
			sc.sweepOnce()
		}
	}
}

func (sc *SessionCleanup) sweepOnce() {
	cutoff := time.Now().Add(-sc.config.SessionMaxAge)
	removed := 0

	dirs, err := filepath.Glob(filepath.Join(sc.config.FrameStorageDir, "*"))
	if err != nil {
		log.Printf("Error reading frame storage directory: %v", err)
		return
	}

	for _, dir := range dirs {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}

		sessionID := filepath.Base(dir)
		if err := os.RemoveAll(dir); err != nil {
			log.Printf("Failed to delete session frames %s: %v", dir, err)
			continue
		}
		videoPath := filepath.Join(sc.config.VideoStorageDir, sessionID+".mp4")
		if err := os.Remove(videoPath); err != nil && !os.IsNotExist(err) {
			log.Printf("Failed to delete session video %s: %v", videoPath, err)
		}
		removed++
	}

	// Stray videos whose frame directory is already gone.
	videos, err := filepath.Glob(filepath.Join(sc.config.VideoStorageDir, "*.mp4"))
	if err != nil {
		log.Printf("Error reading video storage directory: %v", err)
		return
	}
	for _, video := range videos {
		info, err := os.Stat(video)
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		sessionID := filepath.Base(video[:len(video)-len(".mp4")])
		if _, err := os.Stat(filepath.Join(sc.config.FrameStorageDir, sessionID)); err == nil {
			continue
		}
		if err := os.Remove(video); err != nil {
			log.Printf("Failed to delete stray video %s: %v", video, err)
		} else {
			removed++
		}
	}

	if removed > 0 {
		log.Printf("Cleaned up %d expired sessions", removed)
	}
}
