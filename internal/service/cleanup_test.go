package service

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionCleanup_SweepOnce(t *testing.T) {
	cfg := testConfig(t)
	cfg.SessionMaxAge = time.Hour
	cleanup := NewSessionCleanup(cfg)

	require.NoError(t, os.MkdirAll(cfg.VideoStorageDir, 0755))

	old := time.Now().Add(-2 * time.Hour)

	// Expired session: frames dir and video both past the age threshold.
	expiredDir := filepath.Join(cfg.FrameStorageDir, "expired")
	require.NoError(t, os.MkdirAll(expiredDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(expiredDir, "keyframe_0001.jpg"), []byte("frame"), 0644))
	expiredVideo := filepath.Join(cfg.VideoStorageDir, "expired.mp4")
	require.NoError(t, os.WriteFile(expiredVideo, []byte("video"), 0644))
	require.NoError(t, os.Chtimes(expiredDir, old, old))
	require.NoError(t, os.Chtimes(expiredVideo, old, old))

	// Fresh session stays.
	freshDir := filepath.Join(cfg.FrameStorageDir, "fresh")
	require.NoError(t, os.MkdirAll(freshDir, 0755))
	freshVideo := filepath.Join(cfg.VideoStorageDir, "fresh.mp4")
	require.NoError(t, os.WriteFile(freshVideo, []byte("video"), 0644))

	// Stray video with no frame directory left.
	strayVideo := filepath.Join(cfg.VideoStorageDir, "stray.mp4")
	require.NoError(t, os.WriteFile(strayVideo, []byte("video"), 0644))
	require.NoError(t, os.Chtimes(strayVideo, old, old))

	cleanup.sweepOnce()

	assert.NoDirExists(t, expiredDir)
	assert.NoFileExists(t, expiredVideo)
	assert.NoFileExists(t, strayVideo)
	assert.DirExists(t, freshDir)
	assert.FileExists(t, freshVideo)
}
