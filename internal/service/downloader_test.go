package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsValidVideoURL(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want bool
	}{
		{"youtube watch page", "https://www.youtube.com/watch?v=dQw4w9WgXcQ", true},
		{"youtube short link", "https://youtu.be/dQw4w9WgXcQ", true},
		{"vimeo", "https://vimeo.com/123456", true},
		{"twitch subdomain", "https://clips.twitch.tv/SomeClip", true},
		{"direct mp4", "https://cdn.example.com/videos/clip.mp4", true},
		{"direct webm uppercase ext", "https://cdn.example.com/clip.WEBM", true},
		{"direct mov", "http://example.com/a/b/c.mov", true},
		{"html page", "https://example.com/watch.html", false},
		{"no extension", "https://example.com/stream", false},
		{"ftp scheme", "ftp://example.com/clip.mp4", false},
		{"not a url", "not a url", false},
		{"empty", "", false},
		{"lookalike host", "https://notyoutube.com/watch?v=x", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsValidVideoURL(tt.url))
		})
	}
}

func TestDownloadDirect_Success(t *testing.T) {
	payload := []byte("fake video bytes")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer server.Close()

	cfg := testConfig(t)
	downloader := NewVideoDownloader(cfg)
	destPath := filepath.Join(t.TempDir(), "video.mp4")

	require.NoError(t, downloader.Download(context.Background(), server.URL+"/clip.mp4", destPath))

	content, err := os.ReadFile(destPath)
	require.NoError(t, err)
	assert.Equal(t, payload, content)
}

func TestDownloadDirect_NotFound(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	cfg := testConfig(t)
	downloader := NewVideoDownloader(cfg)
	destPath := filepath.Join(t.TempDir(), "video.mp4")

	err := downloader.Download(context.Background(), server.URL+"/clip.mp4", destPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.NoFileExists(t, destPath)
}

func TestDownloadDirect_Forbidden(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	cfg := testConfig(t)
	downloader := NewVideoDownloader(cfg)
	destPath := filepath.Join(t.TempDir(), "video.mp4")

	err := downloader.Download(context.Background(), server.URL+"/clip.mp4", destPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "denied")
	assert.NoFileExists(t, destPath)
}

func TestDownloadDirect_EmptyBodyLeavesNoFile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := testConfig(t)
	downloader := NewVideoDownloader(cfg)
	destPath := filepath.Join(t.TempDir(), "video.mp4")

	err := downloader.Download(context.Background(), server.URL+"/clip.mp4", destPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty")
	assert.NoFileExists(t, destPath)
}

func TestClassifyYtDlpError(t *testing.T) {
	tests := []struct {
		name   string
		stderr string
		want   string
	}{
		{"file too large", "ERROR: File is larger than max-filesize", "too large"},
		{"sign-in required", "ERROR: Sign in to confirm your age", "requires sign-in"},
		{"private video", "ERROR: Private video. Sign in if you've been granted access", "unavailable, private, or blocked"},
		{"geo blocked", "ERROR: The uploader has not made this video available in your country", "unavailable, private, or blocked"},
		{"not found", "ERROR: HTTP Error 404: Not Found", "video not found"},
		{"raw passthrough", "ERROR: something unrecognized went wrong", "something unrecognized went wrong"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classifyYtDlpError(tt.stderr, assert.AnError)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	t.Run("empty stderr wraps the run error", func(t *testing.T) {
		err := classifyYtDlpError("", assert.AnError)
		require.Error(t, err)
		assert.ErrorIs(t, err, assert.AnError)
	})
}

func TestClassifyYtDlpError_CookieGuidance(t *testing.T) {
	err := classifyYtDlpError("ERROR: This video is age-restricted", assert.AnError)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cookies.txt")
}

func TestVerifyNonEmpty(t *testing.T) {
	dir := t.TempDir()

	full := filepath.Join(dir, "full.mp4")
	require.NoError(t, os.WriteFile(full, []byte("data"), 0644))
	assert.NoError(t, verifyNonEmpty(full))

	empty := filepath.Join(dir, "empty.mp4")
	require.NoError(t, os.WriteFile(empty, nil, 0644))
	err := verifyNonEmpty(empty)
	require.Error(t, err)
	assert.NoFileExists(t, empty)

	assert.Error(t, verifyNonEmpty(filepath.Join(dir, "missing.mp4")))
}

func TestLocateDownloadedFile(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "session")

	require.NoError(t, os.WriteFile(base+".part", []byte("partial"), 0644))
	_, err := locateDownloadedFile(base)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(base+".mp4", []byte("video"), 0644))
	produced, err := locateDownloadedFile(base)
	require.NoError(t, err)
	assert.Equal(t, base+".mp4", produced)
}
