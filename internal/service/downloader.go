package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/30ozSteak/StoryboardR-sub000/internal/config"
)

// platformHosts is the allow-list of video-sharing sites that go through
// yt-dlp instead of a direct HTTP download.
var platformHosts = []string{
	"youtube.com",
	"youtu.be",
	"vimeo.com",
	"dailymotion.com",
	"twitch.tv",
	"tiktok.com",
}

// videoExtensions recognized for direct-URL validation.
var videoExtensions = []string{".mp4", ".webm", ".mov", ".mkv", ".avi", ".m4v"}

// VideoDownloader materializes a local video file from a URL, delegating
// platform URLs to yt-dlp and fetching direct URLs over HTTP.
type VideoDownloader struct {
	config *config.Config
	client *http.Client
}

func NewVideoDownloader(cfg *config.Config) *VideoDownloader {
	return &VideoDownloader{
		config: cfg,
		client: &http.Client{
			Timeout: cfg.DownloadTimeout,
		},
	}
}

// IsValidVideoURL reports whether the URL points at a known platform or a
// file with a video extension. Early client-side validation only.
func IsValidVideoURL(rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return false
	}
	if isPlatformURL(parsed) {
		return true
	}
	ext := strings.ToLower(filepath.Ext(parsed.Path))
	for _, known := range videoExtensions {
		if ext == known {
			return true
		}
	}
	return false
}

func isPlatformURL(parsed *url.URL) bool {
	host := strings.TrimPrefix(strings.ToLower(parsed.Hostname()), "www.")
	for _, platform := range platformHosts {
		if host == platform || strings.HasSuffix(host, "."+platform) {
			return true
		}
	}
	return false
}

// Download writes the video behind rawURL to destPath. On any failure no
// partial file is left behind.
func (d *VideoDownloader) Download(ctx context.Context, rawURL, destPath string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid video URL: %w", err)
	}

	if isPlatformURL(parsed) {
		return d.downloadWithYtDlp(ctx, rawURL, destPath)
	}
	return d.downloadDirect(ctx, rawURL, destPath)
}

// downloadWithYtDlp invokes the external downloader. yt-dlp picks its own
// extension, so we hand it a template and move its output to destPath.
func (d *VideoDownloader) downloadWithYtDlp(ctx context.Context, videoURL, destPath string) error {
	base := strings.TrimSuffix(destPath, filepath.Ext(destPath))
	outputTemplate := base + ".%(ext)s"

	args := []string{
		"--no-playlist",
		"--no-part",
		"--no-continue",
		"--retries", "3",
		"--fragment-retries", "3",
		"-f", fmt.Sprintf("bestvideo[height<=%d]+bestaudio/best[height<=%d]/best", d.config.MaxHeight, d.config.MaxHeight),
		"--merge-output-format", "mp4",
		"--max-filesize", fmt.Sprintf("%d", d.config.MaxDownloadSize),
		"-o", outputTemplate,
	}
	if d.config.CookieFile != "" {
		if _, err := os.Stat(d.config.CookieFile); err == nil {
			args = append(args, "--cookies", d.config.CookieFile)
		}
	}
	args = append(args, videoURL)

	cmd := exec.CommandContext(ctx, d.config.YtDlpPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	log.Printf("Downloading via yt-dlp: %s", videoURL)
	if err := cmd.Run(); err != nil {
		removeArtifacts(base)
		return classifyYtDlpError(stderr.String(), err)
	}

	produced, err := locateDownloadedFile(base)
	if err != nil {
		removeArtifacts(base)
		return err
	}
	if produced != destPath {
		if err := os.Rename(produced, destPath); err != nil {
			removeArtifacts(base)
			return fmt.Errorf("failed to move downloaded file into place: %w", err)
		}
	}
	removeArtifacts(base)
	return verifyNonEmpty(destPath)
}

// locateDownloadedFile finds the file yt-dlp produced for the output
// template, skipping incomplete artifacts.
func locateDownloadedFile(base string) (string, error) {
	matches, err := filepath.Glob(base + ".*")
	if err != nil {
		return "", fmt.Errorf("failed to scan for downloaded file: %w", err)
	}
	for _, match := range matches {
		ext := strings.ToLower(filepath.Ext(match))
		if ext == ".part" || ext == ".ytdl" || ext == ".temp" {
			continue
		}
		return match, nil
	}
	return "", errors.New("downloader reported success but produced no file")
}

// removeArtifacts deletes leftover partial-download files for the
// template base; keeping dest clean on the failure path matters more
// than any individual removal succeeding.
func removeArtifacts(base string) {
	matches, _ := filepath.Glob(base + ".*")
	for _, match := range matches {
		ext := strings.ToLower(filepath.Ext(match))
		if ext == ".part" || ext == ".ytdl" || ext == ".temp" {
			os.Remove(match)
		}
	}
}

// classifyYtDlpError maps yt-dlp stderr output to a user-facing message.
func classifyYtDlpError(stderr string, runErr error) error {
	lower := strings.ToLower(stderr)

	switch {
	case strings.Contains(lower, "max-filesize"), strings.Contains(lower, "file is larger than"):
		return errors.New("video file is too large to download")
	case strings.Contains(lower, "sign in to confirm"), strings.Contains(lower, "age-restricted"), strings.Contains(lower, "age restricted"), strings.Contains(lower, "login required"):
		return errors.New("this video requires sign-in (age-restricted or members-only).\n" +
			"Upload a cookies.txt file exported from a signed-in browser session and try again.")
	case strings.Contains(lower, "private video"), strings.Contains(lower, "video unavailable"), strings.Contains(lower, "not available in your country"), strings.Contains(lower, "blocked"):
		return errors.New("video is unavailable, private, or blocked in this region")
	case strings.Contains(lower, "404"), strings.Contains(lower, "not found"), strings.Contains(lower, "does not exist"):
		return errors.New("video not found")
	}

	msg := strings.TrimSpace(stderr)
	if msg == "" {
		return fmt.Errorf("video download failed: %w", runErr)
	}
	return fmt.Errorf("video download failed: %s", msg)
}

// downloadDirect performs a streamed HTTP GET to destPath.
func (d *VideoDownloader) downloadDirect(ctx context.Context, videoURL, destPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, videoURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return classifyHTTPError(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return errors.New("video not found (HTTP 404)")
	case resp.StatusCode == http.StatusForbidden:
		return errors.New("access to video denied (HTTP 403)")
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	file, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create video file %s: %w", destPath, err)
	}

	written, err := io.Copy(file, resp.Body)
	closeErr := file.Close()
	if err != nil || closeErr != nil {
		os.Remove(destPath)
		if err == nil {
			err = closeErr
		}
		return fmt.Errorf("failed to write video file: %w", err)
	}

	if resp.ContentLength > 0 {
		log.Printf("Downloaded %d/%d bytes from %s", written, resp.ContentLength, videoURL)
	} else {
		log.Printf("Downloaded %d bytes from %s", written, videoURL)
	}

	if err := verifyNonEmpty(destPath); err != nil {
		return err
	}
	return nil
}

// classifyHTTPError maps transport failures to user-facing messages.
func classifyHTTPError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errors.New("download timed out")
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return errors.New("could not resolve video host")
	}
	return fmt.Errorf("failed to download video: %w", err)
}

// verifyNonEmpty rejects zero-byte downloads, removing the empty file.
func verifyNonEmpty(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("downloaded file missing: %w", err)
	}
	if info.Size() == 0 {
		os.Remove(path)
		return errors.New("downloaded file is empty")
	}
	return nil
}
