package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// VideoInfo is the parsed ffprobe output for a container.
type VideoInfo struct {
	Duration  float64 `json:"duration"`
	Width     int     `json:"width"`
	Height    int     `json:"height"`
	FrameRate float64 `json:"frame_rate"`
	Codec     string  `json:"codec"`
	Bitrate   int64   `json:"bitrate"`
	Size      int64   `json:"size"`
}

type probeOutput struct {
	Streams []struct {
		CodecType  string `json:"codec_type"`
		CodecName  string `json:"codec_name"`
		Width      int    `json:"width"`
		Height     int    `json:"height"`
		RFrameRate string `json:"r_frame_rate"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
		Size     string `json:"size"`
		BitRate  string `json:"bit_rate"`
	} `json:"format"`
}

// CheckInstallation verifies that ffmpeg and ffprobe are accessible.
func CheckInstallation(ffmpegPath, ffprobePath string) error {
	if err := exec.Command(ffmpegPath, "-version").Run(); err != nil {
		return fmt.Errorf("ffmpeg is not installed or not in PATH: %w", err)
	}
	if err := exec.Command(ffprobePath, "-version").Run(); err != nil {
		return fmt.Errorf("ffprobe is not installed or not in PATH: %w", err)
	}
	return nil
}

// Probe reads container and stream metadata for a local video file.
// It fails when the file has no video stream.
func Probe(ctx context.Context, ffprobePath, videoPath string) (*VideoInfo, error) {
	cmd := exec.CommandContext(ctx, ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration,size,bit_rate",
		"-show_entries", "stream=codec_type,codec_name,width,height,r_frame_rate",
		"-of", "json",
		videoPath,
	)

	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("failed to probe video %s: %w", videoPath, err)
	}

	var probed probeOutput
	if err := json.Unmarshal(output, &probed); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	info := &VideoInfo{}
	found := false
	for _, stream := range probed.Streams {
		if stream.CodecType != "video" {
			continue
		}
		info.Codec = stream.CodecName
		info.Width = stream.Width
		info.Height = stream.Height
		info.FrameRate = parseFrameRate(stream.RFrameRate)
		found = true
		break
	}
	if !found {
		return nil, fmt.Errorf("no video stream found in %s", videoPath)
	}

	info.Duration, _ = strconv.ParseFloat(probed.Format.Duration, 64)
	info.Size, _ = strconv.ParseInt(probed.Format.Size, 10, 64)
	info.Bitrate, _ = strconv.ParseInt(probed.Format.BitRate, 10, 64)

	if info.Duration <= 0 {
		return nil, fmt.Errorf("could not determine duration of %s", videoPath)
	}
	return info, nil
}

// parseFrameRate converts ffprobe's rational notation (e.g. "30000/1001")
// to frames per second.
func parseFrameRate(rate string) float64 {
	parts := strings.SplitN(rate, "/", 2)
	if len(parts) == 2 {
		num, err1 := strconv.ParseFloat(parts[0], 64)
		den, err2 := strconv.ParseFloat(parts[1], 64)
		if err1 == nil && err2 == nil && den != 0 {
			return num / den
		}
		return 0
	}
	fps, _ := strconv.ParseFloat(rate, 64)
	return fps
}
