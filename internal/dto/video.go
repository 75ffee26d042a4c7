package dto

import (
	"encoding/json"
	"fmt"
)

// MaxFrames accepts either a number or the string "unlimited" (= 0).
type MaxFrames int

func (m *MaxFrames) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s == "unlimited" || s == "" {
			*m = 0
			return nil
		}
		return fmt.Errorf("invalid max_frames value %q", s)
	}

	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid max_frames value: %w", err)
	}
	if n < 0 {
		return fmt.Errorf("max_frames must not be negative")
	}
	*m = MaxFrames(n)
	return nil
}

// ExtractionOptionsRequest carries the caller's extraction settings.
type ExtractionOptionsRequest struct {
	Format           string    `json:"format,omitempty"`
	Quality          int       `json:"quality,omitempty"`
	MaxFrames        MaxFrames `json:"max_frames,omitempty"`
	MinInterval      float64   `json:"min_interval,omitempty"`
	IncludeLastFrame bool      `json:"include_last_frame,omitempty"`
}

// ProcessRequest starts processing of a remote video URL.
type ProcessRequest struct {
	URL     string                   `json:"url"`
	Options ExtractionOptionsRequest `json:"options"`
}

// ProcessAccepted is returned immediately; the caller polls for progress.
type ProcessAccepted struct {
	JobID     string `json:"job_id"`
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
}

// ScrubRequest extracts an ephemeral preview frame.
type ScrubRequest struct {
	SessionID    string  `json:"session_id"`
	BaseFilename string  `json:"base_filename,omitempty"`
	Timestamp    float64 `json:"timestamp"`
}

// SaveScrubRequest promotes a scrub preview to a permanent frame.
type SaveScrubRequest struct {
	SessionID string  `json:"session_id"`
	Filename  string  `json:"filename"`
	Timestamp float64 `json:"timestamp"`
}

// RevertScrubRequest discards a scrub preview.
type RevertScrubRequest struct {
	SessionID string `json:"session_id"`
	Filename  string `json:"filename"`
}

// NavigateRequest steps one frame forward or back from a base frame.
type NavigateRequest struct {
	SessionID    string  `json:"session_id"`
	BaseFilename string  `json:"base_filename,omitempty"`
	Direction    string  `json:"direction"`
	Timestamp    float64 `json:"timestamp"`
}

// AddKeyframeRequest extracts a permanent frame at a timestamp.
type AddKeyframeRequest struct {
	SessionID        string  `json:"session_id"`
	Timestamp        float64 `json:"timestamp"`
	InsertAfterIndex int     `json:"insert_after_index"`
}

// CloneFrameRequest duplicates an existing frame.
type CloneFrameRequest struct {
	SessionID string `json:"session_id"`
	Filename  string `json:"filename"`
}
