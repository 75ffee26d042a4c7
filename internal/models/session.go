package models

import "time"

// Session binds one source video file to its directory of extracted frames.
type Session struct {
	ID         string    `json:"id"`
	SourceURL  string    `json:"source_url,omitempty"`
	UploadName string    `json:"upload_name,omitempty"`
	VideoPath  string    `json:"video_path"`
	FramesDir  string    `json:"frames_dir"`
	Status     string    `json:"status"`
	FrameCount int       `json:"frame_count"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Session statuses
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)
