package models

import "strings"

// FrameKind tags how a frame came to exist. The on-disk filename prefix
// carries the same information for anything that only sees the directory,
// but the enum is the authoritative provenance tag in memory.
type FrameKind string

const (
	FrameExtracted FrameKind = "extracted" // produced by a batch extraction job
	FrameSaved     FrameKind = "saved"     // scrub preview promoted to permanent
	FrameEphemeral FrameKind = "ephemeral" // scrub preview, not yet saved
	FrameCustom    FrameKind = "custom"    // added at an arbitrary timestamp
	FrameCloned    FrameKind = "cloned"    // duplicated from an existing frame
)

// Filename prefixes, one per provenance. Navigation frames are permanent
// frames like saved ones, just named after the direction that produced them.
const (
	PrefixKeyframe = "keyframe_"
	PrefixSaved    = "saved_frame_"
	PrefixNavNext  = "nav_next_"
	PrefixNavPrev  = "nav_prev_"
	PrefixClone    = "clone_"
	PrefixCustom   = "custom_keyframe_"
	PrefixScrub    = "scrub_"
)

// KindForFilename derives the provenance tag from an on-disk name.
func KindForFilename(name string) FrameKind {
	switch {
	case strings.HasPrefix(name, PrefixScrub):
		return FrameEphemeral
	case strings.HasPrefix(name, PrefixCustom):
		return FrameCustom
	case strings.HasPrefix(name, PrefixClone):
		return FrameCloned
	case strings.HasPrefix(name, PrefixSaved),
		strings.HasPrefix(name, PrefixNavNext),
		strings.HasPrefix(name, PrefixNavPrev):
		return FrameSaved
	default:
		return FrameExtracted
	}
}

// Keyframe is one extracted still image. Timestamp is the sole authority
// for temporal position; Index is a display hint from extraction time.
type Keyframe struct {
	ID                 string    `json:"id"`
	Filename           string    `json:"filename"`
	URL                string    `json:"url"`
	Timestamp          float64   `json:"timestamp"`
	Index              int       `json:"index"`
	Kind               FrameKind `json:"kind"`
	TimestampEstimated bool      `json:"timestamp_estimated,omitempty"`
}
