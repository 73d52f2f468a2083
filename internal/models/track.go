package models

import "time"

// TrackMetadata carries whatever the page explorer could learn about a track.
type TrackMetadata struct {
	Title    string        `json:"title,omitempty"`
	Artist   string        `json:"artist,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
	Platform string        `json:"platform,omitempty"`
}

// TrackCandidate is a discovered, not-yet-downloaded media item.
// TrackID is stable across pages and is the dedupe key for the whole
// download pipeline.
type TrackCandidate struct {
	TrackID   string        `json:"track_id"`
	SourceURL string        `json:"source_url"`
	Metadata  TrackMetadata `json:"metadata"`
}

// PageResult is what exploring a single page yields.
type PageResult struct {
	Links      []string         `json:"links,omitempty"`
	Candidates []TrackCandidate `json:"candidates,omitempty"`
}
