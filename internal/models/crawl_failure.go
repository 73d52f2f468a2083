package models

import "time"

// PageFailure records a page that could not be explored. The URL is not retried.
type PageFailure struct {
	URL      string    `json:"url"`
	Depth    int       `json:"depth"`
	Error    string    `json:"error"`
	FailedAt time.Time `json:"failed_at"`
}

// CrawlFailure is the DLQ payload for failed pages and permanently failed tracks.
type CrawlFailure struct {
	CrawlID  string    `json:"crawl_id"`
	Kind     string    `json:"kind"`
	URL      string    `json:"url"`
	TrackID  string    `json:"track_id,omitempty"`
	Depth    int       `json:"depth"`
	Attempts int       `json:"attempts,omitempty"`
	Error    string    `json:"error"`
	FailedAt time.Time `json:"failed_at"`
}

const (
	FailureKindPage  = "page"
	FailureKindTrack = "track"
)
