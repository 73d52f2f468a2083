package models

import "time"

// DownloadEvent is published once per download attempt.
type DownloadEvent struct {
	EventID   string        `json:"event_id"`
	CrawlID   string        `json:"crawl_id"`
	TrackID   string        `json:"track_id"`
	SourceURL string        `json:"source_url"`
	Title     string        `json:"title,omitempty"`
	State     DownloadState `json:"state"`
	Attempt   int           `json:"attempt"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
	At        time.Time     `json:"at"`
}
