package models

import "time"

// DownloadState is the lifecycle state of a track download.
type DownloadState string

const (
	DownloadPending    DownloadState = "pending"
	DownloadInProgress DownloadState = "in_progress"
	DownloadCompleted  DownloadState = "completed"
	DownloadFailed     DownloadState = "failed"
)

// Terminal reports whether no further attempts will be made.
func (s DownloadState) Terminal() bool {
	return s == DownloadCompleted || s == DownloadFailed
}

// DownloadRecord is the persistent status of one track's download.
// Seq is the enqueue sequence number, used to restore queue order.
type DownloadRecord struct {
	TrackID   string         `json:"track_id"`
	Candidate TrackCandidate `json:"candidate"`
	State     DownloadState  `json:"state"`
	Attempts  int            `json:"attempts"`
	LastError string         `json:"last_error,omitempty"`
	Seq       int64          `json:"seq"`
	UpdatedAt time.Time      `json:"updated_at"`
}
