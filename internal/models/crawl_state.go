package models

import "time"

// CrawlState is the persisted aggregate: visited set, frontier, download records.
// Completed downloads are never re-enqueued and visited URLs never reappear in
// the frontier.
type CrawlState struct {
	CrawlID      string                    `json:"crawl_id"`
	Status       CrawlStatus               `json:"status"`
	Visited      []string                  `json:"visited"`
	Frontier     []FrontierEntry           `json:"frontier"`
	Downloads    map[string]DownloadRecord `json:"downloads"`
	PageFailures []PageFailure             `json:"page_failures,omitempty"`
	SavedAt      time.Time                 `json:"saved_at"`
}

// NewCrawlState returns an empty state for the given crawl.
func NewCrawlState(crawlID string) CrawlState {
	return CrawlState{
		CrawlID:   crawlID,
		Status:    CrawlIdle,
		Downloads: make(map[string]DownloadRecord),
	}
}

// Stats is a point-in-time summary of a crawl.
type Stats struct {
	Status          CrawlStatus `json:"status"`
	QueueSize       int         `json:"queue_size"`
	VisitedCount    int         `json:"visited_count"`
	DownloadedCount int         `json:"downloaded_count"`
	PendingCount    int         `json:"pending_count"`
	InProgressCount int         `json:"in_progress_count"`
	FailedCount     int         `json:"failed_count"`
	PagesFailed     int         `json:"pages_failed"`
}

// Stats summarizes a persisted state. In-progress records count as pending
// because they revert on resume.
func (s CrawlState) Stats() Stats {
	st := Stats{
		Status:       s.Status,
		QueueSize:    len(s.Frontier),
		VisitedCount: len(s.Visited),
		PagesFailed:  len(s.PageFailures),
	}
	for _, rec := range s.Downloads {
		switch rec.State {
		case DownloadCompleted:
			st.DownloadedCount++
		case DownloadFailed:
			st.FailedCount++
		default:
			st.PendingCount++
		}
	}
	return st
}
