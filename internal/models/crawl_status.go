package models

// CrawlStatus tracks the controller state machine:
// idle -> running -> completed | aborted.
type CrawlStatus string

const (
	CrawlIdle      CrawlStatus = "idle"
	CrawlRunning   CrawlStatus = "running"
	CrawlCompleted CrawlStatus = "completed"
	CrawlAborted   CrawlStatus = "aborted"
)
