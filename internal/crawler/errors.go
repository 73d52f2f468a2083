package crawler

import (
	"errors"
	"fmt"
)

// ErrCancelled is returned by Crawl when the crawl was stopped by its context.
// State has been saved by the time it is returned.
var ErrCancelled = errors.New("crawl cancelled")

// FetchError means a page could not be explored. The page is recorded and
// never retried.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// DownloadError is returned by executors. Permanent errors skip the
// remaining retries.
type DownloadError struct {
	TrackID   string
	Err       error
	Permanent bool
}

func (e *DownloadError) Error() string {
	if e.Permanent {
		return fmt.Sprintf("download %s (permanent): %v", e.TrackID, e.Err)
	}
	return fmt.Sprintf("download %s: %v", e.TrackID, e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }

// IsPermanent reports whether err carries a permanent DownloadError.
func IsPermanent(err error) bool {
	var de *DownloadError
	return errors.As(err, &de) && de.Permanent
}

// PersistenceError wraps a state store failure. It aborts the crawl.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
