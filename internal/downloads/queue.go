// Package downloads implements the deduplicated download queue and the
// per-track download state machine (pending -> in_progress -> completed |
// failed, with limited returns to pending for retries).
package downloads

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"relentless-tracks/internal/models"
)

const (
	DefaultRetryLimit = 3
	DefaultHighWater  = 256
	DefaultLowWater   = 64
)

// ErrNotInProgress is returned when an outcome is reported for a track no
// executor holds.
var ErrNotInProgress = errors.New("download not in progress")

// Config holds the retry policy and backpressure thresholds.
type Config struct {
	RetryLimit int
	HighWater  int
	LowWater   int
}

func (c Config) withDefaults() Config {
	if c.RetryLimit <= 0 {
		c.RetryLimit = DefaultRetryLimit
	}
	if c.HighWater <= 0 {
		c.HighWater = DefaultHighWater
	}
	if c.LowWater <= 0 || c.LowWater >= c.HighWater {
		c.LowWater = c.HighWater / 4
	}
	return c
}

// Queue is a FIFO of pending tracks keyed by track ID. It owns every
// DownloadRecord; a record only enters in_progress through Claim, so two
// executors can never hold the same track at once.
type Queue struct {
	mu       sync.Mutex
	cfg      Config
	order    []string
	due      map[string]time.Time
	records  map[string]*models.DownloadRecord
	inFlight int
	seq      int64
	paused   bool

	ready   chan struct{}
	changed chan struct{}
	now     func() time.Time
}

// NewQueue creates an empty queue.
func NewQueue(cfg Config) *Queue {
	return &Queue{
		cfg:     cfg.withDefaults(),
		due:     make(map[string]time.Time),
		records: make(map[string]*models.DownloadRecord),
		ready:   make(chan struct{}, 1),
		changed: make(chan struct{}, 1),
		now:     time.Now,
	}
}

// RetryLimit returns the number of attempts a track gets before it fails.
func (q *Queue) RetryLimit() int {
	return q.cfg.RetryLimit
}

// Ready is signalled whenever a pending track may be claimable.
func (q *Queue) Ready() <-chan struct{} {
	return q.ready
}

// Changed is signalled after every state transition.
func (q *Queue) Changed() <-chan struct{} {
	return q.changed
}

// Enqueue adds a pending record for the candidate. It is a no-op returning
// false when the track is already known in any state.
func (q *Queue) Enqueue(c models.TrackCandidate) bool {
	if c.TrackID == "" {
		return false
	}
	q.mu.Lock()
	if _, ok := q.records[c.TrackID]; ok {
		q.mu.Unlock()
		return false
	}
	q.seq++
	q.records[c.TrackID] = &models.DownloadRecord{
		TrackID:   c.TrackID,
		Candidate: c,
		State:     models.DownloadPending,
		Seq:       q.seq,
		UpdatedAt: q.now().UTC(),
	}
	q.order = append(q.order, c.TrackID)
	q.mu.Unlock()

	signal(q.ready)
	signal(q.changed)
	return true
}

// Claim pops the first due pending track and marks it in_progress.
func (q *Queue) Claim() (models.TrackCandidate, bool) {
	q.mu.Lock()
	now := q.now()
	for i, id := range q.order {
		if at, delayed := q.due[id]; delayed && now.Before(at) {
			continue
		}
		q.order = append(q.order[:i:i], q.order[i+1:]...)
		delete(q.due, id)
		rec := q.records[id]
		rec.State = models.DownloadInProgress
		rec.UpdatedAt = now.UTC()
		q.inFlight++
		more := len(q.order) > 0
		candidate := rec.Candidate
		q.mu.Unlock()

		if more {
			signal(q.ready)
		}
		signal(q.changed)
		return candidate, true
	}
	q.mu.Unlock()
	return models.TrackCandidate{}, false
}

// Complete marks an in-progress track as downloaded.
func (q *Queue) Complete(trackID string) (models.DownloadRecord, error) {
	q.mu.Lock()
	rec, err := q.inProgress(trackID)
	if err != nil {
		q.mu.Unlock()
		return models.DownloadRecord{}, err
	}
	rec.State = models.DownloadCompleted
	rec.LastError = ""
	rec.UpdatedAt = q.now().UTC()
	q.inFlight--
	out := *rec
	q.mu.Unlock()

	signal(q.changed)
	return out, nil
}

// Fail records a failed attempt. While attempts stay under the retry limit
// and the failure is not permanent the track returns to pending at the tail
// of the queue, claimable again after retryDelay; otherwise it is failed for
// good. The returned record reflects the new state.
func (q *Queue) Fail(trackID string, cause error, permanent bool, retryDelay time.Duration) (models.DownloadRecord, error) {
	q.mu.Lock()
	rec, err := q.inProgress(trackID)
	if err != nil {
		q.mu.Unlock()
		return models.DownloadRecord{}, err
	}
	now := q.now()
	rec.Attempts++
	if cause != nil {
		rec.LastError = cause.Error()
	}
	rec.UpdatedAt = now.UTC()
	q.inFlight--

	retrying := !permanent && rec.Attempts < q.cfg.RetryLimit
	if retrying {
		rec.State = models.DownloadPending
		q.order = append(q.order, trackID)
		if retryDelay > 0 {
			q.due[trackID] = now.Add(retryDelay)
		}
	} else {
		rec.State = models.DownloadFailed
	}
	out := *rec
	q.mu.Unlock()

	if retrying {
		if retryDelay > 0 {
			time.AfterFunc(retryDelay, func() { signal(q.ready) })
		} else {
			signal(q.ready)
		}
	}
	signal(q.changed)
	return out, nil
}

// Release returns an abandoned in-progress track to the head of the queue
// without counting an attempt.
func (q *Queue) Release(trackID string) error {
	q.mu.Lock()
	rec, err := q.inProgress(trackID)
	if err != nil {
		q.mu.Unlock()
		return err
	}
	rec.State = models.DownloadPending
	rec.UpdatedAt = q.now().UTC()
	q.inFlight--
	q.order = append([]string{trackID}, q.order...)
	q.mu.Unlock()

	signal(q.ready)
	signal(q.changed)
	return nil
}

func (q *Queue) inProgress(trackID string) (*models.DownloadRecord, error) {
	rec, ok := q.records[trackID]
	if !ok || rec.State != models.DownloadInProgress {
		return nil, fmt.Errorf("%w: %s", ErrNotInProgress, trackID)
	}
	return rec, nil
}

// Known reports whether a record exists for the track.
func (q *Queue) Known(trackID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.records[trackID]
	return ok
}

// Record returns a copy of the track's record.
func (q *Queue) Record(trackID string) (models.DownloadRecord, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	rec, ok := q.records[trackID]
	if !ok {
		return models.DownloadRecord{}, false
	}
	return *rec, true
}

// Len returns the number of pending tracks, including ones waiting out a
// retry delay.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order)
}

// InFlight returns the number of tracks currently held by executors.
func (q *Queue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inFlight
}

// Idle reports whether nothing is pending and nothing is in flight.
func (q *Queue) Idle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order) == 0 && q.inFlight == 0
}

// Accepting applies high/low water hysteresis: it turns false once the
// pending count reaches the high-water mark and true again only after it
// drains to the low-water mark.
func (q *Queue) Accepting() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.order)
	if q.paused {
		if n <= q.cfg.LowWater {
			q.paused = false
		}
	} else if n >= q.cfg.HighWater {
		q.paused = true
	}
	return !q.paused
}

// Counts tallies records by state.
type Counts struct {
	Pending    int
	InProgress int
	Completed  int
	Failed     int
}

// Counts returns a consistent tally of all records.
func (q *Queue) Counts() Counts {
	q.mu.Lock()
	defer q.mu.Unlock()
	var c Counts
	for _, rec := range q.records {
		switch rec.State {
		case models.DownloadPending:
			c.Pending++
		case models.DownloadInProgress:
			c.InProgress++
		case models.DownloadCompleted:
			c.Completed++
		case models.DownloadFailed:
			c.Failed++
		}
	}
	return c
}

// Snapshot copies every record.
func (q *Queue) Snapshot() map[string]models.DownloadRecord {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(map[string]models.DownloadRecord, len(q.records))
	for id, rec := range q.records {
		out[id] = *rec
	}
	return out
}

// Restore replaces the queue with persisted records. In-progress work did not
// survive the previous process, so those records come back as pending.
// Pending records are queued in their original enqueue order.
func (q *Queue) Restore(records map[string]models.DownloadRecord) {
	q.mu.Lock()
	q.records = make(map[string]*models.DownloadRecord, len(records))
	q.due = make(map[string]time.Time)
	q.order = nil
	q.inFlight = 0
	q.seq = 0
	q.paused = false

	pending := make([]*models.DownloadRecord, 0)
	for id, rec := range records {
		rec := rec
		if rec.TrackID == "" {
			rec.TrackID = id
		}
		if rec.Candidate.TrackID == "" {
			rec.Candidate.TrackID = rec.TrackID
		}
		if rec.State == models.DownloadInProgress || rec.State == "" {
			rec.State = models.DownloadPending
		}
		if rec.Seq > q.seq {
			q.seq = rec.Seq
		}
		q.records[rec.TrackID] = &rec
		if rec.State == models.DownloadPending {
			pending = append(pending, &rec)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		if pending[i].Seq == pending[j].Seq {
			return pending[i].TrackID < pending[j].TrackID
		}
		return pending[i].Seq < pending[j].Seq
	})
	for _, rec := range pending {
		q.order = append(q.order, rec.TrackID)
	}
	hasPending := len(q.order) > 0
	q.mu.Unlock()

	if hasPending {
		signal(q.ready)
	}
	signal(q.changed)
}

// Reset drops every record.
func (q *Queue) Reset() {
	q.Restore(nil)
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
