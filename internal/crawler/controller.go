package crawler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"relentless-tracks/internal/downloads"
	"relentless-tracks/internal/frontier"
	"relentless-tracks/internal/metrics"
	"relentless-tracks/internal/models"
	"relentless-tracks/internal/store"
)

const (
	DefaultSaveEvery    = 25
	DefaultSaveInterval = 30 * time.Second
)

// ErrAlreadyRunning is returned when Crawl or ClearState is called on a
// running controller.
var ErrAlreadyRunning = errors.New("crawl already running")

// Options configures a crawl.
type Options struct {
	CrawlID  string
	Seeds    []string
	MaxDepth int

	Workers         int
	RetryLimit      int
	DownloadFolder  string
	AudioQuality    string
	AudioFormat     string
	PageTimeout     time.Duration
	DownloadTimeout time.Duration
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration

	// State is saved after SaveEvery mutations or SaveInterval, whichever comes first.
	SaveEvery    int
	SaveInterval time.Duration

	HighWater int
	LowWater  int
}

// Option customizes a Controller.
type Option func(*Controller)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

// WithMetrics records crawl metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithEventSink publishes download events, failures and discovery edges.
func WithEventSink(sink EventSink) Option {
	return func(c *Controller) { c.sink = sink }
}

// WithBackupStore sets where state goes when the primary store fails.
func WithBackupStore(backup store.StateStore) Option {
	return func(c *Controller) { c.backup = backup }
}

// Controller drives one crawl: it owns the frontier, feeds the download
// queue and persists progress.
type Controller struct {
	opts     Options
	explorer PageExplorer
	executor DownloadExecutor
	store    store.StateStore
	backup   store.StateStore
	sink     EventSink
	metrics  *metrics.Metrics
	logger   *zap.Logger

	frontier *frontier.Frontier
	queue    *downloads.Queue

	mu           sync.Mutex
	status       models.CrawlStatus
	deferred     []models.TrackCandidate
	deferredIDs  map[string]struct{}
	pageFailures []models.PageFailure
	// exploring is the popped page whose results are not in the frontier yet.
	exploring *models.FrontierEntry

	saveMu    sync.Mutex
	mutations atomic.Int64
	saveReq   chan struct{}
}

// NewController wires a controller. explorer, executor and st are required.
func NewController(opts Options, explorer PageExplorer, executor DownloadExecutor, st store.StateStore, options ...Option) *Controller {
	if opts.SaveEvery <= 0 {
		opts.SaveEvery = DefaultSaveEvery
	}
	if opts.SaveInterval == 0 {
		opts.SaveInterval = DefaultSaveInterval
	}
	c := &Controller{
		opts:        opts,
		explorer:    explorer,
		executor:    executor,
		store:       st,
		sink:        NoopSink{},
		logger:      zap.NewNop(),
		frontier:    frontier.New(opts.MaxDepth),
		status:      models.CrawlIdle,
		deferredIDs: make(map[string]struct{}),
		saveReq:     make(chan struct{}, 1),
	}
	c.queue = downloads.NewQueue(downloads.Config{
		RetryLimit: opts.RetryLimit,
		HighWater:  opts.HighWater,
		LowWater:   opts.LowWater,
	})
	for _, opt := range options {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("crawl_id", opts.CrawlID))
	return c
}

// Status returns the current lifecycle state.
func (c *Controller) Status() models.CrawlStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Controller) setStatus(s models.CrawlStatus) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
}

// Stats summarizes live progress. Deferred candidates count as pending.
func (c *Controller) Stats() models.Stats {
	counts := c.queue.Counts()
	c.mu.Lock()
	status := c.status
	deferred := len(c.deferred)
	pagesFailed := len(c.pageFailures)
	c.mu.Unlock()

	return models.Stats{
		Status:          status,
		QueueSize:       c.frontier.Len(),
		VisitedCount:    c.frontier.VisitedCount(),
		DownloadedCount: counts.Completed,
		PendingCount:    counts.Pending + deferred,
		InProgressCount: counts.InProgress,
		FailedCount:     counts.Failed,
		PagesFailed:     pagesFailed,
	}
}

// Downloads returns a copy of every download record.
func (c *Controller) Downloads() map[string]models.DownloadRecord {
	return c.queue.Snapshot()
}

// ClearState wipes persisted and in-memory progress.
func (c *Controller) ClearState(ctx context.Context) error {
	c.mu.Lock()
	if c.status == models.CrawlRunning {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	c.mu.Unlock()

	if err := c.store.Clear(ctx); err != nil {
		return &PersistenceError{Op: "clear", Err: err}
	}
	c.frontier.Reset()
	c.queue.Reset()
	c.mu.Lock()
	c.deferred = nil
	c.deferredIDs = make(map[string]struct{})
	c.pageFailures = nil
	c.status = models.CrawlIdle
	c.mu.Unlock()
	c.logger.Info("crawl state cleared")
	return nil
}

// Crawl runs until the frontier and the download queue are both exhausted,
// ctx is cancelled, or the state store fails. Progress is saved before it
// returns. Cancellation yields ErrCancelled; store failures a *PersistenceError.
func (c *Controller) Crawl(ctx context.Context) error {
	c.mu.Lock()
	if c.status == models.CrawlRunning {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	c.status = models.CrawlRunning
	c.mu.Unlock()

	if err := c.load(ctx); err != nil {
		c.setStatus(models.CrawlAborted)
		return err
	}
	seeded := 0
	for _, seed := range c.opts.Seeds {
		if c.frontier.Push(seed, 0) {
			seeded++
		}
	}
	c.logger.Info("crawl started",
		zap.Int("seeds", seeded),
		zap.Int("max_depth", c.opts.MaxDepth),
		zap.Int("frontier", c.frontier.Len()),
		zap.Int("pending_downloads", c.queue.Len()),
	)

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	p := newPool(c.queue, c.executor, PoolConfig{
		Workers:         c.opts.Workers,
		DownloadTimeout: c.opts.DownloadTimeout,
		Destination:     c.opts.DownloadFolder,
		Quality:         c.opts.AudioQuality,
		Format:          c.opts.AudioFormat,
		RetryBase:       c.opts.RetryBase,
		RetryMaxDelay:   c.opts.RetryMaxDelay,
	})
	p.crawlID = c.opts.CrawlID
	p.sink = c.sink
	p.metrics = c.metrics
	p.logger = c.logger
	p.onChange = c.mutated

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return p.run(gctx) })
	g.Go(func() error {
		defer stop()
		return c.explore(gctx)
	})
	g.Go(func() error { return c.saveLoop(gctx) })
	runErr := g.Wait()

	final := models.CrawlCompleted
	if runErr != nil {
		final = models.CrawlAborted
	}
	c.setStatus(final)

	saveCtx := context.WithoutCancel(ctx)
	saveErr := c.save(saveCtx)

	var perr *PersistenceError
	switch {
	case errors.As(runErr, &perr):
		c.saveBackup(saveCtx)
		c.logger.Error("crawl aborted", zap.Error(runErr))
		return runErr
	case saveErr != nil:
		c.setStatus(models.CrawlAborted)
		c.saveBackup(saveCtx)
		c.logger.Error("final save failed", zap.Error(saveErr))
		return saveErr
	case runErr != nil && ctx.Err() != nil:
		c.logger.Info("crawl cancelled", zap.Any("stats", c.Stats()))
		return ErrCancelled
	case runErr != nil:
		return runErr
	}
	c.logger.Info("crawl completed", zap.Any("stats", c.Stats()))
	return nil
}

func (c *Controller) load(ctx context.Context) error {
	state, found, err := c.store.Load(ctx)
	if err != nil {
		return &PersistenceError{Op: "load", Err: err}
	}
	c.mu.Lock()
	c.deferred = nil
	c.deferredIDs = make(map[string]struct{})
	c.pageFailures = nil
	c.exploring = nil
	c.mu.Unlock()
	if !found {
		c.frontier.Reset()
		c.queue.Reset()
		return nil
	}
	c.frontier.Restore(state.Visited, state.Frontier)
	c.queue.Restore(state.Downloads)
	c.mu.Lock()
	c.pageFailures = append([]models.PageFailure(nil), state.PageFailures...)
	c.mu.Unlock()
	c.logger.Info("crawl state restored",
		zap.Int("visited", len(state.Visited)),
		zap.Int("frontier", len(state.Frontier)),
		zap.Int("downloads", len(state.Downloads)),
	)
	return nil
}

// explore is the single writer of the frontier.
func (c *Controller) explore(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.flushDeferred()

		entry, ok := c.popPage()
		if !ok {
			if c.finished() {
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-c.queue.Changed():
			}
			continue
		}
		err := c.visit(ctx, entry)
		c.settlePage(entry, err != nil && ctx.Err() != nil)
		if err != nil {
			return err
		}
	}
}

func (c *Controller) popPage() (models.FrontierEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.frontier.Pop()
	if ok {
		c.exploring = &entry
	}
	return entry, ok
}

// settlePage ends the in-flight page. An interrupted page goes back to the
// frontier head so a resume explores it again.
func (c *Controller) settlePage(entry models.FrontierEntry, interrupted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if interrupted {
		c.frontier.Requeue(entry)
	}
	c.exploring = nil
}

func (c *Controller) finished() bool {
	c.mu.Lock()
	deferred := len(c.deferred)
	c.mu.Unlock()
	return deferred == 0 && c.frontier.IsEmpty() && c.queue.Idle()
}

func (c *Controller) visit(ctx context.Context, entry models.FrontierEntry) error {
	log := c.logger.With(zap.String("url", entry.URL), zap.Int("depth", entry.Depth))

	pageCtx, cancel := ctx, context.CancelFunc(func() {})
	if c.opts.PageTimeout > 0 {
		pageCtx, cancel = context.WithTimeout(ctx, c.opts.PageTimeout)
	}
	start := time.Now()
	result, err := c.explorer.Explore(pageCtx, entry.URL)
	cancel()

	if err != nil && ctx.Err() != nil {
		// Interrupted, not failed.
		return ctx.Err()
	}
	c.metrics.ObservePage(time.Since(start), err)
	if err != nil {
		c.recordPageFailure(ctx, log, entry, err)
		c.mutated()
		return nil
	}

	edges := make([]models.Edge, 0, len(result.Links)+len(result.Candidates))
	pushed := 0
	if entry.Depth < c.frontier.MaxDepth() {
		for _, link := range result.Links {
			normalized, nerr := frontier.NormalizeURL(link)
			if nerr != nil {
				continue
			}
			if c.frontier.Push(normalized, entry.Depth+1) {
				pushed++
			}
			edges = append(edges, models.Edge{CrawlID: c.opts.CrawlID, From: entry.URL, To: normalized, Relation: models.RelationLinksTo})
		}
	}
	enqueued := 0
	for _, candidate := range result.Candidates {
		if candidate.TrackID == "" {
			continue
		}
		if c.offer(candidate) {
			enqueued++
		}
		edges = append(edges, models.Edge{CrawlID: c.opts.CrawlID, From: entry.URL, To: models.TrackNodeKey(candidate.TrackID), Relation: models.RelationFeatures})
	}
	c.metrics.TracksDiscovered(enqueued)
	log.Debug("page explored",
		zap.Int("links", len(result.Links)),
		zap.Int("pushed", pushed),
		zap.Int("candidates", len(result.Candidates)),
		zap.Int("enqueued", enqueued),
	)

	if len(edges) > 0 {
		pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
		if err := c.sink.PublishEdges(pubCtx, edges); err != nil {
			log.Warn("publish edges", zap.Error(err))
		}
		cancel()
	}
	c.mutated()
	return nil
}

// offer enqueues a candidate, or defers it while the queue is above its
// high-water mark. It reports whether the candidate is new.
func (c *Controller) offer(candidate models.TrackCandidate) bool {
	if c.queue.Known(candidate.TrackID) {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.deferredIDs[candidate.TrackID]; ok {
		return false
	}
	if len(c.deferred) == 0 && c.queue.Accepting() {
		return c.queue.Enqueue(candidate)
	}
	c.deferred = append(c.deferred, candidate)
	c.deferredIDs[candidate.TrackID] = struct{}{}
	return true
}

// flushDeferred moves deferred candidates into the queue while it accepts.
func (c *Controller) flushDeferred() {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for n < len(c.deferred) && c.queue.Accepting() {
		candidate := c.deferred[n]
		delete(c.deferredIDs, candidate.TrackID)
		c.queue.Enqueue(candidate)
		n++
	}
	if n == 0 {
		return
	}
	c.deferred = append([]models.TrackCandidate(nil), c.deferred[n:]...)
	c.logger.Debug("flushed deferred candidates", zap.Int("flushed", n), zap.Int("remaining", len(c.deferred)))
}

func (c *Controller) recordPageFailure(ctx context.Context, log *zap.Logger, entry models.FrontierEntry, err error) {
	ferr := &FetchError{URL: entry.URL, Err: err}
	now := time.Now().UTC()
	c.mu.Lock()
	c.pageFailures = append(c.pageFailures, models.PageFailure{
		URL:      entry.URL,
		Depth:    entry.Depth,
		Error:    ferr.Error(),
		FailedAt: now,
	})
	c.mu.Unlock()
	log.Warn("page failed", zap.Error(ferr))

	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	failure := models.CrawlFailure{
		CrawlID:  c.opts.CrawlID,
		Kind:     models.FailureKindPage,
		URL:      entry.URL,
		Depth:    entry.Depth,
		Error:    ferr.Error(),
		FailedAt: now,
	}
	if perr := c.sink.PublishFailure(pubCtx, failure); perr != nil {
		log.Warn("publish dlq", zap.Error(perr))
	}
}

// mutated counts a state change and requests a save every SaveEvery changes.
func (c *Controller) mutated() {
	if c.mutations.Add(1) >= int64(c.opts.SaveEvery) {
		select {
		case c.saveReq <- struct{}{}:
		default:
		}
	}
}

func (c *Controller) saveLoop(ctx context.Context) error {
	var tick <-chan time.Time
	if c.opts.SaveInterval > 0 {
		ticker := time.NewTicker(c.opts.SaveInterval)
		defer ticker.Stop()
		tick = ticker.C
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick:
			if c.mutations.Load() == 0 {
				continue
			}
		case <-c.saveReq:
		}
		if err := c.save(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// snapshot assembles the persisted aggregate. Deferred candidates are saved
// as pending records after every queued one. A page still being explored is
// saved as unvisited at the head of the frontier, since none of its links or
// candidates are recorded yet.
func (c *Controller) snapshot() models.CrawlState {
	c.mu.Lock()
	defer c.mu.Unlock()

	visited, entries := c.frontier.Snapshot()
	records := c.queue.Snapshot()
	if c.exploring != nil {
		page := *c.exploring
		kept := visited[:0]
		for _, u := range visited {
			if u != page.URL {
				kept = append(kept, u)
			}
		}
		visited = kept
		entries = append([]models.FrontierEntry{page}, entries...)
	}
	var maxSeq int64
	for _, rec := range records {
		if rec.Seq > maxSeq {
			maxSeq = rec.Seq
		}
	}
	now := time.Now().UTC()
	for i, candidate := range c.deferred {
		if _, ok := records[candidate.TrackID]; ok {
			continue
		}
		records[candidate.TrackID] = models.DownloadRecord{
			TrackID:   candidate.TrackID,
			Candidate: candidate,
			State:     models.DownloadPending,
			Seq:       maxSeq + int64(i) + 1,
			UpdatedAt: now,
		}
	}
	return models.CrawlState{
		CrawlID:      c.opts.CrawlID,
		Status:       c.status,
		Visited:      visited,
		Frontier:     entries,
		Downloads:    records,
		PageFailures: append([]models.PageFailure(nil), c.pageFailures...),
		SavedAt:      now,
	}
}

func (c *Controller) save(ctx context.Context) error {
	c.saveMu.Lock()
	defer c.saveMu.Unlock()

	c.mutations.Store(0)
	state := c.snapshot()
	err := c.store.Save(ctx, state)
	c.metrics.ObserveSave(err)
	if err != nil {
		return &PersistenceError{Op: "save", Err: err}
	}
	c.logger.Debug("crawl state saved",
		zap.Int("visited", len(state.Visited)),
		zap.Int("frontier", len(state.Frontier)),
		zap.Int("downloads", len(state.Downloads)),
	)
	return nil
}

// saveBackup is the best-effort write after the primary store failed.
func (c *Controller) saveBackup(ctx context.Context) {
	if c.backup == nil {
		c.logger.Warn("no backup store configured, progress since last save is lost")
		return
	}
	c.saveMu.Lock()
	defer c.saveMu.Unlock()
	if err := c.backup.Save(ctx, c.snapshot()); err != nil {
		c.logger.Error("backup save failed", zap.Error(err))
		return
	}
	c.logger.Warn("state written to backup store")
}
