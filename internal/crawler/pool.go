package crawler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"relentless-tracks/internal/downloads"
	"relentless-tracks/internal/metrics"
	"relentless-tracks/internal/models"
)

const (
	DefaultWorkers = 8
	publishTimeout = 5 * time.Second
)

// PoolConfig configures the download workers.
type PoolConfig struct {
	Workers         int
	DownloadTimeout time.Duration // per attempt; expiry counts as a failed attempt
	Destination     string
	Quality         string
	Format          string
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
}

type pool struct {
	queue    *downloads.Queue
	executor DownloadExecutor
	cfg      PoolConfig
	crawlID  string
	sink     EventSink
	metrics  *metrics.Metrics
	logger   *zap.Logger
	onChange func()
}

func newPool(queue *downloads.Queue, executor DownloadExecutor, cfg PoolConfig) *pool {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	return &pool{
		queue:    queue,
		executor: executor,
		cfg:      cfg,
		sink:     NoopSink{},
		logger:   zap.NewNop(),
		onChange: func() {},
	}
}

// run starts exactly cfg.Workers executors and blocks until ctx is done and
// every in-flight download has been settled.
func (p *pool) run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.work(ctx, id)
		}(i)
	}
	wg.Wait()
	return nil
}

func (p *pool) work(ctx context.Context, id int) {
	log := p.logger.With(zap.Int("worker", id))
	for {
		if ctx.Err() != nil {
			return
		}
		candidate, ok := p.queue.Claim()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-p.queue.Ready():
			}
			continue
		}
		p.execute(ctx, log, candidate)
	}
}

func (p *pool) execute(ctx context.Context, log *zap.Logger, candidate models.TrackCandidate) {
	attempt := 1
	if rec, ok := p.queue.Record(candidate.TrackID); ok {
		attempt = rec.Attempts + 1
	}
	log = log.With(zap.String("track_id", candidate.TrackID), zap.Int("attempt", attempt))

	jobCtx, cancel := ctx, context.CancelFunc(func() {})
	if p.cfg.DownloadTimeout > 0 {
		jobCtx, cancel = context.WithTimeout(ctx, p.cfg.DownloadTimeout)
	}
	start := time.Now()
	err := p.executor.Download(jobCtx, candidate, p.cfg.Destination, p.cfg.Quality, p.cfg.Format)
	timedOut := errors.Is(jobCtx.Err(), context.DeadlineExceeded)
	cancel()
	elapsed := time.Since(start)

	if err != nil && ctx.Err() != nil {
		// Abandoned by cancellation: not an attempt.
		if relErr := p.queue.Release(candidate.TrackID); relErr != nil {
			log.Warn("release failed", zap.Error(relErr))
		}
		log.Info("download abandoned")
		p.onChange()
		return
	}

	var rec models.DownloadRecord
	var outcomeErr error
	if err == nil {
		rec, outcomeErr = p.queue.Complete(candidate.TrackID)
		log.Info("download completed", zap.Duration("elapsed", elapsed))
	} else {
		if timedOut {
			err = &DownloadError{TrackID: candidate.TrackID, Err: fmt.Errorf("timed out after %s: %w", p.cfg.DownloadTimeout, err)}
		}
		rec, outcomeErr = p.queue.Fail(candidate.TrackID, err, IsPermanent(err), p.backoff(attempt))
		if rec.State == models.DownloadFailed {
			log.Warn("download failed", zap.Error(err))
		} else {
			log.Info("download will retry", zap.Error(err))
		}
	}
	if outcomeErr != nil {
		log.Error("record outcome", zap.Error(outcomeErr))
		return
	}

	p.metrics.ObserveDownload(elapsed, rec.State)
	p.publish(ctx, log, candidate, rec, elapsed)
	p.onChange()
}

// backoff returns RetryBase * 2^(attempt-1), capped at RetryMaxDelay.
func (p *pool) backoff(attempt int) time.Duration {
	delay := p.cfg.RetryBase
	if delay <= 0 {
		return 0
	}
	for i := 1; i < attempt; i++ {
		delay *= 2
		if p.cfg.RetryMaxDelay > 0 && delay >= p.cfg.RetryMaxDelay {
			break
		}
	}
	if p.cfg.RetryMaxDelay > 0 && delay > p.cfg.RetryMaxDelay {
		delay = p.cfg.RetryMaxDelay
	}
	return delay
}

func (p *pool) publish(ctx context.Context, log *zap.Logger, candidate models.TrackCandidate, rec models.DownloadRecord, elapsed time.Duration) {
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	attempt := rec.Attempts
	if rec.State == models.DownloadCompleted {
		attempt++
	}
	event := models.DownloadEvent{
		EventID:   uuid.NewString(),
		CrawlID:   p.crawlID,
		TrackID:   candidate.TrackID,
		SourceURL: candidate.SourceURL,
		Title:     candidate.Metadata.Title,
		State:     rec.State,
		Attempt:   attempt,
		Error:     rec.LastError,
		Duration:  elapsed,
		At:        rec.UpdatedAt,
	}
	if err := p.sink.PublishDownload(pubCtx, event); err != nil {
		log.Warn("publish download event", zap.Error(err))
	}
	if rec.State != models.DownloadFailed {
		return
	}
	failure := models.CrawlFailure{
		CrawlID:  p.crawlID,
		Kind:     models.FailureKindTrack,
		URL:      candidate.SourceURL,
		TrackID:  candidate.TrackID,
		Attempts: rec.Attempts,
		Error:    rec.LastError,
		FailedAt: rec.UpdatedAt,
	}
	if err := p.sink.PublishFailure(pubCtx, failure); err != nil {
		log.Warn("publish dlq", zap.Error(err))
	}
}
