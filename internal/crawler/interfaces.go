package crawler

//go:generate mockgen -destination=../../mocks/crawler_mocks.go -package=mocks relentless-tracks/internal/crawler DownloadExecutor,EventSink,MessageReader,MessageWriter,PageExplorer

import (
	"context"

	"github.com/segmentio/kafka-go"

	"relentless-tracks/internal/models"
)

// PageExplorer fetches one page and reports its outgoing links and the
// track candidates on it.
type PageExplorer interface {
	Explore(ctx context.Context, url string) (models.PageResult, error)
}

// DownloadExecutor downloads a single track into dest. Returning a
// *DownloadError with Permanent set skips retries.
type DownloadExecutor interface {
	Download(ctx context.Context, candidate models.TrackCandidate, dest, quality, format string) error
}

// EventSink receives crawl events. Implementations must be safe for
// concurrent use; errors are logged and never stop the crawl.
type EventSink interface {
	PublishDownload(ctx context.Context, event models.DownloadEvent) error
	PublishFailure(ctx context.Context, failure models.CrawlFailure) error
	PublishEdges(ctx context.Context, edges []models.Edge) error
	Close() error
}

// NoopSink discards every event.
type NoopSink struct{}

func (NoopSink) PublishDownload(context.Context, models.DownloadEvent) error { return nil }
func (NoopSink) PublishFailure(context.Context, models.CrawlFailure) error   { return nil }
func (NoopSink) PublishEdges(context.Context, []models.Edge) error          { return nil }
func (NoopSink) Close() error                                               { return nil }

// MessageReader abstracts kafka.Reader.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// MessageWriter abstracts kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}
