package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"relentless-tracks/internal/models"
)

const (
	DefaultDownloadsTopic = "relentless.tracks.downloads"
	DefaultDLQTopic       = "relentless.tracks.dlq"
	DefaultEdgesTopic     = "relentless.tracks.edges"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Topics names the three streams a crawl publishes to.
type Topics struct {
	Downloads string
	DLQ       string
	Edges     string
}

// DefaultTopics returns the standard topic names.
func DefaultTopics() Topics {
	return Topics{
		Downloads: DefaultDownloadsTopic,
		DLQ:       DefaultDLQTopic,
		Edges:     DefaultEdgesTopic,
	}
}

// Publisher writes crawl events to Kafka. Every message is keyed by crawl ID
// so one crawl's events stay ordered within a partition.
type Publisher struct {
	downloads messageWriter
	dlq       messageWriter
	edges     messageWriter
}

// NewPublisher creates writers for the given broker and topics.
func NewPublisher(broker string, topics Topics) *Publisher {
	return &Publisher{
		downloads: newWriter(broker, topics.Downloads),
		dlq:       newWriter(broker, topics.DLQ),
		edges:     newWriter(broker, topics.Edges),
	}
}

func newWriter(broker, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(broker),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: false,
	}
}

// NewPublisherWithWriters builds a publisher using custom writers (tests).
func NewPublisherWithWriters(downloads, dlq, edges messageWriter) *Publisher {
	return &Publisher{downloads: downloads, dlq: dlq, edges: edges}
}

// PublishDownload writes one download attempt to the downloads topic.
func (p *Publisher) PublishDownload(ctx context.Context, event models.DownloadEvent) error {
	msg, err := message(event.CrawlID, event, event.At)
	if err != nil {
		return err
	}
	return p.downloads.WriteMessages(ctx, msg)
}

// PublishFailure writes a failed page or track to the DLQ topic.
func (p *Publisher) PublishFailure(ctx context.Context, failure models.CrawlFailure) error {
	msg, err := message(failure.CrawlID, failure, failure.FailedAt)
	if err != nil {
		return err
	}
	return p.dlq.WriteMessages(ctx, msg)
}

// PublishEdges writes discovery edges in a single batch.
func (p *Publisher) PublishEdges(ctx context.Context, edges []models.Edge) error {
	if len(edges) == 0 {
		return nil
	}
	now := time.Now().UTC()
	msgs := make([]kafka.Message, 0, len(edges))
	for _, edge := range edges {
		msg, err := message(edge.CrawlID, edge, now)
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}
	return p.edges.WriteMessages(ctx, msgs...)
}

// Close shuts down all writers.
func (p *Publisher) Close() error {
	var errs []error
	for _, w := range []messageWriter{p.downloads, p.dlq, p.edges} {
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func message(key string, v any, at time.Time) (kafka.Message, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode event: %w", err)
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Time:  at,
	}, nil
}
