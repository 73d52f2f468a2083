package kafka_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	kgo "github.com/segmentio/kafka-go"

	"relentless-tracks/internal/crawler"
	rkafka "relentless-tracks/internal/kafka"
	"relentless-tracks/internal/models"
	"relentless-tracks/mocks"
)

var _ crawler.EventSink = (*rkafka.Publisher)(nil)

func newPublisher(t *testing.T) (*rkafka.Publisher, *mocks.MockMessageWriter, *mocks.MockMessageWriter, *mocks.MockMessageWriter) {
	t.Helper()
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	downloads := mocks.NewMockMessageWriter(ctrl)
	dlq := mocks.NewMockMessageWriter(ctrl)
	edges := mocks.NewMockMessageWriter(ctrl)
	return rkafka.NewPublisherWithWriters(downloads, dlq, edges), downloads, dlq, edges
}

func TestPublisherPublishDownload(t *testing.T) {
	pub, downloads, _, _ := newPublisher(t)

	event := models.DownloadEvent{
		EventID:   "evt-1",
		CrawlID:   "crawl-123",
		TrackID:   "youtube:dQw4w9WgXcQ",
		SourceURL: "https://www.youtube.com/watch?v=dQw4w9WgXcQ",
		State:     models.DownloadCompleted,
		Attempt:   1,
		At:        time.Unix(100, 0).UTC(),
	}

	downloads.EXPECT().
		WriteMessages(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, msgs ...kgo.Message) error {
			if len(msgs) != 1 {
				t.Fatalf("expected 1 message, got %d", len(msgs))
			}
			if string(msgs[0].Key) != event.CrawlID {
				t.Fatalf("unexpected message key: %s", string(msgs[0].Key))
			}
			if !msgs[0].Time.Equal(event.At) {
				t.Fatalf("unexpected message time: %v", msgs[0].Time)
			}
			var got models.DownloadEvent
			if err := json.Unmarshal(msgs[0].Value, &got); err != nil {
				t.Fatalf("failed to decode message: %v", err)
			}
			if got.TrackID != event.TrackID || got.State != event.State || got.Attempt != event.Attempt {
				t.Fatalf("unexpected event payload: %+v", got)
			}
			return nil
		})

	if err := pub.PublishDownload(context.Background(), event); err != nil {
		t.Fatalf("PublishDownload returned error: %v", err)
	}
}

func TestPublisherPublishFailureGoesToDLQ(t *testing.T) {
	pub, _, dlq, _ := newPublisher(t)

	failure := models.CrawlFailure{
		CrawlID: "crawl-123",
		Kind:    models.FailureKindPage,
		URL:     "https://soundcloud.com/discover",
		Error:   "unexpected status 503",
	}
	dlq.EXPECT().
		WriteMessages(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, msgs ...kgo.Message) error {
			var got models.CrawlFailure
			if err := json.Unmarshal(msgs[0].Value, &got); err != nil {
				t.Fatalf("failed to decode message: %v", err)
			}
			if got.Kind != models.FailureKindPage || got.URL != failure.URL {
				t.Fatalf("unexpected failure payload: %+v", got)
			}
			if msgs[0].Time.IsZero() {
				t.Fatal("expected message time to be set")
			}
			return nil
		})

	if err := pub.PublishFailure(context.Background(), failure); err != nil {
		t.Fatalf("PublishFailure returned error: %v", err)
	}
}

func TestPublisherPublishEdgesBatches(t *testing.T) {
	pub, _, _, edges := newPublisher(t)

	batch := []models.Edge{
		{CrawlID: "c", From: "https://a", To: "https://b", Relation: models.RelationLinksTo},
		{CrawlID: "c", From: "https://a", To: models.TrackNodeKey("youtube:x"), Relation: models.RelationFeatures},
	}
	edges.EXPECT().
		WriteMessages(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, msgs ...kgo.Message) error {
			if len(msgs) != 2 {
				t.Fatalf("expected 2 messages, got %d", len(msgs))
			}
			return nil
		})

	if err := pub.PublishEdges(context.Background(), batch); err != nil {
		t.Fatalf("PublishEdges returned error: %v", err)
	}
	if err := pub.PublishEdges(context.Background(), nil); err != nil {
		t.Fatalf("PublishEdges with no edges returned error: %v", err)
	}
}

func TestPublisherWriteError(t *testing.T) {
	pub, downloads, _, _ := newPublisher(t)

	downloads.EXPECT().WriteMessages(gomock.Any(), gomock.Any()).Return(errors.New("write failed"))
	if err := pub.PublishDownload(context.Background(), models.DownloadEvent{CrawlID: "c"}); err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestPublisherCloseJoinsErrors(t *testing.T) {
	pub, downloads, dlq, edges := newPublisher(t)

	downloads.EXPECT().Close().Return(nil)
	dlq.EXPECT().Close().Return(errors.New("dlq close"))
	edges.EXPECT().Close().Return(nil)

	err := pub.Close()
	if err == nil || err.Error() != "dlq close" {
		t.Fatalf("unexpected close error: %v", err)
	}
}
