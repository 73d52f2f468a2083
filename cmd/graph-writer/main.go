package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"relentless-tracks/common"
	"relentless-tracks/internal/crawler"
	"relentless-tracks/internal/graph"
	rkafka "relentless-tracks/internal/kafka"
	"relentless-tracks/internal/logger"
	"relentless-tracks/internal/metrics"
)

const fetchRetryDelay = 500 * time.Millisecond

// writerMetrics counts messages per stream: received from Kafka, written to
// Neo4j, or failed.
type writerMetrics struct {
	registry *prometheus.Registry
	messages *prometheus.CounterVec
}

func newWriterMetrics() *writerMetrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "relentless_graph_writer",
		Name:      "up",
		Help:      "Always 1 while the graph writer runs.",
	}).Set(1)
	return &writerMetrics{
		registry: reg,
		messages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relentless_graph_writer",
			Name:      "messages_total",
			Help:      "Messages handled by stream and result.",
		}, []string{"stream", "result"}),
	}
}

func (m *writerMetrics) inc(stream, result string) {
	m.messages.WithLabelValues(stream, result).Inc()
}

func (m *writerMetrics) handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	return mux
}

func main() {
	log := logger.FromEnv()
	defer func() { _ = log.Sync() }()

	broker := common.GetEnv("KAFKA_BROKER", "localhost:9092")
	edgesTopic := common.GetEnv("KAFKA_EDGES_TOPIC", rkafka.DefaultEdgesTopic)
	downloadsTopic := common.GetEnv("KAFKA_DOWNLOADS_TOPIC", rkafka.DefaultDownloadsTopic)
	edgesGroup := common.GetEnv("KAFKA_EDGES_GROUP", "relentless-graph-edges")
	downloadsGroup := common.GetEnv("KAFKA_DOWNLOADS_GROUP", "relentless-graph-downloads")
	metricsAddr := common.GetEnv("METRICS_ADDR", ":9091")

	neo4jURI := common.GetEnv("NEO4J_URI", "neo4j://localhost:7687")
	neo4jUser := common.GetEnv("NEO4J_USER", "neo4j")
	neo4jPassword := common.GetEnv("NEO4J_PASSWORD", "neo4j")

	driver, err := graph.NewDriver(neo4jURI, neo4jUser, neo4jPassword)
	if err != nil {
		log.Fatal("neo4j driver error", zap.Error(err))
	}
	defer func() {
		if err := driver.Close(context.Background()); err != nil {
			log.Warn("neo4j close error", zap.Error(err))
		}
	}()
	writer := graph.NewWriter(driver, log)

	edgesReader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: []string{broker},
		Topic:   edgesTopic,
		GroupID: edgesGroup,
	})
	defer closeReader(log, "edges", edgesReader)

	downloadsReader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: []string{broker},
		Topic:   downloadsTopic,
		GroupID: downloadsGroup,
	})
	defer closeReader(log, "downloads", downloadsReader)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := newWriterMetrics()
	if metricsAddr != "" {
		metrics.StartServer(ctx, metricsAddr, m.handler(), log)
	}

	log.Info("graph writer started",
		zap.String("broker", broker),
		zap.String("edges_topic", edgesTopic),
		zap.String("downloads_topic", downloadsTopic),
	)
	go consume(ctx, "edges", edgesReader, writer.WriteEdgePayload, m, log)
	go consume(ctx, "downloads", downloadsReader, writer.WriteDownloadPayload, m, log)

	<-ctx.Done()
}

func closeReader(log *zap.Logger, stream string, reader crawler.MessageReader) {
	if err := reader.Close(); err != nil {
		log.Warn("reader close error", zap.String("stream", stream), zap.Error(err))
	}
}

// consume commits a message only after it was written, so a Neo4j outage
// redelivers instead of dropping.
func consume(
	ctx context.Context,
	stream string,
	reader crawler.MessageReader,
	handle func(context.Context, []byte) error,
	m *writerMetrics,
	log *zap.Logger,
) {
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn("fetch error", zap.String("stream", stream), zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(fetchRetryDelay):
			}
			continue
		}

		m.inc(stream, "received")
		if err := handle(ctx, msg.Value); err != nil {
			m.inc(stream, "failed")
			log.Warn("write error",
				zap.String("stream", stream),
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
			continue
		}
		m.inc(stream, "written")

		if err := reader.CommitMessages(ctx, msg); err != nil {
			log.Warn("commit error", zap.String("stream", stream), zap.Error(err))
		}
	}
}
