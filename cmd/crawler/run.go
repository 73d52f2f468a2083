package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"relentless-tracks/common"
	"relentless-tracks/internal/config"
	"relentless-tracks/internal/crawler"
	rkafka "relentless-tracks/internal/kafka"
	"relentless-tracks/internal/logger"
	"relentless-tracks/internal/metrics"
	"relentless-tracks/internal/platform"
	"relentless-tracks/internal/store"
)

// downloadRunner replaces the yt-dlp invocation in tests.
var downloadRunner platform.Runner

func run(ctx context.Context, cfg *config.Config, stdout, stderr io.Writer) error {
	log := logger.New(logger.Config{
		Level:    logger.LevelFor(cfg.Verbose, cfg.Quiet),
		Encoding: cfg.LogFormat,
		Output:   stderr,
	})
	defer func() { _ = log.Sync() }()

	client, proxy, err := platform.NewHTTPClient(platform.ClientConfig{
		ProxyURL:  cfg.ProxyURL,
		ProxyPool: cfg.ProxyPool,
		Hostname:  common.GetEnv("HOSTNAME", ""),
	})
	if err != nil {
		return err
	}
	if proxy != "" {
		log.Info("using proxy", zap.String("proxy", proxy))
	}

	site, err := platform.New(cfg.Platform, platform.Options{
		Client:       client,
		UserAgent:    cfg.UserAgent,
		Logger:       log,
		IgnoreRobots: cfg.IgnoreRobots,
		Runner:       downloadRunner,
	})
	if err != nil {
		return err
	}

	seeds, err := seedURLs(site, cfg)
	if err != nil {
		return err
	}

	st, err := store.Open(ctx, cfg.DBPath, cfg.CrawlID, store.Options{
		RedisPrefix: cfg.RedisPrefix,
		RedisTTL:    cfg.RedisTTL,
	})
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Warn("state store close failed", zap.Error(err))
		}
	}()

	sink := newEventSink(cfg, log)
	defer func() {
		if err := sink.Close(); err != nil {
			log.Warn("event sink close failed", zap.Error(err))
		}
	}()

	m := metrics.New()
	ctrl := crawler.NewController(crawler.Options{
		CrawlID:         cfg.CrawlID,
		Seeds:           seeds,
		MaxDepth:        cfg.MaxDepth,
		Workers:         cfg.MaxWorkers,
		RetryLimit:      cfg.RetryLimit,
		DownloadFolder:  cfg.DownloadFolder,
		AudioQuality:    cfg.AudioQuality,
		AudioFormat:     cfg.AudioFormat,
		PageTimeout:     cfg.PageTimeout,
		DownloadTimeout: cfg.DownloadTimeout,
		RetryBase:       cfg.RetryBase,
		RetryMaxDelay:   cfg.RetryMaxDelay,
		SaveEvery:       cfg.SaveEvery,
		SaveInterval:    cfg.SaveInterval,
		HighWater:       cfg.HighWater,
		LowWater:        cfg.LowWater,
	}, site, site, st,
		crawler.WithLogger(log),
		crawler.WithMetrics(m),
		crawler.WithEventSink(sink),
		crawler.WithBackupStore(store.NewFileStore(backupPath(cfg))),
	)
	m.RegisterStats(ctrl.Stats)

	if cfg.ClearState {
		if err := ctrl.ClearState(ctx); err != nil {
			return err
		}
	}

	if cfg.MetricsAddr != "" {
		metricsCtx, stopMetrics := context.WithCancel(ctx)
		defer stopMetrics()
		metrics.StartServer(metricsCtx, cfg.MetricsAddr, metrics.NewHandler(m, ctrl.Stats), log)
	}

	log.Info("starting crawl",
		zap.String("platform", site.Name()),
		zap.Strings("seeds", seeds),
		zap.Int("max_depth", cfg.MaxDepth),
		zap.Int("workers", cfg.MaxWorkers),
		zap.String("db", cfg.DBPath),
		zap.String("output", cfg.DownloadFolder),
	)
	crawlErr := ctrl.Crawl(ctx)
	printStats(stdout, ctrl.Stats())
	return crawlErr
}

// seedURLs returns the configured URLs, or one search URL per keyword.
func seedURLs(site platform.Platform, cfg *config.Config) ([]string, error) {
	if len(cfg.URLs) > 0 {
		return cfg.URLs, nil
	}
	seeds := make([]string, 0, len(cfg.Keywords))
	for _, kw := range cfg.Keywords {
		u, err := site.SearchURL(kw)
		if err != nil {
			return nil, fmt.Errorf("%s keyword %q: %w", site.Name(), kw, err)
		}
		seeds = append(seeds, u)
	}
	return seeds, nil
}

func newEventSink(cfg *config.Config, log *zap.Logger) crawler.EventSink {
	if cfg.KafkaBroker == "" {
		return crawler.NoopSink{}
	}
	topics := rkafka.Topics{
		Downloads: common.GetEnv("KAFKA_DOWNLOADS_TOPIC", rkafka.DefaultDownloadsTopic),
		DLQ:       common.GetEnv("KAFKA_DLQ_TOPIC", rkafka.DefaultDLQTopic),
		Edges:     common.GetEnv("KAFKA_EDGES_TOPIC", rkafka.DefaultEdgesTopic),
	}
	log.Info("publishing crawl events",
		zap.String("broker", cfg.KafkaBroker),
		zap.String("downloads_topic", topics.Downloads),
		zap.String("dlq_topic", topics.DLQ),
		zap.String("edges_topic", topics.Edges),
	)
	return rkafka.NewPublisher(cfg.KafkaBroker, topics)
}

// backupPath is where state goes if the primary store fails on exit.
func backupPath(cfg *config.Config) string {
	if strings.Contains(cfg.DBPath, "://") {
		return cfg.CrawlID + ".backup.json"
	}
	return cfg.DBPath + ".backup.json"
}
