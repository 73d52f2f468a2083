package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os/signal"
	"slices"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"relentless-tracks/common"
	"relentless-tracks/internal/logger"
	"relentless-tracks/internal/models"
	"relentless-tracks/internal/store"
)

const (
	storeTimeout      = 5 * time.Second
	defaultStaleAfter = time.Hour
)

type server struct {
	store    store.StateStore
	registry *prometheus.Registry
	requests *prometheus.CounterVec
	logger   *zap.Logger
	// A running crawl not saved for this long is treated as dead.
	staleAfter time.Duration
	now        func() time.Time
}

func newServer(st store.StateStore, logger *zap.Logger) *server {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "relentless_api",
		Name:      "up",
		Help:      "Always 1 while the API runs.",
	}).Set(1)
	return &server{
		store:    st,
		registry: reg,
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relentless_api",
			Name:      "requests_total",
			Help:      "Requests by handler and status code.",
		}, []string{"handler", "code"}),
		logger:     logger,
		staleAfter: defaultStaleAfter,
		now:        time.Now,
	}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/downloads", s.handleDownloads)
	mux.HandleFunc("/state", s.handleState)
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	return mux
}

func main() {
	log := logger.FromEnv()
	defer func() { _ = log.Sync() }()

	dbPath := common.GetEnv("STATE_DB", "youtube.db")
	crawlID := common.GetEnv("CRAWL_ID", "youtube")
	addr := common.GetEnv("API_ADDR", ":8080")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, dbPath, crawlID, store.Options{
		RedisPrefix: common.GetEnv("REDIS_PREFIX", store.DefaultRedisPrefix),
		RedisTTL:    common.ParseDuration(common.GetEnv("REDIS_TTL", "0s"), 0),
	})
	if err != nil {
		log.Fatal("open state store", zap.String("db", dbPath), zap.Error(err))
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Warn("failed to close state store", zap.Error(err))
		}
	}()

	api := newServer(st, log)
	api.staleAfter = common.ParseDuration(common.GetEnv("STATE_STALE_AFTER", defaultStaleAfter.String()), defaultStaleAfter)

	srv := &http.Server{
		Addr:              addr,
		Handler:           api.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("api shutdown error", zap.Error(err))
		}
	}()

	log.Info("api listening", zap.String("addr", addr), zap.String("db", dbPath), zap.String("crawl_id", crawlID))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("api server error", zap.Error(err))
	}
}

// handleStats returns the summary of the saved crawl.
//
// Method: GET
// Path:   /stats
// Example:
//
//	curl "http://localhost:8080/stats"
func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.fail(w, "stats", "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	state, ok := s.loadState(w, r, "stats")
	if !ok {
		return
	}
	s.writeJSON(w, "stats", state.Stats(), http.StatusOK)
}

// handleDownloads lists download records in enqueue order, optionally
// filtered by state.
//
// Method: GET
// Path:   /downloads?state=failed
// Example:
//
//	curl "http://localhost:8080/downloads?state=pending"
func (s *server) handleDownloads(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.fail(w, "downloads", "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	filter := models.DownloadState(r.URL.Query().Get("state"))
	if filter != "" && !validState(filter) {
		s.fail(w, "downloads", "invalid state", http.StatusBadRequest)
		return
	}
	state, ok := s.loadState(w, r, "downloads")
	if !ok {
		return
	}

	records := make([]models.DownloadRecord, 0, len(state.Downloads))
	for _, rec := range state.Downloads {
		if filter == "" || rec.State == filter {
			records = append(records, rec)
		}
	}
	slices.SortFunc(records, func(a, b models.DownloadRecord) int {
		switch {
		case a.Seq < b.Seq:
			return -1
		case a.Seq > b.Seq:
			return 1
		default:
			return 0
		}
	})
	s.writeJSON(w, "downloads", records, http.StatusOK)
}

// handleState clears the saved crawl so the next run starts fresh. A crawl
// recorded as running is refused unless its last save is older than
// staleAfter or force=true is given.
//
// Method: DELETE
// Path:   /state
// Example:
//
//	curl -X DELETE "http://localhost:8080/state"
//	curl -X DELETE "http://localhost:8080/state?force=true"
func (s *server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		s.fail(w, "state", "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()

	state, found, err := s.store.Load(ctx)
	if err != nil {
		s.logger.Warn("load state failed", zap.Error(err))
		s.fail(w, "state", "failed to load state", http.StatusBadGateway)
		return
	}
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))
	if found && state.Status == models.CrawlRunning && !force && !s.stale(state) {
		s.fail(w, "state", "crawl is running", http.StatusConflict)
		return
	}
	if err := s.store.Clear(ctx); err != nil {
		s.logger.Warn("clear state failed", zap.Error(err))
		s.fail(w, "state", "failed to clear state", http.StatusBadGateway)
		return
	}
	s.requests.WithLabelValues("state", strconv.Itoa(http.StatusNoContent)).Inc()
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) stale(state models.CrawlState) bool {
	if s.staleAfter <= 0 || state.SavedAt.IsZero() {
		return false
	}
	return s.now().Sub(state.SavedAt) > s.staleAfter
}

func (s *server) loadState(w http.ResponseWriter, r *http.Request, handler string) (models.CrawlState, bool) {
	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()

	state, found, err := s.store.Load(ctx)
	if err != nil {
		s.logger.Warn("load state failed", zap.Error(err))
		s.fail(w, handler, "failed to load state", http.StatusBadGateway)
		return models.CrawlState{}, false
	}
	if !found {
		s.fail(w, handler, "no saved crawl", http.StatusNotFound)
		return models.CrawlState{}, false
	}
	return state, true
}

func validState(s models.DownloadState) bool {
	switch s {
	case models.DownloadPending, models.DownloadInProgress, models.DownloadCompleted, models.DownloadFailed:
		return true
	}
	return false
}

func (s *server) fail(w http.ResponseWriter, handler, msg string, status int) {
	s.requests.WithLabelValues(handler, strconv.Itoa(status)).Inc()
	http.Error(w, msg, status)
}

func (s *server) writeJSON(w http.ResponseWriter, handler string, payload any, status int) {
	s.requests.WithLabelValues(handler, strconv.Itoa(status)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("failed to encode response", zap.Error(err))
	}
}
