package metrics

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relentless-tracks/internal/models"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObservePage(time.Second, nil)
	m.TracksDiscovered(3)
	m.ObserveDownload(time.Second, models.DownloadCompleted)
	m.ObserveSave(errors.New("x"))
	m.RegisterStats(func() models.Stats { return models.Stats{} })
	assert.Nil(t, m.Registry())
}

func TestCounters(t *testing.T) {
	m := New()
	m.ObservePage(time.Second, nil)
	m.ObservePage(time.Second, errors.New("boom"))
	m.TracksDiscovered(2)
	m.ObserveDownload(time.Second, models.DownloadCompleted)
	m.ObserveDownload(time.Second, models.DownloadPending)
	m.ObserveDownload(time.Second, models.DownloadFailed)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.pagesExplored))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.pagesFailed))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.tracksDiscovered))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.downloadsCompleted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.downloadRetries))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.downloadsFailed))
}

func TestHandlerServesMetricsAndStats(t *testing.T) {
	m := New()
	stats := func() models.Stats { return models.Stats{QueueSize: 3, VisitedCount: 7} }
	m.RegisterStats(stats)
	h := NewHandler(m, stats)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "relentless_tracks_frontier_size 3"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var got models.Stats
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, 7, got.VisitedCount)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/stats", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
