package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"go.uber.org/zap"

	"relentless-tracks/internal/models"
	"relentless-tracks/mocks"
)

func newTestServer(t *testing.T) (*server, *mocks.MockStateStore) {
	t.Helper()

	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	st := mocks.NewMockStateStore(ctrl)
	return newServer(st, zap.NewNop()), st
}

func savedState() models.CrawlState {
	state := models.NewCrawlState("youtube")
	state.Status = models.CrawlAborted
	state.Visited = []string{"https://www.youtube.com/@a", "https://www.youtube.com/@b"}
	state.Frontier = []models.FrontierEntry{{URL: "https://www.youtube.com/@c", Depth: 1}}
	state.Downloads["youtube:3"] = models.DownloadRecord{TrackID: "youtube:3", State: models.DownloadFailed, Seq: 3}
	state.Downloads["youtube:1"] = models.DownloadRecord{TrackID: "youtube:1", State: models.DownloadCompleted, Seq: 1}
	state.Downloads["youtube:2"] = models.DownloadRecord{TrackID: "youtube:2", State: models.DownloadPending, Seq: 2}
	return state
}

func TestHandleStats(t *testing.T) {
	srv, st := newTestServer(t)
	st.EXPECT().Load(gomock.Any()).Return(savedState(), true, nil)

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	var stats models.Stats
	if err := json.NewDecoder(rec.Body).Decode(&stats); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if stats.Status != models.CrawlAborted || stats.QueueSize != 1 || stats.VisitedCount != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.DownloadedCount != 1 || stats.PendingCount != 1 || stats.FailedCount != 1 {
		t.Fatalf("unexpected download counts: %+v", stats)
	}
}

func TestHandleStatsNotFound(t *testing.T) {
	srv, st := newTestServer(t)
	st.EXPECT().Load(gomock.Any()).Return(models.CrawlState{}, false, nil)

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status %d, got %d", http.StatusNotFound, rec.Code)
	}
}

func TestHandleStatsStoreError(t *testing.T) {
	srv, st := newTestServer(t)
	st.EXPECT().Load(gomock.Any()).Return(models.CrawlState{}, false, errors.New("redis down"))

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected status %d, got %d", http.StatusBadGateway, rec.Code)
	}
}

func TestHandleStatsMethodNotAllowed(t *testing.T) {
	srv, st := newTestServer(t)
	st.EXPECT().Load(gomock.Any()).Times(0)

	req := httptest.NewRequest(http.MethodPost, "/stats", nil)
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected status %d, got %d", http.StatusMethodNotAllowed, rec.Code)
	}
}

func TestHandleDownloadsOrderedBySeq(t *testing.T) {
	srv, st := newTestServer(t)
	st.EXPECT().Load(gomock.Any()).Return(savedState(), true, nil)

	req := httptest.NewRequest(http.MethodGet, "/downloads", nil)
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	var records []models.DownloadRecord
	if err := json.NewDecoder(rec.Body).Decode(&records); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(records) != 3 || records[0].TrackID != "youtube:1" || records[2].TrackID != "youtube:3" {
		t.Fatalf("unexpected records: %+v", records)
	}
}

func TestHandleDownloadsFiltered(t *testing.T) {
	srv, st := newTestServer(t)
	st.EXPECT().Load(gomock.Any()).Return(savedState(), true, nil)

	req := httptest.NewRequest(http.MethodGet, "/downloads?state=failed", nil)
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, req)

	var records []models.DownloadRecord
	if err := json.NewDecoder(rec.Body).Decode(&records); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(records) != 1 || records[0].TrackID != "youtube:3" {
		t.Fatalf("unexpected records: %+v", records)
	}
}

func TestHandleDownloadsInvalidState(t *testing.T) {
	srv, st := newTestServer(t)
	st.EXPECT().Load(gomock.Any()).Times(0)

	req := httptest.NewRequest(http.MethodGet, "/downloads?state=lost", nil)
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
	}
}

func TestHandleStateClears(t *testing.T) {
	srv, st := newTestServer(t)
	gomock.InOrder(
		st.EXPECT().Load(gomock.Any()).Return(savedState(), true, nil),
		st.EXPECT().Clear(gomock.Any()).Return(nil),
	)

	req := httptest.NewRequest(http.MethodDelete, "/state", nil)
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected status %d, got %d", http.StatusNoContent, rec.Code)
	}
}

func TestHandleStateRefusesRunningCrawl(t *testing.T) {
	srv, st := newTestServer(t)
	running := savedState()
	running.Status = models.CrawlRunning
	running.SavedAt = srv.now().Add(-time.Minute)
	st.EXPECT().Load(gomock.Any()).Return(running, true, nil)
	st.EXPECT().Clear(gomock.Any()).Times(0)

	req := httptest.NewRequest(http.MethodDelete, "/state", nil)
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected status %d, got %d", http.StatusConflict, rec.Code)
	}
}

func TestHandleStateClearsRunningCrawl(t *testing.T) {
	tests := []struct {
		name    string
		target  string
		savedAt time.Duration
	}{
		{name: "force", target: "/state?force=true", savedAt: -time.Minute},
		{name: "stale", target: "/state", savedAt: -2 * defaultStaleAfter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, st := newTestServer(t)
			running := savedState()
			running.Status = models.CrawlRunning
			running.SavedAt = srv.now().Add(tt.savedAt)
			gomock.InOrder(
				st.EXPECT().Load(gomock.Any()).Return(running, true, nil),
				st.EXPECT().Clear(gomock.Any()).Return(nil),
			)

			req := httptest.NewRequest(http.MethodDelete, tt.target, nil)
			rec := httptest.NewRecorder()
			srv.routes().ServeHTTP(rec, req)

			if rec.Code != http.StatusNoContent {
				t.Fatalf("expected status %d, got %d", http.StatusNoContent, rec.Code)
			}
		})
	}
}

func TestHandleStateMethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/state", nil)
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected status %d, got %d", http.StatusMethodNotAllowed, rec.Code)
	}
}

func TestHandleMetrics(t *testing.T) {
	srv, st := newTestServer(t)
	st.EXPECT().Load(gomock.Any()).Return(models.CrawlState{}, false, nil)

	srv.routes().ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/stats", nil))

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	body := rec.Body.String()
	for _, line := range []string{
		"relentless_api_up 1",
		`relentless_api_requests_total{code="404",handler="stats"} 1`,
	} {
		if !strings.Contains(body, line) {
			t.Fatalf("expected metrics to contain %q, got:\n%s", line, body)
		}
	}
}
