package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relentless-tracks/internal/models"
)

func sampleState(crawlID string) models.CrawlState {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	state := models.NewCrawlState(crawlID)
	state.Status = models.CrawlRunning
	state.Visited = []string{"https://example.com/a", "https://example.com/b"}
	state.Frontier = []models.FrontierEntry{
		{URL: "https://example.com/d", Depth: 2},
		{URL: "https://example.com/c", Depth: 1},
	}
	state.Downloads["yt:1"] = models.DownloadRecord{
		TrackID: "yt:1",
		Candidate: models.TrackCandidate{
			TrackID:   "yt:1",
			SourceURL: "https://example.com/watch?v=1",
			Metadata:  models.TrackMetadata{Title: "One", Artist: "A", Duration: 3 * time.Minute, Platform: "youtube"},
		},
		State:     models.DownloadCompleted,
		Attempts:  0,
		Seq:       1,
		UpdatedAt: at,
	}
	state.Downloads["yt:2"] = models.DownloadRecord{
		TrackID:   "yt:2",
		Candidate: models.TrackCandidate{TrackID: "yt:2", SourceURL: "https://example.com/watch?v=2"},
		State:     models.DownloadInProgress,
		Attempts:  1,
		LastError: "timeout",
		Seq:       2,
		UpdatedAt: at,
	}
	state.PageFailures = []models.PageFailure{{URL: "https://example.com/x", Depth: 1, Error: "404", FailedAt: at}}
	state.SavedAt = at
	return state
}

func assertStateEqual(t *testing.T, want, got models.CrawlState) {
	t.Helper()
	assert.Equal(t, want.CrawlID, got.CrawlID)
	assert.Equal(t, want.Status, got.Status)
	assert.ElementsMatch(t, want.Visited, got.Visited)
	assert.Equal(t, want.Frontier, got.Frontier, "frontier order and depth survive")
	require.Len(t, got.Downloads, len(want.Downloads))
	for id, rec := range want.Downloads {
		g := got.Downloads[id]
		assert.Equal(t, rec.State, g.State, id)
		assert.Equal(t, rec.Attempts, g.Attempts, id)
		assert.Equal(t, rec.LastError, g.LastError, id)
		assert.Equal(t, rec.Seq, g.Seq, id)
		assert.Equal(t, rec.Candidate, g.Candidate, id)
		assert.True(t, rec.UpdatedAt.Equal(g.UpdatedAt), id)
	}
	require.Len(t, got.PageFailures, len(want.PageFailures))
	assert.Equal(t, want.PageFailures[0].URL, got.PageFailures[0].URL)
	assert.True(t, want.SavedAt.Equal(got.SavedAt))
}

func exerciseStore(t *testing.T, s StateStore, crawlID string) {
	ctx := context.Background()

	_, found, err := s.Load(ctx)
	require.NoError(t, err)
	assert.False(t, found)

	want := sampleState(crawlID)
	require.NoError(t, s.Save(ctx, want))
	got, found, err := s.Load(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assertStateEqual(t, want, got)

	// A second save fully replaces the first.
	want.Frontier = want.Frontier[:1]
	delete(want.Downloads, "yt:2")
	want.Status = models.CrawlCompleted
	require.NoError(t, s.Save(ctx, want))
	got, _, err = s.Load(ctx)
	require.NoError(t, err)
	assertStateEqual(t, want, got)

	require.NoError(t, s.Clear(ctx))
	_, found, err = s.Load(ctx)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSQLiteStore(t *testing.T) {
	s, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "state", "youtube.db"), "youtube")
	require.NoError(t, err)
	defer s.Close()
	exerciseStore(t, s, "youtube")
}

func TestSQLiteStoreKeysByCrawlID(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "shared.db")
	a, err := NewSQLiteStore(ctx, path, "youtube")
	require.NoError(t, err)
	require.NoError(t, a.Save(ctx, sampleState("youtube")))
	require.NoError(t, a.Close())

	b, err := NewSQLiteStore(ctx, path, "soundcloud")
	require.NoError(t, err)
	defer b.Close()
	_, found, err := b.Load(ctx)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestFileStore(t *testing.T) {
	exerciseStore(t, NewFileStore(filepath.Join(t.TempDir(), "backup", "state.json")), "youtube")
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisStore(client, DefaultRedisPrefix, "youtube", 0)
	defer s.Close()

	exerciseStore(t, s, "youtube")
}

func TestRedisStoreTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisStore(client, "test:", "youtube", time.Hour)
	defer s.Close()

	require.NoError(t, s.Save(context.Background(), sampleState("youtube")))
	assert.True(t, mr.Exists("test:youtube"))
	assert.Equal(t, time.Hour, mr.TTL("test:youtube"))
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := Open(ctx, filepath.Join(dir, "youtube.db"), "youtube", Options{})
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, s)
	require.NoError(t, s.Close())

	s, err = Open(ctx, "sqlite://"+filepath.Join(dir, "other.db"), "youtube", Options{})
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, s)
	require.NoError(t, s.Close())

	s, err = Open(ctx, filepath.Join(dir, "state.json"), "youtube", Options{})
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, s)

	mr := miniredis.RunT(t)
	s, err = Open(ctx, "redis://"+mr.Addr()+"/0", "youtube", Options{})
	require.NoError(t, err)
	assert.IsType(t, &RedisStore{}, s)
	require.NoError(t, s.Close())

	_, err = Open(ctx, "postgres://localhost/db", "youtube", Options{})
	assert.True(t, errors.Is(err, ErrUnsupportedBackend))

	_, err = Open(ctx, "", "youtube", Options{})
	assert.True(t, errors.Is(err, ErrUnsupportedBackend))
}
