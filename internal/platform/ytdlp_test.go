package platform

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relentless-tracks/internal/crawler"
	"relentless-tracks/internal/models"
)

func TestExecutorPassesRequest(t *testing.T) {
	var got DownloadRequest
	e := NewExecutor(func(_ context.Context, req DownloadRequest) (string, error) {
		got = req
		return "", nil
	}, nil)

	dest := filepath.Join(t.TempDir(), "music")
	cand := models.TrackCandidate{TrackID: "youtube:x", SourceURL: "https://www.youtube.com/watch?v=x"}
	require.NoError(t, e.Download(context.Background(), cand, dest, "320", "flac"))
	assert.Equal(t, DownloadRequest{URL: cand.SourceURL, Destination: dest, Quality: "320", Format: "flac"}, got)
	assert.DirExists(t, dest)
}

func TestOutputTemplate(t *testing.T) {
	assert.Equal(t, filepath.Join("music", "%(title)s.%(ext)s"), outputTemplate("music"))
	assert.Equal(t, filepath.Join("music", "%(title)s.%(ext)s"), outputTemplate("music/"))
	assert.Equal(t, "%(title)s.%(ext)s", outputTemplate(""))
}

func TestExecutorClassifiesFailures(t *testing.T) {
	tests := []struct {
		name      string
		output    string
		err       error
		permanent bool
	}{
		{"unavailable", "ERROR: [youtube] x: Video unavailable", errors.New("exit status 1"), true},
		{"private", "ERROR: Private video. Sign in if you've been granted access", errors.New("exit status 1"), true},
		{"unsupported in error", "", errors.New("ERROR: Unsupported URL: https://x"), true},
		{"network", "ERROR: unable to download webpage: connection reset by peer", errors.New("exit status 1"), false},
		{"throttled", "ERROR: HTTP Error 429: Too Many Requests", errors.New("exit status 1"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewExecutor(func(context.Context, DownloadRequest) (string, error) {
				return tt.output, tt.err
			}, nil)
			err := e.Download(context.Background(), models.TrackCandidate{TrackID: "t", SourceURL: "https://x"}, t.TempDir(), "192", "mp3")
			var de *crawler.DownloadError
			require.True(t, errors.As(err, &de))
			assert.Equal(t, "t", de.TrackID)
			assert.Equal(t, tt.permanent, de.Permanent)
		})
	}
}

func TestExecutorReturnsContextError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	e := NewExecutor(func(context.Context, DownloadRequest) (string, error) {
		cancel()
		return "", errors.New("signal: killed")
	}, nil)
	err := e.Download(ctx, models.TrackCandidate{TrackID: "t", SourceURL: "https://x"}, t.TempDir(), "192", "mp3")
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestExecutorRejectsEmptySource(t *testing.T) {
	e := NewExecutor(func(context.Context, DownloadRequest) (string, error) {
		t.Fatal("runner must not be called")
		return "", nil
	}, nil)
	err := e.Download(context.Background(), models.TrackCandidate{TrackID: "t"}, t.TempDir(), "192", "mp3")
	assert.True(t, crawler.IsPermanent(err))
}
