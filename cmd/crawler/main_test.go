package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relentless-tracks/internal/config"
	"relentless-tracks/internal/crawler"
	"relentless-tracks/internal/models"
	"relentless-tracks/internal/platform"
)

type recordingRunner struct {
	mu   sync.Mutex
	urls []string
}

func (r *recordingRunner) run(_ context.Context, req platform.DownloadRequest) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.urls = append(r.urls, req.URL)
	return "", nil
}

func (r *recordingRunner) calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.urls...)
}

func useRunner(t *testing.T) *recordingRunner {
	t.Helper()
	r := &recordingRunner{}
	prev := downloadRunner
	downloadRunner = r.run
	t.Cleanup(func() { downloadRunner = prev })
	return r
}

func listingServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body>
<a href="https://www.youtube.com/watch?v=aaaaaaaaaaa">First</a>
<a href="https://youtu.be/bbbbbbbbbbb">Second</a>
</body></html>`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func crawlArgs(srv *httptest.Server, dir string, extra ...string) []string {
	args := []string{
		"youtube",
		"-u", srv.URL + "/list",
		"-d", "0",
		"-w", "2",
		"--db", filepath.Join(dir, "state.db"),
		"-o", filepath.Join(dir, "out"),
		"--ignore-robots",
		"--quiet",
	}
	return append(args, extra...)
}

func TestCrawlDownloadsAndResumes(t *testing.T) {
	runner := useRunner(t)
	srv := listingServer(t)
	dir := t.TempDir()

	var stdout, stderr bytes.Buffer
	code := execute(context.Background(), crawlArgs(srv, dir), &stdout, &stderr)
	require.Equal(t, exitOK, code, stderr.String())
	assert.ElementsMatch(t, []string{
		"https://www.youtube.com/watch?v=aaaaaaaaaaa",
		"https://www.youtube.com/watch?v=bbbbbbbbbbb",
	}, runner.calls())
	assert.Contains(t, stdout.String(), "Tracks downloaded")
	assert.Contains(t, stdout.String(), "Crawl completed")

	// Same db: the seed is visited and both tracks are done.
	stdout.Reset()
	code = execute(context.Background(), crawlArgs(srv, dir), &stdout, &stderr)
	require.Equal(t, exitOK, code, stderr.String())
	assert.Len(t, runner.calls(), 2)

	// Clearing state starts over.
	code = execute(context.Background(), crawlArgs(srv, dir, "--clear-state"), &stdout, &stderr)
	require.Equal(t, exitOK, code, stderr.String())
	assert.Len(t, runner.calls(), 4)
}

func TestBrowserFlagsAreIgnored(t *testing.T) {
	runner := useRunner(t)
	srv := listingServer(t)
	dir := t.TempDir()

	var stdout, stderr bytes.Buffer
	code := execute(context.Background(), crawlArgs(srv, dir, "-s", "5", "--no-headless"), &stdout, &stderr)
	require.Equal(t, exitOK, code, stderr.String())
	assert.Len(t, runner.calls(), 2)

	flag := newRootCmd().Flags().Lookup("scroll")
	require.NotNil(t, flag)
	assert.NotEmpty(t, flag.Deprecated)
}

func TestKeywordsRejectedForSoundCloud(t *testing.T) {
	useRunner(t)
	dir := t.TempDir()

	var stdout, stderr bytes.Buffer
	code := execute(context.Background(), []string{
		"soundcloud", "-k", "ambient",
		"--db", filepath.Join(dir, "state.db"),
		"-o", filepath.Join(dir, "out"),
	}, &stdout, &stderr)
	assert.Equal(t, exitError, code)
	assert.Contains(t, stderr.String(), "keyword search not supported")
}

func TestInvalidArguments(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no platform", nil, "requires at least 1 arg"},
		{"unknown platform", []string{"vimeo", "-u", "https://vimeo.com/x"}, "platform must be one of"},
		{"no seeds", []string{"youtube"}, "either urls or keywords"},
		{"both seeds", []string{"youtube", "-u", "https://www.youtube.com/", "-k", "jazz"}, "mutually exclusive"},
		{"bad format", []string{"youtube", "-k", "jazz", "-f", "ogg"}, "audio_format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			code := execute(context.Background(), tt.args, &stdout, &stderr)
			assert.Equal(t, exitError, code)
			assert.Contains(t, stderr.String(), tt.want)
		})
	}
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, exitOK, exitCode(nil))
	assert.Equal(t, exitInterrupted, exitCode(crawler.ErrCancelled))
	assert.Equal(t, exitInterrupted, exitCode(fmt.Errorf("wrapped: %w", context.Canceled)))
	assert.Equal(t, exitError, exitCode(&crawler.PersistenceError{Op: "save", Err: errors.New("disk full")}))
}

func TestLoadConfigAppendsPositionalKeywords(t *testing.T) {
	v := config.New()
	v.Set("keywords", []string{"lofi hip hop"})
	cfg, err := loadConfig(v, "", []string{"youtube", "jazz"})
	require.NoError(t, err)
	assert.Equal(t, []string{"lofi hip hop", "jazz"}, cfg.Keywords)

	site, err := platform.New("youtube", platform.Options{})
	require.NoError(t, err)
	seeds, err := seedURLs(site, cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"https://www.youtube.com/results?search_query=lofi+hip+hop",
		"https://www.youtube.com/results?search_query=jazz",
	}, seeds)
}

func TestBackupPath(t *testing.T) {
	assert.Equal(t, "youtube.db.backup.json", backupPath(&config.Config{DBPath: "youtube.db", CrawlID: "youtube"}))
	assert.Equal(t, "sc.backup.json", backupPath(&config.Config{DBPath: "redis://localhost:6379/0", CrawlID: "sc"}))
}

func TestPrintStats(t *testing.T) {
	var out bytes.Buffer
	printStats(&out, models.Stats{Status: models.CrawlAborted, DownloadedCount: 7, PendingCount: 2})
	assert.Contains(t, out.String(), "Crawl aborted")
	assert.Contains(t, out.String(), "Tracks downloaded")
	assert.Contains(t, out.String(), "7")
}
