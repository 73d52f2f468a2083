package platform

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/lrstanley/go-ytdlp"
	"go.uber.org/zap"

	"relentless-tracks/internal/crawler"
	"relentless-tracks/internal/models"
)

// DownloadRequest is one yt-dlp invocation.
type DownloadRequest struct {
	URL         string
	Destination string
	Quality     string
	Format      string
}

// Runner downloads one URL and returns yt-dlp's diagnostic output.
type Runner func(ctx context.Context, req DownloadRequest) (string, error)

// RunYTDLP extracts audio with the yt-dlp binary on PATH.
func RunYTDLP(ctx context.Context, req DownloadRequest) (string, error) {
	cmd := ytdlp.New().
		ExtractAudio().
		AudioFormat(req.Format).
		AudioQuality(req.Quality).
		NoPlaylist().
		RestrictFilenames().
		Output(outputTemplate(req.Destination))

	res, err := cmd.Run(ctx, req.URL)
	if res != nil {
		return res.Stderr, err
	}
	return "", err
}

// outputTemplate names files after the track title inside dest.
func outputTemplate(dest string) string {
	return filepath.Join(dest, "%(title)s.%(ext)s")
}

// yt-dlp messages that no retry will fix.
var permanentMarkers = []string{
	"unsupported url",
	"is not a valid url",
	"video unavailable",
	"this video is unavailable",
	"has been removed",
	"has been terminated",
	"private video",
	"this track is private",
	"copyright",
	"not available in your country",
	"sign in to confirm your age",
	"http error 404",
	"http error 410",
	"no video formats found",
	"requested format is not available",
}

// Executor downloads tracks through a Runner and classifies failures.
type Executor struct {
	run    Runner
	logger *zap.Logger
}

// NewExecutor wraps run; nil uses RunYTDLP.
func NewExecutor(run Runner, logger *zap.Logger) *Executor {
	if run == nil {
		run = RunYTDLP
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{run: run, logger: logger}
}

func (e *Executor) Download(ctx context.Context, candidate models.TrackCandidate, dest, quality, format string) error {
	if candidate.SourceURL == "" {
		return &crawler.DownloadError{TrackID: candidate.TrackID, Err: errors.New("empty source url"), Permanent: true}
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return &crawler.DownloadError{TrackID: candidate.TrackID, Err: fmt.Errorf("create destination: %w", err), Permanent: true}
	}

	output, err := e.run(ctx, DownloadRequest{
		URL:         candidate.SourceURL,
		Destination: dest,
		Quality:     quality,
		Format:      format,
	})
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	permanent := isPermanentOutput(err.Error() + "\n" + output)
	e.logger.Debug("yt-dlp failed",
		zap.String("track_id", candidate.TrackID),
		zap.Bool("permanent", permanent),
		zap.String("output", lastLine(output)),
	)
	return &crawler.DownloadError{TrackID: candidate.TrackID, Err: err, Permanent: permanent}
}

func isPermanentOutput(text string) bool {
	text = strings.ToLower(text)
	for _, marker := range permanentMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
