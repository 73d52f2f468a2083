package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"relentless-tracks/internal/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS crawls (
	crawl_id TEXT PRIMARY KEY,
	status   TEXT NOT NULL,
	saved_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS visited (
	crawl_id TEXT NOT NULL,
	url      TEXT NOT NULL,
	PRIMARY KEY (crawl_id, url)
);
CREATE TABLE IF NOT EXISTS frontier (
	crawl_id TEXT NOT NULL,
	position INTEGER NOT NULL,
	url      TEXT NOT NULL,
	depth    INTEGER NOT NULL,
	PRIMARY KEY (crawl_id, position)
);
CREATE TABLE IF NOT EXISTS downloads (
	crawl_id    TEXT NOT NULL,
	track_id    TEXT NOT NULL,
	source_url  TEXT NOT NULL,
	title       TEXT NOT NULL DEFAULT '',
	artist      TEXT NOT NULL DEFAULT '',
	duration_ms INTEGER NOT NULL DEFAULT 0,
	platform    TEXT NOT NULL DEFAULT '',
	state       TEXT NOT NULL,
	attempts    INTEGER NOT NULL DEFAULT 0,
	last_error  TEXT NOT NULL DEFAULT '',
	seq         INTEGER NOT NULL,
	updated_at  INTEGER NOT NULL,
	PRIMARY KEY (crawl_id, track_id)
);
CREATE TABLE IF NOT EXISTS page_failures (
	crawl_id  TEXT NOT NULL,
	position  INTEGER NOT NULL,
	url       TEXT NOT NULL,
	depth     INTEGER NOT NULL,
	error     TEXT NOT NULL,
	failed_at INTEGER NOT NULL,
	PRIMARY KEY (crawl_id, position)
);
`

var sqliteTables = []string{"crawls", "visited", "frontier", "downloads", "page_failures"}

// SQLiteStore persists crawl state in SQLite, one set of rows per crawl ID.
// Save replaces all rows of the crawl inside one transaction.
type SQLiteStore struct {
	db      *sqlx.DB
	crawlID string
}

type crawlRow struct {
	CrawlID string `db:"crawl_id"`
	Status  string `db:"status"`
	SavedAt int64  `db:"saved_at"`
}

type frontierRow struct {
	CrawlID  string `db:"crawl_id"`
	Position int    `db:"position"`
	URL      string `db:"url"`
	Depth    int    `db:"depth"`
}

type downloadRow struct {
	CrawlID    string `db:"crawl_id"`
	TrackID    string `db:"track_id"`
	SourceURL  string `db:"source_url"`
	Title      string `db:"title"`
	Artist     string `db:"artist"`
	DurationMS int64  `db:"duration_ms"`
	Platform   string `db:"platform"`
	State      string `db:"state"`
	Attempts   int    `db:"attempts"`
	LastError  string `db:"last_error"`
	Seq        int64  `db:"seq"`
	UpdatedAt  int64  `db:"updated_at"`
}

type pageFailureRow struct {
	CrawlID  string `db:"crawl_id"`
	Position int    `db:"position"`
	URL      string `db:"url"`
	Depth    int    `db:"depth"`
	Error    string `db:"error"`
	FailedAt int64  `db:"failed_at"`
}

// NewSQLiteStore opens (creating if needed) the database at path.
func NewSQLiteStore(ctx context.Context, path, crawlID string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path)
	db, err := sqlx.ConnectContext(ctx, "sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One connection serializes writers and keeps WAL readers consistent.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return &SQLiteStore{db: db, crawlID: crawlID}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Load reads the crawl's rows back into a CrawlState.
func (s *SQLiteStore) Load(ctx context.Context) (models.CrawlState, bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.CrawlState{}, false, fmt.Errorf("begin load: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // nothing to commit

	var crawl crawlRow
	err = tx.GetContext(ctx, &crawl, `SELECT crawl_id, status, saved_at FROM crawls WHERE crawl_id = ?`, s.crawlID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.CrawlState{}, false, nil
		}
		return models.CrawlState{}, false, fmt.Errorf("load crawl: %w", err)
	}

	state := models.NewCrawlState(crawl.CrawlID)
	state.Status = models.CrawlStatus(crawl.Status)
	state.SavedAt = fromNanos(crawl.SavedAt)

	if err := tx.SelectContext(ctx, &state.Visited, `SELECT url FROM visited WHERE crawl_id = ? ORDER BY url`, s.crawlID); err != nil {
		return models.CrawlState{}, false, fmt.Errorf("load visited: %w", err)
	}

	var frontier []frontierRow
	if err := tx.SelectContext(ctx, &frontier, `SELECT crawl_id, position, url, depth FROM frontier WHERE crawl_id = ? ORDER BY position`, s.crawlID); err != nil {
		return models.CrawlState{}, false, fmt.Errorf("load frontier: %w", err)
	}
	for _, row := range frontier {
		state.Frontier = append(state.Frontier, models.FrontierEntry{URL: row.URL, Depth: row.Depth})
	}

	var records []downloadRow
	if err := tx.SelectContext(ctx, &records, `SELECT * FROM downloads WHERE crawl_id = ? ORDER BY seq`, s.crawlID); err != nil {
		return models.CrawlState{}, false, fmt.Errorf("load downloads: %w", err)
	}
	for _, row := range records {
		state.Downloads[row.TrackID] = row.record()
	}

	var failures []pageFailureRow
	if err := tx.SelectContext(ctx, &failures, `SELECT * FROM page_failures WHERE crawl_id = ? ORDER BY position`, s.crawlID); err != nil {
		return models.CrawlState{}, false, fmt.Errorf("load page failures: %w", err)
	}
	for _, row := range failures {
		state.PageFailures = append(state.PageFailures, models.PageFailure{
			URL:      row.URL,
			Depth:    row.Depth,
			Error:    row.Error,
			FailedAt: fromNanos(row.FailedAt),
		})
	}
	return state, true, nil
}

// Save replaces the crawl's rows in a single transaction.
func (s *SQLiteStore) Save(ctx context.Context, state models.CrawlState) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	if err := s.deleteRows(ctx, tx); err != nil {
		return err
	}

	savedAt := state.SavedAt
	if savedAt.IsZero() {
		savedAt = time.Now()
	}
	status := state.Status
	if status == "" {
		status = models.CrawlIdle
	}
	if _, err := tx.NamedExecContext(ctx,
		`INSERT INTO crawls (crawl_id, status, saved_at) VALUES (:crawl_id, :status, :saved_at)`,
		crawlRow{CrawlID: s.crawlID, Status: string(status), SavedAt: savedAt.UnixNano()},
	); err != nil {
		return fmt.Errorf("save crawl: %w", err)
	}

	if err := insertEach(ctx, tx, `INSERT OR IGNORE INTO visited (crawl_id, url) VALUES (?, ?)`, len(state.Visited), func(i int) []any {
		return []any{s.crawlID, state.Visited[i]}
	}); err != nil {
		return fmt.Errorf("save visited: %w", err)
	}

	if err := insertEach(ctx, tx, `INSERT INTO frontier (crawl_id, position, url, depth) VALUES (?, ?, ?, ?)`, len(state.Frontier), func(i int) []any {
		e := state.Frontier[i]
		return []any{s.crawlID, i, e.URL, e.Depth}
	}); err != nil {
		return fmt.Errorf("save frontier: %w", err)
	}

	records := make([]downloadRow, 0, len(state.Downloads))
	for id, rec := range state.Downloads {
		records = append(records, newDownloadRow(s.crawlID, id, rec))
	}
	if err := insertEach(ctx, tx, `INSERT INTO downloads (crawl_id, track_id, source_url, title, artist, duration_ms, platform, state, attempts, last_error, seq, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, len(records), func(i int) []any {
		r := records[i]
		return []any{r.CrawlID, r.TrackID, r.SourceURL, r.Title, r.Artist, r.DurationMS, r.Platform, r.State, r.Attempts, r.LastError, r.Seq, r.UpdatedAt}
	}); err != nil {
		return fmt.Errorf("save downloads: %w", err)
	}

	if err := insertEach(ctx, tx, `INSERT INTO page_failures (crawl_id, position, url, depth, error, failed_at) VALUES (?, ?, ?, ?, ?, ?)`, len(state.PageFailures), func(i int) []any {
		f := state.PageFailures[i]
		return []any{s.crawlID, i, f.URL, f.Depth, f.Error, f.FailedAt.UnixNano()}
	}); err != nil {
		return fmt.Errorf("save page failures: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	return nil
}

// Clear removes every row of the crawl.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin clear: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	if err := s.deleteRows(ctx, tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit clear: %w", err)
	}
	return nil
}

func (s *SQLiteStore) deleteRows(ctx context.Context, tx *sqlx.Tx) error {
	for _, table := range sqliteTables {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE crawl_id = ?`, s.crawlID); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	return nil
}

func insertEach(ctx context.Context, tx *sqlx.Tx, query string, n int, args func(i int) []any) error {
	if n == 0 {
		return nil
	}
	stmt, err := tx.PreparexContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i := 0; i < n; i++ {
		if _, err := stmt.ExecContext(ctx, args(i)...); err != nil {
			return err
		}
	}
	return nil
}

func newDownloadRow(crawlID, trackID string, rec models.DownloadRecord) downloadRow {
	if rec.TrackID != "" {
		trackID = rec.TrackID
	}
	meta := rec.Candidate.Metadata
	return downloadRow{
		CrawlID:    crawlID,
		TrackID:    trackID,
		SourceURL:  rec.Candidate.SourceURL,
		Title:      meta.Title,
		Artist:     meta.Artist,
		DurationMS: meta.Duration.Milliseconds(),
		Platform:   meta.Platform,
		State:      string(rec.State),
		Attempts:   rec.Attempts,
		LastError:  rec.LastError,
		Seq:        rec.Seq,
		UpdatedAt:  rec.UpdatedAt.UnixNano(),
	}
}

func (r downloadRow) record() models.DownloadRecord {
	return models.DownloadRecord{
		TrackID: r.TrackID,
		Candidate: models.TrackCandidate{
			TrackID:   r.TrackID,
			SourceURL: r.SourceURL,
			Metadata: models.TrackMetadata{
				Title:    r.Title,
				Artist:   r.Artist,
				Duration: time.Duration(r.DurationMS) * time.Millisecond,
				Platform: r.Platform,
			},
		},
		State:     models.DownloadState(r.State),
		Attempts:  r.Attempts,
		LastError: r.LastError,
		Seq:       r.Seq,
		UpdatedAt: fromNanos(r.UpdatedAt),
	}
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
