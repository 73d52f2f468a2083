// Package graph writes the crawl's discovery graph to Neo4j: pages linking to
// pages, pages featuring tracks, and the download state of each track.
package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"relentless-tracks/internal/models"
)

const trackPrefix = "track:"

// Writer MERGEs nodes and relationships, so replaying a topic is harmless.
type Writer struct {
	driver DriverSessioner
	logger *zap.Logger
}

func NewWriter(driver DriverSessioner, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{driver: driver, logger: logger}
}

// WriteEdgePayload decodes an edges-topic message and writes it. Edges with
// an empty endpoint are skipped.
func (w *Writer) WriteEdgePayload(ctx context.Context, payload []byte) error {
	var edge models.Edge
	if err := json.Unmarshal(payload, &edge); err != nil {
		return fmt.Errorf("decode edge: %w", err)
	}
	return w.WriteEdge(ctx, edge)
}

func (w *Writer) WriteEdge(ctx context.Context, edge models.Edge) error {
	if edge.From == "" || edge.To == "" {
		return nil
	}
	query, params := BuildEdgeQuery(edge)
	return w.runWrite(ctx, query, params)
}

// WriteDownloadPayload decodes a downloads-topic message and records the
// attempt on its Track node.
func (w *Writer) WriteDownloadPayload(ctx context.Context, payload []byte) error {
	var event models.DownloadEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("decode download event: %w", err)
	}
	if event.TrackID == "" {
		return nil
	}
	query, params := BuildTrackQuery(event)
	return w.runWrite(ctx, query, params)
}

func (w *Writer) runWrite(ctx context.Context, query string, params map[string]any) error {
	session := w.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer func() {
		if err := session.Close(ctx); err != nil {
			w.logger.Warn("neo4j session close failed", zap.Error(err))
		}
	}()

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, query, params)
		return nil, err
	})
	return err
}

// BuildEdgeQuery returns the MERGE statement for one edge.
func BuildEdgeQuery(edge models.Edge) (string, map[string]any) {
	fromLabel, fromKey, fromProp := nodeLabel(edge.From)
	toLabel, toKey, toProp := nodeLabel(edge.To)
	rel := relationType(edge.Relation)

	query := fmt.Sprintf(
		"MERGE (from:%s {%s: $fromKey}) "+
			"MERGE (to:%s {%s: $toKey}) "+
			"MERGE (from)-[r:%s {crawl_id: $crawl_id}]->(to)",
		fromLabel, fromProp,
		toLabel, toProp,
		rel,
	)

	params := map[string]any{
		"fromKey":  fromKey,
		"toKey":    toKey,
		"crawl_id": edge.CrawlID,
	}
	return query, params
}

// BuildTrackQuery returns the statement recording a download attempt. The
// title and source are only overwritten when the event carries them.
func BuildTrackQuery(event models.DownloadEvent) (string, map[string]any) {
	query := "MERGE (t:Track {track_id: $track_id}) " +
		"SET t.crawl_id = $crawl_id, " +
		"t.state = $state, " +
		"t.attempts = $attempt, " +
		"t.last_error = $error, " +
		"t.title = coalesce($title, t.title), " +
		"t.source_url = coalesce($source_url, t.source_url)"

	var title any
	if event.Title != "" {
		title = event.Title
	}
	var sourceURL any
	if event.SourceURL != "" {
		sourceURL = event.SourceURL
	}
	var lastError any
	if event.Error != "" {
		lastError = event.Error
	}
	params := map[string]any{
		"track_id":   event.TrackID,
		"crawl_id":   event.CrawlID,
		"state":      string(event.State),
		"attempt":    event.Attempt,
		"error":      lastError,
		"title":      title,
		"source_url": sourceURL,
	}
	return query, params
}

func nodeLabel(key string) (label string, value string, property string) {
	if strings.HasPrefix(key, trackPrefix) {
		return "Track", strings.TrimPrefix(key, trackPrefix), "track_id"
	}
	return "Page", key, "url"
}

func relationType(input string) string {
	switch input {
	case models.RelationLinksTo:
		return "LINKS_TO"
	case models.RelationFeatures:
		return "FEATURES"
	default:
		return strings.ToUpper(strings.ReplaceAll(input, "-", "_"))
	}
}
