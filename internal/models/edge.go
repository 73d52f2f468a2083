package models

// Edge represents a discovery relationship: a page linking to another page,
// or a page featuring a track.
type Edge struct {
	CrawlID  string `json:"crawl_id"`
	From     string `json:"from"`
	To       string `json:"to"`
	Relation string `json:"relation"`
}

const (
	RelationLinksTo  = "links_to"
	RelationFeatures = "features"
)

// TrackNodeKey prefixes a track ID so graph consumers can tell tracks from pages.
func TrackNodeKey(trackID string) string {
	return "track:" + trackID
}
