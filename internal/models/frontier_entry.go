package models

// FrontierEntry is a URL waiting to be explored, tagged with its crawl depth.
// Seeds enter at depth 0.
type FrontierEntry struct {
	URL   string `json:"url"`
	Depth int    `json:"depth"`
}
