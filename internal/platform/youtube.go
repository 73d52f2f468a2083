package platform

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"relentless-tracks/internal/models"
)

var (
	youtubeIDPattern    = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)
	youtubeEmbeddedID   = regexp.MustCompile(`"videoId":"([A-Za-z0-9_-]{11})"`)
	youtubeHosts        = []string{"youtube.com", "www.youtube.com", "m.youtube.com", "music.youtube.com"}
	youtubeSkipPrefixes = []string{"/signin", "/logout", "/account", "/upload", "/premium", "/about", "/t/", "/howyoutubeworks", "/redirect", "/embed", "/live_chat"}
)

type youtube struct{}

func (youtube) name() string { return "youtube" }

func (youtube) track(u *url.URL) (models.TrackCandidate, bool) {
	var id string
	switch {
	case hostIn(u.Host, "youtu.be"):
		id = strings.Trim(u.Path, "/")
	case hostIn(u.Host, youtubeHosts...) && u.Path == "/watch":
		id = u.Query().Get("v")
	case hostIn(u.Host, youtubeHosts...) && strings.HasPrefix(u.Path, "/shorts/"):
		id = strings.TrimPrefix(u.Path, "/shorts/")
	}
	if !youtubeIDPattern.MatchString(id) {
		return models.TrackCandidate{}, false
	}
	return youtubeCandidate(id), true
}

func (youtube) follow(u *url.URL) bool {
	if !hostIn(u.Host, youtubeHosts...) {
		return false
	}
	for _, prefix := range youtubeSkipPrefixes {
		if strings.HasPrefix(u.Path, prefix) {
			return false
		}
	}
	return true
}

func (youtube) scrape(_ *goquery.Document, body []byte) []models.TrackCandidate {
	var out []models.TrackCandidate
	for _, m := range youtubeEmbeddedID.FindAllSubmatch(body, -1) {
		out = append(out, youtubeCandidate(string(m[1])))
	}
	return out
}

func (youtube) searchURL(keyword string) (string, error) {
	return "https://www.youtube.com/results?search_query=" + url.QueryEscape(keyword), nil
}

func youtubeCandidate(id string) models.TrackCandidate {
	return models.TrackCandidate{
		TrackID:   "youtube:" + id,
		SourceURL: "https://www.youtube.com/watch?v=" + id,
		Metadata:  models.TrackMetadata{Platform: "youtube"},
	}
}
