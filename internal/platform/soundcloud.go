package platform

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"relentless-tracks/internal/models"
)

var (
	soundcloudHosts     = []string{"soundcloud.com", "www.soundcloud.com", "m.soundcloud.com"}
	soundcloudPermalink = regexp.MustCompile(`"permalink_url":"(https://soundcloud\.com/[^"?#]+)"`)

	// First path segments that are site sections, not users.
	soundcloudReserved = map[string]bool{
		"discover": true, "search": true, "stream": true, "you": true, "upload": true,
		"charts": true, "pages": true, "settings": true, "messages": true, "notifications": true,
		"people": true, "popular": true, "tags": true, "stations": true, "jobs": true,
		"imprint": true, "mobile": true, "pro": true, "connect": true, "signin": true,
		"logout": true, "feed": true, "terms-of-use": true, "go": true, "creators": true,
	}
	// Second path segments that are user sub-pages, not tracks.
	soundcloudUserPages = map[string]bool{
		"sets": true, "tracks": true, "albums": true, "reposts": true, "likes": true,
		"followers": true, "following": true, "popular-tracks": true, "comments": true,
		"spotlight": true, "playlists": true, "toptracks": true,
	}
)

type soundcloud struct{}

func (soundcloud) name() string { return "soundcloud" }

func (soundcloud) track(u *url.URL) (models.TrackCandidate, bool) {
	if !hostIn(u.Host, soundcloudHosts...) {
		return models.TrackCandidate{}, false
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return models.TrackCandidate{}, false
	}
	user, slug := strings.ToLower(parts[0]), strings.ToLower(parts[1])
	if soundcloudReserved[user] || soundcloudUserPages[slug] {
		return models.TrackCandidate{}, false
	}
	return models.TrackCandidate{
		TrackID:   "soundcloud:" + user + "/" + slug,
		SourceURL: "https://soundcloud.com/" + user + "/" + slug,
		Metadata:  models.TrackMetadata{Platform: "soundcloud", Artist: user},
	}, true
}

func (soundcloud) follow(u *url.URL) bool {
	if !hostIn(u.Host, soundcloudHosts...) {
		return false
	}
	first, _, _ := strings.Cut(strings.Trim(u.Path, "/"), "/")
	switch first {
	case "signin", "logout", "upload", "settings", "messages", "notifications", "you", "pages", "terms-of-use", "imprint", "jobs", "pro", "mobile":
		return false
	}
	return true
}

func (s soundcloud) scrape(_ *goquery.Document, body []byte) []models.TrackCandidate {
	var out []models.TrackCandidate
	for _, m := range soundcloudPermalink.FindAllSubmatch(body, -1) {
		u, err := url.Parse(string(m[1]))
		if err != nil {
			continue
		}
		if c, ok := s.track(u); ok {
			out = append(out, c)
		}
	}
	return out
}

func (soundcloud) searchURL(string) (string, error) {
	return "", ErrSearchUnsupported
}
