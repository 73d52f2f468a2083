package platform

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"relentless-tracks/internal/models"
)

// testRules treats /track/<id> on any host as a track and follows every other
// http(s) link on the test server.
type testRules struct{ host string }

func (testRules) name() string { return "test" }

func (r testRules) track(u *url.URL) (models.TrackCandidate, bool) {
	if u.Host != r.host || !strings.HasPrefix(u.Path, "/track/") {
		return models.TrackCandidate{}, false
	}
	id := strings.TrimPrefix(u.Path, "/track/")
	return models.TrackCandidate{TrackID: "test:" + id, SourceURL: u.String()}, true
}

func (r testRules) follow(u *url.URL) bool { return u.Host == r.host }

func (testRules) scrape(*goquery.Document, []byte) []models.TrackCandidate { return nil }

func (testRules) searchURL(string) (string, error) { return "", ErrSearchUnsupported }

const testPage = `<!doctype html>
<html><head><title>Listing</title></head>
<body>
  <a href="/page/2">next</a>
  <a href="page/3#frag">relative</a>
  <a href="/page/2">duplicate</a>
  <a href="/track/one" title="Song One">ignored text</a>
  <a href="/track/one">Song One again</a>
  <a href="/track/two">  Song
     Two </a>
  <a href="https://elsewhere.example/page">offsite</a>
  <a href="javascript:void(0)">js</a>
  <a href="mailto:x@example.com">mail</a>
  <a href="#top">top</a>
  <noscript><a href="/track/three">Song Three</a></noscript>
</body></html>`

func newTestExplorer(t *testing.T, srv *httptest.Server, robots bool) *htmlExplorer {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	e := &htmlExplorer{
		client:    srv.Client(),
		userAgent: DefaultUserAgent,
		maxBody:   defaultMaxBodyBytes,
		rules:     testRules{host: u.Host},
		logger:    zap.NewNop(),
	}
	if robots {
		e.robots = NewRobotsChecker(srv.Client(), DefaultUserAgent, 0)
	}
	return e
}

func TestExploreExtractsLinksAndTracks(t *testing.T) {
	var gotUA string
	mux := http.NewServeMux()
	mux.HandleFunc("/list/", func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(testPage))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	e := newTestExplorer(t, srv, false)
	res, err := e.Explore(context.Background(), srv.URL+"/list/")
	require.NoError(t, err)

	assert.Equal(t, DefaultUserAgent, gotUA)
	assert.Equal(t, []string{srv.URL + "/page/2", srv.URL + "/list/page/3"}, res.Links)
	require.Len(t, res.Candidates, 3)
	assert.Equal(t, "test:one", res.Candidates[0].TrackID)
	assert.Equal(t, "Song One", res.Candidates[0].Metadata.Title)
	assert.Equal(t, "Song Two", res.Candidates[1].Metadata.Title)
	assert.Equal(t, "test:three", res.Candidates[2].TrackID, "noscript anchors are parsed")
}

func TestExploreTrackPageIsItselfACandidate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html><head><meta property="og:title" content="The Song"></head><body></body></html>`))
	}))
	defer srv.Close()

	res, err := newTestExplorer(t, srv, false).Explore(context.Background(), srv.URL+"/track/x")
	require.NoError(t, err)
	require.Len(t, res.Candidates, 1)
	assert.Equal(t, "test:x", res.Candidates[0].TrackID)
	assert.Equal(t, "The Song", res.Candidates[0].Metadata.Title)
}

func TestExploreBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newTestExplorer(t, srv, false).Explore(context.Background(), srv.URL+"/x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestExploreHonoursRobots(t *testing.T) {
	robotsHits := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, _ *http.Request) {
		robotsHits++
		_, _ = w.Write([]byte("User-agent: *\nDisallow: /private\n"))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html></html>"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	e := newTestExplorer(t, srv, true)
	_, err := e.Explore(context.Background(), srv.URL+"/private/page")
	assert.True(t, errors.Is(err, ErrDisallowed))

	_, err = e.Explore(context.Background(), srv.URL+"/public")
	assert.NoError(t, err)
	assert.Equal(t, 1, robotsHits, "robots.txt is cached per host")
}

func TestRobotsMissingAllowsAll(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	r := NewRobotsChecker(srv.Client(), DefaultUserAgent, 0)
	ok, err := r.IsAllowed(context.Background(), srv.URL+"/anything")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = r.IsAllowed(context.Background(), "/relative")
	assert.Error(t, err)
}

func TestYouTubeExploreScrapesEmbeddedVideos(t *testing.T) {
	page := `<html><body>
<a href="https://www.youtube.com/watch?v=aaaaaaaaaaa">First</a>
<a href="https://www.youtube.com/@someone">channel</a>
<script>var ytInitialData = {"videoId":"aaaaaaaaaaa","videoId2":{"videoId":"bbbbbbbbbbb"}};</script>
</body></html>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(page))
	}))
	defer srv.Close()

	p, err := New("youtube", Options{Client: srv.Client(), IgnoreRobots: true})
	require.NoError(t, err)
	res, err := p.Explore(context.Background(), srv.URL+"/results?search_query=x")
	require.NoError(t, err)

	assert.Equal(t, []string{"https://www.youtube.com/@someone"}, res.Links)
	require.Len(t, res.Candidates, 2)
	assert.Equal(t, "youtube:aaaaaaaaaaa", res.Candidates[0].TrackID)
	assert.Equal(t, "First", res.Candidates[0].Metadata.Title)
	assert.Equal(t, "youtube:bbbbbbbbbbb", res.Candidates[1].TrackID)
}
