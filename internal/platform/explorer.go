package platform

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"relentless-tracks/internal/models"
)

// htmlExplorer fetches a page and extracts same-site links and track
// candidates from its anchors and embedded data.
type htmlExplorer struct {
	client    *http.Client
	userAgent string
	maxBody   int64
	robots    *RobotsChecker // nil = no check
	rules     rules
	logger    *zap.Logger
}

func (e *htmlExplorer) Explore(ctx context.Context, rawURL string) (models.PageResult, error) {
	if e.robots != nil {
		allowed, err := e.robots.IsAllowed(ctx, rawURL)
		if err != nil {
			return models.PageResult{}, err
		}
		if !allowed {
			return models.PageResult{}, fmt.Errorf("%w: %s", ErrDisallowed, rawURL)
		}
	}

	body, finalURL, err := e.fetch(ctx, rawURL)
	if err != nil {
		return models.PageResult{}, err
	}

	// Scripting off so <noscript> fallbacks parse as markup; SoundCloud
	// serves its server-rendered track list there.
	root, err := html.ParseWithOptions(bytes.NewReader(body), html.ParseOptionEnableScripting(false))
	if err != nil {
		return models.PageResult{}, fmt.Errorf("parse %s: %w", rawURL, err)
	}
	doc := goquery.NewDocumentFromNode(root)

	base := finalURL
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if u, err := finalURL.Parse(strings.TrimSpace(href)); err == nil {
			base = u
		}
	}

	c := newCollector()
	if self, ok := e.rules.track(finalURL); ok {
		self.Metadata.Title = pageTitle(doc)
		c.addCandidate(self)
	}
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		u, ok := resolveLink(base, href)
		if !ok {
			return
		}
		if cand, ok := e.rules.track(u); ok {
			cand.Metadata.Title = anchorTitle(sel)
			c.addCandidate(cand)
			return
		}
		if e.rules.follow(u) {
			c.addLink(u.String())
		}
	})
	for _, cand := range e.rules.scrape(doc, body) {
		c.addCandidate(cand)
	}

	e.logger.Debug("page parsed",
		zap.String("url", rawURL),
		zap.Int("links", len(c.result.Links)),
		zap.Int("candidates", len(c.result.Candidates)),
	)
	return c.result, nil
}

func (e *htmlExplorer) fetch(ctx context.Context, rawURL string) ([]byte, *url.URL, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("User-Agent", e.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	req.Header.Set("Accept-Language", "en-US,en;q=0.8")
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, nil, fmt.Errorf("unexpected status %d for %s", resp.StatusCode, rawURL)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, e.maxBody))
	if err != nil {
		return nil, nil, err
	}
	return body, resp.Request.URL, nil
}

type collector struct {
	result models.PageResult
	links  map[string]struct{}
	tracks map[string]int
}

func newCollector() *collector {
	return &collector{links: make(map[string]struct{}), tracks: make(map[string]int)}
}

func (c *collector) addLink(link string) {
	if _, ok := c.links[link]; ok {
		return
	}
	c.links[link] = struct{}{}
	c.result.Links = append(c.result.Links, link)
}

// addCandidate keeps the first sighting of a track, filling in a title from
// later sightings when the first had none.
func (c *collector) addCandidate(cand models.TrackCandidate) {
	if i, ok := c.tracks[cand.TrackID]; ok {
		if c.result.Candidates[i].Metadata.Title == "" {
			c.result.Candidates[i].Metadata.Title = cand.Metadata.Title
		}
		return
	}
	c.tracks[cand.TrackID] = len(c.result.Candidates)
	c.result.Candidates = append(c.result.Candidates, cand)
}

func resolveLink(base *url.URL, href string) (*url.URL, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return nil, false
	}
	u, err := base.Parse(href)
	if err != nil {
		return nil, false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, false
	}
	u.Fragment = ""
	return u, true
}

func anchorTitle(sel *goquery.Selection) string {
	if title, ok := sel.Attr("title"); ok && strings.TrimSpace(title) != "" {
		return strings.TrimSpace(title)
	}
	if label, ok := sel.Attr("aria-label"); ok && strings.TrimSpace(label) != "" {
		return strings.TrimSpace(label)
	}
	return strings.Join(strings.Fields(sel.Text()), " ")
}

func pageTitle(doc *goquery.Document) string {
	if og, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok && og != "" {
		return strings.TrimSpace(og)
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}
