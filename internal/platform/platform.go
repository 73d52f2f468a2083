// Package platform implements the per-site capabilities a crawl needs: page
// exploration, track download and keyword search URLs. A platform is chosen
// once at startup by name.
package platform

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"relentless-tracks/internal/models"
)

// DefaultUserAgent identifies the crawler to the sites it visits and to robots.txt rules.
const DefaultUserAgent = "RelentlessTracks/1.0 (+https://github.com/relentless-tracks)"

const defaultMaxBodyBytes = 8 << 20

var (
	ErrUnknownPlatform   = errors.New("unknown platform")
	ErrSearchUnsupported = errors.New("keyword search not supported")
	ErrDisallowed        = errors.New("disallowed by robots.txt")
)

// Platform is everything the crawl controller needs from a site.
type Platform interface {
	Name() string
	Explore(ctx context.Context, url string) (models.PageResult, error)
	Download(ctx context.Context, candidate models.TrackCandidate, dest, quality, format string) error
	SearchURL(keyword string) (string, error)
}

// Options configures a platform.
type Options struct {
	Client       *http.Client
	UserAgent    string
	Logger       *zap.Logger
	IgnoreRobots bool
	RobotsTTL    time.Duration
	MaxBodyBytes int64
	Runner       Runner // yt-dlp invocation; nil uses the yt-dlp binary on PATH
}

func (o Options) withDefaults() Options {
	if o.Client == nil {
		o.Client = http.DefaultClient
	}
	if o.UserAgent == "" {
		o.UserAgent = DefaultUserAgent
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = defaultMaxBodyBytes
	}
	if o.Runner == nil {
		o.Runner = RunYTDLP
	}
	return o
}

// Names lists the supported platforms.
func Names() []string {
	return []string{"youtube", "soundcloud"}
}

// New returns the named platform.
func New(name string, opts Options) (Platform, error) {
	opts = opts.withDefaults()
	var r rules
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "youtube":
		r = youtube{}
	case "soundcloud":
		r = soundcloud{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPlatform, name)
	}

	explorer := &htmlExplorer{
		client:    opts.Client,
		userAgent: opts.UserAgent,
		maxBody:   opts.MaxBodyBytes,
		rules:     r,
		logger:    opts.Logger.With(zap.String("platform", r.name())),
	}
	if !opts.IgnoreRobots {
		explorer.robots = NewRobotsChecker(opts.Client, opts.UserAgent, opts.RobotsTTL)
	}
	return &site{
		rules:    r,
		explorer: explorer,
		executor: NewExecutor(opts.Runner, opts.Logger),
	}, nil
}

// rules is what differs between sites.
type rules interface {
	name() string
	// track reports whether u is a track page and builds its candidate.
	track(u *url.URL) (models.TrackCandidate, bool)
	// follow reports whether u is a same-site page worth exploring.
	follow(u *url.URL) bool
	// scrape finds tracks the anchors missed, e.g. in embedded JSON.
	scrape(doc *goquery.Document, body []byte) []models.TrackCandidate
	searchURL(keyword string) (string, error)
}

type site struct {
	rules    rules
	explorer *htmlExplorer
	executor *Executor
}

func (s *site) Name() string { return s.rules.name() }

func (s *site) Explore(ctx context.Context, url string) (models.PageResult, error) {
	return s.explorer.Explore(ctx, url)
}

func (s *site) Download(ctx context.Context, candidate models.TrackCandidate, dest, quality, format string) error {
	return s.executor.Download(ctx, candidate, dest, quality, format)
}

func (s *site) SearchURL(keyword string) (string, error) {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return "", errors.New("empty search keyword")
	}
	return s.rules.searchURL(keyword)
}

func hostIn(host string, hosts ...string) bool {
	host = strings.ToLower(host)
	if h, _, ok := strings.Cut(host, ":"); ok {
		host = h
	}
	for _, h := range hosts {
		if host == h {
			return true
		}
	}
	return false
}
