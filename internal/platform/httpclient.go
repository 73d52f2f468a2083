package platform

import (
	"fmt"
	"hash/fnv"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Timeouts so a single hung request can't hold the exploration loop.
const (
	DefaultConnectTimeout  = 10 * time.Second
	DefaultResponseTimeout = 25 * time.Second // time to first response header
	DefaultTotalTimeout    = 30 * time.Second // connect + headers + body
)

// ClientConfig configures the shared HTTP client.
type ClientConfig struct {
	ProxyURL  string
	ProxyPool string // comma-separated; one is picked by hashing Hostname
	Hostname  string

	ConnectTimeout  time.Duration
	ResponseTimeout time.Duration
	TotalTimeout    time.Duration
}

// NewHTTPClient builds the client used for page fetches and robots.txt. It
// returns the proxy it selected, if any.
func NewHTTPClient(cfg ClientConfig) (*http.Client, string, error) {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.ResponseTimeout <= 0 {
		cfg.ResponseTimeout = DefaultResponseTimeout
	}
	if cfg.TotalTimeout <= 0 {
		cfg.TotalTimeout = DefaultTotalTimeout
	}
	transport := &http.Transport{
		DialContext:           (&net.Dialer{Timeout: cfg.ConnectTimeout}).DialContext,
		ResponseHeaderTimeout: cfg.ResponseTimeout,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
	}

	proxyURL := cfg.ProxyURL
	if proxyURL == "" && cfg.ProxyPool != "" {
		proxyURL = SelectProxyFromPool(cfg.ProxyPool, cfg.Hostname)
	}
	if proxyURL != "" {
		u, err := url.Parse(proxyURL)
		if err != nil || u.Host == "" {
			return nil, "", fmt.Errorf("invalid proxy url %q", proxyURL)
		}
		transport.Proxy = http.ProxyURL(u)
	}
	return &http.Client{
		Transport: transport,
		Timeout:   cfg.TotalTimeout,
	}, proxyURL, nil
}

// SelectProxyFromPool returns one URL from pool (comma-separated) by hashing
// hostname, so each replica deterministically uses the same egress. An empty
// pool yields "".
func SelectProxyFromPool(pool, hostname string) string {
	var valid []string
	for _, p := range strings.Split(pool, ",") {
		if p = strings.TrimSpace(p); p != "" {
			valid = append(valid, p)
		}
	}
	if len(valid) == 0 {
		return ""
	}
	if hostname == "" {
		hostname = "0"
	}
	h := fnv.New32a()
	h.Write([]byte(hostname))
	return valid[h.Sum32()%uint32(len(valid))]
}
