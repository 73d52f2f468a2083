package frontier

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"sort"
	"strings"
)

// trackingParams never change what a page serves, so they are dropped before
// URLs are compared.
var trackingParams = map[string]struct{}{
	"utm_source":   {},
	"utm_medium":   {},
	"utm_campaign": {},
	"utm_term":     {},
	"utm_content":  {},
	"fbclid":       {},
	"gclid":        {},
	"si":           {},
	"feature":      {},
	"pp":           {},
}

var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
}

var (
	errEmptyURL            = errors.New("normalize url: empty input")
	errMissingSchemeOrHost = errors.New("normalize url: missing scheme or host")
)

// NormalizeURL rewrites rawURL so equivalent spellings compare equal:
// scheme and host are lowercased, default ports, fragments and tracking
// parameters are removed, dot segments and trailing slashes are cleaned and
// query parameters are sorted.
func NormalizeURL(rawURL string) (string, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return "", errEmptyURL
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("normalize url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", errMissingSchemeOrHost
	}

	u.Scheme = strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	if port := u.Port(); port != "" && port != defaultPorts[u.Scheme] {
		host = host + ":" + port
	}
	u.Host = host
	u.Fragment = ""
	u.RawFragment = ""
	u.User = nil
	u.RawQuery = cleanQuery(u.Query())
	u.Path = cleanPath(u.Path)
	u.RawPath = ""

	return u.String(), nil
}

func cleanQuery(values url.Values) string {
	for key := range values {
		if _, drop := trackingParams[strings.ToLower(key)]; drop {
			values.Del(key)
		}
	}
	if len(values) == 0 {
		return ""
	}
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, key := range keys {
		vals := values[key]
		sort.Strings(vals)
		for _, v := range vals {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(key))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}
	return b.String()
}

func cleanPath(p string) string {
	if p == "" || p == "/" {
		return "/"
	}
	cleaned := path.Clean(p)
	if cleaned == "." {
		return "/"
	}
	return cleaned
}
