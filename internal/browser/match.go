package browser

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// MatchPattern is an extension-style URL match pattern such as
// "*://docs.google.com/spreadsheets/*" or "https://*.surveycto.com/*".
type MatchPattern struct {
	raw    string
	all    bool
	scheme string
	host   string
	sub    bool // host was "*.domain"
	path   *regexp.Regexp
}

// ParseMatchPattern parses a pattern of the form <scheme>://<host><path>.
func ParseMatchPattern(s string) (MatchPattern, error) {
	if s == "<all_urls>" {
		return MatchPattern{raw: s, all: true}, nil
	}
	scheme, rest, ok := strings.Cut(s, "://")
	if !ok {
		return MatchPattern{}, fmt.Errorf("match pattern %q: missing scheme separator", s)
	}
	if scheme != "*" && scheme != "http" && scheme != "https" && scheme != "file" {
		return MatchPattern{}, fmt.Errorf("match pattern %q: unsupported scheme %q", s, scheme)
	}
	host, path := rest, "/"
	if i := strings.Index(rest, "/"); i >= 0 {
		host, path = rest[:i], rest[i:]
	} else {
		return MatchPattern{}, fmt.Errorf("match pattern %q: missing path", s)
	}

	p := MatchPattern{raw: s, scheme: scheme}
	switch {
	case host == "*":
		p.host = "*"
	case strings.HasPrefix(host, "*."):
		p.host, p.sub = strings.ToLower(host[2:]), true
	case strings.Contains(host, "*"):
		return MatchPattern{}, fmt.Errorf("match pattern %q: wildcard must lead the host", s)
	default:
		p.host = strings.ToLower(host)
	}

	quoted := strings.Split(path, "*")
	for i := range quoted {
		quoted[i] = regexp.QuoteMeta(quoted[i])
	}
	re, err := regexp.Compile("^" + strings.Join(quoted, ".*") + "$")
	if err != nil {
		return MatchPattern{}, fmt.Errorf("match pattern %q: %w", s, err)
	}
	p.path = re
	return p, nil
}

func (p MatchPattern) String() string {
	return p.raw
}

// Match reports whether rawURL is covered by the pattern. The fragment is
// ignored; the query is part of the path.
func (p MatchPattern) Match(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if p.all {
		return u.Scheme == "http" || u.Scheme == "https" || u.Scheme == "file"
	}

	switch p.scheme {
	case "*":
		if u.Scheme != "http" && u.Scheme != "https" {
			return false
		}
	default:
		if u.Scheme != p.scheme {
			return false
		}
	}

	host := strings.ToLower(u.Hostname())
	switch {
	case p.host == "*":
	case p.sub:
		if host != p.host && !strings.HasSuffix(host, "."+p.host) {
			return false
		}
	default:
		if host != p.host {
			return false
		}
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return p.path.MatchString(path)
}
