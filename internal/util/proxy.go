package util

import (
	"net/url"
	"strings"
)

// ProxyRewriter maps https://host/path?q onto a forwarding worker as
// https://<domain>/host/path?q.
type ProxyRewriter struct {
	Domain string
}

func (p ProxyRewriter) Rewrite(raw string) (string, bool) {
	domain := strings.Trim(strings.TrimSpace(p.Domain), "/")
	if domain == "" {
		return raw, false
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || strings.EqualFold(u.Host, domain) {
		return raw, false
	}

	out := "https://" + domain + "/" + u.Host + u.EscapedPath()
	if u.RawQuery != "" {
		out += "?" + u.RawQuery
	}
	return out, true
}
