package cluster

import (
	"fmt"
	"net/url"
	"strings"
)

// SanitizeURL derives a cluster id from a cluster URL. The id is safe to use
// as a file name or key prefix, and every process pointed at the same URL
// derives the same id. Only the host part of the URL is kept; every
// character outside [a-zA-Z0-9._-] is replaced with an underscore.
func SanitizeURL(rawURL string) (string, error) {
	token := rawURL

	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		token = u.Host
	}

	var b strings.Builder
	for _, r := range token {
		switch {
		case r >= 'a' && r <= 'z',
			r >= 'A' && r <= 'Z',
			r >= '0' && r <= '9',
			r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}

	id := strings.Trim(b.String(), "_")
	if id == "" {
		return "", fmt.Errorf("cannot derive cluster id from %q", rawURL)
	}

	return id, nil
}
