package storage

import (
	"net/url"
	"strings"
)

// TransformURLToPathSegment turns a page URL into a filesystem-safe segment
// made of its host and path, e.g. "https://shop.test/search/" becomes
// "shop.test_search". Pages without a host use "local".
func TransformURLToPathSegment(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}

	host := sanitize(parsed.Hostname())
	if host == "" {
		host = "local"
	}
	p := strings.Trim(parsed.Path, "/")
	if p == "" {
		return host, nil
	}
	return host + "_" + sanitize(strings.ReplaceAll(p, "/", "_")), nil
}

// ShortID returns the first 8 characters of an id, for filenames.
func ShortID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}
