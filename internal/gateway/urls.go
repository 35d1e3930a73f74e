package gateway

import (
	"errors"
	"net/url"
	"strings"
)

// ErrInvalidObjectURL is returned when a pasted URL cannot be resolved to
// a bucket and object name.
var ErrInvalidObjectURL = errors.New("invalid object URL")

// browser-facing hostnames that address objects as /bucket/name.
var objectURLHosts = map[string]bool{
	"storage.cloud.google.com": true,
	"storage.googleapis.com":   true,
}

// ParseObjectURL extracts (bucket, object name) from a pasted object URL.
// Accepted forms:
//
//	gs://bucket/path/to/object
//	https://storage.cloud.google.com/bucket/path/to/object
//	https://storage.googleapis.com/bucket/path/to/object
//
// The object name keeps its full path and is percent-decoded.
func ParseObjectURL(raw string) (bucket, name string, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", "", ErrInvalidObjectURL
	}

	if rest, ok := strings.CutPrefix(raw, "gs://"); ok {
		bucket, name, ok = strings.Cut(rest, "/")
		if !ok || bucket == "" || name == "" {
			return "", "", ErrInvalidObjectURL
		}
		return bucket, name, nil
	}

	parsed, parseErr := url.Parse(raw)
	if parseErr != nil || !objectURLHosts[parsed.Hostname()] {
		return "", "", ErrInvalidObjectURL
	}

	parts := strings.Split(strings.Trim(parsed.EscapedPath(), "/"), "/")
	if len(parts) < 2 {
		return "", "", ErrInvalidObjectURL
	}

	name, decodeErr := url.PathUnescape(strings.Join(parts[1:], "/"))
	if decodeErr != nil || name == "" {
		return "", "", ErrInvalidObjectURL
	}
	return parts[0], name, nil
}
