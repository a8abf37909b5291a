package rest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var (
	ErrNoLinks   = errors.New("at least one link is required")
	ErrLinksType = errors.New("links must be a string or an array of strings")
)

// InvalidLinksError rejects a whole submission because of the listed entries.
type InvalidLinksError struct {
	Links []string
}

func (e *InvalidLinksError) Error() string {
	return fmt.Sprintf("invalid links: %s", strings.Join(e.Links, ", "))
}

// parseLinks accepts either a string, split on newlines and commas, or an
// array of strings. Entries are trimmed and empty ones dropped. Every entry
// must be an absolute URL.
func parseLinks(raw json.RawMessage) ([]string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, ErrNoLinks
	}

	var candidates []string

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, ErrLinksType
		}

		candidates = strings.FieldsFunc(s, func(r rune) bool { return r == '\n' || r == ',' })
	case '[':
		if err := json.Unmarshal(raw, &candidates); err != nil {
			return nil, ErrLinksType
		}
	default:
		return nil, ErrLinksType
	}

	links := make([]string, 0, len(candidates))

	var invalid []string

	for _, c := range candidates {
		link := strings.TrimSpace(c)
		if link == "" {
			continue
		}

		if !isAbsoluteURL(link) {
			invalid = append(invalid, link)
		}

		links = append(links, link)
	}

	if len(invalid) > 0 {
		return nil, &InvalidLinksError{Links: invalid}
	}

	if len(links) == 0 {
		return nil, ErrNoLinks
	}

	return links, nil
}

// isAbsoluteURL reports whether s has a scheme and something after it, e.g.
// "https://host/file" or "magnet:?xt=...".
func isAbsoluteURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" {
		return false
	}

	return u.Host != "" || u.Opaque != "" || u.RawQuery != ""
}
