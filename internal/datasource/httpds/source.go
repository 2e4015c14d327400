package httpds

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/zeebo/xxh3"
)

// Source is one remote CSV input.
type Source struct {
	c   *Client
	url string
}

// NewSource binds rawURL to c.
func NewSource(c *Client, rawURL string) *Source { return &Source{c: c, url: rawURL} }

// Name is the URL, used as the file name in reports and rejects.
func (s *Source) Name() string { return s.url }

// Stem is the last path segment without extension, the default label.
func (s *Source) Stem() string { return StemFromURL(s.url) }

// Open starts the download. The body streams; nothing is buffered.
func (s *Source) Open(ctx context.Context) (io.ReadCloser, error) {
	resp, err := s.c.Get(ctx, s.url, nil)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

var nonWord = regexp.MustCompile(`[^a-zA-Z0-9]+`)

// StemFromURL derives a label-safe stem from a URL: the base name of its
// path without extension, else its cleaned query, else a hash of the URL.
func StemFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return hashStem(rawURL)
	}
	if base := path.Base(u.Path); base != "/" && base != "." && base != "" {
		if stem := strings.TrimSuffix(base, path.Ext(base)); stem != "" {
			return stem
		}
	}
	if q := strings.Trim(nonWord.ReplaceAllString(u.RawQuery, "_"), "_"); q != "" {
		return q
	}
	return hashStem(rawURL)
}

func hashStem(s string) string { return fmt.Sprintf("url_%016x", xxh3.HashString(s)) }
