package httpds

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/justin-pfeifer/ftl-lightspeed/internal/datasource"
)

// Source streams a remote CSV file over HTTP(S). Each Open issues a new GET.
type Source struct {
	client *Client
	url    string
}

var _ datasource.Source = (*Source)(nil)

// NewSource binds a Client to a URL.
func NewSource(client *Client, url string) *Source {
	return &Source{client: client, url: url}
}

// Name returns the URL.
func (s *Source) Name() string { return s.url }

// Open performs the GET and returns the response body. A 404 or 410 wraps
// datasource.ErrNotFound; any other non-2xx status is an error.
func (s *Source) Open(ctx context.Context) (io.ReadCloser, error) {
	resp, err := s.client.Get(ctx, s.url)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", s.url, err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		_ = resp.Body.Close()
		return nil, fmt.Errorf("%w: get %s: status %d", datasource.ErrNotFound, s.url, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		_ = resp.Body.Close()
		return nil, fmt.Errorf("get %s: unexpected status %d", s.url, resp.StatusCode)
	}
	return resp.Body, nil
}
