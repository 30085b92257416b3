// Package fetcher downloads legal texts from official publication servers
// over HTTP and FTP, with per-host rate limiting and retry.
package fetcher

import (
	"context"
	"net/url"

	"github.com/rotisserie/eris"
)

// Fetcher downloads the raw bytes of a legal text source.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

// Client dispatches fetches to the HTTP or FTP fetcher based on URL scheme.
type Client struct {
	http *HTTPFetcher
	ftp  *FTPFetcher
}

// NewClient creates a Client with the given HTTP options and a default FTP
// fetcher sharing the same timeout.
func NewClient(opts HTTPOptions) *Client {
	return &Client{
		http: NewHTTPFetcher(opts),
		ftp:  NewFTPFetcher(FTPOptions{Timeout: opts.Timeout}),
	}
}

// Fetch downloads the source at rawURL using the fetcher matching its scheme.
func (c *Client) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: parse url %s", rawURL)
	}
	switch u.Scheme {
	case "http", "https":
		return c.http.Fetch(ctx, rawURL)
	case "ftp":
		return c.ftp.Fetch(ctx, rawURL)
	default:
		return nil, eris.Errorf("fetcher: unsupported scheme %q in %s", u.Scheme, rawURL)
	}
}
