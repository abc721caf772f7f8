package scraper

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/hirewire/hirewire/errors"
)

const (
	defaultFetchTimeout = 30 * time.Second
	fetchUserAgent      = "hirewire-scraper/1.0"

	// maxFetchBody bounds a single response so a misbehaving source
	// cannot exhaust memory.
	maxFetchBody = 8 << 20
)

// HTTPFetcher retrieves postings from targets that publish them as a
// JSON array.
type HTTPFetcher struct {
	client *http.Client
}

func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	return &HTTPFetcher{client: &http.Client{Timeout: timeout}}
}

// Fetch implements Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]Posting, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to build request for %s", url)
	}
	req.Header.Set("User-Agent", fetchUserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "request to %s failed", url)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf("unexpected status %d from %s", resp.StatusCode, url)
	}

	var postings []Posting
	decoder := json.NewDecoder(http.MaxBytesReader(nil, resp.Body, maxFetchBody))
	if err := decoder.Decode(&postings); err != nil {
		return nil, errors.Wrapf(err, "failed to decode postings from %s", url)
	}
	return postings, nil
}
