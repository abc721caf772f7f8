package scraper

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/hirewire/hirewire/errors"
	"github.com/hirewire/hirewire/queue"
)

// Posting is one scraped job listing.
type Posting struct {
	Title    string `json:"title"`
	Company  string `json:"company"`
	Location string `json:"location,omitempty"`
	URL      string `json:"url,omitempty"`
	SourceID string `json:"source_id"`
}

// Fetcher retrieves postings from a scrape target. Implementations own the
// transport (HTTP client, parser); the handler owns dedup and bookkeeping.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]Posting, error)
}

// PostingSink receives deduplicated postings for domain storage.
type PostingSink interface {
	Insert(ctx context.Context, posting Posting) error
}

// fetchResult is the result payload recorded on a completed scrape job.
type fetchResult struct {
	Fetched    int `json:"fetched"`
	Inserted   int `json:"inserted"`
	Duplicates int `json:"duplicates"`
}

// FetchHandler executes scrape-source job records: fetch the target,
// suppress duplicates on the normalized key, and hand new postings to the
// sink. Safe for concurrent invocation across distinct records.
type FetchHandler struct {
	fetcher Fetcher
	sink    PostingSink
	dedup   *DedupIndex
	logger  *zap.SugaredLogger
}

// NewFetchHandler creates the handler for scrape-source jobs.
func NewFetchHandler(fetcher Fetcher, sink PostingSink, dedup *DedupIndex, logger *zap.SugaredLogger) *FetchHandler {
	return &FetchHandler{
		fetcher: fetcher,
		sink:    sink,
		dedup:   dedup,
		logger:  logger.Named("fetch"),
	}
}

// Type implements worker.Handler.
func (h *FetchHandler) Type() string { return JobTypeScrapeSource }

// Execute implements worker.Handler.
func (h *FetchHandler) Execute(ctx context.Context, job *queue.JobRecord) (string, error) {
	var payload ScrapePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return "", errors.Wrap(err, "failed to decode scrape payload")
	}
	if payload.URL == "" {
		return "", errors.NewValidation("scrape payload missing url")
	}

	postings, err := h.fetcher.Fetch(ctx, payload.URL)
	if err != nil {
		return "", errors.Wrapf(err, "failed to fetch %s", payload.URL)
	}

	res := fetchResult{Fetched: len(postings)}
	for _, posting := range postings {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		if !h.dedup.Remember(NormalizeKey(posting.Title, posting.Company)) {
			res.Duplicates++
			continue
		}
		if posting.SourceID == "" {
			posting.SourceID = payload.SourceID
		}
		if err := h.sink.Insert(ctx, posting); err != nil {
			return "", errors.Wrapf(err, "failed to store posting %q", posting.Title)
		}
		res.Inserted++
	}

	h.logger.Debugw("Scrape target processed",
		"url", payload.URL,
		"fetched", res.Fetched,
		"inserted", res.Inserted,
		"duplicates", res.Duplicates,
	)

	out, err := json.Marshal(res)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal fetch result")
	}
	return string(out), nil
}
