// Package scraper provides the scraping rate scheduler: rate-limited
// per-source timers that generate scrape targets and enqueue them through
// the job queue, plus the fetch handler that executes them.
package scraper

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/hirewire/hirewire/errors"
)

// JobTypeScrapeSource is the job type enqueued by the scheduler and served
// by the fetch handler.
const JobTypeScrapeSource = "scrape-source"

// ScrapeSource is a rate-limited external-data origin.
// At most one active timer drives a given source at a time, keyed by id.
type ScrapeSource struct {
	ID                string     `json:"id"`
	Name              string     `json:"name"`
	BaseURL           string     `json:"base_url"`
	IsActive          bool       `json:"is_active"`
	RateLimit         int        `json:"rate_limit"` // requests per rolling 60s window
	Config            string     `json:"config,omitempty"`
	LastScraped       *time.Time `json:"last_scraped,omitempty"`
	TotalJobsProduced int        `json:"total_jobs_produced"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// sourceConfig is the parsed shape of ScrapeSource.Config.
type sourceConfig struct {
	Paths []string `json:"paths,omitempty"` // appended to BaseURL per target
}

// Targets derives the bounded list of scrape target URLs for one tick.
// With no configured paths, the base URL itself is the single target.
func (s *ScrapeSource) Targets(max int) []string {
	var cfg sourceConfig
	if s.Config != "" {
		// Malformed config degrades to the base URL rather than silencing
		// the source entirely.
		_ = json.Unmarshal([]byte(s.Config), &cfg)
	}

	if len(cfg.Paths) == 0 {
		return []string{s.BaseURL}
	}

	if max > 0 && len(cfg.Paths) > max {
		cfg.Paths = cfg.Paths[:max]
	}
	targets := make([]string, 0, len(cfg.Paths))
	for _, path := range cfg.Paths {
		targets = append(targets, s.BaseURL+path)
	}
	return targets
}

const sourceSelectColumns = `id, name, base_url, is_active, rate_limit, config,
	last_scraped, total_jobs_produced, created_at, updated_at`

// SourceStore persists scrape sources in SQLite.
type SourceStore struct {
	db *sql.DB
}

// NewSourceStore creates a scrape source store on the given database.
func NewSourceStore(db *sql.DB) *SourceStore {
	return &SourceStore{db: db}
}

func (s *SourceStore) Create(ctx context.Context, source *ScrapeSource) error {
	query := `
		INSERT INTO scrape_sources (
			id, name, base_url, is_active, rate_limit, config,
			total_jobs_produced, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		source.ID,
		source.Name,
		source.BaseURL,
		source.IsActive,
		source.RateLimit,
		sql.NullString{String: source.Config, Valid: source.Config != ""},
		source.TotalJobsProduced,
		source.CreatedAt,
		source.UpdatedAt,
	)
	if err != nil {
		err = errors.Wrap(err, "failed to create scrape source")
		err = errors.WithDetailf(err, "Source: %s", source.Name)
		return err
	}
	return nil
}

func (s *SourceStore) Get(ctx context.Context, id string) (*ScrapeSource, error) {
	query := `SELECT ` + sourceSelectColumns + ` FROM scrape_sources WHERE id = ?`

	source, err := scanSource(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFound("scrape source %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get scrape source")
	}
	return source, nil
}

// List returns sources, optionally restricted to active ones.
func (s *SourceStore) List(ctx context.Context, activeOnly bool) ([]*ScrapeSource, error) {
	query := `SELECT ` + sourceSelectColumns + ` FROM scrape_sources`
	if activeOnly {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY name ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list scrape sources")
	}
	defer rows.Close()

	var sources []*ScrapeSource
	for rows.Next() {
		source, err := scanSource(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan scrape source")
		}
		sources = append(sources, source)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating scrape sources")
	}
	return sources, nil
}

func (s *SourceStore) Update(ctx context.Context, source *ScrapeSource) error {
	query := `
		UPDATE scrape_sources
		SET name = ?, base_url = ?, is_active = ?, rate_limit = ?,
		    config = ?, updated_at = ?
		WHERE id = ?
	`
	res, err := s.db.ExecContext(ctx, query,
		source.Name,
		source.BaseURL,
		source.IsActive,
		source.RateLimit,
		sql.NullString{String: source.Config, Valid: source.Config != ""},
		source.UpdatedAt,
		source.ID,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update scrape source")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if n == 0 {
		return errors.NewNotFound("scrape source %s", source.ID)
	}
	return nil
}

// RecordScrape bumps lastScraped and the produced-jobs counter after a tick.
func (s *SourceStore) RecordScrape(ctx context.Context, id string, produced int, at time.Time) error {
	query := `
		UPDATE scrape_sources
		SET last_scraped = ?, total_jobs_produced = total_jobs_produced + ?,
		    updated_at = ?
		WHERE id = ?
	`
	_, err := s.db.ExecContext(ctx, query, at, produced, at, id)
	if err != nil {
		return errors.Wrap(err, "failed to record scrape")
	}
	return nil
}

func (s *SourceStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scrape_sources WHERE id = ?`, id)
	if err != nil {
		return errors.Wrap(err, "failed to delete scrape source")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if n == 0 {
		return errors.NewNotFound("scrape source %s", id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSource(r rowScanner) (*ScrapeSource, error) {
	var source ScrapeSource
	var config sql.NullString
	var lastScraped sql.NullTime

	err := r.Scan(
		&source.ID,
		&source.Name,
		&source.BaseURL,
		&source.IsActive,
		&source.RateLimit,
		&config,
		&lastScraped,
		&source.TotalJobsProduced,
		&source.CreatedAt,
		&source.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	source.Config = config.String
	if lastScraped.Valid {
		t := lastScraped.Time
		source.LastScraped = &t
	}
	return &source, nil
}
