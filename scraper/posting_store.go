package scraper

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/hirewire/hirewire/errors"
)

// PostingStore persists scraped postings in sqlite. It implements
// PostingSink; the normalized-key UNIQUE constraint backstops the
// in-memory dedup index across restarts.
type PostingStore struct {
	db *sql.DB
}

func NewPostingStore(db *sql.DB) *PostingStore {
	return &PostingStore{db: db}
}

// Insert stores a posting. A normalized-key collision is silently
// ignored: the index usually catches duplicates first, the constraint
// covers records written before this process started.
func (s *PostingStore) Insert(ctx context.Context, posting Posting) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO postings (id, title, company, location, url, source_id, normalized_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(normalized_key) DO NOTHING`,
		uuid.NewString(),
		posting.Title,
		posting.Company,
		posting.Location,
		posting.URL,
		posting.SourceID,
		NormalizeKey(posting.Title, posting.Company),
		time.Now().UTC(),
	)
	if err != nil {
		return errors.Wrap(err, "failed to insert posting")
	}
	return nil
}

// SeedIndex loads every stored normalized key into the dedup index so
// duplicate suppression survives restarts. Returns the number of keys
// loaded.
func (s *PostingStore) SeedIndex(ctx context.Context, index *DedupIndex) (int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT normalized_key FROM postings`)
	if err != nil {
		return 0, errors.Wrap(err, "failed to load posting keys")
	}
	defer rows.Close()

	loaded := 0
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return loaded, errors.Wrap(err, "failed to scan posting key")
		}
		if index.Remember(key) {
			loaded++
		}
	}
	return loaded, errors.Wrap(rows.Err(), "failed to iterate posting keys")
}

// Count returns the number of stored postings, optionally for one source.
func (s *PostingStore) Count(ctx context.Context, sourceID string) (int, error) {
	query := `SELECT COUNT(*) FROM postings`
	args := []interface{}{}
	if sourceID != "" {
		query += ` WHERE source_id = ?`
		args = append(args, sourceID)
	}

	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, errors.Wrap(err, "failed to count postings")
	}
	return count, nil
}
