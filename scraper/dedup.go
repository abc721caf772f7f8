package scraper

import (
	"strings"
	"sync"
)

// NormalizeKey builds the duplicate-suppression key for a scraped posting:
// lower-cased, whitespace-collapsed "title|company". Substring matching is
// deliberately not used; two postings collide only on an exact normalized
// key.
func NormalizeKey(title, company string) string {
	return collapse(title) + "|" + collapse(company)
}

func collapse(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// DedupIndex is an in-memory set of normalized posting keys.
// Thread-safe; shared across concurrent fetch handler invocations.
type DedupIndex struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewDedupIndex creates an empty index.
func NewDedupIndex() *DedupIndex {
	return &DedupIndex{seen: make(map[string]struct{})}
}

// Remember records the key and reports whether it was new. The check and
// insert are one atomic step so two concurrent handlers cannot both treat
// the same posting as new.
func (d *DedupIndex) Remember(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.seen[key]; exists {
		return false
	}
	d.seen[key] = struct{}{}
	return true
}

// Has reports whether the key is already indexed.
func (d *DedupIndex) Has(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, exists := d.seen[key]
	return exists
}

// Len returns the number of indexed keys.
func (d *DedupIndex) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
