package pipeline

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aluiziolira/go-scrape-gallery/models"
)

// Aggregator accumulates extraction outcomes in append order. Links are never
// deduplicated; repeats are only counted.
type Aggregator struct {
	mu         sync.Mutex
	rows       []models.Row
	failures   []models.ExtractionFailure
	seen       *lru.Cache[string, int]
	duplicates int
}

// NewAggregator builds an aggregator that remembers up to seenSize links for
// repeat counting.
func NewAggregator(seenSize int) *Aggregator {
	if seenSize <= 0 {
		seenSize = 1
	}
	seen, _ := lru.New[string, int](seenSize)
	return &Aggregator{seen: seen}
}

// RecordSuccess appends a record with its provenance.
func (a *Aggregator) RecordSuccess(topic string, pageIndex int, record *models.ImageRecord) {
	if record == nil {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.rows = append(a.rows, models.Row{
		SearchTopic: topic,
		PageNum:     pageIndex,
		ImageRecord: *record,
	})
	if count, ok := a.seen.Get(record.ImagePage); ok {
		a.duplicates++
		a.seen.Add(record.ImagePage, count+1)
		return
	}
	a.seen.Add(record.ImagePage, 1)
}

// RecordFailure appends a failed link.
func (a *Aggregator) RecordFailure(failure models.ExtractionFailure) {
	a.mu.Lock()
	a.failures = append(a.failures, failure)
	a.mu.Unlock()
}

// Rows returns a copy of the successful rows.
func (a *Aggregator) Rows() []models.Row {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]models.Row, len(a.rows))
	copy(out, a.rows)
	return out
}

// Failures returns a copy of the failed links.
func (a *Aggregator) Failures() []models.ExtractionFailure {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]models.ExtractionFailure, len(a.failures))
	copy(out, a.failures)
	return out
}

// Counts reports the number of rows, failures and repeated links so far.
func (a *Aggregator) Counts() (rows, failures, duplicates int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.rows), len(a.failures), a.duplicates
}
