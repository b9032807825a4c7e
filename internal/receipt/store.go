package receipt

import (
	"sort"
	"sync"

	"github.com/shopspring/decimal"
)

// Query filters receipt listings. Zero values mean "any".
type Query struct {
	ToolID  string
	Outcome Outcome
	Limit   int
}

// Stats aggregates the stored receipts on demand.
type Stats struct {
	Total        int             `json:"total"`
	Succeeded    int             `json:"succeeded"`
	Denied       int             `json:"denied"`
	Errored      int             `json:"errored"`
	SuccessRate  float64         `json:"success_rate"`
	TotalUSDC    decimal.Decimal `json:"total_usdc"`
	AvgLatencyMS float64         `json:"avg_latency_ms"`
}

// Store is an append-only in-memory receipt log with a bounded capacity:
// once full, the oldest receipts are discarded.
type Store struct {
	mu       sync.Mutex
	receipts []*Receipt
	capacity int
}

// NewStore builds a store holding at most capacity receipts.
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = 10000
	}
	return &Store{capacity: capacity}
}

// Append adds a receipt to the log.
func (s *Store) Append(r *Receipt) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.receipts = append(s.receipts, r)
	if len(s.receipts) > s.capacity {
		overflow := len(s.receipts) - s.capacity
		s.receipts = append([]*Receipt(nil), s.receipts[overflow:]...)
	}
}

// List returns matching receipts, newest first by timestamp. The result
// is copied out before the lock is released.
func (s *Store) List(q Query) []*Receipt {
	s.mu.Lock()
	matched := make([]*Receipt, 0, len(s.receipts))
	for _, r := range s.receipts {
		if q.ToolID != "" && r.ToolID != q.ToolID {
			continue
		}
		if q.Outcome != "" && r.Outcome != q.Outcome {
			continue
		}
		matched = append(matched, r)
	}
	s.mu.Unlock()

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	return matched
}

// Len reports the stored receipt count.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.receipts)
}

// Clear discards all receipts and reports how many were dropped.
func (s *Store) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.receipts)
	s.receipts = nil
	return n
}

// Stats derives aggregate counters from the current log.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := Stats{TotalUSDC: decimal.Zero}
	var latencySum int64
	var latencyCount int

	for _, r := range s.receipts {
		stats.Total++
		switch r.Outcome {
		case OutcomeSuccess:
			stats.Succeeded++
			stats.TotalUSDC = stats.TotalUSDC.Add(r.PriceUSDC)
		case OutcomeDenied:
			stats.Denied++
		case OutcomeError:
			stats.Errored++
		}
		if r.LatencyMS != nil {
			latencySum += *r.LatencyMS
			latencyCount++
		}
	}

	if stats.Total > 0 {
		stats.SuccessRate = float64(stats.Succeeded) / float64(stats.Total)
	}
	if latencyCount > 0 {
		stats.AvgLatencyMS = float64(latencySum) / float64(latencyCount)
	}
	return stats
}
