// Package spend tracks per-mandate USD spending against daily budgets.
// Budget enforcement is check-and-add under a lock: two concurrent
// requests can never both fit under a cap that only one fits under.
package spend

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Totals is a point-in-time view of one mandate's spending.
type Totals struct {
	MandateID string          `json:"mandate_id"`
	Day       string          `json:"day"`
	DaySpend  decimal.Decimal `json:"day_spend"`
	Lifetime  decimal.Decimal `json:"lifetime_spend"`
	Requests  int64           `json:"requests"`
}

type counter struct {
	day      string
	daySpend decimal.Decimal
	lifetime decimal.Decimal
	requests int64
}

// Tracker accumulates settled spend per mandate id. Daily counters reset
// at the UTC day boundary; lifetime counters never reset.
type Tracker struct {
	mu       sync.Mutex
	counters map[string]*counter
	now      func() time.Time
}

// NewTracker builds an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		counters: make(map[string]*counter),
		now:      time.Now,
	}
}

func (t *Tracker) dayKey() string {
	return t.now().UTC().Format("2006-01-02")
}

// counterFor returns the mandate's counter, rolling the daily window if
// the UTC day has changed. Caller must hold t.mu.
func (t *Tracker) counterFor(mandateID string) *counter {
	day := t.dayKey()
	c, ok := t.counters[mandateID]
	if !ok {
		c = &counter{day: day}
		t.counters[mandateID] = c
	}
	if c.day != day {
		c.day = day
		c.daySpend = decimal.Zero
	}
	return c
}

// RecordIfUnder atomically checks that the mandate's spend for the
// current UTC day plus amount stays within cap, and records the amount
// when it does. Returns false without recording when the cap would be
// exceeded.
func (t *Tracker) RecordIfUnder(mandateID string, amount, cap decimal.Decimal) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	c := t.counterFor(mandateID)
	if c.daySpend.Add(amount).GreaterThan(cap) {
		return false
	}
	c.daySpend = c.daySpend.Add(amount)
	c.lifetime = c.lifetime.Add(amount)
	c.requests++
	return true
}

// Record adds settled spend without a cap check, for requests paid
// directly via x402 with no mandate budget attached.
func (t *Tracker) Record(mandateID string, amount decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()

	c := t.counterFor(mandateID)
	c.daySpend = c.daySpend.Add(amount)
	c.lifetime = c.lifetime.Add(amount)
	c.requests++
}

// Totals returns the mandate's current counters. Unknown mandates yield
// zeroed totals for the current day.
func (t *Tracker) Totals(mandateID string) Totals {
	t.mu.Lock()
	defer t.mu.Unlock()

	c := t.counterFor(mandateID)
	return Totals{
		MandateID: mandateID,
		Day:       c.day,
		DaySpend:  c.daySpend,
		Lifetime:  c.lifetime,
		Requests:  c.requests,
	}
}
