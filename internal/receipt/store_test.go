package receipt

import (
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/zakyafrilliansyah/RequestTap-Router/internal/reason"
)

func stamped(toolID string, outcome Outcome, ts time.Time) *Receipt {
	r := New("GET", "/api/v1/"+toolID)
	r.ToolID = toolID
	r.Outcome = outcome
	r.Timestamp = ts
	return r
}

func TestNewDefaults(t *testing.T) {
	r := New("GET", "/api/v1/quote")
	require.NotEmpty(t, r.RequestID)
	require.Equal(t, "SKIPPED", r.MandateVerdict)
	require.Equal(t, reason.CodeOK, r.ReasonCode)
	require.Equal(t, OutcomeSuccess, r.Outcome)
	require.Nil(t, r.PaymentTxHash)
}

func TestEncodeHeaderRoundTrip(t *testing.T) {
	r := New("GET", "/api/v1/quote")
	r.ToolID = "quote"
	r.PriceUSDC = decimal.RequireFromString("0.01")
	r.SetTxHash("0xfeed")
	r.SetLatency(125 * time.Millisecond)

	encoded, err := r.EncodeHeader()
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Equal(t, "quote", decoded["tool_id"])
	require.Equal(t, "0xfeed", decoded["payment_tx_hash"])
	require.Equal(t, float64(125), decoded["latency_ms"])
	require.Equal(t, "OK", decoded["reason_code"])
}

func TestNullTxHashSerialized(t *testing.T) {
	r := New("GET", "/api/v1/quote")
	raw, err := json.Marshal(r)
	require.NoError(t, err)
	require.Contains(t, string(raw), `"payment_tx_hash":null`)

	r.SetTxHash("")
	raw, err = json.Marshal(r)
	require.NoError(t, err)
	require.Contains(t, string(raw), `"payment_tx_hash":null`)
}

func TestListNewestFirst(t *testing.T) {
	s := NewStore(100)
	base := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)

	s.Append(stamped("quote", OutcomeSuccess, base))
	s.Append(stamped("quote", OutcomeSuccess, base.Add(2*time.Minute)))
	s.Append(stamped("quote", OutcomeSuccess, base.Add(time.Minute)))

	out := s.List(Query{})
	require.Len(t, out, 3)
	require.True(t, out[0].Timestamp.After(out[1].Timestamp))
	require.True(t, out[1].Timestamp.After(out[2].Timestamp))
}

func TestListFilters(t *testing.T) {
	s := NewStore(100)
	now := time.Now()
	s.Append(stamped("quote", OutcomeSuccess, now))
	s.Append(stamped("quote", OutcomeDenied, now))
	s.Append(stamped("orders", OutcomeSuccess, now))

	require.Len(t, s.List(Query{ToolID: "quote"}), 2)
	require.Len(t, s.List(Query{Outcome: OutcomeDenied}), 1)
	require.Len(t, s.List(Query{ToolID: "quote", Outcome: OutcomeSuccess}), 1)
	require.Len(t, s.List(Query{Limit: 2}), 2)
}

func TestCapacityBounded(t *testing.T) {
	s := NewStore(3)
	base := time.Now()
	for i := 0; i < 5; i++ {
		s.Append(stamped("quote", OutcomeSuccess, base.Add(time.Duration(i)*time.Second)))
	}
	require.Equal(t, 3, s.Len())

	// Oldest two were discarded.
	out := s.List(Query{})
	require.Equal(t, base.Add(4*time.Second).Unix(), out[0].Timestamp.Unix())
	require.Equal(t, base.Add(2*time.Second).Unix(), out[2].Timestamp.Unix())
}

func TestClear(t *testing.T) {
	s := NewStore(100)
	s.Append(stamped("quote", OutcomeSuccess, time.Now()))
	s.Append(stamped("quote", OutcomeDenied, time.Now()))
	require.Equal(t, 2, s.Clear())
	require.Equal(t, 0, s.Len())
}

func TestStats(t *testing.T) {
	s := NewStore(100)
	now := time.Now()

	ok1 := stamped("quote", OutcomeSuccess, now)
	ok1.PriceUSDC = decimal.RequireFromString("0.01")
	ok1.SetLatency(100 * time.Millisecond)
	ok2 := stamped("quote", OutcomeSuccess, now)
	ok2.PriceUSDC = decimal.RequireFromString("0.04")
	ok2.SetLatency(300 * time.Millisecond)
	denied := stamped("quote", OutcomeDenied, now)
	errored := stamped("quote", OutcomeError, now)

	for _, r := range []*Receipt{ok1, ok2, denied, errored} {
		s.Append(r)
	}

	stats := s.Stats()
	require.Equal(t, 4, stats.Total)
	require.Equal(t, 2, stats.Succeeded)
	require.Equal(t, 1, stats.Denied)
	require.Equal(t, 1, stats.Errored)
	require.InDelta(t, 0.5, stats.SuccessRate, 1e-9)
	require.True(t, stats.TotalUSDC.Equal(decimal.RequireFromString("0.05")))
	require.InDelta(t, 200, stats.AvgLatencyMS, 1e-9)

	// Denied receipts contribute no spend.
	require.False(t, stats.TotalUSDC.Equal(decimal.RequireFromString("0.06")))
}
