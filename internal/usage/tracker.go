// Package usage implements the bounded, cost-attributing API-call tracker.
// Cost attribution here is advisory — the authoritative billing source is
// the worker's UsageInfo payload attached to each turn response; this
// tracker exists for operator-facing dashboards and quota warnings.
package usage

import (
	"fmt"
	"sync"
	"time"
)

// Record is one tracked API call.
type Record struct {
	ID           string
	Timestamp    time.Time
	Provider     string
	Model        string
	SessionID    string
	InputTokens  int64
	OutputTokens int64
	TotalTokens  int64
	Cost         float64
	LatencyMs    int64
	Success      bool
	ErrorCode    string
}

// ProviderStats aggregates one provider's calls within a query window.
type ProviderStats struct {
	Calls         int64
	Tokens        int64
	Cost          float64
	MeanLatencyMs float64
}

// Stats is the aggregate result of a Stats() query.
type Stats struct {
	TotalCalls    int64
	SuccessCalls  int64
	FailureCalls  int64
	TotalCost     float64
	MeanLatencyMs float64
	ByProvider    map[string]*ProviderStats
}

// TimeRange bounds a Stats query; both ends are inclusive. A zero value on
// either side means unbounded on that side.
type TimeRange struct {
	From time.Time
	To   time.Time
}

func (tr TimeRange) includes(t time.Time) bool {
	if !tr.From.IsZero() && t.Before(tr.From) {
		return false
	}
	if !tr.To.IsZero() && t.After(tr.To) {
		return false
	}
	return true
}

// Tracker is a bounded FIFO of Records, capped at maxRecords; the oldest
// records are discarded once the cap is reached (slice-keep-last), matching
// §4.3.
type Tracker struct {
	mu         sync.RWMutex
	records    []Record
	maxRecords int
	nextID     int64
	idPrefix   string
}

// New returns a Tracker bounded at maxRecords (default 10000 if <= 0).
func New(maxRecords int) *Tracker {
	if maxRecords <= 0 {
		maxRecords = 10000
	}
	return &Tracker{maxRecords: maxRecords}
}

// RecordInput is what callers supply; Record (with ID, Timestamp, cost) is
// what gets stored.
type RecordInput struct {
	Provider     string
	Model        string
	SessionID    string
	InputTokens  int64
	OutputTokens int64
	LatencyMs    int64
	Success      bool
	ErrorCode    string
}

// Insert computes cost from the pricing table and appends a Record,
// evicting the oldest entry first if the tracker is at capacity.
func (t *Tracker) Insert(in RecordInput) Record {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.nextID++
	rec := Record{
		ID:           formatID(t.nextID),
		Timestamp:    time.Now(),
		Provider:     in.Provider,
		Model:        in.Model,
		SessionID:    in.SessionID,
		InputTokens:  in.InputTokens,
		OutputTokens: in.OutputTokens,
		TotalTokens:  in.InputTokens + in.OutputTokens,
		Cost:         cost(in.Model, in.InputTokens, in.OutputTokens),
		LatencyMs:    in.LatencyMs,
		Success:      in.Success,
		ErrorCode:    in.ErrorCode,
	}

	if len(t.records) >= t.maxRecords {
		// slice-keep-last: drop the oldest record to make room.
		t.records = append(t.records[1:], rec)
	} else {
		t.records = append(t.records, rec)
	}
	return rec
}

// Stats aggregates totals, success/failure counts, mean latency, and
// per-provider buckets over an optional time range. An empty store (or a
// range matching nothing) yields the zero Stats with a non-nil ByProvider.
func (t *Tracker) Stats(tr *TimeRange) Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := Stats{ByProvider: make(map[string]*ProviderStats)}
	var totalLatency int64

	for _, rec := range t.records {
		if tr != nil && !tr.includes(rec.Timestamp) {
			continue
		}
		out.TotalCalls++
		if rec.Success {
			out.SuccessCalls++
		} else {
			out.FailureCalls++
		}
		out.TotalCost += rec.Cost
		totalLatency += rec.LatencyMs

		p, ok := out.ByProvider[rec.Provider]
		if !ok {
			p = &ProviderStats{}
			out.ByProvider[rec.Provider] = p
		}
		p.Calls++
		p.Tokens += rec.TotalTokens
		p.Cost += rec.Cost
		p.MeanLatencyMs = ((p.MeanLatencyMs * float64(p.Calls-1)) + float64(rec.LatencyMs)) / float64(p.Calls)
	}

	if out.TotalCalls > 0 {
		out.MeanLatencyMs = float64(totalLatency) / float64(out.TotalCalls)
	}
	return out
}

// Records returns a defensive copy of all tracked records, oldest first.
func (t *Tracker) Records() []Record {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Record, len(t.records))
	copy(out, t.records)
	return out
}

func formatID(n int64) string {
	return fmt.Sprintf("usage-%d", n)
}
