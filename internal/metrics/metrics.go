// Package metrics tracks operation latency quantiles with DDSketch.
package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"
)

// DefaultRelativeAccuracy bounds quantile estimate error at 1%.
const DefaultRelativeAccuracy = 0.01

// Tracker records operation latencies into per-operation sketches.
// Observations are stored in milliseconds. Safe for concurrent use.
type Tracker struct {
	mu       sync.Mutex
	sketches map[string]*ddsketch.DDSketch
	accuracy float64
}

// New creates a tracker with the given relative accuracy
// (e.g. 0.01 for 1%).
func New(relativeAccuracy float64) *Tracker {
	return &Tracker{
		sketches: make(map[string]*ddsketch.DDSketch),
		accuracy: relativeAccuracy,
	}
}

// Record adds one observation for the operation.
func (t *Tracker) Record(operation string, d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	sketch, ok := t.sketches[operation]
	if !ok {
		var err error
		sketch, err = ddsketch.LogUnboundedDenseDDSketch(t.accuracy)
		if err != nil {
			sketch, _ = ddsketch.NewDefaultDDSketch(t.accuracy)
		}
		t.sketches[operation] = sketch
	}
	sketch.Add(float64(d.Microseconds()) / 1000.0)
}

// Stats summarizes one operation's latencies. All values are
// milliseconds.
type Stats struct {
	Operation string
	Count     int64
	Min       float64
	P50       float64
	P90       float64
	P95       float64
	P99       float64
	Max       float64
}

func (s Stats) String() string {
	if s.Count == 0 {
		return fmt.Sprintf("%s: no data", s.Operation)
	}
	return fmt.Sprintf("%s (n=%d): min=%.2fms p50=%.2fms p90=%.2fms p95=%.2fms p99=%.2fms max=%.2fms",
		s.Operation, s.Count, s.Min, s.P50, s.P90, s.P95, s.P99, s.Max)
}

// Stats returns the summary for one operation. The second return is
// false when nothing was recorded for it.
func (t *Tracker) Stats(operation string) (Stats, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	sketch, ok := t.sketches[operation]
	if !ok {
		return Stats{}, false
	}
	return statsFrom(operation, sketch), true
}

// AllStats returns summaries for every tracked operation, sorted by
// operation name. The snapshot is taken under one lock hold so callers
// can log it without touching the tracker again.
func (t *Tracker) AllStats() []Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Stats, 0, len(t.sketches))
	for op, sketch := range t.sketches {
		out = append(out, statsFrom(op, sketch))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Operation < out[j].Operation })
	return out
}

func statsFrom(operation string, sketch *ddsketch.DDSketch) Stats {
	count := sketch.GetCount()
	if count == 0 {
		return Stats{Operation: operation}
	}
	min, _ := sketch.GetMinValue()
	p50, _ := sketch.GetValueAtQuantile(0.50)
	p90, _ := sketch.GetValueAtQuantile(0.90)
	p95, _ := sketch.GetValueAtQuantile(0.95)
	p99, _ := sketch.GetValueAtQuantile(0.99)
	max, _ := sketch.GetMaxValue()

	return Stats{
		Operation: operation,
		Count:     int64(count),
		Min:       min,
		P50:       p50,
		P90:       p90,
		P95:       p95,
		P99:       p99,
		Max:       max,
	}
}

// StartReporter logs a per-operation latency summary at the given
// interval until ctx ends. Each extra runs on the same tick after the
// summary; callers use extras to report adjacent stats (cache contents)
// on the same cadence. No tracker lock is held while logging.
func (t *Tracker) StartReporter(ctx context.Context, logger *slog.Logger, interval time.Duration, extras ...func()) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, s := range t.AllStats() {
					logger.Info("latency summary",
						"operation", s.Operation,
						"count", s.Count,
						"min_ms", s.Min,
						"p50_ms", s.P50,
						"p90_ms", s.P90,
						"p99_ms", s.P99,
						"max_ms", s.Max)
				}
				for _, extra := range extras {
					extra()
				}
			}
		}
	}()
}
