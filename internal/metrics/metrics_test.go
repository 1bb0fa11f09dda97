package metrics

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestRecordAndStats(t *testing.T) {
	tr := New(DefaultRelativeAccuracy)
	for i := 0; i < 100; i++ {
		tr.Record("klaviyo.request", 10*time.Millisecond)
	}

	s, ok := tr.Stats("klaviyo.request")
	if !ok {
		t.Fatal("Stats = not found for recorded operation")
	}
	if s.Count != 100 {
		t.Errorf("Count = %d, want 100", s.Count)
	}
	if s.P50 < 9.5 || s.P50 > 10.5 {
		t.Errorf("P50 = %.3fms, want ~10ms", s.P50)
	}
	if s.Min < 9.5 || s.Max > 10.5 {
		t.Errorf("Min/Max = %.3f/%.3f, want ~10ms", s.Min, s.Max)
	}
}

func TestStatsSpread(t *testing.T) {
	tr := New(DefaultRelativeAccuracy)
	tr.Record("op", 1*time.Millisecond)
	tr.Record("op", 100*time.Millisecond)

	s, ok := tr.Stats("op")
	if !ok {
		t.Fatal("Stats = not found")
	}
	if s.Min > s.Max {
		t.Errorf("Min %.3f > Max %.3f", s.Min, s.Max)
	}
	if s.Max < 90 {
		t.Errorf("Max = %.3fms, want ~100ms", s.Max)
	}
}

func TestStatsUnknownOperation(t *testing.T) {
	tr := New(DefaultRelativeAccuracy)
	if _, ok := tr.Stats("never-recorded"); ok {
		t.Error("Stats = found for unrecorded operation")
	}
}

func TestAllStatsSorted(t *testing.T) {
	tr := New(DefaultRelativeAccuracy)
	tr.Record("tools.list_profiles", time.Millisecond)
	tr.Record("klaviyo.request", time.Millisecond)

	all := tr.AllStats()
	if len(all) != 2 {
		t.Fatalf("AllStats len = %d, want 2", len(all))
	}
	if all[0].Operation != "klaviyo.request" || all[1].Operation != "tools.list_profiles" {
		t.Errorf("AllStats order = %s, %s; want sorted", all[0].Operation, all[1].Operation)
	}
}

func TestStatsString(t *testing.T) {
	s := Stats{Operation: "op", Count: 3, Min: 1, P50: 2, P90: 3, P95: 3, P99: 3, Max: 3}
	got := s.String()
	if !strings.Contains(got, "op") || !strings.Contains(got, "n=3") {
		t.Errorf("String() = %q, want operation and count", got)
	}

	empty := Stats{Operation: "op"}
	if got := empty.String(); !strings.Contains(got, "no data") {
		t.Errorf("String() = %q, want no-data marker", got)
	}
}

func TestReporterInvokesExtras(t *testing.T) {
	tr := New(DefaultRelativeAccuracy)
	tr.Record("op", time.Millisecond)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var ticks atomic.Int32
	tr.StartReporter(ctx, logger, 10*time.Millisecond, func() { ticks.Add(1) })

	deadline := time.Now().Add(2 * time.Second)
	for ticks.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if ticks.Load() == 0 {
		t.Fatal("reporter never invoked extra within deadline")
	}
}

func TestReporterZeroIntervalIsNoop(t *testing.T) {
	tr := New(DefaultRelativeAccuracy)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tr.StartReporter(context.Background(), logger, 0)
}
