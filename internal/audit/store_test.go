package audit

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func testStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "audit_test.db")
	s, err := NewStore(dbPath, discardLogger)
	if err != nil {
		t.Fatalf("NewStore(%q): %v", dbPath, err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordToolCallAndRecent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	calls := []Record{
		{Time: base, Tool: "list_profiles", CorrelationID: "c1", Duration: 120 * time.Millisecond, OK: true},
		{Time: base.Add(time.Second), Tool: "get_campaign", CorrelationID: "c2", Duration: 340 * time.Millisecond, OK: false, ErrorText: "campaign not found"},
		{Time: base.Add(2 * time.Second), Tool: "send_campaign", CorrelationID: "c3", Duration: 80 * time.Millisecond, OK: true},
	}
	for _, rec := range calls {
		s.RecordToolCall(ctx, rec)
	}

	got, err := s.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Recent returned %d records, want 2", len(got))
	}
	if got[0].Tool != "send_campaign" || got[1].Tool != "get_campaign" {
		t.Errorf("order = %s, %s; want newest first", got[0].Tool, got[1].Tool)
	}
	if got[0].ID == "" {
		t.Error("record has no generated ID")
	}
	if got[1].Duration != 340*time.Millisecond {
		t.Errorf("duration = %v, want 340ms", got[1].Duration)
	}
	if got[1].OK || !got[0].OK {
		t.Errorf("ok flags = %v, %v; want false, true", got[1].OK, got[0].OK)
	}
	if got[1].ErrorText != "campaign not found" {
		t.Errorf("error text = %q", got[1].ErrorText)
	}
	if !got[0].Time.Equal(base.Add(2 * time.Second)) {
		t.Errorf("time = %v, want %v", got[0].Time, base.Add(2*time.Second))
	}
}

func TestRecentEmpty(t *testing.T) {
	s := testStore(t)

	got, err := s.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Recent returned %d records, want 0", len(got))
	}
}

func TestErrorTextTruncated(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	s.RecordToolCall(ctx, Record{
		Tool:      "create_event",
		OK:        false,
		ErrorText: strings.Repeat("x", 1000),
	})

	got, err := s.Recent(ctx, 1)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Recent returned %d records, want 1", len(got))
	}
	if len(got[0].ErrorText) != maxErrorText+3 {
		t.Errorf("stored error length = %d, want %d", len(got[0].ErrorText), maxErrorText+3)
	}
	if !strings.HasSuffix(got[0].ErrorText, "...") {
		t.Errorf("truncated error does not end with ellipsis: %q", got[0].ErrorText[len(got[0].ErrorText)-10:])
	}
}

func TestRecordAfterCloseDoesNotPanic(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "audit_test.db")
	s, err := NewStore(dbPath, discardLogger)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	s.Close()

	s.RecordToolCall(context.Background(), Record{Tool: "ping"})
}
