package config

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestParseLogLevel(t *testing.T) {
	cases := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"trace", LevelTrace, false},
		{"debug", slog.LevelDebug, false},
		{"", slog.LevelInfo, false},
		{"info", slog.LevelInfo, false},
		{"WARN", slog.LevelWarn, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"loud", slog.LevelInfo, true},
	}
	for _, tc := range cases {
		got, err := ParseLogLevel(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseLogLevel(%q) error = nil, want error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseLogLevel(%q) error: %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestQuietStartSuppressesEarlyRecords(t *testing.T) {
	var buf bytes.Buffer
	base := slog.NewTextHandler(&buf, nil)

	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	h := &quietStartHandler{
		inner: base,
		until: clock.Add(2 * time.Second),
		floor: slog.LevelWarn,
		now:   func() time.Time { return clock },
	}
	logger := slog.New(h)

	logger.Info("starting up")
	logger.Warn("still shown")
	if strings.Contains(buf.String(), "starting up") {
		t.Error("info record leaked through the quiet window")
	}
	if !strings.Contains(buf.String(), "still shown") {
		t.Error("warn record was suppressed during the quiet window")
	}

	clock = clock.Add(3 * time.Second)
	logger.Info("after window")
	if !strings.Contains(buf.String(), "after window") {
		t.Error("info record suppressed after the window expired")
	}
}

func TestQuietStartZeroWindow(t *testing.T) {
	base := slog.NewTextHandler(&bytes.Buffer{}, nil)
	if got := QuietStart(base, 0, slog.LevelWarn); got != slog.Handler(base) {
		t.Error("QuietStart with zero window should return the handler unchanged")
	}
}
