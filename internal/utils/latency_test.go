package utils

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestLatencyTrackerPercentile(t *testing.T) {
	tracker := NewLatencyTracker(10)
	durations := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 30 * time.Millisecond, 40 * time.Millisecond, 50 * time.Millisecond}
	for _, d := range durations {
		tracker.Observe(d)
	}

	if tracker.Count() != len(durations) {
		t.Fatalf("expected count %d, got %d", len(durations), tracker.Count())
	}

	p95 := tracker.Percentile(95)
	if p95 < 40*time.Millisecond {
		t.Fatalf("expected percentile >= 40ms, got %v", p95)
	}
	if tracker.Percentile(0) != 10*time.Millisecond || tracker.Percentile(100) != 50*time.Millisecond {
		t.Fatalf("unexpected bounds")
	}
}

func TestLatencyTrackerBoundedSize(t *testing.T) {
	tracker := NewLatencyTracker(3)
	var total uint64
	for i := 0; i < 10; i++ {
		total = tracker.Observe(time.Duration(i) * time.Millisecond)
	}
	if tracker.Count() != 3 {
		t.Fatalf("expected tracker size 3, got %d", tracker.Count())
	}
	if total != 10 {
		t.Fatalf("expected 10 observations, got %d", total)
	}
	if got := tracker.Percentile(0); got != 7*time.Millisecond {
		t.Fatalf("expected oldest retained 7ms, got %v", got)
	}
}

func TestParseRelative(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	cases := map[string]time.Time{
		"1 day ago":            now.Add(-24 * time.Hour),
		"30 minutes ago":       now.Add(-30 * time.Minute),
		" 2 hours ago ":        now.Add(-2 * time.Hour),
		"2 weeks ago":          now.Add(-14 * 24 * time.Hour),
		"now":                  now,
		"2024-04-01T00:00:00Z": time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC),
	}
	for in, want := range cases {
		got, err := ParseRelative(in, now)
		if err != nil {
			t.Fatalf("%q: %v", in, err)
		}
		if !got.Equal(want) {
			t.Fatalf("%q: got %v want %v", in, got, want)
		}
	}

	got, err := ParseRelative("yesterday", now)
	if err != nil {
		t.Fatalf("yesterday: %v", err)
	}
	if y, m, d := got.UTC().Date(); y != 2024 || m != time.April || d != 30 {
		t.Fatalf("yesterday: got %v", got)
	}

	for _, bad := range []string{"", "   ", "not a date at all"} {
		if _, err := ParseRelative(bad, now); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestAppErrorWrap(t *testing.T) {
	if Wrap("op", "msg", nil) != nil {
		t.Fatalf("expected nil passthrough")
	}
	base := errors.New("boom")
	err := Wrap("nerdgraph.Execute", "request failed", base)
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to match base")
	}
	if op, ok := OpOf(err); !ok || op != "nerdgraph.Execute" {
		t.Fatalf("unexpected op %q", op)
	}
	if err.Error() != "nerdgraph.Execute: request failed: boom" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestLoggerHandlers(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newHandler(LogOptions{Level: "warn", JSON: true}, &buf))
	logger.Info("hidden")
	logger.Warn("shown", slog.String("query", "SELECT 1"))
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, `"query":"SELECT 1"`) {
		t.Fatalf("unexpected log output %q", out)
	}
	if ParseLevel("bogus") != slog.LevelInfo {
		t.Fatalf("expected info fallback")
	}
}
