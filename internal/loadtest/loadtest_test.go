package loadtest

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/squiddy/gitlab-to-sqlite/internal/watermark"
)

func populate(t *testing.T, pipelines, jobs int) *Mirror {
	t.Helper()
	m, err := Populate(context.Background(), filepath.Join(t.TempDir(), "test.db"), pipelines, jobs)
	if err != nil {
		t.Fatalf("Failed to populate mirror: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func rows(t *testing.T, m *Mirror, table string) int {
	t.Helper()
	var n int
	if err := m.DB.RawDB().QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
		t.Fatalf("Failed to count %s: %v", table, err)
	}
	return n
}

// TestPopulate verifies the mirror holds the requested pipelines and jobs.
func TestPopulate(t *testing.T) {
	m := populate(t, 50, 3)

	if got := rows(t, m, "pipelines"); got != 50 {
		t.Errorf("Expected 50 pipelines, got %d", got)
	}
	if got := rows(t, m, "jobs"); got != 150 {
		t.Errorf("Expected 150 jobs, got %d", got)
	}
	if m.Pipelines() != 50 {
		t.Errorf("Pipelines() = %d, want 50", m.Pipelines())
	}

	wm, err := watermark.NewResolver(m.DB).Resolve(context.Background(), watermark.Pipelines, watermark.Scope{ProjectPath: ProjectPath})
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	if wm != m.Latest() {
		t.Errorf("Resolve() = %s, want %s", wm, m.Latest())
	}
	if wm.String() != "2024-01-01T00:50:00Z" {
		t.Errorf("Watermark = %s, want 2024-01-01T00:50:00Z", wm)
	}
}

// TestConcurrentReaders_Small verifies basic concurrent read functionality.
func TestConcurrentReaders_Small(t *testing.T) {
	m := populate(t, 100, 2)

	stats, err := m.RunConcurrentReaders(context.Background(), 10, 5)
	if err != nil {
		t.Fatalf("Concurrent readers failed: %v", err)
	}

	if stats.Errors > 0 {
		t.Errorf("Got %d errors during queries", stats.Errors)
	}
	if stats.TotalQueries != 50 {
		t.Errorf("Expected 50 total queries, got %d", stats.TotalQueries)
	}
	if m.Pipelines() != 100+stats.Writes {
		t.Errorf("Pipelines() = %d, want %d", m.Pipelines(), 100+stats.Writes)
	}

	var buf bytes.Buffer
	stats.Fprint(&buf)
	t.Log(buf.String())

	if stats.Mean > 500*time.Millisecond {
		t.Errorf("Mean query time too high: %v", stats.Mean)
	}
}

// TestMonotonicWatermark verifies readers never see the watermark move
// backwards while a writer appends pipelines.
func TestMonotonicWatermark(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping in short mode")
	}
	m := populate(t, 100, 1)
	before := m.Pipelines()

	if err := m.VerifyMonotonicWatermark(context.Background(), 10, 500*time.Millisecond); err != nil {
		t.Errorf("Watermark check failed: %v", err)
	}
	if m.Pipelines() <= before {
		t.Errorf("Writer saved no pipelines during the check")
	}
}

func TestComputeLatencyStats(t *testing.T) {
	var durations []time.Duration
	for i := 100; i >= 1; i-- {
		durations = append(durations, time.Duration(i)*time.Millisecond)
	}

	stats := computeLatencyStats(durations)
	if stats.Min != time.Millisecond || stats.Max != 100*time.Millisecond {
		t.Errorf("Min/Max = %v/%v, want 1ms/100ms", stats.Min, stats.Max)
	}
	if stats.P50 != 51*time.Millisecond {
		t.Errorf("P50 = %v, want 51ms", stats.P50)
	}
	if stats.P99 != 100*time.Millisecond {
		t.Errorf("P99 = %v, want 100ms", stats.P99)
	}
	if stats.Mean != 50500*time.Microsecond {
		t.Errorf("Mean = %v, want 50.5ms", stats.Mean)
	}
	if durations[0] != 100*time.Millisecond {
		t.Error("computeLatencyStats sorted its input in place")
	}

	if empty := computeLatencyStats(nil); empty.TotalQueries != 0 {
		t.Errorf("Empty stats = %+v", empty)
	}

	var buf bytes.Buffer
	stats.Fprint(&buf)
	if !strings.Contains(buf.String(), "Total Queries: 100") {
		t.Errorf("Fprint() = %q", buf.String())
	}
}
