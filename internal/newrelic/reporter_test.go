package newrelic

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tos-network/kale-analytics/internal/analytics"
	"github.com/tos-network/kale-analytics/internal/storage"
)

type stubSource struct {
	summary *analytics.Summary
	err     error
}

func (s stubSource) Summary(ctx context.Context) (*analytics.Summary, error) {
	return s.summary, s.err
}

type recordingSink struct {
	mu        sync.Mutex
	summaries []*analytics.Summary
}

func (r *recordingSink) UpdateNetworkMetrics(s *analytics.Summary) {
	r.mu.Lock()
	r.summaries = append(r.summaries, s)
	r.mu.Unlock()
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.summaries)
}

func testSummary() *analytics.Summary {
	return &analytics.Summary{
		Network:     storage.DefaultNetworkStats(50000, 1_700_000_000),
		HealthScore: 50,
	}
}

func TestReport(t *testing.T) {
	sink := &recordingSink{}
	r, err := NewReporter(stubSource{summary: testSummary()}, sink, "*/30 * * * * *")
	if err != nil {
		t.Fatalf("NewReporter() error = %v", err)
	}

	if err := r.Report(context.Background()); err != nil {
		t.Fatalf("Report() error = %v", err)
	}
	if sink.count() != 1 {
		t.Errorf("summaries = %d, want 1", sink.count())
	}
}

func TestReportNotInitialized(t *testing.T) {
	sink := &recordingSink{}
	r, err := NewReporter(stubSource{err: analytics.ErrNotInitialized}, sink, "@every 1h")
	if err != nil {
		t.Fatalf("NewReporter() error = %v", err)
	}

	if err := r.Report(context.Background()); err != nil {
		t.Errorf("Report() error = %v, want nil before initialization", err)
	}
	if sink.count() != 0 {
		t.Errorf("summaries = %d, want 0", sink.count())
	}
}

func TestReportError(t *testing.T) {
	boom := errors.New("store down")
	r, err := NewReporter(stubSource{err: boom}, &recordingSink{}, "@every 1h")
	if err != nil {
		t.Fatalf("NewReporter() error = %v", err)
	}

	if err := r.Report(context.Background()); !errors.Is(err, boom) {
		t.Errorf("Report() error = %v, want %v", err, boom)
	}
}

func TestNewReporterInvalidSchedule(t *testing.T) {
	if _, err := NewReporter(stubSource{}, &recordingSink{}, "not a schedule"); err == nil {
		t.Error("NewReporter() should reject an invalid schedule")
	}
}

func TestReporterSchedule(t *testing.T) {
	sink := &recordingSink{}
	r, err := NewReporter(stubSource{summary: testSummary()}, sink, "* * * * * *")
	if err != nil {
		t.Fatalf("NewReporter() error = %v", err)
	}

	r.Start()
	deadline := time.Now().Add(3 * time.Second)
	for sink.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	r.Stop()

	if sink.count() == 0 {
		t.Error("scheduled report never ran")
	}
}
