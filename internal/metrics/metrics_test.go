package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"fop-go/internal/fop"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("reading metrics: %v", err)
	}
	return string(body)
}

func assertMetric(t *testing.T, body, line string) {
	t.Helper()
	if !strings.Contains(body, line+"\n") {
		t.Errorf("metrics missing %q", line)
	}
}

func TestMetrics_ProgressDeltas(t *testing.T) {
	m := New()

	m.CurrentTask("job-1", fop.LocalURL("/a"), fop.LocalURL("/b"))
	assertMetric(t, scrape(t, m), "fop_active_jobs 1")

	m.Progress("job-1", fop.Progress{CompletedBytes: 100, WrittenBytes: 100, CompletedFiles: 1, Speed: 50})
	m.Progress("job-1", fop.Progress{CompletedBytes: 250, WrittenBytes: 300, CompletedFiles: 3, Speed: 75})
	m.Progress("job-2", fop.Progress{CompletedBytes: 10, CompletedFiles: 1})

	body := scrape(t, m)
	assertMetric(t, body, "fop_bytes_completed_total 260")
	assertMetric(t, body, "fop_bytes_written_total 300")
	assertMetric(t, body, "fop_files_completed_total 4")
	assertMetric(t, body, "fop_active_jobs 2")
}

func TestMetrics_Finished(t *testing.T) {
	m := New()

	m.Progress("job-1", fop.Progress{CompletedBytes: 40, CompletedFiles: 1})
	m.Finished("job-1", &fop.JobResult{
		JobID:   "job-1",
		Type:    fop.JobCopy,
		State:   fop.StateCompleted,
		Outcome: fop.OutcomePartial,
		Errors:  []fop.ErrorDescriptor{{Kind: fop.ErrKindPermission}},
		Progress: fop.Progress{
			CompletedBytes: 64, CompletedFiles: 2, Elapsed: 2 * time.Second,
		},
	})

	body := scrape(t, m)
	assertMetric(t, body, "fop_active_jobs 0")
	assertMetric(t, body, "fop_bytes_completed_total 64")
	assertMetric(t, body, "fop_files_completed_total 2")
	assertMetric(t, body, `fop_jobs_finished_total{outcome="partial",type="copy"} 1`)
	assertMetric(t, body, `fop_job_duration_seconds_count{type="copy"} 1`)
	if !strings.Contains(body, "fop_job_errors_total{kind=") {
		t.Error("error kinds not counted")
	}

	// The next job with the same ID starts from zero.
	m.Progress("job-1", fop.Progress{CompletedBytes: 1})
	assertMetric(t, scrape(t, m), "fop_bytes_completed_total 65")
}
