package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-lifecycle/core/lifecycle"
)

func TestRecorder_Subscribe(t *testing.T) {
	r := NewRecorder()
	bus := lifecycle.NewEventBus(nil)
	r.Subscribe(bus)

	bus.Publish(context.Background(), lifecycle.ChangeEvent{Type: lifecycle.EventOverdueFlagged})
	bus.Publish(context.Background(), lifecycle.ChangeEvent{Type: lifecycle.EventOverdueFlagged})
	bus.Publish(context.Background(), lifecycle.ChangeEvent{Type: lifecycle.EventAutoArchived})

	assert.Equal(t, 2.0, testutil.ToFloat64(r.events.WithLabelValues("overdue_flagged")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.events.WithLabelValues("auto_archived")))
}

func TestRecorder_ObserveRun(t *testing.T) {
	tests := []struct {
		name          string
		stats         RunStats
		wantStatus    string
		wantProcessed float64
	}{
		{name: "success", stats: RunStats{Job: "flag_overdue", Processed: 3, Failed: 1}, wantStatus: "success", wantProcessed: 3},
		{name: "dry run", stats: RunStats{Job: "flag_overdue", DryRun: true, Processed: 3}, wantStatus: "dry_run"},
		{name: "error", stats: RunStats{Job: "flag_overdue", Err: errors.New("boom")}, wantStatus: "error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRecorder()
			tt.stats.Duration = time.Second
			r.ObserveRun(tt.stats)

			assert.Equal(t, 1.0, testutil.ToFloat64(r.runs.WithLabelValues(tt.stats.Job, tt.wantStatus)))
			assert.Equal(t, tt.wantProcessed, testutil.ToFloat64(r.items.WithLabelValues(tt.stats.Job, "processed")))
		})
	}
}

func TestRecorder_ObservePreview(t *testing.T) {
	r := NewRecorder()
	r.ObservePreview("overdue", 3)
	r.ObservePreview("overdue", 1)
	r.ObservePreview("archive_eligible", 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.preview.WithLabelValues("overdue")))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.preview.WithLabelValues("archive_eligible")))
}

func TestRecorder_Handler(t *testing.T) {
	r := NewRecorder()
	r.ObserveRun(RunStats{Job: "auto_archive", Processed: 2})

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `masomo_lifecycle_batch_items_total{job="auto_archive",outcome="processed"} 2`)
}

func TestRecorder_Push(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		gotPath = req.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := NewRecorder()
	r.ObserveRun(RunStats{Job: "reconcile", Processed: 1})

	require.NoError(t, r.Push(context.Background(), srv.URL, "reconcile"))
	assert.True(t, strings.HasPrefix(gotPath, "/metrics/job/masomo_lifecycle_reconcile"), gotPath)
	assert.NoError(t, r.Push(context.Background(), "", "reconcile"))
}
