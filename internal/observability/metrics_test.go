package observability

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewMetricsServesPrometheusEndpoint(t *testing.T) {
	ctx := context.Background()
	metrics, handler, err := NewMetrics(ctx)
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}
	if handler == nil {
		t.Fatal("expected metrics handler")
	}

	metrics.RecordStageStarted(ctx, "separation")
	metrics.RecordStageFinished(ctx, "separation", true, 1.5)
	metrics.RecordHTTPRequest(ctx, http.MethodGet, "/api/sessions", http.StatusOK, 0.01)
	metrics.RecordSessionCreated(ctx)
	metrics.RecordArtifactStored(ctx, "vocal_stem", 1024)

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", recorder.Code)
	}
	body, err := io.ReadAll(recorder.Result().Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !strings.Contains(string(body), "revoice") {
		t.Fatalf("expected revoice instruments in scrape output")
	}
}

func TestNilMetricsRecordersAreSafe(t *testing.T) {
	var metrics *Metrics
	ctx := context.Background()

	metrics.RecordStageStarted(ctx, "separation")
	metrics.RecordStageFinished(ctx, "separation", false, 0)
	metrics.RecordHTTPRequest(ctx, http.MethodPost, "/api/sessions", http.StatusInternalServerError, 0)
	metrics.RecordSessionCreated(ctx)
	metrics.RecordArtifactStored(ctx, "mixed_output", 0)
	metrics.RecordUploadRejected(ctx, "too_large")
}
