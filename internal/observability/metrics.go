// Package observability wires the pipeline and HTTP metrics through
// OpenTelemetry with a Prometheus exporter.
package observability

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics holds the daemon's instruments: stage latency, throughput, and
// error rates, plus the HTTP surface.
type Metrics struct {
	meter metric.Meter

	HTTPRequestDuration metric.Float64Histogram
	HTTPRequestsTotal   metric.Int64Counter
	HTTPErrorsTotal     metric.Int64Counter

	StageDuration    metric.Float64Histogram
	StageRunsTotal   metric.Int64Counter
	StageErrorsTotal metric.Int64Counter
	StagesActive     metric.Int64UpDownCounter

	SessionsTotal  metric.Int64Counter
	ArtifactBytes  metric.Int64Counter
	UploadRejected metric.Int64Counter
}

// NewMetrics creates and registers all instruments with a Prometheus exporter.
// The returned handler serves the /metrics endpoint.
func NewMetrics(ctx context.Context) (*Metrics, http.Handler, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter("revoice")
	m := &Metrics{meter: meter}

	m.HTTPRequestDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, nil, err
	}

	m.HTTPRequestsTotal, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.HTTPErrorsTotal, err = meter.Int64Counter(
		"http_errors_total",
		metric.WithDescription("Total number of HTTP errors (4xx and 5xx)"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.StageDuration, err = meter.Float64Histogram(
		"stage_duration_seconds",
		metric.WithDescription("Pipeline stage execution duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 30, 60, 120, 300, 600, 900, 1800),
	)
	if err != nil {
		return nil, nil, err
	}

	m.StageRunsTotal, err = meter.Int64Counter(
		"stage_runs_total",
		metric.WithDescription("Total number of stage runs started"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.StageErrorsTotal, err = meter.Int64Counter(
		"stage_errors_total",
		metric.WithDescription("Total number of failed stage runs"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.StagesActive, err = meter.Int64UpDownCounter(
		"stages_active",
		metric.WithDescription("Number of currently running stages"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.SessionsTotal, err = meter.Int64Counter(
		"sessions_total",
		metric.WithDescription("Total number of sessions created"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.ArtifactBytes, err = meter.Int64Counter(
		"artifact_bytes_total",
		metric.WithDescription("Total bytes written to the artifact store"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.UploadRejected, err = meter.Int64Counter(
		"uploads_rejected_total",
		metric.WithDescription("Total uploads rejected by validation"),
	)
	if err != nil {
		return nil, nil, err
	}

	return m, promhttp.Handler(), nil
}

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, durationSeconds float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.String("status", fmt.Sprintf("%dxx", statusCode/100)),
	)

	m.HTTPRequestDuration.Record(ctx, durationSeconds, attrs)
	m.HTTPRequestsTotal.Add(ctx, 1, attrs)
	if statusCode >= 400 {
		m.HTTPErrorsTotal.Add(ctx, 1, attrs)
	}
}

// RecordStageStarted records a stage run beginning.
func (m *Metrics) RecordStageStarted(ctx context.Context, stage string) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("stage", stage))
	m.StageRunsTotal.Add(ctx, 1, attrs)
	m.StagesActive.Add(ctx, 1, attrs)
}

// RecordStageFinished records a stage run ending (success or failure).
func (m *Metrics) RecordStageFinished(ctx context.Context, stage string, success bool, durationSeconds float64) {
	if m == nil {
		return
	}
	stageAttr := metric.WithAttributes(attribute.String("stage", stage))
	m.StageDuration.Record(ctx, durationSeconds, metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.Bool("success", success),
	))
	m.StagesActive.Add(ctx, -1, stageAttr)
	if !success {
		m.StageErrorsTotal.Add(ctx, 1, stageAttr)
	}
}

// RecordSessionCreated records a new session.
func (m *Metrics) RecordSessionCreated(ctx context.Context) {
	if m == nil {
		return
	}
	m.SessionsTotal.Add(ctx, 1)
}

// RecordArtifactStored records bytes written to the artifact store.
func (m *Metrics) RecordArtifactStored(ctx context.Context, kind string, size int64) {
	if m == nil {
		return
	}
	m.ArtifactBytes.Add(ctx, size, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordUploadRejected records an upload rejected by validation.
func (m *Metrics) RecordUploadRejected(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.UploadRejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}
