package lsp

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for LSP operations.
var (
	tracer = otel.Tracer("lspbridge.lsp")
	meter  = otel.Meter("lspbridge.lsp")
)

// Request outcomes recorded on lsp_requests_total.
const (
	outcomeOK         = "ok"
	outcomeError      = "error"
	outcomeSuperseded = "superseded"
	outcomeTerminated = "terminated"
	outcomeAbandoned  = "abandoned"
)

// Metrics for LSP operations.
var (
	requestLatency  metric.Float64Histogram
	requestTotal    metric.Int64Counter
	serverSpawns    metric.Int64Counter
	serverCrashes   metric.Int64Counter
	droppedMessages metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		requestLatency, err = meter.Float64Histogram(
			"lsp_request_duration_seconds",
			metric.WithDescription("Time from sending a request to its response"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		requestTotal, err = meter.Int64Counter(
			"lsp_requests_total",
			metric.WithDescription("Total number of completed LSP requests by outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		serverSpawns, err = meter.Int64Counter(
			"lsp_server_spawns_total",
			metric.WithDescription("Total number of language server spawns"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		serverCrashes, err = meter.Int64Counter(
			"lsp_server_terminations_total",
			metric.WithDescription("Total number of language server terminations"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		droppedMessages, err = meter.Int64Counter(
			"lsp_dropped_messages_total",
			metric.WithDescription("Inbound messages that could not be routed"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// startRequestSpan creates a span covering one pending request.
func startRequestSpan(server string, id RequestID) trace.Span {
	_, span := tracer.Start(context.Background(), "Request."+id.Method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("lsp.server", server),
			attribute.String("lsp.method", id.Method),
			attribute.String("lsp.document", id.DocumentKey),
		),
	)
	return span
}

// endRequestSpan finishes a request span with its outcome.
func endRequestSpan(span trace.Span, outcome string, err error) {
	if span == nil {
		return
	}
	span.SetAttributes(attribute.String("lsp.outcome", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// recordRequestMetrics records one finished request.
func recordRequestMetrics(server, method, outcome string, duration time.Duration) {
	if err := initMetrics(); err != nil {
		return
	}
	ctx := context.Background()
	attrs := metric.WithAttributes(
		attribute.String("server", server),
		attribute.String("method", method),
		attribute.String("outcome", outcome),
	)
	requestTotal.Add(ctx, 1, attrs)
	if outcome == outcomeOK || outcome == outcomeError {
		requestLatency.Record(ctx, duration.Seconds(), metric.WithAttributes(
			attribute.String("server", server),
			attribute.String("method", method),
		))
	}
}

// recordServerSpawn records a server spawn attempt.
func recordServerSpawn(server string, success bool) {
	if err := initMetrics(); err != nil {
		return
	}
	serverSpawns.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("server", server),
		attribute.Bool("success", success),
	))
}

// recordServerTermination records a server leaving the pool.
func recordServerTermination(server string, expected bool) {
	if err := initMetrics(); err != nil {
		return
	}
	serverCrashes.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("server", server),
		attribute.Bool("expected", expected),
	))
}

// recordDroppedMessage records an inbound message that was discarded.
func recordDroppedMessage(server, reason string) {
	if err := initMetrics(); err != nil {
		return
	}
	droppedMessages.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("server", server),
		attribute.String("reason", reason),
	))
}
