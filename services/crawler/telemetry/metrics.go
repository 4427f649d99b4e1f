// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Metrics contains the crawler's instruments.
//
// Description:
//
//	All metrics use the "hypickle_" prefix. The Record* helpers are safe on
//	a nil *Metrics so components can run without telemetry wired.
//
// Thread Safety: Safe for concurrent use after creation.
type Metrics struct {
	// --- API Metrics ---

	// APICallsTotal counts requests to the stats API by resource and outcome.
	APICallsTotal metric.Int64Counter

	// APICallDuration records request latency in seconds.
	APICallDuration metric.Float64Histogram

	// RateLimitWaitsTotal counts sleeps forced by the server's request budget.
	RateLimitWaitsTotal metric.Int64Counter

	// RateLimitWaitDuration records how long each forced sleep lasted.
	RateLimitWaitDuration metric.Float64Histogram

	// --- Identity Metrics ---

	// IdentityLookupsTotal counts resolutions by the source that answered.
	IdentityLookupsTotal metric.Int64Counter

	// --- Crawl Metrics ---

	// NodesVisitedTotal counts players emitted or evaluated, by depth.
	NodesVisitedTotal metric.Int64Counter

	// EdgesDroppedTotal counts edges left out of a report, by reason.
	EdgesDroppedTotal metric.Int64Counter

	// ActivityChecksTotal counts activity inferences by strategy and result.
	ActivityChecksTotal metric.Int64Counter

	// PassesTotal counts scan passes by kind (first, recheck, perpetual).
	PassesTotal metric.Int64Counter

	// CheckpointsTotal counts report checkpoints by sink.
	CheckpointsTotal metric.Int64Counter
}

// NewMetrics creates a Metrics instance with every instrument registered.
//
// Example:
//
//	metrics, err := telemetry.NewMetrics(otel.Meter("hypickle"))
//	if err != nil {
//	    return fmt.Errorf("create metrics: %w", err)
//	}
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	// --- API Metrics ---
	m.APICallsTotal, err = meter.Int64Counter(
		"hypickle_api_calls_total",
		metric.WithDescription("Total requests to the stats API"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create api_calls_total: %w", err)
	}

	m.APICallDuration, err = meter.Float64Histogram(
		"hypickle_api_call_duration_seconds",
		metric.WithDescription("Stats API request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, fmt.Errorf("create api_call_duration: %w", err)
	}

	m.RateLimitWaitsTotal, err = meter.Int64Counter(
		"hypickle_rate_limit_waits_total",
		metric.WithDescription("Sleeps forced by the API request budget"),
		metric.WithUnit("{wait}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create rate_limit_waits_total: %w", err)
	}

	m.RateLimitWaitDuration, err = meter.Float64Histogram(
		"hypickle_rate_limit_wait_seconds",
		metric.WithDescription("Duration of rate-limit sleeps in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 5, 15, 30, 60, 120, 300),
	)
	if err != nil {
		return nil, fmt.Errorf("create rate_limit_wait_seconds: %w", err)
	}

	// --- Identity Metrics ---
	m.IdentityLookupsTotal, err = meter.Int64Counter(
		"hypickle_identity_lookups_total",
		metric.WithDescription("Identity resolutions by answering source"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create identity_lookups_total: %w", err)
	}

	// --- Crawl Metrics ---
	m.NodesVisitedTotal, err = meter.Int64Counter(
		"hypickle_nodes_visited_total",
		metric.WithDescription("Players visited during report building"),
		metric.WithUnit("{node}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create nodes_visited_total: %w", err)
	}

	m.EdgesDroppedTotal, err = meter.Int64Counter(
		"hypickle_edges_dropped_total",
		metric.WithDescription("Edges left out of a report"),
		metric.WithUnit("{edge}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create edges_dropped_total: %w", err)
	}

	m.ActivityChecksTotal, err = meter.Int64Counter(
		"hypickle_activity_checks_total",
		metric.WithDescription("Activity inferences by strategy and result"),
		metric.WithUnit("{check}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create activity_checks_total: %w", err)
	}

	m.PassesTotal, err = meter.Int64Counter(
		"hypickle_passes_total",
		metric.WithDescription("Scan passes over the root's edges"),
		metric.WithUnit("{pass}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create passes_total: %w", err)
	}

	m.CheckpointsTotal, err = meter.Int64Counter(
		"hypickle_checkpoints_total",
		metric.WithDescription("Report checkpoints written"),
		metric.WithUnit("{checkpoint}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create checkpoints_total: %w", err)
	}

	return m, nil
}

// NewNoopMetrics returns Metrics backed by the otel no-op meter.
func NewNoopMetrics() *Metrics {
	m, err := NewMetrics(noop.NewMeterProvider().Meter("hypickle"))
	if err != nil {
		// The no-op meter never fails to create instruments.
		panic(err)
	}
	return m
}

// RecordAPICall records one API request.
func (m *Metrics) RecordAPICall(ctx context.Context, resource, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("resource", resource),
		attribute.String("outcome", outcome),
	)
	m.APICallsTotal.Add(ctx, 1, attrs)
	m.APICallDuration.Record(ctx, elapsed.Seconds(), attrs)
}

// RecordRateLimitWait records one forced sleep.
func (m *Metrics) RecordRateLimitWait(ctx context.Context, waited time.Duration) {
	if m == nil {
		return
	}
	m.RateLimitWaitsTotal.Add(ctx, 1)
	m.RateLimitWaitDuration.Record(ctx, waited.Seconds())
}

// RecordIdentityLookup records which source answered a resolution.
func (m *Metrics) RecordIdentityLookup(ctx context.Context, source string) {
	if m == nil {
		return
	}
	m.IdentityLookupsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}

// RecordNodeVisited records a player visited at depth.
func (m *Metrics) RecordNodeVisited(ctx context.Context, depth int) {
	if m == nil {
		return
	}
	m.NodesVisitedTotal.Add(ctx, 1, metric.WithAttributes(attribute.Int("depth", depth)))
}

// RecordEdgeDropped records an edge left out of a report.
func (m *Metrics) RecordEdgeDropped(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.EdgesDroppedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordActivityCheck records one activity inference.
func (m *Metrics) RecordActivityCheck(ctx context.Context, strategy string, active bool) {
	if m == nil {
		return
	}
	m.ActivityChecksTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("strategy", strategy),
		attribute.Bool("active", active),
	))
}

// RecordPass records a completed scan pass.
func (m *Metrics) RecordPass(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.PassesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordCheckpoint records a report checkpoint written to sink.
func (m *Metrics) RecordCheckpoint(ctx context.Context, sink string) {
	if m == nil {
		return
	}
	m.CheckpointsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("sink", sink)))
}
