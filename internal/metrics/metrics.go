// Package metrics carries this module's ambient Prometheus
// instrumentation, grounded on the teacher's centralised
// observability.Metrics struct (internal/observability/metrics.go):
// one struct of promauto-registered collectors, built once at startup
// and handed to whatever component can feed it. Every gauge here is
// updated from outside the orchestration path manager/client already
// guard for backpressure (spec §5) — a stalled exporter must never
// slow down a model turn.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/swordfish444/codex-sub000/internal/subagent"
	"github.com/swordfish444/codex-sub000/pkg/revent"
)

// Metrics is the full set of collectors this module registers.
type Metrics struct {
	ActiveSubagents        prometheus.Gauge
	LifecycleEventsDropped prometheus.Counter
	WatchdogsActive        prometheus.Gauge

	RateLimitPrimaryUsedPercent   prometheus.Gauge
	RateLimitSecondaryUsedPercent prometheus.Gauge

	ToolCallsTotal *prometheus.CounterVec
}

// New registers every collector against reg and returns the bound
// Metrics. Passing a fresh *prometheus.Registry (rather than the
// global default) keeps repeated test construction from panicking on
// duplicate registration.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ActiveSubagents: factory.NewGauge(prometheus.GaugeOpts{
			Name: "codex_sub000_active_subagents",
			Help: "Current number of non-terminal subagent sessions.",
		}),
		LifecycleEventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "codex_sub000_lifecycle_events_dropped_total",
			Help: "Lifecycle notifications dropped because the sink was full (spec backpressure policy: drop, never block).",
		}),
		WatchdogsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "codex_sub000_watchdogs_active",
			Help: "Current number of running watchdog timers.",
		}),
		RateLimitPrimaryUsedPercent: factory.NewGauge(prometheus.GaugeOpts{
			Name: "codex_sub000_rate_limit_primary_used_percent",
			Help: "Most recently observed primary rate-limit window usage percentage.",
		}),
		RateLimitSecondaryUsedPercent: factory.NewGauge(prometheus.GaugeOpts{
			Name: "codex_sub000_rate_limit_secondary_used_percent",
			Help: "Most recently observed secondary rate-limit window usage percentage.",
		}),
		ToolCallsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "codex_sub000_tool_calls_total",
			Help: "Dispatcher tool calls by tool name and outcome.",
		}, []string{"tool_name", "outcome"}),
	}
}

// LifecycleEventDropped implements manager.MetricsSink.
func (m *Metrics) LifecycleEventDropped() {
	m.LifecycleEventsDropped.Inc()
}

// ObserveRateLimits records a rate-limit snapshot pulled from a model
// response (spec §4.3).
func (m *Metrics) ObserveRateLimits(snapshot revent.RateLimitSnapshot) {
	if snapshot.Primary != nil {
		m.RateLimitPrimaryUsedPercent.Set(snapshot.Primary.UsedPercent)
	}
	if snapshot.Secondary != nil {
		m.RateLimitSecondaryUsedPercent.Set(snapshot.Secondary.UsedPercent)
	}
}

// ObserveToolCall records one dispatcher tool call outcome.
func (m *Metrics) ObserveToolCall(toolName string, ok bool) {
	outcome := "success"
	if !ok {
		outcome = "error"
	}
	m.ToolCallsTotal.WithLabelValues(toolName, outcome).Inc()
}

// PollRegistry runs until ctx is canceled, periodically setting
// ActiveSubagents from registry's own live count. This is a poll
// rather than a push because the registry (spec §5 "Shared resources")
// has no subscribe hook of its own — only Manager's lifecycle channel
// does, and that channel already carries per-event Status updates that
// would require this package to re-derive "non-terminal" bookkeeping
// redundantly.
func (m *Metrics) PollRegistry(ctx context.Context, registry *subagent.Registry, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		m.ActiveSubagents.Set(float64(len(registry.ListActive())))
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
