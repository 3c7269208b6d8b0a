package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/witmigrate/witmigrate/internal/linkfix"
	"github.com/witmigrate/witmigrate/internal/types"
)

const linksScopeName = "github.com/witmigrate/witmigrate/linkfix"

// LinkMetrics counts link rewrite outcomes. It implements linkfix.Metrics.
type LinkMetrics struct {
	added   metric.Int64Counter
	removed metric.Int64Counter
	skipped metric.Int64Counter
	failed  metric.Int64Counter
}

// NewLinkMetrics registers the witm.links.* counters on the global meter.
func NewLinkMetrics() *LinkMetrics {
	return newLinkMetrics(Meter(linksScopeName))
}

func newLinkMetrics(m metric.Meter) *LinkMetrics {
	added, _ := m.Int64Counter("witm.links.added",
		metric.WithDescription("Rewritten links added to target work items"),
	)
	removed, _ := m.Int64Counter("witm.links.removed",
		metric.WithDescription("Source links removed from target work items"),
	)
	skipped, _ := m.Int64Counter("witm.links.skipped",
		metric.WithDescription("Recognized links left untouched because they could not be resolved"),
	)
	failed, _ := m.Int64Counter("witm.links.failed",
		metric.WithDescription("Link edits rejected by the store"),
	)
	return &LinkMetrics{added: added, removed: removed, skipped: skipped, failed: failed}
}

// RecordOutcome adds one item's outcome to the counters.
func (l *LinkMetrics) RecordOutcome(ctx context.Context, wi *types.WorkItem, o linkfix.Outcome) {
	attrs := metric.WithAttributes(attribute.String("witm.project", wi.Project))
	l.added.Add(ctx, int64(o.Result.Added), attrs)
	l.removed.Add(ctx, int64(o.Result.Removed), attrs)
	l.skipped.Add(ctx, int64(o.Unresolved()), attrs)
	l.failed.Add(ctx, int64(o.Result.Failures()), attrs)
}
