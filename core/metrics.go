package core

import (
	"context"
	"strings"
)

// MetricNamespace prefixes every metric the access service emits.
const MetricNamespace = "entitlements"

// Metric suffixes recorded per operation (grant, revoke, renew,
// billing_event, ...).
const (
	MetricSuffixTotal    = "total"
	MetricSuffixDuration = "duration_ms"
	MetricSuffixItems    = "items"
)

// MetricsRecorder receives operation counters and latency observations.
// Names are dotted (entitlements.grant.items); adapters translate them to
// their backend's naming rules. Tags use the keys operation, status, source
// and strategy.
type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

// MetricName joins the namespace with the given parts, skipping blanks.
func MetricName(parts ...string) string {
	out := []string{MetricNamespace}
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return strings.Join(out, ".")
}

// NopMetricsRecorder drops everything. It is the default until a backend is
// wired with WithMetricsRecorder.
type NopMetricsRecorder struct{}

func (NopMetricsRecorder) IncCounter(context.Context, string, int64, map[string]string) {}

func (NopMetricsRecorder) ObserveHistogram(context.Context, string, float64, map[string]string) {}

func cloneTags(tags map[string]string) map[string]string {
	out := make(map[string]string, len(tags))
	for key, value := range tags {
		out[key] = value
	}
	return out
}

var _ MetricsRecorder = NopMetricsRecorder{}
