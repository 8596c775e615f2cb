package gojob

import (
	"context"

	"github.com/goliatone/go-job/queue/worker"
	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-entitlements/core"
)

var metricReconcileJobs = core.MetricName("reconcile", "jobs")

// ObservabilityHook logs worker transitions and counts them per outcome.
type ObservabilityHook struct {
	logger  core.Logger
	metrics core.MetricsRecorder
}

func NewObservabilityHook(logger core.Logger, metrics core.MetricsRecorder) *ObservabilityHook {
	if logger == nil {
		logger = glog.Nop()
	}
	if metrics == nil {
		metrics = core.NopMetricsRecorder{}
	}
	return &ObservabilityHook{logger: logger, metrics: metrics}
}

func (h *ObservabilityHook) OnStart(_ context.Context, event worker.Event) {
	h.logger.Debug("reconcile job started", fields(event)...)
}

func (h *ObservabilityHook) OnSuccess(ctx context.Context, event worker.Event) {
	h.logger.Info("reconcile job succeeded", fields(event)...)
	h.count(ctx, event, "success")
}

func (h *ObservabilityHook) OnFailure(ctx context.Context, event worker.Event) {
	h.logger.Error("reconcile job failed", fields(event)...)
	h.count(ctx, event, "failure")
}

func (h *ObservabilityHook) OnRetry(ctx context.Context, event worker.Event) {
	h.logger.Warn("reconcile job retrying", append(fields(event), "delay_ms", event.Delay.Milliseconds())...)
	h.count(ctx, event, "retry")
}

func (h *ObservabilityHook) count(ctx context.Context, event worker.Event, outcome string) {
	h.metrics.IncCounter(ctx, metricReconcileJobs, 1, map[string]string{
		"job_id":  jobID(event),
		"outcome": outcome,
	})
}

func fields(event worker.Event) []any {
	out := []any{
		"job_id", jobID(event),
		"attempt", event.Attempt,
	}
	if event.Duration > 0 {
		out = append(out, "duration_ms", event.Duration.Milliseconds())
	}
	if event.Err != nil {
		out = append(out, "error", event.Err.Error())
	}
	return out
}

func jobID(event worker.Event) string {
	if event.Message != nil {
		return event.Message.JobID
	}
	if event.Delivery != nil && event.Delivery.Message() != nil {
		return event.Delivery.Message().JobID
	}
	return ""
}

var _ worker.Hook = (*ObservabilityHook)(nil)
