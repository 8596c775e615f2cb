package gologger

import (
	"strings"

	job "github.com/goliatone/go-job"
	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-entitlements/adapters/gojob"
	"github.com/goliatone/go-entitlements/core"
)

const (
	DefaultName   = "entitlements"
	ReconcileName = "entitlements.reconcile"
	WebhookName   = "entitlements.webhooks"
)

// Resolve uses deterministic precedence provider > logger > nop. An empty name
// falls back to DefaultName.
func Resolve(name string, provider glog.LoggerProvider, logger glog.Logger) (glog.LoggerProvider, glog.Logger) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultName
	}
	return glog.Resolve(name, provider, logger)
}

// ServiceOptions wires the resolved provider and logger into the service.
func ServiceOptions(provider glog.LoggerProvider, logger glog.Logger) []core.Option {
	resolvedProvider, resolvedLogger := Resolve(DefaultName, provider, logger)
	return []core.Option{
		core.WithLoggerProvider(resolvedProvider),
		core.WithLogger(resolvedLogger),
	}
}

// ReconcileWorkerOption names the reconcile worker logger after the sweep job.
func ReconcileWorkerOption(provider glog.LoggerProvider, logger glog.Logger) gojob.WorkerOption {
	_, resolved := Resolve(ReconcileName, provider, logger)
	return gojob.WithLogger(resolved)
}

// WebhookLogger resolves the logger handed to the webhook processor.
func WebhookLogger(provider glog.LoggerProvider, logger glog.Logger) glog.Logger {
	_, resolved := Resolve(WebhookName, provider, logger)
	return resolved
}

// ToJobProvider maps a glog provider to the go-job logger provider contract.
func ToJobProvider(provider glog.LoggerProvider) job.LoggerProvider {
	if provider == nil {
		return nil
	}
	return job.GoLoggerProvider(provider)
}

// ToJobLogger maps a glog logger to the go-job logger contract.
func ToJobLogger(logger glog.Logger) job.Logger {
	if logger == nil {
		return nil
	}
	return job.GoLogger(logger)
}

// ResolveForJob resolves the reconcile logger and returns the go-job bridges
// used by queue workers that run the sweep.
func ResolveForJob(provider glog.LoggerProvider, logger glog.Logger) (job.LoggerProvider, job.Logger) {
	resolvedProvider, resolvedLogger := Resolve(ReconcileName, provider, logger)
	return ToJobProvider(resolvedProvider), ToJobLogger(resolvedLogger)
}
