package gojob

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"
	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-entitlements/core"
)

const (
	JobIDReconcileSweep = "entitlements.reconcile.sweep"

	paramUserIDs = "user_ids"
)

// RetryPolicy defines queue retry bounds to avoid unbounded retry loops.
type RetryPolicy struct {
	MaxAttempts     int
	MaxDelay        time.Duration
	DeadLetterOnMax bool
}

// NormalizeAttempt enforces bounded retry behavior for a nack operation.
func (p RetryPolicy) NormalizeAttempt(opts queue.NackOptions, attempt int) queue.NackOptions {
	out := opts
	out.Reason = strings.TrimSpace(out.Reason)
	if out.Delay < 0 {
		out.Delay = 0
	}
	if p.MaxDelay > 0 && out.Delay > p.MaxDelay {
		out.Delay = p.MaxDelay
	}
	if out.DeadLetter {
		out.Requeue = false
	}
	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		out.Requeue = false
		if p.DeadLetterOnMax || out.DeadLetter {
			out.DeadLetter = true
		}
	}
	if !out.Requeue && !out.DeadLetter {
		out.Requeue = true
	}
	return out
}

// NewReconcileSweepMessage builds a sweep job. An empty user list sweeps every
// user the population source returns.
func NewReconcileSweepMessage(userIDs []string, idempotencyKey string) *job.ExecutionMessage {
	return &job.ExecutionMessage{
		JobID:          JobIDReconcileSweep,
		ScriptPath:     JobIDReconcileSweep,
		Parameters:     map[string]any{paramUserIDs: normalizeIDs(userIDs)},
		IdempotencyKey: strings.TrimSpace(idempotencyKey),
		DedupPolicy:    job.DeduplicationPolicy("drop"),
	}
}

func EnqueueReconcileSweep(ctx context.Context, enqueuer queue.Enqueuer, userIDs []string, idempotencyKey string) error {
	if enqueuer == nil {
		return fmt.Errorf("gojob: enqueuer is not configured")
	}
	return enqueuer.Enqueue(ctx, NewReconcileSweepMessage(userIDs, idempotencyKey))
}

type DriftChecker interface {
	CheckAll(ctx context.Context, userIDs []string) ([]core.DriftReport, error)
}

// UserPopulation lists the users a sweep without explicit ids walks.
type UserPopulation interface {
	ListUserIDsWithAccess(ctx context.Context) ([]string, error)
}

// ReportSink receives every report a sweep produces.
type ReportSink func(ctx context.Context, reports []core.DriftReport) error

type ReconcileWorker struct {
	dequeuer   queue.Dequeuer
	checker    DriftChecker
	population UserPopulation
	sink       ReportSink
	policy     RetryPolicy
	retryDelay time.Duration
	hooks      []worker.Hook
	logger     core.Logger
	now        func() time.Time

	mu       sync.Mutex
	attempts map[string]int
}

type WorkerOption func(*ReconcileWorker)

func WithUserPopulation(population UserPopulation) WorkerOption {
	return func(w *ReconcileWorker) {
		w.population = population
	}
}

func WithReportSink(sink ReportSink) WorkerOption {
	return func(w *ReconcileWorker) {
		w.sink = sink
	}
}

func WithRetryPolicy(policy RetryPolicy, delay time.Duration) WorkerOption {
	return func(w *ReconcileWorker) {
		w.policy = policy
		w.retryDelay = delay
	}
}

func WithHooks(hooks ...worker.Hook) WorkerOption {
	return func(w *ReconcileWorker) {
		for _, hook := range hooks {
			if hook != nil {
				w.hooks = append(w.hooks, hook)
			}
		}
	}
}

func WithLogger(logger core.Logger) WorkerOption {
	return func(w *ReconcileWorker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

func WithClock(now func() time.Time) WorkerOption {
	return func(w *ReconcileWorker) {
		if now != nil {
			w.now = now
		}
	}
}

func NewReconcileWorker(dequeuer queue.Dequeuer, checker DriftChecker, opts ...WorkerOption) (*ReconcileWorker, error) {
	if dequeuer == nil {
		return nil, fmt.Errorf("gojob: dequeuer is required")
	}
	if checker == nil {
		return nil, fmt.Errorf("gojob: drift checker is required")
	}
	w := &ReconcileWorker{
		dequeuer:   dequeuer,
		checker:    checker,
		policy:     RetryPolicy{MaxAttempts: 5, MaxDelay: 10 * time.Minute, DeadLetterOnMax: true},
		retryDelay: 30 * time.Second,
		logger:     glog.Nop(),
		now:        func() time.Time { return time.Now().UTC() },
		attempts:   map[string]int{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w, nil
}

// RunOnce dequeues and handles a single delivery. Handler failures are nacked
// and reported through hooks; only queue errors are returned.
func (w *ReconcileWorker) RunOnce(ctx context.Context) error {
	if w == nil {
		return fmt.Errorf("gojob: reconcile worker is nil")
	}
	delivery, err := w.dequeuer.Dequeue(ctx)
	if err != nil {
		return err
	}
	if delivery == nil {
		return nil
	}
	msg := delivery.Message()
	key := attemptKey(msg)
	attempt := w.nextAttempt(key)
	startedAt := w.now()
	event := worker.Event{
		Message:   msg,
		Delivery:  delivery,
		Attempt:   attempt,
		StartedAt: startedAt,
	}
	w.emit(func(h worker.Hook) { h.OnStart(ctx, event) })

	if msg == nil || strings.TrimSpace(msg.JobID) != JobIDReconcileSweep {
		jobID := ""
		if msg != nil {
			jobID = msg.JobID
		}
		w.logger.Warn("reconcile worker dropping unsupported job", "job_id", jobID)
		w.forget(key)
		event.Err = fmt.Errorf("gojob: unsupported job %q", jobID)
		event.Duration = w.now().Sub(startedAt)
		w.emit(func(h worker.Hook) { h.OnFailure(ctx, event) })
		return delivery.Nack(ctx, queue.NackOptions{DeadLetter: true, Reason: "unsupported job"})
	}

	runErr := w.sweep(ctx, msg)
	event.Duration = w.now().Sub(startedAt)
	if runErr == nil {
		w.forget(key)
		w.emit(func(h worker.Hook) { h.OnSuccess(ctx, event) })
		return delivery.Ack(ctx)
	}

	event.Err = runErr
	opts := w.policy.NormalizeAttempt(queue.NackOptions{
		Delay:   w.retryDelay,
		Requeue: true,
		Reason:  runErr.Error(),
	}, attempt)
	if opts.Requeue {
		event.Delay = opts.Delay
		w.emit(func(h worker.Hook) { h.OnRetry(ctx, event) })
	} else {
		w.forget(key)
		w.emit(func(h worker.Hook) { h.OnFailure(ctx, event) })
	}
	return delivery.Nack(ctx, opts)
}

// Run drains deliveries until ctx is cancelled or the queue errors.
func (w *ReconcileWorker) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
	}
}

func (w *ReconcileWorker) sweep(ctx context.Context, msg *job.ExecutionMessage) error {
	userIDs := userIDsFromParameters(msg.Parameters)
	if len(userIDs) == 0 {
		if w.population == nil {
			return fmt.Errorf("gojob: sweep has no user ids and no population source")
		}
		listed, err := w.population.ListUserIDsWithAccess(ctx)
		if err != nil {
			return err
		}
		userIDs = normalizeIDs(listed)
	}
	reports, err := w.checker.CheckAll(ctx, userIDs)
	if err != nil {
		return err
	}
	drifting := 0
	for _, report := range reports {
		if report.HasDrift() {
			drifting++
		}
	}
	w.logger.Info("reconcile sweep completed",
		"users", len(userIDs),
		"reports", len(reports),
		"drifting", drifting,
	)
	if w.sink != nil {
		return w.sink(ctx, reports)
	}
	return nil
}

func (w *ReconcileWorker) emit(fn func(worker.Hook)) {
	for _, hook := range w.hooks {
		fn(hook)
	}
}

func (w *ReconcileWorker) nextAttempt(key string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.attempts[key]++
	return w.attempts[key]
}

func (w *ReconcileWorker) forget(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.attempts, key)
}

func attemptKey(msg *job.ExecutionMessage) string {
	if msg == nil {
		return ""
	}
	if key := strings.TrimSpace(msg.IdempotencyKey); key != "" {
		return key
	}
	return strings.TrimSpace(msg.JobID) + ":" + strings.Join(userIDsFromParameters(msg.Parameters), ",")
}

func userIDsFromParameters(params map[string]any) []string {
	if len(params) == 0 {
		return nil
	}
	switch typed := params[paramUserIDs].(type) {
	case []string:
		return normalizeIDs(typed)
	case []any:
		ids := make([]string, 0, len(typed))
		for _, value := range typed {
			if text, ok := value.(string); ok {
				ids = append(ids, text)
			}
		}
		return normalizeIDs(ids)
	case string:
		return normalizeIDs(strings.Split(typed, ","))
	default:
		return nil
	}
}

func normalizeIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		trimmed := strings.TrimSpace(id)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	sort.Strings(out)
	return out
}
