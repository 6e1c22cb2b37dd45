// Package dispatcher runs the deployment control loop: dequeue, lock,
// cooldown, preflight, execute, postflight, record. It is runnable as a
// long-lived worker or invoked once for a manual deployment.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/artpar/rollout/internal/core/cooldown"
	"github.com/artpar/rollout/internal/core/domain"
	"github.com/artpar/rollout/internal/shell/deploy"
	"github.com/artpar/rollout/internal/shell/lock"
	"github.com/artpar/rollout/internal/shell/metrics"
	"github.com/artpar/rollout/internal/shell/notify"
	"github.com/artpar/rollout/internal/shell/store"
	"github.com/artpar/rollout/internal/shell/validate"
)

// =============================================================================
// Config
// =============================================================================

// Config holds the dispatcher's timing knobs.
type Config struct {
	// CooldownInterval is the minimum spacing between the end of one
	// successful deployment and the start of the next.
	CooldownInterval time.Duration

	// LockTimeout bounds how long a cycle waits for the deployment lock.
	LockTimeout time.Duration

	// IdleInterval is the sleep between polls of an empty queue. An empty
	// queue is the steady state; this is the only unbounded wait.
	IdleInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.CooldownInterval <= 0 {
		c.CooldownInterval = 5 * time.Minute
	}
	if c.LockTimeout <= 0 {
		c.LockTimeout = time.Minute
	}
	if c.IdleInterval <= 0 {
		c.IdleInterval = 10 * time.Second
	}
	return c
}

// =============================================================================
// Dispatcher
// =============================================================================

// Dispatcher ties the queue, lock, cooldown gate, validators and executor
// into one deployment cycle.
type Dispatcher struct {
	store      store.Store
	locks      *lock.Manager
	preflight  *validate.Preflight
	executor   *deploy.Executor
	postflight *validate.Postflight
	notifier   notify.Notifier
	metrics    *metrics.Metrics
	cfg        Config
	logger     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a dispatcher. notifier and m may be nil.
func New(
	s store.Store,
	locks *lock.Manager,
	preflight *validate.Preflight,
	executor *deploy.Executor,
	postflight *validate.Postflight,
	notifier notify.Notifier,
	m *metrics.Metrics,
	cfg Config,
	logger *slog.Logger,
) *Dispatcher {
	if notifier == nil {
		notifier = notify.Noop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		store:      s,
		locks:      locks,
		preflight:  preflight,
		executor:   executor,
		postflight: postflight,
		notifier:   notifier,
		metrics:    m,
		cfg:        cfg.withDefaults(),
		logger:     logger.With("component", "dispatcher"),
	}
}

// =============================================================================
// Worker Loop
// =============================================================================

// Start launches the worker loop.
func (d *Dispatcher) Start() {
	d.ctx, d.cancel = context.WithCancel(context.Background())
	d.wg.Add(1)
	go d.run()
	d.logger.Info("dispatcher started",
		"cooldown_interval", d.cfg.CooldownInterval,
		"lock_timeout", d.cfg.LockTimeout,
		"idle_interval", d.cfg.IdleInterval,
	)
}

// Stop cancels the loop and waits for the in-flight cycle to finish. An
// execution in progress runs to completion before the lock is released.
func (d *Dispatcher) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		dispatched, err := d.runCycle(d.ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			// Failures never crash the loop; they were recorded as
			// outcomes where applicable.
			d.logger.Error("dispatch cycle failed", "error", err)
		}

		if d.ctx.Err() != nil {
			return
		}

		if dispatched {
			continue
		}

		select {
		case <-d.ctx.Done():
			return
		case <-time.After(d.cfg.IdleInterval):
		}
	}
}

// runCycle dequeues and dispatches at most one request. dispatched is false
// when no work was performed and the loop should idle.
func (d *Dispatcher) runCycle(ctx context.Context) (dispatched bool, err error) {
	req, err := d.store.DequeueRequest(ctx)
	if err != nil {
		return false, fmt.Errorf("dequeue: %w", err)
	}
	d.observeQueueDepth(ctx)
	if req == nil {
		return false, nil
	}

	outcome, err := d.Dispatch(ctx, *req)
	if errors.Is(err, lock.ErrLockTimeout) {
		// The request was never attempted: restore it with its original
		// enqueue time so it keeps its dispatch position. This is an
		// un-consume, not a retry; only dequeued requests are restored.
		if reqErr := d.store.EnqueueRequest(ctx, req); reqErr != nil {
			d.logger.Error("failed to restore request after lock timeout",
				"request_id", req.ID, "error", reqErr)
			return true, fmt.Errorf("restore request after lock timeout: %w", reqErr)
		}
		d.logger.Warn("lock acquisition timed out, request left pending",
			"request_id", req.ID,
			"environment", req.Environment,
			"version", req.Version,
		)
		return false, nil
	}
	if outcome != nil {
		// Terminal result already recorded and logged with phase context.
		return true, nil
	}
	return true, err
}

func (d *Dispatcher) observeQueueDepth(ctx context.Context) {
	if d.metrics == nil {
		return
	}
	if pending, err := d.store.ListRequests(ctx); err == nil {
		d.metrics.QueueDepth.Set(float64(len(pending)))
	}
}

// =============================================================================
// Manual Execution
// =============================================================================

// ExecuteNow runs a synchronous manual deployment. It bypasses the queue
// with a synthetic high-priority request but is not exempt from mutual
// exclusion, cooldown or validation.
func (d *Dispatcher) ExecuteNow(ctx context.Context, version string, env domain.Environment) (*domain.DeploymentOutcome, error) {
	req, err := domain.NewRequest(version, env, domain.PriorityHigh)
	if err != nil {
		return nil, err
	}
	return d.Dispatch(ctx, *req)
}

// =============================================================================
// Dispatch Cycle
// =============================================================================

// Dispatch runs one full cycle for a request:
// lock -> cooldown -> preflight -> execute -> postflight -> record.
// The lock is released on every exit path. Only a succeeded outcome updates
// the cooldown record.
func (d *Dispatcher) Dispatch(ctx context.Context, req domain.DeploymentRequest) (outcome *domain.DeploymentOutcome, err error) {
	logger := d.logger.With(
		"request_id", req.ID,
		"environment", req.Environment,
		"version", req.Version,
	)
	startedAt := time.Now().UTC()

	handle, err := d.locks.Acquire(ctx, d.cfg.LockTimeout)
	if err != nil {
		if errors.Is(err, lock.ErrLockTimeout) {
			if d.metrics != nil {
				d.metrics.LockTimeoutsTotal.Inc()
			}
			logger.Warn("lock acquisition timed out")
		}
		// No partial state: nothing executed, nothing recorded. What to do
		// with the request is the caller's call; the worker loop restores
		// dequeued requests, a manual execution simply reports the failure.
		return nil, err
	}
	defer func() {
		if relErr := d.locks.Release(handle); relErr != nil {
			logger.Error("lock release failed", "error", relErr)
		}
	}()

	if err := d.waitCooldown(ctx, logger); err != nil {
		return nil, err
	}

	phase := func(result domain.Result, cause error) (*domain.DeploymentOutcome, error) {
		o := domain.NewOutcome(req, result, cause.Error(), startedAt, time.Now().UTC())
		d.record(ctx, logger, o)
		return o, cause
	}

	if err := d.preflight.Validate(ctx, req); err != nil {
		logger.Warn("preflight failed", "phase", "preflight", "error", err)
		return phase(domain.ResultFailedPreflight, err)
	}

	if err := d.executor.Execute(ctx, req.Environment, req.Version); err != nil {
		// Loudest category: the environment may be partially updated.
		logger.Error("deploy action failed", "phase", "execute", "error", err)
		return phase(domain.ResultFailedExecution, err)
	}

	if err := d.postflight.Confirm(ctx, req.Environment); err != nil {
		logger.Error("health never converged", "phase", "postflight", "error", err)
		return phase(domain.ResultFailedPostflight, err)
	}

	finishedAt := time.Now().UTC()
	if err := d.store.RecordSuccess(ctx, finishedAt); err != nil {
		logger.Error("failed to record cooldown", "error", err)
		return nil, fmt.Errorf("record cooldown: %w", err)
	}

	o := domain.NewOutcome(req, domain.ResultSucceeded, "", startedAt, finishedAt)
	d.record(ctx, logger, o)
	logger.Info("deployment succeeded", "duration", finishedAt.Sub(startedAt).Round(time.Millisecond))
	return o, nil
}

// waitCooldown sleeps out whatever remains of the cooldown interval. The
// cooldown record itself never blocks; the dispatcher owns the sleep.
func (d *Dispatcher) waitCooldown(ctx context.Context, logger *slog.Logger) error {
	last, err := d.store.LastSuccess(ctx)
	if err != nil {
		return fmt.Errorf("read cooldown: %w", err)
	}

	wait := cooldown.ShouldWait(cooldown.State{LastDeploymentAt: last}, d.cfg.CooldownInterval, time.Now().UTC())
	if wait <= 0 {
		return nil
	}

	logger.Info("cooling down before deploy", "wait", wait.Round(time.Millisecond))
	if d.metrics != nil {
		d.metrics.CooldownWaitSeconds.Observe(wait.Seconds())
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(wait):
		return nil
	}
}

// record persists and publishes an outcome. Audit failures are logged, not
// fatal: the cycle result stands regardless.
func (d *Dispatcher) record(ctx context.Context, logger *slog.Logger, o *domain.DeploymentOutcome) {
	if err := d.store.CreateOutcome(ctx, o); err != nil {
		logger.Error("failed to persist outcome", "error", err)
	}
	if err := d.notifier.Notify(ctx, *o); err != nil {
		logger.Warn("outcome notification failed", "error", err)
	}
	if d.metrics != nil {
		d.metrics.CyclesTotal.WithLabelValues(string(o.Result)).Inc()
		d.metrics.CycleDurationSeconds.Observe(o.FinishedAt.Sub(o.StartedAt).Seconds())
	}
}
