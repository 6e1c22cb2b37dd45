// Package deploy dispatches to the environment-specific deploy action. The
// core never interprets how the deploy happens — only that it returns
// success or failure, with a timeout treated as failure.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/artpar/rollout/internal/core/domain"
	"github.com/artpar/rollout/internal/core/envspec"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrNoApplyCommand is returned when an environment has no configured
	// apply command.
	ErrNoApplyCommand = errors.New("no apply command configured for environment")
)

// ExecutionError means the deploy action itself failed or timed out. This is
// the most severe failure category: the environment may be left in a
// partially-updated state.
type ExecutionError struct {
	Environment domain.Environment
	Version     string
	Err         error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("deploy of %s to %s failed: %v", e.Version, e.Environment, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// =============================================================================
// Applier
// =============================================================================

// Applier performs the external deploy action: apply version V to
// environment E and return only after completion or its own timeout.
type Applier interface {
	Apply(ctx context.Context, env domain.Environment, version string) error
}

// =============================================================================
// Command Applier
// =============================================================================

// CommandApplier runs the per-environment apply command (e.g. a kubectl
// rollout or a GitOps sync CLI) with ${VERSION} and ${ENVIRONMENT}
// substituted, bounded by the environment's rollout timeout.
type CommandApplier struct {
	specs  map[domain.Environment]envspec.Spec
	logger *slog.Logger
}

// NewCommandApplier creates a command-backed applier.
func NewCommandApplier(specs map[domain.Environment]envspec.Spec, logger *slog.Logger) *CommandApplier {
	if logger == nil {
		logger = slog.Default()
	}
	return &CommandApplier{
		specs:  specs,
		logger: logger.With("component", "applier"),
	}
}

// ExpandArgv substitutes ${VERSION} and ${ENVIRONMENT} placeholders in an
// apply command argv.
func ExpandArgv(argv []string, env domain.Environment, version string) []string {
	expanded := make([]string, len(argv))
	for i, arg := range argv {
		arg = strings.ReplaceAll(arg, "${VERSION}", version)
		arg = strings.ReplaceAll(arg, "${ENVIRONMENT}", string(env))
		expanded[i] = arg
	}
	return expanded
}

func (a *CommandApplier) Apply(ctx context.Context, env domain.Environment, version string) error {
	spec, ok := a.specs[env]
	if !ok || len(spec.ApplyCommand) == 0 {
		return fmt.Errorf("%w: %s", ErrNoApplyCommand, env)
	}

	timeout := spec.RolloutTimeout
	if timeout <= 0 {
		timeout = envspec.DefaultRolloutTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	argv := ExpandArgv(spec.ApplyCommand, env, version)
	a.logger.Info("running apply command",
		"environment", env,
		"version", version,
		"command", argv[0],
		"timeout", timeout,
	)

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("apply command timed out after %s", timeout)
		}
		return fmt.Errorf("apply command: %w: %s", err, strings.TrimSpace(string(output)))
	}
	return nil
}

// =============================================================================
// Executor
// =============================================================================

// Executor is the thin dispatch from a request to the deploy action. No
// retries happen here; a failed execution terminates the cycle.
type Executor struct {
	applier Applier
	logger  *slog.Logger
}

// NewExecutor creates an executor over an applier.
func NewExecutor(applier Applier, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		applier: applier,
		logger:  logger.With("component", "executor"),
	}
}

// Execute applies a version to an environment. Any failure, including a
// timeout, is wrapped in *ExecutionError.
func (e *Executor) Execute(ctx context.Context, env domain.Environment, version string) error {
	if err := e.applier.Apply(ctx, env, version); err != nil {
		return &ExecutionError{Environment: env, Version: version, Err: err}
	}
	e.logger.Info("deploy action completed", "environment", env, "version", version)
	return nil
}
