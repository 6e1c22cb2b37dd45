package deploy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/rollout/internal/core/domain"
	"github.com/artpar/rollout/internal/core/envspec"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// =============================================================================
// Argv Expansion Tests
// =============================================================================

func TestExpandArgv_SubstitutesPlaceholders(t *testing.T) {
	argv := []string{"kubectl", "set", "image", "app=registry/app:${VERSION}", "-n", "${ENVIRONMENT}"}

	expanded := ExpandArgv(argv, domain.EnvStaging, "v2.0.1")

	assert.Equal(t, []string{"kubectl", "set", "image", "app=registry/app:v2.0.1", "-n", "staging"}, expanded)
	// Input untouched.
	assert.Equal(t, "app=registry/app:${VERSION}", argv[3])
}

func TestExpandArgv_RepeatedPlaceholders(t *testing.T) {
	expanded := ExpandArgv([]string{"deploy", "${VERSION}", "${VERSION}"}, domain.EnvDev, "v1")
	assert.Equal(t, []string{"deploy", "v1", "v1"}, expanded)
}

// =============================================================================
// Command Applier Tests
// =============================================================================

func TestCommandApplier_Success(t *testing.T) {
	specs := map[domain.Environment]envspec.Spec{
		domain.EnvDev: {ApplyCommand: []string{"true"}, RolloutTimeout: time.Second},
	}
	a := NewCommandApplier(specs, testLogger())

	err := a.Apply(context.Background(), domain.EnvDev, "v1")
	assert.NoError(t, err)
}

func TestCommandApplier_CommandFails(t *testing.T) {
	specs := map[domain.Environment]envspec.Spec{
		domain.EnvDev: {ApplyCommand: []string{"false"}, RolloutTimeout: time.Second},
	}
	a := NewCommandApplier(specs, testLogger())

	err := a.Apply(context.Background(), domain.EnvDev, "v1")
	assert.Error(t, err)
}

func TestCommandApplier_Timeout(t *testing.T) {
	specs := map[domain.Environment]envspec.Spec{
		domain.EnvDev: {ApplyCommand: []string{"sleep", "5"}, RolloutTimeout: 50 * time.Millisecond},
	}
	a := NewCommandApplier(specs, testLogger())

	err := a.Apply(context.Background(), domain.EnvDev, "v1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
}

func TestCommandApplier_NoCommandConfigured(t *testing.T) {
	a := NewCommandApplier(map[domain.Environment]envspec.Spec{}, testLogger())

	err := a.Apply(context.Background(), domain.EnvProduction, "v1")
	assert.ErrorIs(t, err, ErrNoApplyCommand)
}

// =============================================================================
// Executor Tests
// =============================================================================

type fakeApplier struct {
	err   error
	calls int
}

func (f *fakeApplier) Apply(_ context.Context, _ domain.Environment, _ string) error {
	f.calls++
	return f.err
}

func TestExecutor_Success(t *testing.T) {
	applier := &fakeApplier{}
	e := NewExecutor(applier, testLogger())

	err := e.Execute(context.Background(), domain.EnvStaging, "v1")
	assert.NoError(t, err)
	assert.Equal(t, 1, applier.calls)
}

func TestExecutor_WrapsFailure(t *testing.T) {
	boom := errors.New("rollout stuck")
	e := NewExecutor(&fakeApplier{err: boom}, testLogger())

	err := e.Execute(context.Background(), domain.EnvProduction, "v3")

	var ee *ExecutionError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, domain.EnvProduction, ee.Environment)
	assert.Equal(t, "v3", ee.Version)
	assert.ErrorIs(t, err, boom)
}

func TestExecutor_NoRetry(t *testing.T) {
	applier := &fakeApplier{err: errors.New("failed")}
	e := NewExecutor(applier, testLogger())

	_ = e.Execute(context.Background(), domain.EnvDev, "v1")
	assert.Equal(t, 1, applier.calls)
}
