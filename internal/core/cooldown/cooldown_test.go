package cooldown

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimeSinceLast_Never(t *testing.T) {
	_, ok := TimeSinceLast(State{}, time.Now())
	assert.False(t, ok)
}

func TestTimeSinceLast_Elapsed(t *testing.T) {
	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	last := now.Add(-30 * time.Second)

	since, ok := TimeSinceLast(State{LastDeploymentAt: &last}, now)
	assert.True(t, ok)
	assert.Equal(t, 30*time.Second, since)
}

func TestShouldWait_FirstDeploymentNeverWaits(t *testing.T) {
	wait := ShouldWait(State{}, time.Minute, time.Now())
	assert.Zero(t, wait)
}

func TestShouldWait_WithinInterval(t *testing.T) {
	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	last := now.Add(-30 * time.Second)

	wait := ShouldWait(State{LastDeploymentAt: &last}, 60*time.Second, now)
	assert.Equal(t, 30*time.Second, wait)
}

func TestShouldWait_IntervalElapsed(t *testing.T) {
	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	last := now.Add(-2 * time.Minute)

	wait := ShouldWait(State{LastDeploymentAt: &last}, time.Minute, now)
	assert.Zero(t, wait)
}

func TestShouldWait_ExactBoundary(t *testing.T) {
	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	last := now.Add(-time.Minute)

	wait := ShouldWait(State{LastDeploymentAt: &last}, time.Minute, now)
	assert.Zero(t, wait)
}
