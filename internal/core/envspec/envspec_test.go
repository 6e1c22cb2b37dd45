package envspec

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/rollout/internal/core/domain"
)

func TestParse_FullSpec(t *testing.T) {
	data := []byte(`
environments:
  production:
    health_url: https://app.example.com/healthz
    apply_command: ["kubectl", "set", "image", "app=registry/app:${VERSION}"]
    rollout_timeout: 15m
    cluster_gated: true
    utilization_ceiling: 75
  staging:
    health_url: https://staging.example.com/healthz
    apply_command: ["./deploy.sh", "${ENVIRONMENT}", "${VERSION}"]
`)

	specs, err := Parse(data)
	require.NoError(t, err)
	require.Len(t, specs, 2)

	prod := specs[domain.EnvProduction]
	assert.Equal(t, "https://app.example.com/healthz", prod.HealthURL)
	assert.Equal(t, 15*time.Minute, prod.RolloutTimeout)
	assert.True(t, prod.ClusterGated)
	assert.Equal(t, 75.0, prod.UtilizationCeiling)

	staging := specs[domain.EnvStaging]
	assert.False(t, staging.ClusterGated)
	assert.Equal(t, DefaultRolloutTimeout, staging.RolloutTimeout)
	assert.Equal(t, DefaultUtilizationCeiling, staging.UtilizationCeiling)
}

func TestParse_UnknownEnvironment(t *testing.T) {
	_, err := Parse([]byte("environments:\n  qa:\n    health_url: http://x\n"))
	assert.ErrorIs(t, err, domain.ErrUnknownEnvironment)
}

func TestParse_Empty(t *testing.T) {
	_, err := Parse([]byte("environments: {}\n"))
	assert.ErrorIs(t, err, ErrNoEnvironments)
}

func TestParse_Malformed(t *testing.T) {
	_, err := Parse([]byte("environments: [not, a, map]"))
	assert.Error(t, err)
}

func TestDefault_ProductionIsGated(t *testing.T) {
	specs := Default()
	require.Len(t, specs, len(domain.Environments))

	assert.True(t, specs[domain.EnvProduction].ClusterGated)
	assert.False(t, specs[domain.EnvDev].ClusterGated)
	assert.False(t, specs[domain.EnvStaging].ClusterGated)

	for env, spec := range specs {
		assert.Equal(t, DefaultRolloutTimeout, spec.RolloutTimeout, "environment %s", env)
		assert.Equal(t, DefaultUtilizationCeiling, spec.UtilizationCeiling, "environment %s", env)
	}
}

func TestLoad_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "environments.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
environments:
  dev:
    apply_command: ["true"]
`), 0o600))

	specs, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"true"}, specs[domain.EnvDev].ApplyCommand)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
