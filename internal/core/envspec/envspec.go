// Package envspec parses per-environment deployment settings from YAML.
// The file maps environment names to their health endpoint, apply command
// and validation thresholds.
package envspec

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/artpar/rollout/internal/core/domain"
)

// =============================================================================
// Errors
// =============================================================================

var (
	ErrNoEnvironments = errors.New("no environments defined")
	ErrMissingSpec    = errors.New("environment has no spec")
)

// =============================================================================
// Spec
// =============================================================================

// Spec holds the deployment settings for one environment.
type Spec struct {
	// HealthURL is probed by the postflight validator. A 2xx response counts
	// as healthy.
	HealthURL string `yaml:"health_url"`

	// ApplyCommand is the argv executed to apply a version to the
	// environment. Occurrences of ${VERSION} and ${ENVIRONMENT} are
	// substituted before execution.
	ApplyCommand []string `yaml:"apply_command"`

	// RolloutTimeout bounds a single apply invocation. Exceeding it is an
	// execution failure.
	RolloutTimeout time.Duration `yaml:"rollout_timeout"`

	// ClusterGated enables the utilization/unhealthy preflight check.
	// Higher-risk environments opt in; dev and staging typically skip it.
	ClusterGated bool `yaml:"cluster_gated"`

	// UtilizationCeiling is the aggregate utilization percentage above which
	// cluster-gated deployments are refused.
	UtilizationCeiling float64 `yaml:"utilization_ceiling"`
}

type file struct {
	Environments map[string]Spec `yaml:"environments"`
}

// =============================================================================
// Defaults
// =============================================================================

const (
	DefaultRolloutTimeout     = 10 * time.Minute
	DefaultUtilizationCeiling = 80.0
)

// Default returns the built-in environment set used when no spec file is
// configured: production is cluster-gated, dev and staging are not.
func Default() map[domain.Environment]Spec {
	specs := make(map[domain.Environment]Spec, len(domain.Environments))
	for _, env := range domain.Environments {
		specs[env] = Spec{
			RolloutTimeout:     DefaultRolloutTimeout,
			ClusterGated:       env == domain.EnvProduction,
			UtilizationCeiling: DefaultUtilizationCeiling,
		}
	}
	return specs
}

// =============================================================================
// Parsing
// =============================================================================

// Parse decodes an environments file and applies defaults. Environment names
// must belong to the known set.
func Parse(data []byte) (map[domain.Environment]Spec, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse environments: %w", err)
	}
	if len(f.Environments) == 0 {
		return nil, ErrNoEnvironments
	}

	specs := make(map[domain.Environment]Spec, len(f.Environments))
	for name, spec := range f.Environments {
		env, err := domain.ParseEnvironment(name)
		if err != nil {
			return nil, err
		}
		if spec.RolloutTimeout <= 0 {
			spec.RolloutTimeout = DefaultRolloutTimeout
		}
		if spec.UtilizationCeiling <= 0 {
			spec.UtilizationCeiling = DefaultUtilizationCeiling
		}
		specs[env] = spec
	}
	return specs, nil
}

// Load reads and parses an environments file from disk.
func Load(path string) (map[domain.Environment]Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read environments file: %w", err)
	}
	return Parse(data)
}
