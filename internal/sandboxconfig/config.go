// Package sandboxconfig maps the shared, high-level run policy (spec.md §3,
// "Shared run configuration") onto the concrete subprocess sandbox flags the
// harness is invoked with (spec.md §4.8). It follows the teacher's
// pkg/config loading trio (envdecode + godotenv + yaml.v3) generalized from
// per-service config structs to one RunConfig.
package sandboxconfig

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Permission is one subprocess sandbox permission flag.
type Permission string

const (
	PermRead  Permission = "read"
	PermEnv   Permission = "env"
	PermNet   Permission = "net"
	PermNetAll Permission = "net-all"
)

// RunConfig is the closed attribute set from spec.md §3.
type RunConfig struct {
	FailFast         bool          `yaml:"failFast" env:"GLUBEAN_FAIL_FAST"`
	FailAfter        int           `yaml:"failAfter" env:"GLUBEAN_FAIL_AFTER"`
	PerTestTimeoutMs int           `yaml:"perTestTimeoutMs" env:"GLUBEAN_PER_TEST_TIMEOUT_MS"`
	Concurrency      int           `yaml:"concurrency" env:"GLUBEAN_CONCURRENCY"`
	Permissions      []Permission  `yaml:"permissions" env:"-"`
	AllowNet         string        `yaml:"allowNet" env:"GLUBEAN_ALLOW_NET"`
	EmitFullTrace    bool          `yaml:"emitFullTrace" env:"GLUBEAN_EMIT_FULL_TRACE"`
}

// HasFailAfter reports whether FailAfter is set and takes precedence over
// FailFast, per spec.md §3's "takes precedence over failFast" rule.
func (c RunConfig) HasFailAfter() bool { return c.FailAfter > 0 }

// FailureLimit computes the scheduler's failure threshold: FailAfter when
// set, else 1 when FailFast, else unbounded.
func (c RunConfig) FailureLimit() int {
	if c.HasFailAfter() {
		return c.FailAfter
	}
	if c.FailFast {
		return 1
	}
	return -1 // unbounded
}

// Timeout returns PerTestTimeoutMs as a time.Duration, defaulting to 30s.
func (c RunConfig) Timeout() time.Duration {
	if c.PerTestTimeoutMs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.PerTestTimeoutMs) * time.Millisecond
}

// Defaults returns the baseline RunConfig from spec.md §3: read-only file
// access, unrestricted network, no concurrency limiting beyond one worker.
func Defaults() RunConfig {
	return RunConfig{
		PerTestTimeoutMs: 30000,
		Concurrency:      1,
		Permissions:      []Permission{PermRead},
		AllowNet:         "*",
	}
}

// Preset names the three canned permission/timeout bundles from spec.md §4.8.
type Preset string

const (
	PresetMinimal    Preset = "minimal"
	PresetLocalDev   Preset = "local-dev"
	PresetCloudWorker Preset = "cloud-worker"
)

// Resolve applies a named preset on top of Defaults.
func Resolve(preset Preset) RunConfig {
	cfg := Defaults()
	switch preset {
	case PresetLocalDev:
		cfg.Permissions = []Permission{PermRead, PermEnv}
	case PresetCloudWorker:
		cfg.Permissions = []Permission{PermRead}
		cfg.PerTestTimeoutMs = 60000
	case PresetMinimal:
		// Defaults() already is the minimal preset.
	}
	return cfg
}

// Load builds a RunConfig from environment variables (optionally seeded
// from a .env file) overlaid with an optional YAML override file, the same
// two-stage pattern the teacher's pkg/config uses (godotenv then envdecode,
// with yaml.v3 available for structured overrides). GLUBEAN_DEV_CONFIG, if
// set, names a YAML file applied after environment decoding so file values
// win over bare defaults but environment variables still seed the base.
func Load(yamlOverridePath string) (RunConfig, error) {
	_ = godotenv.Load() // optional; missing .env is not an error

	cfg := Defaults()
	if err := envdecode.Decode(&cfg); err != nil && err != envdecode.ErrNoTargetFieldsAreSet {
		return cfg, fmt.Errorf("sandboxconfig: decode env: %w", err)
	}

	path := yamlOverridePath
	if path == "" {
		path = os.Getenv("GLUBEAN_DEV_CONFIG")
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("sandboxconfig: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("sandboxconfig: parse %s: %w", path, err)
		}
	}
	return cfg, nil
}

// AllowNetNoNetwork and AllowNetUnrestricted are the two sentinel
// normalized forms ResolveAllowNetFlag can return, alongside an allowlist.
const (
	AllowNetNoNetwork    = ""
	AllowNetUnrestricted = "*"
)

// ResolveAllowNetFlag implements spec.md §4.8's allowNet mapping:
// "*" ⇒ unrestricted; empty ⇒ no network; otherwise a trimmed,
// empty-dropped comma list, itself falling back to "no network" (fail
// closed) if nothing survives trimming.
func ResolveAllowNetFlag(allowNet string) string {
	trimmed := strings.TrimSpace(allowNet)
	switch trimmed {
	case AllowNetUnrestricted:
		return AllowNetUnrestricted
	case AllowNetNoNetwork:
		return AllowNetNoNetwork
	}

	parts := strings.Split(allowNet, ",")
	hosts := make([]string, 0, len(parts))
	for _, p := range parts {
		h := strings.TrimSpace(p)
		if h == "" {
			continue
		}
		hosts = append(hosts, h)
	}
	if len(hosts) == 0 {
		return AllowNetNoNetwork
	}
	return strings.Join(hosts, ",")
}

// SandboxFlags is the concrete, ordered set of flags the executor passes to
// the harness's host runtime invocation.
type SandboxFlags struct {
	Permissions []Permission
	AllowNet    string // "*", "", or a comma-separated host allowlist
	Timeout     time.Duration
	EmitFullTrace bool
}

// ResolveFlags maps a RunConfig to SandboxFlags, applying the invariants
// from spec.md §4.8: read access is always present, any pre-existing
// network permission flag is stripped before the resolved one is appended.
func ResolveFlags(cfg RunConfig) SandboxFlags {
	perms := make([]Permission, 0, len(cfg.Permissions)+1)
	hasRead := false
	for _, p := range cfg.Permissions {
		if p == PermNet || p == PermNetAll {
			continue // strip any pre-existing network flag
		}
		if p == PermRead {
			hasRead = true
		}
		perms = append(perms, p)
	}
	if !hasRead {
		perms = append([]Permission{PermRead}, perms...)
	}

	allowNet := ResolveAllowNetFlag(cfg.AllowNet)
	switch allowNet {
	case AllowNetUnrestricted:
		perms = append(perms, PermNetAll)
	case AllowNetNoNetwork:
		// no network flag appended
	default:
		perms = append(perms, PermNet)
	}

	return SandboxFlags{
		Permissions:   perms,
		AllowNet:      allowNet,
		Timeout:       cfg.Timeout(),
		EmitFullTrace: cfg.EmitFullTrace,
	}
}
