package sandboxconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRunConfig_FailureLimit(t *testing.T) {
	require.Equal(t, -1, RunConfig{}.FailureLimit())
	require.Equal(t, 1, RunConfig{FailFast: true}.FailureLimit())
	require.Equal(t, 5, RunConfig{FailFast: true, FailAfter: 5}.FailureLimit(), "FailAfter takes precedence over FailFast")
	require.Equal(t, 3, RunConfig{FailAfter: 3}.FailureLimit())
}

func TestRunConfig_Timeout(t *testing.T) {
	require.Equal(t, 30*time.Second, RunConfig{}.Timeout())
	require.Equal(t, 5*time.Second, RunConfig{PerTestTimeoutMs: 5000}.Timeout())
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	require.Equal(t, 30000, cfg.PerTestTimeoutMs)
	require.Equal(t, 1, cfg.Concurrency)
	require.Equal(t, []Permission{PermRead}, cfg.Permissions)
	require.Equal(t, "*", cfg.AllowNet)
}

func TestResolve_Presets(t *testing.T) {
	minimal := Resolve(PresetMinimal)
	require.Equal(t, Defaults(), minimal)

	localDev := Resolve(PresetLocalDev)
	require.Equal(t, []Permission{PermRead, PermEnv}, localDev.Permissions)

	cloud := Resolve(PresetCloudWorker)
	require.Equal(t, []Permission{PermRead}, cloud.Permissions)
	require.Equal(t, 60000, cloud.PerTestTimeoutMs)
}

func TestResolveAllowNetFlag(t *testing.T) {
	require.Equal(t, AllowNetUnrestricted, ResolveAllowNetFlag("*"))
	require.Equal(t, AllowNetNoNetwork, ResolveAllowNetFlag(""))
	require.Equal(t, AllowNetNoNetwork, ResolveAllowNetFlag("   "))
	require.Equal(t, "api.example.com,cdn.example.com", ResolveAllowNetFlag(" api.example.com , cdn.example.com "))
	require.Equal(t, AllowNetNoNetwork, ResolveAllowNetFlag(" , , "))
}

func TestResolveFlags_StripsExistingNetPermissionAndAppendsResolved(t *testing.T) {
	cfg := RunConfig{
		Permissions: []Permission{PermNet, PermEnv},
		AllowNet:    "*",
	}
	flags := ResolveFlags(cfg)
	require.Equal(t, []Permission{PermRead, PermEnv, PermNetAll}, flags.Permissions)
	require.Equal(t, AllowNetUnrestricted, flags.AllowNet)
}

func TestResolveFlags_NoNetworkAppendsNoFlag(t *testing.T) {
	cfg := RunConfig{Permissions: []Permission{PermRead}, AllowNet: ""}
	flags := ResolveFlags(cfg)
	require.Equal(t, []Permission{PermRead}, flags.Permissions)
	require.Equal(t, AllowNetNoNetwork, flags.AllowNet)
}

func TestResolveFlags_AllowlistAppendsPlainNetFlag(t *testing.T) {
	cfg := RunConfig{Permissions: []Permission{PermRead}, AllowNet: "api.example.com"}
	flags := ResolveFlags(cfg)
	require.Equal(t, []Permission{PermRead, PermNet}, flags.Permissions)
	require.Equal(t, "api.example.com", flags.AllowNet)
}

func TestResolveFlags_AlwaysEnsuresRead(t *testing.T) {
	cfg := RunConfig{Permissions: nil, AllowNet: ""}
	flags := ResolveFlags(cfg)
	require.Contains(t, flags.Permissions, PermRead)
}

func TestLoad_AppliesYAMLOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("concurrency: 8\nfailFast: true\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 8, cfg.Concurrency)
	require.True(t, cfg.FailFast)
}

func TestLoad_MissingOverrideFileErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
