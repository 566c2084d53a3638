package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"admissiongate/internal/gateway/core"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Parallel()

	cfg, err := LoadConfig(LoadOptions{Args: []string{}, Environ: []string{}})
	require.NoError(t, err)
	assert.True(t, cfg.EnableHTTP)
	assert.Equal(t, 100*time.Millisecond, cfg.StoreTimeout)
	assert.Equal(t, int64(10), cfg.EmergencyCap)
	assert.Equal(t, 0.1, cfg.RouterDefaults.ReservedFraction)
}

func TestLoadConfig_FileOverridesDefaults(t *testing.T) {
	t.Parallel()

	path := writeConfigFile(t, `{
		"Region": "eu-west",
		"StoreTimeout": 250,
		"LeaseTTL": "45000",
		"UseRedis": true,
		"RedisAddr": "redis:6379",
		"CircuitDefaults": {"FailureRatio": 0.75, "RecoveryTimeout": 20000},
		"Rules": [
			{"Tier": "standard", "ResourcePattern": "/v1/*", "BaseQuota": 100, "Window": 60000, "PriorityMultiplier": 2}
		],
		"Principals": [
			{"ID": "tenant-1", "Tier": "standard", "EventIDs": ["launch"]}
		],
		"Upstreams": [
			{"ID": "search", "ProbeTarget": "search:9000", "Slots": 32}
		],
		"Routes": [
			{"ResourcePattern": "/v1/*", "Upstreams": ["search"]}
		]
	}`)

	cfg, err := LoadConfig(LoadOptions{ConfigPath: path, Args: []string{}, Environ: []string{}})
	require.NoError(t, err)
	assert.Equal(t, "eu-west", cfg.Region)
	assert.Equal(t, 250*time.Millisecond, cfg.StoreTimeout)
	assert.Equal(t, 45*time.Second, cfg.LeaseTTL, "string durations are milliseconds")
	assert.True(t, cfg.UseRedis)
	assert.Equal(t, "redis:6379", cfg.RedisAddr)
	assert.Equal(t, 0.75, cfg.CircuitDefaults.FailureRatio)
	assert.Equal(t, 20*time.Second, cfg.CircuitDefaults.RecoveryTimeout)

	require.Len(t, cfg.Rules, 1)
	assert.Equal(t, core.TierStandard, cfg.Rules[0].Tier)
	assert.Equal(t, time.Minute, cfg.Rules[0].Window)
	require.Len(t, cfg.Principals, 1)
	assert.Equal(t, "tenant-1", cfg.Principals[0].ID)
	require.Len(t, cfg.Upstreams, 1)
	assert.Equal(t, int64(32), cfg.Upstreams[0].Slots)
	require.Len(t, cfg.Routes, 1)
	assert.Equal(t, []string{"search"}, cfg.Routes[0].Upstreams)
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	t.Parallel()

	path := writeConfigFile(t, `{"Region": "eu-west", "EmergencyCap": 5}`)
	cfg, err := LoadConfig(LoadOptions{
		ConfigPath: path,
		Args:       []string{},
		Environ: []string{
			"ADMISSION_REGION=ap-south",
			"ADMISSION_EMERGENCY_CAP=20",
			"ADMISSION_USE_REDIS=true",
			"ADMISSION_STORE_TIMEOUT_MS=75",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "ap-south", cfg.Region, "env must override file")
	assert.Equal(t, int64(20), cfg.EmergencyCap)
	assert.True(t, cfg.UseRedis)
	assert.Equal(t, 75*time.Millisecond, cfg.StoreTimeout)
}

func TestLoadConfig_FlagsOverrideEnv(t *testing.T) {
	t.Parallel()

	cfg, err := LoadConfig(LoadOptions{
		Args: []string{
			"-region", "us-west",
			"-http_addr", ":9090",
			"-lease_ttl_ms", "5000",
		},
		Environ: []string{"ADMISSION_REGION=ap-south"},
	})
	require.NoError(t, err)
	assert.Equal(t, "us-west", cfg.Region, "flags must override env")
	assert.Equal(t, ":9090", cfg.HTTPListenAddr)
	assert.Equal(t, 5*time.Second, cfg.LeaseTTL)
}

func TestLoadConfig_ConfigFlagSelectsFile(t *testing.T) {
	t.Parallel()

	path := writeConfigFile(t, `{"Region": "from-file"}`)
	cfg, err := LoadConfig(LoadOptions{Args: []string{"-config", path}, Environ: []string{}})
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.Region)
}

func TestLoadConfig_BadInputs(t *testing.T) {
	t.Parallel()

	_, err := LoadConfig(LoadOptions{ConfigPath: "/nonexistent/gateway.json", Args: []string{}, Environ: []string{}})
	assert.Error(t, err, "missing config file")

	malformed := writeConfigFile(t, `{not json`)
	_, err = LoadConfig(LoadOptions{ConfigPath: malformed, Args: []string{}, Environ: []string{}})
	assert.Error(t, err, "malformed config file")

	badTier := writeConfigFile(t, `{"Principals": [{"ID": "p", "Tier": "platinum"}]}`)
	_, err = LoadConfig(LoadOptions{ConfigPath: badTier, Args: []string{}, Environ: []string{}})
	assert.Error(t, err, "unknown tier")

	_, err = LoadConfig(LoadOptions{Args: []string{}, Environ: []string{"ADMISSION_ENABLE_HTTP=maybe"}})
	assert.Error(t, err, "malformed bool env value")

	_, err = LoadConfig(LoadOptions{Args: []string{"-trace_sample_rate", "lots"}, Environ: []string{}})
	assert.Error(t, err, "malformed flag value")
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Region = "us-east"
	require.NoError(t, cfg.Validate())

	cfg = Default()
	cfg.Region = ""
	cfg.EnableAuth = true
	cfg.UseRedis = true
	cfg.Rules = []*core.RateLimitRule{{ResourcePattern: "/v1/*", BaseQuota: 0, Window: 0}}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "region")
	assert.Contains(t, err.Error(), "admin token")
	assert.Contains(t, err.Error(), "redis address")
	assert.Contains(t, err.Error(), "base quota")

	cfg = Default()
	cfg.Region = "us-east"
	cfg.Routes = []*core.RouteConfig{{ResourcePattern: "/v1/*", Upstreams: []string{"ghost"}}}
	assert.Error(t, cfg.Validate(), "route to unknown upstream")
}
