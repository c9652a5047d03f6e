package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultSettings(t *testing.T) {
	cfg := DefaultSettings()
	assert.Equal(t, 5*time.Second, cfg.EngineTimeout)
	assert.True(t, cfg.HasEngine("python"))
	assert.True(t, cfg.HasEngine("javascript"))
	assert.False(t, cfg.HasEngine("ruby"))
}

func TestLoadFromFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := `{"data_path":"/var/lib/evalgw","engines":[{"name":"python3"},{"name":"javascript","disable":true}]}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/evalgw", cfg.DataPath)
	assert.False(t, cfg.HasEngine("javascript"), "expected javascript disabled by file override")
	assert.True(t, cfg.HasEngine("python3"))
	// field not present in the file keeps its default
	assert.Equal(t, ":8080", cfg.Daemon.HTTPAddr)
}

func TestLoadFromYAMLFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "data_path: /srv/evalgw\n" +
		"engines:\n" +
		"  - name: python3\n" +
		"  - name: javascript\n" +
		"    disable: true\n" +
		"daemon:\n" +
		"  http_addr: :9091\n" +
		"cluster:\n" +
		"  enabled: true\n" +
		"  redis_dsn: redis://localhost:6379/0\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "/srv/evalgw", cfg.DataPath)
	assert.Equal(t, ":9091", cfg.Daemon.HTTPAddr)
	assert.True(t, cfg.Cluster.Enabled)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Cluster.RedisDSN)
	assert.False(t, cfg.HasEngine("javascript"))
	assert.True(t, cfg.HasEngine("python3"))
}

func TestLoadFromEnvOverrides(t *testing.T) {
	cfg := DefaultSettings()
	t.Setenv("EVALGW_DATA_PATH", "/data/x")
	t.Setenv("EVALGW_ENGINE_TIMEOUT", "2s")
	t.Setenv("EVALGW_METRICS_ENABLED", "false")

	LoadFromEnv(cfg)

	assert.Equal(t, "/data/x", cfg.DataPath)
	assert.Equal(t, 2*time.Second, cfg.EngineTimeout)
	assert.False(t, cfg.Observability.MetricsEnabled)
}

func TestParseBool(t *testing.T) {
	cases := map[string]bool{"true": true, "1": true, "yes": true, "TRUE": true, "false": false, "": false, "no": false}
	for in, want := range cases {
		assert.Equal(t, want, parseBool(in), "parseBool(%q)", in)
	}
}
