// Package config loads and validates gateway settings: data paths, engine
// kinds, timeouts, and the hardened environment whitelist handed to child
// processes.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DaemonConfig holds daemon-specific settings.
type DaemonConfig struct {
	HTTPAddr string `json:"http_addr" yaml:"http_addr"`
	LogLevel string `json:"log_level" yaml:"log_level"`
}

// ObservabilityConfig holds tracing/metrics/logging settings.
type ObservabilityConfig struct {
	TracingEnabled  bool    `json:"tracing_enabled" yaml:"tracing_enabled"`
	TracingEndpoint string  `json:"tracing_endpoint" yaml:"tracing_endpoint"`
	TracingSampling float64 `json:"tracing_sample_rate" yaml:"tracing_sample_rate"`
	MetricsEnabled  bool    `json:"metrics_enabled" yaml:"metrics_enabled"`
	LogFormat       string  `json:"log_format" yaml:"log_format"` // text, json
}

// ClusterConfig holds the optional Redis-backed cross-instance ownership
// hint described in SPEC_FULL.md §4. Disabled by default; the in-memory
// registry is authoritative either way.
type ClusterConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	RedisDSN string `json:"redis_dsn" yaml:"redis_dsn"`
}

// EngineEntry describes one supported engine kind and whether it is enabled.
type EngineEntry struct {
	Name    string `json:"name" yaml:"name"`
	Disable bool   `json:"disable" yaml:"disable"`
}

// GRPCConfig enables the thin internal control-plane RPC.
type GRPCConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

// Settings is the root gateway configuration: data_path, engine_timeout,
// evaluate_timeout and environ from the original Settings singleton, plus
// the ambient daemon/observability/cluster sections a production Go
// service carries.
type Settings struct {
	// DataPath is the root directory under which each engine gets its own
	// <data_path>/<uuid> working/home directory.
	DataPath string `json:"data_path" yaml:"data_path"`

	// EngineTimeout bounds how long the runner waits for the readiness
	// token before killing the child and failing the start with "timeout".
	EngineTimeout time.Duration `json:"engine_timeout" yaml:"engine_timeout"`

	// EvaluateTimeout bounds a single in-flight call; 0 disables the timer.
	EvaluateTimeout time.Duration `json:"evaluate_timeout" yaml:"evaluate_timeout"`

	// EnvironAll clones the parent environment wholesale when true. When
	// false, EnvironPass names parent variables to carry through verbatim
	// and EnvironSet adds literal key/value pairs on top.
	EnvironAll  bool              `json:"environ_all" yaml:"environ_all"`
	EnvironPass []string          `json:"environ_pass" yaml:"environ_pass"`
	EnvironSet  map[string]string `json:"environ_set" yaml:"environ_set"`

	// PythonPath is exported as PYTHONPATH to python/python3 children.
	PythonPath string `json:"python_path" yaml:"python_path"`

	// EnginePath resolves the binary spawned for the javascript engine kind.
	EnginePath string `json:"engine_path" yaml:"engine_path"`

	// Engines lists which engine kinds are available and enabled.
	Engines []EngineEntry `json:"engines" yaml:"engines"`

	Daemon        DaemonConfig        `json:"daemon" yaml:"daemon"`
	Observability ObservabilityConfig `json:"observability" yaml:"observability"`
	Cluster       ClusterConfig       `json:"cluster" yaml:"cluster"`
	GRPC          GRPCConfig          `json:"grpc" yaml:"grpc"`
}

// DefaultSettings returns sensible defaults.
func DefaultSettings() *Settings {
	return &Settings{
		DataPath:        "/tmp/evalgw/engines",
		EngineTimeout:   5 * time.Second,
		EvaluateTimeout: 0,
		EnvironAll:      true,
		PythonPath:      "",
		EnginePath:      "./bin/evalgw-engine",
		Engines: []EngineEntry{
			{Name: "python"},
			{Name: "python3"},
			{Name: "javascript"},
		},
		Daemon: DaemonConfig{
			HTTPAddr: ":8080",
			LogLevel: "info",
		},
		Observability: ObservabilityConfig{
			TracingEnabled:  false,
			TracingEndpoint: "localhost:4318",
			TracingSampling: 1.0,
			MetricsEnabled:  true,
			LogFormat:       "text",
		},
		Cluster: ClusterConfig{Enabled: false},
		GRPC:    GRPCConfig{Enabled: false, Addr: ":9090"},
	}
}

// LoadFromFile loads configuration from a JSON or YAML file, applying it
// on top of DefaultSettings. The format is chosen by extension: .yaml and
// .yml decode with yaml.v3, everything else decodes as JSON.
func LoadFromFile(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultSettings()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// LoadFromEnv applies EVALGW_* environment variable overrides.
func LoadFromEnv(cfg *Settings) {
	if v := os.Getenv("EVALGW_DATA_PATH"); v != "" {
		cfg.DataPath = v
	}
	if v := os.Getenv("EVALGW_ENGINE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.EngineTimeout = d
		}
	}
	if v := os.Getenv("EVALGW_EVALUATE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.EvaluateTimeout = d
		}
	}
	if v := os.Getenv("EVALGW_ENGINE_PATH"); v != "" {
		cfg.EnginePath = v
	}
	if v := os.Getenv("EVALGW_HTTP_ADDR"); v != "" {
		cfg.Daemon.HTTPAddr = v
	}
	if v := os.Getenv("EVALGW_LOG_LEVEL"); v != "" {
		cfg.Daemon.LogLevel = v
	}
	if v := os.Getenv("EVALGW_LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}
	if v := os.Getenv("EVALGW_TRACING_ENABLED"); v != "" {
		cfg.Observability.TracingEnabled = parseBool(v)
	}
	if v := os.Getenv("EVALGW_TRACING_ENDPOINT"); v != "" {
		cfg.Observability.TracingEndpoint = v
	}
	if v := os.Getenv("EVALGW_METRICS_ENABLED"); v != "" {
		cfg.Observability.MetricsEnabled = parseBool(v)
	}
	if v := os.Getenv("EVALGW_CLUSTER_ENABLED"); v != "" {
		cfg.Cluster.Enabled = parseBool(v)
	}
	if v := os.Getenv("EVALGW_REDIS_DSN"); v != "" {
		cfg.Cluster.RedisDSN = v
	}
	if v := os.Getenv("EVALGW_GRPC_ENABLED"); v != "" {
		cfg.GRPC.Enabled = parseBool(v)
	}
	if v := os.Getenv("EVALGW_GRPC_ADDR"); v != "" {
		cfg.GRPC.Addr = v
	}
}

// EnabledEngineNames returns the lower-cased names of enabled engine kinds.
func (s *Settings) EnabledEngineNames() []string {
	names := make([]string, 0, len(s.Engines))
	for _, e := range s.Engines {
		if !e.Disable {
			names = append(names, strings.ToLower(e.Name))
		}
	}
	return names
}

// HasEngine reports whether the given kind is configured and enabled.
func (s *Settings) HasEngine(kind string) bool {
	kind = strings.ToLower(kind)
	for _, e := range s.Engines {
		if strings.ToLower(e.Name) == kind {
			return !e.Disable
		}
	}
	return false
}

func parseBool(s string) bool {
	s = strings.ToLower(s)
	return s == "true" || s == "1" || s == "yes"
}
