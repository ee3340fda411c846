package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Nightwatch NightwatchConfig `yaml:"nightwatch"`
}

// NightwatchConfig is the project configuration.
type NightwatchConfig struct {
	Input       InputConfig       `yaml:"input"`
	Storage     StorageConfig     `yaml:"storage"`
	Rules       RulesConfig       `yaml:"rules"`
	Correlation CorrelationConfig `yaml:"correlation"`
	Lineage     LineageConfig     `yaml:"lineage"`
	Ingest      IngestConfig      `yaml:"ingest"`
	Pipeline    PipelineConfig    `yaml:"pipeline"`
	Alerts      AlertsConfig      `yaml:"alerts"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// InputConfig controls the input reader.
type InputConfig struct {
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig controls the Redis event queue.
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	Key          string        `yaml:"key"`
	BlockTimeout time.Duration `yaml:"block_timeout"`
}

// StorageConfig controls the SQLite store.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// RulesConfig controls detection rule loading.
type RulesConfig struct {
	Dir      string `yaml:"dir"`
	SigmaDir string `yaml:"sigma_dir"`
	Builtin  bool   `yaml:"builtin"`
}

// CorrelationConfig controls campaign chaining.
type CorrelationConfig struct {
	Window time.Duration `yaml:"window"`
}

// LineageConfig controls the process tracker.
type LineageConfig struct {
	MaxProcesses int `yaml:"max_processes"`
	MaxDepth     int `yaml:"max_depth"`
}

// IngestConfig controls the event admission guards.
type IngestConfig struct {
	EventsPerMinute int              `yaml:"events_per_minute"`
	ReplayCacheSize int              `yaml:"replay_cache_size"`
	Endpoints       []EndpointConfig `yaml:"endpoints"`
}

// EndpointConfig registers one trusted endpoint. An empty endpoint list
// disables registration checks.
type EndpointConfig struct {
	ID       string `yaml:"id"`
	Hostname string `yaml:"hostname"`
	Secret   string `yaml:"secret"`
}

// PipelineConfig controls pipeline behavior.
type PipelineConfig struct {
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`
}

// AlertsConfig controls the optional alert tap. Mode selects the tap
// backend; an empty mode with an empty tap_path disables the tap.
type AlertsConfig struct {
	Mode    string          `yaml:"mode"`
	TapPath string          `yaml:"tap_path"`
	HTTP    AlertHTTPConfig `yaml:"http"`
}

// AlertHTTPConfig configures the HTTP tap backend.
type AlertHTTPConfig struct {
	URL     string            `yaml:"url"`
	Timeout time.Duration     `yaml:"timeout"`
	Headers map[string]string `yaml:"headers"`
}

// MetricsConfig controls the Prometheus listener.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// LoggingConfig controls logging output.
type LoggingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level"`
	File    string `yaml:"file"`
	Console bool   `yaml:"console"`
}

// LoadConfig reads and parses a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
