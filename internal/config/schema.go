// Package config handles YAML configuration loading, environment variable
// expansion, and structural validation for chatfetch.
package config

import "gopkg.in/yaml.v3"

// Config is the top-level configuration structure.
type Config struct {
	// Version is the config format version. Currently only "1" is supported.
	Version string `yaml:"version"`

	// Endpoints maps endpoint names to their raw YAML configuration.
	// Each entry carries a "kind" field selecting the wire protocol.
	Endpoints map[string]yaml.Node `yaml:"endpoints"`

	// Engine holds fetch engine settings applied to every request.
	Engine EngineConfig `yaml:"engine,omitempty"`
}

// EngineConfig controls the fetch engine defaults.
type EngineConfig struct {
	// RetryOnFilter enables one corrective retry after a content filter.
	RetryOnFilter bool `yaml:"retry_on_filter"`

	// RetryOnError enables one retry on a network-changed transport error.
	RetryOnError bool `yaml:"retry_on_error"`

	// RequestLog is the path to the SQLite request log database.
	// Empty keeps request records in memory only.
	RequestLog string `yaml:"request_log,omitempty"`
}

// endpointHeader is the part of an endpoint entry shared by all kinds.
type endpointHeader struct {
	Kind string `yaml:"kind"`
}

// Supported endpoint kinds.
const (
	KindOpenAI    = "openai"
	KindAnthropic = "anthropic"
)
