// Package config loads the agent's JSON configuration and reloads it
// when the file changes on disk.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// AgentConfig controls the run loop.
type AgentConfig struct {
	Provider         string  `json:"provider"`
	Model            string  `json:"model"`
	MaxIterations    int     `json:"max_iterations"`
	MaxContextTokens int     `json:"max_context_tokens"`
	Temperature      float64 `json:"temperature"`
	YOLO             bool    `json:"yolo"`
	SystemPrompt     string  `json:"system_prompt"`
}

// HealthConfig mirrors the monitor's tunable thresholds. Zero values
// fall back to the monitor's defaults.
type HealthConfig struct {
	SlowResponseSeconds int `json:"slow_response_seconds"`
	StallTimeoutSeconds int `json:"stall_timeout_seconds"`
	MaxIssuesPerSession int `json:"max_issues_per_session"`
	Weights             struct {
		IterationHigh int `json:"iteration_high"`
		IterationMid  int `json:"iteration_mid"`
		IterationLow  int `json:"iteration_low"`
		TokenHigh     int `json:"token_high"`
		TokenMid      int `json:"token_mid"`
		ErrorIssue    int `json:"error_issue"`
		WarningIssue  int `json:"warning_issue"`
		SlowAverage   int `json:"slow_average"`
	} `json:"weights"`
}

// DiscoveryConfig controls deferred tool loading.
type DiscoveryConfig struct {
	AlwaysLoaded     []string `json:"always_loaded"`
	MaxResults       int      `json:"max_results"`
	FuzzyMatch       bool     `json:"fuzzy_match"`
	TokenCostPerTool int      `json:"token_cost_per_tool"`
}

// GatewayConfig controls the HTTP/WebSocket surface.
type GatewayConfig struct {
	Addr string `json:"addr"`
}

// TelemetryConfig controls the OTLP metrics exporter.
type TelemetryConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
}

// Config is the full application configuration.
type Config struct {
	Agent      AgentConfig     `json:"agent"`
	Health     HealthConfig    `json:"health"`
	Discovery  DiscoveryConfig `json:"discovery"`
	Gateway    GatewayConfig   `json:"gateway"`
	Telemetry  TelemetryConfig `json:"telemetry"`
	PolicyFile string          `json:"policy_file"`
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		Agent: AgentConfig{
			Provider:         "anthropic",
			Model:            "claude-sonnet-4-5",
			MaxIterations:    50,
			MaxContextTokens: 200000,
			Temperature:      0.7,
		},
		Gateway: GatewayConfig{Addr: ":8420"},
		Telemetry: TelemetryConfig{
			Endpoint: "localhost:4317",
		},
	}
}

// Load reads a JSON config file, layered over Default. A missing file
// is not an error; the defaults are returned.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// SlowResponseThreshold converts the config seconds to a duration,
// zero when unset.
func (h HealthConfig) SlowResponseThreshold() time.Duration {
	return time.Duration(h.SlowResponseSeconds) * time.Second
}

// StallTimeout converts the config seconds to a duration, zero when
// unset.
func (h HealthConfig) StallTimeout() time.Duration {
	return time.Duration(h.StallTimeoutSeconds) * time.Second
}
