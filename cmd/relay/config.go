package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds all relay configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	DBPath          string `json:"db_path"`
	LogLevel        string `json:"log_level"`
	InvokerEndpoint string `json:"invoker_endpoint"`
	InvokerAPIKey   string `json:"invoker_api_key"`
	InvokerTimeout  string `json:"invoker_timeout"`  // Go duration string, e.g. "120s"
	ConditionEngine string `json:"condition_engine"` // "cel" (default) or "expr"
	AgentRatePerMin int    `json:"agent_rate_per_min"`
	AgentRateBurst  int    `json:"agent_rate_burst"`
}

func defaultConfig() Config {
	return Config{
		DBPath:          "file:" + filepath.Join(relayDir(), "relay.db"),
		LogLevel:        "info",
		InvokerTimeout:  "120s",
		ConditionEngine: "cel",
		AgentRateBurst:  1,
	}
}

func relayDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".relay"
	}
	return filepath.Join(home, ".relay")
}

func settingsPath() string {
	return filepath.Join(relayDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("RELAY_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("RELAY_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("RELAY_INVOKER_ENDPOINT"); v != "" {
		cfg.InvokerEndpoint = v
	}
	if v := os.Getenv("RELAY_INVOKER_API_KEY"); v != "" {
		cfg.InvokerAPIKey = v
	}
	if v := os.Getenv("RELAY_INVOKER_TIMEOUT"); v != "" {
		cfg.InvokerTimeout = v
	}
	if v := os.Getenv("RELAY_CONDITION_ENGINE"); v != "" {
		cfg.ConditionEngine = v
	}
	if v := os.Getenv("RELAY_AGENT_RATE_PER_MIN"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.AgentRatePerMin = n
		}
	}
	if v := os.Getenv("RELAY_AGENT_RATE_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.AgentRateBurst = n
		}
	}

	return cfg
}

// invokerTimeout parses the configured invoker timeout, falling back to the
// default on a malformed value.
func (c Config) invokerTimeout() time.Duration {
	d, err := time.ParseDuration(c.InvokerTimeout)
	if err != nil || d <= 0 {
		return 120 * time.Second
	}
	return d
}
