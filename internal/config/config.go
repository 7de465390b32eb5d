// Package config loads and hot-reloads the ambient tunables behind
// internal/client, internal/manager, internal/dispatch, and
// internal/collab, grounded on the teacher's yaml-tagged config struct
// + loader pattern (internal/config/config_llm.go,
// internal/config/loader.go) but scoped to this module's much smaller
// tunable set.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full set of tunables a deployment may override.
// Zero-valued fields mean "use the component's own built-in default" —
// Load never has to guess a value the owning package already knows.
type Config struct {
	Client  ClientConfig  `yaml:"client"`
	Manager ManagerConfig `yaml:"manager"`
	Collab  CollabConfig  `yaml:"collaboration"`
}

// ClientConfig mirrors internal/client.Config's tunables (spec §4.3).
type ClientConfig struct {
	BaseURL           string        `yaml:"base_url"`
	RequestMaxRetries int           `yaml:"request_max_retries"`
	StreamIdleTimeout time.Duration `yaml:"stream_idle_timeout"`
	BackoffBase       time.Duration `yaml:"backoff_base"`
	BackoffMax        time.Duration `yaml:"backoff_max"`
}

// ManagerConfig mirrors internal/manager.Config's tunables (spec §4.6).
type ManagerConfig struct {
	MaxActiveSubagents        int64         `yaml:"max_active_subagents"`
	RootInboxAutosubmit       bool          `yaml:"root_inbox_autosubmit"`
	RootAgentUsesUserMessages bool          `yaml:"root_agent_uses_user_messages"`
	DefaultAwaitTimeout       time.Duration `yaml:"default_await_timeout"`
}

// CollabConfig mirrors internal/collab.Limits (spec §4.9 "a").
type CollabConfig struct {
	MaxAgents int `yaml:"max_agents"`
	MaxDepth  int `yaml:"max_depth"`
}

// Load reads and parses path as YAML. A missing file is not an error —
// it returns a zero Config, letting every component fall back to its
// own built-in default, matching the ambient-config concern the spec's
// Non-goals leave untouched (file editing/persistence is out of scope;
// reading a deployment-provided file is not).
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Config{}, nil
		}
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}
