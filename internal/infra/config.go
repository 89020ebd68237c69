package infra

import (
	"fmt"
	"os"

	"rugs_go/internal/domain"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config holds every tunable the pipeline needs. Loaded from YAML, then
// sensitive values are overridden from the environment. Components receive
// the fields they need explicitly; nothing reads ambient global state.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Feed struct {
		WSURL     string `yaml:"ws_url"`
		Origin    string `yaml:"origin"`
		AuthToken string `yaml:"auth_token"`
	} `yaml:"feed"`

	Data struct {
		Root            string `yaml:"root"`    // partitioned batch-file tree
		DBPath          string `yaml:"db_path"` // sqlite wager ledger
		QueueSize       int    `yaml:"queue_size"`
		BatchSize       int    `yaml:"batch_size"`
		FlushIntervalMS int    `yaml:"flush_interval_ms"`
	} `yaml:"data"`

	Bus struct {
		MailboxSize int `yaml:"mailbox_size"`
	} `yaml:"bus"`

	Engine struct {
		EntryTick           int64           `yaml:"entry_tick"`
		Stake               decimal.Decimal `yaml:"stake"`
		MaxActionsPerGame   int             `yaml:"max_actions_per_game"`
		ConfirmTimeoutTicks int64           `yaml:"confirm_timeout_ticks"`
	} `yaml:"engine"`

	Executor struct {
		Mode      string `yaml:"mode"` // "sim", "api", "browser"
		APIURL    string `yaml:"api_url"`
		BridgeURL string `yaml:"bridge_url"`
	} `yaml:"executor"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// LoadConfig reads and parses the configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", domain.ErrConfigNotFound, path)
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	overrideWithEnv(&cfg)
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Data.QueueSize <= 0 {
		cfg.Data.QueueSize = 4096
	}
	if cfg.Data.BatchSize <= 0 {
		cfg.Data.BatchSize = 200
	}
	if cfg.Data.FlushIntervalMS <= 0 {
		cfg.Data.FlushIntervalMS = 2000
	}
	if cfg.Bus.MailboxSize <= 0 {
		cfg.Bus.MailboxSize = 1024
	}
	if cfg.Engine.MaxActionsPerGame <= 0 {
		cfg.Engine.MaxActionsPerGame = 3
	}
	if cfg.Engine.ConfirmTimeoutTicks <= 0 {
		cfg.Engine.ConfirmTimeoutTicks = 60
	}
	if cfg.Executor.Mode == "" {
		cfg.Executor.Mode = "sim"
	}
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if c.Feed.WSURL == "" || (!hasPrefix(c.Feed.WSURL, "ws://") && !hasPrefix(c.Feed.WSURL, "wss://")) {
		return &domain.ConfigError{Field: "feed.ws_url", Err: fmt.Errorf("invalid WS URL: %q", c.Feed.WSURL)}
	}
	if c.Data.Root == "" {
		return &domain.ConfigError{Field: "data.root", Err: fmt.Errorf("path is required")}
	}
	if c.Engine.Stake.IsNegative() || c.Engine.Stake.IsZero() {
		return &domain.ConfigError{Field: "engine.stake", Err: fmt.Errorf("must be positive, got %s", c.Engine.Stake)}
	}
	if c.Engine.EntryTick < 0 {
		return &domain.ConfigError{Field: "engine.entry_tick", Err: fmt.Errorf("must be non-negative")}
	}

	switch c.Executor.Mode {
	case "sim":
	case "api":
		if c.Executor.APIURL == "" {
			return &domain.ConfigError{Field: "executor.api_url", Err: fmt.Errorf("required for mode 'api'")}
		}
	case "browser":
		if c.Executor.BridgeURL == "" {
			return &domain.ConfigError{Field: "executor.bridge_url", Err: fmt.Errorf("required for mode 'browser'")}
		}
	default:
		return &domain.ConfigError{Field: "executor.mode", Err: fmt.Errorf("unknown mode: %q", c.Executor.Mode)}
	}

	return nil
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[0:len(prefix)] == prefix
}

// overrideWithEnv overrides config values from environment variables when present.
func overrideWithEnv(cfg *Config) {
	if url := os.Getenv("RUGS_FEED_URL"); url != "" {
		cfg.Feed.WSURL = url
	}
	if token := os.Getenv("RUGS_AUTH_TOKEN"); token != "" {
		cfg.Feed.AuthToken = token
	}
	if root := os.Getenv("RUGS_DATA_ROOT"); root != "" {
		cfg.Data.Root = root
	}
	if db := os.Getenv("RUGS_DB_PATH"); db != "" {
		cfg.Data.DBPath = db
	}
}
