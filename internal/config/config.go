package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the settings required to boot the monitoring engine.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
	Engine     EngineConfig     `yaml:"engine"`
	Rules      RulesConfig      `yaml:"rules"`
	Alarms     AlarmsConfig     `yaml:"alarms"`
	Cache      CacheConfig      `yaml:"cache"`
	Events     EventsConfig     `yaml:"events"`
	Snapshot   SnapshotConfig   `yaml:"snapshot"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
}

// ServerConfig controls the HTTP listeners.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// EngineConfig controls the analyzer engine.
type EngineConfig struct {
	// PopTimeout bounds how long the dispatcher blocks waiting for an event
	// before re-checking for shutdown.
	PopTimeout time.Duration `yaml:"popTimeout"`
	// ReloadWait bounds how long a rule reload waits for a tenant analyzer to
	// drain before giving up.
	ReloadWait time.Duration `yaml:"reloadWait"`
	// StopWait bounds how long engine shutdown waits for each tenant analyzer
	// to drain before abandoning it.
	StopWait time.Duration `yaml:"stopWait"`
}

// RulesConfig selects and configures the rule definition source.
type RulesConfig struct {
	// Source is "file" or "http".
	Source string            `yaml:"source"`
	File   FileRulesConfig   `yaml:"file"`
	Server ServerRulesConfig `yaml:"server"`
	// CacheTTL bounds how long fetched definitions are served from cache.
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// FileRulesConfig points at a YAML rules file.
type FileRulesConfig struct {
	Path string `yaml:"path"`
}

// ServerRulesConfig configures access to the rule document store API.
type ServerRulesConfig struct {
	BaseURL string        `yaml:"baseURL"`
	APIKey  string        `yaml:"apiKey"`
	Timeout time.Duration `yaml:"timeout"`
}

// AlarmsConfig controls alarm delivery and flood control.
type AlarmsConfig struct {
	// FloodCooldown is the per-origin quiet period after a delivered alarm.
	FloodCooldown time.Duration `yaml:"floodCooldown"`
	// FlushInterval is how often the aggregator is checked for due summaries.
	FlushInterval time.Duration `yaml:"flushInterval"`
	Slack         SlackConfig   `yaml:"slack"`
	Email         EmailConfig   `yaml:"email"`
}

// SlackConfig configures the Slack webhook channel.
type SlackConfig struct {
	Enabled    bool          `yaml:"enabled"`
	WebhookURL string        `yaml:"webhookURL"`
	Channel    string        `yaml:"channel"`
	Timeout    time.Duration `yaml:"timeout"`
	// MinLevel is the lowest alarm level the channel receives: low, medium
	// or high.
	MinLevel string `yaml:"minLevel"`
}

// EmailConfig configures the SMTP channel.
type EmailConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Host     string        `yaml:"host"`
	Port     int           `yaml:"port"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	From     string        `yaml:"from"`
	To       []string      `yaml:"to"`
	MinLevel string        `yaml:"minLevel"`
	Timeout  time.Duration `yaml:"timeout"`
}

// CacheConfig controls the Valkey connection shared by the rule cache and the
// event archive.
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	MaxRetries   int           `yaml:"maxRetries"`
	TLS          bool          `yaml:"tls"`
}

// EventsConfig controls the event archive.
type EventsConfig struct {
	ArchiveEnabled bool `yaml:"archiveEnabled"`
}

// SnapshotConfig controls periodic status snapshots.
type SnapshotConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Path     string        `yaml:"path"`
	Interval time.Duration `yaml:"interval"`
}

// SupervisorConfig controls the engine restart loop.
type SupervisorConfig struct {
	MaxRestarts  int           `yaml:"maxRestarts"`
	RestartDelay time.Duration `yaml:"restartDelay"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("HEALTHWATCH_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8080",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Engine: EngineConfig{
			PopTimeout: time.Second,
			ReloadWait: 30 * time.Second,
			StopWait:   30 * time.Second,
		},
		Rules: RulesConfig{
			Source:   "file",
			File:     FileRulesConfig{Path: "configs/rules.yaml"},
			Server:   ServerRulesConfig{Timeout: 5 * time.Second},
			CacheTTL: 5 * time.Minute,
		},
		Alarms: AlarmsConfig{
			FloodCooldown: time.Minute,
			FlushInterval: time.Second,
			Slack:         SlackConfig{Timeout: 5 * time.Second, MinLevel: "medium"},
			Email:         EmailConfig{Port: 587, MinLevel: "high", Timeout: 10 * time.Second},
		},
		Cache: CacheConfig{
			Enabled:      false,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			MaxRetries:   2,
		},
		Events: EventsConfig{ArchiveEnabled: false},
		Snapshot: SnapshotConfig{
			Enabled:  false,
			Path:     "status.json",
			Interval: 30 * time.Second,
		},
		Supervisor: SupervisorConfig{
			MaxRestarts:  5,
			RestartDelay: 5 * time.Second,
		},
	}
}

func validate(cfg *Config) error {
	switch cfg.Rules.Source {
	case "file", "http":
	default:
		return fmt.Errorf("rules.source must be \"file\" or \"http\", got %q", cfg.Rules.Source)
	}
	if cfg.Rules.Source == "http" && cfg.Rules.Server.BaseURL == "" {
		return errors.New("rules.server.baseURL is required when rules.source is \"http\"")
	}
	if cfg.Engine.PopTimeout <= 0 {
		return errors.New("engine.popTimeout must be positive")
	}
	if cfg.Engine.ReloadWait <= 0 {
		return errors.New("engine.reloadWait must be positive")
	}
	if cfg.Engine.StopWait <= 0 {
		return errors.New("engine.stopWait must be positive")
	}
	if cfg.Alarms.FloodCooldown <= 0 {
		return errors.New("alarms.floodCooldown must be positive")
	}
	if cfg.Alarms.FlushInterval <= 0 {
		return errors.New("alarms.flushInterval must be positive")
	}
	if cfg.Cache.Enabled && cfg.Cache.Addr == "" {
		return errors.New("cache.addr is required when cache.enabled is true")
	}
	if cfg.Events.ArchiveEnabled && !cfg.Cache.Enabled {
		return errors.New("events.archiveEnabled requires cache.enabled")
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("HEALTHWATCH_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("HEALTHWATCH_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("HEALTHWATCH_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("HEALTHWATCH_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("HEALTHWATCH_ENGINE_POP_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Engine.PopTimeout = d
		}
	}
	if v := os.Getenv("HEALTHWATCH_ENGINE_RELOAD_WAIT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Engine.ReloadWait = d
		}
	}
	if v := os.Getenv("HEALTHWATCH_RULES_SOURCE"); v != "" {
		cfg.Rules.Source = v
	}
	if v := os.Getenv("HEALTHWATCH_RULES_FILE"); v != "" {
		cfg.Rules.File.Path = v
	}
	if v := os.Getenv("HEALTHWATCH_RULES_BASE_URL"); v != "" {
		cfg.Rules.Server.BaseURL = v
	}
	if v := os.Getenv("HEALTHWATCH_RULES_API_KEY"); v != "" {
		cfg.Rules.Server.APIKey = v
	}
	if v := os.Getenv("HEALTHWATCH_RULES_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Rules.CacheTTL = d
		}
	}
	if v := os.Getenv("HEALTHWATCH_ALARM_FLOOD_COOLDOWN"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Alarms.FloodCooldown = d
		}
	}
	if v := os.Getenv("HEALTHWATCH_SLACK_WEBHOOK_URL"); v != "" {
		cfg.Alarms.Slack.WebhookURL = v
		cfg.Alarms.Slack.Enabled = true
	}
	if v := os.Getenv("HEALTHWATCH_SLACK_CHANNEL"); v != "" {
		cfg.Alarms.Slack.Channel = v
	}
	if v := os.Getenv("HEALTHWATCH_SMTP_HOST"); v != "" {
		cfg.Alarms.Email.Host = v
	}
	if v := os.Getenv("HEALTHWATCH_SMTP_PASSWORD"); v != "" {
		cfg.Alarms.Email.Password = v
	}
	if v := os.Getenv("HEALTHWATCH_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("HEALTHWATCH_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = strings.EqualFold(v, "true") || strings.EqualFold(v, "1")
	}
	if v := os.Getenv("HEALTHWATCH_CACHE_USERNAME"); v != "" {
		cfg.Cache.Username = v
	}
	if v := os.Getenv("HEALTHWATCH_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("HEALTHWATCH_CACHE_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Cache.DB = db
		}
	}
	if v := os.Getenv("HEALTHWATCH_CACHE_TLS"); strings.EqualFold(v, "true") || strings.EqualFold(v, "1") {
		cfg.Cache.TLS = true
	}
	if v := os.Getenv("HEALTHWATCH_CACHE_MAX_RETRIES"); v != "" {
		if retry, err := strconv.Atoi(v); err == nil {
			cfg.Cache.MaxRetries = retry
		}
	}
	if v := os.Getenv("HEALTHWATCH_EVENT_ARCHIVE_ENABLED"); v != "" {
		cfg.Events.ArchiveEnabled = strings.EqualFold(v, "true") || strings.EqualFold(v, "1")
	}
	if v := os.Getenv("HEALTHWATCH_SNAPSHOT_PATH"); v != "" {
		cfg.Snapshot.Path = v
		cfg.Snapshot.Enabled = true
	}
	if v := os.Getenv("HEALTHWATCH_SUPERVISOR_MAX_RESTARTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Supervisor.MaxRestarts = n
		}
	}
}
