// Package config loads the service configuration. Values come from three
// layers: compiled defaults, an optional YAML file, then environment
// variables. Later layers win.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"

	"github.com/R3E-Network/rumble/pkg/logger"
)

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host         string `yaml:"host" env:"SERVER_HOST"`
	Port         int    `yaml:"port" env:"SERVER_PORT"`
	ReadTimeout  int    `yaml:"read_timeout_seconds" env:"SERVER_READ_TIMEOUT"`
	WriteTimeout int    `yaml:"write_timeout_seconds" env:"SERVER_WRITE_TIMEOUT"`

	// CORSOrigins is a comma-separated list of allowed origins. "*" allows
	// every origin.
	CORSOrigins string `yaml:"cors_origins" env:"SERVER_CORS_ORIGINS"`

	// AuditPath, when set, appends privileged-call audit entries as JSONL.
	AuditPath  string `yaml:"audit_path" env:"SERVER_AUDIT_PATH"`
	AuditLimit int    `yaml:"audit_limit" env:"SERVER_AUDIT_LIMIT"`
}

// Addr returns the host:port the server binds.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Origins returns the parsed CORS origin list.
func (c ServerConfig) Origins() []string {
	if strings.TrimSpace(c.CORSOrigins) == "" {
		return nil
	}
	parts := strings.Split(c.CORSOrigins, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// DatabaseConfig controls the PostgreSQL connection. An empty DSN keeps the
// service on the in-memory stores.
type DatabaseConfig struct {
	Driver          string `yaml:"driver" env:"DB_DRIVER"`
	DSN             string `yaml:"dsn" env:"DB_DSN"`
	MaxOpenConns    int    `yaml:"max_open_conns" env:"DB_MAX_OPEN_CONNS"`
	MaxIdleConns    int    `yaml:"max_idle_conns" env:"DB_MAX_IDLE_CONNS"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime_seconds" env:"DB_CONN_MAX_LIFETIME"`
	Migrate         bool   `yaml:"migrate" env:"DB_MIGRATE"`
}

// RedisConfig controls the anomaly flag cache backend. An empty Addr keeps
// the cache in process.
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB"`
}

// ChainConfig controls settlement anchoring. An empty RPCURL disables it.
type ChainConfig struct {
	RPCURL          string `yaml:"rpc_url" env:"CHAIN_RPC_URL"`
	NetworkID       uint32 `yaml:"network_id" env:"CHAIN_NETWORK_ID"`
	ContractHash    string `yaml:"contract_hash" env:"CHAIN_CONTRACT_HASH"`
	OperatorAddress string `yaml:"operator_address" env:"CHAIN_OPERATOR_ADDRESS"`
	AnchorInterval  int    `yaml:"anchor_interval_seconds" env:"CHAIN_ANCHOR_INTERVAL"`
}

// Enabled reports whether anchoring is configured.
func (c ChainConfig) Enabled() bool {
	return strings.TrimSpace(c.RPCURL) != ""
}

// AuthConfig controls API authentication and throttling. An empty secret
// disables token checks and treats every caller as admin; never run that
// outside development.
type AuthConfig struct {
	Secret             string  `yaml:"secret" env:"AUTH_SECRET"`
	RateLimitPerSecond float64 `yaml:"rate_limit_per_second" env:"AUTH_RATE_LIMIT"`
	RateLimitBurst     int     `yaml:"rate_limit_burst" env:"AUTH_RATE_BURST"`
}

// SchedulerConfig controls the automatic settle and reset cycles.
type SchedulerConfig struct {
	Enabled    bool   `yaml:"enabled" env:"SCHEDULER_ENABLED"`
	SettleSpec string `yaml:"settle_spec" env:"SCHEDULER_SETTLE_SPEC"`
	ResetSpec  string `yaml:"reset_spec" env:"SCHEDULER_RESET_SPEC"`
}

// ScoresConfig tunes the anomaly screen. Zero values take the service
// defaults.
type ScoresConfig struct {
	AnomalyThreshold uint64 `yaml:"anomaly_threshold" env:"SCORES_ANOMALY_THRESHOLD"`
	FlagTTLSeconds   int    `yaml:"flag_ttl_seconds" env:"SCORES_FLAG_TTL"`
}

// Config is the root configuration.
type Config struct {
	Server    ServerConfig         `yaml:"server"`
	Database  DatabaseConfig       `yaml:"database"`
	Redis     RedisConfig          `yaml:"redis"`
	Chain     ChainConfig          `yaml:"chain"`
	Auth      AuthConfig           `yaml:"auth"`
	Scheduler SchedulerConfig      `yaml:"scheduler"`
	Scores    ScoresConfig         `yaml:"scores"`
	Logging   logger.LoggingConfig `yaml:"logging"`
}

// Default returns the compiled-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  15,
			WriteTimeout: 15,
			AuditLimit:   200,
		},
		Database: DatabaseConfig{
			Driver:  "postgres",
			Migrate: true,
		},
		Chain: ChainConfig{
			AnchorInterval: 30,
		},
		Auth: AuthConfig{
			RateLimitPerSecond: 20,
			RateLimitBurst:     40,
		},
		Logging: logger.LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load reads configuration from the file named by CONFIG_FILE (if set) and
// the environment.
func Load() (*Config, error) {
	return LoadFromPath(os.Getenv("CONFIG_FILE"))
}

// LoadFromPath reads configuration from the given YAML file (optional) and
// the environment.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("apply environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	if c.Database.DSN != "" && c.Database.Driver == "" {
		return errors.New("database driver required when dsn is set")
	}
	if c.Chain.Enabled() {
		if strings.TrimSpace(c.Chain.ContractHash) == "" {
			return errors.New("chain contract_hash required when rpc_url is set")
		}
		if strings.TrimSpace(c.Chain.OperatorAddress) == "" {
			return errors.New("chain operator_address required when rpc_url is set")
		}
	}
	return nil
}
