package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config defines server configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	DB        DBConfig        `yaml:"db"`
	Log       LogConfig       `yaml:"log"`
	Auth      AuthConfig      `yaml:"auth"`
	Voting    VotingConfig    `yaml:"voting"`
	Realtime  RealtimeConfig  `yaml:"realtime"`
	MCP       MCPConfig       `yaml:"mcp"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type ServerConfig struct {
	Host            string        `yaml:"host" env:"POLLIT_SERVER_HOST"`
	Port            int           `yaml:"port" env:"POLLIT_SERVER_PORT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"POLLIT_SERVER_SHUTDOWN_TIMEOUT"`
}

type DBConfig struct {
	Driver string `yaml:"driver" env:"POLLIT_DB_DRIVER"`
	DSN    string `yaml:"dsn" env:"POLLIT_DB_DSN"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"POLLIT_LOG_LEVEL"`
	Format string `yaml:"format" env:"POLLIT_LOG_FORMAT"`
}

// AuthConfig configures voter tokens. Without a secret every caller is
// anonymous and can only read.
type AuthConfig struct {
	Secret             string `yaml:"secret" env:"POLLIT_AUTH_SECRET"`
	Issuer             string `yaml:"issuer" env:"POLLIT_AUTH_ISSUER"`
	AllowAnonymousRead bool   `yaml:"allow_anonymous_read" env:"POLLIT_AUTH_ALLOW_ANONYMOUS_READ"`
}

type VotingConfig struct {
	// Resubmission is "reject" or "replace".
	Resubmission string        `yaml:"resubmission" env:"POLLIT_VOTING_RESUBMISSION"`
	MaxAttempts  int           `yaml:"max_attempts" env:"POLLIT_VOTING_MAX_ATTEMPTS"`
	RetryInitial time.Duration `yaml:"retry_initial" env:"POLLIT_VOTING_RETRY_INITIAL"`
	RetryMax     time.Duration `yaml:"retry_max" env:"POLLIT_VOTING_RETRY_MAX"`
}

type RealtimeConfig struct {
	SendBuffer   int           `yaml:"send_buffer" env:"POLLIT_REALTIME_SEND_BUFFER"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"POLLIT_REALTIME_WRITE_TIMEOUT"`
	PingInterval time.Duration `yaml:"ping_interval" env:"POLLIT_REALTIME_PING_INTERVAL"`
}

type MCPConfig struct {
	Enabled bool `yaml:"enabled" env:"POLLIT_MCP_ENABLED"`
}

type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled" env:"POLLIT_TELEMETRY_ENABLED"`
	Endpoint    string `yaml:"endpoint" env:"POLLIT_TELEMETRY_ENDPOINT"`
	ServiceName string `yaml:"service_name" env:"POLLIT_TELEMETRY_SERVICE_NAME"`
}

// Default returns the configuration used before any file or environment
// overrides are applied.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ShutdownTimeout: 5 * time.Second,
		},
		DB: DBConfig{
			Driver: "sqlite",
			DSN:    "pollit.db",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Auth: AuthConfig{
			Issuer:             "pollit",
			AllowAnonymousRead: true,
		},
		Voting: VotingConfig{
			Resubmission: "reject",
			MaxAttempts:  3,
			RetryInitial: 25 * time.Millisecond,
			RetryMax:     250 * time.Millisecond,
		},
		Realtime: RealtimeConfig{
			SendBuffer:   64,
			WriteTimeout: 10 * time.Second,
			PingInterval: 30 * time.Second,
		},
		MCP: MCPConfig{
			Enabled: true,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "pollit",
		},
	}
}

// Load reads configuration from defaults, an optional YAML file named by
// POLLIT_CONFIG_PATH, and environment variables, in that order.
func Load() (Config, error) {
	cfg := Default()

	if path := os.Getenv("POLLIT_CONFIG_PATH"); path != "" {
		if err := loadFromFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	switch c.DB.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("db.driver must be sqlite or postgres, got %q", c.DB.Driver))
	}
	if strings.TrimSpace(c.DB.DSN) == "" {
		errs = append(errs, errors.New("db.dsn is required"))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not recognised", c.Log.Level))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	if c.Auth.Secret != "" && len(c.Auth.Secret) < 16 {
		errs = append(errs, errors.New("auth.secret must be at least 16 bytes"))
	}
	switch c.Voting.Resubmission {
	case "reject", "replace":
	default:
		errs = append(errs, fmt.Errorf("voting.resubmission must be reject or replace, got %q", c.Voting.Resubmission))
	}
	if c.Voting.MaxAttempts < 1 {
		errs = append(errs, errors.New("voting.max_attempts must be at least 1"))
	}
	if c.Realtime.SendBuffer < 1 {
		errs = append(errs, errors.New("realtime.send_buffer must be at least 1"))
	}
	if c.Telemetry.Enabled && strings.TrimSpace(c.Telemetry.Endpoint) == "" {
		errs = append(errs, errors.New("telemetry.endpoint is required when telemetry is enabled"))
	}
	return errors.Join(errs...)
}

// Addr returns the listen address.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
