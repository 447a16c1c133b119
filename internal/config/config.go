package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds all server configuration. Values come from environment
// variables, with a .env file as a development convenience.
type Config struct {
	// Server basics
	Addr          string        `env:"ARCADE_ADDR" envDefault:":8080"`
	ShutdownGrace time.Duration `env:"ARCADE_SHUTDOWN_GRACE" envDefault:"10s"`

	// Logging
	LogLevel  string `env:"ARCADE_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"ARCADE_LOG_FORMAT" envDefault:"json"`

	// Teacher auth. HS256 with the shared secret by default; when a public
	// key file is set, tokens are verified as RS256 instead.
	JWTSecret        string `env:"ARCADE_JWT_SECRET"`
	JWTPublicKeyFile string `env:"ARCADE_JWT_PUBLIC_KEY_FILE"`
	JWTIssuer        string `env:"ARCADE_JWT_ISSUER"`

	// Sessions
	SessionCodeLength int           `env:"ARCADE_SESSION_CODE_LENGTH" envDefault:"6"`
	MaxSessions       int           `env:"ARCADE_MAX_SESSIONS" envDefault:"256"`
	ReapGrace         time.Duration `env:"ARCADE_REAP_GRACE" envDefault:"60s"`

	// Connection behavior
	HeartbeatInterval time.Duration `env:"ARCADE_HEARTBEAT_INTERVAL" envDefault:"20s"`
	HeartbeatTimeout  time.Duration `env:"ARCADE_HEARTBEAT_TIMEOUT" envDefault:"45s"`
	InitTimeout       time.Duration `env:"ARCADE_INIT_TIMEOUT" envDefault:"5s"`
	AnswerTimeout     time.Duration `env:"ARCADE_ANSWER_TIMEOUT" envDefault:"120s"`
	SendQueueSize     int           `env:"ARCADE_SEND_QUEUE_SIZE" envDefault:"256"`

	// Capacity
	MaxConnections int `env:"ARCADE_MAX_CONNECTIONS" envDefault:"4096"`

	// Connection rate limiting
	ConnRatePerIP   float64 `env:"ARCADE_CONN_RATE_PER_IP" envDefault:"5"`
	ConnBurstPerIP  int     `env:"ARCADE_CONN_BURST_PER_IP" envDefault:"10"`
	ConnRateGlobal  float64 `env:"ARCADE_CONN_RATE_GLOBAL" envDefault:"100"`
	ConnBurstGlobal int     `env:"ARCADE_CONN_BURST_GLOBAL" envDefault:"200"`

	// Resource guard thresholds
	CPUThreshold  float64       `env:"ARCADE_CPU_THRESHOLD" envDefault:"85"`
	MemThreshold  float64       `env:"ARCADE_MEM_THRESHOLD" envDefault:"90"`
	MaxGoroutines int           `env:"ARCADE_MAX_GOROUTINES" envDefault:"100000"`
	GuardInterval time.Duration `env:"ARCADE_GUARD_INTERVAL" envDefault:"5s"`

	// Event publishing. Empty URL disables NATS.
	NATSURL  string `env:"ARCADE_NATS_URL"`
	NATSName string `env:"ARCADE_NATS_NAME" envDefault:"arcade-server"`

	// Math generator defaults, used when a session is created without an
	// explicit question_config.
	MathOps []string `env:"ARCADE_MATH_OPS" envDefault:"add,sub,mul" envSeparator:","`
	MathMin int      `env:"ARCADE_MATH_MIN" envDefault:"1"`
	MathMax int      `env:"ARCADE_MATH_MAX" envDefault:"12"`

	// Optional question bank seed file (JSON) loaded into the store at boot.
	BanksFile string `env:"ARCADE_BANKS_FILE"`
}

// Load reads configuration from a .env file (if present) and the
// environment, then validates it. Priority: ENV vars > .env file > defaults.
func Load(logger *zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("No .env file found (using environment variables only)")
		}
	} else if logger != nil {
		logger.Info().Msg("Loaded configuration from .env file")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks ranges and cross-field constraints.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("ARCADE_ADDR is required")
	}
	if c.JWTSecret == "" && c.JWTPublicKeyFile == "" {
		return fmt.Errorf("one of ARCADE_JWT_SECRET or ARCADE_JWT_PUBLIC_KEY_FILE is required")
	}
	if c.SessionCodeLength < 4 || c.SessionCodeLength > 6 {
		return fmt.Errorf("ARCADE_SESSION_CODE_LENGTH must be 4-6, got %d", c.SessionCodeLength)
	}
	if c.MaxSessions < 1 {
		return fmt.Errorf("ARCADE_MAX_SESSIONS must be > 0, got %d", c.MaxSessions)
	}
	if c.MaxConnections < 1 {
		return fmt.Errorf("ARCADE_MAX_CONNECTIONS must be > 0, got %d", c.MaxConnections)
	}
	if c.SendQueueSize < 1 {
		return fmt.Errorf("ARCADE_SEND_QUEUE_SIZE must be > 0, got %d", c.SendQueueSize)
	}
	if c.HeartbeatInterval <= 0 || c.HeartbeatTimeout <= 0 {
		return fmt.Errorf("heartbeat interval and timeout must be positive")
	}
	if c.HeartbeatTimeout <= c.HeartbeatInterval {
		return fmt.Errorf("ARCADE_HEARTBEAT_TIMEOUT (%s) must exceed ARCADE_HEARTBEAT_INTERVAL (%s)",
			c.HeartbeatTimeout, c.HeartbeatInterval)
	}
	if c.InitTimeout <= 0 {
		return fmt.Errorf("ARCADE_INIT_TIMEOUT must be positive")
	}
	if c.AnswerTimeout <= 0 {
		return fmt.Errorf("ARCADE_ANSWER_TIMEOUT must be positive")
	}
	if c.CPUThreshold < 0 || c.CPUThreshold > 100 {
		return fmt.Errorf("ARCADE_CPU_THRESHOLD must be 0-100, got %.1f", c.CPUThreshold)
	}
	if c.MemThreshold < 0 || c.MemThreshold > 100 {
		return fmt.Errorf("ARCADE_MEM_THRESHOLD must be 0-100, got %.1f", c.MemThreshold)
	}
	if len(c.MathOps) == 0 {
		return fmt.Errorf("ARCADE_MATH_OPS must list at least one operation")
	}
	validOps := map[string]bool{"add": true, "sub": true, "mul": true, "div": true}
	for _, op := range c.MathOps {
		if !validOps[op] {
			return fmt.Errorf("ARCADE_MATH_OPS must list only add, sub, mul, div (got: %s)", op)
		}
	}
	if c.MathMin > c.MathMax {
		return fmt.Errorf("ARCADE_MATH_MIN (%d) must not exceed ARCADE_MATH_MAX (%d)", c.MathMin, c.MathMax)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("ARCADE_LOG_LEVEL must be one of: debug, info, warn, error (got: %s)", c.LogLevel)
	}
	validLogFormats := map[string]bool{"json": true, "console": true}
	if !validLogFormats[c.LogFormat] {
		return fmt.Errorf("ARCADE_LOG_FORMAT must be one of: json, console (got: %s)", c.LogFormat)
	}
	return nil
}

// LogConfig logs the effective configuration with secrets elided.
func (c *Config) LogConfig(logger zerolog.Logger) {
	logger.Info().
		Str("addr", c.Addr).
		Dur("shutdown_grace", c.ShutdownGrace).
		Int("session_code_length", c.SessionCodeLength).
		Int("max_sessions", c.MaxSessions).
		Dur("reap_grace", c.ReapGrace).
		Dur("heartbeat_interval", c.HeartbeatInterval).
		Dur("heartbeat_timeout", c.HeartbeatTimeout).
		Dur("init_timeout", c.InitTimeout).
		Dur("answer_timeout", c.AnswerTimeout).
		Int("send_queue_size", c.SendQueueSize).
		Int("max_connections", c.MaxConnections).
		Float64("cpu_threshold", c.CPUThreshold).
		Float64("mem_threshold", c.MemThreshold).
		Bool("jwt_rs256", c.JWTPublicKeyFile != "").
		Bool("nats_enabled", c.NATSURL != "").
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Msg("Server configuration loaded")
}
