package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

type Config struct {
	Port     string `env:"PORT" envDefault:"8080"`
	GRPCPort string `env:"GRPC_PORT" envDefault:"9090"`

	JWTSecret       string        `env:"JWT_SECRET" envDefault:"dev-secret-change-in-prod"`
	GatewayToken    string        `env:"GATEWAY_TOKEN" envDefault:"dev-gateway-token"`
	DatabaseURL     string        `env:"DATABASE_URL"`
	AccountCacheTTL time.Duration `env:"ACCOUNT_CACHE_TTL" envDefault:"1m"`

	// Role channel policy; empty uses the built-in defaults.
	PolicyFile string `env:"POLICY_FILE"`

	// Liveness
	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL" envDefault:"15s"`
	MissedHeartbeats  int           `env:"MISSED_HEARTBEATS" envDefault:"3"`
	PresenceTTL       time.Duration `env:"PRESENCE_TTL" envDefault:"2m"`

	GatewayTimeout time.Duration `env:"GATEWAY_TIMEOUT" envDefault:"2s"`

	// Rate limits
	MaxMessagesPerMinute int     `env:"MAX_MESSAGES_PER_MINUTE" envDefault:"120"`
	MaxRateViolations    int     `env:"MAX_RATE_VIOLATIONS" envDefault:"20"`
	MaxConnectionsPerIP  int     `env:"MAX_CONNECTIONS_PER_IP" envDefault:"20"`
	HTTPRateLimitRPS     float64 `env:"HTTP_RATE_LIMIT_RPS" envDefault:"50"`
	HTTPRateLimitBurst   int     `env:"HTTP_RATE_LIMIT_BURST" envDefault:"100"`

	SendBuffer       int `env:"SEND_BUFFER" envDefault:"256"`
	SendFailureLimit int `env:"SEND_FAILURE_LIMIT" envDefault:"3"`
	AlertLogSize     int `env:"ALERT_LOG_SIZE" envDefault:"500"`

	// Route optimization jobs
	KafkaBrokers       string `env:"KAFKA_BROKERS"`
	KafkaJobTopic      string `env:"KAFKA_JOB_TOPIC" envDefault:"route-optimization.requests"`
	KafkaResultTopic   string `env:"KAFKA_RESULT_TOPIC" envDefault:"route-optimization.results"`
	KafkaConsumerGroup string `env:"KAFKA_CONSUMER_GROUP" envDefault:"bazaar-realtime"`

	// Optional NATS gateway face
	NATSURL            string `env:"NATS_URL"`
	GatewayNATSSubject string `env:"GATEWAY_NATS_SUBJECT" envDefault:"realtime.broadcast"`

	AllowedOrigins string `env:"ALLOWED_ORIGINS" envDefault:"http://localhost:3000"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// Load reads configuration from the environment, honouring a .env file in the
// working directory when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT is required")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.GatewayToken == "" {
		return fmt.Errorf("GATEWAY_TOKEN is required")
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("HEARTBEAT_INTERVAL must be > 0, got %s", c.HeartbeatInterval)
	}
	if c.MissedHeartbeats < 1 {
		return fmt.Errorf("MISSED_HEARTBEATS must be > 0, got %d", c.MissedHeartbeats)
	}
	if c.GatewayTimeout <= 0 {
		return fmt.Errorf("GATEWAY_TIMEOUT must be > 0, got %s", c.GatewayTimeout)
	}
	if c.MaxMessagesPerMinute < 1 {
		return fmt.Errorf("MAX_MESSAGES_PER_MINUTE must be > 0, got %d", c.MaxMessagesPerMinute)
	}
	if c.MaxConnectionsPerIP < 1 {
		return fmt.Errorf("MAX_CONNECTIONS_PER_IP must be > 0, got %d", c.MaxConnectionsPerIP)
	}
	if c.SendBuffer < 1 {
		return fmt.Errorf("SEND_BUFFER must be > 0, got %d", c.SendBuffer)
	}
	if c.AlertLogSize < 1 {
		return fmt.Errorf("ALERT_LOG_SIZE must be > 0, got %d", c.AlertLogSize)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of: debug, info, warn, error (got: %s)", c.LogLevel)
	}
	validLogFormats := map[string]bool{"json": true, "pretty": true}
	if !validLogFormats[c.LogFormat] {
		return fmt.Errorf("LOG_FORMAT must be one of: json, pretty (got: %s)", c.LogFormat)
	}
	return nil
}

// Origins splits ALLOWED_ORIGINS into its trimmed, non-empty entries.
func (c *Config) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// Brokers splits KAFKA_BROKERS; nil means the in-memory job queue is used.
func (c *Config) Brokers() []string {
	var out []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

func (c *Config) LogConfig(logger zerolog.Logger) {
	logger.Info().
		Str("port", c.Port).
		Str("grpc_port", c.GRPCPort).
		Bool("database", c.DatabaseURL != "").
		Str("policy_file", c.PolicyFile).
		Dur("heartbeat_interval", c.HeartbeatInterval).
		Int("missed_heartbeats", c.MissedHeartbeats).
		Dur("presence_ttl", c.PresenceTTL).
		Int("max_messages_per_minute", c.MaxMessagesPerMinute).
		Int("max_connections_per_ip", c.MaxConnectionsPerIP).
		Strs("kafka_brokers", c.Brokers()).
		Bool("nats", c.NATSURL != "").
		Str("log_level", c.LogLevel).
		Msg("configuration loaded")
}
