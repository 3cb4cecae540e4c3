// Package config handles server configuration loading and validation.
//
// # Configuration Sources
//
// Configuration is loaded from (in order of precedence):
// 1. Command-line flags
// 2. Environment variables (PRESENCEMON_*)
// 3. Config file (YAML)
// 4. Defaults
//
// # Example Config File
//
//	server:
//	  port: 8080
//
//	database:
//	  url: postgres://localhost:5432/presencemon?sslmode=disable
//
//	redis:
//	  url: redis://localhost:6379/0
//
//	mqtt:
//	  broker_url: tcp://broker.local:1883
//	  client_id: presence-mon
//	  topic: networks/+/scan
//	  username: monitor
//	  password: env://PRESENCEMON_MQTT_PASSWORD
//
//	alerter:
//	  smtp_host: smtp.example.com
//	  smtp_port: 587
//	  smtp_username: alerts@example.com
//	  smtp_password: op://infra/presence-mon-smtp/password
//	  from_email: alerts@example.com
//	  from_name: Presence Monitor
//	  interval: 20s
//	  initial_delay: 30s
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete server configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Alerter  AlerterConfig  `yaml:"alerter"`
}

// ServerConfig defines the HTTP listener.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// DatabaseConfig defines the Postgres connection.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// RedisConfig defines the optional Redis response cache.
// When URL is empty, API responses are simply not cached.
type RedisConfig struct {
	URL string `yaml:"url,omitempty"`
}

// MQTTConfig defines the snapshot transport subscription.
type MQTTConfig struct {
	BrokerURL string `yaml:"broker_url"`
	ClientID  string `yaml:"client_id"`

	// Topic is the subscription filter. The network name is taken from the
	// path segment immediately before the final one, so the default filter
	// networks/+/scan yields the middle segment.
	Topic string `yaml:"topic"`

	Username string `yaml:"username,omitempty"`

	// Password may be a literal or a secret reference (env://, file://, op://).
	Password string `yaml:"password,omitempty"`

	ConnectTimeout time.Duration `yaml:"connect_timeout,omitempty"`
}

// AlerterConfig defines alert evaluation scheduling and SMTP delivery.
type AlerterConfig struct {
	SMTPHost     string `yaml:"smtp_host,omitempty"`
	SMTPPort     int    `yaml:"smtp_port,omitempty"`
	SMTPUsername string `yaml:"smtp_username,omitempty"`

	// SMTPPassword may be a literal or a secret reference.
	SMTPPassword string `yaml:"smtp_password,omitempty"`

	SMTPStartTLS bool   `yaml:"smtp_starttls"`
	FromEmail    string `yaml:"from_email,omitempty"`
	FromName     string `yaml:"from_name,omitempty"`

	// Interval between evaluator ticks.
	Interval time.Duration `yaml:"interval"`

	// InitialDelay before the first evaluator tick, to let the transport
	// deliver a round of snapshots after a restart.
	InitialDelay time.Duration `yaml:"initial_delay"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 8080,
		},
		Database: DatabaseConfig{
			URL: "postgres://localhost:5432/presencemon?sslmode=disable",
		},
		MQTT: MQTTConfig{
			BrokerURL:      "tcp://localhost:1883",
			ClientID:       "presence-mon",
			Topic:          "networks/+/scan",
			ConnectTimeout: DefaultMQTTConnectTimeout,
		},
		Alerter: AlerterConfig{
			SMTPPort:     587,
			SMTPStartTLS: true,
			Interval:     DefaultEvaluatorInterval,
			InitialDelay: DefaultEvaluatorInitialDelay,
		},
	}
}

// Load reads configuration from the given YAML file (optional), then applies
// environment overrides, then validates.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides config values from PRESENCEMON_* environment variables.
func (c *Config) applyEnv() {
	if v := os.Getenv("PRESENCEMON_DATABASE_URL"); v != "" {
		c.Database.URL = v
	}
	if v := os.Getenv("PRESENCEMON_REDIS_URL"); v != "" {
		c.Redis.URL = v
	}
	if v := os.Getenv("PRESENCEMON_MQTT_BROKER_URL"); v != "" {
		c.MQTT.BrokerURL = v
	}
	if v := os.Getenv("PRESENCEMON_MQTT_TOPIC"); v != "" {
		c.MQTT.Topic = v
	}
	if v := os.Getenv("PRESENCEMON_SMTP_HOST"); v != "" {
		c.Alerter.SMTPHost = v
	}
}

// Validate checks the configuration for obvious mistakes.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Database.URL == "" {
		return fmt.Errorf("database.url is required")
	}
	if c.MQTT.BrokerURL == "" {
		return fmt.Errorf("mqtt.broker_url is required")
	}
	if c.MQTT.Topic == "" {
		return fmt.Errorf("mqtt.topic is required")
	}
	if c.Alerter.Interval <= 0 {
		return fmt.Errorf("alerter.interval must be positive")
	}
	if c.Alerter.SMTPHost != "" && c.Alerter.FromEmail == "" {
		return fmt.Errorf("alerter.from_email is required when smtp_host is set")
	}
	return nil
}
