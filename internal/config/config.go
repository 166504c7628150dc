package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	LibCal   LibCalConfig   `yaml:"libcal"`
	Sync     SyncConfig     `yaml:"sync"`
	Admin    AdminConfig    `yaml:"admin"`
	LogLevel string         `yaml:"log_level"`
}

// RabbitMQConfig is optional; an empty URL disables change notifications.
type RabbitMQConfig struct {
	URL        string `yaml:"url"`
	Exchange   string `yaml:"exchange"`
	RoutingKey string `yaml:"routing_key"`
	QueueName  string `yaml:"queue_name"`
}

// RedisConfig is optional; an empty Addr disables the cross-process sync lock.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	LockKey  string        `yaml:"lock_key"`
	LockTTL  time.Duration `yaml:"lock_ttl"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

type LibCalConfig struct {
	BaseURL      string        `yaml:"base_url"`
	ClientID     string        `yaml:"client_id"`
	ClientSecret string        `yaml:"client_secret"`
	LocationIDs  []int64       `yaml:"location_ids"`
	Concurrency  int           `yaml:"concurrency"`
	Timeout      time.Duration `yaml:"timeout"`
	Retry        RetryConfig   `yaml:"retry"`
}

type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

type SyncConfig struct {
	Scheduled bool          `yaml:"scheduled"`
	Interval  time.Duration `yaml:"interval"`
	Timeout   time.Duration `yaml:"timeout"`
}

type AdminConfig struct {
	Addr      string        `yaml:"addr"`
	JWTSecret string        `yaml:"jwt_secret"`
	Issuer    string        `yaml:"issuer"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	return Parse(data)
}

// Parse expands ${VAR} references in data before decoding it.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Redis.LockKey == "" {
		c.Redis.LockKey = "room_sync:lock"
	}
	if c.Redis.LockTTL == 0 {
		c.Redis.LockTTL = 10 * time.Minute
	}
	if c.RabbitMQ.URL != "" {
		if c.RabbitMQ.Exchange == "" {
			c.RabbitMQ.Exchange = "room_sync"
		}
		if c.RabbitMQ.RoutingKey == "" {
			c.RabbitMQ.RoutingKey = "rooms"
		}
		if c.RabbitMQ.QueueName == "" {
			c.RabbitMQ.QueueName = "site_rooms"
		}
	}
	if c.LibCal.BaseURL == "" {
		c.LibCal.BaseURL = "https://api2.libcal.com"
	}
	if c.LibCal.Concurrency == 0 {
		c.LibCal.Concurrency = 4
	}
	if c.LibCal.Timeout == 0 {
		c.LibCal.Timeout = 30 * time.Second
	}
	if c.LibCal.Retry.MaxAttempts == 0 {
		c.LibCal.Retry.MaxAttempts = 3
	}
	if c.LibCal.Retry.InitialBackoff == 0 {
		c.LibCal.Retry.InitialBackoff = 1 * time.Second
	}
	if c.LibCal.Retry.MaxBackoff == 0 {
		c.LibCal.Retry.MaxBackoff = 30 * time.Second
	}
	if c.Sync.Interval == 0 {
		c.Sync.Interval = 1 * time.Hour
	}
	if c.Sync.Timeout == 0 {
		c.Sync.Timeout = 5 * time.Minute
	}
	if c.Admin.Addr == "" {
		c.Admin.Addr = ":8080"
	}
	if c.Admin.Issuer == "" {
		c.Admin.Issuer = "room_sync"
	}
	if c.Admin.TokenTTL == 0 {
		c.Admin.TokenTTL = 1 * time.Hour
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

func (c *Config) validate() error {
	if c.LibCal.Retry.MaxBackoff < c.LibCal.Retry.InitialBackoff {
		return fmt.Errorf("libcal.retry.max_backoff must not be less than initial_backoff")
	}
	if c.Sync.Interval < 0 {
		return fmt.Errorf("sync.interval must be positive")
	}
	if c.Redis.Addr != "" && c.Sync.Timeout >= c.Redis.LockTTL {
		return fmt.Errorf("sync.timeout must be less than redis.lock_ttl")
	}
	return nil
}
