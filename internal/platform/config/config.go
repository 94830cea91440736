// Package config loads service configuration from a YAML file, a .env file
// and APP_* environment variables, in that order of precedence (last wins).
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Supported database drivers. DriverMemory keeps everything in process.
const (
	DriverPgx      = "pgx"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Supported email providers.
const (
	EmailPostmark = "postmark"
	EmailSES      = "ses"
	EmailSMTP     = "smtp"
	EmailLog      = "log"
)

// Config holds all configuration for the application
type Config struct {
	Application ApplicationConfig `yaml:"application"`
	Log         LogConfig         `yaml:"log"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	Email       EmailConfig       `yaml:"email"`
	Outbox      OutboxConfig      `yaml:"outbox"`
}

// ApplicationConfig captures HTTP server level configuration.
type ApplicationConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	BaseURL         string        `yaml:"base_url"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Addr is the listen address.
func (c ApplicationConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
}

type DatabaseConfig struct {
	Driver          string        `yaml:"driver"`
	URL             string        `yaml:"url"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
	Migrate         bool          `yaml:"migrate"`
}

// RedisConfig is optional; an empty URL disables Redis.
type RedisConfig struct {
	URL          string        `yaml:"url"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type EmailConfig struct {
	Provider string         `yaml:"provider"`
	Sender   string         `yaml:"sender"`
	Timeout  time.Duration  `yaml:"timeout"`
	Postmark PostmarkConfig `yaml:"postmark"`
	SES      SESConfig      `yaml:"ses"`
	SMTP     SMTPConfig     `yaml:"smtp"`
}

type PostmarkConfig struct {
	BaseURL   string `yaml:"base_url"`
	AuthToken string `yaml:"auth_token"`
}

// SESConfig falls back to the default AWS credential chain when the static
// keys are empty.
type SESConfig struct {
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Endpoint  string `yaml:"endpoint"`
}

type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type OutboxConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Interval  time.Duration `yaml:"interval"`
	BatchSize int           `yaml:"batch_size"`
	LockTTL   time.Duration `yaml:"lock_ttl"`
	Kafka     KafkaConfig   `yaml:"kafka"`
}

// KafkaConfig with no brokers makes the relay log events instead.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// Default returns the local development configuration.
func Default() Config {
	return Config{
		Application: ApplicationConfig{
			Host:            "127.0.0.1",
			Port:            8000,
			BaseURL:         "http://127.0.0.1:8000",
			RequestTimeout:  10 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Log: LogConfig{Level: "info", Format: "json"},
		Database: DatabaseConfig{
			Driver:          DriverMemory,
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			ConnectTimeout:  2 * time.Second,
			Migrate:         true,
		},
		Redis: RedisConfig{
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Email: EmailConfig{
			Provider: EmailLog,
			Sender:   "newsletter@example.com",
			Timeout:  10 * time.Second,
			Postmark: PostmarkConfig{BaseURL: "https://api.postmarkapp.com"},
			SES:      SESConfig{Region: "us-east-1"},
			SMTP:     SMTPConfig{Port: 587},
		},
		Outbox: OutboxConfig{
			Enabled:   true,
			Interval:  5 * time.Second,
			BatchSize: 100,
			LockTTL:   30 * time.Second,
			Kafka:     KafkaConfig{Topic: "newsletter.subscriptions"},
		},
	}
}

// Load reads the YAML file at path over the defaults. An empty path yields
// the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return &cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// A .env file in the working directory is loaded first when present; it never
// overrides variables already set in the environment.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	if path == "" {
		path = os.Getenv("APP_CONFIG")
	}
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	var errs []error
	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	setBool := func(key string, dst *bool) {
		if v, ok := os.LookupEnv(key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}
	setDuration := func(key string, dst *time.Duration) {
		if v, ok := os.LookupEnv(key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	setString("APP_HOST", &c.Application.Host)
	setInt("APP_PORT", &c.Application.Port)
	setString("APP_BASE_URL", &c.Application.BaseURL)
	setDuration("APP_REQUEST_TIMEOUT", &c.Application.RequestTimeout)

	setString("APP_LOG_LEVEL", &c.Log.Level)
	setString("APP_LOG_FORMAT", &c.Log.Format)

	setString("APP_DATABASE_DRIVER", &c.Database.Driver)
	setString("DATABASE_URL", &c.Database.URL)
	setString("APP_DATABASE_URL", &c.Database.URL)
	setBool("APP_DATABASE_MIGRATE", &c.Database.Migrate)

	setString("APP_REDIS_URL", &c.Redis.URL)

	setString("APP_EMAIL_PROVIDER", &c.Email.Provider)
	setString("APP_EMAIL_SENDER", &c.Email.Sender)
	setDuration("APP_EMAIL_TIMEOUT", &c.Email.Timeout)
	setString("APP_EMAIL_POSTMARK_BASE_URL", &c.Email.Postmark.BaseURL)
	setString("APP_EMAIL_POSTMARK_TOKEN", &c.Email.Postmark.AuthToken)
	setString("APP_EMAIL_SES_REGION", &c.Email.SES.Region)
	setString("APP_EMAIL_SES_ACCESS_KEY", &c.Email.SES.AccessKey)
	setString("APP_EMAIL_SES_SECRET_KEY", &c.Email.SES.SecretKey)
	setString("APP_EMAIL_SMTP_HOST", &c.Email.SMTP.Host)
	setInt("APP_EMAIL_SMTP_PORT", &c.Email.SMTP.Port)
	setString("APP_EMAIL_SMTP_USERNAME", &c.Email.SMTP.Username)
	setString("APP_EMAIL_SMTP_PASSWORD", &c.Email.SMTP.Password)

	setBool("APP_OUTBOX_ENABLED", &c.Outbox.Enabled)
	setDuration("APP_OUTBOX_INTERVAL", &c.Outbox.Interval)
	if v, ok := os.LookupEnv("APP_KAFKA_BROKERS"); ok {
		c.Outbox.Kafka.Brokers = splitList(v)
	}
	setString("APP_KAFKA_TOPIC", &c.Outbox.Kafka.Topic)

	return errors.Join(errs...)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate reports every missing or inconsistent setting at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Application.Port < 0 || c.Application.Port > 65535 {
		errs = append(errs, fmt.Errorf("application.port %d out of range", c.Application.Port))
	}
	if u, err := url.Parse(c.Application.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("application.base_url %q must be an absolute URL", c.Application.BaseURL))
	}

	switch c.Database.Driver {
	case DriverMemory:
	case DriverPgx, DriverPostgres:
		if c.Database.URL == "" {
			errs = append(errs, errors.New("database.url is required for driver "+c.Database.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("database.driver %q is not supported", c.Database.Driver))
	}

	if c.Email.Sender == "" {
		errs = append(errs, errors.New("email.sender is required"))
	}
	switch c.Email.Provider {
	case EmailLog:
	case EmailPostmark:
		if c.Email.Postmark.AuthToken == "" {
			errs = append(errs, errors.New("email.postmark.auth_token is required"))
		}
		if c.Email.Postmark.BaseURL == "" {
			errs = append(errs, errors.New("email.postmark.base_url is required"))
		}
	case EmailSES:
		if c.Email.SES.Region == "" {
			errs = append(errs, errors.New("email.ses.region is required"))
		}
	case EmailSMTP:
		if c.Email.SMTP.Host == "" {
			errs = append(errs, errors.New("email.smtp.host is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("email.provider %q is not supported", c.Email.Provider))
	}

	if c.Outbox.Enabled {
		if c.Outbox.Interval <= 0 {
			errs = append(errs, errors.New("outbox.interval must be positive"))
		}
		if c.Outbox.BatchSize <= 0 {
			errs = append(errs, errors.New("outbox.batch_size must be positive"))
		}
		if len(c.Outbox.Kafka.Brokers) > 0 && c.Outbox.Kafka.Topic == "" {
			errs = append(errs, errors.New("outbox.kafka.topic is required when brokers are set"))
		}
	}

	return errors.Join(errs...)
}
