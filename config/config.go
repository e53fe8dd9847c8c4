package config

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Ack modes supported by the consumer.
const (
	AckAfterPersist = "after_persist"
	AckOnReceive    = "on_receive"
)

// Config holds the full application configuration loaded from environment variables or .env file.
//
// It is built once at process start by Load() and passed by pointer to every component,
// so no package reads the environment on its own.
//
// Example ENV:
//
//	SERVER_PORT=8080
//	POSTGRES_HOST=localhost
//	POSTGRES_DB=fastapi_rabbitmq
//	RABBITMQ_HOST=localhost
//	RABBITMQ_PORT=5672
//	EXCHANGE_YAHOO_FINANCE=yahoo_finance
//	QUEUE_YAHOO_FINANCE=yahoo_finance
type Config struct {
	Server   ServerConfig   // HTTP server configuration
	Postgres PostgresConfig // PostgreSQL connection settings
	RabbitMQ RabbitMQConfig // Broker connection and topology
	Consumer ConsumerConfig // Queue consumer behaviour
	Log      LogConfig      // Logger level and format
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port              string        // The TCP port the HTTP server will listen on (e.g., "8080")
	UploadMaxBytes    int64         // Largest accepted CSV upload
	RateLimitRequests int           // Requests allowed per client per window
	RateLimitWindow   time.Duration // Rate limiter window
}

// PostgresConfig defines connection details for PostgreSQL.
//
// Fields:
//   - Host: hostname of the database server.
//   - Port: port number of the database server (default 5432).
//   - User: username for authentication.
//   - Password: password for authentication.
//   - DBName: target database name.
//   - SSLMode: SSL mode (e.g., "disable", "require").
//   - URL: computed DSN used by database/sql to connect.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	URL      string
}

// RabbitMQConfig defines how to reach the broker and which topology to declare.
type RabbitMQConfig struct {
	Host               string
	Port               int
	Username           string
	Password           string
	VHost              string
	ConnectionAttempts int
	RetryDelay         time.Duration
	SocketTimeout      time.Duration
	Heartbeat          time.Duration
	PublisherConfirms  bool

	Exchange   string
	Queue      string
	RoutingKey string
	DeadLetter bool // declare <exchange>.dlx / <queue>.dead and route rejected messages there

	URL string // computed amqp:// URL
}

// ConsumerConfig controls the queue worker.
type ConsumerConfig struct {
	AckMode        string // after_persist | on_receive
	Prefetch       int
	Tag            string
	ReconnectDelay time.Duration
}

// LogConfig controls the zerolog logger.
type LogConfig struct {
	Level  string
	Pretty bool
}

// setDefaults registers every key with its default value.
func setDefaults(v *viper.Viper) {
	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("UPLOAD_MAX_BYTES", 10<<20)
	v.SetDefault("RATE_LIMIT_REQUESTS", 60)
	v.SetDefault("RATE_LIMIT_WINDOW", "1m")

	v.SetDefault("POSTGRES_HOST", "localhost")
	v.SetDefault("POSTGRES_PORT", 5432)
	v.SetDefault("POSTGRES_USER", "postgres")
	v.SetDefault("POSTGRES_PASSWORD", "postgres")
	v.SetDefault("POSTGRES_DB", "fastapi_rabbitmq")
	v.SetDefault("POSTGRES_SSLMODE", "disable")

	v.SetDefault("RABBITMQ_HOST", "localhost")
	v.SetDefault("RABBITMQ_PORT", 5672)
	v.SetDefault("RABBITMQ_USERNAME", "guest")
	v.SetDefault("RABBITMQ_PASSWORD", "guest")
	v.SetDefault("RABBITMQ_VHOST", "/")
	v.SetDefault("RABBITMQ_CONNECTION_ATTEMPTS", 1)
	v.SetDefault("RABBITMQ_RETRY_DELAY", "200ms")
	v.SetDefault("RABBITMQ_SOCKET_TIMEOUT", "3s")
	v.SetDefault("RABBITMQ_HEARTBEAT", "10s")
	v.SetDefault("RABBITMQ_PUBLISHER_CONFIRMS", true)
	v.SetDefault("RABBITMQ_DEAD_LETTER", true)
	v.SetDefault("EXCHANGE_YAHOO_FINANCE", "yahoo_finance")
	v.SetDefault("QUEUE_YAHOO_FINANCE", "yahoo_finance")
	v.SetDefault("ROUTING_KEY_YAHOO_FINANCE", "yahoo_finance")

	v.SetDefault("CONSUMER_ACK_MODE", AckAfterPersist)
	v.SetDefault("CONSUMER_PREFETCH", 1)
	v.SetDefault("CONSUMER_TAG", "quoteflow-consumer")
	v.SetDefault("CONSUMER_RECONNECT_DELAY", "5s")

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", false)
}

// Load builds the application configuration from .env file and environment variables.
//
// Precedence (from lowest to highest):
//  1. Defaults set in setDefaults.
//  2. Values from .env file (if present).
//  3. Environment variables.
//
// Durations accept Go syntax ("200ms", "5s") or a bare number of seconds ("0.2", "3"),
// matching how the broker timeouts were historically configured.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// Optionally read from .env if present (common in local dev)
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore error if no .env

	v.AutomaticEnv()

	var errs []error
	dur := func(key string) time.Duration {
		d, err := parseDuration(v.GetString(key))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
		return d
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:              v.GetString("SERVER_PORT"),
			UploadMaxBytes:    v.GetInt64("UPLOAD_MAX_BYTES"),
			RateLimitRequests: v.GetInt("RATE_LIMIT_REQUESTS"),
			RateLimitWindow:   dur("RATE_LIMIT_WINDOW"),
		},
		Postgres: PostgresConfig{
			Host:     v.GetString("POSTGRES_HOST"),
			Port:     v.GetInt("POSTGRES_PORT"),
			User:     v.GetString("POSTGRES_USER"),
			Password: v.GetString("POSTGRES_PASSWORD"),
			DBName:   v.GetString("POSTGRES_DB"),
			SSLMode:  v.GetString("POSTGRES_SSLMODE"),
		},
		RabbitMQ: RabbitMQConfig{
			Host:               v.GetString("RABBITMQ_HOST"),
			Port:               v.GetInt("RABBITMQ_PORT"),
			Username:           v.GetString("RABBITMQ_USERNAME"),
			Password:           v.GetString("RABBITMQ_PASSWORD"),
			VHost:              v.GetString("RABBITMQ_VHOST"),
			ConnectionAttempts: v.GetInt("RABBITMQ_CONNECTION_ATTEMPTS"),
			RetryDelay:         dur("RABBITMQ_RETRY_DELAY"),
			SocketTimeout:      dur("RABBITMQ_SOCKET_TIMEOUT"),
			Heartbeat:          dur("RABBITMQ_HEARTBEAT"),
			PublisherConfirms:  v.GetBool("RABBITMQ_PUBLISHER_CONFIRMS"),
			Exchange:           v.GetString("EXCHANGE_YAHOO_FINANCE"),
			Queue:              v.GetString("QUEUE_YAHOO_FINANCE"),
			RoutingKey:         v.GetString("ROUTING_KEY_YAHOO_FINANCE"),
			DeadLetter:         v.GetBool("RABBITMQ_DEAD_LETTER"),
		},
		Consumer: ConsumerConfig{
			AckMode:        strings.ToLower(strings.TrimSpace(v.GetString("CONSUMER_ACK_MODE"))),
			Prefetch:       v.GetInt("CONSUMER_PREFETCH"),
			Tag:            v.GetString("CONSUMER_TAG"),
			ReconnectDelay: dur("CONSUMER_RECONNECT_DELAY"),
		},
		Log: LogConfig{
			Level:  v.GetString("LOG_LEVEL"),
			Pretty: v.GetBool("LOG_PRETTY"),
		},
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	cfg.Postgres.URL = cfg.Postgres.DSN()
	cfg.RabbitMQ.URL = cfg.RabbitMQ.AMQPURL()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DSN renders the PostgreSQL connection string used by database/sql.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(p.User),
		url.QueryEscape(p.Password),
		p.Host,
		p.Port,
		p.DBName,
		p.SSLMode,
	)
}

// AMQPURL renders the broker URL. An empty or "/" vhost becomes the root path "/".
func (r RabbitMQConfig) AMQPURL() string {
	u := url.URL{
		Scheme: "amqp",
		User:   url.UserPassword(r.Username, r.Password),
		Host:   fmt.Sprintf("%s:%d", r.Host, r.Port),
	}
	if r.VHost != "" && r.VHost != "/" {
		u.Path = "/" + r.VHost
	} else {
		u.Path = "/"
	}
	return u.String()
}

// Validate ensures required variables are present and values are usable.
//
// Behavior:
//   - Checks each critical field.
//   - Collects missing ones in a slice.
//   - Returns one error naming every missing or invalid key.
func (c *Config) Validate() error {
	var missing []string

	if c.Server.Port == "" {
		missing = append(missing, "SERVER_PORT")
	}
	if c.Postgres.Host == "" {
		missing = append(missing, "POSTGRES_HOST")
	}
	if c.Postgres.Port == 0 {
		missing = append(missing, "POSTGRES_PORT")
	}
	if c.Postgres.User == "" {
		missing = append(missing, "POSTGRES_USER")
	}
	if c.Postgres.Password == "" {
		missing = append(missing, "POSTGRES_PASSWORD")
	}
	if c.Postgres.DBName == "" {
		missing = append(missing, "POSTGRES_DB")
	}
	if c.RabbitMQ.Host == "" {
		missing = append(missing, "RABBITMQ_HOST")
	}
	if c.RabbitMQ.Port == 0 {
		missing = append(missing, "RABBITMQ_PORT")
	}
	if c.RabbitMQ.Exchange == "" {
		missing = append(missing, "EXCHANGE_YAHOO_FINANCE")
	}
	if c.RabbitMQ.Queue == "" {
		missing = append(missing, "QUEUE_YAHOO_FINANCE")
	}
	if c.RabbitMQ.RoutingKey == "" {
		missing = append(missing, "ROUTING_KEY_YAHOO_FINANCE")
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %v", missing)
	}

	switch c.Consumer.AckMode {
	case AckAfterPersist, AckOnReceive:
	default:
		return fmt.Errorf("CONSUMER_ACK_MODE: unsupported value %q", c.Consumer.AckMode)
	}
	if c.RabbitMQ.ConnectionAttempts < 1 {
		return fmt.Errorf("RABBITMQ_CONNECTION_ATTEMPTS must be >= 1, got %d", c.RabbitMQ.ConnectionAttempts)
	}
	if c.Consumer.Prefetch < 1 {
		return fmt.Errorf("CONSUMER_PREFETCH must be >= 1, got %d", c.Consumer.Prefetch)
	}
	if c.Consumer.ReconnectDelay <= 0 {
		return fmt.Errorf("CONSUMER_RECONNECT_DELAY must be positive, got %s", c.Consumer.ReconnectDelay)
	}
	if c.Server.UploadMaxBytes <= 0 {
		return fmt.Errorf("UPLOAD_MAX_BYTES must be positive, got %d", c.Server.UploadMaxBytes)
	}
	return nil
}

// parseDuration accepts "3s"-style durations or plain seconds ("0.2").
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	secs, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return time.Duration(secs * float64(time.Second)), nil
}
