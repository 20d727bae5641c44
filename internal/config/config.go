// Package config defines the daemon configuration. Values come from the
// built-in defaults, an optional TOML file and FUTARCHY_* environment
// variables, in that order.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"futarchy-core/internal/proposal"
)

// Config is the root configuration structure.
type Config struct {
	Server      ServerConfig       `toml:"server"`
	Log         LogConfig          `toml:"log"`
	Clock       ClockConfig        `toml:"clock"`
	Cranker     CrankerConfig      `toml:"cranker"`
	Postgres    PostgresConfig     `toml:"postgres"`
	Clickhouse  ClickhouseConfig   `toml:"clickhouse"`
	Redis       RedisConfig        `toml:"redis"`
	S3          S3Config           `toml:"s3"`
	Events      EventsConfig       `toml:"events"`
	DaoDefaults proposal.DaoConfig `toml:"dao_defaults"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Addr         string   `toml:"addr" validate:"required"`
	DevFaucet    bool     `toml:"dev_faucet"`
	ReadTimeout  Duration `toml:"read_timeout"`
	WriteTimeout Duration `toml:"write_timeout"`
}

// LogConfig selects the logger.
type LogConfig struct {
	Level  string `toml:"level" validate:"oneof=debug info warn error"`
	Format string `toml:"format" validate:"oneof=json console"`
}

// ClockConfig selects where slots come from.
type ClockConfig struct {
	// Mode is "local" (slot derived from elapsed time) or "cluster"
	// (slot followed from a Solana node).
	Mode         string   `toml:"mode" validate:"oneof=local cluster"`
	StartSlot    uint64   `toml:"start_slot"`
	SlotDuration Duration `toml:"slot_duration"`
	RPCEndpoint  string   `toml:"rpc_endpoint" validate:"required_if=Mode cluster"`
	WSEndpoint   string   `toml:"ws_endpoint" validate:"omitempty,url"`
	Commitment   string   `toml:"commitment" validate:"oneof=processed confirmed finalized"`
	PollInterval Duration `toml:"poll_interval"`
}

// CrankerConfig configures the background cranker.
type CrankerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Interval    Duration `toml:"interval"`
	AutoExecute bool     `toml:"auto_execute"`
	// LockKey names the Redis lock held during a pass when Redis is
	// enabled, so only one replica cranks at a time.
	LockKey string   `toml:"lock_key"`
	LockTTL Duration `toml:"lock_ttl"`
}

// PostgresConfig configures the durable event log. An empty DSN keeps
// events in memory.
type PostgresConfig struct {
	DSN           string   `toml:"dsn"`
	RunMigrations bool     `toml:"run_migrations"`
	MaxConns      int32    `toml:"max_conns" validate:"gte=1"`
	ConnLifetime  Duration `toml:"conn_lifetime"`
}

// ClickhouseConfig configures the observation timeseries. An empty DSN
// keeps observations in memory.
type ClickhouseConfig struct {
	DSN           string `toml:"dsn"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection and publishing parameters.
type RedisConfig struct {
	Enabled       bool   `toml:"enabled"`
	Addr          string `toml:"addr" validate:"required_if=Enabled true"`
	Password      string `toml:"password"`
	DB            int    `toml:"db" validate:"gte=0"`
	PoolSize      int    `toml:"pool_size" validate:"gte=1"`
	ChannelPrefix string `toml:"channel_prefix"`
	Stream        string `toml:"stream"`
	StreamMaxLen  int64  `toml:"stream_max_len" validate:"gte=0"`
}

// S3Config holds the event archive parameters.
type S3Config struct {
	Enabled        bool     `toml:"enabled"`
	Endpoint       string   `toml:"endpoint"`
	Region         string   `toml:"region" validate:"required_if=Enabled true"`
	Bucket         string   `toml:"bucket" validate:"required_if=Enabled true"`
	AccessKey      string   `toml:"access_key"`
	SecretKey      string   `toml:"secret_key"`
	UseSSL         bool     `toml:"use_ssl"`
	ForcePathStyle bool     `toml:"force_path_style"`
	Prefix         string   `toml:"prefix"`
	BatchSize      int      `toml:"batch_size" validate:"gte=1"`
	FlushInterval  Duration `toml:"flush_interval"`
}

// EventsConfig configures the event dispatcher.
type EventsConfig struct {
	QueueSize    int      `toml:"queue_size" validate:"gte=1"`
	MaxRetries   int      `toml:"max_retries" validate:"gte=0"`
	RetryBackoff Duration `toml:"retry_backoff"`
}

// Duration is a time.Duration that decodes from TOML strings such as
// "400ms" or "5m".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config that runs a single in-memory node on a local
// clock.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Addr:         ":8080",
			ReadTimeout:  Duration{15 * time.Second},
			WriteTimeout: Duration{15 * time.Second},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Clock: ClockConfig{
			Mode:         "local",
			StartSlot:    1,
			SlotDuration: Duration{400 * time.Millisecond},
			Commitment:   "confirmed",
			PollInterval: Duration{5 * time.Second},
		},
		Cranker: CrankerConfig{
			Enabled:  true,
			Interval: Duration{10 * time.Second},
			LockKey:  "futarchy:cranker",
			LockTTL:  Duration{30 * time.Second},
		},
		Postgres: PostgresConfig{
			RunMigrations: true,
			MaxConns:      10,
			ConnLifetime:  Duration{time.Hour},
		},
		Clickhouse: ClickhouseConfig{
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:          "localhost:6379",
			PoolSize:      20,
			ChannelPrefix: "futarchy.events.",
			Stream:        "futarchy:events",
			StreamMaxLen:  100_000,
		},
		S3: S3Config{
			Region:        "us-east-1",
			Bucket:        "futarchy-events",
			Prefix:        "archive/events",
			BatchSize:     1000,
			FlushInterval: Duration{time.Minute},
		},
		Events: EventsConfig{
			QueueSize:    1024,
			MaxRetries:   3,
			RetryBackoff: Duration{200 * time.Millisecond},
		},
		DaoDefaults: proposal.DefaultDaoConfig(),
	}
}

var validate = validator.New()

// Validate checks Config and returns one error describing every problem
// found.
func (c *Config) Validate() error {
	var errs []string

	if err := validate.Struct(c); err != nil {
		errs = append(errs, err.Error())
	}

	positive := map[string]time.Duration{
		"clock.slot_duration":  c.Clock.SlotDuration.Duration,
		"clock.poll_interval":  c.Clock.PollInterval.Duration,
		"cranker.interval":     c.Cranker.Interval.Duration,
		"cranker.lock_ttl":     c.Cranker.LockTTL.Duration,
		"s3.flush_interval":    c.S3.FlushInterval.Duration,
		"server.read_timeout":  c.Server.ReadTimeout.Duration,
		"server.write_timeout": c.Server.WriteTimeout.Duration,
	}
	for name, d := range positive {
		if d <= 0 {
			errs = append(errs, fmt.Sprintf("%s must be positive, got %s", name, d))
		}
	}

	if c.Cranker.Enabled && c.Cranker.Interval.Duration > 0 && c.Cranker.LockTTL.Duration < c.Cranker.Interval.Duration {
		errs = append(errs, "cranker: lock_ttl must be at least interval")
	}

	if err := c.DaoDefaults.Validate(); err != nil {
		errs = append(errs, "dao_defaults: "+err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}
