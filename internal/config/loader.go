package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load merges the TOML file at path over the defaults, loads .env when
// present and applies FUTARCHY_* overrides. A missing file leaves the
// defaults in place. The result is not validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides overwrites fields whose FUTARCHY_* variable is set and
// parses. Secrets are usually injected this way.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Server.Addr, "FUTARCHY_SERVER_ADDR")
	setBool(&cfg.Server.DevFaucet, "FUTARCHY_SERVER_DEV_FAUCET")

	setStr(&cfg.Log.Level, "FUTARCHY_LOG_LEVEL")
	setStr(&cfg.Log.Format, "FUTARCHY_LOG_FORMAT")

	setStr(&cfg.Clock.Mode, "FUTARCHY_CLOCK_MODE")
	setUint64(&cfg.Clock.StartSlot, "FUTARCHY_CLOCK_START_SLOT")
	setDuration(&cfg.Clock.SlotDuration, "FUTARCHY_CLOCK_SLOT_DURATION")
	setStr(&cfg.Clock.RPCEndpoint, "FUTARCHY_CLOCK_RPC_ENDPOINT")
	setStr(&cfg.Clock.WSEndpoint, "FUTARCHY_CLOCK_WS_ENDPOINT")
	setStr(&cfg.Clock.Commitment, "FUTARCHY_CLOCK_COMMITMENT")

	setBool(&cfg.Cranker.Enabled, "FUTARCHY_CRANKER_ENABLED")
	setDuration(&cfg.Cranker.Interval, "FUTARCHY_CRANKER_INTERVAL")
	setBool(&cfg.Cranker.AutoExecute, "FUTARCHY_CRANKER_AUTO_EXECUTE")

	setStr(&cfg.Postgres.DSN, "FUTARCHY_POSTGRES_DSN")
	setBool(&cfg.Postgres.RunMigrations, "FUTARCHY_POSTGRES_RUN_MIGRATIONS")

	setStr(&cfg.Clickhouse.DSN, "FUTARCHY_CLICKHOUSE_DSN")
	setBool(&cfg.Clickhouse.RunMigrations, "FUTARCHY_CLICKHOUSE_RUN_MIGRATIONS")

	setBool(&cfg.Redis.Enabled, "FUTARCHY_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "FUTARCHY_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "FUTARCHY_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "FUTARCHY_REDIS_DB")

	setBool(&cfg.S3.Enabled, "FUTARCHY_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "FUTARCHY_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "FUTARCHY_S3_REGION")
	setStr(&cfg.S3.Bucket, "FUTARCHY_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "FUTARCHY_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "FUTARCHY_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "FUTARCHY_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "FUTARCHY_S3_FORCE_PATH_STYLE")

	setUint64(&cfg.DaoDefaults.PassThresholdBps, "FUTARCHY_DAO_PASS_THRESHOLD_BPS")
	setUint64(&cfg.DaoDefaults.SlotsPerProposal, "FUTARCHY_DAO_SLOTS_PER_PROPOSAL")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}
