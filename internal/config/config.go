package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "COUPLE_"

// Config holds all configuration for the application
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Store       StoreConfig       `yaml:"store"`
	Blob        BlobConfig        `yaml:"blob"`
	Notify      NotifyConfig      `yaml:"notify"`
	JWT         JWTConfig         `yaml:"jwt"`
	Pairing     PairingConfig     `yaml:"pairing"`
	Streak      StreakConfig      `yaml:"streak"`
	Transaction TransactionConfig `yaml:"transaction"`
	Photos      PhotosConfig      `yaml:"photos"`
	SyncMoment  SyncMomentConfig  `yaml:"sync_moment"`
	Log         LogConfig         `yaml:"log"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port         int           `yaml:"port"`
	Host         string        `yaml:"host"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	CORSOrigins  []string      `yaml:"cors_origins"`
}

// StoreConfig selects and configures the document store
type StoreConfig struct {
	Driver   string         `yaml:"driver"` // memory, postgres or redis
	Postgres DatabaseConfig `yaml:"postgres"`
	Redis    RedisConfig    `yaml:"redis"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

// RedisConfig holds redis configuration
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// BlobConfig selects and configures photo storage
type BlobConfig struct {
	Driver        string        `yaml:"driver"` // memory, s3 or minio
	Region        string        `yaml:"region"`
	Bucket        string        `yaml:"bucket"`
	AccessKey     string        `yaml:"access_key"`
	SecretKey     string        `yaml:"secret_key"`
	Endpoint      string        `yaml:"endpoint"`
	UseSSL        bool          `yaml:"use_ssl"`
	PublicBaseURL string        `yaml:"public_base_url"`
	URLExpiry     time.Duration `yaml:"url_expiry"`
}

// NotifyConfig selects and configures the new photo notifier
type NotifyConfig struct {
	Driver string     `yaml:"driver"` // log, apns or amqp
	APNs   APNsConfig `yaml:"apns"`
	AMQP   AMQPConfig `yaml:"amqp"`
}

// APNsConfig holds Apple push configuration
type APNsConfig struct {
	KeyPath    string `yaml:"key_path"`
	KeyID      string `yaml:"key_id"`
	TeamID     string `yaml:"team_id"`
	Topic      string `yaml:"topic"`
	Production bool   `yaml:"production"`
}

// AMQPConfig holds the event broker configuration
type AMQPConfig struct {
	URL        string `yaml:"url"`
	Exchange   string `yaml:"exchange"`
	RoutingKey string `yaml:"routing_key"`
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Secret     string `yaml:"secret"`
	ExpiryDays int    `yaml:"expiry_days"`
}

// PairingConfig holds invite settings
type PairingConfig struct {
	InviteTTL     time.Duration `yaml:"invite_ttl"`
	CodeAttempts  int           `yaml:"code_attempts"`
	JoinRateLimit int           `yaml:"join_rate_limit"` // per IP per minute
}

// StreakConfig holds the calendar used for streak days
type StreakConfig struct {
	Timezone string `yaml:"timezone"`
}

// TransactionConfig bounds optimistic transaction retries
type TransactionConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseBackoff time.Duration `yaml:"base_backoff"`
}

// PhotosConfig holds feed and thumbnail settings
type PhotosConfig struct {
	FeedLimit      int `yaml:"feed_limit"`
	ThumbnailWidth int `yaml:"thumbnail_width"`
}

// SyncMomentConfig holds sync moment settings
type SyncMomentConfig struct {
	Window        time.Duration `yaml:"window"`
	SweepSchedule string        `yaml:"sweep_schedule"`
	Retention     time.Duration `yaml:"retention"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console or json
}

// Load reads configuration from a YAML file, then applies .env and
// environment overrides. A missing file leaves the defaults in place.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	setDefault(&c.Server.Host, "0.0.0.0")
	setDefault(&c.Server.Port, 8080)
	setDefault(&c.Server.ReadTimeout, 15*time.Second)
	setDefault(&c.Server.WriteTimeout, 30*time.Second)

	setDefault(&c.Store.Driver, "memory")
	setDefault(&c.Store.Postgres.Port, 5432)
	setDefault(&c.Store.Postgres.SSLMode, "disable")
	setDefault(&c.Store.Redis.Prefix, "couple:")

	setDefault(&c.Blob.Driver, "memory")
	setDefault(&c.Blob.URLExpiry, 7*24*time.Hour)

	setDefault(&c.Notify.Driver, "log")
	setDefault(&c.Notify.AMQP.Exchange, "couple.events")
	setDefault(&c.Notify.AMQP.RoutingKey, "photo.created")

	setDefault(&c.JWT.ExpiryDays, 365)

	setDefault(&c.Pairing.InviteTTL, 24*time.Hour)
	setDefault(&c.Pairing.CodeAttempts, 10)
	setDefault(&c.Pairing.JoinRateLimit, 10)

	setDefault(&c.Streak.Timezone, "Local")

	setDefault(&c.Transaction.MaxAttempts, 5)
	setDefault(&c.Transaction.BaseBackoff, 10*time.Millisecond)

	setDefault(&c.Photos.FeedLimit, 100)
	setDefault(&c.Photos.ThumbnailWidth, 300)

	setDefault(&c.SyncMoment.Window, 5*time.Minute)
	setDefault(&c.SyncMoment.SweepSchedule, "*/15 * * * *")
	setDefault(&c.SyncMoment.Retention, 24*time.Hour)

	setDefault(&c.Log.Level, "info")
	setDefault(&c.Log.Format, "console")
}

func setDefault[T comparable](field *T, value T) {
	var zero T
	if *field == zero {
		*field = value
	}
}

// Validate rejects unknown drivers and missing required settings
func (c *Config) Validate() error {
	var errs []error
	if c.JWT.Secret == "" {
		errs = append(errs, errors.New("jwt.secret is required"))
	}

	switch c.Store.Driver {
	case "memory":
	case "postgres":
		if c.Store.Postgres.Host == "" || c.Store.Postgres.DBName == "" {
			errs = append(errs, errors.New("store.postgres.host and store.postgres.dbname are required"))
		}
	case "redis":
		if c.Store.Redis.Addr == "" {
			errs = append(errs, errors.New("store.redis.addr is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store.driver %q", c.Store.Driver))
	}

	switch c.Blob.Driver {
	case "memory":
	case "s3", "minio":
		if c.Blob.Bucket == "" {
			errs = append(errs, errors.New("blob.bucket is required"))
		}
		if c.Blob.Driver == "minio" && c.Blob.Endpoint == "" {
			errs = append(errs, errors.New("blob.endpoint is required for minio"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown blob.driver %q", c.Blob.Driver))
	}

	switch c.Notify.Driver {
	case "log":
	case "apns":
		a := c.Notify.APNs
		if a.KeyPath == "" || a.KeyID == "" || a.TeamID == "" || a.Topic == "" {
			errs = append(errs, errors.New("notify.apns key_path, key_id, team_id and topic are required"))
		}
	case "amqp":
		if c.Notify.AMQP.URL == "" {
			errs = append(errs, errors.New("notify.amqp.url is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown notify.driver %q", c.Notify.Driver))
	}

	if _, err := c.Streak.Location(); err != nil {
		errs = append(errs, err)
	}
	if c.Photos.ThumbnailWidth < 0 || c.Photos.FeedLimit < 0 {
		errs = append(errs, errors.New("photos settings must not be negative"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// Location resolves the streak timezone
func (s StreakConfig) Location() (*time.Location, error) {
	switch s.Timezone {
	case "", "Local":
		return time.Local, nil
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid streak.timezone %q: %w", s.Timezone, err)
	}
	return loc, nil
}

// DSN returns the PostgreSQL connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// Addr returns the listen address
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type lookupFunc func(key string) (string, bool)

// applyEnv overrides fields from COUPLE_* variables
func (c *Config) applyEnv(lookup lookupFunc) error {
	e := envReader{lookup: lookup}

	e.str("SERVER_HOST", &c.Server.Host)
	e.integer("SERVER_PORT", &c.Server.Port)
	e.list("SERVER_CORS_ORIGINS", &c.Server.CORSOrigins)

	e.str("STORE_DRIVER", &c.Store.Driver)
	e.str("STORE_POSTGRES_HOST", &c.Store.Postgres.Host)
	e.integer("STORE_POSTGRES_PORT", &c.Store.Postgres.Port)
	e.str("STORE_POSTGRES_USER", &c.Store.Postgres.User)
	e.str("STORE_POSTGRES_PASSWORD", &c.Store.Postgres.Password)
	e.str("STORE_POSTGRES_DBNAME", &c.Store.Postgres.DBName)
	e.str("STORE_POSTGRES_SSLMODE", &c.Store.Postgres.SSLMode)
	e.str("STORE_REDIS_ADDR", &c.Store.Redis.Addr)
	e.str("STORE_REDIS_PASSWORD", &c.Store.Redis.Password)
	e.integer("STORE_REDIS_DB", &c.Store.Redis.DB)

	e.str("BLOB_DRIVER", &c.Blob.Driver)
	e.str("BLOB_REGION", &c.Blob.Region)
	e.str("BLOB_BUCKET", &c.Blob.Bucket)
	e.str("BLOB_ACCESS_KEY", &c.Blob.AccessKey)
	e.str("BLOB_SECRET_KEY", &c.Blob.SecretKey)
	e.str("BLOB_ENDPOINT", &c.Blob.Endpoint)
	e.boolean("BLOB_USE_SSL", &c.Blob.UseSSL)
	e.str("BLOB_PUBLIC_BASE_URL", &c.Blob.PublicBaseURL)

	e.str("NOTIFY_DRIVER", &c.Notify.Driver)
	e.str("NOTIFY_APNS_KEY_PATH", &c.Notify.APNs.KeyPath)
	e.str("NOTIFY_APNS_KEY_ID", &c.Notify.APNs.KeyID)
	e.str("NOTIFY_APNS_TEAM_ID", &c.Notify.APNs.TeamID)
	e.str("NOTIFY_APNS_TOPIC", &c.Notify.APNs.Topic)
	e.boolean("NOTIFY_APNS_PRODUCTION", &c.Notify.APNs.Production)
	e.str("NOTIFY_AMQP_URL", &c.Notify.AMQP.URL)

	e.str("JWT_SECRET", &c.JWT.Secret)
	e.integer("JWT_EXPIRY_DAYS", &c.JWT.ExpiryDays)

	e.duration("PAIRING_INVITE_TTL", &c.Pairing.InviteTTL)
	e.integer("PAIRING_JOIN_RATE_LIMIT", &c.Pairing.JoinRateLimit)
	e.str("STREAK_TIMEZONE", &c.Streak.Timezone)

	e.str("LOG_LEVEL", &c.Log.Level)
	e.str("LOG_FORMAT", &c.Log.Format)

	if len(e.errs) > 0 {
		return fmt.Errorf("invalid environment: %w", errors.Join(e.errs...))
	}
	return nil
}

type envReader struct {
	lookup lookupFunc
	errs   []error
}

func (e *envReader) get(key string) (string, bool) {
	v, ok := e.lookup(EnvPrefix + key)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) list(key string, dst *[]string) {
	if v, ok := e.get(key); ok {
		var out []string
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		*dst = out
	}
}

func (e *envReader) integer(key string, dst *int) {
	if v, ok := e.get(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
			return
		}
		*dst = n
	}
}

func (e *envReader) boolean(key string, dst *bool) {
	if v, ok := e.get(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
			return
		}
		*dst = b
	}
}

func (e *envReader) duration(key string, dst *time.Duration) {
	if v, ok := e.get(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
			return
		}
		*dst = d
	}
}
