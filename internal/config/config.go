// Package config loads the service configuration from the environment
// (and an optional config file) once at process start. The resulting
// Config is immutable and passed explicitly to every constructor.
package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g. CFD_HOST.
const EnvPrefix = "CFD"

type Config struct {
	Host    string `mapstructure:"host" validate:"required"`
	Port    int    `mapstructure:"port" validate:"required,gt=0,lte=65535"`
	BaseURL string `mapstructure:"base_url" validate:"required,url"`
	Version string `mapstructure:"version"`

	Token   TokenConfig   `mapstructure:"token"`
	Store   StoreConfig   `mapstructure:"store"`
	Storage StorageConfig `mapstructure:"storage"`
	Logging LoggingConfig `mapstructure:"log"`
	Login   LoginConfig   `mapstructure:"login"`
	Breaker BreakerConfig `mapstructure:"breaker"`

	MaxUploadBytes  int64         `mapstructure:"max_upload_bytes" validate:"gt=0"`
	BcryptCost      int           `mapstructure:"bcrypt_cost" validate:"gte=4,lte=31"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

type TokenConfig struct {
	Secret     string `mapstructure:"secret" validate:"required"`
	Algorithm  string `mapstructure:"algorithm" validate:"required,oneof=HS256 HS384 HS512"`
	TTLMinutes int    `mapstructure:"ttl_minutes" validate:"required,gt=0"`
}

// TTL converts the configured minutes to a duration.
func (t TokenConfig) TTL() time.Duration {
	return time.Duration(t.TTLMinutes) * time.Minute
}

type StoreConfig struct {
	// URL selects the backend by scheme: redis, rediss, postgres,
	// postgresql, badger or memory.
	URL string `mapstructure:"url" validate:"required"`
}

type StorageConfig struct {
	Driver string   `mapstructure:"driver" validate:"oneof=local minio"`
	Dir    string   `mapstructure:"dir" validate:"required"`
	S3     S3Config `mapstructure:"s3"`
}

type S3Config struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json console"`
}

type LoginConfig struct {
	RateLimit       int           `mapstructure:"rate_limit" validate:"gt=0"`
	RateWindow      time.Duration `mapstructure:"rate_window" validate:"gt=0"`
	MaxAttempts     int           `mapstructure:"lockout_max_attempts" validate:"gt=0"`
	LockoutDuration time.Duration `mapstructure:"lockout_duration" validate:"gt=0"`
	LockoutWindow   time.Duration `mapstructure:"lockout_window" validate:"gt=0"`

	// TrustProxyHeaders takes the client IP from X-Forwarded-For or
	// X-Real-IP. Enable only behind a proxy that sets them.
	TrustProxyHeaders bool `mapstructure:"trust_proxy_headers"`
}

type BreakerConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// Addr is the listen address built from Host and Port.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// keys lists every setting that may come from the environment. viper only
// unmarshals keys it knows about, so each one is bound explicitly.
var keys = []string{
	"host",
	"port",
	"base_url",
	"version",
	"token.secret",
	"token.algorithm",
	"token.ttl_minutes",
	"store.url",
	"storage.driver",
	"storage.dir",
	"storage.s3.endpoint",
	"storage.s3.access_key",
	"storage.s3.secret_key",
	"storage.s3.bucket",
	"log.level",
	"log.format",
	"login.rate_limit",
	"login.rate_window",
	"login.lockout_max_attempts",
	"login.lockout_duration",
	"login.lockout_window",
	"login.trust_proxy_headers",
	"breaker.enabled",
	"breaker.timeout",
	"max_upload_bytes",
	"bcrypt_cost",
	"shutdown_timeout",
}

// Load reads the configuration. configPath may be empty, in which case only
// the environment is consulted. Required settings have no defaults; a
// missing one is reported as an error naming the variable.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func setupViper(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, k := range keys {
		// BindEnv only fails when given no key.
		_ = v.BindEnv(k)
	}

	applyDefaults(v)
}

// EnvName returns the environment variable for a config key,
// e.g. "token.secret" -> "CFD_TOKEN_SECRET".
func EnvName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

var errMissingS3 = errors.New("storage.s3: endpoint, access_key, secret_key and bucket are required for the minio driver")
