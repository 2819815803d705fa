// Package config loads the function configuration from the environment.
//
// Every key is read from an EMPTYBUCKET_ prefixed environment variable, for
// example EMPTYBUCKET_LOG_LEVEL=DEBUG or EMPTYBUCKET_DELETE_VERSIONS=true.
// Unset variables fall back to the defaults below.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/gurre/emptybucket/bucket"
	"github.com/gurre/emptybucket/log"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "EMPTYBUCKET"

// Config is the complete function configuration.
type Config struct {
	// LogLevel is the minimum severity written (DEBUG, INFO, WARN, ERROR).
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=DEBUG INFO WARN WARNING ERROR CRITICAL debug info warn warning error critical"`

	// LogFormat selects text or json log lines.
	LogFormat string `mapstructure:"log_format" validate:"required,oneof=text json"`

	// SeedCount is the number of placeholder objects written on Create.
	SeedCount int `mapstructure:"seed_count" validate:"gte=0"`

	// SeedKeyPrefix prefixes placeholder keys.
	SeedKeyPrefix string `mapstructure:"seed_key_prefix" validate:"required"`

	// SeedBody is the placeholder object content.
	SeedBody string `mapstructure:"seed_body"`

	// UpdateThreshold is the key count below which Update seeds the bucket again.
	UpdateThreshold int `mapstructure:"update_threshold" validate:"gte=1,lte=1000"`

	// DeleteVersions makes Delete remove object versions and delete markers too.
	DeleteVersions bool `mapstructure:"delete_versions"`

	// TimeoutMargin is reserved before the Lambda deadline for reporting to CloudFormation.
	TimeoutMargin time.Duration `mapstructure:"timeout_margin" validate:"gte=0"`

	// S3Endpoint overrides the S3 endpoint for S3-compatible stores.
	S3Endpoint string `mapstructure:"s3_endpoint" validate:"omitempty,url"`

	// S3ForcePathStyle enables path-style bucket addressing.
	S3ForcePathStyle bool `mapstructure:"s3_force_path_style"`

	// S3MaxAttempts overrides the SDK retry attempts when positive.
	S3MaxAttempts int `mapstructure:"s3_max_attempts" validate:"gte=0"`
}

// Default returns the configuration used when no environment variable is set.
func Default() *Config {
	seed := bucket.DefaultOptions()
	return &Config{
		LogLevel:        "INFO",
		LogFormat:       string(log.FormatText),
		SeedCount:       seed.SeedCount,
		SeedKeyPrefix:   seed.KeyPrefix,
		SeedBody:        string(seed.Body),
		UpdateThreshold: 1000,
		TimeoutMargin:   2 * time.Second,
	}
}

// Load reads the configuration from the environment and validates it.
func Load() (*Config, error) {
	v := viper.New()
	setupViper(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// setupViper registers defaults for every key so AutomaticEnv can resolve them.
func setupViper(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	d := Default()
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_format", d.LogFormat)
	v.SetDefault("seed_count", d.SeedCount)
	v.SetDefault("seed_key_prefix", d.SeedKeyPrefix)
	v.SetDefault("seed_body", d.SeedBody)
	v.SetDefault("update_threshold", d.UpdateThreshold)
	v.SetDefault("delete_versions", d.DeleteVersions)
	v.SetDefault("timeout_margin", d.TimeoutMargin)
	v.SetDefault("s3_endpoint", d.S3Endpoint)
	v.SetDefault("s3_force_path_style", d.S3ForcePathStyle)
	v.SetDefault("s3_max_attempts", d.S3MaxAttempts)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks cfg against its struct tags.
func Validate(cfg *Config) error {
	return validate.Struct(cfg)
}

// Level returns the parsed log level.
func (c *Config) Level() log.Level {
	return log.ParseLevel(c.LogLevel)
}

// Format returns the parsed log format.
func (c *Config) Format() log.Format {
	return log.ParseFormat(c.LogFormat)
}

// BucketOptions returns the bucket.Service options derived from c.
func (c *Config) BucketOptions() bucket.Options {
	return bucket.Options{
		SeedCount:      c.SeedCount,
		KeyPrefix:      c.SeedKeyPrefix,
		Body:           []byte(c.SeedBody),
		PageSize:       bucket.MaxBatchSize,
		DeleteVersions: c.DeleteVersions,
	}
}

// ClientOptions returns the S3 client options derived from c.
func (c *Config) ClientOptions() bucket.ClientOptions {
	return bucket.ClientOptions{
		Endpoint:       c.S3Endpoint,
		ForcePathStyle: c.S3ForcePathStyle,
		MaxAttempts:    c.S3MaxAttempts,
	}
}
