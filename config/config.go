// Package config loads worker configuration from the environment and
// an optional per-resource YAML override file, validating fail-fast
// at startup.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/Beck89/mta-mls-worker/models"
)

// Default per-resource cadences in seconds.
var defaultCadences = map[models.Resource]int{
	models.ResourceListing:   60,
	models.ResourceMember:    300,
	models.ResourceOffice:    300,
	models.ResourceOpenHouse: 300,
	models.ResourceLookup:    86400,
}

type Config struct {
	Feed     FeedConfig
	Database DatabaseConfig
	Media    MediaConfig
	S3       S3Config
	Cadences map[models.Resource]time.Duration
	Logging  LoggingConfig
}

type FeedConfig struct {
	BaseURL           string `validate:"required,url"`
	Token             string `validate:"required"`
	OriginatingSystem string `validate:"required"`
}

type DatabaseConfig struct {
	URL      string `validate:"required"`
	PoolSize int    `validate:"gte=1,lte=100"`
}

type MediaConfig struct {
	Concurrency        int     `validate:"gte=1,lte=64"`
	InlineConcurrency  int     `validate:"gte=1,lte=16"`
	BandwidthSoftGiB   float64 `validate:"gt=0"`
	BandwidthHardGiB   float64 `validate:"gt=0,gtefield=BandwidthSoftGiB"`
	PollInterval       time.Duration
	RecoveryInterval   time.Duration
	StalenessInterval  time.Duration
}

type S3Config struct {
	Bucket          string `validate:"required"`
	Region          string `validate:"required"`
	Endpoint        string
	AccessKeyID     string `validate:"required"`
	SecretAccessKey string `validate:"required"`
	PublicDomain    string `validate:"required,hostname"`
}

type LoggingConfig struct {
	Level  string `validate:"oneof=trace debug info warn error"`
	Format string `validate:"oneof=json text"`
}

// resourceOverride is one entry of the optional resources.yaml file.
type resourceOverride struct {
	Resource       string `yaml:"resource"`
	CadenceSeconds int    `yaml:"cadence_seconds"`
}

// Load reads .env plus environment variables and validates the whole
// configuration. Startup must abort on error.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Feed: FeedConfig{
			BaseURL:           os.Getenv("FEED_BASE_URL"),
			Token:             os.Getenv("FEED_TOKEN"),
			OriginatingSystem: os.Getenv("ORIGINATING_SYSTEM"),
		},
		Database: DatabaseConfig{
			URL:      os.Getenv("DATABASE_URL"),
			PoolSize: getEnvInt("DATABASE_POOL_SIZE", 10),
		},
		Media: MediaConfig{
			Concurrency:       getEnvInt("MEDIA_CONCURRENCY", 15),
			InlineConcurrency: getEnvInt("MEDIA_INLINE_CONCURRENCY", 4),
			BandwidthSoftGiB:  getEnvFloat("MEDIA_BANDWIDTH_SOFT_CAP_GIB", 3.5),
			BandwidthHardGiB:  getEnvFloat("MEDIA_BANDWIDTH_HARD_CAP_GIB", 4),
			PollInterval:      getEnvDuration("MEDIA_POLL_INTERVAL", 30*time.Second),
			RecoveryInterval:  getEnvDuration("MEDIA_RECOVERY_INTERVAL", 30*time.Minute),
			StalenessInterval: getEnvDuration("STALENESS_CHECK_INTERVAL", 5*time.Minute),
		},
		S3: S3Config{
			Bucket:          os.Getenv("S3_BUCKET"),
			Region:          getEnv("S3_REGION", "us-east-1"),
			Endpoint:        os.Getenv("S3_ENDPOINT"),
			AccessKeyID:     os.Getenv("S3_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("S3_SECRET_ACCESS_KEY"),
			PublicDomain:    os.Getenv("MEDIA_PUBLIC_DOMAIN"),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	cadences, err := loadCadences(getEnv("RESOURCES_CONFIG", "config/resources.yaml"))
	if err != nil {
		return nil, err
	}
	cfg.Cadences = cadences

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadCadences starts from the defaults and applies the optional YAML
// override file.
func loadCadences(path string) (map[models.Resource]time.Duration, error) {
	cadences := make(map[models.Resource]time.Duration, len(defaultCadences))
	for resource, secs := range defaultCadences {
		cadences[resource] = time.Duration(secs) * time.Second
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cadences, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var overrides []resourceOverride
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	for _, o := range overrides {
		resource := models.Resource(o.Resource)
		if _, known := defaultCadences[resource]; !known {
			return nil, fmt.Errorf("unknown resource %q in %s", o.Resource, path)
		}
		if o.CadenceSeconds <= 0 {
			return nil, fmt.Errorf("cadence for %s must be positive", o.Resource)
		}
		cadences[resource] = time.Duration(o.CadenceSeconds) * time.Second
	}
	return cadences, nil
}

func validate(cfg *Config) error {
	v := validator.New()
	if err := v.Struct(cfg.Feed); err != nil {
		return fmt.Errorf("feed config: %w", err)
	}
	if err := v.Struct(cfg.Database); err != nil {
		return fmt.Errorf("database config: %w", err)
	}
	if err := v.Struct(cfg.Media); err != nil {
		return fmt.Errorf("media config: %w", err)
	}
	if err := v.Struct(cfg.S3); err != nil {
		return fmt.Errorf("s3 config: %w", err)
	}
	if err := v.Struct(cfg.Logging); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
