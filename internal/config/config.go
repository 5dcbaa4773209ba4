package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Target      TargetConfig `yaml:"target"`
	Upload      UploadConfig `yaml:"upload"`
	LogLevel    string       `yaml:"log_level"`
	MetricsAddr string       `yaml:"metrics_addr"`
}

// TargetConfig represents S3-compatible storage configuration
type TargetConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Region    string `yaml:"region"`
	Secure    bool   `yaml:"secure"`
}

// UploadConfig represents upload-specific configuration
type UploadConfig struct {
	Bucket             string   `yaml:"bucket"`
	Prefix             string   `yaml:"prefix"`
	SourceDir          string   `yaml:"source_dir"`
	Excludes           []string `yaml:"excludes"`
	Concurrency        int      `yaml:"concurrency"`
	PartSize           int64    `yaml:"part_size"`
	MultipartThreshold int64    `yaml:"multipart_threshold"`
	Retries            int      `yaml:"retries"`
	RetryBackoffMs     int      `yaml:"retry_backoff_ms"`
	DryRun             bool     `yaml:"dry_run"`
	Checkpoint         string   `yaml:"checkpoint"`
	SkipExisting       bool     `yaml:"skip_existing"`
	Resume             bool     `yaml:"resume"`
	ShowProgress       bool     `yaml:"show_progress"`
}

const minPartSize = 5 * 1024 * 1024

// Load loads configuration from file, environment and command line flags.
// Precedence: defaults < config file < environment < flags.
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	cfg := &Config{
		LogLevel: "info",
		Target: TargetConfig{
			Secure: true,
		},
		Upload: UploadConfig{
			Concurrency:        32,
			PartSize:           67108864, // 64MB
			MultipartThreshold: 67108864, // 64MB
			Retries:            3,
			RetryBackoffMs:     500,
			Checkpoint:         "./bulkput.db",
			SkipExisting:       true,
			ShowProgress:       true,
		},
	}

	if configFile != "" {
		if err := loadFromFile(cfg, configFile); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	if flags != nil {
		if err := loadFromFlags(cfg, flags); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func loadFromFile(cfg *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

// loadFromEnv applies BULKPUT_* environment variables. A .env file in the
// working directory is honored if present.
func loadFromEnv(cfg *Config) error {
	_ = godotenv.Load()

	if v := os.Getenv("BULKPUT_ENDPOINT"); v != "" {
		cfg.Target.Endpoint = v
	}
	if v := os.Getenv("BULKPUT_ACCESS_KEY"); v != "" {
		cfg.Target.AccessKey = v
	}
	if v := os.Getenv("BULKPUT_SECRET_KEY"); v != "" {
		cfg.Target.SecretKey = v
	}
	if v := os.Getenv("BULKPUT_REGION"); v != "" {
		cfg.Target.Region = v
	}
	if v := os.Getenv("BULKPUT_SECURE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid BULKPUT_SECURE: %w", err)
		}
		cfg.Target.Secure = b
	}
	if v := os.Getenv("BULKPUT_BUCKET"); v != "" {
		cfg.Upload.Bucket = v
	}
	if v := os.Getenv("BULKPUT_PREFIX"); v != "" {
		cfg.Upload.Prefix = v
	}
	if v := os.Getenv("BULKPUT_SOURCE_DIR"); v != "" {
		cfg.Upload.SourceDir = v
	}
	if v := os.Getenv("BULKPUT_CHECKPOINT"); v != "" {
		cfg.Upload.Checkpoint = v
	}
	if v := os.Getenv("BULKPUT_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("BULKPUT_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}

	if v := os.Getenv("BULKPUT_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid BULKPUT_CONCURRENCY: %w", err)
		}
		cfg.Upload.Concurrency = n
	}
	if v := os.Getenv("BULKPUT_PART_SIZE"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid BULKPUT_PART_SIZE: %w", err)
		}
		cfg.Upload.PartSize = n
	}
	if v := os.Getenv("BULKPUT_MULTIPART_THRESHOLD"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid BULKPUT_MULTIPART_THRESHOLD: %w", err)
		}
		cfg.Upload.MultipartThreshold = n
	}
	if v := os.Getenv("BULKPUT_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid BULKPUT_RETRIES: %w", err)
		}
		cfg.Upload.Retries = n
	}
	if v := os.Getenv("BULKPUT_RETRY_BACKOFF_MS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid BULKPUT_RETRY_BACKOFF_MS: %w", err)
		}
		cfg.Upload.RetryBackoffMs = n
	}

	return nil
}

func loadFromFlags(cfg *Config, flags *pflag.FlagSet) error {
	if flags.Changed("endpoint") {
		cfg.Target.Endpoint, _ = flags.GetString("endpoint")
	}
	if flags.Changed("access-key") {
		cfg.Target.AccessKey, _ = flags.GetString("access-key")
	}
	if flags.Changed("secret-key") {
		cfg.Target.SecretKey, _ = flags.GetString("secret-key")
	}
	if flags.Changed("region") {
		cfg.Target.Region, _ = flags.GetString("region")
	}
	if flags.Changed("secure") {
		cfg.Target.Secure, _ = flags.GetBool("secure")
	}

	if flags.Changed("bucket") {
		cfg.Upload.Bucket, _ = flags.GetString("bucket")
	}
	if flags.Changed("prefix") {
		cfg.Upload.Prefix, _ = flags.GetString("prefix")
	}
	if flags.Changed("source") {
		cfg.Upload.SourceDir, _ = flags.GetString("source")
	}
	if flags.Changed("exclude") {
		cfg.Upload.Excludes, _ = flags.GetStringSlice("exclude")
	}
	if flags.Changed("concurrency") {
		cfg.Upload.Concurrency, _ = flags.GetInt("concurrency")
	}
	if flags.Changed("part-size") {
		cfg.Upload.PartSize, _ = flags.GetInt64("part-size")
	}
	if flags.Changed("multipart-threshold") {
		cfg.Upload.MultipartThreshold, _ = flags.GetInt64("multipart-threshold")
	}
	if flags.Changed("retries") {
		cfg.Upload.Retries, _ = flags.GetInt("retries")
	}
	if flags.Changed("retry-backoff-ms") {
		cfg.Upload.RetryBackoffMs, _ = flags.GetInt("retry-backoff-ms")
	}
	if flags.Changed("dry-run") {
		cfg.Upload.DryRun, _ = flags.GetBool("dry-run")
	}
	if flags.Changed("checkpoint") {
		cfg.Upload.Checkpoint, _ = flags.GetString("checkpoint")
	}
	if flags.Changed("skip-existing") {
		cfg.Upload.SkipExisting, _ = flags.GetBool("skip-existing")
	}
	if flags.Changed("resume") {
		cfg.Upload.Resume, _ = flags.GetBool("resume")
	}
	if flags.Changed("show-progress") {
		cfg.Upload.ShowProgress, _ = flags.GetBool("show-progress")
	}
	if flags.Changed("log-level") {
		cfg.LogLevel, _ = flags.GetString("log-level")
	}
	if flags.Changed("metrics-addr") {
		cfg.MetricsAddr, _ = flags.GetString("metrics-addr")
	}

	return nil
}

func (c *Config) validate() error {
	if c.Upload.Bucket == "" {
		return fmt.Errorf("bucket is required")
	}

	if c.Upload.SourceDir == "" {
		return fmt.Errorf("source directory is required")
	}
	info, err := os.Stat(c.Upload.SourceDir)
	if err != nil {
		return fmt.Errorf("source directory is not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("source %s is not a directory", c.Upload.SourceDir)
	}

	if !c.Upload.DryRun {
		if c.Target.Endpoint == "" {
			return fmt.Errorf("endpoint is required")
		}
		if c.Target.AccessKey == "" {
			return fmt.Errorf("access key is required")
		}
		if c.Target.SecretKey == "" {
			return fmt.Errorf("secret key is required")
		}
	}

	if c.Upload.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive")
	}

	if c.Upload.PartSize < minPartSize {
		return fmt.Errorf("part size must be at least 5MB")
	}

	if c.Upload.Retries < 0 {
		return fmt.Errorf("retries must not be negative")
	}

	return nil
}
