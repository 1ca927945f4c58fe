package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file location, relative to the working directory.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port        string `yaml:"port"`
	DatabaseURL string `yaml:"databaseURL"`
	LogLevel    string `yaml:"logLevel"`

	RedisAddr         string `yaml:"redisAddr"`
	RedisPassword     string `yaml:"redisPassword"`
	ImportStream      string `yaml:"importStream"`
	ImportConcurrency int    `yaml:"importConcurrency"`

	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`

	// Exactly one of the two authenticates /cron/* callers.
	CronSecret     string `yaml:"cronSecret"`
	CronSecretHash string `yaml:"cronSecretHash"`

	SchedulerEnabled bool `yaml:"schedulerEnabled"`

	ChunkSize    int `yaml:"chunkSize"`
	ChunkOverlap int `yaml:"chunkOverlap"`

	FetchTimeoutSeconds int    `yaml:"fetchTimeoutSeconds"`
	FetchMaxBytes       int64  `yaml:"fetchMaxBytes"`
	FetchUserAgent      string `yaml:"fetchUserAgent"`

	BatchSize      int `yaml:"batchSize"`
	JobConcurrency int `yaml:"jobConcurrency"`
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	// Override with environment variables
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("IMPORT_STREAM"); v != "" {
		cfg.ImportStream = strings.TrimSpace(v)
	}
	if v := os.Getenv("WORKER_IMPORT_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ImportConcurrency = n
		}
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.MinioEndpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.MinioAccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.MinioSecretKey = v
	}
	if v := os.Getenv("MINIO_BUCKET"); v != "" {
		cfg.MinioBucket = v
	}
	if v := os.Getenv("MINIO_USE_SSL"); v == "true" {
		cfg.MinioUseSSL = true
	}
	if v := os.Getenv("WORKER_CRON_SECRET"); v != "" {
		cfg.CronSecret = v
	}
	if v := os.Getenv("WORKER_CRON_SECRET_HASH"); v != "" {
		cfg.CronSecretHash = v
	}
	if v := os.Getenv("WORKER_SCHEDULER_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.SchedulerEnabled = enabled
		}
	}
	if v := os.Getenv("WORKER_CHUNK_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ChunkSize = n
		}
	}
	if v := os.Getenv("WORKER_CHUNK_OVERLAP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ChunkOverlap = n
		}
	}
	if v := os.Getenv("WORKER_FETCH_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.FetchTimeoutSeconds = n
		}
	}
	if v := os.Getenv("WORKER_FETCH_MAX_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.FetchMaxBytes = n
		}
	}
	if v := os.Getenv("WORKER_FETCH_USER_AGENT"); v != "" {
		cfg.FetchUserAgent = strings.TrimSpace(v)
	}
	if v := os.Getenv("WORKER_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.BatchSize = n
		}
	}
	if v := os.Getenv("WORKER_JOB_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.JobConcurrency = n
		}
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml)")
	}
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		return errors.New("config: redisAddr is required (set in config.yaml or REDIS_ADDR)")
	}
	if cfg.MinioEndpoint == "" {
		return errors.New("config: minioEndpoint is required (set in config.yaml)")
	}
	if cfg.MinioAccessKey == "" {
		return errors.New("config: minioAccessKey is required (set in config.yaml)")
	}
	if cfg.MinioSecretKey == "" {
		return errors.New("config: minioSecretKey is required (set in config.yaml)")
	}
	if cfg.MinioBucket == "" {
		return errors.New("config: minioBucket is required (set in config.yaml)")
	}
	secret := strings.TrimSpace(cfg.CronSecret)
	secretHash := strings.TrimSpace(cfg.CronSecretHash)
	if secret == "" && secretHash == "" {
		return errors.New("config: cronSecret or cronSecretHash is required (set in config.yaml or WORKER_CRON_SECRET)")
	}
	if secret != "" && secretHash != "" {
		return errors.New("config: set cronSecret or cronSecretHash, not both")
	}
	if cfg.ChunkSize < 0 {
		return errors.New("config: chunkSize must be >= 0 (set in config.yaml or WORKER_CHUNK_SIZE)")
	}
	if cfg.ChunkOverlap < 0 {
		return errors.New("config: chunkOverlap must be >= 0 (set in config.yaml or WORKER_CHUNK_OVERLAP)")
	}
	if cfg.ChunkSize > 0 && cfg.ChunkOverlap >= cfg.ChunkSize {
		return errors.New("config: chunkOverlap must be smaller than chunkSize")
	}
	if cfg.FetchTimeoutSeconds < 0 {
		return errors.New("config: fetchTimeoutSeconds must be >= 0")
	}
	if cfg.FetchMaxBytes < 0 {
		return errors.New("config: fetchMaxBytes must be >= 0")
	}
	if cfg.BatchSize < 0 {
		return errors.New("config: batchSize must be >= 0")
	}
	if cfg.JobConcurrency < 0 {
		return errors.New("config: jobConcurrency must be >= 0")
	}
	if cfg.ImportConcurrency < 0 {
		return errors.New("config: importConcurrency must be >= 0")
	}
	return nil
}
