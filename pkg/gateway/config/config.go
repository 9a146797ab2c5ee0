package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Storage drivers
const (
	StorageDriverS3    = "s3"
	StorageDriverMinIO = "minio"
)

// ServerConfig is the process configuration, read from the environment and
// an optional .env file.
type ServerConfig struct {
	Port            string        `env:"PORT" env-required:"true"`
	Environment     string        `env:"ENVIRONMENT" env-default:"development"`
	StorageDriver   string        `env:"STORAGE_DRIVER" env-default:"s3"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" env-default:"10s"`

	S3     S3Config
	DB     DBConfig
	Upload UploadConfig
}

// S3Config describes the object store. The same variables serve the s3 and
// minio drivers.
type S3Config struct {
	AccessKeyID     string `env:"ACCESS_KEY_ID" env-required:"true"`
	SecretAccessKey string `env:"SECRET_ACCESS_KEY" env-required:"true"`
	Bucket          string `env:"BUCKET_NAME" env-required:"true"`
	Region          string `env:"REGION" env-required:"true"`
	Endpoint        string `env:"S3_ENDPOINT"`
	UsePathStyle    bool   `env:"S3_USE_PATH_STYLE" env-default:"false"`
	UseSSL          bool   `env:"S3_USE_SSL" env-default:"true"`
	ObjectACL       string `env:"S3_OBJECT_ACL"`
	CreateBucket    bool   `env:"S3_CREATE_BUCKET" env-default:"false"`
}

// DBConfig describes the Postgres connection pool
type DBConfig struct {
	Host           string        `env:"DB_HOST" env-required:"true"`
	Port           uint16        `env:"DB_PORT" env-required:"true"`
	Name           string        `env:"DB_NAME" env-required:"true"`
	User           string        `env:"DB_USER" env-required:"true"`
	Password       string        `env:"DB_PASSWORD" env-required:"true"`
	SSLMode        string        `env:"DB_SSLMODE" env-default:"prefer"`
	Schema         string        `env:"DB_SCHEMA"`
	PoolSize       int32         `env:"DB_POOL_SIZE" env-default:"10"`
	AcquireTimeout time.Duration `env:"DB_ACQUIRE_TIMEOUT" env-default:"10s"`
	ConnectRetries uint          `env:"DB_CONNECT_RETRIES" env-default:"5"`
	Migrate        bool          `env:"DB_MIGRATE" env-default:"true"`
}

// UploadConfig holds request size limits
type UploadConfig struct {
	MaxBytes  int64 `env:"MAX_UPLOAD_BYTES" env-default:"104857600"`
	ChunkSize int   `env:"DOWNLOAD_CHUNK_SIZE" env-default:"32768"`
}

// Option applies configuration to a ServerConfig instance.
type Option func(*ServerConfig) error

// Load builds a ServerConfig from the supplied options and validates it.
func Load(opts ...Option) (*ServerConfig, error) {
	var cfg ServerConfig

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// WithEnvFile reads path (dotenv format) when it exists. A missing file is
// not an error.
func WithEnvFile(path string) Option {
	return func(c *ServerConfig) error {
		if path == "" {
			return nil
		}
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return nil
		}
		if err := cleanenv.ReadConfig(path, c); err != nil {
			return fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		return nil
	}
}

// WithEnv reads every variable from the process environment.
func WithEnv() Option {
	return func(c *ServerConfig) error {
		if err := cleanenv.ReadEnv(c); err != nil {
			return fmt.Errorf("failed to read environment: %w", err)
		}
		return nil
	}
}

// Validate checks values cleanenv cannot express as tags
func (c *ServerConfig) Validate() error {
	// env-required only checks that a variable is present, not that it is set
	required := []struct {
		name  string
		empty bool
	}{
		{"PORT", c.Port == ""},
		{"ACCESS_KEY_ID", c.S3.AccessKeyID == ""},
		{"SECRET_ACCESS_KEY", c.S3.SecretAccessKey == ""},
		{"BUCKET_NAME", c.S3.Bucket == ""},
		{"REGION", c.S3.Region == ""},
		{"DB_HOST", c.DB.Host == ""},
		{"DB_PORT", c.DB.Port == 0},
		{"DB_NAME", c.DB.Name == ""},
		{"DB_USER", c.DB.User == ""},
		{"DB_PASSWORD", c.DB.Password == ""},
	}
	var missing []string
	for _, r := range required {
		if r.empty {
			missing = append(missing, r.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	switch c.StorageDriver {
	case StorageDriverS3:
	case StorageDriverMinIO:
		if c.S3.Endpoint == "" {
			return errors.New("S3_ENDPOINT is required for the minio storage driver")
		}
	default:
		return fmt.Errorf("unsupported storage driver %q (use %q or %q)", c.StorageDriver, StorageDriverS3, StorageDriverMinIO)
	}

	if c.DB.PoolSize <= 0 {
		return fmt.Errorf("DB_POOL_SIZE must be positive, got %d", c.DB.PoolSize)
	}
	if c.DB.AcquireTimeout <= 0 {
		return fmt.Errorf("DB_ACQUIRE_TIMEOUT must be positive, got %s", c.DB.AcquireTimeout)
	}
	if c.Upload.MaxBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive, got %d", c.Upload.MaxBytes)
	}
	if c.Upload.ChunkSize <= 0 {
		return fmt.Errorf("DOWNLOAD_CHUNK_SIZE must be positive, got %d", c.Upload.ChunkSize)
	}

	return nil
}

// IsProduction reports whether the process runs in production mode
func (c *ServerConfig) IsProduction() bool {
	return c.Environment == "production"
}
