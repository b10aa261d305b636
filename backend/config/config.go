package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

var sizePattern = regexp.MustCompile(`(?i)^(\d+(?:\.\d+)?)\s*(B|KB|MB|GB|TB)?$`)

// ParseSize converts a human-readable size string (e.g., "5GB", "500MB", "1024KB")
// to bytes. Supports B, KB, MB, GB, TB suffixes (case-insensitive).
// Also accepts plain numbers as bytes.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}

	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}

	matches := sizePattern.FindStringSubmatch(s)
	if matches == nil {
		return 0, fmt.Errorf("invalid size format: %s (use e.g., '50MB', '1GB', '1024KB')", s)
	}

	value, err := strconv.ParseFloat(matches[1], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number in size: %s", s)
	}

	unit := strings.ToUpper(matches[2])
	if unit == "" {
		unit = "B"
	}

	multipliers := map[string]float64{
		"B":  1,
		"KB": 1024,
		"MB": 1024 * 1024,
		"GB": 1024 * 1024 * 1024,
		"TB": 1024 * 1024 * 1024 * 1024,
	}

	return int64(value * multipliers[unit]), nil
}

type Config struct {
	Listen    string         `yaml:"listen" env:"LISTEN"`
	PublicURL string         `yaml:"public_url" env:"PUBLIC_URL"`
	Database  DatabaseConfig `yaml:"database"`
	Session   SessionConfig  `yaml:"session"`
	TLS       TLSConfig      `yaml:"tls"`
	Storage   StorageConfig  `yaml:"storage"`
	Mail      MailConfig     `yaml:"mail"`
	Recovery  RecoveryConfig `yaml:"recovery"`
	Log       LogConfig      `yaml:"log"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver" env:"DATABASE_DRIVER"` // sqlite or postgres
	DSN    string `yaml:"dsn" env:"DATABASE_DSN"`
}

type TLSConfig struct {
	Enabled bool   `yaml:"enabled" env:"TLS_ENABLED"`
	Cert    string `yaml:"cert" env:"TLS_CERT"`
	Key     string `yaml:"key" env:"TLS_KEY"`
}

type SessionConfig struct {
	Timeout time.Duration `yaml:"timeout" env:"SESSION_TIMEOUT"`
	Secret  string        `yaml:"secret" env:"SESSION_SECRET"`
}

type StorageConfig struct {
	Provider         string           `yaml:"provider" env:"STORAGE_PROVIDER"` // cloudinary or s3
	Folder           string           `yaml:"folder" env:"STORAGE_FOLDER"`
	MaxUploadSize    int64            `yaml:"-"`
	MaxUploadSizeRaw string           `yaml:"max_upload_size" env:"MAX_UPLOAD_SIZE"`
	Cloudinary       CloudinaryConfig `yaml:"cloudinary"`
	S3               S3Config         `yaml:"s3"`
}

type CloudinaryConfig struct {
	CloudName string `yaml:"cloud_name" env:"CLOUDINARY_CLOUD_NAME"`
	APIKey    string `yaml:"api_key" env:"CLOUDINARY_API_KEY"`
	APISecret string `yaml:"api_secret" env:"CLOUDINARY_API_SECRET"`
}

type S3Config struct {
	Region    string `yaml:"region" env:"S3_REGION"`
	Endpoint  string `yaml:"endpoint" env:"S3_ENDPOINT"` // e.g. MinIO; empty means AWS
	Bucket    string `yaml:"bucket" env:"S3_BUCKET"`
	AccessKey string `yaml:"access_key" env:"S3_ACCESS_KEY"`
	SecretKey string `yaml:"secret_key" env:"S3_SECRET_KEY"`
	PublicURL string `yaml:"public_url" env:"S3_PUBLIC_URL"` // base URL objects are served from
}

type MailConfig struct {
	Server        string `yaml:"server" env:"MAIL_SERVER"`
	Port          int    `yaml:"port" env:"MAIL_PORT"`
	Username      string `yaml:"username" env:"MAIL_USERNAME"`
	Password      string `yaml:"password" env:"MAIL_PASSWORD"`
	UseTLS        bool   `yaml:"use_tls" env:"MAIL_USE_TLS"`
	UseSSL        bool   `yaml:"use_ssl" env:"MAIL_USE_SSL"`
	DefaultSender string `yaml:"default_sender" env:"MAIL_DEFAULT_SENDER"`
}

type RecoveryConfig struct {
	OTPTTL time.Duration `yaml:"otp_ttl" env:"OTP_TTL"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`   // debug, info, warn, error
	Format string `yaml:"format" env:"LOG_FORMAT"` // json or text
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Listen:    ":8080",
		PublicURL: "http://localhost:8080",
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "app.db",
		},
		Session: SessionConfig{
			Timeout: 24 * time.Hour,
		},
		Storage: StorageConfig{
			Provider:      "cloudinary",
			Folder:        "file_vault",
			MaxUploadSize: 50 * 1024 * 1024, // 50MB
			S3: S3Config{
				Region: "us-east-1",
			},
		},
		Mail: MailConfig{
			Port:          2525,
			UseTLS:        true,
			DefaultSender: "noreply@demo.com",
		},
		Recovery: RecoveryConfig{
			OTPTTL: 2 * time.Minute,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (if it
// exists) and environment overrides, in that order.
func Load(path string) (*Config, error) {
	c := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, c); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	if err := env.Parse(c); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if c.Storage.MaxUploadSizeRaw != "" {
		size, err := ParseSize(c.Storage.MaxUploadSizeRaw)
		if err != nil {
			return nil, fmt.Errorf("storage.max_upload_size: %w", err)
		}
		c.Storage.MaxUploadSize = size
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks values that have a fixed set of options.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("database.driver: unsupported driver %q", c.Database.Driver)
	}
	switch c.Storage.Provider {
	case "cloudinary", "s3":
	default:
		return fmt.Errorf("storage.provider: unsupported provider %q", c.Storage.Provider)
	}
	if c.Recovery.OTPTTL <= 0 {
		return fmt.Errorf("recovery.otp_ttl must be positive")
	}
	return nil
}
