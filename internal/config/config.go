package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config aggregates application settings that may be sourced from files or environment variables.
type Config struct {
	API        APIConfig        `mapstructure:"api"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	MinIO      MinIOConfig      `mapstructure:"minio"`
	Auth       AuthConfig       `mapstructure:"auth"`
	ImageModel ImageModelConfig `mapstructure:"image_model"`
	Photos     PhotosConfig     `mapstructure:"photos"`
	CV         CVConfig         `mapstructure:"cv"`
	Clamd      ClamdConfig      `mapstructure:"clamd"`
	Internal   InternalConfig   `mapstructure:"internal"`
	Log        LogConfig        `mapstructure:"log"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
}

// APIConfig contains HTTP server settings.
type APIConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	// RequestsPerMinute caps anonymous/public traffic per client IP. 0 disables the limiter.
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
}

// DatabaseConfig contains connection options for PostgreSQL.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Name     string `mapstructure:"name"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"sslmode"`
}

// RedisConfig contains the redis endpoint shared by asynq and notifications.
type RedisConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// Addr returns host:port.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// MinIOConfig contains connection options for MinIO/S3-compatible storage.
type MinIOConfig struct {
	Endpoint         string `mapstructure:"endpoint"`
	PublicEndpoint   string `mapstructure:"public_endpoint"`
	AccessKeyID      string `mapstructure:"access_key_id"`
	SecretAccessKey  string `mapstructure:"secret_access_key"`
	UseSSL           bool   `mapstructure:"use_ssl"`
	Bucket           string `mapstructure:"bucket"`
	Region           string `mapstructure:"region"`
	BucketLookup     string `mapstructure:"bucket_lookup"`
	AutoCreateBucket bool   `mapstructure:"auto_create_bucket"`
	// MaxUploadBytes bounds a single photo upload.
	MaxUploadBytes int64 `mapstructure:"max_upload_bytes"`
}

// AuthConfig describes the external identity provider.
type AuthConfig struct {
	// JWTPublicKeyPEM verifies session tokens (RS256).
	JWTPublicKeyPEM   string        `mapstructure:"jwt_public_key_pem"`
	Issuer            string        `mapstructure:"issuer"`
	AuthorizedParties []string      `mapstructure:"authorized_parties"`
	APIBaseURL        string        `mapstructure:"api_base_url"`
	APIKey            string        `mapstructure:"api_key"`
	WebhookSecret     string        `mapstructure:"webhook_secret"`
	ReconcileAfter    time.Duration `mapstructure:"reconcile_after"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
}

// ImageModelConfig configures the external image-generation API.
type ImageModelConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	Token         string        `mapstructure:"token"`
	Model         string        `mapstructure:"model"`
	Prompt        string        `mapstructure:"prompt"`
	Timeout       time.Duration `mapstructure:"timeout"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	Concurrency   int           `mapstructure:"concurrency"`
	MirrorOutputs bool          `mapstructure:"mirror_outputs"`
}

// PhotosConfig tunes the photo operation workflow.
type PhotosConfig struct {
	CancelWindow    time.Duration `mapstructure:"cancel_window"`
	AsyncProcessing bool          `mapstructure:"async_processing"`
	DailyLimit      int           `mapstructure:"daily_limit"`
	MaxPerOperation int           `mapstructure:"max_per_operation"`
}

// CVConfig limits CV documents.
type CVConfig struct {
	MaxPerUser int `mapstructure:"max_per_user"`
}

// ClamdConfig points at the clamd daemon used to scan uploads. Empty address disables scanning.
type ClamdConfig struct {
	Addr string `mapstructure:"addr"`
}

// InternalConfig holds the shared secret for system-to-system calls.
type InternalConfig struct {
	Secret string `mapstructure:"secret"`
}

// LogConfig selects slog output.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TracingConfig drives the OpenTelemetry exporter.
type TracingConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	Exporter     string  `mapstructure:"exporter"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	SamplerRatio float64 `mapstructure:"sampler_ratio"`
	ServiceName  string  `mapstructure:"service_name"`
}

// DSN builds a lib/pq compatible connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host,
		d.Port,
		d.User,
		d.Password,
		d.Name,
		d.SSLMode,
	)
}

// Load reads configuration solely from environment variables (with optional defaults).
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if err := bindEnv(v); err != nil {
		return nil, fmt.Errorf("bind env: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.API.AllowedOrigins = splitList(cfg.API.AllowedOrigins)
	cfg.Auth.AuthorizedParties = splitList(cfg.Auth.AuthorizedParties)

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// MustLoad wraps Load and panics on failure.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.requests_per_minute", 120)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "cvforge")
	v.SetDefault("database.user", "cvforge")
	v.SetDefault("database.password", "cvforge")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("minio.endpoint", "localhost:9000")
	v.SetDefault("minio.public_endpoint", "http://localhost:9000")
	v.SetDefault("minio.use_ssl", false)
	v.SetDefault("minio.bucket", "cvforge")
	v.SetDefault("minio.bucket_lookup", "auto")
	v.SetDefault("minio.auto_create_bucket", true)
	v.SetDefault("minio.max_upload_bytes", 10*1024*1024)
	v.SetDefault("auth.reconcile_after", 24*time.Hour)
	v.SetDefault("auth.request_timeout", 10*time.Second)
	v.SetDefault("image_model.base_url", "https://api.replicate.com")
	v.SetDefault("image_model.prompt", "professional corporate headshot, studio lighting, neutral background, business attire")
	v.SetDefault("image_model.timeout", 5*time.Minute)
	v.SetDefault("image_model.poll_interval", 2*time.Second)
	v.SetDefault("image_model.concurrency", 4)
	v.SetDefault("photos.cancel_window", 30*time.Minute)
	v.SetDefault("photos.daily_limit", 5)
	v.SetDefault("photos.max_per_operation", 10)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("tracing.exporter", "stdout")
	v.SetDefault("tracing.sampler_ratio", 1.0)
	v.SetDefault("tracing.service_name", "cvforge")
}

func bindEnv(v *viper.Viper) error {
	mappings := map[string]string{
		"api.port":                     "API_PORT",
		"api.allowed_origins":          "API_ALLOWED_ORIGINS",
		"api.requests_per_minute":      "API_REQUESTS_PER_MINUTE",
		"database.host":                "DATABASE_HOST",
		"database.port":                "DATABASE_PORT",
		"database.name":                "POSTGRES_DB",
		"database.user":                "POSTGRES_USER",
		"database.password":            "POSTGRES_PASSWORD",
		"database.sslmode":             "DATABASE_SSLMODE",
		"redis.host":                   "REDIS_HOST",
		"redis.port":                   "REDIS_PORT",
		"minio.endpoint":               "MINIO_ENDPOINT",
		"minio.public_endpoint":        "MINIO_PUBLIC_ENDPOINT",
		"minio.access_key_id":          "MINIO_ACCESS_KEY_ID",
		"minio.secret_access_key":      "MINIO_SECRET_ACCESS_KEY",
		"minio.use_ssl":                "MINIO_USE_SSL",
		"minio.bucket":                 "MINIO_BUCKET",
		"minio.region":                 "MINIO_REGION",
		"minio.bucket_lookup":          "MINIO_BUCKET_LOOKUP",
		"minio.auto_create_bucket":     "MINIO_AUTO_CREATE_BUCKET",
		"minio.max_upload_bytes":       "MINIO_MAX_UPLOAD_BYTES",
		"auth.jwt_public_key_pem":      "AUTH_JWT_PUBLIC_KEY",
		"auth.issuer":                  "AUTH_ISSUER",
		"auth.authorized_parties":      "AUTH_AUTHORIZED_PARTIES",
		"auth.api_base_url":            "AUTH_API_BASE_URL",
		"auth.api_key":                 "AUTH_API_KEY",
		"auth.webhook_secret":          "AUTH_WEBHOOK_SECRET",
		"auth.reconcile_after":         "AUTH_RECONCILE_AFTER",
		"auth.request_timeout":         "AUTH_REQUEST_TIMEOUT",
		"image_model.base_url":         "IMAGE_MODEL_BASE_URL",
		"image_model.token":            "IMAGE_MODEL_TOKEN",
		"image_model.model":            "IMAGE_MODEL_NAME",
		"image_model.prompt":           "IMAGE_MODEL_PROMPT",
		"image_model.timeout":          "IMAGE_MODEL_TIMEOUT",
		"image_model.poll_interval":    "IMAGE_MODEL_POLL_INTERVAL",
		"image_model.concurrency":      "IMAGE_MODEL_CONCURRENCY",
		"image_model.mirror_outputs":   "IMAGE_MODEL_MIRROR_OUTPUTS",
		"photos.cancel_window":         "PHOTOS_CANCEL_WINDOW",
		"photos.async_processing":      "PHOTOS_ASYNC_PROCESSING",
		"photos.daily_limit":           "PHOTOS_DAILY_LIMIT",
		"photos.max_per_operation":     "PHOTOS_MAX_PER_OPERATION",
		"cv.max_per_user":              "CV_MAX_PER_USER",
		"clamd.addr":                   "CLAMD_ADDR",
		"internal.secret":              "INTERNAL_API_SECRET",
		"log.level":                    "LOG_LEVEL",
		"log.format":                   "LOG_FORMAT",
		"tracing.enabled":              "TRACING_ENABLED",
		"tracing.exporter":             "TRACING_EXPORTER",
		"tracing.otlp_endpoint":        "TRACING_OTLP_ENDPOINT",
		"tracing.sampler_ratio":        "TRACING_SAMPLER_RATIO",
		"tracing.service_name":         "TRACING_SERVICE_NAME",
	}

	for key, env := range mappings {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("bind %s to %s: %w", key, env, err)
		}
	}

	return nil
}

// splitList accepts both real lists and a single comma separated env value.
func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, raw := range in {
		for _, part := range strings.Split(raw, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

func validate(cfg Config) error {
	if cfg.API.Port <= 0 {
		return errors.New("api port must be positive")
	}
	if cfg.Database.Host == "" {
		return errors.New("database host is required")
	}
	if cfg.Database.Port <= 0 {
		return errors.New("database port must be positive")
	}
	if cfg.Database.Name == "" {
		return errors.New("database name is required")
	}
	if cfg.Database.User == "" {
		return errors.New("database user is required")
	}
	if cfg.Database.Password == "" {
		return errors.New("database password is required")
	}
	if cfg.Database.SSLMode == "" {
		return errors.New("database sslmode is required")
	}
	if cfg.Redis.Host == "" {
		return errors.New("redis host is required")
	}
	if cfg.Redis.Port <= 0 {
		return errors.New("redis port must be positive")
	}
	if cfg.MinIO.Endpoint == "" {
		return errors.New("minio endpoint is required")
	}
	if cfg.MinIO.AccessKeyID == "" {
		return errors.New("minio access key id is required")
	}
	if cfg.MinIO.SecretAccessKey == "" {
		return errors.New("minio secret access key is required")
	}
	if cfg.MinIO.Bucket == "" {
		return errors.New("minio bucket is required")
	}
	if cfg.Auth.JWTPublicKeyPEM == "" {
		return errors.New("auth jwt public key is required")
	}
	if cfg.Auth.WebhookSecret != "" && !strings.HasPrefix(cfg.Auth.WebhookSecret, "whsec_") {
		return errors.New("auth webhook secret must start with whsec_")
	}
	if cfg.ImageModel.Concurrency <= 0 {
		return errors.New("image model concurrency must be positive")
	}
	if cfg.Photos.CancelWindow <= 0 {
		return errors.New("photos cancel window must be positive")
	}
	switch strings.ToLower(cfg.Log.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("unsupported log format %q", cfg.Log.Format)
	}
	switch cfg.Tracing.Exporter {
	case "stdout", "otlp":
	default:
		return fmt.Errorf("unsupported tracing exporter %q", cfg.Tracing.Exporter)
	}
	return nil
}
