package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"seller-gateway/internal/cache"
	"seller-gateway/internal/events"
	"seller-gateway/internal/telemetry"
	"seller-gateway/internal/wizard"
)

type Config struct {
	Addr     string `validate:"required"`
	Frontend string

	MarketplaceURL string `validate:"required,url"`
	UploadBackend  string `validate:"oneof=api storage"`

	CheckpointStore string        `validate:"oneof=redis postgres memory"`
	CheckpointTTL   time.Duration `validate:"gt=0"`

	MinImages         int           `validate:"gte=1"`
	MaxImages         int           `validate:"gtefield=MinImages"`
	MaxImageBytes     int64         `validate:"gt=0"`
	AllowedImageTypes []string      `validate:"min=1,dive,required"`
	ErrorClearDelay   time.Duration `validate:"gte=0"`
	UploadFailure     string        `validate:"oneof=all_or_nothing keep_successful"`
	UploadConcurrency int           `validate:"gte=1"`
	RequestTimeout    time.Duration `validate:"gt=0"`

	Redis       cache.Config
	DatabaseDSN string `validate:"required_if=CheckpointStore postgres"`
	Storage     StorageConfig
	NatsURL     string
	NatsStream  string
	Events      *events.EventConfig

	Authorization AuthorizationConfig
	Tracing       telemetry.TracerConfig
}

type StorageConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	PublicURL       string
	Bucket          string
}

type AuthorizationConfig struct {
	URL      string `validate:"required,url"`
	ClientID string `validate:"required"`
	// SellerRole, when set, is the realm role needed to use the wizard.
	SellerRole string
}

func (c Config) policy() wizard.Policy {
	return wizard.Policy{
		MinImages:         c.MinImages,
		MaxImages:         c.MaxImages,
		AllowedMimeTypes:  c.AllowedImageTypes,
		MaxFileSize:       c.MaxImageBytes,
		ErrorClearDelay:   c.ErrorClearDelay,
		UploadFailure:     wizard.UploadFailurePolicy(c.UploadFailure),
		UploadConcurrency: c.UploadConcurrency,
		RequestTimeout:    c.RequestTimeout,
	}
}

func loadConfig() (Config, error) {
	// Helper to get env with fallback
	get := func(key, fallback string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		return fallback
	}

	var errs []error
	getInt := func(key string, fallback int) int {
		n, err := strconv.Atoi(get(key, strconv.Itoa(fallback)))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
		return n
	}
	getDuration := func(key string, fallback time.Duration) time.Duration {
		d, err := time.ParseDuration(get(key, fallback.String()))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
		return d
	}

	getFloat := func(key string, fallback float64) float64 {
		f, err := strconv.ParseFloat(get(key, strconv.FormatFloat(fallback, 'f', -1, 64)), 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
		return f
	}

	defaults := wizard.DefaultPolicy()
	cfg := Config{
		Addr:     ":" + get("API_PORT", "8080"),
		Frontend: os.Getenv("DOMAIN_NAME"),

		MarketplaceURL: os.Getenv("MARKETPLACE_API_URL"),
		UploadBackend:  get("UPLOAD_BACKEND", "api"),

		CheckpointStore: get("WIZARD_CHECKPOINT_STORE", "redis"),
		CheckpointTTL:   getDuration("WIZARD_CHECKPOINT_TTL", 72*time.Hour),

		MinImages:         getInt("WIZARD_MIN_IMAGES", defaults.MinImages),
		MaxImages:         getInt("WIZARD_MAX_IMAGES", defaults.MaxImages),
		MaxImageBytes:     int64(getInt("WIZARD_MAX_IMAGE_BYTES", int(defaults.MaxFileSize))),
		AllowedImageTypes: splitList(get("WIZARD_ALLOWED_IMAGE_TYPES", strings.Join(defaults.AllowedMimeTypes, ","))),
		ErrorClearDelay:   getDuration("WIZARD_ERROR_CLEAR_DELAY", defaults.ErrorClearDelay),
		UploadFailure:     get("WIZARD_UPLOAD_FAILURE_POLICY", string(defaults.UploadFailure)),
		UploadConcurrency: getInt("WIZARD_UPLOAD_CONCURRENCY", defaults.UploadConcurrency),
		RequestTimeout:    getDuration("WIZARD_REQUEST_TIMEOUT", defaults.RequestTimeout),

		Redis: cache.Config{
			Addr:         get("REDIS_ADDR", "localhost:6379"),
			Password:     os.Getenv("REDIS_PASSWORD"),
			PoolSize:     getInt("REDIS_POOL_SIZE", 0),
			MinIdleConns: getInt("REDIS_MIN_IDLE_CONNS", 0),
		},
		DatabaseDSN: os.Getenv("DB_DSN"),
		Storage: StorageConfig{
			Endpoint:        os.Getenv("S3_ENDPOINT"),
			AccessKeyID:     os.Getenv("GATEWAY_S3_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("GATEWAY_S3_SECRET_ACCESS_KEY"),
			UseSSL:          os.Getenv("S3_USE_SSL") == "true",
			PublicURL:       os.Getenv("PUBLIC_FILES_URL"),
			Bucket:          get("S3_IMAGES_BUCKET", "listing-images"),
		},
		NatsURL:    os.Getenv("NATS_ENDPOINT"),
		NatsStream: get("NATS_STREAM", "WIZARD"),
		Events:     events.NewEventConfig(),

		Authorization: AuthorizationConfig{
			URL:        os.Getenv("AUTHORIZATION_URL"),
			ClientID:   os.Getenv("AUTHORIZATION_CLIENT_ID"),
			SellerRole: os.Getenv("AUTHORIZATION_SELLER_ROLE"),
		},
		Tracing: telemetry.TracerConfig{
			ServiceName:  serviceName,
			Environment:  os.Getenv("APP_ENV"),
			CollectorURL: os.Getenv("OTEL_COLLECTOR_URL"),
			SampleRatio:  getFloat("OTEL_SAMPLE_RATIO", 1),
		},
	}

	if len(errs) > 0 {
		return Config{}, errors.Join(errs...)
	}
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.UploadBackend == "storage" && (cfg.Storage.Endpoint == "" || cfg.Storage.PublicURL == "") {
		return Config{}, errors.New("invalid configuration: UPLOAD_BACKEND=storage needs S3_ENDPOINT and PUBLIC_FILES_URL")
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.ToLower(strings.TrimSpace(item)); item != "" {
			out = append(out, item)
		}
	}
	return out
}
