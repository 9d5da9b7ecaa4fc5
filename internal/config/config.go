// Package config gathers runtime settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/Brownie44l1/imagenet-api/internal/model"
	"github.com/Brownie44l1/imagenet-api/internal/preprocess"
)

// Config holds every setting the service and CLI read at startup.
type Config struct {
	Port           string
	ModelPath      string
	LabelsPath     string
	Backend        string
	ORTLibraryPath string
	IntraOpThreads int

	RedisAddr   string
	DatabaseDSN string

	JWTSecret   string
	JWTAudience string

	LogLevel       string
	RequestTimeout time.Duration
	MaxUploadBytes int64
	MaxImagePixels int
	CacheTTL       time.Duration
}

// Defaults used when the environment is silent. An empty labels path selects
// the built-in ImageNet class table.
const (
	DefaultPort           = "8080"
	DefaultModelPath      = "models/mobilenet.onnx"
	DefaultLabelsPath     = ""
	DefaultRequestTimeout = 30 * time.Second
	DefaultMaxUploadBytes = 5 << 20
	DefaultMaxImagePixels = preprocess.DefaultMaxPixels
	DefaultCacheTTL       = 10 * time.Minute
)

// Load reads the environment, falling back to defaults. Malformed numeric or
// duration values are reported rather than silently ignored.
func Load() (Config, error) {
	cfg := Config{
		Port:           getEnv("PORT", DefaultPort),
		ModelPath:      getEnv("MODEL_PATH", DefaultModelPath),
		LabelsPath:     getEnv("LABELS_PATH", DefaultLabelsPath),
		Backend:        getEnv("MODEL_BACKEND", model.BackendONNXRuntime),
		ORTLibraryPath: os.Getenv("ORT_LIB_PATH"),
		RedisAddr:      os.Getenv("REDIS_ADDR"),
		DatabaseDSN:    os.Getenv("DATABASE_DSN"),
		JWTSecret:      os.Getenv("JWT_SECRET"),
		JWTAudience:    os.Getenv("JWT_AUDIENCE"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
	}

	var errs []error
	var err error
	if cfg.IntraOpThreads, err = getEnvInt("ORT_INTRA_OP_THREADS", 0); err != nil {
		errs = append(errs, err)
	}
	if cfg.RequestTimeout, err = getEnvDuration("REQUEST_TIMEOUT", DefaultRequestTimeout); err != nil {
		errs = append(errs, err)
	}
	if cfg.CacheTTL, err = getEnvDuration("CACHE_TTL", DefaultCacheTTL); err != nil {
		errs = append(errs, err)
	}
	maxUpload, err := getEnvInt("MAX_UPLOAD_BYTES", DefaultMaxUploadBytes)
	if err != nil {
		errs = append(errs, err)
	}
	cfg.MaxUploadBytes = int64(maxUpload)
	if cfg.MaxImagePixels, err = getEnvInt("MAX_IMAGE_PIXELS", DefaultMaxImagePixels); err != nil {
		errs = append(errs, err)
	}

	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot start with.
func (c Config) Validate() error {
	var errs []error
	if c.Port == "" {
		errs = append(errs, errors.New("port must not be empty"))
	} else if p, err := strconv.Atoi(c.Port); err != nil || p <= 0 || p > 65535 {
		errs = append(errs, fmt.Errorf("invalid port %q", c.Port))
	}
	if c.ModelPath == "" {
		errs = append(errs, errors.New("model path must not be empty"))
	}
	switch c.Backend {
	case model.BackendONNXRuntime, model.BackendBorn:
	default:
		errs = append(errs, fmt.Errorf("unknown model backend %q", c.Backend))
	}
	if c.IntraOpThreads < 0 {
		errs = append(errs, errors.New("intra-op threads must not be negative"))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, errors.New("request timeout must be positive"))
	}
	if c.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("max upload size must be positive"))
	}
	if c.MaxImagePixels <= 0 {
		errs = append(errs, errors.New("max image pixels must be positive"))
	}
	if c.CacheTTL <= 0 {
		errs = append(errs, errors.New("cache ttl must be positive"))
	}
	return errors.Join(errs...)
}

// Addr is the listen address for the HTTP server.
func (c Config) Addr() string {
	return ":" + c.Port
}

// OpenConfig is the backend selection derived from c.
func (c Config) OpenConfig() model.OpenConfig {
	return model.OpenConfig{
		Backend:   c.Backend,
		ModelPath: c.ModelPath,
		ONNX: model.ONNXOptions{
			LibraryPath:    c.ORTLibraryPath,
			IntraOpThreads: c.IntraOpThreads,
		},
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
