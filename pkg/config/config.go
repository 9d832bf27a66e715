// Package config reads service settings from the environment and an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"vehicle-scan/pkg/imageproc"
	"vehicle-scan/pkg/report"
)

const defaultMaxUploadBytes = 20 << 20

// Config holds every setting the service reads at startup
type Config struct {
	DatabaseURL    string
	DatabaseDriver string
	Port           string

	AzureVisionEndpoint string
	AzureVisionKey      string

	ImageMaxDimension int
	ImageQuality      float64
	ImageWorkers      int
	MaxUploadBytes    int64

	ReportLayoutPath string

	LogLevel  string
	LogFormat string
}

// ExtractionEnabled reports whether Azure credentials were supplied
func (c Config) ExtractionEnabled() bool {
	return c.AzureVisionEndpoint != "" && c.AzureVisionKey != ""
}

// LoadDotEnv loads the given env files into the process environment.
// Missing files are not an error.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("error loading %s: %w", f, err)
		}
	}
	return nil
}

// Load reads the configuration using os.Getenv
func Load() (Config, error) {
	return FromLookup(os.LookupEnv)
}

// FromLookup reads the configuration through lookup
func FromLookup(lookup func(string) (string, bool)) (Config, error) {
	get := func(key, def string) string {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
		return def
	}

	cfg := Config{
		DatabaseURL:         get("DATABASE_URL", ""),
		DatabaseDriver:      strings.ToLower(get("DATABASE_DRIVER", "postgres")),
		Port:                get("PORT", "8080"),
		AzureVisionEndpoint: get("AZURE_VISION_ENDPOINT", ""),
		AzureVisionKey:      get("AZURE_VISION_KEY", ""),
		ReportLayoutPath:    get("REPORT_LAYOUT", ""),
		LogLevel:            strings.ToLower(get("LOG_LEVEL", "info")),
		LogFormat:           strings.ToLower(get("LOG_FORMAT", "text")),
	}

	var err error
	if cfg.ImageMaxDimension, err = strconv.Atoi(get("IMAGE_MAX_DIMENSION", strconv.Itoa(imageproc.DefaultMaxDimension))); err != nil || cfg.ImageMaxDimension <= 0 {
		return Config{}, fmt.Errorf("invalid IMAGE_MAX_DIMENSION: must be a positive integer")
	}
	if cfg.ImageQuality, err = strconv.ParseFloat(get("IMAGE_QUALITY", strconv.FormatFloat(imageproc.DefaultQuality, 'f', -1, 64)), 64); err != nil || cfg.ImageQuality <= 0 || cfg.ImageQuality > 1 {
		return Config{}, fmt.Errorf("invalid IMAGE_QUALITY: must be in (0, 1]")
	}
	if cfg.ImageWorkers, err = strconv.Atoi(get("IMAGE_WORKERS", strconv.Itoa(runtime.NumCPU()))); err != nil || cfg.ImageWorkers <= 0 {
		return Config{}, fmt.Errorf("invalid IMAGE_WORKERS: must be a positive integer")
	}
	if cfg.MaxUploadBytes, err = strconv.ParseInt(get("MAX_UPLOAD_BYTES", strconv.Itoa(defaultMaxUploadBytes)), 10, 64); err != nil || cfg.MaxUploadBytes <= 0 {
		return Config{}, fmt.Errorf("invalid MAX_UPLOAD_BYTES: must be a positive integer")
	}

	switch cfg.DatabaseDriver {
	case "postgres", "sqlite":
	default:
		return Config{}, fmt.Errorf("invalid DATABASE_DRIVER %q: want postgres or sqlite", cfg.DatabaseDriver)
	}
	if cfg.DatabaseURL == "" {
		if cfg.DatabaseDriver != "sqlite" {
			return Config{}, errors.New("DATABASE_URL is required")
		}
		cfg.DatabaseURL = "vehicle-scan.db"
	}

	return cfg, nil
}

// Layout returns the report layout, read from ReportLayoutPath when set
func (c Config) Layout() (report.Layout, error) {
	if c.ReportLayoutPath == "" {
		return report.DefaultLayout(), nil
	}
	return report.LoadLayoutFile(c.ReportLayoutPath)
}

// NewLogger builds the process logger from LogLevel and LogFormat
func (c Config) NewLogger() (*logrus.Logger, error) {
	logger := logrus.New()

	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	logger.SetLevel(level)

	switch c.LogFormat {
	case "", "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, fmt.Errorf("invalid LOG_FORMAT %q: want text or json", c.LogFormat)
	}
	return logger, nil
}
