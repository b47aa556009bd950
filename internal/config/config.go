package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	HTTP         HTTPConfig
	FaceService  FaceServiceConfig
	Verification VerificationConfig
	Detection    DetectionConfig
	Images       ImagesConfig
	Redis        RedisConfig
	Log          LogConfig
}

type HTTPConfig struct {
	Addr            string
	ShutdownTimeout time.Duration
	RequestTimeout  time.Duration
	MaxBodyBytes    int64
	Mode            string
}

type FaceServiceConfig struct {
	Addr        string
	DialTimeout time.Duration
}

type VerificationConfig struct {
	// Threshold is nil when the backend default should be used.
	Threshold *float64
	ModelName string
}

type DetectionConfig struct {
	Backend string
}

type ImagesConfig struct {
	TempDir       string
	FetchTimeout  time.Duration
	MaxFetchBytes int64
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	CacheTTL time.Duration
}

type LogConfig struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.shutdown_timeout", 15*time.Second)
	v.SetDefault("http.request_timeout", 60*time.Second)
	v.SetDefault("http.max_body_bytes", 20<<20)
	v.SetDefault("http.mode", "release")

	v.SetDefault("face_service.addr", "face-service:50051")
	v.SetDefault("face_service.dial_timeout", 5*time.Second)

	v.SetDefault("verification.threshold", "")
	v.SetDefault("verification.model_name", "")

	v.SetDefault("detection.backend", "opencv")

	v.SetDefault("images.temp_dir", "")
	v.SetDefault("images.fetch_timeout", 10*time.Second)
	v.SetDefault("images.max_fetch_bytes", 10<<20)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.cache_ttl", 5*time.Minute)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
}

// Load reads configuration from the environment, an optional .env file and
// an optional config file named by CONFIG_FILE. Environment variables use
// the upper-cased key with dots replaced by underscores, e.g. HTTP_ADDR.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file := os.Getenv("CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	return FromViper(v)
}

// FromViper builds a Config from an already populated viper instance.
func FromViper(v *viper.Viper) (*Config, error) {
	threshold, err := parseThreshold(v.GetString("verification.threshold"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		HTTP: HTTPConfig{
			Addr:            v.GetString("http.addr"),
			ShutdownTimeout: v.GetDuration("http.shutdown_timeout"),
			RequestTimeout:  v.GetDuration("http.request_timeout"),
			MaxBodyBytes:    v.GetInt64("http.max_body_bytes"),
			Mode:            v.GetString("http.mode"),
		},
		FaceService: FaceServiceConfig{
			Addr:        v.GetString("face_service.addr"),
			DialTimeout: v.GetDuration("face_service.dial_timeout"),
		},
		Verification: VerificationConfig{
			Threshold: threshold,
			ModelName: v.GetString("verification.model_name"),
		},
		Detection: DetectionConfig{
			Backend: v.GetString("detection.backend"),
		},
		Images: ImagesConfig{
			TempDir:       v.GetString("images.temp_dir"),
			FetchTimeout:  v.GetDuration("images.fetch_timeout"),
			MaxFetchBytes: v.GetInt64("images.max_fetch_bytes"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
			CacheTTL: v.GetDuration("redis.cache_ttl"),
		},
		Log: LogConfig{
			Level:      v.GetString("log.level"),
			File:       v.GetString("log.file"),
			MaxSizeMB:  v.GetInt("log.max_size_mb"),
			MaxBackups: v.GetInt("log.max_backups"),
			MaxAgeDays: v.GetInt("log.max_age_days"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseThreshold(raw string) (*float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, "default") {
		return nil, nil
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, fmt.Errorf("verification.threshold: %w", err)
	}
	return &value, nil
}

// Validate rejects settings the gateway cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	if c.FaceService.Addr == "" {
		errs = append(errs, errors.New("face_service.addr is required"))
	}
	if c.Detection.Backend == "" {
		errs = append(errs, errors.New("detection.backend is required"))
	}
	switch c.HTTP.Mode {
	case gin.DebugMode, gin.ReleaseMode, gin.TestMode:
	default:
		errs = append(errs, fmt.Errorf("http.mode must be one of %s, %s, %s, got %q", gin.DebugMode, gin.ReleaseMode, gin.TestMode, c.HTTP.Mode))
	}
	if t := c.Verification.Threshold; t != nil && *t <= 0 {
		errs = append(errs, fmt.Errorf("verification.threshold must be positive, got %v", *t))
	}
	for name, d := range map[string]time.Duration{
		"http.shutdown_timeout":     c.HTTP.ShutdownTimeout,
		"http.request_timeout":      c.HTTP.RequestTimeout,
		"face_service.dial_timeout": c.FaceService.DialTimeout,
		"images.fetch_timeout":      c.Images.FetchTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if c.HTTP.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("http.max_body_bytes must be positive"))
	}
	if c.Redis.Addr != "" && c.Redis.CacheTTL <= 0 {
		errs = append(errs, errors.New("redis.cache_ttl must be positive when redis is enabled"))
	}
	return errors.Join(errs...)
}
