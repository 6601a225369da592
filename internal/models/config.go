package models

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	ServerAddr       string  `yaml:"server_addr"`
	QuietPeriodMs    int     `yaml:"quiet_period_ms"`
	EngineTimeoutMs  int     `yaml:"engine_timeout_ms"` // 0 waits indefinitely
	MaxUploadMB      int     `yaml:"max_upload_mb"`
	MaxWidthOrHeight int     `yaml:"max_width_or_height"`
	MaxSizeMB        float64 `yaml:"max_size_mb"`
	DefaultFormat    string  `yaml:"default_format"`
	DefaultQuality   int     `yaml:"default_quality"`
	KafkaBroker      string  `yaml:"kafka_broker"`
	KafkaTopic       string  `yaml:"kafka_topic"`
	LogLevel         string  `yaml:"log_level"`
	LogPretty        bool    `yaml:"log_pretty"`
}

func DefaultConfig() Config {
	return Config{
		ServerAddr:     ":8080",
		QuietPeriodMs:  250,
		MaxUploadMB:    50,
		DefaultFormat:  string(FormatAuto),
		DefaultQuality: DefaultQuality,
		KafkaTopic:     "compression-events",
		LogLevel:       "info",
	}
}

// LoadConfig reads path over the defaults. A missing file is not an error;
// IMGC_* environment variables override whatever the file sets.
func LoadConfig(path string) (*Config, error) {
	const op = "models.LoadConfig"

	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	case !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	if v, ok := lookupEnv("IMGC_SERVER_ADDR"); ok {
		c.ServerAddr = v
	}
	if v, ok := lookupEnv("IMGC_KAFKA_BROKER"); ok {
		c.KafkaBroker = v
	}
	if v, ok := lookupEnv("IMGC_KAFKA_TOPIC"); ok {
		c.KafkaTopic = v
	}
	if v, ok := lookupEnv("IMGC_LOG_LEVEL"); ok {
		c.LogLevel = v
	}
	if v, ok := lookupEnv("IMGC_DEFAULT_FORMAT"); ok {
		c.DefaultFormat = v
	}
	ints := map[string]*int{
		"IMGC_QUIET_PERIOD_MS":     &c.QuietPeriodMs,
		"IMGC_ENGINE_TIMEOUT_MS":   &c.EngineTimeoutMs,
		"IMGC_MAX_UPLOAD_MB":       &c.MaxUploadMB,
		"IMGC_DEFAULT_QUALITY":     &c.DefaultQuality,
		"IMGC_MAX_WIDTH_OR_HEIGHT": &c.MaxWidthOrHeight,
	}
	for key, dst := range ints {
		v, ok := lookupEnv(key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q", ErrInvalidConfig, key, v)
		}
		*dst = n
	}
	if v, ok := lookupEnv("IMGC_MAX_SIZE_MB"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%w: IMGC_MAX_SIZE_MB=%q", ErrInvalidConfig, v)
		}
		c.MaxSizeMB = f
	}
	if v, ok := lookupEnv("IMGC_LOG_PRETTY"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: IMGC_LOG_PRETTY=%q", ErrInvalidConfig, v)
		}
		c.LogPretty = b
	}
	return nil
}

func lookupEnv(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	return v, ok && v != ""
}

func (c *Config) Validate() error {
	if c.QuietPeriodMs < 0 {
		return fmt.Errorf("%w: quiet_period_ms must not be negative", ErrInvalidConfig)
	}
	if c.EngineTimeoutMs < 0 {
		return fmt.Errorf("%w: engine_timeout_ms must not be negative", ErrInvalidConfig)
	}
	if c.MaxUploadMB <= 0 {
		return fmt.Errorf("%w: max_upload_mb must be positive", ErrInvalidConfig)
	}
	if c.MaxWidthOrHeight < 0 || c.MaxSizeMB < 0 {
		return fmt.Errorf("%w: size limits must not be negative", ErrInvalidConfig)
	}
	if _, err := c.Defaults(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Defaults returns the settings every new asset starts with.
func (c *Config) Defaults() (Settings, error) {
	f, err := ParseFormat(c.DefaultFormat)
	if err != nil {
		return Settings{}, err
	}
	s := Settings{Format: f, Quality: c.DefaultQuality}
	return s, s.Validate()
}

func (c *Config) QuietPeriod() time.Duration {
	return time.Duration(c.QuietPeriodMs) * time.Millisecond
}

func (c *Config) EngineTimeout() time.Duration {
	return time.Duration(c.EngineTimeoutMs) * time.Millisecond
}

func (c *Config) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) << 20
}

func (c *Config) MaxSizeBytes() int64 {
	return int64(c.MaxSizeMB * (1 << 20))
}
