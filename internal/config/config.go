package config

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ScheduleConfig sets worker cadences. Cadences are Go durations,
// daily times are "15:04" in UTC.
type ScheduleConfig struct {
	StitchEvery      string `yaml:"stitch_every"`
	AggregateDailyAt string `yaml:"aggregate_daily_at"`
	RegionDailyAt    string `yaml:"region_daily_at"`
	ValidateDailyAt  string `yaml:"validate_daily_at"`
	ReportDailyAt    string `yaml:"report_daily_at"`
}

// StitchCadence parses the stitch cadence, falling back to five
// minutes on a bad value.
func (s ScheduleConfig) StitchCadence() time.Duration {
	parsed, err := time.ParseDuration(s.StitchEvery)
	if err != nil || parsed <= 0 {
		return 5 * time.Minute
	}
	return parsed
}

// SyncConfig configures the outbound sync client. Empty URL disables
// it.
type SyncConfig struct {
	URL    string `yaml:"url"`
	Secret string `yaml:"secret"`
	Issuer string `yaml:"issuer"`
}

// Config defines the service configuration.
type Config struct {
	DatabaseURL string `yaml:"database_url"`
	HTTPAddr    string `yaml:"http_addr"`

	TailSeconds       int `yaml:"tail_seconds"`
	MaxSessionMinutes int `yaml:"max_session_minutes"`
	ToleranceSeconds  int `yaml:"tolerance_seconds"`
	LookbackDays      int `yaml:"lookback_days"`

	Schedule    ScheduleConfig `yaml:"schedule"`
	StorageRoot string         `yaml:"storage_root"`
	Sync        SyncConfig     `yaml:"sync"`
}

// Tail returns the session tail grace period.
func (c Config) Tail() time.Duration {
	return time.Duration(c.TailSeconds) * time.Second
}

// MaxSession returns the session duration ceiling.
func (c Config) MaxSession() time.Duration {
	return time.Duration(c.MaxSessionMinutes) * time.Minute
}

// Tolerance returns the validation tolerance.
func (c Config) Tolerance() time.Duration {
	return time.Duration(c.ToleranceSeconds) * time.Second
}

// Load reads config from yaml (FILTERWATCH_CONFIG) with env fallback.
func Load() (Config, error) {
	cfg := Config{
		DatabaseURL:       getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		HTTPAddr:          getenvDefault("HTTP_ADDR", ":8080"),
		TailSeconds:       getenvIntDefault("SESSION_TAIL_SECONDS", 180),
		MaxSessionMinutes: getenvIntDefault("SESSION_MAX_MINUTES", 120),
		ToleranceSeconds:  getenvIntDefault("VALIDATION_TOLERANCE_SECONDS", 300),
		LookbackDays:      getenvIntDefault("LOOKBACK_DAYS", 2),
		StorageRoot:       getenvDefault("REPORT_STORAGE_ROOT", filepath.FromSlash("var/reports/validation")),
		Sync: SyncConfig{
			URL:    os.Getenv("SYNC_URL"),
			Secret: os.Getenv("SYNC_SECRET"),
			Issuer: getenvDefault("SYNC_ISSUER", "filterwatch"),
		},
	}

	if path := os.Getenv("FILTERWATCH_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}

	if cfg.Schedule.StitchEvery == "" {
		cfg.Schedule.StitchEvery = getenvDefault("STITCH_EVERY", "5m")
	}
	if cfg.Schedule.AggregateDailyAt == "" {
		cfg.Schedule.AggregateDailyAt = getenvDefault("AGGREGATE_DAILY_AT", "01:10")
	}
	if cfg.Schedule.RegionDailyAt == "" {
		cfg.Schedule.RegionDailyAt = getenvDefault("REGION_DAILY_AT", "01:40")
	}
	if cfg.Schedule.ValidateDailyAt == "" {
		cfg.Schedule.ValidateDailyAt = getenvDefault("VALIDATE_DAILY_AT", "02:10")
	}
	if cfg.Schedule.ReportDailyAt == "" {
		cfg.Schedule.ReportDailyAt = getenvDefault("REPORT_DAILY_AT", "02:40")
	}

	if cfg.DatabaseURL == "" {
		return cfg, errors.New("config: DATABASE_URL or PG_DSN is required")
	}
	if cfg.Sync.URL != "" && cfg.Sync.Secret == "" {
		return cfg, errors.New("config: SYNC_SECRET is required when SYNC_URL is set")
	}
	return cfg, nil
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
