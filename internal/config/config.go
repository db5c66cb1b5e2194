package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/DevCuidame/clin-sync-backend-sub001/internal/domain/scheduling"
)

type Config struct {
	Port            string        `mapstructure:"PORT"`
	Env             string        `mapstructure:"ENV"`
	LogLevel        string        `mapstructure:"LOG_LEVEL"`
	DatabaseURL     string        `mapstructure:"DATABASE_URL"`
	DBMaxConns      int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns      int32         `mapstructure:"DB_MIN_CONNS"`
	RedisURL        string        `mapstructure:"REDIS_URL"`
	CORSOrigins     []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS    float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst  int           `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout  time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	BodyLimit       string        `mapstructure:"BODY_LIMIT"`
	BulkBodyLimit   string        `mapstructure:"BULK_BODY_LIMIT"`
	CleanupInterval time.Duration `mapstructure:"CLEANUP_INTERVAL"`

	// AvailabilityProfile selects the orchestrator preset; empty means ENV.
	AvailabilityProfile string `mapstructure:"AVAILABILITY_PROFILE"`

	// Availability is the preset with any AVAILABILITY_* overrides applied.
	Availability scheduling.HybridConfig `mapstructure:"-"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"REDIS_URL", "CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"REQUEST_TIMEOUT", "BODY_LIMIT", "BULK_BODY_LIMIT", "CLEANUP_INTERVAL",
	"AVAILABILITY_PROFILE",
}

// availabilityOverrides maps each AVAILABILITY_* key onto the orchestrator
// option it replaces. Only keys that are actually set are applied.
var availabilityOverrides = map[string]func(v *viper.Viper, key string, hc *scheduling.HybridConfig){
	"AVAILABILITY_DEFAULT_DURATION": func(v *viper.Viper, k string, hc *scheduling.HybridConfig) {
		hc.DefaultDuration = v.GetInt(k)
	},
	"AVAILABILITY_AUTO_GENERATE": func(v *viper.Viper, k string, hc *scheduling.HybridConfig) {
		hc.AutoGenerate.Enabled = v.GetBool(k)
	},
	"AVAILABILITY_MAX_SLOTS_PER_DAY": func(v *viper.Viper, k string, hc *scheduling.HybridConfig) {
		hc.AutoGenerate.MaxSlotsPerDay = v.GetInt(k)
	},
	"AVAILABILITY_MIN_SLOT_DURATION": func(v *viper.Viper, k string, hc *scheduling.HybridConfig) {
		hc.AutoGenerate.MinSlotDuration = v.GetInt(k)
	},
	"AVAILABILITY_MAX_SLOT_DURATION": func(v *viper.Viper, k string, hc *scheduling.HybridConfig) {
		hc.AutoGenerate.MaxSlotDuration = v.GetInt(k)
	},
	"AVAILABILITY_PERSISTENCE": func(v *viper.Viper, k string, hc *scheduling.HybridConfig) {
		hc.Persistence.Enabled = v.GetBool(k)
	},
	"AVAILABILITY_POPULARITY_THRESHOLD": func(v *viper.Viper, k string, hc *scheduling.HybridConfig) {
		hc.Persistence.PopularityThreshold = v.GetInt(k)
	},
	"AVAILABILITY_AUTO_CLEANUP": func(v *viper.Viper, k string, hc *scheduling.HybridConfig) {
		hc.Persistence.AutoCleanup = v.GetBool(k)
	},
	"AVAILABILITY_CLEANUP_AFTER_DAYS": func(v *viper.Viper, k string, hc *scheduling.HybridConfig) {
		hc.Persistence.CleanupAfterDays = v.GetInt(k)
	},
	"AVAILABILITY_CACHE_ENABLED": func(v *viper.Viper, k string, hc *scheduling.HybridConfig) {
		hc.Performance.CacheEnabled = v.GetBool(k)
	},
	"AVAILABILITY_CACHE_TTL": func(v *viper.Viper, k string, hc *scheduling.HybridConfig) {
		hc.Performance.CacheTTL = v.GetDuration(k)
	},
	"AVAILABILITY_MAX_CONCURRENT_GENERATIONS": func(v *viper.Viper, k string, hc *scheduling.HybridConfig) {
		hc.Performance.MaxConcurrentGenerations = v.GetInt(k)
	},
	"AVAILABILITY_ALLOW_OVERLAPPING": func(v *viper.Viper, k string, hc *scheduling.HybridConfig) {
		hc.BusinessRules.AllowOverlapping = v.GetBool(k)
	},
	"AVAILABILITY_RESPECT_BREAKS": func(v *viper.Viper, k string, hc *scheduling.HybridConfig) {
		hc.BusinessRules.RespectBreaks = v.GetBool(k)
	},
	"AVAILABILITY_RESPECT_VACATIONS": func(v *viper.Viper, k string, hc *scheduling.HybridConfig) {
		hc.BusinessRules.RespectVacations = v.GetBool(k)
	},
	"AVAILABILITY_BUFFER_MINUTES": func(v *viper.Viper, k string, hc *scheduling.HybridConfig) {
		hc.BusinessRules.BufferBetweenSlots = v.GetInt(k)
	},
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("BODY_LIMIT", "1M")
	v.SetDefault("BULK_BODY_LIMIT", "5M")
	v.SetDefault("CLEANUP_INTERVAL", "1h")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}
	for k := range availabilityOverrides {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.AvailabilityProfile == "" {
		cfg.AvailabilityProfile = cfg.Env
	}
	cfg.Availability = scheduling.DefaultHybridConfig(cfg.AvailabilityProfile)
	for k, apply := range availabilityOverrides {
		if v.IsSet(k) {
			apply(v, k, &cfg.Availability)
		}
	}

	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Level returns the parsed LOG_LEVEL, falling back to info.
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	if c.DBMaxConns < 1 {
		return fmt.Errorf("DB_MAX_CONNS must be at least 1, got %d", c.DBMaxConns)
	}
	if c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS must be between 0 and DB_MAX_CONNS (%d), got %d", c.DBMaxConns, c.DBMinConns)
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst < 1 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must not be negative")
	}
	if c.Availability.Persistence.AutoCleanup && c.CleanupInterval <= 0 {
		return fmt.Errorf("CLEANUP_INTERVAL must be positive when auto cleanup is enabled")
	}
	if err := c.Availability.Validate(); err != nil {
		return fmt.Errorf("availability config: %w", err)
	}
	return nil
}
