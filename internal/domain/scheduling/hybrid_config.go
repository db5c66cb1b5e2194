package scheduling

import (
	"fmt"
	"time"
)

// HybridConfig tunes the hybrid availability strategy.
type HybridConfig struct {
	DefaultDuration int
	AutoGenerate    AutoGenerateConfig
	Persistence     PersistenceConfig
	Performance     PerformanceConfig
	BusinessRules   BusinessRules
}

type AutoGenerateConfig struct {
	Enabled         bool
	MaxSlotsPerDay  int
	MinSlotDuration int
	MaxSlotDuration int
}

// PersistenceConfig controls when generated slots are written back.
// PopularityThreshold is how many virtual slots a persist-popular request
// stores.
type PersistenceConfig struct {
	Enabled             bool
	PopularityThreshold int
	AutoCleanup         bool
	CleanupAfterDays    int
}

type PerformanceConfig struct {
	CacheEnabled             bool
	CacheTTL                 time.Duration
	MaxConcurrentGenerations int
}

// BusinessRules shape the windows the Generator emits.
type BusinessRules struct {
	// AllowOverlapping lets a virtual slot overlap a persisted slot that
	// starts at a different time.
	AllowOverlapping   bool
	RespectBreaks      bool
	RespectVacations   bool
	BufferBetweenSlots int
}

// DefaultHybridConfig returns the preset for profile: "development",
// "production", "test", or anything else for the base defaults.
func DefaultHybridConfig(profile string) HybridConfig {
	cfg := HybridConfig{
		DefaultDuration: 30,
		AutoGenerate: AutoGenerateConfig{
			Enabled:         true,
			MaxSlotsPerDay:  50,
			MinSlotDuration: 15,
			MaxSlotDuration: 240,
		},
		Persistence: PersistenceConfig{
			Enabled:             true,
			PopularityThreshold: 5,
			AutoCleanup:         false,
			CleanupAfterDays:    30,
		},
		Performance: PerformanceConfig{
			CacheEnabled:             true,
			CacheTTL:                 5 * time.Minute,
			MaxConcurrentGenerations: 10,
		},
		BusinessRules: BusinessRules{
			AllowOverlapping: true,
			RespectBreaks:    true,
			RespectVacations: true,
		},
	}

	switch profile {
	case "development", "test":
		cfg.Performance.CacheEnabled = false
	case "production":
		cfg.Persistence.AutoCleanup = true
		cfg.Performance.MaxConcurrentGenerations = 20
		cfg.Performance.CacheTTL = 10 * time.Minute
	}
	return cfg
}

func (c HybridConfig) Validate() error {
	ag := c.AutoGenerate
	if ag.MinSlotDuration <= 0 || ag.MinSlotDuration > ag.MaxSlotDuration {
		return fmt.Errorf("%w: slot duration bounds [%d, %d]", ErrInvalidConfig, ag.MinSlotDuration, ag.MaxSlotDuration)
	}
	if c.DefaultDuration < ag.MinSlotDuration || c.DefaultDuration > ag.MaxSlotDuration {
		return fmt.Errorf("%w: default duration %d outside [%d, %d]", ErrInvalidConfig, c.DefaultDuration, ag.MinSlotDuration, ag.MaxSlotDuration)
	}
	if ag.MaxSlotsPerDay < 1 {
		return fmt.Errorf("%w: max slots per day must be at least 1", ErrInvalidConfig)
	}
	if c.Performance.CacheTTL < 0 {
		return fmt.Errorf("%w: cache TTL must not be negative", ErrInvalidConfig)
	}
	if c.Performance.MaxConcurrentGenerations < 1 {
		return fmt.Errorf("%w: max concurrent generations must be at least 1", ErrInvalidConfig)
	}
	if c.Persistence.PopularityThreshold < 1 {
		return fmt.Errorf("%w: popularity threshold must be at least 1", ErrInvalidConfig)
	}
	if c.Persistence.CleanupAfterDays < 1 {
		return fmt.Errorf("%w: cleanup after days must be at least 1", ErrInvalidConfig)
	}
	if c.BusinessRules.BufferBetweenSlots < 0 {
		return fmt.Errorf("%w: buffer between slots must not be negative", ErrInvalidConfig)
	}
	return nil
}
