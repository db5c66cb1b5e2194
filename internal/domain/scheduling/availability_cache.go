package scheduling

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// AvailabilityCache caches generated availability per professional. A nil
// *AvailabilityCache is valid and caches nothing.
type AvailabilityCache struct {
	store  Cache
	ttl    time.Duration
	logger zerolog.Logger
}

func NewAvailabilityCache(store Cache, ttl time.Duration, logger zerolog.Logger) *AvailabilityCache {
	return &AvailabilityCache{store: store, ttl: ttl, logger: logger}
}

func availabilityNamespace(professionalID uuid.UUID) string {
	return "availability:" + professionalID.String()
}

func (c *AvailabilityCache) get(ctx context.Context, professionalID uuid.UUID, key string) ([]*AvailableSlot, bool) {
	if c == nil || c.store == nil {
		return nil, false
	}
	data, ok, err := c.store.Get(ctx, availabilityNamespace(professionalID), key)
	if err != nil {
		c.logger.Warn().Err(err).Str("professional_id", professionalID.String()).Msg("availability cache read failed")
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var slots []*AvailableSlot
	if err := json.Unmarshal(data, &slots); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("discarding undecodable availability cache entry")
		return nil, false
	}
	return slots, true
}

func (c *AvailabilityCache) set(ctx context.Context, professionalID uuid.UUID, key string, slots []*AvailableSlot) {
	if c == nil || c.store == nil || c.ttl <= 0 {
		return
	}
	data, err := json.Marshal(slots)
	if err != nil {
		return
	}
	if err := c.store.Set(ctx, availabilityNamespace(professionalID), key, data, c.ttl); err != nil {
		c.logger.Warn().Err(err).Str("professional_id", professionalID.String()).Msg("availability cache write failed")
	}
}

// invalidate drops everything cached for the professional. Failures are
// logged; stale entries still expire after the TTL.
func (c *AvailabilityCache) invalidate(ctx context.Context, professionalID uuid.UUID) {
	if c == nil || c.store == nil {
		return
	}
	if err := c.store.InvalidateNamespace(ctx, availabilityNamespace(professionalID)); err != nil {
		c.logger.Warn().Err(err).Str("professional_id", professionalID.String()).Msg("availability cache invalidation failed")
	}
}
