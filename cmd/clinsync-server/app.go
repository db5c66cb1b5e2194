package main

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/DevCuidame/clin-sync-backend-sub001/internal/config"
	"github.com/DevCuidame/clin-sync-backend-sub001/internal/domain/scheduling"
	"github.com/DevCuidame/clin-sync-backend-sub001/internal/platform/cache"
	"github.com/DevCuidame/clin-sync-backend-sub001/internal/platform/db"
	"github.com/DevCuidame/clin-sync-backend-sub001/internal/platform/lock"
)

// app holds the wired scheduling services shared by the serve and slots
// commands.
type app struct {
	pool         *pgxpool.Pool
	redis        *redis.Client
	schedules    *scheduling.ScheduleService
	exceptions   *scheduling.ExceptionService
	slots        *scheduling.SlotService
	orchestrator *scheduling.Orchestrator
	handler      *scheduling.Handler
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	pool, err := db.NewPool(ctx, db.PoolConfig{
		URL:             cfg.DatabaseURL,
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		ApplicationName: "clinsync",
	})
	if err != nil {
		return nil, err
	}
	logger.Info().Msg("connected to database")

	a := &app{pool: pool}

	var (
		store   scheduling.Cache
		jobLock scheduling.JobLock
	)
	if cfg.RedisURL != "" {
		client, err := cache.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			pool.Close()
			return nil, err
		}
		a.redis = client
		store = cache.NewRedisStore(client, "clinsync")
		jobLock = lock.NewRedisLock(client)
		logger.Info().Msg("connected to redis")
	} else {
		mem := cache.NewMemory()
		mem.StartCleanup(ctx, time.Minute)
		store = mem
		jobLock = lock.NewLocal()
		logger.Warn().Msg("REDIS_URL not set, using in-process cache and locks")
	}

	hc := cfg.Availability
	availabilityCache := scheduling.NewAvailabilityCache(store, hc.Performance.CacheTTL, logger)
	resolver := scheduling.NewResolver(scheduling.NewProfessionalRepoPG(pool))
	writeLocker := db.NewTxRunner(pool)

	scheduleRepo := scheduling.NewScheduleRepoPG(pool)
	exceptionRepo := scheduling.NewExceptionRepoPG(pool)
	slotRepo := scheduling.NewSlotRepoPG(pool)

	a.schedules = scheduling.NewScheduleService(scheduleRepo, resolver, writeLocker, availabilityCache)
	a.exceptions = scheduling.NewExceptionService(exceptionRepo, resolver, writeLocker, availabilityCache)
	a.slots = scheduling.NewSlotService(slotRepo, resolver, writeLocker, availabilityCache)

	a.orchestrator, err = scheduling.NewOrchestrator(hc, scheduling.OrchestratorDeps{
		Slots:       slotRepo,
		SlotService: a.slots,
		Generator:   scheduling.NewGenerator(scheduleRepo, exceptionRepo, slotRepo, hc.BusinessRules),
		Resolver:    resolver,
		Cache:       availabilityCache,
		JobLock:     jobLock,
		Logger:      logger.With().Str("component", "availability").Logger(),
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	a.handler = scheduling.NewHandler(a.schedules, a.exceptions, a.slots, a.orchestrator)
	return a, nil
}

func (a *app) healthChecks() []db.Check {
	if a.redis == nil {
		return nil
	}
	return []db.Check{{
		Name: "redis",
		Ping: func(ctx context.Context) error { return a.redis.Ping(ctx).Err() },
	}}
}

func (a *app) Close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	a.pool.Close()
}
