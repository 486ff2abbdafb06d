package server

import (
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"chat-relay-server/internal/auth"
	"chat-relay-server/internal/config"
	"chat-relay-server/internal/identity"
	"chat-relay-server/internal/kv"
	"chat-relay-server/internal/registry"
	"chat-relay-server/internal/relay"
)

// BuildDeps assembles the store, registries, resolver and relay engine from
// config. Without REDIS_ADDR the in-memory store is used; without
// POSTGRES_DSN the static resolver is used. Both fallbacks are for tests
// and single-box runs, not multi-instance deployments.
func BuildDeps(cfg config.Config, logger zerolog.Logger) (Deps, error) {
	var store kv.Store
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		redisStore, err := kv.NewRedis(client)
		if err != nil {
			return Deps{}, err
		}
		store = redisStore
	} else {
		logger.Warn().Msg("REDIS_ADDR not set, using in-memory store")
		store = kv.NewMemory()
	}

	var resolver identity.Resolver
	if cfg.PostgresDSN != "" {
		pg, err := identity.NewPostgres(cfg.PostgresDSN)
		if err != nil {
			return Deps{}, err
		}
		resolver = pg
	} else {
		logger.Warn().Msg("POSTGRES_DSN not set, using static identity resolver")
		resolver = identity.NewStatic()
	}

	engine := relay.NewEngine(relay.Deps{
		Connections: registry.NewConnectionDirectory(store, cfg.RecordTTL),
		Liveness:    registry.NewLivenessRegistry(store, cfg.RecordTTL),
		Resolver:    resolver,
		Threshold:   cfg.LivenessThreshold,
		Logger:      logger,
	})

	return Deps{
		Relay:       engine,
		TokenConfig: auth.TokenConfig{Secret: cfg.MasterSecret, Expiry: cfg.TokenExpiry, Issuer: "chat-relay-server"},
		Logger:      logger,
	}, nil
}
