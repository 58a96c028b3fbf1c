package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"pulsequiz-sync/internal/api"
	"pulsequiz-sync/internal/app"
	"pulsequiz-sync/internal/client"
	"pulsequiz-sync/internal/config"
	"pulsequiz-sync/internal/domain"
	"pulsequiz-sync/internal/infra/memory"
	natsmirror "pulsequiz-sync/internal/infra/nats"
	"pulsequiz-sync/internal/infra/postgres"
	redisinfra "pulsequiz-sync/internal/infra/redis"
)

func (g *globals) redisClient() *redis.Client {
	if g.cfg.Redis.Addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     g.cfg.Redis.Addr,
		Password: g.cfg.Redis.Password,
		DB:       g.cfg.Redis.DB,
	})
}

// preferences uses Redis when configured. The in-memory fallback forgets
// everything when the process exits.
func (g *globals) preferences(rdb *redis.Client) app.PreferenceStore {
	if rdb != nil {
		return redisinfra.NewPreferenceStore(rdb, "", config.Duration(g.cfg.Redis.TTL, 24*time.Hour))
	}
	log.Debug().Msg("redis not configured, preferences are kept in memory")
	return memory.NewPreferenceStore(nil)
}

func (g *globals) pool(ctx context.Context) (*pgxpool.Pool, error) {
	if g.cfg.Postgres.URL == "" {
		return nil, nil
	}
	pool, err := pgxpool.Connect(ctx, g.cfg.Postgres.URL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return pool, nil
}

// journal fans recorded events out to every configured sink.
func (g *globals) journal(pool *pgxpool.Pool, extra ...app.EventJournal) (app.EventJournal, func(), error) {
	sinks := app.MultiJournal(extra)
	cleanup := func() {}
	if pool != nil {
		sinks = append(sinks, postgres.NewJournal(pool))
	}
	if g.cfg.NATS.URL != "" {
		cfg := natsmirror.DefaultConfig()
		cfg.URL = g.cfg.NATS.URL
		nc, err := natsmirror.Connect(cfg)
		if err != nil {
			return nil, cleanup, err
		}
		cleanup = func() {
			if err := nc.Drain(); err != nil {
				nc.Close()
			}
		}
		sinks = append(sinks, natsmirror.NewMirror(nc, g.cfg.NATS.SubjectPrefix))
	}
	if len(sinks) == 0 {
		return nil, cleanup, nil
	}
	return sinks, cleanup, nil
}

// questionSets loads sets from Postgres behind a Redis or in-process cache.
func (g *globals) questionSets(pool *pgxpool.Pool, rdb *redis.Client) (app.QuestionSetLoader, error) {
	if pool == nil {
		return nil, errors.New("postgres url not configured")
	}
	loader := postgres.NewQuestionSetLoader(pool)
	ttl := config.Duration(g.cfg.QuestionSets.TTL, 10*time.Minute)
	if rdb != nil {
		return redisinfra.NewQuestionSetCache(rdb, loader, ttl), nil
	}
	return memory.NewQuestionSetCache(loader, ttl, nil), nil
}

func (g *globals) apiClient() *api.Client {
	return api.NewClient(g.server, config.Duration(g.cfg.Transport.RequestTimeout, 10*time.Second))
}

func (g *globals) newClient(prefs app.PreferenceStore, journal app.EventJournal) *client.QuizClient {
	opts := client.Options{
		ConnectTimeout: config.Duration(g.cfg.Transport.ConnectTimeout, 0),
		PollInterval:   config.Duration(g.cfg.Transport.PollInterval, 0),
		Prefs:          prefs,
		Journal:        journal,
	}
	if g.cfg.Prefetch.Enabled && g.cfg.Generator.URL != "" {
		opts.Prefetch = app.PrefetchConfig{
			Enabled:     true,
			Topic:       g.cfg.Prefetch.Topic,
			Difficulty:  g.cfg.Prefetch.Difficulty,
			TargetCount: g.cfg.Prefetch.TargetCount,
			BatchSize:   g.cfg.Prefetch.BatchSize,
		}
		opts.Generator = api.NewGenerator(g.cfg.Generator.URL, config.Duration(g.cfg.Generator.Timeout, 0))
	}
	return client.New(g.apiClient(), opts)
}

// resolveIdentity builds the identity for a role from flags or stored preferences.
func resolveIdentity(ctx context.Context, qc *client.QuizClient, prefs app.PreferenceStore, code, role, secret string) (domain.Identity, error) {
	switch domain.Role(role) {
	case domain.RoleHost:
		if secret != "" {
			return domain.HostIdentity(secret), nil
		}
		return qc.HostIdentity(ctx, code)
	case domain.RolePlayer:
		if secret != "" {
			return domain.PlayerIdentity(secret), nil
		}
		id, err := prefs.Get(ctx, app.SessionPref(code, app.PrefPlayerID))
		if err != nil {
			return domain.Identity{}, fmt.Errorf("no stored player id for %s: %w", code, err)
		}
		return domain.PlayerIdentity(id), nil
	case domain.RoleObserver:
		return qc.ObserverIdentity(ctx), nil
	}
	return domain.Identity{}, fmt.Errorf("unknown role %q: %w", role, domain.ErrInvalidIdentity)
}
