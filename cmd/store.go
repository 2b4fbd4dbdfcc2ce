package main

import (
	"context"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/kcmetrolive/metro-agent/internal/analytics"
	"github.com/kcmetrolive/metro-agent/internal/cost"
	"github.com/kcmetrolive/metro-agent/internal/db"
	"github.com/kcmetrolive/metro-agent/internal/research"
	"github.com/kcmetrolive/metro-agent/internal/state"
	"github.com/kcmetrolive/metro-agent/internal/store"
	anthropicpkg "github.com/kcmetrolive/metro-agent/pkg/anthropic"
	"github.com/kcmetrolive/metro-agent/pkg/bunny"
	"github.com/kcmetrolive/metro-agent/pkg/openai"
	"github.com/kcmetrolive/metro-agent/pkg/supabase"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		path := cfg.Store.SQLitePath
		if path == "" {
			path = "metro.db"
		}
		return store.NewSQLite(path)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, cfg.Store.Pool)
	case "memory":
		return store.NewMemory(), nil
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initRedis connects to Redis when an address is configured. It returns
// nil, nil otherwise.
func initRedis(ctx context.Context) (redis.UniversalClient, error) {
	if cfg.Redis.Addr == "" {
		return nil, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, eris.Wrap(err, "redis ping")
	}
	return rdb, nil
}

// initState keeps agent state in Redis when it is available and in the
// store otherwise.
func initState(st store.Store, rdb redis.UniversalClient) state.State {
	if rdb != nil {
		return state.NewRedis(rdb, cfg.Redis.Prefix)
	}
	return st
}

func initResearch() (research.Client, error) {
	calc := cost.NewCalculator(cfg.Pricing)
	switch cfg.Research.Provider {
	case "anthropic":
		opts := []anthropicpkg.Option{anthropicpkg.WithModel(cfg.Anthropic.Model)}
		if cfg.Anthropic.BaseURL != "" {
			opts = append(opts, anthropicpkg.WithBaseURL(cfg.Anthropic.BaseURL))
		}
		return research.NewAnthropic(cfg.Anthropic.Key, calc, cfg.Research.Client, opts...), nil
	case "openai", "":
		opts := []openai.Option{openai.WithModel(cfg.OpenAI.Model), openai.WithImageModel(cfg.OpenAI.ImageModel)}
		if cfg.OpenAI.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.OpenAI.BaseURL))
		}
		return research.NewOpenAI(cfg.OpenAI.Key, calc, initImageSink(), cfg.Research.Client, opts...), nil
	default:
		return nil, eris.Errorf("unsupported research provider: %s", cfg.Research.Provider)
	}
}

// initImageSink returns the CDN uploader, or nil when no storage zone is
// configured.
func initImageSink() research.ImageSink {
	if cfg.Bunny.Zone == "" || cfg.Bunny.AccessKey == "" {
		zap.L().Debug("bunny storage not configured, images keep their provider URL")
		return nil
	}
	opts := []bunny.Option{bunny.WithRateLimit(cfg.Bunny.RateLimit)}
	if cfg.Bunny.StorageURL != "" {
		opts = append(opts, bunny.WithStorageURL(cfg.Bunny.StorageURL))
	}
	return bunny.NewClient(cfg.Bunny.Zone, cfg.Bunny.AccessKey, cfg.Bunny.PullZone, opts...)
}

// initAnalytics builds the configured analytics sink. A nil sink discards
// every row.
func initAnalytics(ctx context.Context, st store.Store) (analytics.Sink, error) {
	switch cfg.Analytics.Sink {
	case "supabase":
		if cfg.Supabase.URL == "" || cfg.Supabase.ServiceKey == "" {
			return nil, eris.New("supabase analytics requires supabase.url and supabase.service_key")
		}
		client := supabase.NewClient(cfg.Supabase.URL, cfg.Supabase.AnonKey, cfg.Supabase.ServiceKey,
			supabase.WithRateLimit(cfg.Supabase.RateLimit))
		return analytics.NewSupabaseSink(client), nil
	case "postgres":
		pool, err := analyticsPool(ctx, st)
		if err != nil {
			return nil, err
		}
		sink := analytics.NewPostgresSink(pool)
		if err := sink.Migrate(ctx); err != nil {
			return nil, eris.Wrap(err, "migrate analytics")
		}
		return sink, nil
	case "memory":
		return analytics.NewMemorySink(), nil
	case "none", "":
		return nil, nil
	default:
		return nil, eris.Errorf("unsupported analytics sink: %s", cfg.Analytics.Sink)
	}
}

// analyticsPool shares the store's pool when the store is Postgres.
func analyticsPool(ctx context.Context, st store.Store) (db.Pool, error) {
	if ps, ok := st.(*store.PostgresStore); ok {
		return ps.Pool(), nil
	}
	if cfg.Store.DatabaseURL == "" {
		return nil, eris.New("postgres analytics requires store.database_url")
	}
	pool, err := db.Open(ctx, cfg.Store.DatabaseURL, cfg.Store.Pool)
	if err != nil {
		return nil, eris.Wrap(err, "open analytics pool")
	}
	return pool, nil
}
