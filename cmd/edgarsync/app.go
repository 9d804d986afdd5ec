package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/seenimoa/edgarsync/internal/config"
	"github.com/seenimoa/edgarsync/internal/filings"
	"github.com/seenimoa/edgarsync/internal/infra"
	"github.com/seenimoa/edgarsync/internal/ingest"
	"github.com/seenimoa/edgarsync/internal/ratelimit"
	"github.com/seenimoa/edgarsync/internal/registry"
	"github.com/seenimoa/edgarsync/internal/resolver"
	"github.com/seenimoa/edgarsync/internal/store"
	"github.com/seenimoa/edgarsync/internal/validate"
	"github.com/seenimoa/edgarsync/pkg/models"
)

// app holds the wired pipeline for one process.
type app struct {
	registry *registry.Client
	store    *store.Store
	resolver *resolver.Resolver
	ingest   *ingest.Orchestrator
	redis    *redis.Client
	filter   filings.Filter
}

func (a *app) Close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
}

// connectRedis dials the shared store and fails when it is unreachable.
func connectRedis(ctx context.Context, c config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     c.Addr,
		Password: c.Password,
		DB:       c.DB,
	})
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis %s unreachable: %w", c.Addr, err)
	}
	return rdb, nil
}

func newRegistryClient(cfg *config.Config, limiter infra.Limiter) *registry.Client {
	return registry.New(registry.Config{
		UserAgent: cfg.Registry.UserAgent,
		WWWURL:    cfg.Registry.WWWURL,
		DataURL:   cfg.Registry.DataURL,
		Timeout:   cfg.Registry.Timeout(),
	}, limiter)
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// buildApp wires the pipeline. needRedis forces a shared-store connection
// even when the registry limiter is process-local.
func buildApp(ctx context.Context, cfg *config.Config, needRedis bool, observer ingest.Observer) (*app, error) {
	a := &app{}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	f, err := filings.NewFilter(cfg.Ingest.Forms, cfg.Ingest.StartDate)
	if err != nil {
		return nil, err
	}
	a.filter = f

	if needRedis || cfg.Registry.SharedLimiter {
		if a.redis, err = connectRedis(ctx, cfg.Redis); err != nil {
			return nil, err
		}
	}

	var limiter infra.Limiter = infra.NewRateLimiter(cfg.Registry.CallsPerSecond)
	if cfg.Registry.SharedLimiter {
		limiter = ratelimit.NewSharedIntervalLimiter(a.redis, "registry", cfg.Registry.CallsPerSecond)
	}
	a.registry = newRegistryClient(cfg, limiter)

	if cfg.Storage.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	if a.store, err = store.Open(cfg.Storage.Path); err != nil {
		return nil, err
	}

	a.resolver = resolver.New(a.registry, a.store)
	fetcher := filings.NewFetcher(a.registry, filings.FetcherConfig{
		MaxPerCompany: cfg.Ingest.MaxFilingsPerCompany,
		Concurrency:   cfg.Ingest.FetchConcurrency,
		Retry: infra.RetryPolicy{
			Name:    "download",
			Retries: cfg.Ingest.DownloadRetries,
			Delay:   seconds(cfg.Ingest.DownloadRetryDelaySec),
		},
	})
	a.ingest = ingest.New(ingest.Deps{
		Registry:  a.registry,
		Resolver:  a.resolver,
		Discovery: filings.NewDiscovery(a.registry, true),
		Fetcher:   fetcher,
		Validator: validate.New(),
		Store:     a.store,
	}, ingest.Options{
		FetchRetry: infra.RetryPolicy{
			Name:    "fetch",
			Retries: cfg.Ingest.FetchRetries,
			Delay:   seconds(cfg.Ingest.FetchRetryDelaySec),
		},
		FlowRetry: infra.RetryPolicy{
			Name:    "company-flow",
			Retries: cfg.Ingest.FlowRetries,
			Delay:   seconds(cfg.Ingest.FlowRetryDelaySec),
		},
		Workers:  cfg.Ingest.Workers,
		Observer: observer,
	})

	slog.Debug("pipeline ready",
		"component", "main",
		"forms", cfg.Ingest.Forms,
		"start_date", cfg.Ingest.StartDate,
		"shared_limiter", cfg.Registry.SharedLimiter,
		"store", cfg.Storage.Path)
	ok = true
	return a, nil
}

// loadTracked reads the tracked-company file into batch targets. Entries
// that carry a name are seeded so the resolver can match them by ticker.
func (a *app) loadTracked(ctx context.Context, path string) ([]ingest.Target, error) {
	companies, err := config.LoadCompanies(path)
	if err != nil {
		return nil, err
	}
	out := make([]ingest.Target, 0, len(companies.Items))
	for _, c := range companies.Items {
		out = append(out, ingest.Target{Ticker: c.Ticker, Category: c.Category})
		if c.Name == "" {
			continue
		}
		res, err := a.store.SeedCompany(ctx, models.Company{
			Ticker:   c.Ticker,
			Name:     models.Named(c.Name),
			Category: c.Category,
		})
		if err != nil {
			return nil, err
		}
		if res.Created {
			slog.Info("seeded tracked company", "component", "main", "ticker", res.Row.Ticker, "company_id", res.Row.ID)
		}
	}
	return out, nil
}
