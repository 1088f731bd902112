package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/dnscache"
	"golang.org/x/sync/errgroup"

	"github.com/eugener/depot/internal/auth"
	"github.com/eugener/depot/internal/cache"
	"github.com/eugener/depot/internal/circuitbreaker"
	"github.com/eugener/depot/internal/config"
	"github.com/eugener/depot/internal/datacache"
	"github.com/eugener/depot/internal/fetch"
	"github.com/eugener/depot/internal/notify"
	"github.com/eugener/depot/internal/ratelimit"
	"github.com/eugener/depot/internal/server"
	"github.com/eugener/depot/internal/storage/sqlite"
	"github.com/eugener/depot/internal/telemetry"
	"github.com/eugener/depot/internal/worker"
)

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	slog.Info("starting depot", "version", version, "addr", cfg.Server.Addr, "sources", len(cfg.Sources))

	// Tracing
	if cfg.Telemetry.Tracing.Enabled {
		shutdown, err := telemetry.SetupTracing(ctx, telemetry.TracingOptions{
			Endpoint:       cfg.Telemetry.Tracing.Endpoint,
			SampleRate:     cfg.Telemetry.Tracing.SampleRate,
			ServiceName:    cfg.Telemetry.Tracing.ServiceName,
			ServiceVersion: version,
			CachePolicy:    cfg.Cache.Policy,
			Sources:        len(cfg.Sources),
		})
		if err != nil {
			return err
		}
		defer shutdown(context.Background())
	}

	// Metrics
	var (
		metrics        *telemetry.Metrics
		metricsHandler http.Handler
		reg            *prometheus.Registry
	)
	if cfg.Telemetry.Metrics.Enabled {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		reg.MustRegister(collectors.NewGoCollector())
		metrics = telemetry.NewMetrics(reg)
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}

	store, err := newStore(cfg.Cache, metrics)
	if err != nil {
		return err
	}

	// Upstream client
	var resolver *dnscache.Resolver
	if cfg.Fetch.DNSCacheRefresh > 0 {
		resolver = &dnscache.Resolver{}
	}
	var breakers *circuitbreaker.Registry
	if cfg.Breaker.Enabled {
		breakers = circuitbreaker.NewRegistry(circuitbreaker.Config{
			ErrorThreshold: cfg.Breaker.ErrorThreshold,
			MinSamples:     cfg.Breaker.MinSamples,
			WindowSeconds:  cfg.Breaker.WindowSeconds,
			OpenTimeout:    cfg.Breaker.OpenTimeout,
		})
	}
	fetcher := newFetchClient(cfg.Fetch, resolver, breakers)

	// Data cache
	bus := notify.NewBus()
	bus.Subscribe(notify.LogListener{Logger: slog.Default()})
	var opts []datacache.Option
	if metrics != nil {
		bus.Subscribe(telemetry.Listener{M: metrics})
		opts = append(opts, datacache.WithMetrics(metrics))
	}
	dc := datacache.New(store, fetcher, bus, datacache.Config{
		DefaultTTL:   cfg.Cache.DefaultTTL,
		FetchTimeout: cfg.Fetch.Timeout,
	}, opts...)
	defer dc.Close()
	if reg != nil {
		telemetry.RegisterStatsGauges(reg, dc.Stats)
	}

	sources, err := datacache.NewSources(cfg.ToSources())
	if err != nil {
		return err
	}

	// Background workers
	var workers []worker.Worker
	if resolver != nil {
		workers = append(workers, worker.NewDNSRefresher(resolver, cfg.Fetch.DNSCacheRefresh))
	}
	limiter := ratelimit.NewRegistry(cfg.Server.RateLimitRPM)
	if cfg.Cache.SweepInterval > 0 {
		var idle []worker.IdleEvicter
		if breakers != nil {
			idle = append(idle, breakers)
		}
		if limiter != nil {
			idle = append(idle, limiter)
		}
		workers = append(workers, worker.NewSweeper(store, cfg.Cache.StaleThreshold, cfg.Cache.SweepInterval, idle...))
	}

	readyCheck := server.ReadyChecker(nil)
	if cfg.Snapshot.Enabled {
		db, err := sqlite.New(ctx, cfg.Snapshot.DSN)
		if err != nil {
			return err
		}
		defer db.Close()
		if _, err := config.Bootstrap(ctx, cfg, db, dc); err != nil {
			return err
		}
		workers = append(workers, worker.NewSnapshotter(dc, db, cfg.Snapshot.Interval))
		readyCheck = db.Ping
	}

	n, err := dc.StartAutoRefresh(sources)
	if err != nil {
		return err
	}
	slog.Info("auto refresh scheduled", "sources", n)

	// HTTP server
	admin := auth.NewTokenAuth(cfg.Server.AdminToken)
	if admin == nil {
		slog.Warn("no admin token configured, admin routes disabled")
	}
	handler := server.New(server.Deps{
		Cache:          dc,
		Sources:        sources,
		Admin:          admin,
		Limiter:        limiter,
		ReadyCheck:     readyCheck,
		Metrics:        metrics,
		MetricsHandler: metricsHandler,
	})
	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return worker.NewRunner(workers...).Run(gctx)
	})
	g.Go(func() error {
		slog.Info("depot ready", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	slog.Info("depot stopped")
	return nil
}

// newStore builds the entry store selected by cfg.Policy.
func newStore(cfg config.CacheConfig, metrics *telemetry.Metrics) (cache.Store, error) {
	switch cfg.Policy {
	case config.PolicyTinyLFU:
		s, err := cache.NewTinyLFU(cfg.MaxEntries, cfg.StaleThreshold)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.PolicyOldest:
		var opts []cache.MemoryOption
		if metrics != nil {
			opts = append(opts, cache.WithEvictHook(metrics.EvictHook()))
		}
		return cache.NewMemory(cfg.MaxEntries, opts...), nil
	default:
		return nil, fmt.Errorf("unknown cache policy %q", cfg.Policy)
	}
}

// newFetchClient builds the upstream client with DNS caching, credential
// injection and circuit breaking as configured.
func newFetchClient(cfg config.FetchConfig, resolver *dnscache.Resolver, breakers *circuitbreaker.Registry) *fetch.Client {
	var rt http.RoundTripper = fetch.NewTransport(resolver)
	if cfg.AuthToken != "" {
		prefix := ""
		if http.CanonicalHeaderKey(cfg.AuthHeader) == "Authorization" {
			prefix = "Bearer "
		}
		rt = &fetch.TokenTransport{
			Token:      cfg.AuthToken,
			HeaderName: cfg.AuthHeader,
			Prefix:     prefix,
			Base:       rt,
		}
	}

	fc := fetch.Config{
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
	}
	if !cfg.ShouldRetryClientErrors() {
		fc.Retryable = fetch.RetryServerErrors
	}
	var opts []fetch.Option
	if breakers != nil {
		opts = append(opts, fetch.WithBreakers(breakers))
	}
	return fetch.New(&http.Client{Transport: rt}, fc, opts...)
}
