// Package server builds the summarizer's dependency graph and runs the HTTP
// service.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-summarizer/internal/api"
	"github.com/JakeFAU/site-summarizer/internal/clock/system"
	"github.com/JakeFAU/site-summarizer/internal/config"
	collyfetcher "github.com/JakeFAU/site-summarizer/internal/fetcher/colly"
	"github.com/JakeFAU/site-summarizer/internal/fetcher/firecrawl"
	headlessfetcher "github.com/JakeFAU/site-summarizer/internal/fetcher/headless"
	"github.com/JakeFAU/site-summarizer/internal/id/uuid"
	"github.com/JakeFAU/site-summarizer/internal/jobs"
	"github.com/JakeFAU/site-summarizer/internal/llm"
	"github.com/JakeFAU/site-summarizer/internal/logging"
	"github.com/JakeFAU/site-summarizer/internal/metrics"
	"github.com/JakeFAU/site-summarizer/internal/pipeline"
	"github.com/JakeFAU/site-summarizer/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/site-summarizer/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/site-summarizer/internal/publisher/pubsub"
	"github.com/JakeFAU/site-summarizer/internal/scrape"
	resultstorage "github.com/JakeFAU/site-summarizer/internal/storage"
	gcsstorage "github.com/JakeFAU/site-summarizer/internal/storage/gcs"
	localstorage "github.com/JakeFAU/site-summarizer/internal/storage/local"
	memorystorage "github.com/JakeFAU/site-summarizer/internal/storage/memory"
	pgstore "github.com/JakeFAU/site-summarizer/internal/storage/postgres"
	"github.com/JakeFAU/site-summarizer/internal/telemetry"
)

// Version is reported by the service info endpoint.
var Version = "dev"

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	supervisor *jobs.Supervisor
	apiServer  *api.Server

	pubsubClient    *pubsub.Client
	pubsubPublisher *pubsub.Publisher
	storage         *storage.Client
	resultDB        *pgstore.ResultStore
	headless        *headlessfetcher.Fetcher
	tracer          *sdktrace.TracerProvider
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(logging.Config{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
	})
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()

	app := &App{cfg: cfg, logger: logger}
	logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.String("discovery_backend", cfg.Discovery.Backend),
		zap.String("fetch_backend", cfg.Fetch.Backend),
		zap.Strings("storage_backends", cfg.Storage.Backends),
	)

	if err := app.build(ctx); err != nil {
		app.closeInfrastructure()
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context) error {
	tp, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
		ServiceName: "site-summarizer",
		Version:     Version,
		ProjectID:   a.cfg.Tracing.ProjectID,
		SampleRatio: a.cfg.Tracing.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("tracer init failed: %w", err)
	}
	a.tracer = tp

	discoverer, fetcher, err := a.setupBackends()
	if err != nil {
		return err
	}
	summarizer, err := llm.New(llm.Config{
		Provider: a.cfg.Summarizer.Provider,
		Endpoint: a.cfg.Summarizer.Endpoint,
		APIKey:   a.cfg.Summarizer.APIKey,
		Model:    a.cfg.Summarizer.Model,
		Timeout:  time.Duration(a.cfg.Summarizer.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("summarizer init failed: %w", err)
	}
	sink, err := a.setupSinks(ctx)
	if err != nil {
		return err
	}
	publisher, err := a.setupPublisher(ctx)
	if err != nil {
		return err
	}

	pipelineCfg := pipeline.Config{
		MaxLinks:                 a.cfg.Pipeline.MaxLinks,
		BatchSize:                a.cfg.Pipeline.BatchSize,
		ContentMaxChars:          a.cfg.Pipeline.ContentMaxChars,
		FallbackDescriptionChars: a.cfg.Pipeline.FallbackDescriptionChars,
		Retry: pipeline.RetryPolicy{
			Budget:    a.cfg.Pipeline.RetryBudget,
			BaseDelay: a.cfg.RetryBackoff(),
			MaxDelay:  a.cfg.RetryBackoffMax(),
		},
		Origin: pipeline.OriginPolicy{
			AllowSubdomains: a.cfg.Pipeline.AllowSubdomains,
			AllowedHosts:    a.cfg.Pipeline.AllowedHosts,
		},
	}
	runner, err := pipeline.New(pipelineCfg, discoverer, fetcher, summarizer, sink, a.logger.Named("pipeline"))
	if err != nil {
		return fmt.Errorf("pipeline init failed: %w", err)
	}

	a.supervisor = jobs.NewSupervisor(
		memorystorage.NewJobStore(),
		runner,
		publisher,
		system.New(),
		uuid.New(),
		jobs.Config{MaxConcurrent: a.cfg.Jobs.MaxConcurrent, Topic: a.cfg.PubSub.TopicName},
		a.logger.Named("jobs"),
	)
	a.apiServer = api.NewServer(a.supervisor, api.Options{
		Version:        Version,
		AuthEnabled:    a.cfg.Auth.Enabled,
		APIKey:         a.cfg.Auth.APIKey,
		RequestTimeout: a.cfg.RequestTimeout(),
	}, a.logger.Named("api"))
	return nil
}

// Supervisor exposes the job supervisor for one-shot commands.
func (a *App) Supervisor() *jobs.Supervisor {
	return a.supervisor
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Handler returns the HTTP handler of the API.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run serves HTTP until ctx is canceled or a termination signal arrives, then
// drains in-flight jobs.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	closeErr := a.Close(shutdownCtx)

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return closeErr
	}
}

// Close drains the supervisor and releases external clients.
func (a *App) Close(ctx context.Context) error {
	var err error
	if a.supervisor != nil {
		if err = a.supervisor.Shutdown(ctx); err != nil {
			a.logger.Warn("jobs did not drain before deadline", zap.Error(err))
		}
	}
	a.closeInfrastructure()
	if a.tracer != nil {
		if tErr := a.tracer.Shutdown(ctx); tErr != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(tErr))
		}
	}
	if syncErr := a.logger.Sync(); syncErr != nil {
		a.logger.Debug("logger sync failed", zap.Error(syncErr))
	}
	a.logger.Info("shutdown complete")
	return err
}

func (a *App) closeInfrastructure() {
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.resultDB != nil {
		a.resultDB.Close()
	}
	if a.headless != nil {
		a.headless.Close()
	}
}

func (a *App) setupBackends() (scrape.Discoverer, scrape.Fetcher, error) {
	var limiter collyfetcher.Limiter
	if a.cfg.RateLimit.Enabled {
		limiter = ratelimit.New(ratelimit.Config{
			RPS:   a.cfg.RateLimit.DefaultRPS,
			Burst: a.cfg.RateLimit.DefaultBurst,
		})
		a.logger.Info("rate limiter enabled",
			zap.Float64("default_rps", a.cfg.RateLimit.DefaultRPS),
			zap.Int("default_burst", a.cfg.RateLimit.DefaultBurst),
		)
	}

	backends := map[string]any{}
	backend := func(name string) (any, error) {
		if b, ok := backends[name]; ok {
			return b, nil
		}
		b, err := a.newBackend(name, limiter)
		if err != nil {
			return nil, err
		}
		backends[name] = b
		return b, nil
	}

	d, err := backend(a.cfg.Discovery.Backend)
	if err != nil {
		return nil, nil, err
	}
	f, err := backend(a.cfg.Fetch.Backend)
	if err != nil {
		return nil, nil, err
	}
	discoverer, ok := d.(scrape.Discoverer)
	if !ok {
		return nil, nil, fmt.Errorf("backend %q cannot discover links: %w", a.cfg.Discovery.Backend, scrape.ErrInvalidConfiguration)
	}
	fetcher, ok := f.(scrape.Fetcher)
	if !ok {
		return nil, nil, fmt.Errorf("backend %q cannot fetch pages: %w", a.cfg.Fetch.Backend, scrape.ErrInvalidConfiguration)
	}
	return discoverer, fetcher, nil
}

func (a *App) newBackend(name string, limiter collyfetcher.Limiter) (any, error) {
	timeout := time.Duration(a.cfg.Discovery.TimeoutSeconds) * time.Second
	switch name {
	case config.BackendColly:
		a.logger.Info("using colly backend",
			zap.String("user_agent", a.cfg.Discovery.UserAgent),
			zap.Bool("respect_robots", a.cfg.Discovery.RespectRobots))
		return collyfetcher.New(collyfetcher.Config{
			UserAgent:     a.cfg.Discovery.UserAgent,
			RespectRobots: a.cfg.Discovery.RespectRobots,
			Timeout:       timeout,
			Parallelism:   a.cfg.Fetch.Parallelism,
		}, limiter, a.logger.Named("colly")), nil
	case config.BackendHeadless:
		a.logger.Info("using headless backend", zap.Int("max_parallel", a.cfg.Headless.MaxParallel))
		f, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       a.cfg.Headless.MaxParallel,
			UserAgent:         a.cfg.Discovery.UserAgent,
			NavigationTimeout: time.Duration(a.cfg.Headless.NavTimeoutSec) * time.Second,
		}, a.logger.Named("headless"))
		if err != nil {
			return nil, fmt.Errorf("headless backend init failed: %w", err)
		}
		a.headless = f
		return f, nil
	case config.BackendFirecrawl:
		a.logger.Info("using firecrawl backend", zap.String("endpoint", a.cfg.Firecrawl.Endpoint))
		c, err := firecrawl.New(firecrawl.Config{
			Endpoint:     a.cfg.Firecrawl.Endpoint,
			APIKey:       a.cfg.Firecrawl.APIKey,
			PollInterval: time.Duration(a.cfg.Firecrawl.PollIntervalSeconds) * time.Second,
			Timeout:      timeout,
		}, a.logger.Named("firecrawl"))
		if err != nil {
			return nil, fmt.Errorf("firecrawl backend init failed: %w", err)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown backend %q: %w", name, scrape.ErrInvalidConfiguration)
	}
}

func (a *App) setupSinks(ctx context.Context) (scrape.ResultSink, error) {
	var sinks []resultstorage.Named
	for _, name := range a.cfg.Storage.Backends {
		switch name {
		case config.StorageLocal:
			file, err := localstorage.New(localstorage.Config{Path: a.cfg.Storage.Local.Path})
			if err != nil {
				return nil, fmt.Errorf("local result file init failed: %w", err)
			}
			a.logger.Info("using local result file", zap.String("path", file.Path()))
			sinks = append(sinks, resultstorage.Named{Name: name, Sink: file})
		case config.StorageMemory:
			a.logger.Info("using in-memory result store")
			sinks = append(sinks, resultstorage.Named{Name: name, Sink: memorystorage.NewResultStore()})
		case config.StorageGCS:
			if a.storage == nil {
				client, err := storage.NewClient(ctx)
				if err != nil {
					return nil, fmt.Errorf("gcs client init failed: %w", err)
				}
				a.storage = client
			}
			store, err := gcsstorage.New(a.storage, gcsstorage.Config{
				Bucket: a.cfg.Storage.GCS.Bucket,
				Prefix: a.cfg.Storage.GCS.Prefix,
			})
			if err != nil {
				return nil, fmt.Errorf("gcs result store init failed: %w", err)
			}
			a.logger.Info("using GCS result store", zap.String("bucket", a.cfg.Storage.GCS.Bucket))
			sinks = append(sinks, resultstorage.Named{Name: name, Sink: store})
		case config.StoragePostgres:
			store, err := pgstore.NewResultStore(ctx, pgstore.Config{
				DSN:      a.cfg.DB.DSN,
				Table:    a.cfg.DB.Table,
				MaxConns: int32(a.cfg.DB.MaxConns), //nolint:gosec // bounded by config validation
			})
			if err != nil {
				return nil, fmt.Errorf("postgres result store init failed: %w", err)
			}
			a.resultDB = store
			a.logger.Info("using postgres result store", zap.String("table", a.cfg.DB.Table))
			sinks = append(sinks, resultstorage.Named{Name: name, Sink: store})
		default:
			return nil, fmt.Errorf("unknown storage backend %q: %w", name, scrape.ErrInvalidConfiguration)
		}
	}
	sink, err := resultstorage.NewMultiSink(a.logger.Named("storage"), sinks...)
	if err != nil {
		return nil, fmt.Errorf("result sink init failed: %w", err)
	}
	return sink, nil
}

func (a *App) setupPublisher(ctx context.Context) (scrape.Publisher, error) {
	if a.cfg.PubSub.TopicName == "" || a.cfg.PubSub.ProjectID == "" {
		a.logger.Info("no Pub/Sub project configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.pubsubClient = client
	a.pubsubPublisher = client.Publisher(a.cfg.PubSub.TopicName)
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return gcppublisher.New(a.pubsubPublisher), nil
}
