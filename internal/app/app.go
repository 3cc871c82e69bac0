// Package app builds and holds the long-lived services of the unfurler,
// acting as its dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/crlink-unfurler/internal/adapters/codesearch"
	"github.com/JakeFAU/crlink-unfurler/internal/adapters/gerrit"
	"github.com/JakeFAU/crlink-unfurler/internal/adapters/issuetracker"
	"github.com/JakeFAU/crlink-unfurler/internal/adapters/monorail"
	"github.com/JakeFAU/crlink-unfurler/internal/api"
	"github.com/JakeFAU/crlink-unfurler/internal/capture"
	"github.com/JakeFAU/crlink-unfurler/internal/clock/system"
	"github.com/JakeFAU/crlink-unfurler/internal/config"
	"github.com/JakeFAU/crlink-unfurler/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/crlink-unfurler/internal/fetcher/colly"
	"github.com/JakeFAU/crlink-unfurler/internal/hash/sha256"
	"github.com/JakeFAU/crlink-unfurler/internal/id/uuid"
	"github.com/JakeFAU/crlink-unfurler/internal/metrics"
	"github.com/JakeFAU/crlink-unfurler/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/crlink-unfurler/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/crlink-unfurler/internal/publisher/pubsub"
	"github.com/JakeFAU/crlink-unfurler/internal/slackbot"
	gcsstorage "github.com/JakeFAU/crlink-unfurler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/crlink-unfurler/internal/storage/local"
	memorystorage "github.com/JakeFAU/crlink-unfurler/internal/storage/memory"
	pgstore "github.com/JakeFAU/crlink-unfurler/internal/storage/postgres"
	"github.com/JakeFAU/crlink-unfurler/internal/store"
	"github.com/JakeFAU/crlink-unfurler/internal/telemetry"
	"github.com/JakeFAU/crlink-unfurler/internal/unfurl"
	"github.com/JakeFAU/crlink-unfurler/internal/upstream"
)

const shutdownTimeout = 10 * time.Second

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	dispatch      *dispatcher.Dispatcher
	installations store.InstallationRepository
	apiServer     *api.Server

	pgStore       *pgstore.InstallationStore
	storageClient *storage.Client
	pubsubClient  *pubsub.Client
	outcomes      *gcppublisher.Publisher
	tracer        *sdktrace.TracerProvider

	closeOnce sync.Once
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	a := &App{cfg: cfg, logger: logger}
	a.logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.Int("max_links", cfg.Unfurl.MaxLinks),
	)

	tp, err := telemetry.InitTracerProvider(ctx, telemetry.ServiceName)
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}
	a.tracer = tp

	recorder, err := a.setupCapture(ctx)
	if err != nil {
		a.closeInfrastructure()
		return nil, err
	}
	if err := a.setupInstallations(ctx); err != nil {
		a.closeInfrastructure()
		return nil, err
	}
	publisher, err := a.setupPublisher(ctx)
	if err != nil {
		a.closeInfrastructure()
		return nil, err
	}

	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   cfg.HTTP.RateLimitRPS,
		DefaultBurst: cfg.HTTP.RateLimitBurst,
	})
	client := upstream.New(upstream.Config{
		Timeout:   cfg.HTTPTimeout(),
		UserAgent: cfg.HTTP.UserAgent,
	}, limiter)
	pages := collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.HTTP.UserAgent,
		Timeout:   cfg.HTTPTimeout(),
		Limiter:   limiter,
	}, upstream.NewTransport())

	adapters := a.setupAdapters(client, pages, recorder)

	tokens := slackbot.InstallationTokens{
		Repo:     a.installations,
		Fallback: slackbot.StaticToken(cfg.Slack.BotToken),
	}
	replier := slackbot.NewReplier(tokens, client.HTTPClient(), cfg.Slack.APIURL)

	a.dispatch = dispatcher.New(dispatcher.Config{
		MaxLinks:     cfg.Unfurl.MaxLinks,
		EventTimeout: cfg.EventTimeout(),
		Topic:        cfg.Events.TopicName,
	}, adapters, replier, publisher, system.New(), uuid.New(), logger.Named("dispatcher"))

	a.apiServer = api.NewServer(api.Config{
		SigningSecret:  cfg.Slack.SigningSecret,
		RequestTimeout: cfg.HTTPTimeout(),
		Workers:        cfg.Server.DispatchWorkers,
		QueueDepth:     cfg.Server.QueueDepth,
	}, a.dispatch, logger.Named("api"))

	return a, nil
}

// Dispatcher exposes the link dispatcher.
func (a *App) Dispatcher() *dispatcher.Dispatcher {
	return a.dispatch
}

// Resolve runs every adapter against urls without replying.
func (a *App) Resolve(ctx context.Context, urls []string) []dispatcher.Resolution {
	return a.dispatch.Resolve(ctx, urls)
}

// Installations exposes the installation repository.
func (a *App) Installations() store.InstallationRepository {
	return a.installations
}

// Handler returns the HTTP handler serving Slack events and probes.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run serves HTTP until the context is canceled or a termination signal
// arrives, then drains in-flight dispatches. Clients are released by Close.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	if err := a.apiServer.Close(shutdownCtx); err != nil {
		a.logger.Warn("dispatch drain incomplete", zap.Error(err))
	}

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}

// Close releases clients and flushes the logger. It is safe to call more
// than once.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		if a.apiServer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			if err := a.apiServer.Close(ctx); err != nil {
				a.logger.Warn("dispatch drain incomplete", zap.Error(err))
			}
			cancel()
		}
		a.closeInfrastructure()
		a.logger.Info("shutdown complete")
		if err := a.logger.Sync(); err != nil {
			a.logger.Debug("logger sync failed", zap.Error(err))
		}
	})
}

func (a *App) closeInfrastructure() {
	if a.outcomes != nil {
		a.outcomes.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storageClient != nil {
		if err := a.storageClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.pgStore != nil {
		a.pgStore.Close()
	}
	if a.tracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
}

func (a *App) setupCapture(ctx context.Context) (unfurl.PayloadRecorder, error) {
	var blobs unfurl.BlobStore
	switch a.cfg.Capture.Provider {
	case config.ProviderGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.storageClient = client
		gcsStore, err := gcsstorage.New(client, gcsstorage.Config{Bucket: a.cfg.Capture.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		blobs = gcsStore
		a.logger.Info("capturing payloads to GCS", zap.String("bucket", a.cfg.Capture.GCSBucket))
	case config.ProviderLocal:
		localStore, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Capture.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		blobs = localStore
		a.logger.Info("capturing payloads locally", zap.String("path", a.cfg.Capture.BaseDir))
	case config.ProviderMemory:
		blobs = memorystorage.NewBlobStore()
		a.logger.Info("capturing payloads in memory")
	default:
		a.logger.Info("payload capture disabled")
		return nil, nil
	}
	return capture.New(blobs, system.New(), uuid.New(), sha256.New(), a.cfg.Capture.Prefix), nil
}

func (a *App) setupInstallations(ctx context.Context) error {
	if a.cfg.DB.DSN == "" {
		a.logger.Warn("no db.dsn configured, keeping installations in memory")
		a.installations = memorystorage.NewInstallationStore()
		return nil
	}
	pg, err := pgstore.NewInstallationStore(ctx, pgstore.InstallationStoreConfig{
		DSN:      a.cfg.DB.DSN,
		Table:    a.cfg.DB.Table,
		MaxConns: a.cfg.DB.MaxConns,
	})
	if err != nil {
		return fmt.Errorf("installation store init failed: %w", err)
	}
	a.pgStore = pg
	a.installations = pg
	a.logger.Info("installation store initialized", zap.String("table", a.cfg.DB.Table))
	return nil
}

func (a *App) setupPublisher(ctx context.Context) (unfurl.Publisher, error) {
	switch a.cfg.Events.Provider {
	case config.ProviderPubSub:
		client, err := pubsub.NewClient(ctx, a.cfg.Events.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub client init failed: %w", err)
		}
		a.pubsubClient = client
		a.outcomes = gcppublisher.New(client.Topic(a.cfg.Events.TopicName))
		a.logger.Info("Pub/Sub publisher initialized",
			zap.String("project", a.cfg.Events.ProjectID),
			zap.String("topic", a.cfg.Events.TopicName),
		)
		return a.outcomes, nil
	case config.ProviderMemory:
		a.logger.Info("publishing outcome events in memory")
		return memorypublisher.New(), nil
	default:
		a.logger.Info("outcome events disabled")
		return nil, nil
	}
}

func (a *App) setupAdapters(
	client *upstream.Client,
	pages *collyfetcher.Fetcher,
	recorder unfurl.PayloadRecorder,
) []unfurl.Adapter {
	opts := func(name string) []unfurl.Option {
		o := []unfurl.Option{unfurl.WithLogger(a.logger.Named(name))}
		if recorder != nil {
			o = append(o, unfurl.WithRecorder(recorder))
		}
		return o
	}
	return []unfurl.Adapter{
		gerrit.NewAdapter(client, a.cfg.Gerrit.BaseURL, opts(gerrit.Name)...),
		monorail.NewAdapter(client, pages, monorail.Config{
			BaseURL:       a.cfg.Monorail.BaseURL,
			TokenAttempts: a.cfg.Monorail.TokenAttempts,
			TokenBackoff:  a.cfg.TokenBackoff(),
		}, opts(monorail.Name)...),
		issuetracker.NewAdapter(client, a.cfg.IssueTracker.BaseURL,
			a.logger.Named(issuetracker.Name), opts(issuetracker.Name)...),
		codesearch.NewAdapter(client, pages, a.cfg.CodeSearch.BaseURL, opts(codesearch.Name)...),
	}
}
