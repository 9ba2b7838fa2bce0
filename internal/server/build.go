package server

import (
	"context"
	"fmt"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/daily-papers/internal/api"
	"github.com/JakeFAU/daily-papers/internal/clock/system"
	"github.com/JakeFAU/daily-papers/internal/config"
	"github.com/JakeFAU/daily-papers/internal/daily"
	"github.com/JakeFAU/daily-papers/internal/evaluation"
	"github.com/JakeFAU/daily-papers/internal/evaluator"
	"github.com/JakeFAU/daily-papers/internal/evaluator/anthropic"
	"github.com/JakeFAU/daily-papers/internal/evaluator/gemini"
	collyfetcher "github.com/JakeFAU/daily-papers/internal/fetcher/colly"
	"github.com/JakeFAU/daily-papers/internal/papers"
	"github.com/JakeFAU/daily-papers/internal/parser"
	"github.com/JakeFAU/daily-papers/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/daily-papers/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/daily-papers/internal/publisher/pubsub"
	"github.com/JakeFAU/daily-papers/internal/resolver"
	gcsstorage "github.com/JakeFAU/daily-papers/internal/storage/gcs"
	localstorage "github.com/JakeFAU/daily-papers/internal/storage/local"
	memorystorage "github.com/JakeFAU/daily-papers/internal/storage/memory"
	pgstore "github.com/JakeFAU/daily-papers/internal/storage/postgres"
	sqlitestore "github.com/JakeFAU/daily-papers/internal/storage/sqlite"
)

// Build creates the application's dependencies. A nil clock uses the system
// clock.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, clock papers.Clock) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = system.New()
	}
	app := &App{cfg: cfg, logger: logger, clock: clock}
	logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.String("storage", cfg.Storage.Backend),
		zap.String("archive", cfg.Archive.Backend),
		zap.String("evaluator", cfg.Evaluator.Provider),
		zap.Bool("auth", cfg.Server.APIKey != ""),
		zap.Duration("request_timeout", cfg.RequestTimeout()),
	)
	if cfg.RequestTimeout() < cfg.ScanBudget() {
		logger.Warn("request timeout is shorter than a full upstream scan; long scans will be cut off",
			zap.Duration("request_timeout", cfg.RequestTimeout()),
			zap.Duration("scan_budget", cfg.ScanBudget()),
		)
	}

	steps := []func(context.Context, *App) error{
		setupStore,
		setupArchive,
		setupPublisher,
		setupDaily,
		setupEvaluations,
	}
	for _, step := range steps {
		if err := step(ctx, app); err != nil {
			_ = app.Close(ctx)
			return nil, err
		}
	}

	app.apiServer = api.NewServer(
		app.daily,
		app.orchestrator,
		app.store,
		api.Options{
			APIKey:         cfg.Server.APIKey,
			RequestTimeout: cfg.RequestTimeout(),
		},
		logger.Named("api"),
	)
	return app, nil
}

func setupStore(ctx context.Context, app *App) error {
	switch app.cfg.Storage.Backend {
	case "postgres":
		pg := app.cfg.Storage.Postgres
		store, err := pgstore.New(ctx, pgstore.Config{
			DSN:             pg.DSN,
			TablePrefix:     pg.TablePrefix,
			MaxConns:        pg.MaxConns,
			MinConns:        pg.MinConns,
			MaxConnLifetime: pg.MaxConnLifetime,
		}, app.clock)
		if err != nil {
			return fmt.Errorf("postgres store init failed: %w", err)
		}
		app.store = store
		app.logger.Info("using postgres cache store", zap.String("table_prefix", pg.TablePrefix))
	case "sqlite":
		store, err := sqlitestore.Open(ctx, sqlitestore.Config{Path: app.cfg.Storage.SQLite.Path}, app.clock)
		if err != nil {
			return fmt.Errorf("sqlite store init failed: %w", err)
		}
		app.store = store
		app.logger.Info("using sqlite cache store", zap.String("path", app.cfg.Storage.SQLite.Path))
	default:
		app.store = memorystorage.NewCacheStore(app.clock)
		app.logger.Warn("using in-memory cache store; snapshots are lost on restart")
	}
	return nil
}

func setupArchive(ctx context.Context, app *App) error {
	switch app.cfg.Archive.Backend {
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("gcs client init failed: %w", err)
		}
		blobStore, err := gcsstorage.New(client, gcsstorage.Config{Bucket: app.cfg.Archive.Bucket})
		if err != nil {
			_ = client.Close()
			return fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.archive = blobStore
		app.archiveCloser = blobStore.Close
		app.logger.Info("archiving raw pages to GCS", zap.String("bucket", app.cfg.Archive.Bucket))
	case "local":
		blobStore, err := localstorage.New(localstorage.Config{BaseDir: app.cfg.Archive.BaseDir})
		if err != nil {
			return fmt.Errorf("local blob store init failed: %w", err)
		}
		app.archive = blobStore
		app.logger.Info("archiving raw pages locally", zap.String("path", app.cfg.Archive.BaseDir))
	case "memory":
		app.archive = memorystorage.NewBlobStore()
		app.logger.Info("archiving raw pages in memory")
	default:
		app.logger.Debug("raw page archive disabled")
	}
	return nil
}

func setupPublisher(ctx context.Context, app *App) error {
	if app.cfg.Events.Provider != "pubsub" {
		app.logger.Info("using in-memory evaluation event publisher")
		app.publisher = memorypublisher.New()
		return nil
	}
	client, err := pubsub.NewClient(ctx, app.cfg.Events.ProjectID)
	if err != nil {
		return fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.pubsubClient = client
	app.pubsubPublisher = client.Publisher(app.cfg.Events.Topic)
	app.publisher = gcppublisher.New(app.pubsubPublisher)
	app.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", app.cfg.Events.ProjectID),
		zap.String("topic", app.cfg.Events.Topic),
	)
	return nil
}

func setupDaily(_ context.Context, app *App) error {
	up := app.cfg.Upstream
	limiter := ratelimit.New(ratelimit.Config{RPS: up.RateLimit.RPS, Burst: up.RateLimit.Burst})
	fetcher := collyfetcher.New(collyfetcher.Config{
		BaseURL:       up.BaseURL,
		UserAgent:     up.UserAgent,
		Timeout:       config.Seconds(up.TimeoutSeconds),
		PageMarker:    up.PageMarker,
		RespectRobots: up.RespectRobots,
	}, collyfetcher.WithLimiter(limiter), collyfetcher.WithLogger(app.logger.Named("fetcher")))
	app.logger.Info("using colly page fetcher",
		zap.String("base_url", up.BaseURL),
		zap.Float64("rps", up.RateLimit.RPS),
		zap.Int("burst", up.RateLimit.Burst),
		zap.Bool("respect_robots", up.RespectRobots),
	)

	cardParser := parser.New(parser.Config{
		Selectors: app.cfg.Parser.Selectors,
		SiteURL:   app.cfg.Parser.SiteURL,
	}, app.logger.Named("parser"))

	res := resolver.New(fetcher, app.store, resolver.Config{
		MaxAttempts:     up.MaxAttempts,
		MinContentBytes: up.MinContentBytes,
		PageMarker:      up.PageMarker,
		ProbeTimeout:    config.Seconds(up.ProbeTimeoutSeconds),
	}, app.logger.Named("resolver"))

	app.daily = daily.New(fetcher, cardParser, res, app.store, app.archive, app.clock, daily.Config{
		MaxAge:              app.cfg.MaxAge(),
		RetentionDays:       app.cfg.Cache.RetentionDays,
		AvailableDatesLimit: app.cfg.Cache.AvailableDatesLimit,
		ArchivePrefix:       app.cfg.Archive.Prefix,
	}, app.logger.Named("daily"))
	return nil
}

func setupEvaluations(ctx context.Context, app *App) error {
	eval, err := newEvaluator(ctx, app)
	if err != nil {
		return err
	}
	app.orchestrator = evaluation.New(app.store, eval, app.publisher, app.clock, evaluation.Config{
		DocumentURLTemplate: app.cfg.Evaluator.PDFURLTemplate,
		Topic:               app.cfg.Events.Topic,
		Timeout:             config.Seconds(app.cfg.Evaluator.TimeoutSeconds),
	}, app.logger.Named("evaluation"))
	return nil
}

func newEvaluator(ctx context.Context, app *App) (papers.Evaluator, error) {
	ec := app.cfg.Evaluator
	switch ec.Provider {
	case "anthropic":
		eval, err := anthropic.New(anthropic.Config{
			APIKey:    ec.APIKey,
			Model:     ec.Model,
			Endpoint:  ec.Endpoint,
			MaxTokens: ec.MaxTokens,
			Timeout:   config.Seconds(ec.TimeoutSeconds),
		}, app.clock, app.logger.Named("anthropic"))
		if err != nil {
			return nil, fmt.Errorf("anthropic evaluator init failed: %w", err)
		}
		app.logger.Info("using anthropic evaluator", zap.String("model", ec.Model))
		return eval, nil
	case "gemini":
		eval, err := gemini.New(ctx, gemini.Config{
			APIKey:     ec.APIKey,
			Model:      ec.Model,
			MaxTokens:  ec.MaxTokens,
			MaxRetries: ec.MaxRetries,
			BaseDelay:  time.Second,
			MaxDelay:   time.Minute,
		}, app.clock, app.logger.Named("gemini"))
		if err != nil {
			return nil, fmt.Errorf("gemini evaluator init failed: %w", err)
		}
		app.logger.Info("using gemini evaluator", zap.String("model", ec.Model))
		return eval, nil
	default:
		app.logger.Warn("no evaluator configured; evaluation requests will fail")
		return evaluator.Disabled{}, nil
	}
}
