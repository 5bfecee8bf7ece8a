// Package app builds the engine's object graph from configuration. The
// server and worker binaries share it.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/ignite/campaign-engine/internal/api"
	"github.com/ignite/campaign-engine/internal/archive"
	"github.com/ignite/campaign-engine/internal/condition"
	"github.com/ignite/campaign-engine/internal/config"
	"github.com/ignite/campaign-engine/internal/crm"
	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/pkg/distlock"
	"github.com/ignite/campaign-engine/internal/pkg/httpretry"
	"github.com/ignite/campaign-engine/internal/pkg/logger"
	"github.com/ignite/campaign-engine/internal/render"
	"github.com/ignite/campaign-engine/internal/repository"
	"github.com/ignite/campaign-engine/internal/repository/dynamo"
	"github.com/ignite/campaign-engine/internal/repository/memory"
	"github.com/ignite/campaign-engine/internal/repository/postgres"
	"github.com/ignite/campaign-engine/internal/service/engine"
	"github.com/ignite/campaign-engine/internal/service/suppression"
	"github.com/ignite/campaign-engine/internal/tenant"
	"github.com/ignite/campaign-engine/internal/transport"
	"github.com/ignite/campaign-engine/internal/worker"
)

// App holds the wired engine and the connections behind it.
type App struct {
	Config    *config.Config
	Processor *engine.Processor
	Store     *repository.Store
	Health    *api.HealthChecker
	Logger    *logger.Logger

	// Suppressions is Postgres-backed with postgres storage, otherwise
	// in-memory.
	Suppressions *suppression.Service

	// Registry is nil without Redis.
	Registry *worker.RedisRegistry
	Redis    *redis.Client
	StoreDB  *sql.DB
	CRMDB    *sql.DB

	closers []func() error
}

// Options override connections, mainly for tests.
type Options struct {
	// Recipients replaces the CRM store.
	Recipients engine.RecipientSource
	// Redis replaces the client built from config.
	Redis *redis.Client
}

// New connects everything cfg enables.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	a := &App{
		Config: cfg,
		Health: api.NewHealthChecker(),
		Logger: logger.New(os.Stderr, logger.ParseLevel(cfg.Logging.Level)).
			WithRedactPII(cfg.Logging.Redact()).
			With("service", "campaign-engine"),
	}
	if err := a.build(ctx, opts); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, opts Options) error {
	cfg := a.Config

	a.Redis = opts.Redis
	if a.Redis == nil && cfg.Redis.Addr != "" {
		a.Redis = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		a.closers = append(a.closers, a.Redis.Close)
	}
	if a.Redis != nil {
		if err := a.Redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		a.Registry = worker.NewRedisRegistry(a.Redis)
		a.Health.Register("redis", true, 100*time.Millisecond, api.RedisCheck(a.Redis))
		log.Printf("[App] Redis connected at %s", cfg.Redis.Addr)
	}

	backend, err := a.openStorage(ctx)
	if err != nil {
		return err
	}
	a.Store = repository.NewStore(backend)

	if a.Suppressions, err = a.openSuppressions(ctx); err != nil {
		return err
	}

	recipients, directory, library, err := a.openCRM(ctx, opts)
	if err != nil {
		return err
	}

	router, err := a.buildTransport(ctx)
	if err != nil {
		return err
	}

	conditions, err := condition.NewEvaluator()
	if err != nil {
		return fmt.Errorf("condition evaluator: %w", err)
	}

	var archiver engine.Archiver
	if cfg.Archive.Enabled {
		if archiver, err = a.openArchive(ctx); err != nil {
			return err
		}
	}

	a.Processor, err = engine.NewProcessor(engine.Dependencies{
		Repository:   a.Store,
		Recipients:   recipients,
		Renderer:     render.NewRenderer(library),
		Transport:    router,
		Conditions:   conditions,
		Directory:    directory,
		Locks:        distlock.NewFactory(a.Redis, a.StoreDB),
		Archive:      archiver,
		Suppressions: a.Suppressions,
	}, engine.Config{
		TenantConcurrency:  cfg.Engine.TenantConcurrency,
		RecipientPageSize:  cfg.Engine.RecipientPageSize,
		JourneyBudget:      cfg.Engine.JourneyBudget,
		MaxStepsPerJourney: cfg.Engine.MaxStepsPerJourney,
		LockTTL:            cfg.Engine.LockTTL(),
		ResumePolicy:       engine.ResumePolicy(cfg.Engine.ResumePolicy),
	})
	if err != nil {
		return err
	}
	a.Processor.SetLogger(a.Logger)
	return nil
}

func (a *App) openStorage(ctx context.Context) (repository.Backend, error) {
	cfg := a.Config.Storage
	switch cfg.Type {
	case "dynamodb":
		b, err := dynamo.New(ctx, dynamo.Config{
			TableName: cfg.DynamoDB.Table,
			Region:    cfg.DynamoDB.Region,
			Profile:   cfg.DynamoDB.AWSProfile,
			Endpoint:  cfg.DynamoDB.Endpoint,
		})
		if err != nil {
			return nil, fmt.Errorf("dynamodb: %w", err)
		}
		log.Printf("[App] Using DynamoDB table %s", cfg.DynamoDB.Table)
		return b, nil
	case "postgres":
		db, err := openDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("storage database: %w", err)
		}
		a.StoreDB = db
		a.closers = append(a.closers, db.Close)
		repo := postgres.NewDocumentRepo(db)
		if err := repo.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate documents: %w", err)
		}
		a.Health.Register("storage", true, 200*time.Millisecond, api.SQLCheck(db))
		log.Println("[App] Using PostgreSQL document store")
		return repo, nil
	default:
		log.Println("[App] Using in-memory store; state is lost on restart")
		return memory.New(), nil
	}
}

func (a *App) openSuppressions(ctx context.Context) (*suppression.Service, error) {
	if a.StoreDB == nil {
		return suppression.NewService(suppression.NewMemoryRepository()), nil
	}
	repo := postgres.NewSuppressionRepo(a.StoreDB)
	if err := repo.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate suppressions: %w", err)
	}
	return suppression.NewService(repo), nil
}

func (a *App) openCRM(ctx context.Context, opts Options) (engine.RecipientSource, tenant.Directory, render.Library, error) {
	cfg := a.Config
	var library render.Library = render.NewStaticLibrary(cfg.Templates)

	static := tenant.NewStaticDirectory(cfg.Tenants.Schemas)
	static.DefaultPattern = cfg.Tenants.DefaultPattern
	var directory tenant.Directory = static

	var recipients engine.RecipientSource = opts.Recipients
	if cfg.CRM.DatabaseURL != "" {
		db, err := openDB(ctx, cfg.CRM.DatabaseURL)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("crm database: %w", err)
		}
		a.CRMDB = db
		a.closers = append(a.closers, db.Close)
		a.Health.Register("crm", true, 200*time.Millisecond, api.SQLCheck(db))
		if recipients == nil {
			recipients = crm.NewPostgresStore(db)
		}
		if cfg.CRM.TenantTable != "" {
			directory = tenant.NewPostgresDirectory(db, cfg.CRM.TenantTable)
		}
		if cfg.CRM.DBTemplates {
			library = render.NewPostgresLibrary(db, library)
		}
	}
	if recipients == nil {
		log.Println("[App] No CRM database configured; using an empty recipient store")
		recipients = crm.NewStaticStore()
	}
	return recipients, directory, library, nil
}

func (a *App) buildTransport(ctx context.Context) (*transport.Router, error) {
	cfg := a.Config
	router := transport.NewRouter()

	if cfg.SES.Enabled {
		ses, err := transport.NewSESSender(ctx, transport.SESConfig{
			Region:           cfg.SES.Region,
			AccessKey:        cfg.SES.AccessKey,
			SecretKey:        cfg.SES.SecretKey,
			FromEmail:        cfg.SES.FromEmail,
			FromName:         cfg.SES.FromName,
			ConfigurationSet: cfg.SES.ConfigurationSet,
		})
		if err != nil {
			return nil, fmt.Errorf("ses: %w", err)
		}
		router.Register(domain.ChannelEmail, ses, cfg.SES.RatePerSecond, cfg.SES.Burst)
		log.Printf("[App] SES email enabled (%s, %.0f/s)", cfg.SES.Region, cfg.SES.RatePerSecond)
	}

	if cfg.Webhook.Enabled {
		client := httpretry.NewRetryClient(&http.Client{Timeout: cfg.Webhook.Timeout()}, cfg.Webhook.MaxRetries)
		hook := transport.NewWebhookSender(client)
		hook.DefaultURL = cfg.Webhook.DefaultURL
		hook.Secret = cfg.Webhook.Secret
		router.Register(domain.ChannelWebhook, hook, cfg.Webhook.RatePerSecond, cfg.Webhook.Burst)
		log.Println("[App] Webhook channel enabled")
	}

	if cfg.InApp.Enabled {
		if a.Redis == nil {
			return nil, fmt.Errorf("in-app channel needs redis")
		}
		router.Register(domain.ChannelInApp, transport.NewInAppSender(a.Redis), cfg.InApp.RatePerSecond, cfg.InApp.Burst)
		log.Println("[App] In-app channel enabled")
	}
	return router, nil
}

func (a *App) openArchive(ctx context.Context) (engine.Archiver, error) {
	cfg := a.Config.Archive
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AWSProfile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.AWSProfile))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("archive: loading AWS config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg)
	a.Health.Register("archive", false, time.Second, api.S3Check(client, cfg.Bucket))
	log.Printf("[App] Archiving finished batches to s3://%s/%s", cfg.Bucket, cfg.Prefix)
	return archive.NewS3ArchiveWithClient(client, cfg.Bucket, cfg.Prefix), nil
}

// Workers lists live workers, or none without Redis.
func (a *App) Workers(ctx context.Context) ([]worker.Stats, error) {
	if a.Registry == nil {
		return []worker.Stats{}, nil
	}
	return a.Registry.Workers(ctx)
}

// PollerConfig maps the engine settings onto the poller.
func (a *App) PollerConfig() worker.PollerConfig {
	e := a.Config.Engine
	return worker.PollerConfig{
		WorkerID:     e.WorkerID,
		PollInterval: e.PollInterval(),
		PassTimeout:  e.PassTimeout(),
		BatchLimit:   e.BatchLimit,
	}
}

// NewPoller creates a poller over the processor. It heartbeats to Redis
// when available.
func (a *App) NewPoller() *worker.Poller {
	var reg worker.Registry
	if a.Registry != nil {
		reg = a.Registry
	}
	return worker.NewPoller(a.Processor, reg, a.PollerConfig())
}

// Close releases connections in reverse order of opening.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Printf("[App] close error: %v", err)
		}
	}
	a.closers = nil
}

func openDB(ctx context.Context, url string) (*sql.DB, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
