package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-program-sync/internal/repository"
	"github.com/noah-isme/sma-program-sync/internal/service"
	"github.com/noah-isme/sma-program-sync/pkg/cache"
	"github.com/noah-isme/sma-program-sync/pkg/config"
	"github.com/noah-isme/sma-program-sync/pkg/database"
)

// App holds the wired services shared by the API server and the CLI.
type App struct {
	Config   *config.Config
	Logger   *zap.Logger
	DB       *sqlx.DB
	Cache    *repository.CacheRepository
	Metrics  *service.MetricsService
	Location *time.Location

	Sync          *service.SyncService
	Revert        *service.RevertService
	Confirmations *service.ConfirmationService
	Auth          *service.AuthService
}

// New connects to Postgres and Redis and builds every service.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	a := &App{
		Config:  cfg,
		Logger:  logger,
		DB:      db,
		Cache:   repository.NewCacheRepository(redisClient, logger),
		Metrics: service.NewMetricsService(),
	}
	a.wire()
	return a, nil
}

func (a *App) wire() {
	options := service.OptionsFromConfig(a.Config.Sync)
	a.Location = options.Location

	platform := repository.NewPlatformRepository(a.DB)
	enrolments := repository.NewEnrolmentRepository(a.DB)
	masters := repository.NewMasterRepository(a.DB)
	messages := repository.NewMessageRepository(a.DB)
	calendar := repository.NewCalendarRepository(a.DB)
	notifications := repository.NewNotificationRepository(a.DB)
	grades := repository.NewGradeRepository(a.DB)
	users := repository.NewUserRepository(a.DB)
	cursors := repository.NewCursorRepository(a.DB)

	messengers := []service.Messenger{service.NewPlatformMessenger(notifications)}
	if a.Config.SendGrid.Enabled() {
		messengers = append(messengers, service.NewSendGridMessenger(a.Config.SendGrid))
	}

	a.Sync = service.NewSyncService(service.SyncDeps{
		Cursors:       cursors,
		Pending:       enrolments,
		Ingestion:     service.NewIngestionService(platform, enrolments, cursors, a.DB, a.Logger),
		Encapsulation: service.NewEncapsulationService(platform, enrolments, masters, a.DB, a.Logger),
		Calendar:      service.NewCalendarEventService(enrolments, calendar, a.Logger),
		Notices:       service.NewNotificationService(masters, enrolments, platform, messages, users, a.Logger),
		Grades:        service.NewGradeService(grades, enrolments, a.Logger),
		Dispatch:      service.NewDispatchService(messages, platform, users, a.Metrics, a.Logger, messengers...),
	}, options, a.Metrics, a.Logger)

	a.Revert = service.NewRevertService(service.RevertDeps{
		Users:      users,
		Platform:   platform,
		Calendar:   calendar,
		Messages:   messages,
		Masters:    masters,
		Enrolments: enrolments,
		Tx:         a.DB,
	}, nil, a.Logger)
	a.Confirmations = service.NewConfirmationService(a.Cache, a.Revert, a.Config.Revert.ConfirmationTTL, a.Logger)

	a.Auth = service.NewAuthService(users, nil, a.Logger, service.AuthConfig{
		AccessTokenSecret: a.Config.JWT.Secret,
		AccessTokenExpiry: a.Config.JWT.Expiration,
		Issuer:            a.Config.JWT.Issuer,
	})
}

// Migrate applies pending schema migrations for the program tables.
func (a *App) Migrate(ctx context.Context) (int, error) {
	applied, err := database.Migrate(ctx, a.DB)
	if err != nil {
		return 0, fmt.Errorf("migrate: %w", err)
	}
	return applied, nil
}

// DBPinger adapts the pool to the readiness probe.
func (a *App) DBPinger() DBPinger {
	return DBPinger{db: a.DB}
}

// DBPinger checks the Postgres pool.
type DBPinger struct {
	db *sqlx.DB
}

// Ping verifies a connection can be established.
func (p DBPinger) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close releases the cache and the database pool.
func (a *App) Close() {
	if err := a.Cache.Close(); err != nil {
		a.Logger.Sugar().Warnw("close cache", "error", err)
	}
	if err := a.DB.Close(); err != nil {
		a.Logger.Sugar().Warnw("close database", "error", err)
	}
}
