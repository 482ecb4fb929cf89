package app

import (
	"context"
	"os"
	"time"
	_ "time/tzdata"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
	"gorm.io/gorm"

	"github.com/probelab/synthmon/config"
	"github.com/probelab/synthmon/internal/browser"
	"github.com/probelab/synthmon/internal/domain"
	"github.com/probelab/synthmon/internal/engine"
	"github.com/probelab/synthmon/internal/probe"
	"github.com/probelab/synthmon/internal/repository"
	"github.com/probelab/synthmon/pkg/metrics"
)

type Application struct {
	appConfig *config.AppConfig
	gormDB    *gorm.DB
	sched     *cron.Cron
	engine    *engine.Engine
	logRepo   repository.ExecutionLogRepository
}

func NewApplication(appConfig *config.AppConfig) *Application {
	return &Application{appConfig: appConfig}
}

func (a *Application) Config() *config.AppConfig {
	return a.appConfig
}

func (a *Application) DB() *gorm.DB {
	return a.gormDB
}

func (a *Application) Engine() *engine.Engine {
	return a.engine
}

// OverrideDB replaces the application's database handle (used in tests).
func (a *Application) OverrideDB(db *gorm.DB) {
	a.gormDB = db
}

func (a *Application) Init(cfg *config.AppConfig) {
	loc, err := time.LoadLocation(cfg.System.Location)
	if err != nil {
		zap.S().Error("timezone config error")
		loc = time.UTC
	} else {
		time.Local = loc
	}

	// Initialize zap logger
	var zapConfig zap.Config
	if cfg.Logger.Mode == "production" {
		zapConfig = zap.NewProductionConfig()
	} else {
		zapConfig = zap.NewDevelopmentConfig()
	}
	zapConfig.OutputPaths = []string{"stdout"}

	var logger *zap.Logger
	if cfg.Logger.FileEnable {
		lumberJackLogger := &lumberjack.Logger{
			Filename:   cfg.Logger.Filename,
			MaxSize:    64,
			MaxBackups: 7,
			MaxAge:     7,
			Compress:   false,
		}
		core := zapcore.NewTee(
			zapcore.NewCore(
				zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
				zapcore.AddSync(lumberJackLogger),
				zapConfig.Level,
			),
			zapcore.NewCore(
				zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
				zapcore.AddSync(os.Stdout),
				zapConfig.Level,
			),
		)
		logger = zap.New(core, zap.AddCaller())
	} else {
		logger, err = zapConfig.Build(zap.AddCaller())
		if err != nil {
			panic(err)
		}
	}
	zap.ReplaceGlobals(logger)

	if err := metrics.InitMetrics(cfg.System.Workdir); err != nil {
		zap.S().Warn("failed to initialize metrics store:", err)
	}

	if cfg.Database.Type == "" {
		cfg.Database.Type = "postgres"
	}
	a.gormDB = getDatabase(cfg.Database)
	zap.S().Infof("database connection successful, type: %s", cfg.Database.Type)

	if err := a.MigrateDB(); err != nil {
		zap.S().Errorf("database migration failed: %v", err)
	}

	monitorRepo := repository.NewGormMonitorRepository(a.gormDB)
	a.logRepo = repository.NewGormExecutionLogRepository(a.gormDB)
	metricRepo := repository.NewGormMetricRepository(a.gormDB)

	var driver probe.Driver = browser.New(cfg.Engine.BrowserExec)

	a.engine, err = engine.New(cfg.Engine, loc, monitorRepo, a.logRepo, metricRepo, driver)
	if err != nil {
		zap.S().Fatalf("engine init failed: %v", err)
	}

	a.initJob(loc)
}

func (a *Application) MigrateDB() error {
	if err := a.gormDB.Migrator().AutoMigrate(domain.Tables...); err != nil {
		return err
	}
	// AutoMigrate cannot express the partial index backing TryStart.
	return a.gormDB.Exec(repository.RunningLogIndexSQL).Error
}

func (a *Application) InitDb() {
	_ = a.gormDB.Migrator().DropTable(domain.Tables...)
	if err := a.MigrateDB(); err != nil {
		zap.S().Error(err)
	}
}

// StartBackgroundJobs starts the scheduling engine. Cancelling ctx
// aborts in-flight runs.
func (a *Application) StartBackgroundJobs(ctx context.Context) error {
	return a.engine.Start(ctx)
}

// Release releases application resources.
func (a *Application) Release() {
	if a.sched != nil {
		a.sched.Stop()
	}
	if a.engine != nil {
		a.engine.Shutdown(30 * time.Second)
	}
	_ = metrics.Close()
	_ = zap.L().Sync()
}
