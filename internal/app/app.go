package app

import (
	"context"
	"os"
	"time"
	_ "time/tzdata"

	EventBus "github.com/asaskevich/EventBus"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/talkincode/netdoctor/config"
	"github.com/talkincode/netdoctor/internal/diagnostic"
	"github.com/talkincode/netdoctor/internal/domain"
	"github.com/talkincode/netdoctor/internal/gateway"
	"github.com/talkincode/netdoctor/internal/lease"
	"github.com/talkincode/netdoctor/internal/metrics"
	"github.com/talkincode/netdoctor/internal/queue"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
	"gorm.io/gorm"
)

type Application struct {
	appConfig  *config.AppConfig
	gormDB     *gorm.DB
	rdb        redis.UniversalClient
	sched      *cron.Cron
	bus        EventBus.Bus
	registry   *prometheus.Registry
	metrics    *metrics.Metrics
	queue      queue.Queue
	leaser     lease.Leaser
	prober     gateway.Prober
	gateway    *gateway.GormGateway
	neighbors  *diagnostic.NeighborAnalyzer
	logs       *diagnostic.GormLogRepository
	engine     *diagnostic.Engine
	dispatcher *diagnostic.Dispatcher
	service    *diagnostic.Service
	ingestor   *diagnostic.Ingestor

	stopWorkers context.CancelFunc
	workersDone chan struct{}
}

// Ensure Application implements all interfaces
var (
	_ DBProvider          = (*Application)(nil)
	_ ConfigProvider      = (*Application)(nil)
	_ SchedulerProvider   = (*Application)(nil)
	_ DiagnosticsProvider = (*Application)(nil)
	_ AppContext          = (*Application)(nil)
)

func NewApplication(appConfig *config.AppConfig) *Application {
	return &Application{appConfig: appConfig}
}

func (a *Application) Config() *config.AppConfig {
	return a.appConfig
}

func (a *Application) DB() *gorm.DB {
	return a.gormDB
}

// OverrideDB replaces the application's database handle (used in tests).
func (a *Application) OverrideDB(db *gorm.DB) {
	a.gormDB = db
}

// OverrideRedis replaces the redis client (used in tests).
func (a *Application) OverrideRedis(rdb redis.UniversalClient) {
	a.rdb = rdb
}

// OverrideProber replaces the live device prober (used in tests).
func (a *Application) OverrideProber(p gateway.Prober) {
	a.prober = p
}

// Init connects every backend and wires the diagnostic engine. Nothing runs
// until StartBackgroundJobs.
func (a *Application) Init(cfg *config.AppConfig) error {
	if err := a.InitDB(cfg); err != nil {
		return err
	}
	if err := a.MigrateDB(false); err != nil {
		return err
	}

	if cfg.Redis.Enabled {
		a.rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.rdb.Ping(pctx).Err(); err != nil {
			return errors.Wrapf(err, "redis %s", cfg.Redis.Addr)
		}
		zap.S().Infof("Redis connection successful, addr: %s", cfg.Redis.Addr)
	}

	a.prober = gateway.NewNetProber(cfg.Diagnostic.ProbeTimeout)

	if err := a.initComponents(); err != nil {
		return err
	}
	return a.initJob()
}

// InitDB sets the timezone and logger and opens the database, which is all
// the migrate command needs.
func (a *Application) InitDB(cfg *config.AppConfig) error {
	a.appConfig = cfg
	loc, err := time.LoadLocation(cfg.System.Location)
	if err != nil {
		zap.S().Error("timezone config error")
	} else {
		time.Local = loc
	}

	initLogger(cfg.Logger)

	if cfg.Database.Type == "" {
		cfg.Database.Type = "postgres"
	}
	a.gormDB, err = getDatabase(cfg.Database, cfg.GetDataDir())
	if err != nil {
		return err
	}
	zap.S().Infof("Database connection successful, type: %s", cfg.Database.Type)
	return nil
}

func initLogger(cfg config.LogConfig) {
	var zapConfig zap.Config
	if cfg.Mode == "production" {
		zapConfig = zap.NewProductionConfig()
	} else {
		zapConfig = zap.NewDevelopmentConfig()
	}
	zapConfig.OutputPaths = []string{"stdout"}

	var logger *zap.Logger
	if cfg.FileEnable {
		lumberJackLogger := &lumberjack.Logger{
			Filename:   cfg.Filename,
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
		var err error
		logger, err = zapConfig.Build(zap.AddCaller())
		if err != nil {
			panic(err)
		}
	}

	zap.ReplaceGlobals(logger)
}

// initComponents wires the diagnostic engine on top of the database, the
// optional redis client and the prober.
func (a *Application) initComponents() error {
	cfg := a.appConfig.Diagnostic

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = metrics.New(a.registry)

	switch {
	case cfg.QueueBackend == "redis" && a.rdb != nil:
		a.queue = queue.NewRedisQueue(a.rdb, "")
	case cfg.QueueBackend == "redis":
		return errors.New("redis queue backend selected but redis is not connected")
	default:
		a.queue = queue.NewMemoryQueue()
	}
	// a shared redis makes target leases hold across instances
	if a.rdb != nil {
		a.leaser = lease.NewRedisLeaser(a.rdb, "")
	} else {
		a.leaser = lease.NewMemoryLeaser()
	}

	a.gateway = gateway.NewGormGateway(a.gormDB, a.prober)

	var err error
	a.neighbors, err = diagnostic.NewNeighborAnalyzer(a.gateway, cfg.NeighborPoolSize)
	if err != nil {
		return err
	}
	a.logs, err = diagnostic.NewGormLogRepository(a.gormDB, cfg.NodeID)
	if err != nil {
		return err
	}

	a.bus = EventBus.New()
	if err := a.bus.SubscribeAsync(diagnostic.EventDiagnosticCompleted, a.onDiagnosticCompleted, false); err != nil {
		return err
	}

	pipeline := diagnostic.NewPipeline(a.gateway, a.neighbors, cfg.RunTimeout, a.metrics)
	a.engine = diagnostic.NewEngine(pipeline, a.logs, a.bus)
	a.dispatcher = diagnostic.NewDispatcher(a.queue, a.leaser, a.engine, diagnostic.DispatcherConfig{
		Workers:        cfg.Workers,
		LeaseTTL:       cfg.LeaseTTL(),
		MaxRetries:     cfg.MaxRetries,
		RetryBaseDelay: cfg.RetryBaseDelay,
		RetryMaxDelay:  cfg.RetryMaxDelay,
	}, a.metrics)
	a.service = diagnostic.NewService(a.engine, a.queue, a.leaser, a.logs, cfg.LeaseTTL(), cfg.Workers)
	a.ingestor = diagnostic.NewIngestor(a.appConfig.Web.WebhookSecret, a.queue, a.metrics)
	return nil
}

func (a *Application) onDiagnosticCompleted(log *domain.DiagnosticLog) {
	a.metrics.Concluded(diagnostic.Verdict(log.StepList()))
}

func (a *Application) MigrateDB(track bool) error {
	db := a.gormDB
	if track {
		db = db.Debug()
	}
	if err := db.Migrator().AutoMigrate(domain.Tables...); err != nil {
		zap.S().Error(err)
		return errors.Wrap(err, "migrate database")
	}
	return nil
}

// Scheduler returns the cron scheduler
func (a *Application) Scheduler() *cron.Cron {
	return a.sched
}

func (a *Application) Diagnostics() *diagnostic.Service {
	return a.service
}

func (a *Application) Ingestor() *diagnostic.Ingestor {
	return a.ingestor
}

// Gatherer exposes the metrics registry to the web server.
func (a *Application) Gatherer() prometheus.Gatherer {
	return a.registry
}

// StartBackgroundJobs starts the cron jobs and the diagnostic workers. The
// workers stop when ctx is done or on Release; the returned channel closes once
// every worker has returned.
func (a *Application) StartBackgroundJobs(ctx context.Context) <-chan struct{} {
	if rq, ok := a.queue.(*queue.RedisQueue); ok {
		n, err := rq.Recover(ctx)
		if err != nil {
			zap.L().Error("failed to recover in-flight jobs", zap.String("namespace", "app"), zap.Error(err))
		} else if n > 0 {
			zap.L().Warn("requeued jobs left in flight by a previous run",
				zap.String("namespace", "app"), zap.Int("jobs", n))
		}
	}
	if a.sched != nil {
		a.sched.Start()
	}

	ctx, a.stopWorkers = context.WithCancel(ctx)
	a.workersDone = make(chan struct{})
	go func() {
		defer close(a.workersDone)
		if err := a.dispatcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			zap.L().Error("diagnostic dispatcher stopped", zap.String("namespace", "app"), zap.Error(err))
		}
	}()
	return a.workersDone
}

// Release releases application resources
func (a *Application) Release() {
	if a.sched != nil {
		<-a.sched.Stop().Done()
	}
	// workers may still be persisting a finished run
	if a.stopWorkers != nil {
		a.stopWorkers()
		<-a.workersDone
	}
	if a.queue != nil {
		_ = a.queue.Close()
	}
	if a.neighbors != nil {
		a.neighbors.Release()
	}
	if a.bus != nil {
		a.bus.WaitAsync()
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if a.gormDB != nil {
		if sqlDB, err := a.gormDB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	_ = zap.L().Sync()
}
