package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/lessond/internal/alerting"
	"github.com/fyrsmithlabs/lessond/internal/config"
	"github.com/fyrsmithlabs/lessond/internal/engine"
	"github.com/fyrsmithlabs/lessond/internal/extraction"
	httpserver "github.com/fyrsmithlabs/lessond/internal/http"
	"github.com/fyrsmithlabs/lessond/internal/lesson"
	"github.com/fyrsmithlabs/lessond/internal/logging"
	"github.com/fyrsmithlabs/lessond/internal/metrics"
	"github.com/fyrsmithlabs/lessond/internal/policy"
	"github.com/fyrsmithlabs/lessond/internal/telemetry"
)

type options struct {
	configPath string
	policyPath string
	envFile    string
}

// run wires the daemon and blocks until ctx is cancelled:
//  1. Loads and validates configuration
//  2. Initializes telemetry and the logger
//  3. Opens the lesson repository and metrics collector
//  4. Loads the policy and connects alert delivery
//  5. Starts the evaluation loop, the policy watcher and the HTTP server
//  6. Shuts everything down on cancellation
func run(ctx context.Context, opts options) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if opts.policyPath != "" {
		cfg.Policy.Path = opts.policyPath
	}

	tel, err := telemetry.New(ctx, telemetry.FromObservability(cfg.Observability, version))
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			log.Printf("telemetry shutdown: %v", err)
		}
	}()

	logCfg, err := logging.FromObservability(cfg.Observability, cfg.Observability.ServiceName)
	if err != nil {
		return fmt.Errorf("configuring logger: %w", err)
	}
	lg, err := logging.NewLogger(logCfg, tel.LoggerProvider())
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() {
		_ = lg.Sync()
	}()
	logger := lg.Underlying()

	logger.Info("starting lessond",
		zap.String("version", version),
		zap.String("storage", cfg.Storage.Backend),
		zap.String("extraction", cfg.Extraction.Provider),
		zap.Bool("telemetry", tel.IsEnabled()))

	deps, err := initDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	eng, err := engine.New(engine.Deps{
		Store:     deps.store,
		Collector: deps.collector,
		Extractor: deps.extractor,
		Policy:    deps.policies,
		Router:    deps.router,
		Logger:    logger,
	}, engine.Config{
		ExtractionTimeout: cfg.Extraction.Timeout.Duration(),
		Lookback:          cfg.Engine.Lookback.Duration(),
	})
	if err != nil {
		return fmt.Errorf("creating engine: %w", err)
	}

	srv, err := httpserver.NewServer(eng, deps.store, deps.policies, logger,
		&httpserver.Config{Host: cfg.Server.Host, Port: cfg.Server.Port},
		deps.healthChecks()...)
	if err != nil {
		return fmt.Errorf("creating http server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return eng.Run(gctx, cfg.Engine.Interval.Duration())
	})
	if cfg.Policy.Watch && cfg.Policy.Path != "" {
		g.Go(func() error {
			if err := deps.policies.Watch(gctx, cfg.Policy.Path); err != nil {
				logger.Warn("policy hot reload disabled", zap.Error(err))
			}
			return nil
		})
	}
	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	logger.Info("lessond stopped", zap.Error(err))
	return err
}

// dependencies holds the long-lived components the engine and server share.
type dependencies struct {
	store     *lesson.Store
	collector *metrics.Collector
	policies  *policy.Holder
	router    *alerting.Router
	extractor *extraction.Extractor
	redis     redis.UniversalClient
	natsConn  *nats.Conn
	logger    *zap.Logger
}

func initDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*dependencies, error) {
	d := &dependencies{logger: logger}
	ok := false
	defer func() {
		if !ok {
			d.Close()
		}
	}()

	repo, err := d.openRepository(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	d.store, err = lesson.NewStore(repo, logger)
	if err != nil {
		_ = repo.Close()
		return nil, fmt.Errorf("creating lesson store: %w", err)
	}

	metricsPath := cfg.Metrics.Path
	if metricsPath != "" {
		if metricsPath, err = config.ExpandHome(metricsPath); err != nil {
			return nil, err
		}
	}
	d.collector, err = metrics.NewCollector(metricsPath, logger)
	if err != nil {
		return nil, fmt.Errorf("opening metrics collector: %w", err)
	}

	p, err := policy.Load(cfg.Policy.Path)
	if err != nil {
		return nil, fmt.Errorf("loading policy: %w", err)
	}
	d.policies, err = policy.NewHolder(p, logger)
	if err != nil {
		return nil, fmt.Errorf("creating policy holder: %w", err)
	}

	notifiers := []alerting.Notifier{alerting.NewLogNotifier(logger)}
	if cfg.Alerting.NATSURL != "" {
		d.natsConn, err = nats.Connect(cfg.Alerting.NATSURL,
			nats.Name("lessond"),
			nats.RetryOnFailedConnect(true),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(time.Second),
		)
		if err != nil {
			return nil, fmt.Errorf("connecting to nats at %s: %w", cfg.Alerting.NATSURL, err)
		}
		natsNotifier, err := alerting.NewNATSNotifier(d.natsConn, cfg.Alerting.SubjectPrefix)
		if err != nil {
			return nil, err
		}
		notifiers = append(notifiers, natsNotifier)
		logger.Info("alert publishing enabled",
			zap.String("url", cfg.Alerting.NATSURL),
			zap.String("subject_prefix", cfg.Alerting.SubjectPrefix))
	}
	d.router, err = alerting.NewRouter(d.policies, logger, notifiers...)
	if err != nil {
		return nil, fmt.Errorf("creating alert router: %w", err)
	}

	gen, err := extraction.NewGenerator(extraction.Config{
		Provider:      cfg.Extraction.Provider,
		Model:         cfg.Extraction.Model,
		APIKey:        cfg.Extraction.APIKey.Value(),
		BaseURL:       cfg.Extraction.BaseURL,
		Timeout:       cfg.Extraction.Timeout.Duration(),
		MaxTokens:     cfg.Extraction.MaxTokens,
		MinConfidence: cfg.Extraction.MinConfidence,
	})
	if err != nil {
		return nil, fmt.Errorf("creating extraction generator: %w", err)
	}
	d.extractor = extraction.NewExtractor(gen, cfg.Extraction.MinConfidence, logger)

	ok = true
	return d, nil
}

func (d *dependencies) openRepository(ctx context.Context, sc config.StorageConfig) (lesson.Repository, error) {
	path := sc.Path
	if path != "" {
		expanded, err := config.ExpandHome(path)
		if err != nil {
			return nil, err
		}
		path = expanded
	}

	switch sc.Backend {
	case config.BackendMemory:
		return lesson.NewMemoryRepository(), nil
	case config.BackendFile:
		var opts []lesson.FileOption
		if sc.FlushInterval > 0 {
			opts = append(opts, lesson.WithFlushInterval(sc.FlushInterval.Duration()))
		}
		repo, err := lesson.NewFileRepository(path, d.logger, opts...)
		if err != nil {
			return nil, fmt.Errorf("opening lesson file: %w", err)
		}
		return repo, nil
	case config.BackendSQLite:
		repo, err := lesson.NewSQLiteRepository(path)
		if err != nil {
			return nil, fmt.Errorf("opening lesson database: %w", err)
		}
		return repo, nil
	case config.BackendRedis:
		d.redis = redis.NewClient(&redis.Options{
			Addr:     sc.RedisAddr,
			Password: sc.RedisPassword.Value(),
			DB:       sc.RedisDB,
		})
		if err := d.redis.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("connecting to redis at %s: %w", sc.RedisAddr, err)
		}
		repo, err := lesson.NewRedisRepository(d.redis, sc.RedisPrefix)
		if err != nil {
			return nil, err
		}
		return repo, nil
	default:
		return nil, fmt.Errorf("unknown storage backend: %q", sc.Backend)
	}
}

func (d *dependencies) healthChecks() []httpserver.Option {
	var checks []httpserver.Option
	if d.redis != nil {
		checks = append(checks, httpserver.WithHealthCheck("redis", func(ctx context.Context) error {
			return d.redis.Ping(ctx).Err()
		}))
	}
	if d.natsConn != nil {
		checks = append(checks, httpserver.WithHealthCheck("nats", func(context.Context) error {
			if !d.natsConn.IsConnected() {
				return fmt.Errorf("nats %s", d.natsConn.Status())
			}
			return nil
		}))
	}
	return checks
}

// Close releases resources in reverse order of acquisition.
func (d *dependencies) Close() {
	if d.natsConn != nil {
		if err := d.natsConn.Drain(); err != nil {
			d.natsConn.Close()
		}
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			d.logger.Warn("closing lesson store failed", zap.Error(err))
		}
	}
	if d.redis != nil && d.store == nil {
		_ = d.redis.Close()
	}
}
