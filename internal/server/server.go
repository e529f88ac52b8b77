// Package server builds the application's dependencies and owns its
// lifecycle: cron schedules, the HTTP server, and graceful shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/riskradar/riskradar/internal/alert"
	"github.com/riskradar/riskradar/internal/annotate"
	"github.com/riskradar/riskradar/internal/api"
	"github.com/riskradar/riskradar/internal/archive"
	"github.com/riskradar/riskradar/internal/clock/system"
	"github.com/riskradar/riskradar/internal/config"
	"github.com/riskradar/riskradar/internal/feed"
	"github.com/riskradar/riskradar/internal/hourly"
	"github.com/riskradar/riskradar/internal/logging"
	"github.com/riskradar/riskradar/internal/metrics"
	"github.com/riskradar/riskradar/internal/pipeline"
	"github.com/riskradar/riskradar/internal/risk"
	"github.com/riskradar/riskradar/internal/source"
	"github.com/riskradar/riskradar/internal/stream"
)

// App contains the application's dependencies.
type App struct {
	cfg        *config.Config
	logger     *zap.Logger
	location   *time.Location
	apiServer  *api.Server
	archiver   *hourly.Archiver
	scheduler  *pipeline.Scheduler
	alerts     *alert.Service
	hotlistHub *stream.Hub
	riskHub    *stream.Hub
	cron       *cron.Cron
}

// Build creates the application's dependencies.
func Build(_ context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()

	location, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("load timezone: %w", err)
	}

	app := &App{cfg: cfg, logger: logger, location: location}
	app.logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.String("timezone", cfg.Daily.Timezone))

	store, err := archive.NewFSStore(cfg.Storage.DataDir, logger.Named("archive"))
	if err != nil {
		return nil, fmt.Errorf("archive store init failed: %w", err)
	}
	clk := system.New()

	app.hotlistHub = stream.NewHub(stream.Config{Name: "hotlist", Logger: logger.Named("hotlist-stream")})
	app.riskHub = stream.NewHub(stream.Config{Name: "risk", Logger: logger.Named("risk-stream")})

	hotSource, err := buildHotListSource(cfg, logger)
	if err != nil {
		return nil, err
	}
	app.archiver = hourly.NewArchiver(hotSource, store, clk, app.hotlistHub, hourly.Config{
		LookbackDays: cfg.Monitor.LookbackDays,
		Location:     location,
	}, logger.Named("hourly"))

	classifier := annotate.NewOpenAIClassifier(annotate.OpenAIConfig{
		APIKey:  cfg.Classifier.APIKey,
		Model:   cfg.Classifier.Model,
		BaseURL: cfg.Classifier.BaseURL,
		Timeout: cfg.ClassifierTimeout(),
	}, logger.Named("classifier"))
	var classifierIface feed.Classifier
	if classifier != nil {
		classifierIface = classifier
	} else {
		logger.Info("no classifier API key configured; annotation runs heuristics only")
	}
	var postsIface feed.PostSource
	if posts := source.NewPostsClient(source.PostsConfig{URL: cfg.Feed.PostsURL}, logger.Named("posts")); posts != nil {
		postsIface = posts
	}
	gateway := annotate.NewGateway(postsIface, classifierIface, annotate.Config{
		MaxAttempts: cfg.Classifier.MaxAttempts,
		CallTimeout: cfg.ClassifierTimeout(),
	}, logger.Named("annotate"))

	engine := risk.NewEngine(cfg.Risk.Weights)
	app.alerts = alert.NewService(store, clk, app.riskHub, alert.Config{}, logger.Named("alert"))
	app.scheduler = pipeline.NewScheduler(store, gateway, engine, clk, pipeline.Config{
		Workers:      cfg.Daily.Workers,
		TopK:         cfg.Daily.TopK,
		TopicTimeout: cfg.TopicTimeout(),
		DailyAt:      cfg.Daily.Time,
		Location:     location,
	}, app.publishAlerts, logger.Named("pipeline"))

	app.apiServer = api.NewServer(
		store,
		app.alerts,
		app.hotlistHub,
		app.riskHub,
		app.scheduler,
		clk,
		logger.Named("api"),
	)
	return app, nil
}

func buildHotListSource(cfg *config.Config, logger *zap.Logger) (feed.HotListSource, error) {
	if cfg.Feed.HotlistDir != "" {
		logger.Info("serving hot lists from local directory", zap.String("dir", cfg.Feed.HotlistDir))
		src, err := source.NewDirSource(cfg.Feed.HotlistDir, logger.Named("hotlist"))
		if err != nil {
			return nil, fmt.Errorf("hot list dir source init failed: %w", err)
		}
		return src, nil
	}
	src, err := source.NewHotListClient(source.HotListConfig{BaseURL: cfg.Feed.HotlistBaseURL}, logger.Named("hotlist"))
	if err != nil {
		return nil, fmt.Errorf("hot list client init failed: %w", err)
	}
	return src, nil
}

func (a *App) publishAlerts(date string) {
	if err := a.alerts.Publish(); err != nil {
		a.logger.Warn("risk leaderboard publish failed", zap.String("date", date), zap.Error(err))
	}
}

// Run starts the cron schedules and HTTP server, then blocks until the
// context is canceled or a termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.startCron(ctx); err != nil {
		return err
	}

	// Catch up immediately instead of waiting for the first cron firing.
	go a.bootstrap(ctx)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	return a.Close(shutdownCtx)
}

func (a *App) startCron(ctx context.Context) error {
	a.cron = cron.New(cron.WithLocation(a.location))

	if a.cfg.Monitor.Enabled {
		spec := fmt.Sprintf("@every %dm", a.cfg.Monitor.IntervalMinutes)
		if _, err := a.cron.AddFunc(spec, func() {
			if err := a.archiver.RunTick(ctx); err != nil {
				a.logger.Warn("hourly tick failed", zap.Error(err))
			}
			// The gate check rides the monitor cadence so a restart after
			// the daily trigger time still runs the pass.
			if a.cfg.Daily.Enabled {
				if err := a.scheduler.GateCheck(ctx); err != nil {
					a.logger.Warn("daily gate check failed", zap.Error(err))
				}
			}
		}); err != nil {
			return fmt.Errorf("schedule hourly tick: %w", err)
		}
	}

	if a.cfg.Daily.Enabled {
		due, err := time.Parse("15:04", a.cfg.Daily.Time)
		if err != nil {
			return fmt.Errorf("invalid daily.time: %w", err)
		}
		spec := fmt.Sprintf("%d %d * * *", due.Minute(), due.Hour())
		if _, err := a.cron.AddFunc(spec, func() {
			if err := a.scheduler.GateCheck(ctx); err != nil {
				a.logger.Warn("daily pass failed", zap.Error(err))
			}
		}); err != nil {
			return fmt.Errorf("schedule daily pass: %w", err)
		}
	}

	a.cron.Start()
	a.logger.Info("cron schedules started",
		zap.Bool("monitor", a.cfg.Monitor.Enabled),
		zap.Bool("daily", a.cfg.Daily.Enabled),
		zap.String("daily_time", a.cfg.Daily.Time))
	return nil
}

func (a *App) bootstrap(ctx context.Context) {
	if a.cfg.Monitor.Enabled {
		if err := a.archiver.RunTick(ctx); err != nil {
			a.logger.Warn("bootstrap hourly tick failed", zap.Error(err))
		}
	}
	if a.cfg.Daily.Enabled {
		if err := a.scheduler.GateCheck(ctx); err != nil {
			a.logger.Warn("bootstrap gate check failed", zap.Error(err))
		}
	}
}

// Close gracefully shuts down the application.
func (a *App) Close(ctx context.Context) error {
	if a.cron != nil {
		stopCtx := a.cron.Stop()
		select {
		case <-stopCtx.Done():
		case <-ctx.Done():
			a.logger.Warn("cron jobs still running at shutdown deadline")
		}
	}
	a.hotlistHub.Close()
	a.riskHub.Close()
	a.logger.Info("shutdown complete")
	// Sync is best effort; stderr sync fails on some platforms.
	_ = a.logger.Sync()
	return nil
}
