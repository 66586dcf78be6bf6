// Package app wires the capture service components together.
package app

import (
	"fmt"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/pagekeep/pagekeep/internal/browser"
	"github.com/pagekeep/pagekeep/internal/capture"
	"github.com/pagekeep/pagekeep/internal/clock/system"
	"github.com/pagekeep/pagekeep/internal/config"
	"github.com/pagekeep/pagekeep/internal/crawl"
	"github.com/pagekeep/pagekeep/internal/detect"
	"github.com/pagekeep/pagekeep/internal/id/uuid"
	"github.com/pagekeep/pagekeep/internal/jobs"
	"github.com/pagekeep/pagekeep/internal/logging"
	"github.com/pagekeep/pagekeep/internal/metrics"
	"github.com/pagekeep/pagekeep/internal/queue/memory"
	"github.com/pagekeep/pagekeep/internal/ratelimit"
	"github.com/pagekeep/pagekeep/internal/store"
	"github.com/pagekeep/pagekeep/internal/testcrawl"
)

// App owns every long-lived component of the capture service.
type App struct {
	Config       config.Config
	Logger       *zap.Logger
	Browser      browser.Browser
	Tracker      *jobs.Tracker
	Store        *store.Store
	TestCrawls   *testcrawl.Manager
	Orchestrator *capture.Orchestrator
	Queue        *memory.Queue
}

// New builds the application from the global Viper state: logger, headless
// browser, rate limiter, capture store, job tracker, test-crawl manager,
// and the orchestrator that binds them.
func New() (*App, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	metrics.Init()

	b, err := browser.NewChromedp(browser.Config{
		MaxPages:          cfg.Browser.MaxPages,
		UserAgent:         cfg.Browser.UserAgent,
		NavigationTimeout: cfg.Browser.NavigationTimeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	ids := uuid.NewGenerator()
	clock := system.New()
	limiter := ratelimit.New(cfg.Downloads.MinDelay)

	st, err := store.New(store.Config{BaseDir: cfg.Storage.CapturesDir}, ids, clock, logger)
	if err != nil {
		return nil, fmt.Errorf("init capture store: %w", err)
	}
	if err := st.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize capture store: %w", err)
	}

	tracker := jobs.NewTracker(cfg.Jobs.MaxConcurrent, ids, clock, logger)
	discoveryCrawler := crawl.New(b, detect.New(logger), nil, logger)
	testCrawls := testcrawl.New(discoveryCrawler, ids, clock, logger)

	orchestrator := capture.New(b, tracker, st, limiter, testCrawls, capture.Config{
		TempDir:             cfg.Storage.TempDir,
		DownloadConcurrency: cfg.Downloads.Concurrency,
	}, logger)

	return &App{
		Config:       cfg,
		Logger:       logger,
		Browser:      b,
		Tracker:      tracker,
		Store:        st,
		TestCrawls:   testCrawls,
		Orchestrator: orchestrator,
		Queue:        memory.NewQueue(cfg.Jobs.QueueDepth),
	}, nil
}

// Close shuts down the browser and flushes the logger.
func (a *App) Close() {
	a.Orchestrator.Wait()
	a.Queue.Close()
	if err := a.Browser.Close(); err != nil {
		a.Logger.Warn("browser shutdown", zap.Error(err))
	}
	_ = a.Logger.Sync()
}
