package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/kalyro/vigil/internal/brain"
	"github.com/kalyro/vigil/internal/config"
	"github.com/kalyro/vigil/internal/fetcher"
	"github.com/kalyro/vigil/internal/logger"
	"github.com/kalyro/vigil/internal/models"
	"github.com/kalyro/vigil/internal/monitor"
	"github.com/kalyro/vigil/internal/storage"
	"github.com/kalyro/vigil/internal/telegram"
)

var (
	configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")
	envPath    = flag.String("env", "", "Optional .env file loaded before the config")
)

func main() {
	flag.Parse()

	if *envPath != "" {
		if err := godotenv.Load(*envPath); err != nil {
			log.Fatalf("Failed to load env file: %v", err)
		}
	} else {
		_ = godotenv.Load() // best effort: a local .env is optional
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Configuration loaded from %s", *configPath)

	instruments := cfg.EnabledInstruments()
	if len(instruments) == 0 {
		logger.Fatal("No enabled instruments to watch")
	}

	store, err := storage.New(cfg.Storage.DBPath)
	if err != nil {
		logger.Fatal("Failed to initialize storage: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}()

	fetch, err := fetcher.New(fetcher.Config{
		Timeout:         cfg.Sources.Timeout,
		MaxRetries:      cfg.Sources.MaxRetries,
		RetryDelayBase:  cfg.Sources.RetryDelayBase,
		BlockingWorkers: cfg.Sources.BlockingWorkers,
	})
	if err != nil {
		logger.Fatal("Failed to initialize fetcher: %v", err)
	}
	defer fetch.Close()

	mon := monitor.New(store, instruments, monitor.Config{
		Cooldown:     cfg.Monitor.Cooldown,
		SeedCooldown: cfg.Monitor.SeedCooldown,
	})

	analyzer := brain.New(store, brain.Config{
		APIKey:        cfg.Brain.APIKey,
		BaseURL:       cfg.Brain.BaseURL,
		Model:         cfg.Brain.Model,
		Timeout:       cfg.Brain.Timeout,
		HistoryWindow: time.Duration(cfg.Brain.HistoryHrs) * time.Hour,
		SimilarDays:   cfg.Brain.SimilarDays,
	})
	if !analyzer.Available() {
		logger.Warn("No AI API key configured; alerts will carry fallback analysis text")
	}

	var notifier *telegram.Client
	if cfg.Telegram.Enabled {
		notifier, err = telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase)
		if err != nil {
			logger.Fatal("Failed to initialize Telegram client: %v", err)
		}
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Warn("Telegram notifications disabled; alerts are logged only")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, cleaning up...")
		cancel()
	}()

	startedAt := time.Now()
	if notifier != nil {
		notifier.SetStatusFunc(func() string {
			return fmt.Sprintf("Watching %d instruments, up since %s",
				len(instruments), startedAt.Format("2006-01-02 15:04:05"))
		})
		notifier.ListenForCommands(ctx)
	}

	logger.Info("Starting monitoring service (interval: %v, cooldown: %v, instruments: %d)",
		cfg.Monitor.PollInterval, cfg.Monitor.Cooldown, len(instruments))

	app := &app{
		cfg:         cfg,
		instruments: instruments,
		fetch:       fetch,
		mon:         mon,
		store:       store,
		analyzer:    analyzer,
		notifier:    notifier,
	}

	ticker := time.NewTicker(cfg.Monitor.PollInterval)
	defer ticker.Stop()

	consecutiveFailures := 0
	handleCycleResult := func(err error) {
		if err != nil {
			consecutiveFailures++
			logger.Error("Monitoring cycle failed: %v", err)
			if consecutiveFailures == 1 && notifier != nil {
				if sendErr := notifier.SendError(err); sendErr != nil {
					logger.Warn("Failed to send error notification: %v", sendErr)
				}
			}
		} else {
			if consecutiveFailures > 0 && notifier != nil {
				if sendErr := notifier.SendRecovery(consecutiveFailures); sendErr != nil {
					logger.Warn("Failed to send recovery notification: %v", sendErr)
				}
			}
			consecutiveFailures = 0
		}
	}

	logger.Debug("Running initial monitoring cycle")
	handleCycleResult(app.runCycle(ctx))

	for {
		select {
		case <-ctx.Done():
			logger.Info("Service stopped")
			return

		case <-ticker.C:
			logger.Debug("Starting scheduled monitoring cycle")
			handleCycleResult(app.runCycle(ctx))
			app.maybeDailyReport(ctx)
			app.maybePurge()
		}
	}
}

// app wires the per-cycle collaborators together. The scheduler drives it
// from a single goroutine; phases within a cycle are strictly sequential.
type app struct {
	cfg         *config.Config
	instruments []models.Instrument
	fetch       *fetcher.Fetcher
	mon         *monitor.Monitor
	store       *storage.Store
	analyzer    *brain.Brain
	notifier    *telegram.Client

	lastDailyReport time.Time
	lastPurge       time.Time
}

// runCycle runs one fetch-then-evaluate pass. A cycle only counts as failed
// when no instrument produced data at all; partial results are normal.
func (a *app) runCycle(ctx context.Context) error {
	startTime := time.Now()
	logger.Info("Starting monitoring cycle")

	samples := a.fetch.FetchAll(ctx, a.instruments)
	if len(samples) == 0 {
		return fmt.Errorf("no samples fetched for %d instruments", len(a.instruments))
	}
	if len(samples) < len(a.instruments) {
		logger.Warn("Fetched %d/%d instruments this cycle", len(samples), len(a.instruments))
	} else {
		logger.Debug("Fetched all %d instruments", len(samples))
	}

	alerts := a.mon.Evaluate(samples)
	if len(alerts) > 0 {
		logger.Info("Detected %d volatility alerts", len(alerts))
		for _, alert := range alerts {
			a.handleAlert(ctx, alert)
		}
	}

	logger.Info("Monitoring cycle completed in %v", time.Since(startTime))
	return nil
}

// handleAlert runs the analyze -> notify -> persist pipeline for one alert.
// Each stage degrades independently; a collaborator failure never drops the
// event log entry.
func (a *app) handleAlert(ctx context.Context, alert models.Alert) {
	logger.Info("Handling alert: %s moved %+.2f%%", alert.Symbol, alert.Volatility*100)

	analysis := a.analyzer.Analyze(ctx, alert)

	if a.notifier != nil {
		if err := a.notifier.SendAlert(alert, analysis); err != nil {
			logger.Error("Failed to send alert notification for %s: %v", alert.Symbol, err)
		}
	}

	if err := a.store.AppendEvent(alert, analysis, ""); err != nil {
		logger.Error("Failed to persist event for %s: %v", alert.Symbol, err)
	}
}

// maybeDailyReport sends the daily recap once per day after the configured
// local time-of-day.
func (a *app) maybeDailyReport(ctx context.Context) {
	now := time.Now()
	hour, minute := a.cfg.DailyReportAt()
	reportAt := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())

	if now.Before(reportAt) {
		return
	}
	if !a.lastDailyReport.IsZero() && sameDay(a.lastDailyReport, now) {
		return
	}

	logger.Info("Generating daily report")
	samples := a.fetch.FetchAll(ctx, a.instruments)
	if len(samples) == 0 {
		logger.Warn("Skipping daily report: no samples fetched")
		return
	}

	report := a.analyzer.DailySummary(ctx, samples)
	if a.notifier != nil {
		if err := a.notifier.SendDailyReport(report); err != nil {
			logger.Error("Failed to send daily report: %v", err)
			return
		}
	}
	a.lastDailyReport = now
	logger.Info("Daily report sent")
}

// maybePurge trims old rows from both logs once a day.
func (a *app) maybePurge() {
	if !a.lastPurge.IsZero() && time.Since(a.lastPurge) < 24*time.Hour {
		return
	}
	if err := a.store.PurgeOlderThan(a.cfg.Storage.RetentionDays); err != nil {
		logger.Warn("Failed to purge old data: %v", err)
		return
	}
	a.lastPurge = time.Now()
	logger.Debug("Purged data older than %d days", a.cfg.Storage.RetentionDays)
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
