// Package monitor implements the stateful volatility decision engine.
package monitor

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/kalyro/vigil/internal/logger"
	"github.com/kalyro/vigil/internal/models"
	"github.com/kalyro/vigil/internal/storage"
)

// Config holds the alert-policy configuration.
type Config struct {
	// Cooldown is the minimum elapsed time between two alerts for the same
	// symbol, unless the escalation override applies.
	Cooldown time.Duration
	// SeedCooldown replays the last persisted alert time per symbol into the
	// in-memory cooldown state on startup, so a restart does not clear an
	// active cooldown window.
	SeedCooldown bool
}

// DefaultConfig returns the alert-policy defaults.
func DefaultConfig() Config {
	return Config{
		Cooldown:     30 * time.Minute,
		SeedCooldown: true,
	}
}

// Monitor owns the per-symbol state the alert policy depends on. The two
// maps are process-lifetime and touched only from Evaluate, which the
// scheduler runs once per cycle on a single goroutine; no other path may
// mutate them.
type Monitor struct {
	store       *storage.Store
	instruments map[string]models.Instrument
	config      Config

	lastPrice     map[string]float64
	lastAlertTime map[string]time.Time

	log *logger.Logger
}

// New creates a monitor for the given instruments. When SeedCooldown is set,
// the cooldown baseline is restored from the event log so restarts do not
// silently discard active windows.
func New(store *storage.Store, instruments []models.Instrument, cfg Config) *Monitor {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultConfig().Cooldown
	}

	m := &Monitor{
		store:         store,
		instruments:   make(map[string]models.Instrument, len(instruments)),
		config:        cfg,
		lastPrice:     make(map[string]float64),
		lastAlertTime: make(map[string]time.Time),
		log:           logger.Named("monitor"),
	}
	for _, inst := range instruments {
		m.instruments[inst.Symbol] = inst
	}

	if cfg.SeedCooldown {
		m.seedCooldown()
	}
	return m
}

func (m *Monitor) seedCooldown() {
	seeded := 0
	for symbol := range m.instruments {
		entry, err := m.store.LastAlert(symbol)
		if err != nil {
			m.log.Warn("Failed to seed cooldown for %s: %v", symbol, err)
			continue
		}
		if entry != nil {
			m.lastAlertTime[symbol] = entry.LoggedAt
			seeded++
		}
	}
	if seeded > 0 {
		m.log.Info("Seeded cooldown state for %d symbols from event log", seeded)
	}
}

// Evaluate runs one evaluation pass over a batch of fresh samples and
// returns the alerts that fired. Every sample is appended to the store
// exactly once per call, whether or not it triggered an alert, and lastPrice
// is advanced for every sample. A failure on one symbol is logged and skips
// only that symbol.
func (m *Monitor) Evaluate(samples map[string]models.PriceSample) []models.Alert {
	var alerts []models.Alert

	for symbol, sample := range samples {
		alert, err := m.evaluateSymbol(symbol, sample)
		if err != nil {
			m.log.Error("Failed to evaluate %s: %v", symbol, err)
			continue
		}
		if alert != nil {
			alerts = append(alerts, *alert)
		}
	}

	return alerts
}

func (m *Monitor) evaluateSymbol(symbol string, sample models.PriceSample) (*models.Alert, error) {
	previous, seen := m.lastPrice[symbol]
	if !seen {
		// First observation after startup: baseline against itself so a cold
		// start never fires a false alert.
		previous = sample.Price
	}

	volatility := Volatility(sample.Price, previous)

	var alert *models.Alert
	inst, watched := m.instruments[symbol]
	if watched && math.Abs(volatility) >= inst.Threshold {
		suppressed, err := m.inCooldown(symbol, volatility)
		if err != nil {
			return nil, fmt.Errorf("cooldown lookup: %w", err)
		}
		if !suppressed {
			now := time.Now()
			alert = &models.Alert{
				ID:            uuid.NewString(),
				Symbol:        symbol,
				DisplayName:   inst.DisplayName,
				CurrentPrice:  sample.Price,
				PreviousPrice: previous,
				Volatility:    volatility,
				Level:         inst.Level,
				Threshold:     inst.Threshold,
				TriggeredAt:   now,
			}
			m.lastAlertTime[symbol] = now
			m.log.Info("Alert: %s moved %+.2f%% (%.4f -> %.4f, threshold %.2f%%)",
				symbol, volatility*100, previous, sample.Price, inst.Threshold*100)
		} else {
			m.log.Debug("Suppressed %s: %+.2f%% within cooldown", symbol, volatility*100)
		}
	}

	// The decision above is already made in-memory; a failed append loses
	// monitoring data but never blocks alerting.
	m.lastPrice[symbol] = sample.Price
	if err := m.store.AppendPrice(symbol, sample.Price, sample.Volume24h, sample.ObservedAt); err != nil {
		m.log.Warn("Failed to persist sample for %s: %v", symbol, err)
	}

	return alert, nil
}

// inCooldown reports whether an alert for symbol must be suppressed. The
// escalation override fires regardless of elapsed time when the new move is
// at least double the magnitude of the last recorded event, so a rapidly
// worsening move is never silenced by a stale window.
func (m *Monitor) inCooldown(symbol string, volatility float64) (bool, error) {
	lastEvent, err := m.store.LastAlert(symbol)
	if err != nil {
		return false, err
	}
	if lastEvent == nil {
		return false, nil
	}

	if math.Abs(volatility) >= 2*math.Abs(lastEvent.Volatility) {
		return false, nil
	}

	lastAt, ok := m.lastAlertTime[symbol]
	if !ok {
		return false, nil
	}
	return time.Since(lastAt) < m.config.Cooldown, nil
}

// ResetCooldown clears the in-process cooldown window for symbol so the next
// qualifying move fires immediately.
func (m *Monitor) ResetCooldown(symbol string) {
	delete(m.lastAlertTime, symbol)
}

// Volatility returns the signed fractional price change between two
// observations. Defined as 0 when the baseline is 0.
func Volatility(current, previous float64) float64 {
	if previous == 0 {
		return 0
	}
	return (current - previous) / previous
}
