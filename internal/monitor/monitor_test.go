package monitor

import (
	"math"
	"testing"
	"time"

	"github.com/kalyro/vigil/internal/models"
	"github.com/kalyro/vigil/internal/storage"
)

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testInstrument(symbol string, threshold float64) models.Instrument {
	return models.Instrument{
		Symbol:      symbol,
		DisplayName: symbol + " Test",
		Source:      "binance",
		Threshold:   threshold,
		Level:       models.LevelHigh,
		Enabled:     true,
	}
}

func sampleAt(symbol string, price float64) map[string]models.PriceSample {
	return map[string]models.PriceSample{
		symbol: {
			Symbol:     symbol,
			Price:      price,
			Volume24h:  100,
			ObservedAt: time.Now(),
			Source:     "binance",
		},
	}
}

func newTestMonitor(t *testing.T, s *storage.Store) *Monitor {
	t.Helper()
	return New(s, []models.Instrument{testInstrument("BTC/USDT", 0.05)}, Config{
		Cooldown:     30 * time.Minute,
		SeedCooldown: false,
	})
}

func TestVolatility(t *testing.T) {
	tests := []struct {
		name               string
		current, previous  float64
		want               float64
	}{
		{"upward move", 106, 100, 0.06},
		{"downward move", 94, 100, -0.06},
		{"no move", 100, 100, 0},
		{"zero baseline", 100, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Volatility(tt.current, tt.previous)
			if math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("Volatility(%v, %v) = %v, want %v", tt.current, tt.previous, got, tt.want)
			}
		})
	}
}

func TestEvaluate_FirstObservationNeverAlerts(t *testing.T) {
	s := newTestStore(t)
	m := newTestMonitor(t, s)

	alerts := m.Evaluate(sampleAt("BTC/USDT", 100))
	if len(alerts) != 0 {
		t.Fatalf("got %d alerts on first observation, want 0", len(alerts))
	}
	if m.lastPrice["BTC/USDT"] != 100 {
		t.Errorf("lastPrice not initialized: got %v", m.lastPrice["BTC/USDT"])
	}

	history, err := s.PriceHistory("BTC/USDT", time.Hour)
	if err != nil {
		t.Fatalf("PriceHistory: %v", err)
	}
	if len(history) != 1 {
		t.Errorf("got %d persisted samples, want 1", len(history))
	}
}

func TestEvaluate_ScenarioA_FirstAlertFires(t *testing.T) {
	s := newTestStore(t)
	m := newTestMonitor(t, s)

	m.Evaluate(sampleAt("BTC/USDT", 100))
	alerts := m.Evaluate(sampleAt("BTC/USDT", 106))
	if len(alerts) != 1 {
		t.Fatalf("got %d alerts, want 1", len(alerts))
	}
	a := alerts[0]
	if math.Abs(a.Volatility-0.06) > 1e-9 {
		t.Errorf("got volatility %v, want 0.06", a.Volatility)
	}
	if a.PreviousPrice != 100 || a.CurrentPrice != 106 {
		t.Errorf("got prices %v -> %v, want 100 -> 106", a.PreviousPrice, a.CurrentPrice)
	}
	if a.ID == "" {
		t.Error("expected alert ID to be set")
	}
	if a.Level != models.LevelHigh {
		t.Errorf("got level %s, want high", a.Level)
	}
}

func TestEvaluate_ScenarioB_BelowThresholdAdvancesBaseline(t *testing.T) {
	s := newTestStore(t)
	m := newTestMonitor(t, s)

	m.Evaluate(sampleAt("BTC/USDT", 100))
	m.Evaluate(sampleAt("BTC/USDT", 106))

	// +2.83% against the new baseline 106: below threshold, no alert, but
	// the baseline still advances.
	alerts := m.Evaluate(sampleAt("BTC/USDT", 109))
	if len(alerts) != 0 {
		t.Fatalf("got %d alerts, want 0", len(alerts))
	}
	if m.lastPrice["BTC/USDT"] != 109 {
		t.Errorf("lastPrice = %v, want 109", m.lastPrice["BTC/USDT"])
	}
}

func TestEvaluate_ScenarioC_CooldownSuppresses(t *testing.T) {
	s := newTestStore(t)
	m := newTestMonitor(t, s)

	m.Evaluate(sampleAt("BTC/USDT", 100))
	first := m.Evaluate(sampleAt("BTC/USDT", 106))
	if len(first) != 1 {
		t.Fatalf("setup: got %d alerts, want 1", len(first))
	}
	if err := s.AppendEvent(first[0], "analysis", ""); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}
	m.Evaluate(sampleAt("BTC/USDT", 109))

	// -10.09% from 109 exceeds the threshold but not 2x the stored 6%
	// baseline (0.1009 < 0.12), and the window is still open.
	alerts := m.Evaluate(sampleAt("BTC/USDT", 98))
	if len(alerts) != 0 {
		t.Fatalf("got %d alerts inside cooldown window, want 0", len(alerts))
	}
	if m.lastPrice["BTC/USDT"] != 98 {
		t.Errorf("lastPrice = %v, want 98 (updated even when suppressed)", m.lastPrice["BTC/USDT"])
	}
}

func TestEvaluate_ScenarioD_EscalationOverridesCooldown(t *testing.T) {
	s := newTestStore(t)
	m := newTestMonitor(t, s)

	m.Evaluate(sampleAt("BTC/USDT", 100))
	first := m.Evaluate(sampleAt("BTC/USDT", 106))
	if len(first) != 1 {
		t.Fatalf("setup: got %d alerts, want 1", len(first))
	}
	if err := s.AppendEvent(first[0], "analysis", ""); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}
	m.Evaluate(sampleAt("BTC/USDT", 109))

	// -13% from 109: |−0.13| >= 2 * 0.06, so the doubling override fires
	// through the active window.
	alerts := m.Evaluate(sampleAt("BTC/USDT", 94.83))
	if len(alerts) != 1 {
		t.Fatalf("got %d alerts, want 1 (escalation override)", len(alerts))
	}
	if alerts[0].Volatility >= 0 {
		t.Errorf("got volatility %v, want negative", alerts[0].Volatility)
	}
}

func TestEvaluate_ThresholdOnAbsoluteValue(t *testing.T) {
	s := newTestStore(t)
	m := newTestMonitor(t, s)

	m.Evaluate(sampleAt("BTC/USDT", 100))
	down := m.Evaluate(sampleAt("BTC/USDT", 94.9)) // -5.1%
	if len(down) != 1 {
		t.Fatalf("got %d alerts for -5.1%%, want 1", len(down))
	}

	m2 := newTestMonitor(t, newTestStore(t))
	m2.Evaluate(sampleAt("BTC/USDT", 100))
	up := m2.Evaluate(sampleAt("BTC/USDT", 105.1)) // +5.1%
	if len(up) != 1 {
		t.Fatalf("got %d alerts for +5.1%%, want 1", len(up))
	}
}

func TestEvaluate_NoEventHistoryMeansNoCooldown(t *testing.T) {
	s := newTestStore(t)
	m := newTestMonitor(t, s)

	m.Evaluate(sampleAt("BTC/USDT", 100))
	first := m.Evaluate(sampleAt("BTC/USDT", 106))
	if len(first) != 1 {
		t.Fatalf("setup: got %d alerts, want 1", len(first))
	}

	// The first alert was never written to the event log, so the cooldown
	// baseline does not exist and the next qualifying move fires straight
	// through the window.
	second := m.Evaluate(sampleAt("BTC/USDT", 112.4)) // +6.04% from 106
	if len(second) != 1 {
		t.Fatalf("got %d alerts without event history, want 1", len(second))
	}
}

func TestEvaluate_UnwatchedSymbolPersistsWithoutAlerting(t *testing.T) {
	s := newTestStore(t)
	m := newTestMonitor(t, s)

	m.Evaluate(sampleAt("DOGE/USDT", 0.10))
	alerts := m.Evaluate(sampleAt("DOGE/USDT", 0.20)) // +100%, but not configured
	if len(alerts) != 0 {
		t.Fatalf("got %d alerts for unwatched symbol, want 0", len(alerts))
	}
	history, err := s.PriceHistory("DOGE/USDT", time.Hour)
	if err != nil {
		t.Fatalf("PriceHistory: %v", err)
	}
	if len(history) != 2 {
		t.Errorf("got %d persisted samples, want 2", len(history))
	}
}

func TestEvaluate_AppendsExactlyOncePerSample(t *testing.T) {
	s := newTestStore(t)
	m := newTestMonitor(t, s)

	m.Evaluate(sampleAt("BTC/USDT", 100))
	m.Evaluate(sampleAt("BTC/USDT", 106)) // alert fires
	m.Evaluate(sampleAt("BTC/USDT", 107)) // no alert

	history, err := s.PriceHistory("BTC/USDT", time.Hour)
	if err != nil {
		t.Fatalf("PriceHistory: %v", err)
	}
	if len(history) != 3 {
		t.Errorf("got %d rows, want 3 (one per evaluation, alert or not)", len(history))
	}
}

func TestEvaluate_StoreFailureSkipsOnlyThatSymbol(t *testing.T) {
	s, err := storage.New(":memory:")
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	m := New(s, []models.Instrument{
		testInstrument("BTC/USDT", 0.05),
		testInstrument("ETH/USDT", 0.05),
	}, Config{Cooldown: 30 * time.Minute})

	m.Evaluate(map[string]models.PriceSample{
		"BTC/USDT": sampleAt("BTC/USDT", 100)["BTC/USDT"],
		"ETH/USDT": sampleAt("ETH/USDT", 3000)["ETH/USDT"],
	})

	_ = s.Close()

	// BTC crosses its threshold and needs a cooldown lookup, which now
	// fails: that symbol is skipped. ETH stays below threshold and still
	// advances its baseline.
	alerts := m.Evaluate(map[string]models.PriceSample{
		"BTC/USDT": sampleAt("BTC/USDT", 110)["BTC/USDT"],
		"ETH/USDT": sampleAt("ETH/USDT", 3010)["ETH/USDT"],
	})
	if len(alerts) != 0 {
		t.Fatalf("got %d alerts with store closed, want 0", len(alerts))
	}
	if m.lastPrice["BTC/USDT"] != 100 {
		t.Errorf("skipped symbol's baseline moved: got %v, want 100", m.lastPrice["BTC/USDT"])
	}
	if m.lastPrice["ETH/USDT"] != 3010 {
		t.Errorf("healthy symbol's baseline did not move: got %v, want 3010", m.lastPrice["ETH/USDT"])
	}
}

func TestNew_SeedsCooldownFromEventLog(t *testing.T) {
	s := newTestStore(t)
	m := newTestMonitor(t, s)

	m.Evaluate(sampleAt("BTC/USDT", 100))
	first := m.Evaluate(sampleAt("BTC/USDT", 106))
	if len(first) != 1 {
		t.Fatalf("setup: got %d alerts, want 1", len(first))
	}
	if err := s.AppendEvent(first[0], "analysis", ""); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}

	// Simulated restart with seeding: the persisted alert time re-arms the
	// in-memory window, so a qualifying-but-not-escalated move stays quiet.
	seeded := New(s, []models.Instrument{testInstrument("BTC/USDT", 0.05)}, Config{
		Cooldown:     30 * time.Minute,
		SeedCooldown: true,
	})
	seeded.Evaluate(sampleAt("BTC/USDT", 106))
	alerts := seeded.Evaluate(sampleAt("BTC/USDT", 112.4)) // +6.04%, < 2x baseline
	if len(alerts) != 0 {
		t.Fatalf("got %d alerts after seeded restart, want 0", len(alerts))
	}

	// Without seeding the restart clears the window and the same move fires.
	unseeded := New(s, []models.Instrument{testInstrument("BTC/USDT", 0.05)}, Config{
		Cooldown:     30 * time.Minute,
		SeedCooldown: false,
	})
	unseeded.Evaluate(sampleAt("BTC/USDT", 106))
	alerts = unseeded.Evaluate(sampleAt("BTC/USDT", 112.4))
	if len(alerts) != 1 {
		t.Fatalf("got %d alerts after unseeded restart, want 1", len(alerts))
	}
}

func TestResetCooldown(t *testing.T) {
	s := newTestStore(t)
	m := newTestMonitor(t, s)

	m.Evaluate(sampleAt("BTC/USDT", 100))
	first := m.Evaluate(sampleAt("BTC/USDT", 106))
	if len(first) != 1 {
		t.Fatalf("setup: got %d alerts, want 1", len(first))
	}
	if err := s.AppendEvent(first[0], "analysis", ""); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}

	suppressed := m.Evaluate(sampleAt("BTC/USDT", 112.4)) // +6.04%, inside window
	if len(suppressed) != 0 {
		t.Fatalf("setup: got %d alerts, want 0", len(suppressed))
	}

	m.ResetCooldown("BTC/USDT")
	alerts := m.Evaluate(sampleAt("BTC/USDT", 119.2)) // +6.05% from 112.4
	if len(alerts) != 1 {
		t.Fatalf("got %d alerts after reset, want 1", len(alerts))
	}
}
