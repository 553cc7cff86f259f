package storage

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/kalyro/vigil/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testAlert(symbol string, volatility float64, triggeredAt time.Time) models.Alert {
	return models.Alert{
		ID:            uuid.NewString(),
		Symbol:        symbol,
		DisplayName:   "Test Instrument",
		CurrentPrice:  106,
		PreviousPrice: 100,
		Volatility:    volatility,
		Level:         models.LevelHigh,
		Threshold:     0.05,
		TriggeredAt:   triggeredAt,
	}
}

func TestStore_AppendPrice_AppendOnly(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()

	// Identical appends must produce two rows; the log never dedups.
	if err := s.AppendPrice("BTC/USDT", 65000, 1200, now); err != nil {
		t.Fatalf("AppendPrice: %v", err)
	}
	if err := s.AppendPrice("BTC/USDT", 65000, 1200, now); err != nil {
		t.Fatalf("AppendPrice: %v", err)
	}

	history, err := s.PriceHistory("BTC/USDT", time.Hour)
	if err != nil {
		t.Fatalf("PriceHistory: %v", err)
	}
	if len(history) != 2 {
		t.Errorf("got %d rows, want 2 (duplicates must not collapse)", len(history))
	}
}

func TestStore_PriceHistory_WindowAndOrder(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()

	for i, age := range []time.Duration{30 * time.Minute, 2 * time.Hour, 5 * time.Minute} {
		if err := s.AppendPrice("BTC/USDT", 65000+float64(i), 0, now.Add(-age)); err != nil {
			t.Fatalf("AppendPrice: %v", err)
		}
	}
	if err := s.AppendPrice("ETH/USDT", 3200, 0, now); err != nil {
		t.Fatalf("AppendPrice: %v", err)
	}

	history, err := s.PriceHistory("BTC/USDT", time.Hour)
	if err != nil {
		t.Fatalf("PriceHistory: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("got %d rows in window, want 2", len(history))
	}
	if !history[0].ObservedAt.After(history[1].ObservedAt) {
		t.Error("expected newest-first ordering")
	}
	for _, p := range history {
		if p.Symbol != "BTC/USDT" {
			t.Errorf("unexpected symbol %s in history", p.Symbol)
		}
	}
}

func TestStore_LastAlert(t *testing.T) {
	s := newTestStore(t)

	entry, err := s.LastAlert("BTC/USDT")
	if err != nil {
		t.Fatalf("LastAlert: %v", err)
	}
	if entry != nil {
		t.Fatal("expected nil entry for symbol with no events")
	}

	now := time.Now()
	older := testAlert("BTC/USDT", 0.06, now.Add(-time.Hour))
	newer := testAlert("BTC/USDT", 0.09, now)
	if err := s.AppendEvent(older, "older analysis", ""); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}
	if err := s.AppendEvent(newer, "newer analysis", "some news"); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}

	entry, err = s.LastAlert("BTC/USDT")
	if err != nil {
		t.Fatalf("LastAlert: %v", err)
	}
	if entry == nil {
		t.Fatal("expected an entry")
	}
	if entry.Volatility != 0.09 {
		t.Errorf("got volatility %f, want 0.09 (most recent)", entry.Volatility)
	}
	if entry.Analysis != "newer analysis" {
		t.Errorf("got analysis %q", entry.Analysis)
	}
	if entry.NewsSummary != "some news" {
		t.Errorf("got news summary %q", entry.NewsSummary)
	}
	if entry.Level != models.LevelHigh {
		t.Errorf("got level %s, want high", entry.Level)
	}
}

func TestStore_SimilarEvents(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()

	// 0.8 * |−0.10| = 0.08: events at |v| >= 0.08 qualify, including
	// opposite-signed ones.
	for _, v := range []float64{0.05, 0.079, 0.08, 0.12, -0.09} {
		if err := s.AppendEvent(testAlert("BTC/USDT", v, now.Add(-time.Hour)), "a", ""); err != nil {
			t.Fatalf("AppendEvent: %v", err)
		}
	}
	// Outside the day window.
	if err := s.AppendEvent(testAlert("BTC/USDT", 0.5, now.AddDate(0, 0, -40)), "old", ""); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}
	// Different symbol.
	if err := s.AppendEvent(testAlert("ETH/USDT", 0.5, now), "other", ""); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}

	events, err := s.SimilarEvents("BTC/USDT", -0.10, 30)
	if err != nil {
		t.Fatalf("SimilarEvents: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d similar events, want 3", len(events))
	}
	for _, e := range events {
		if e.Symbol != "BTC/USDT" {
			t.Errorf("unexpected symbol %s", e.Symbol)
		}
		if abs(e.Volatility) < 0.08 {
			t.Errorf("event with |volatility| %f below similarity floor", abs(e.Volatility))
		}
	}
}

func TestStore_SimilarEvents_CapAtFive(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()

	for i := 0; i < 8; i++ {
		a := testAlert("BTC/USDT", 0.10, now.Add(-time.Duration(i)*time.Minute))
		if err := s.AppendEvent(a, fmt.Sprintf("analysis %d", i), ""); err != nil {
			t.Fatalf("AppendEvent: %v", err)
		}
	}

	events, err := s.SimilarEvents("BTC/USDT", 0.10, 30)
	if err != nil {
		t.Fatalf("SimilarEvents: %v", err)
	}
	if len(events) != 5 {
		t.Fatalf("got %d events, want cap of 5", len(events))
	}
	for i := 1; i < len(events); i++ {
		if events[i].LoggedAt.After(events[i-1].LoggedAt) {
			t.Error("expected newest-first ordering")
		}
	}
}

func TestStore_AppendEvent_GeneratesIDWhenMissing(t *testing.T) {
	s := newTestStore(t)
	a := testAlert("BTC/USDT", 0.06, time.Now())
	a.ID = ""
	if err := s.AppendEvent(a, "x", ""); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}
	entry, err := s.LastAlert("BTC/USDT")
	if err != nil {
		t.Fatalf("LastAlert: %v", err)
	}
	if entry == nil || entry.ID == "" {
		t.Error("expected generated event ID")
	}
}

func TestStore_PurgeOlderThan(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()

	if err := s.AppendPrice("BTC/USDT", 65000, 0, now.AddDate(0, 0, -100)); err != nil {
		t.Fatalf("AppendPrice: %v", err)
	}
	if err := s.AppendPrice("BTC/USDT", 65000, 0, now); err != nil {
		t.Fatalf("AppendPrice: %v", err)
	}
	if err := s.AppendEvent(testAlert("BTC/USDT", 0.06, now.AddDate(0, 0, -100)), "old", ""); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}
	if err := s.AppendEvent(testAlert("BTC/USDT", 0.07, now), "recent", ""); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}

	if err := s.PurgeOlderThan(90); err != nil {
		t.Fatalf("PurgeOlderThan: %v", err)
	}

	history, _ := s.PriceHistory("BTC/USDT", 365*24*time.Hour)
	if len(history) != 1 {
		t.Errorf("got %d price rows after purge, want 1", len(history))
	}
	events, _ := s.SimilarEvents("BTC/USDT", 0.01, 365)
	if len(events) != 1 {
		t.Errorf("got %d events after purge, want 1", len(events))
	}
	if len(events) == 1 && events[0].Analysis != "recent" {
		t.Errorf("wrong event survived purge: %q", events[0].Analysis)
	}
}
