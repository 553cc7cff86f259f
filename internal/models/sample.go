package models

import (
	"errors"
	"fmt"
	"time"
)

// PriceSample is one observation of an instrument produced by a source
// adapter. Immutable after creation; one per (symbol, fetch cycle).
//
// Change24h holds whatever daily-change metric the upstream reports: for
// exchange sources it is the venue's rolling 24h percentage, for market-data
// sources it is the close-over-previous-close daily change. The two are
// normalized into the same field but are not numerically comparable across
// instrument classes.
type PriceSample struct {
	Symbol     string    `json:"symbol"`
	Price      float64   `json:"price"`
	Change24h  float64   `json:"change_24h"`
	High24h    float64   `json:"high_24h"`
	Low24h     float64   `json:"low_24h"`
	Volume24h  float64   `json:"volume_24h"`
	ObservedAt time.Time `json:"observed_at"`
	Source     string    `json:"source"`
}

// Validate checks sample field constraints at the adapter boundary.
// A non-positive price is tolerated (some venues report zero during halts);
// structural fields are not.
func (s *PriceSample) Validate() error {
	if s.Symbol == "" {
		return errors.New("sample symbol must not be empty")
	}
	if s.Source == "" {
		return fmt.Errorf("sample %s: source must not be empty", s.Symbol)
	}
	if s.Volume24h < 0 {
		return fmt.Errorf("sample %s: volume must not be negative", s.Symbol)
	}
	if s.ObservedAt.IsZero() {
		return fmt.Errorf("sample %s: observation timestamp must be set", s.Symbol)
	}
	return nil
}

// Alert is a triggered volatility event. Created exclusively by the monitor
// inside one evaluation pass and never mutated after creation. Volatility is
// a signed fraction (0.07 = +7%).
type Alert struct {
	ID            string    `json:"id"`
	Symbol        string    `json:"symbol"`
	DisplayName   string    `json:"name"`
	CurrentPrice  float64   `json:"current_price"`
	PreviousPrice float64   `json:"previous_price"`
	Volatility    float64   `json:"volatility"`
	Level         Level     `json:"level"`
	Threshold     float64   `json:"threshold"`
	TriggeredAt   time.Time `json:"triggered_at"`
}

// EventLogEntry is the persisted outcome of an analyzed alert. Append-only;
// used as the cooldown baseline lookup and for similar-event search.
type EventLogEntry struct {
	ID          string    `json:"id"`
	Symbol      string    `json:"symbol"`
	Price       float64   `json:"price"`
	Volatility  float64   `json:"volatility"`
	Level       Level     `json:"level"`
	Analysis    string    `json:"analysis"`
	NewsSummary string    `json:"news_summary"`
	LoggedAt    time.Time `json:"logged_at"`
}
