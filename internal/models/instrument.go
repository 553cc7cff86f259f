// Package models defines the core domain entities: instruments, price
// samples, alerts, and event log entries.
package models

import (
	"errors"
	"fmt"
)

// Level is the severity assigned to an instrument's alerts.
type Level string

const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

// Valid reports whether l is one of the known severity levels.
func (l Level) Valid() bool {
	switch l {
	case LevelLow, LevelMedium, LevelHigh:
		return true
	}
	return false
}

// Instrument is a configured tradable symbol with its own alert threshold.
// Instruments are owned by configuration and read-only for the lifetime of a
// run; the fetcher and monitor never mutate them.
type Instrument struct {
	Symbol      string  `mapstructure:"symbol" json:"symbol"`
	DisplayName string  `mapstructure:"name" json:"name"`
	Source      string  `mapstructure:"source" json:"source"`
	Threshold   float64 `mapstructure:"threshold" json:"threshold"`
	Level       Level   `mapstructure:"level" json:"level"`
	Enabled     bool    `mapstructure:"enabled" json:"enabled"`
}

// Validate checks instrument field constraints.
func (i *Instrument) Validate() error {
	if i.Symbol == "" {
		return errors.New("instrument symbol must not be empty")
	}
	if i.DisplayName == "" {
		return fmt.Errorf("instrument %s: display name must not be empty", i.Symbol)
	}
	if i.Source == "" {
		return fmt.Errorf("instrument %s: source must not be empty", i.Symbol)
	}
	if i.Threshold <= 0.0 || i.Threshold > 1.0 {
		return fmt.Errorf("instrument %s: threshold must be in (0, 1], got %g", i.Symbol, i.Threshold)
	}
	if !i.Level.Valid() {
		return fmt.Errorf("instrument %s: level must be one of: low, medium, high", i.Symbol)
	}
	return nil
}
