// Package brain generates analysis text for alerts via the Gemini API.
//
// The rest of the system treats this as an opaque text-generation call: any
// failure maps to a fallback string, never to an error that could stall
// monitoring.
package brain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/kalyro/vigil/internal/logger"
	"github.com/kalyro/vigil/internal/models"
	"github.com/kalyro/vigil/internal/storage"
)

// Config holds the analyzer configuration.
type Config struct {
	APIKey        string
	BaseURL       string
	Model         string
	Timeout       time.Duration
	HistoryWindow time.Duration
	SimilarDays   int
}

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com"
	defaultModel   = "gemini-1.5-pro"

	// FallbackAnalysis is returned when analysis is disabled or fails.
	FallbackAnalysis = "AI analysis unavailable; review the price movement manually."
	// FallbackSummary is returned when report generation is disabled or fails.
	FallbackSummary = "Daily summary unavailable."
)

// Brain is the AI analysis engine. With no API key it stays in degraded mode
// and returns fallback text.
type Brain struct {
	apiKey        string
	baseURL       string
	model         string
	client        *http.Client
	store         *storage.Store
	historyWindow time.Duration
	similarDays   int
	log           *logger.Logger
}

// New creates an analyzer backed by store for historical context.
func New(store *storage.Store, cfg Config) *Brain {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = 24 * time.Hour
	}
	if cfg.SimilarDays <= 0 {
		cfg.SimilarDays = 30
	}
	return &Brain{
		apiKey:        cfg.APIKey,
		baseURL:       strings.TrimSuffix(cfg.BaseURL, "/"),
		model:         cfg.Model,
		client:        &http.Client{Timeout: cfg.Timeout},
		store:         store,
		historyWindow: cfg.HistoryWindow,
		similarDays:   cfg.SimilarDays,
		log:           logger.Named("brain"),
	}
}

// Available reports whether the analyzer has credentials to call upstream.
func (b *Brain) Available() bool {
	return b.apiKey != ""
}

// Analyze produces an analysis of the alert using recent price history and
// similar past events as context. Failures degrade to FallbackAnalysis.
func (b *Brain) Analyze(ctx context.Context, alert models.Alert) string {
	if !b.Available() {
		return FallbackAnalysis
	}

	prompt := fmt.Sprintf(`You are a professional financial analyst. Based on the following information, analyze the current market movement and write a concise report.

%s

Cover:
1. Likely causes of the move (technical, fundamental, sentiment)
2. Current trend direction and strength
3. Short- and medium-term outlook
4. Suggested stance (hold / buy / sell / wait)
5. Risk warnings

Write at least 200 words in clear, professional language. If similar past events are listed, compare against them.`, b.buildContext(alert))

	text, err := b.generate(ctx, prompt)
	if err != nil {
		b.log.Error("Analysis failed for %s: %v", alert.Symbol, err)
		return FallbackAnalysis
	}
	b.log.Info("Completed analysis for %s", alert.Symbol)
	return text
}

// DailySummary produces a market recap over the given samples. Failures
// degrade to FallbackSummary.
func (b *Brain) DailySummary(ctx context.Context, samples map[string]models.PriceSample) string {
	if !b.Available() {
		return FallbackSummary
	}

	symbols := make([]string, 0, len(samples))
	for symbol := range samples {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	var lines []string
	for _, symbol := range symbols {
		s := samples[symbol]
		lines = append(lines, fmt.Sprintf("%s: %.4f (change: %+.2f, source: %s)", symbol, s.Price, s.Change24h, s.Source))
	}

	prompt := fmt.Sprintf(`Based on the following market data, write today's market recap report.

Report date: %s
Watched instruments:
%s

Cover: overall market performance, per-instrument trend notes, key risks to
watch, an outlook for tomorrow, and a suggested strategy. Use Markdown,
roughly 300-500 words, and take a clear view.`,
		time.Now().Format("2006-01-02"), strings.Join(lines, "\n"))

	text, err := b.generate(ctx, prompt)
	if err != nil {
		b.log.Error("Daily summary failed: %v", err)
		return FallbackSummary
	}
	return text
}

// buildContext assembles the historical context block for an alert from the
// trailing price window and loosely similar past events.
func (b *Brain) buildContext(alert models.Alert) string {
	parts := []string{
		fmt.Sprintf("Time: %s", alert.TriggeredAt.Format("2006-01-02 15:04:05")),
		fmt.Sprintf("Instrument: %s (%s)", alert.DisplayName, alert.Symbol),
		fmt.Sprintf("Current price: %.4f", alert.CurrentPrice),
		fmt.Sprintf("Previous price: %.4f", alert.PreviousPrice),
		fmt.Sprintf("Volatility: %+.2f%%", alert.Volatility*100),
		fmt.Sprintf("Threshold: %.2f%%", alert.Threshold*100),
		fmt.Sprintf("Level: %s", alert.Level),
	}

	history, err := b.store.PriceHistory(alert.Symbol, b.historyWindow)
	if err != nil {
		b.log.Warn("Failed to load price history for %s: %v", alert.Symbol, err)
	} else if len(history) > 0 {
		n := len(history)
		if n > 10 {
			n = 10
		}
		low, high := history[0].Price, history[0].Price
		for _, p := range history[:n] {
			if p.Price < low {
				low = p.Price
			}
			if p.Price > high {
				high = p.Price
			}
		}
		parts = append(parts, fmt.Sprintf("\nRecent price range: %.4f - %.4f", low, high))
		if high > low {
			pos := (alert.CurrentPrice - low) / (high - low) * 100
			parts = append(parts, fmt.Sprintf("Position of current price within range: %.1f%%", pos))
		}
	}

	similar, err := b.store.SimilarEvents(alert.Symbol, alert.Volatility, b.similarDays)
	if err != nil {
		b.log.Warn("Failed to load similar events for %s: %v", alert.Symbol, err)
	} else if len(similar) > 0 {
		parts = append(parts, "\nSimilar past events:")
		for i, e := range similar {
			if i >= 3 {
				break
			}
			summary := e.Analysis
			if len(summary) > 80 {
				summary = summary[:80] + "..."
			}
			parts = append(parts, fmt.Sprintf("  %d. %s volatility %+.2f%% - %s",
				i+1, e.LoggedAt.Format("01-02 15:04"), e.Volatility*100, summary))
		}
	}

	return strings.Join(parts, "\n")
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []part `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (b *Brain) generate(ctx context.Context, prompt string) (string, error) {
	payload, err := json.Marshal(generateRequest{
		Contents: []content{{Parts: []part{{Text: prompt}}}},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	u := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", b.baseURL, b.model, b.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	var gr generateResponse
	if err := json.Unmarshal(body, &gr); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if gr.Error != nil {
		return "", fmt.Errorf("upstream error %d: %s", gr.Error.Code, gr.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if len(gr.Candidates) == 0 || len(gr.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("empty response")
	}
	return gr.Candidates[0].Content.Parts[0].Text, nil
}
