package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kalyro/vigil/internal/models"
)

// SourceYahoo identifies the Yahoo Finance chart source for traditional
// instruments (stocks, commodities, indices).
const SourceYahoo = "yahoo"

// YahooAdapter fetches daily candles from the Yahoo Finance chart API.
//
// Unlike exchange tickers there is no rolling 24h change for these
// instruments: the change is computed from the two most recent daily closes
// when both are available, else from the single day's open vs close. It is a
// daily metric, not comparable to the exchanges' rolling figure.
type YahooAdapter struct {
	baseURL        string
	client         *http.Client
	maxRetries     int
	retryDelayBase time.Duration
}

const defaultYahooBaseURL = "https://query1.finance.yahoo.com"

// NewYahooAdapter creates a Yahoo Finance chart adapter. An empty baseURL
// selects the public endpoint.
func NewYahooAdapter(baseURL string, timeout time.Duration, maxRetries int, retryDelayBase time.Duration) *YahooAdapter {
	if baseURL == "" {
		baseURL = defaultYahooBaseURL
	}
	return &YahooAdapter{
		baseURL:        strings.TrimSuffix(baseURL, "/"),
		client:         &http.Client{Timeout: timeout},
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}
}

// Blocking reports that this source must be isolated on the worker pool so a
// slow call cannot stall the rest of the batch.
func (a *YahooAdapter) Blocking() bool { return true }

// Close releases idle upstream connections.
func (a *YahooAdapter) Close() {
	a.client.CloseIdleConnections()
}

type yahooChart struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*float64 `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// Fetch retrieves the two most recent daily candles for inst.Symbol
// (Yahoo notation, e.g. "GC=F" or "^GSPC").
func (a *YahooAdapter) Fetch(ctx context.Context, inst models.Instrument) (models.PriceSample, error) {
	u := fmt.Sprintf("%s/v8/finance/chart/%s?range=2d&interval=1d", a.baseURL, url.PathEscape(inst.Symbol))
	body, err := httpGet(ctx, a.client, u, a.maxRetries, a.retryDelayBase)
	if err != nil {
		return models.PriceSample{}, fmt.Errorf("yahoo %s: %w", inst.Symbol, err)
	}

	var chart yahooChart
	if err := json.Unmarshal(body, &chart); err != nil {
		return models.PriceSample{}, fmt.Errorf("yahoo %s: failed to decode chart: %w", inst.Symbol, err)
	}
	if chart.Chart.Error != nil {
		return models.PriceSample{}, fmt.Errorf("yahoo %s: %s", inst.Symbol, chart.Chart.Error.Description)
	}
	if len(chart.Chart.Result) == 0 || len(chart.Chart.Result[0].Indicators.Quote) == 0 {
		return models.PriceSample{}, fmt.Errorf("yahoo %s: empty payload", inst.Symbol)
	}

	q := chart.Chart.Result[0].Indicators.Quote[0]
	type candle struct {
		open, high, low, close, volume float64
	}
	var candles []candle
	for i := range q.Close {
		if q.Close[i] == nil {
			continue
		}
		c := candle{close: *q.Close[i]}
		if i < len(q.Open) && q.Open[i] != nil {
			c.open = *q.Open[i]
		}
		if i < len(q.High) && q.High[i] != nil {
			c.high = *q.High[i]
		}
		if i < len(q.Low) && q.Low[i] != nil {
			c.low = *q.Low[i]
		}
		if i < len(q.Volume) && q.Volume[i] != nil {
			c.volume = *q.Volume[i]
		}
		candles = append(candles, c)
	}
	if len(candles) == 0 {
		return models.PriceSample{}, fmt.Errorf("yahoo %s: no usable candles", inst.Symbol)
	}

	latest := candles[len(candles)-1]

	// With two daily closes the change is close-over-previous-close; with
	// only one day of data it degrades to open-vs-close of that day.
	var change float64
	if len(candles) >= 2 {
		prevClose := candles[len(candles)-2].close
		if prevClose != 0 {
			change = (latest.close - prevClose) / prevClose
		}
	} else if latest.open != 0 {
		change = (latest.close - latest.open) / latest.open
	}

	sample := models.PriceSample{
		Symbol:     inst.Symbol,
		Price:      latest.close,
		Change24h:  change,
		High24h:    latest.high,
		Low24h:     latest.low,
		Volume24h:  latest.volume,
		ObservedAt: time.Now(),
		Source:     SourceYahoo,
	}
	if err := sample.Validate(); err != nil {
		return models.PriceSample{}, fmt.Errorf("yahoo %s: %w", inst.Symbol, err)
	}
	return sample, nil
}
