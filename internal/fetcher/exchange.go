package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kalyro/vigil/internal/models"
)

// Supported exchange source identifiers.
const (
	SourceBinance = "binance"
	SourceOKX     = "okx"
	SourceBybit   = "bybit"
)

// ExchangeAdapter fetches spot tickers from a centralized exchange's public
// REST API. Exchange tickers carry the venue's own rolling 24h percentage
// change, which lands in PriceSample.Change24h as-is.
type ExchangeAdapter struct {
	exchange       string
	baseURL        string
	client         *http.Client
	maxRetries     int
	retryDelayBase time.Duration
}

var exchangeBaseURLs = map[string]string{
	SourceBinance: "https://api.binance.com",
	SourceOKX:     "https://www.okx.com",
	SourceBybit:   "https://api.bybit.com",
}

// NewExchangeAdapter creates an adapter for one of the supported exchanges.
// An empty baseURL selects the exchange's public endpoint.
func NewExchangeAdapter(exchange, baseURL string, timeout time.Duration, maxRetries int, retryDelayBase time.Duration) (*ExchangeAdapter, error) {
	exchange = strings.ToLower(exchange)
	def, ok := exchangeBaseURLs[exchange]
	if !ok {
		return nil, fmt.Errorf("unsupported exchange: %s", exchange)
	}
	if baseURL == "" {
		baseURL = def
	}
	return &ExchangeAdapter{
		exchange:       exchange,
		baseURL:        strings.TrimSuffix(baseURL, "/"),
		client:         &http.Client{Timeout: timeout},
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}, nil
}

// Blocking reports that exchange tickers are fast enough to run on the
// caller's goroutine.
func (a *ExchangeAdapter) Blocking() bool { return false }

// Close releases idle upstream connections.
func (a *ExchangeAdapter) Close() {
	a.client.CloseIdleConnections()
}

// Fetch retrieves the current spot ticker for inst.Symbol (slash notation,
// e.g. "BTC/USDT").
func (a *ExchangeAdapter) Fetch(ctx context.Context, inst models.Instrument) (models.PriceSample, error) {
	var (
		sample models.PriceSample
		err    error
	)
	switch a.exchange {
	case SourceBinance:
		sample, err = a.fetchBinance(ctx, inst.Symbol)
	case SourceOKX:
		sample, err = a.fetchOKX(ctx, inst.Symbol)
	case SourceBybit:
		sample, err = a.fetchBybit(ctx, inst.Symbol)
	default:
		return models.PriceSample{}, fmt.Errorf("unsupported exchange: %s", a.exchange)
	}
	if err != nil {
		return models.PriceSample{}, fmt.Errorf("%s %s: %w", a.exchange, inst.Symbol, err)
	}
	if err := sample.Validate(); err != nil {
		return models.PriceSample{}, fmt.Errorf("%s %s: %w", a.exchange, inst.Symbol, err)
	}
	return sample, nil
}

type binanceTicker struct {
	LastPrice          string `json:"lastPrice"`
	PriceChangePercent string `json:"priceChangePercent"`
	HighPrice          string `json:"highPrice"`
	LowPrice           string `json:"lowPrice"`
	Volume             string `json:"volume"`
}

func (a *ExchangeAdapter) fetchBinance(ctx context.Context, symbol string) (models.PriceSample, error) {
	u := fmt.Sprintf("%s/api/v3/ticker/24hr?symbol=%s", a.baseURL, url.QueryEscape(strings.ReplaceAll(symbol, "/", "")))
	body, err := httpGet(ctx, a.client, u, a.maxRetries, a.retryDelayBase)
	if err != nil {
		return models.PriceSample{}, err
	}
	var t binanceTicker
	if err := json.Unmarshal(body, &t); err != nil {
		return models.PriceSample{}, fmt.Errorf("failed to decode ticker: %w", err)
	}
	price, err := strconv.ParseFloat(t.LastPrice, 64)
	if err != nil || price == 0 {
		return models.PriceSample{}, fmt.Errorf("empty payload for %s", symbol)
	}
	return models.PriceSample{
		Symbol:     symbol,
		Price:      price,
		Change24h:  parseFloat(t.PriceChangePercent),
		High24h:    parseFloat(t.HighPrice),
		Low24h:     parseFloat(t.LowPrice),
		Volume24h:  parseFloat(t.Volume),
		ObservedAt: time.Now(),
		Source:     a.exchange,
	}, nil
}

type okxTicker struct {
	Data []struct {
		Last    string `json:"last"`
		Open24h string `json:"open24h"`
		High24h string `json:"high24h"`
		Low24h  string `json:"low24h"`
		Vol24h  string `json:"vol24h"`
	} `json:"data"`
}

func (a *ExchangeAdapter) fetchOKX(ctx context.Context, symbol string) (models.PriceSample, error) {
	instID := strings.ReplaceAll(symbol, "/", "-")
	u := fmt.Sprintf("%s/api/v5/market/ticker?instId=%s", a.baseURL, url.QueryEscape(instID))
	body, err := httpGet(ctx, a.client, u, a.maxRetries, a.retryDelayBase)
	if err != nil {
		return models.PriceSample{}, err
	}
	var t okxTicker
	if err := json.Unmarshal(body, &t); err != nil {
		return models.PriceSample{}, fmt.Errorf("failed to decode ticker: %w", err)
	}
	if len(t.Data) == 0 {
		return models.PriceSample{}, fmt.Errorf("empty payload for %s", symbol)
	}
	d := t.Data[0]
	price := parseFloat(d.Last)
	if price == 0 {
		return models.PriceSample{}, fmt.Errorf("empty payload for %s", symbol)
	}
	open := parseFloat(d.Open24h)
	var changePct float64
	if open != 0 {
		changePct = (price - open) / open * 100
	}
	return models.PriceSample{
		Symbol:     symbol,
		Price:      price,
		Change24h:  changePct,
		High24h:    parseFloat(d.High24h),
		Low24h:     parseFloat(d.Low24h),
		Volume24h:  parseFloat(d.Vol24h),
		ObservedAt: time.Now(),
		Source:     a.exchange,
	}, nil
}

type bybitTicker struct {
	Result struct {
		List []struct {
			LastPrice    string `json:"lastPrice"`
			Price24hPcnt string `json:"price24hPcnt"`
			HighPrice24h string `json:"highPrice24h"`
			LowPrice24h  string `json:"lowPrice24h"`
			Volume24h    string `json:"volume24h"`
		} `json:"list"`
	} `json:"result"`
}

func (a *ExchangeAdapter) fetchBybit(ctx context.Context, symbol string) (models.PriceSample, error) {
	u := fmt.Sprintf("%s/v5/market/tickers?category=spot&symbol=%s", a.baseURL, url.QueryEscape(strings.ReplaceAll(symbol, "/", "")))
	body, err := httpGet(ctx, a.client, u, a.maxRetries, a.retryDelayBase)
	if err != nil {
		return models.PriceSample{}, err
	}
	var t bybitTicker
	if err := json.Unmarshal(body, &t); err != nil {
		return models.PriceSample{}, fmt.Errorf("failed to decode ticker: %w", err)
	}
	if len(t.Result.List) == 0 {
		return models.PriceSample{}, fmt.Errorf("empty payload for %s", symbol)
	}
	d := t.Result.List[0]
	price := parseFloat(d.LastPrice)
	if price == 0 {
		return models.PriceSample{}, fmt.Errorf("empty payload for %s", symbol)
	}
	return models.PriceSample{
		Symbol: symbol,
		Price:  price,
		// Bybit reports a fraction; scale to percent to match other venues.
		Change24h:  parseFloat(d.Price24hPcnt) * 100,
		High24h:    parseFloat(d.HighPrice24h),
		Low24h:     parseFloat(d.LowPrice24h),
		Volume24h:  parseFloat(d.Volume24h),
		ObservedAt: time.Now(),
		Source:     a.exchange,
	}, nil
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
