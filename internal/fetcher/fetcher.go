package fetcher

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kalyro/vigil/internal/logger"
	"github.com/kalyro/vigil/internal/models"
)

// Config holds fetch behavior shared by all adapters.
type Config struct {
	Timeout         time.Duration
	MaxRetries      int
	RetryDelayBase  time.Duration
	BlockingWorkers int
}

// DefaultConfig returns the fetch defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:         15 * time.Second,
		MaxRetries:      3,
		RetryDelayBase:  time.Second,
		BlockingWorkers: 4,
	}
}

// Fetcher fans one fetch per instrument out across the registered adapters
// and collects whatever succeeded. Blocking adapters are dispatched to a
// fixed worker pool; the rest run on their own goroutines.
type Fetcher struct {
	adapters map[string]Adapter
	timeout  time.Duration
	jobs     chan func()
	workerWG sync.WaitGroup
	once     sync.Once
	log      *logger.Logger
}

// New creates a fetcher with the built-in exchange and Yahoo adapters
// registered under their source names.
func New(cfg Config) (*Fetcher, error) {
	if cfg.Timeout <= 0 {
		cfg = DefaultConfig()
	}
	if cfg.BlockingWorkers < 1 {
		cfg.BlockingWorkers = 1
	}

	f := &Fetcher{
		adapters: make(map[string]Adapter),
		timeout:  cfg.Timeout,
		jobs:     make(chan func()),
		log:      logger.Named("fetcher"),
	}

	for _, exchange := range []string{SourceBinance, SourceOKX, SourceBybit} {
		a, err := NewExchangeAdapter(exchange, "", cfg.Timeout, cfg.MaxRetries, cfg.RetryDelayBase)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s adapter: %w", exchange, err)
		}
		f.adapters[exchange] = a
	}
	f.adapters[SourceYahoo] = NewYahooAdapter("", cfg.Timeout, cfg.MaxRetries, cfg.RetryDelayBase)

	f.workerWG.Add(cfg.BlockingWorkers)
	for i := 0; i < cfg.BlockingWorkers; i++ {
		go func() {
			defer f.workerWG.Done()
			for job := range f.jobs {
				job()
			}
		}()
	}

	return f, nil
}

// Register installs or replaces the adapter serving the given source name.
func (f *Fetcher) Register(source string, a Adapter) {
	f.adapters[strings.ToLower(source)] = a
}

type fetchResult struct {
	symbol string
	sample models.PriceSample
	err    error
}

// FetchAll fetches all instruments concurrently and returns the successful
// samples keyed by symbol. Per-instrument failures are logged and omitted;
// callers must treat an absent symbol as "no data this cycle", never as an
// error. FetchAll itself never fails.
func (f *Fetcher) FetchAll(ctx context.Context, instruments []models.Instrument) map[string]models.PriceSample {
	results := make(chan fetchResult, len(instruments))
	var wg sync.WaitGroup

	for _, inst := range instruments {
		adapter, ok := f.adapters[strings.ToLower(inst.Source)]
		if !ok {
			f.log.Warn("No adapter for source %q (symbol %s), skipping", inst.Source, inst.Symbol)
			continue
		}

		inst := inst
		task := func() {
			fetchCtx, cancel := context.WithTimeout(ctx, f.timeout)
			defer cancel()
			sample, err := adapter.Fetch(fetchCtx, inst)
			results <- fetchResult{symbol: inst.Symbol, sample: sample, err: err}
		}

		wg.Add(1)
		if adapter.Blocking() {
			go func() {
				// Hand the task to the pool without stalling dispatch of the
				// other instruments when all workers are busy.
				defer wg.Done()
				done := make(chan struct{})
				f.jobs <- func() {
					defer close(done)
					task()
				}
				<-done
			}()
		} else {
			go func() {
				defer wg.Done()
				task()
			}()
		}
	}

	wg.Wait()
	close(results)

	samples := make(map[string]models.PriceSample)
	for r := range results {
		if r.err != nil {
			f.log.Warn("Fetch failed for %s: %v", r.symbol, r.err)
			continue
		}
		samples[r.symbol] = r.sample
	}
	return samples
}

// Close shuts down the worker pool and releases adapter connections. The
// fetcher must not be used after Close.
func (f *Fetcher) Close() {
	f.once.Do(func() {
		close(f.jobs)
		f.workerWG.Wait()
		for _, a := range f.adapters {
			if c, ok := a.(interface{ Close() }); ok {
				c.Close()
			}
		}
	})
}
