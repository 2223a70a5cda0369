package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"sweeper/internal/config"
	"sweeper/internal/logger"
	"sweeper/internal/replay"
	"sweeper/internal/result"
	"sweeper/internal/store/ledger"
	"sweeper/internal/store/statestore"
	"sweeper/internal/sweep"
	sweephttp "sweeper/internal/transport/http/sweep"
)

// AppBuilder 按配置装配各组件；各 *Fn 字段可在测试中替换。
type AppBuilder struct {
	watcher *config.Watcher

	sourceFn     func(config.ReplayConfig) (replay.CandleSource, error)
	stateStoreFn func(path string) (sweep.StateStore, func() error, error)
	ledgerFn     func(path string) (*ledger.Store, error)
}

type AppBuilderOption func(*AppBuilder)

// WithCandleSource 替换 K 线数据源的构造函数。
func WithCandleSource(fn func(config.ReplayConfig) (replay.CandleSource, error)) AppBuilderOption {
	return func(b *AppBuilder) { b.sourceFn = fn }
}

// WithMemoryState 使用内存状态存储，不落盘。
func WithMemoryState() AppBuilderOption {
	return func(b *AppBuilder) {
		b.stateStoreFn = func(string) (sweep.StateStore, func() error, error) {
			return sweep.NewMemoryStore(), func() error { return nil }, nil
		}
	}
}

func NewAppBuilder(watcher *config.Watcher, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		watcher:      watcher,
		sourceFn:     NewCandleSource,
		stateStoreFn: openStateStore,
		ledgerFn:     ledger.Open,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func openStateStore(path string) (sweep.StateStore, func() error, error) {
	st, err := statestore.NewGormStore(path)
	if err != nil {
		return nil, nil, err
	}
	return st, st.Close, nil
}

// Build 装配回放引擎、结果收集/分析、状态存储、台账、编排器与 HTTP 服务。
func (b *AppBuilder) Build() (*App, error) {
	if b.watcher == nil {
		return nil, fmt.Errorf("nil config watcher")
	}
	cfg := b.watcher.Current()
	if cfg == nil {
		return nil, fmt.Errorf("config not loaded")
	}
	a := &App{watcher: b.watcher, cfg: cfg}

	source, err := b.sourceFn(cfg.Replay)
	if err != nil {
		return nil, fmt.Errorf("init candle source: %w", err)
	}
	engine, err := replay.NewEngine(source)
	if err != nil {
		return nil, err
	}
	a.engine = engine

	sink := result.NewFileSink()
	collector := result.NewCollector(sink, engine, result.WithTradeCSV(cfg.Results.TradeCSV))
	analyzer, err := NewAnalyzer(cfg)
	if err != nil {
		return nil, err
	}

	store, closeStore, err := b.stateStoreFn(cfg.Storage.StatePath)
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}
	a.closers = append(a.closers, closeStore)

	var led sweep.Ledger
	var history sweephttp.History
	if path := strings.TrimSpace(cfg.Storage.LedgerPath); path != "" {
		ls, err := b.ledgerFn(path)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("open ledger: %w", err)
		}
		a.closers = append(a.closers, ls.Close)
		led, history = ls, ls
	}

	orch, err := sweep.New(sweep.Options{
		Replay:    engine,
		Params:    engine,
		Config:    b.watcher,
		Store:     store,
		Collector: collector,
		Reporter:  analyzer,
		Ledger:    led,
		OnReset:   logger.ClearRecent,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.orch = orch

	httpSrv, err := sweephttp.NewServer(sweephttp.Config{
		Addr:        cfg.App.HTTPAddr,
		Controller:  orch,
		History:     history,
		Analyzer:    analyzer,
		Replay:      engine,
		ResultsRoot: cfg.Results.Root,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.http = httpSrv

	b.watcher.OnChange(a.applyConfig)
	a.Summary = newStartupSummary(cfg, source.Name())
	return a, nil
}

// NewCandleSource 按 replay.source 构造 K 线数据源。
func NewCandleSource(rc config.ReplayConfig) (replay.CandleSource, error) {
	switch rc.Source {
	case "csv":
		return replay.NewCSVSource(rc.CandlesPath), nil
	case "binance":
		return replay.NewBinanceSource(replay.BinanceConfig{
			BaseURL:        rc.BinanceRESTURL,
			Symbol:         rc.Symbol,
			Interval:       rc.Interval,
			Limit:          rc.Limit,
			RequestsPerSec: rc.RequestsPerSec,
			HTTPTimeout:    15 * time.Second,
		})
	default:
		return nil, fmt.Errorf("unknown replay source %q", rc.Source)
	}
}

// NewAnalyzer 按 results 配置构造结果分析器。
func NewAnalyzer(cfg *config.Config) (*result.Analyzer, error) {
	if cfg == nil {
		return nil, errors.New("nil config")
	}
	mp := cfg.Results.MetricPaths
	return result.NewAnalyzer(result.NewFileSink(),
		result.WithMetricPaths(result.MetricPaths{
			Identity:     mp.Identity,
			Parameters:   mp.Parameters,
			ProfitLoss:   mp.ProfitLoss,
			ProfitFactor: mp.ProfitFactor,
			TotalTrades:  mp.TotalTrades,
			WinRate:      mp.WinRate,
			MaxDrawdown:  mp.MaxDrawdown,
		}),
		result.WithChart(cfg.Results.Chart),
	)
}
