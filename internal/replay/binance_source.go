package replay

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"sweeper/internal/logger"
	"sweeper/internal/pkg/circuit"
	"sweeper/internal/pkg/symbol"
	"sweeper/internal/scheduler"

	"github.com/adshao/go-binance/v2/futures"
	"golang.org/x/time/rate"
)

const (
	binanceMaxPage         = 1500
	binanceBreakerFailures = 3
	binanceBreakerCooldown = 30 * time.Second
)

// BinanceConfig 配置 USDT 合约 K 线数据源。
type BinanceConfig struct {
	BaseURL        string
	Symbol         string
	Interval       string
	Limit          int
	RequestsPerSec float64
	HTTPTimeout    time.Duration
}

// BinanceSource 基于 go-binance SDK 分页拉取 K 线，请求节奏由 limiter 控制，
// 连续失败后由 breaker 快速拒绝。
type BinanceSource struct {
	cfg     BinanceConfig
	step    time.Duration
	client  *futures.Client
	limiter *rate.Limiter
	breaker *circuit.Breaker
}

func NewBinanceSource(cfg BinanceConfig) (*BinanceSource, error) {
	cfg.Symbol = symbol.ToBinance(cfg.Symbol)
	if cfg.Symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	cfg.Interval = strings.TrimSpace(cfg.Interval)
	if cfg.Interval != "M" && !strings.HasSuffix(cfg.Interval, "M") {
		cfg.Interval = strings.ToLower(cfg.Interval)
	}
	step, ok := scheduler.ParseInterval(cfg.Interval)
	if !ok {
		return nil, fmt.Errorf("invalid interval %q", cfg.Interval)
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 1000
	}
	if cfg.RequestsPerSec <= 0 {
		cfg.RequestsPerSec = 5
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 15 * time.Second
	}
	client := futures.NewClient("", "")
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		client.BaseURL = base
	}
	client.HTTPClient = &http.Client{Timeout: cfg.HTTPTimeout}
	return &BinanceSource{
		cfg:     cfg,
		step:    step,
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), 1),
		breaker: circuit.NewBreaker("binance-klines", binanceBreakerFailures, binanceBreakerCooldown),
	}, nil
}

func (b *BinanceSource) Name() string { return "binance" }

// Load 从 from 开始向后分页拉取最多 Limit 根；from 为零时拉取最近的 Limit 根。
func (b *BinanceSource) Load(ctx context.Context, from time.Time) ([]Candle, error) {
	if from.IsZero() {
		return b.loadLatest(ctx)
	}
	var out []Candle
	cursor := from.UnixMilli()
	for len(out) < b.cfg.Limit {
		page := min(b.cfg.Limit-len(out), binanceMaxPage)
		kls, err := b.fetch(ctx, func(s *futures.KlinesService) {
			s.StartTime(cursor).Limit(page)
		})
		if err != nil {
			return nil, err
		}
		if len(kls) == 0 {
			break
		}
		out = append(out, kls...)
		cursor = kls[len(kls)-1].OpenTime + 1
		if len(kls) < page {
			break
		}
	}
	logger.Infof("[replay] binance %s %s 拉取 %d 根 K 线", b.cfg.Symbol, b.cfg.Interval, len(out))
	return dropUnclosed(out, b.step, time.Now()), nil
}

func (b *BinanceSource) loadLatest(ctx context.Context) ([]Candle, error) {
	var out []Candle
	var end int64
	for len(out) < b.cfg.Limit {
		page := min(b.cfg.Limit-len(out), binanceMaxPage)
		kls, err := b.fetch(ctx, func(s *futures.KlinesService) {
			s.Limit(page)
			if end > 0 {
				s.EndTime(end)
			}
		})
		if err != nil {
			return nil, err
		}
		if len(kls) == 0 {
			break
		}
		out = append(kls, out...)
		end = kls[0].OpenTime - 1
		if len(kls) < page {
			break
		}
	}
	logger.Infof("[replay] binance %s %s 拉取最近 %d 根 K 线", b.cfg.Symbol, b.cfg.Interval, len(out))
	return dropUnclosed(out, b.step, time.Now()), nil
}

func (b *BinanceSource) fetch(ctx context.Context, configure func(*futures.KlinesService)) ([]Candle, error) {
	if !b.breaker.Allow() {
		return nil, fmt.Errorf("binance klines %s: %w", b.cfg.Symbol, circuit.ErrOpen)
	}
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	svc := b.client.NewKlinesService().Symbol(b.cfg.Symbol).Interval(b.cfg.Interval)
	configure(svc)
	kls, err := svc.Do(ctx)
	if err != nil {
		b.breaker.RecordFailure()
		return nil, fmt.Errorf("binance klines: %w", err)
	}
	b.breaker.RecordSuccess()
	out := make([]Candle, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		out = append(out, Candle{
			OpenTime: kl.OpenTime,
			Open:     parseFloat(kl.Open),
			High:     parseFloat(kl.High),
			Low:      parseFloat(kl.Low),
			Close:    parseFloat(kl.Close),
			Volume:   parseFloat(kl.Volume),
		})
	}
	return out, nil
}

// dropUnclosed 去掉尚未收盘的最后一根。
func dropUnclosed(candles []Candle, step time.Duration, now time.Time) []Candle {
	if len(candles) == 0 || step <= 0 {
		return candles
	}
	last := candles[len(candles)-1]
	if last.OpenTime+step.Milliseconds() > now.UnixMilli() {
		return candles[:len(candles)-1]
	}
	return candles
}

func parseFloat(raw string) float64 {
	v, _ := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	return v
}
