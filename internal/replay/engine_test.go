package replay

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"sweeper/internal/sweep"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

type staticSource struct {
	candles []Candle
	loads   int
}

func (s *staticSource) Name() string { return "static" }

func (s *staticSource) Load(context.Context, time.Time) ([]Candle, error) {
	s.loads++
	return s.candles, nil
}

type flakySource struct {
	staticSource
	failures int
}

func (s *flakySource) Load(ctx context.Context, from time.Time) ([]Candle, error) {
	if s.failures > 0 {
		s.failures--
		return nil, errors.New("exchange unavailable")
	}
	return s.staticSource.Load(ctx, from)
}

var baseTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func candlesFromCloses(closes ...float64) []Candle {
	out := make([]Candle, len(closes))
	for i, c := range closes {
		out[i] = Candle{
			OpenTime: baseTime.Add(time.Duration(i) * time.Hour).UnixMilli(),
			Open:     c,
			High:     c,
			Low:      c,
			Close:    c,
		}
	}
	return out
}

// wave: flat, up, down, up.
func waveCloses() []float64 {
	var closes []float64
	for i := 0; i < 10; i++ {
		closes = append(closes, 100)
	}
	for i := 1; i <= 10; i++ {
		closes = append(closes, 100+float64(i)*2)
	}
	for i := 1; i <= 20; i++ {
		closes = append(closes, 120-float64(i)*2)
	}
	for i := 1; i <= 15; i++ {
		closes = append(closes, 80+float64(i)*2)
	}
	return closes
}

func runToEnd(t *testing.T, e *Engine) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < 1000; i++ {
		done, err := e.PollFinished(ctx)
		require.NoError(t, err)
		if done {
			return
		}
		e.Step()
	}
	t.Fatal("replay did not finish")
}

func TestEngineLifecycle(t *testing.T) {
	ctx := context.Background()
	src := &staticSource{candles: candlesFromCloses(waveCloses()...)}
	e, err := NewEngine(src)
	require.NoError(t, err)

	status, err := e.PollStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, sweep.StatusStopped, status)
	assert.ErrorIs(t, e.ResumeJob(ctx), errNoJob)

	require.NoError(t, e.SetValue(ctx, SlotFastPeriod, 2, sweep.KindInteger))
	require.NoError(t, e.SetValue(ctx, SlotSlowPeriod, 5, sweep.KindInteger))
	require.NoError(t, e.StartJob(ctx, sweep.LaunchSpec{Speed: 7}))

	status, _ = e.PollStatus(ctx)
	assert.Equal(t, sweep.StatusPaused, status)
	e.Step()
	info, ok := e.Info()
	require.True(t, ok)
	assert.Equal(t, 0, info.Progress, "paused jobs do not advance")

	require.NoError(t, e.ResumeJob(ctx))
	status, _ = e.PollStatus(ctx)
	assert.Equal(t, sweep.StatusRunning, status)
	e.Step()
	info, _ = e.Info()
	assert.Equal(t, 7, info.Progress)

	runToEnd(t, e)
	status, _ = e.PollStatus(ctx)
	assert.Equal(t, sweep.StatusRunning, status, "finished jobs wait at end of data")
	e.Step()
	require.NoError(t, e.StopJob(ctx))
	status, _ = e.PollStatus(ctx)
	assert.Equal(t, sweep.StatusStopped, status)

	raw, err := e.Metrics(ctx)
	require.NoError(t, err)
	doc := gjson.ParseBytes(raw)
	assert.True(t, doc.Get("All Trades.ClosedTradesProfitLoss").Exists())
	assert.Equal(t, int64(3), doc.Get("All Trades.TotalTrades").Int())
	assert.Equal(t, int64(2), doc.Get("Long Trades.TotalTrades").Int())
	assert.Equal(t, int64(1), doc.Get("Short Trades.TotalTrades").Int())

	trades, err := e.TradeRecords(ctx)
	require.NoError(t, err)
	require.Len(t, trades, 3)
	sides := []string{
		gjson.GetBytes(trades[0], "side").String(),
		gjson.GetBytes(trades[1], "side").String(),
		gjson.GetBytes(trades[2], "side").String(),
	}
	assert.Equal(t, []string{SideLong, SideShort, SideLong}, sides)
	assert.Equal(t, ExitEndOfData, gjson.GetBytes(trades[2], "exitReason").String())

	// candles are cached across jobs
	require.NoError(t, e.StartJob(ctx, sweep.LaunchSpec{Speed: 100}))
	assert.Equal(t, 1, src.loads)
}

func TestEngineLongOnly(t *testing.T) {
	ctx := context.Background()
	e, err := NewEngine(&staticSource{candles: candlesFromCloses(waveCloses()...)})
	require.NoError(t, err)
	require.NoError(t, e.SetValue(ctx, SlotFastPeriod, 2, sweep.KindInteger))
	require.NoError(t, e.SetValue(ctx, SlotSlowPeriod, 5, sweep.KindInteger))
	require.NoError(t, e.SetValue(ctx, SlotAllowShort, 0, sweep.KindBool))
	require.NoError(t, e.StartJob(ctx, sweep.LaunchSpec{Speed: 1000}))
	require.NoError(t, e.ResumeJob(ctx))
	runToEnd(t, e)

	trades, err := e.TradeRecords(ctx)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	for _, tr := range trades {
		assert.Equal(t, SideLong, gjson.GetBytes(tr, "side").String())
	}
}

func TestEngineStopLoss(t *testing.T) {
	closes := []float64{100, 100, 100, 100, 110, 110, 110}
	candles := candlesFromCloses(closes...)
	candles[5].Low = 50
	s := newEMACross(Params{FastPeriod: 1, SlowPeriod: 3, StopLossPct: 10}, candles)
	for i := range candles {
		s.onBar(i)
	}
	s.finish()
	require.NotEmpty(t, s.trades)
	first := s.trades[0]
	assert.Equal(t, SideLong, first.Side)
	assert.Equal(t, ExitStopLoss, first.ExitReason)
	assert.True(t, first.EntryPrice.Equal(decimal.NewFromInt(110)))
	assert.True(t, first.ExitPrice.Equal(decimal.NewFromInt(99)), first.ExitPrice.String())
	assert.True(t, first.ProfitLoss.Equal(decimal.NewFromInt(-11)))
}

func TestEngineSetValue(t *testing.T) {
	ctx := context.Background()
	e, err := NewEngine(&staticSource{candles: candlesFromCloses(1, 2, 3)})
	require.NoError(t, err)

	assert.Error(t, e.SetValue(ctx, 42, 1, sweep.KindFloat))
	require.NoError(t, e.SetValue(ctx, SlotFastPeriod, 4.6, sweep.KindFloat))
	require.NoError(t, e.SetValue(ctx, SlotStopLossPct, 1.25, sweep.KindFloat))
	p := e.Values()
	assert.Equal(t, 5, p.FastPeriod)
	assert.Equal(t, 26, p.SlowPeriod)
	assert.Equal(t, 1.25, p.StopLossPct)
	assert.True(t, p.AllowShort)

	// slow period longer than the data set
	err = e.StartJob(ctx, sweep.LaunchSpec{Speed: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceed")
}

func TestEngineStartAt(t *testing.T) {
	ctx := context.Background()
	e, err := NewEngine(&staticSource{candles: candlesFromCloses(waveCloses()...)})
	require.NoError(t, err)
	require.NoError(t, e.SetValue(ctx, SlotFastPeriod, 2, sweep.KindInteger))
	require.NoError(t, e.SetValue(ctx, SlotSlowPeriod, 3, sweep.KindInteger))

	require.NoError(t, e.StartJob(ctx, sweep.LaunchSpec{Speed: 1, StartAt: baseTime.Add(30 * time.Hour)}))
	info, _ := e.Info()
	assert.Equal(t, 30, info.Progress)

	err = e.StartJob(ctx, sweep.LaunchSpec{Speed: 1, StartAt: baseTime.AddDate(1, 0, 0)})
	assert.Error(t, err)
}

func TestEngineSetSourceDropsCache(t *testing.T) {
	ctx := context.Background()
	first := &staticSource{candles: candlesFromCloses(waveCloses()...)}
	e, err := NewEngine(first)
	require.NoError(t, err)
	require.NoError(t, e.SetValue(ctx, SlotFastPeriod, 2, sweep.KindInteger))
	require.NoError(t, e.SetValue(ctx, SlotSlowPeriod, 3, sweep.KindInteger))
	require.NoError(t, e.StartJob(ctx, sweep.LaunchSpec{Speed: 1}))

	second := &staticSource{candles: candlesFromCloses(1, 2, 3, 4, 5, 6)}
	e.SetSource(second)
	e.SetSource(nil)
	require.NoError(t, e.StartJob(ctx, sweep.LaunchSpec{Speed: 1}))
	info, _ := e.Info()
	assert.Equal(t, 6, info.Bars)
	assert.Equal(t, 1, first.loads)
	assert.Equal(t, 1, second.loads)
}

func TestEngineResumeRetriesFailedStart(t *testing.T) {
	ctx := context.Background()
	src := &flakySource{staticSource: staticSource{candles: candlesFromCloses(waveCloses()...)}, failures: 2}
	e, err := NewEngine(src)
	require.NoError(t, err)
	require.NoError(t, e.SetValue(ctx, SlotFastPeriod, 2, sweep.KindInteger))
	require.NoError(t, e.SetValue(ctx, SlotSlowPeriod, 3, sweep.KindInteger))

	require.Error(t, e.StartJob(ctx, sweep.LaunchSpec{Speed: 4}))
	_, ok := e.Info()
	assert.False(t, ok)

	require.Error(t, e.ResumeJob(ctx), "retry still fails")
	require.NoError(t, e.ResumeJob(ctx))
	status, _ := e.PollStatus(ctx)
	assert.Equal(t, sweep.StatusRunning, status)
	info, ok := e.Info()
	require.True(t, ok)
	assert.Equal(t, 4, info.Speed)
	assert.Equal(t, 1, src.loads)

	// the pending launch is consumed once it succeeds
	require.NoError(t, e.StopJob(ctx))
	require.NoError(t, e.ResumeJob(ctx))
	status, _ = e.PollStatus(ctx)
	assert.Equal(t, sweep.StatusStopped, status)
}

func TestEngineMetricsBeforeFinish(t *testing.T) {
	e, err := NewEngine(&staticSource{candles: candlesFromCloses(1, 2, 3)})
	require.NoError(t, err)
	_, err = e.Metrics(context.Background())
	assert.Error(t, err)
}

func TestComputeStats(t *testing.T) {
	var trades []Trade
	for i, pnl := range []int64{10, -5, 20, -15} {
		trades = append(trades, Trade{Index: i + 1, Side: SideLong, ProfitLoss: decimal.NewFromInt(pnl), BarsHeld: 2})
	}
	trades[1].Side = SideShort

	m := computeMetrics(trades)
	all := m.All
	assert.Equal(t, 10.0, all.ClosedTradesProfitLoss)
	assert.Equal(t, 30.0, all.GrossProfit)
	assert.Equal(t, -20.0, all.GrossLoss)
	assert.Equal(t, 1.5, all.ProfitFactor)
	assert.Equal(t, 4, all.TotalTrades)
	assert.Equal(t, 0.5, all.PercentProfitable)
	assert.Equal(t, 2.5, all.AverageTrade)
	assert.Equal(t, 20.0, all.LargestWinningTrade)
	assert.Equal(t, -15.0, all.LargestLosingTrade)
	assert.Equal(t, -15.0, all.MaximumDrawdown)
	assert.Equal(t, 2.0, all.AverageBarsInTrade)

	assert.Equal(t, 1, m.Short.TotalTrades)
	assert.Equal(t, 0.0, m.Short.ProfitFactor)
	assert.Equal(t, 3, m.Long.TotalTrades)

	raw, err := json.Marshal(m)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(raw), `{"All Trades":{"ClosedTradesProfitLoss":10,`))
}

func TestComputeStatsEmpty(t *testing.T) {
	s := computeStats(nil)
	assert.Equal(t, TradeStats{}, s)
}
