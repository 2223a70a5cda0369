package replay

import (
	"time"

	"github.com/markcheno/go-talib"
	"github.com/shopspring/decimal"
)

const (
	SideLong  = "long"
	SideShort = "short"

	ExitSignal     = "signal"
	ExitStopLoss   = "stop_loss"
	ExitTakeProfit = "take_profit"
	ExitEndOfData  = "end_of_data"
)

// Trade 是一笔已平仓交易，数量固定为 1，盈亏以报价币计。
type Trade struct {
	Index      int             `json:"index"`
	Side       string          `json:"side"`
	EntryTime  time.Time       `json:"entryTime"`
	ExitTime   time.Time       `json:"exitTime"`
	EntryPrice decimal.Decimal `json:"entryPrice"`
	ExitPrice  decimal.Decimal `json:"exitPrice"`
	ProfitLoss decimal.Decimal `json:"profitLoss"`
	ProfitPct  decimal.Decimal `json:"profitPct"`
	ExitReason string          `json:"exitReason"`
	BarsHeld   int             `json:"barsHeld"`
}

type position struct {
	side     string
	entry    decimal.Decimal
	entryBar int
}

// emaCross 在快慢 EMA 交叉时开平仓：上穿做多，下穿平多并在允许时做空。
type emaCross struct {
	params  Params
	candles []Candle
	fast    []float64
	slow    []float64
	warmup  int
	pos     *position
	trades  []Trade
}

func newEMACross(params Params, candles []Candle) *emaCross {
	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}
	return &emaCross{
		params:  params,
		candles: candles,
		fast:    talib.Ema(closes, params.FastPeriod),
		slow:    talib.Ema(closes, params.SlowPeriod),
		warmup:  max(params.FastPeriod, params.SlowPeriod),
	}
}

// onBar 处理第 i 根 K 线：先检查止损止盈，再按收盘价处理交叉信号。
func (s *emaCross) onBar(i int) {
	c := s.candles[i]
	if s.pos != nil && i > s.pos.entryBar {
		s.checkExits(i, c)
	}
	if i < s.warmup {
		return
	}
	prevDiff := s.fast[i-1] - s.slow[i-1]
	diff := s.fast[i] - s.slow[i]
	closePx := decimal.NewFromFloat(c.Close)
	switch {
	case prevDiff <= 0 && diff > 0:
		if s.pos != nil && s.pos.side == SideShort {
			s.exit(i, closePx, ExitSignal)
		}
		if s.pos == nil {
			s.pos = &position{side: SideLong, entry: closePx, entryBar: i}
		}
	case prevDiff >= 0 && diff < 0:
		if s.pos != nil && s.pos.side == SideLong {
			s.exit(i, closePx, ExitSignal)
		}
		if s.pos == nil && s.params.AllowShort {
			s.pos = &position{side: SideShort, entry: closePx, entryBar: i}
		}
	}
}

func (s *emaCross) checkExits(i int, c Candle) {
	entry := s.pos.entry
	hundred := decimal.NewFromInt(100)
	if s.params.StopLossPct > 0 {
		dist := entry.Mul(decimal.NewFromFloat(s.params.StopLossPct)).Div(hundred)
		if s.pos.side == SideLong {
			stop := entry.Sub(dist)
			if decimal.NewFromFloat(c.Low).LessThanOrEqual(stop) {
				s.exit(i, stop, ExitStopLoss)
				return
			}
		} else {
			stop := entry.Add(dist)
			if decimal.NewFromFloat(c.High).GreaterThanOrEqual(stop) {
				s.exit(i, stop, ExitStopLoss)
				return
			}
		}
	}
	if s.params.TakeProfitPct > 0 {
		dist := entry.Mul(decimal.NewFromFloat(s.params.TakeProfitPct)).Div(hundred)
		if s.pos.side == SideLong {
			target := entry.Add(dist)
			if decimal.NewFromFloat(c.High).GreaterThanOrEqual(target) {
				s.exit(i, target, ExitTakeProfit)
			}
		} else {
			target := entry.Sub(dist)
			if decimal.NewFromFloat(c.Low).LessThanOrEqual(target) {
				s.exit(i, target, ExitTakeProfit)
			}
		}
	}
}

func (s *emaCross) exit(i int, price decimal.Decimal, reason string) {
	pos := s.pos
	pnl := price.Sub(pos.entry)
	if pos.side == SideShort {
		pnl = pnl.Neg()
	}
	pct := decimal.Zero
	if !pos.entry.IsZero() {
		pct = pnl.Div(pos.entry).Mul(decimal.NewFromInt(100))
	}
	s.trades = append(s.trades, Trade{
		Index:      len(s.trades) + 1,
		Side:       pos.side,
		EntryTime:  s.candles[pos.entryBar].Time(),
		ExitTime:   s.candles[i].Time(),
		EntryPrice: pos.entry,
		ExitPrice:  price,
		ProfitLoss: pnl,
		ProfitPct:  pct.Round(4),
		ExitReason: reason,
		BarsHeld:   i - pos.entryBar,
	})
	s.pos = nil
}

// finish 以最后一根收盘价平掉剩余仓位。
func (s *emaCross) finish() {
	if s.pos == nil || len(s.candles) == 0 {
		return
	}
	last := len(s.candles) - 1
	s.exit(last, decimal.NewFromFloat(s.candles[last].Close), ExitEndOfData)
}
