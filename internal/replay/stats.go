package replay

import (
	"github.com/shopspring/decimal"
)

// TradeStats 汇总一组已平仓交易；PercentProfitable 为 0~1 的比例，MaximumDrawdown 为非正数。
type TradeStats struct {
	ClosedTradesProfitLoss float64 `json:"ClosedTradesProfitLoss"`
	GrossProfit            float64 `json:"GrossProfit"`
	GrossLoss              float64 `json:"GrossLoss"`
	ProfitFactor           float64 `json:"ProfitFactor"`
	TotalTrades            int     `json:"TotalTrades"`
	WinningTrades          int     `json:"WinningTrades"`
	LosingTrades           int     `json:"LosingTrades"`
	PercentProfitable      float64 `json:"PercentProfitable"`
	AverageTrade           float64 `json:"AverageTrade"`
	LargestWinningTrade    float64 `json:"LargestWinningTrade"`
	LargestLosingTrade     float64 `json:"LargestLosingTrade"`
	AverageBarsInTrade     float64 `json:"AverageBarsInTrade"`
	MaximumDrawdown        float64 `json:"MaximumDrawdown"`
}

// Metrics 是回放任务完成后的统计报告。
type Metrics struct {
	All   TradeStats `json:"All Trades"`
	Long  TradeStats `json:"Long Trades"`
	Short TradeStats `json:"Short Trades"`
}

func computeMetrics(trades []Trade) Metrics {
	var long, short []Trade
	for _, t := range trades {
		if t.Side == SideLong {
			long = append(long, t)
		} else {
			short = append(short, t)
		}
	}
	return Metrics{
		All:   computeStats(trades),
		Long:  computeStats(long),
		Short: computeStats(short),
	}
}

func computeStats(trades []Trade) TradeStats {
	var (
		net, gross, loss   decimal.Decimal
		largestWin         decimal.Decimal
		largestLoss        decimal.Decimal
		equity, peak, mdd  decimal.Decimal
		wins, losses, bars int
	)
	for _, t := range trades {
		pnl := t.ProfitLoss
		net = net.Add(pnl)
		bars += t.BarsHeld
		switch {
		case pnl.IsPositive():
			wins++
			gross = gross.Add(pnl)
			if pnl.GreaterThan(largestWin) {
				largestWin = pnl
			}
		case pnl.IsNegative():
			losses++
			loss = loss.Add(pnl)
			if pnl.LessThan(largestLoss) {
				largestLoss = pnl
			}
		}
		equity = equity.Add(pnl)
		if equity.GreaterThan(peak) {
			peak = equity
		}
		if dd := equity.Sub(peak); dd.LessThan(mdd) {
			mdd = dd
		}
	}
	stats := TradeStats{
		ClosedTradesProfitLoss: round(net),
		GrossProfit:            round(gross),
		GrossLoss:              round(loss),
		TotalTrades:            len(trades),
		WinningTrades:          wins,
		LosingTrades:           losses,
		LargestWinningTrade:    round(largestWin),
		LargestLosingTrade:     round(largestLoss),
		MaximumDrawdown:        round(mdd),
	}
	if !loss.IsZero() {
		stats.ProfitFactor = round(gross.Div(loss.Abs()))
	}
	if n := len(trades); n > 0 {
		count := decimal.NewFromInt(int64(n))
		stats.PercentProfitable = round(decimal.NewFromInt(int64(wins)).Div(count))
		stats.AverageTrade = round(net.Div(count))
		stats.AverageBarsInTrade = round(decimal.NewFromInt(int64(bars)).Div(count))
	}
	return stats
}

func round(d decimal.Decimal) float64 {
	return d.Round(8).InexactFloat64()
}
