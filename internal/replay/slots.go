package replay

import (
	"fmt"
	"math"

	"sweeper/internal/sweep"
)

// Slot 是策略暴露的一个输入槽位。
type Slot struct {
	Index   int
	Name    string
	Kind    sweep.Kind
	Default float64
	Min     float64
	Max     float64
	Step    float64
	Help    string
}

const (
	SlotFastPeriod    = 1
	SlotSlowPeriod    = 2
	SlotStopLossPct   = 3
	SlotTakeProfitPct = 4
	SlotAllowShort    = 5
)

var catalog = []Slot{
	{Index: SlotFastPeriod, Name: "fast_period", Kind: sweep.KindInteger, Default: 12, Min: 2, Max: 100, Step: 1, Help: "fast EMA length in bars"},
	{Index: SlotSlowPeriod, Name: "slow_period", Kind: sweep.KindInteger, Default: 26, Min: 3, Max: 400, Step: 1, Help: "slow EMA length in bars"},
	{Index: SlotStopLossPct, Name: "stop_loss_pct", Kind: sweep.KindFloat, Default: 0, Min: 0, Max: 20, Step: 0.5, Help: "stop distance in percent of entry, 0 disables"},
	{Index: SlotTakeProfitPct, Name: "take_profit_pct", Kind: sweep.KindFloat, Default: 0, Min: 0, Max: 50, Step: 0.5, Help: "target distance in percent of entry, 0 disables"},
	{Index: SlotAllowShort, Name: "allow_short", Kind: sweep.KindBool, Default: 1, Min: 0, Max: 1, Step: 1, Help: "take short entries on bearish crosses"},
}

// Catalog 返回 EMA 交叉策略的槽位目录。
func Catalog() []Slot {
	return append([]Slot(nil), catalog...)
}

func lookupSlot(index int) (Slot, bool) {
	for _, s := range catalog {
		if s.Index == index {
			return s, true
		}
	}
	return Slot{}, false
}

// Params 是一次回放使用的策略参数快照。
type Params struct {
	FastPeriod    int     `json:"fast_period"`
	SlowPeriod    int     `json:"slow_period"`
	StopLossPct   float64 `json:"stop_loss_pct"`
	TakeProfitPct float64 `json:"take_profit_pct"`
	AllowShort    bool    `json:"allow_short"`
}

func paramsFromValues(values map[int]float64) Params {
	get := func(slot int) float64 {
		if v, ok := values[slot]; ok {
			return v
		}
		s, _ := lookupSlot(slot)
		return s.Default
	}
	return Params{
		FastPeriod:    int(math.Round(get(SlotFastPeriod))),
		SlowPeriod:    int(math.Round(get(SlotSlowPeriod))),
		StopLossPct:   get(SlotStopLossPct),
		TakeProfitPct: get(SlotTakeProfitPct),
		AllowShort:    math.Abs(get(SlotAllowShort)) >= sweep.Tolerance,
	}
}

func (p Params) validate(bars int) error {
	if p.FastPeriod < 1 || p.SlowPeriod < 1 {
		return fmt.Errorf("ema periods must be >= 1 (fast=%d slow=%d)", p.FastPeriod, p.SlowPeriod)
	}
	if p.FastPeriod > bars || p.SlowPeriod > bars {
		return fmt.Errorf("ema periods exceed %d loaded bars", bars)
	}
	if p.StopLossPct < 0 || p.TakeProfitPct < 0 {
		return fmt.Errorf("stop/target percentages must be >= 0")
	}
	return nil
}
