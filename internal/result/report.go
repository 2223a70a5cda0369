package result

import (
	"encoding/csv"
	"io"

	"github.com/shopspring/decimal"
)

// Header 是汇总表的列名。
var Header = []string{
	"Identity",
	"Parameters",
	"Total P/L",
	"Profit Factor",
	"Total Trades",
	"Win Rate (%)",
	"Max Drawdown",
	"Source Artifact",
}

var hundred = decimal.NewFromInt(100)

// Cells 返回一行的展示值，数值统一保留两位小数，胜率换算为百分比。
func (r Row) Cells() []string {
	return []string{
		r.Identity,
		r.ParameterString(),
		r.ProfitLoss.StringFixed(2),
		r.ProfitFactor.StringFixed(2),
		r.TotalTrades.StringFixed(2),
		r.WinRate.Mul(hundred).StringFixed(2),
		r.MaxDrawdown.StringFixed(2),
		r.Source,
	}
}

// Table 返回含表头的完整表格。
func (r Report) Table() [][]string {
	out := make([][]string, 0, len(r.Rows)+1)
	out = append(out, append([]string(nil), Header...))
	for _, row := range r.Rows {
		out = append(out, row.Cells())
	}
	return out
}

func (r Report) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.WriteAll(r.Table()); err != nil {
		return err
	}
	return cw.Error()
}
