package result

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

const (
	colorProfit   = "#34d399"
	colorLoss     = "#f87171"
	colorDrawdown = "#fbbf24"
)

// RenderChart 输出按排名排列的盈亏柱状图，并叠加最大回撤折线。
func RenderChart(w io.Writer, identity string, rep Report) error {
	labels := make([]string, 0, len(rep.Rows))
	pnl := make([]opts.BarData, 0, len(rep.Rows))
	drawdown := make([]opts.LineData, 0, len(rep.Rows))
	for i, row := range rep.Rows {
		labels = append(labels, fmt.Sprintf("#%d", i+1))
		color := colorProfit
		if row.ProfitLoss.IsNegative() {
			color = colorLoss
		}
		pnl = append(pnl, opts.BarData{
			Name:      row.ParameterString(),
			Value:     row.ProfitLoss.Round(2).InexactFloat64(),
			ItemStyle: &opts.ItemStyle{Color: color},
		})
		drawdown = append(drawdown, opts.LineData{
			Name:  row.ParameterString(),
			Value: row.MaxDrawdown.Round(2).InexactFloat64(),
		})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: identity + " sweep", Width: "1400px", Height: "640px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    identity,
			Subtitle: fmt.Sprintf("%d combinations ranked by Total P/L", len(rep.Rows)),
		}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", XAxisIndex: []int{0}}),
	)
	bar.SetXAxis(labels).AddSeries("Total P/L", pnl)

	line := charts.NewLine()
	line.SetXAxis(labels).AddSeries("Max Drawdown", drawdown,
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorDrawdown, Width: 2}))
	bar.Overlap(line)
	return bar.Render(w)
}
