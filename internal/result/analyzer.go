package result

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"sweeper/internal/logger"
	"sweeper/internal/sweep"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

// MetricPaths 指定从结果文件中提取各项指标的 gjson 路径。
type MetricPaths struct {
	Identity     string `json:"identity"`
	Parameters   string `json:"parameters"`
	ProfitLoss   string `json:"profitLoss"`
	ProfitFactor string `json:"profitFactor"`
	TotalTrades  string `json:"totalTrades"`
	WinRate      string `json:"winRate"`
	MaxDrawdown  string `json:"maxDrawdown"`
}

// DefaultMetricPaths 对应回放引擎输出的 "All Trades" 统计。
func DefaultMetricPaths() MetricPaths {
	return MetricPaths{
		Identity:     "jobParameters.identity",
		Parameters:   "combination",
		ProfitLoss:   "metrics.All Trades.ClosedTradesProfitLoss",
		ProfitFactor: "metrics.All Trades.ProfitFactor",
		TotalTrades:  "metrics.All Trades.TotalTrades",
		WinRate:      "metrics.All Trades.PercentProfitable",
		MaxDrawdown:  "metrics.All Trades.MaximumDrawdown",
	}
}

func (p MetricPaths) withDefaults() MetricPaths {
	def := DefaultMetricPaths()
	pick := func(v, d string) string {
		if strings.TrimSpace(v) == "" {
			return d
		}
		return strings.TrimSpace(v)
	}
	return MetricPaths{
		Identity:     pick(p.Identity, def.Identity),
		Parameters:   pick(p.Parameters, def.Parameters),
		ProfitLoss:   pick(p.ProfitLoss, def.ProfitLoss),
		ProfitFactor: pick(p.ProfitFactor, def.ProfitFactor),
		TotalTrades:  pick(p.TotalTrades, def.TotalTrades),
		WinRate:      pick(p.WinRate, def.WinRate),
		MaxDrawdown:  pick(p.MaxDrawdown, def.MaxDrawdown),
	}
}

// NamedValue 是一项展平后的参数。
type NamedValue struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Row 是汇总表中的一行。
type Row struct {
	Identity     string          `json:"identity"`
	Parameters   []NamedValue    `json:"parameters"`
	ProfitLoss   decimal.Decimal `json:"profitLoss"`
	ProfitFactor decimal.Decimal `json:"profitFactor"`
	TotalTrades  decimal.Decimal `json:"totalTrades"`
	WinRate      decimal.Decimal `json:"winRate"`
	MaxDrawdown  decimal.Decimal `json:"maxDrawdown"`
	Source       string          `json:"source"`
}

// ParameterString 输出 "name: value | name: value"。
func (r Row) ParameterString() string {
	parts := make([]string, 0, len(r.Parameters))
	for _, p := range r.Parameters {
		parts = append(parts, p.Name+": "+p.Value)
	}
	return strings.Join(parts, " | ")
}

// Report 是按盈亏降序排列的结果集。
type Report struct {
	Dir     string   `json:"dir"`
	Rows    []Row    `json:"rows"`
	Skipped []string `json:"skipped,omitempty"`
}

const artifactSchema = `{
	"type": "object",
	"required": ["combination", "metrics"],
	"properties": {
		"combination": {"type": "object"},
		"jobParameters": {"type": "object"},
		"metrics": {"type": "object"},
		"trades": {"type": ["array", "null"]}
	}
}`

// Analyzer 扫描一次扫描目录下的全部结果文件并排序。
type Analyzer struct {
	sink   sweep.PersistenceSink
	paths  MetricPaths
	schema *jsonschema.Schema
	chart  bool
}

type AnalyzerOption func(*Analyzer)

func WithMetricPaths(paths MetricPaths) AnalyzerOption {
	return func(a *Analyzer) { a.paths = paths.withDefaults() }
}

// WithChart 生成汇总报告时额外输出 HTML 图表。
func WithChart(enabled bool) AnalyzerOption {
	return func(a *Analyzer) { a.chart = enabled }
}

func NewAnalyzer(sink sweep.PersistenceSink, opts ...AnalyzerOption) (*Analyzer, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("artifact.json", strings.NewReader(artifactSchema)); err != nil {
		return nil, err
	}
	schema, err := compiler.Compile("artifact.json")
	if err != nil {
		return nil, err
	}
	a := &Analyzer{sink: sink, paths: DefaultMetricPaths(), schema: schema}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Analyze 读取目录下的结果文件。无法解析的文件被跳过，不影响其余结果。
func (a *Analyzer) Analyze(ctx context.Context, dir string) (Report, error) {
	rep := Report{Dir: dir, Rows: []Row{}}
	paths, err := a.sink.List(ctx, dir)
	if err != nil {
		return rep, sweep.PersistenceError("list artifacts", err)
	}
	sort.Strings(paths)
	for _, path := range paths {
		row, err := a.parse(ctx, path)
		if err != nil {
			logger.Warnf("[result] 跳过结果文件 %s: %v", path, err)
			rep.Skipped = append(rep.Skipped, path)
			continue
		}
		rep.Rows = append(rep.Rows, row)
	}
	sort.SliceStable(rep.Rows, func(i, j int) bool {
		return rep.Rows[i].ProfitLoss.GreaterThan(rep.Rows[j].ProfitLoss)
	})
	return rep, nil
}

func (a *Analyzer) parse(ctx context.Context, path string) (Row, error) {
	raw, err := a.sink.Read(ctx, path)
	if err != nil {
		return Row{}, sweep.PersistenceError("read artifact", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return Row{}, sweep.ParseError("decode artifact", err)
	}
	if err := a.schema.Validate(doc); err != nil {
		return Row{}, sweep.ParseError("validate artifact", err)
	}

	parsed := gjson.ParseBytes(raw)
	row := Row{
		Identity:     parsed.Get(a.paths.Identity).String(),
		ProfitLoss:   decimalAt(parsed, a.paths.ProfitLoss),
		ProfitFactor: decimalAt(parsed, a.paths.ProfitFactor),
		TotalTrades:  decimalAt(parsed, a.paths.TotalTrades),
		WinRate:      decimalAt(parsed, a.paths.WinRate),
		MaxDrawdown:  decimalAt(parsed, a.paths.MaxDrawdown),
		Source:       path,
	}
	if row.Identity == "" {
		row.Identity = parsed.Get("identity").String()
	}
	if row.Identity == "" {
		row.Identity = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	parsed.Get(a.paths.Parameters).ForEach(func(key, value gjson.Result) bool {
		row.Parameters = append(row.Parameters, NamedValue{Name: key.String(), Value: paramText(value)})
		return true
	})
	return row, nil
}

// decimalAt 读取数值字段，缺失或非数值时为 0。
func decimalAt(doc gjson.Result, path string) decimal.Decimal {
	res := doc.Get(path)
	switch res.Type {
	case gjson.Number:
		if d, err := decimal.NewFromString(res.Raw); err == nil {
			return d
		}
		return decimal.NewFromFloat(res.Float())
	case gjson.String:
		if d, err := decimal.NewFromString(strings.TrimSpace(res.Str)); err == nil {
			return d
		}
	case gjson.True:
		return decimal.NewFromInt(1)
	}
	return decimal.Zero
}

func paramText(v gjson.Result) string {
	if v.Type == gjson.String {
		return v.Str
	}
	return v.Raw
}

// Report 实现 sweep.Reporter：汇总目录并写出 CSV（以及可选的 HTML 图表）。
func (a *Analyzer) Report(ctx context.Context, dir, identity string) (string, error) {
	rep, err := a.Analyze(ctx, dir)
	if err != nil {
		return "", err
	}
	path, err := a.WriteSummary(ctx, dir, identity, rep)
	if err != nil {
		return "", err
	}
	if a.chart {
		chartPath := strings.TrimSuffix(path, ".csv") + ".html"
		if err := a.writeChart(ctx, chartPath, identity, rep); err != nil {
			logger.Warnf("[result] 图表生成失败: %v", err)
		}
	}
	logger.Infof("[result] %s 汇总完成：%d 个结果，跳过 %d 个", dir, len(rep.Rows), len(rep.Skipped))
	return path, nil
}

// SummaryName 返回汇总 CSV 的文件名。
func SummaryName(identity string) string {
	return fmt.Sprintf("%s-summary.csv", sweep.SafeName(identity))
}

// WriteSummary 把报告写成 CSV 放在扫描目录下。
func (a *Analyzer) WriteSummary(ctx context.Context, dir, identity string, rep Report) (string, error) {
	var buf bytes.Buffer
	if err := rep.WriteCSV(&buf); err != nil {
		return "", sweep.PersistenceError("encode summary", err)
	}
	path := filepath.Join(dir, SummaryName(identity))
	if err := a.sink.Write(ctx, path, buf.Bytes()); err != nil {
		return "", sweep.PersistenceError("write summary", err)
	}
	return path, nil
}

func (a *Analyzer) writeChart(ctx context.Context, path, identity string, rep Report) error {
	var buf bytes.Buffer
	if err := RenderChart(&buf, identity, rep); err != nil {
		return err
	}
	return a.sink.Write(ctx, path, buf.Bytes())
}
