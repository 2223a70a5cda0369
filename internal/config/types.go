package config

import (
	"strings"
	"time"
)

// Config 是 sweeper 的主配置载体。
type Config struct {
	App     AppConfig     `toml:"app"`
	Sweep   SweepConfig   `toml:"sweep"`
	Replay  ReplayConfig  `toml:"replay"`
	Results ResultsConfig `toml:"results"`
	Storage StorageConfig `toml:"storage"`
	Log     LogConfig     `toml:"log"`
}

type AppConfig struct {
	Env          string        `toml:"env"`
	LogLevel     string        `toml:"log_level"`
	LogPath      string        `toml:"log_path"`
	HTTPAddr     string        `toml:"http_addr"`
	TickInterval time.Duration `toml:"tick_interval"`
}

// SweepConfig 描述参数空间与等待启动阶段的重试策略。
type SweepConfig struct {
	Identity          string        `toml:"identity"`
	Params            []ParamConfig `toml:"params"`
	MaxResumeAttempts int           `toml:"max_resume_attempts"`
	ResumeInterval    time.Duration `toml:"resume_interval"`
	MaxCombinations   int           `toml:"max_combinations"`
}

// ParamConfig 对应一个策略输入槽位；step 为 0 表示固定值。
type ParamConfig struct {
	Slot int     `toml:"slot"`
	Name string  `toml:"name"`
	Min  float64 `toml:"min"`
	Max  float64 `toml:"max"`
	Step float64 `toml:"step"`
	Type string  `toml:"type"`
}

type ReplayConfig struct {
	Speed          float64 `toml:"speed"`
	StartDate      string  `toml:"start_date"`
	StartTime      string  `toml:"start_time"`
	Mode           string  `toml:"mode"`
	Charts         string  `toml:"charts"`
	ClearExisting  bool    `toml:"clear_existing_trades"`
	Source         string  `toml:"source"`
	CandlesPath    string  `toml:"candles_path"`
	Symbol         string  `toml:"symbol"`
	Interval       string  `toml:"interval"`
	Limit          int     `toml:"limit"`
	BinanceRESTURL string  `toml:"binance_rest_url"`
	RequestsPerSec float64 `toml:"requests_per_second"`
	Strategy       string  `toml:"strategy"`
}

type ResultsConfig struct {
	Root        string            `toml:"root"`
	TradeCSV    bool              `toml:"trade_csv"`
	Chart       bool              `toml:"chart"`
	MetricPaths MetricPathsConfig `toml:"metric_paths"`
}

// MetricPathsConfig 覆盖分析器读取指标时使用的 gjson 路径，留空使用默认值。
type MetricPathsConfig struct {
	Identity     string `toml:"identity"`
	Parameters   string `toml:"parameters"`
	ProfitLoss   string `toml:"profit_loss"`
	ProfitFactor string `toml:"profit_factor"`
	TotalTrades  string `toml:"total_trades"`
	WinRate      string `toml:"win_rate"`
	MaxDrawdown  string `toml:"max_drawdown"`
}

type StorageConfig struct {
	StatePath  string `toml:"state_path"`
	LedgerPath string `toml:"ledger_path"`
}

type LogConfig struct {
	MaxLines int `toml:"max_lines"`
}

// keySet 用于追踪配置文件中显式设置的字段路径。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault 描述单个字段的默认值设置规则。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
