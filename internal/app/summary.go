package app

import (
	"fmt"
	"io"
	"os"
	"strings"

	"sweeper/internal/config"
	"sweeper/internal/sweep"
)

type StartupSummary struct {
	Env      string
	HTTPAddr string
	Tick     string
	Sweep    SweepSummary
	Replay   ReplaySummary
	Storage  StorageSummary
}

type SweepSummary struct {
	Identity     string
	Params       []string
	Combinations int
	ResumePolicy string
	PlanError    string
}

type ReplaySummary struct {
	Source   string
	Detail   string
	Speed    float64
	StartAt  string
	Strategy string
}

type StorageSummary struct {
	ResultsRoot string
	StatePath   string
	LedgerPath  string
}

func newStartupSummary(cfg *config.Config, sourceName string) *StartupSummary {
	s := &StartupSummary{
		Env:      cfg.App.Env,
		HTTPAddr: cfg.App.HTTPAddr,
		Tick:     cfg.App.TickInterval.String(),
		Replay: ReplaySummary{
			Source:   sourceName,
			Speed:    cfg.Replay.Speed,
			Strategy: cfg.Replay.Strategy,
		},
		Storage: StorageSummary{
			ResultsRoot: cfg.Results.Root,
			StatePath:   cfg.Storage.StatePath,
			LedgerPath:  cfg.Storage.LedgerPath,
		},
	}
	switch cfg.Replay.Source {
	case "binance":
		s.Replay.Detail = fmt.Sprintf("%s %s limit=%d", cfg.Replay.Symbol, cfg.Replay.Interval, cfg.Replay.Limit)
	default:
		s.Replay.Detail = cfg.Replay.CandlesPath
	}
	if at, err := cfg.Replay.StartAt(); err == nil && !at.IsZero() {
		s.Replay.StartAt = at.Format("2006-01-02 15:04")
	}

	s.Sweep.Identity = cfg.Sweep.Identity
	s.Sweep.ResumePolicy = fmt.Sprintf("max=%d interval=%s", cfg.Sweep.MaxResumeAttempts, cfg.Sweep.ResumeInterval)
	if cfg.Sweep.MaxResumeAttempts == 0 {
		s.Sweep.ResumePolicy = fmt.Sprintf("不限次数 interval=%s", cfg.Sweep.ResumeInterval)
	}
	space, err := cfg.Sweep.Space()
	if err != nil {
		s.Sweep.PlanError = err.Error()
		return s
	}
	for _, a := range space {
		desc := fmt.Sprintf("slot %d %s: %g..%g step %g (%s)", a.Slot, a.Label(), a.Min, a.Max, a.Step, a.Kind)
		if a.Fixed() {
			desc = fmt.Sprintf("slot %d %s: 固定 %g (%s)", a.Slot, a.Label(), a.Min, a.Kind)
		}
		s.Sweep.Params = append(s.Sweep.Params, desc)
	}
	s.Sweep.Combinations = sweep.Cardinality(space)
	return s
}

func (s *StartupSummary) Print() {
	s.Fprint(os.Stdout)
}

// Fprint 把启动摘要写到 w。
func (s *StartupSummary) Fprint(w io.Writer) {
	title := "启动配置摘要 (STARTUP SUMMARY)"
	fmt.Fprintln(w, strings.Repeat("=", 80))
	fmt.Fprintf(w, "%*s\n", 40+len(title)/2, title)
	fmt.Fprintln(w, strings.Repeat("=", 80))

	fmt.Fprintln(w, "[应用 (APP)]")
	fmt.Fprintf(w, "  环境: %s\n", orDash(s.Env))
	fmt.Fprintf(w, "  控制接口: %s\n", orDash(s.HTTPAddr))
	fmt.Fprintf(w, "  Tick 间隔: %s\n", s.Tick)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[参数扫描 (SWEEP)]")
	fmt.Fprintf(w, "  标识: %s\n", s.Sweep.Identity)
	if s.Sweep.PlanError != "" {
		fmt.Fprintf(w, "  参数空间无效: %s\n", s.Sweep.PlanError)
	} else {
		if len(s.Sweep.Params) == 0 {
			fmt.Fprintln(w, "  - (无参数)")
		}
		for _, p := range s.Sweep.Params {
			fmt.Fprintf(w, "  - %s\n", p)
		}
		fmt.Fprintf(w, "  组合总数: %d\n", s.Sweep.Combinations)
	}
	fmt.Fprintf(w, "  恢复策略: %s\n", s.Sweep.ResumePolicy)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[回放引擎 (REPLAY)]")
	fmt.Fprintf(w, "  数据源: %s (%s)\n", s.Replay.Source, orDash(s.Replay.Detail))
	fmt.Fprintf(w, "  策略: %s  速度: %g\n", s.Replay.Strategy, s.Replay.Speed)
	fmt.Fprintf(w, "  起始: %s\n", orDash(s.Replay.StartAt))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[存储 (STORAGE)]")
	fmt.Fprintf(w, "  结果目录: %s\n", orDash(s.Storage.ResultsRoot))
	fmt.Fprintf(w, "  状态库: %s\n", orDash(s.Storage.StatePath))
	fmt.Fprintf(w, "  台账库: %s\n", orDash(s.Storage.LedgerPath))
	fmt.Fprintln(w, strings.Repeat("=", 80))
}

func orDash(v string) string {
	if strings.TrimSpace(v) == "" {
		return "-"
	}
	return v
}
