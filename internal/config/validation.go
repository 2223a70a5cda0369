package config

import (
	"fmt"
	"math"
	"strings"
	"time"

	"sweeper/internal/pkg/symbol"
	"sweeper/internal/scheduler"
	"sweeper/internal/sweep"
)

// validate 对配置进行基础校验；参数空间是否为空留给启动扫描时判断。
func validate(c *Config) error {
	if err := c.App.validate(); err != nil {
		return err
	}
	if err := c.Sweep.validate(); err != nil {
		return err
	}
	if err := c.Replay.validate(); err != nil {
		return err
	}
	if err := c.Log.validate(); err != nil {
		return err
	}
	return nil
}

func (a *AppConfig) validate() error {
	if a.TickInterval < 10*time.Millisecond {
		return fmt.Errorf("app.tick_interval must be >= 10ms")
	}
	return nil
}

func (s *SweepConfig) validate() error {
	if strings.TrimSpace(s.Identity) == "" {
		return fmt.Errorf("sweep.identity cannot be empty")
	}
	if s.MaxResumeAttempts < 0 {
		return fmt.Errorf("sweep.max_resume_attempts must be >= 0")
	}
	if s.ResumeInterval < 0 {
		return fmt.Errorf("sweep.resume_interval must be >= 0")
	}
	if s.MaxCombinations < 0 {
		return fmt.Errorf("sweep.max_combinations must be >= 0")
	}
	seen := make(map[int]bool, len(s.Params))
	names := make(map[string]int, len(s.Params))
	for i, p := range s.Params {
		if name := strings.TrimSpace(p.Name); name != "" {
			if prev, ok := names[name]; ok {
				return fmt.Errorf("sweep.params[%d].name %q duplicates sweep.params[%d]", i, name, prev)
			}
			names[name] = i
		}
		if p.Slot <= 0 {
			return fmt.Errorf("sweep.params[%d].slot must be > 0", i)
		}
		if seen[p.Slot] {
			return fmt.Errorf("sweep.params[%d] duplicates slot %d", i, p.Slot)
		}
		seen[p.Slot] = true
		if _, err := sweep.ParseKind(p.Type); err != nil {
			return fmt.Errorf("sweep.params[%d].type: %w", i, err)
		}
		for _, v := range []float64{p.Min, p.Max, p.Step} {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("sweep.params[%d] contains a non-finite bound", i)
			}
		}
	}
	return nil
}

func (r *ReplayConfig) validate() error {
	switch r.Source {
	case "csv":
		if strings.TrimSpace(r.CandlesPath) == "" {
			return fmt.Errorf("replay.candles_path is required when replay.source=csv")
		}
	case "binance":
		if strings.TrimSpace(r.Symbol) == "" {
			return fmt.Errorf("replay.symbol is required when replay.source=binance")
		}
		if !symbol.IsValid(r.Symbol) {
			return fmt.Errorf("replay.symbol %q is not a recognised pair", r.Symbol)
		}
		if _, ok := scheduler.ParseInterval(r.Interval); !ok {
			return fmt.Errorf("replay.interval %q is not a kline interval", r.Interval)
		}
	default:
		return fmt.Errorf("replay.source must be csv or binance, got %q", r.Source)
	}
	if _, err := r.StartAt(); err != nil {
		return err
	}
	return nil
}

func (l *LogConfig) validate() error {
	if l.MaxLines > 10000 {
		return fmt.Errorf("log.max_lines must be <= 10000")
	}
	return nil
}
